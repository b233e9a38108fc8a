package echo

import (
	"errors"
	"testing"
	"time"

	"github.com/codekitchen/glitch"
)

var simStart = time.Unix(0, 0)

func newSim(t *testing.T, cfg glitch.Configuration, requests uint64, withRetries bool) *glitch.Simulator[Message, *Server, *Client] {
	t.Helper()
	sim, err := glitch.NewSimulator[Message](
		simStart,
		[]*Server{NewServer(0)},
		[]*Client{NewClient(0, 0, requests, 200*time.Millisecond, withRetries)},
		cfg,
		Checker{},
	)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	return sim
}

func TestReliableNetwork(t *testing.T) {
	cfg := glitch.ReliableNetwork()
	cfg.Seed = 1
	cfg.MaxSimTime = 30 * time.Second
	res := newSim(t, cfg, 10, false).Run()
	if !res.Success {
		t.Fatalf("echo over a reliable network must finish, got %v", res.Err)
	}
}

func TestLinkOutageWithoutRetries(t *testing.T) {
	cfg := glitch.ReliableNetwork()
	cfg.Seed = 1
	cfg.MaxSimTime = 10 * time.Second

	sim := newSim(t, cfg, 20, false)
	if err := sim.ForceLinkDown(300*time.Millisecond, time.Second, glitch.Client(0), glitch.Node(0)); err != nil {
		t.Fatalf("ForceLinkDown: %v", err)
	}
	res := sim.Run()
	if res.Success {
		t.Fatal("a client without retries cannot survive a link outage")
	}
	var liveness *glitch.LivenessError
	if !errors.As(res.Err, &liveness) {
		t.Fatalf("expected a liveness failure, got %v", res.Err)
	}
}

func TestLinkOutageWithRetries(t *testing.T) {
	cfg := glitch.ReliableNetwork()
	cfg.Seed = 1
	cfg.MaxSimTime = 30 * time.Second

	sim := newSim(t, cfg, 20, true)
	if err := sim.ForceLinkDown(300*time.Millisecond, time.Second, glitch.Client(0), glitch.Node(0)); err != nil {
		t.Fatalf("ForceLinkDown: %v", err)
	}
	res := sim.Run()
	if !res.Success {
		t.Fatalf("retries should ride out a link outage, got %v", res.Err)
	}
}

func TestUnreliableNetworkWithRetries(t *testing.T) {
	cfg := glitch.DefaultConfiguration()
	cfg.Seed = 1
	cfg.MaxSimTime = 30 * time.Second
	res := newSim(t, cfg, 10, true).Run()
	if !res.Success {
		t.Fatalf("expected the retrying client to finish despite faults, got %v", res.Err)
	}
}

func TestSeedsReproduce(t *testing.T) {
	run := func() glitch.Result {
		cfg := glitch.DefaultConfiguration()
		cfg.Seed = 1467
		cfg.MaxSimTime = 10 * time.Second
		return newSim(t, cfg, 5, true).Run()
	}
	r1, r2 := run(), run()
	if r1.Trace.Hash() != r2.Trace.Hash() {
		t.Fatal("identical seeds must produce identical event logs")
	}
}
