package raft

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/codekitchen/glitch"
)

var simStart = time.Unix(0, 0)

func newCluster(t *testing.T, size int, commands uint64, cfg glitch.Configuration) *glitch.Simulator[Message, *Node, *Client] {
	t.Helper()
	nodes := make([]*Node, size)
	for i := range nodes {
		nodes[i] = NewNode(i, size)
	}
	clients := []*Client{NewClient(0, size, commands, 300*time.Millisecond)}
	sim, err := glitch.NewSimulator[Message](simStart, nodes, clients, cfg, Checker{})
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	return sim
}

func TestAppendNewEntries(t *testing.T) {
	cases := []struct {
		log, newEntries, expected []int
		newIdx                    int
	}{
		{
			log:        []int{1, 2, 3, 4, 5},
			newEntries: []int{4, 5, 6, 7, 8},
			newIdx:     3,
			expected:   []int{1, 2, 3, 4, 5, 6, 7, 8},
		},
		{
			log:        []int{1, 2, 3, 4, 5},
			newEntries: []int{4, 5},
			newIdx:     3,
			expected:   []int{1, 2, 3, 4, 5},
		},
	}
	for _, c := range cases {
		t.Run("", func(t *testing.T) {
			newLog := appendNewEntries(c.log, c.newIdx, c.newEntries)
			if !slices.Equal(c.expected, newLog) {
				t.Errorf("expected %v, got %v", c.expected, newLog)
			}
		})
	}
}

func TestElectsLeaderAndCommits(t *testing.T) {
	cfg := glitch.ReliableNetwork()
	cfg.Seed = 1
	cfg.MaxSimTime = 30 * time.Second

	sim := newCluster(t, 3, 3, cfg)
	res := sim.Run()
	if !res.Success {
		t.Fatalf("expected the cluster to commit all commands, got %v", res.Err)
	}

	// Every command the client saw acked must be committed somewhere.
	client := sim.Clients()[0]
	committed := make(map[uint64]bool)
	for _, rec := range sim.Nodes() {
		for _, entry := range rec.Node().Raft().CommittedLog() {
			committed[entry.Seq] = true
		}
	}
	for seq := uint64(1); seq <= 3; seq++ {
		if client.Acked(seq) && !committed[seq] {
			t.Errorf("command %d was acked but is committed nowhere", seq)
		}
	}
}

func TestLeaderFailover(t *testing.T) {
	cfg := glitch.ReliableNetwork()
	cfg.Seed = 5
	cfg.MaxSimTime = 30 * time.Second

	sim := newCluster(t, 3, 5, cfg)
	// Node 0 has the shortest election timeout and will hold the first
	// lead; crashing it forces a failover mid-workload.
	if err := sim.ForceCrash(2*time.Second, 2*time.Second, 0); err != nil {
		t.Fatalf("ForceCrash: %v", err)
	}
	res := sim.Run()
	if !res.Success {
		t.Fatalf("expected the cluster to ride out a leader crash, got %v", res.Err)
	}
	if res.Trace.Count(glitch.KindNodeDown) != 1 {
		t.Errorf("expected exactly the scripted crash, got %d", res.Trace.Count(glitch.KindNodeDown))
	}
}

func TestSafetyUnderFaults(t *testing.T) {
	linkMTBF := 2 * time.Second
	partMTBF := 5 * time.Second
	nodeMTBF := 3 * time.Second

	cfg := glitch.ReliableNetwork()
	cfg.Seed = 984927255
	cfg.MaxSimTime = 60 * time.Second
	cfg.Network.MaxMessageLatency = 50 * time.Millisecond
	cfg.Network.DuplicateProbability = 0.1
	cfg.Network.HoldProbability = 0.3
	cfg.Network.MeanTimeBetweenLinkFailures = &linkMTBF
	cfg.Network.MeanLinkRecoveryTime = 300 * time.Millisecond
	cfg.Network.MeanTimeBetweenPartitions = &partMTBF
	cfg.Network.MeanPartitionRecoveryTime = 500 * time.Millisecond
	cfg.Failure.MeanTimeBetweenFailures = &nodeMTBF
	cfg.Failure.MeanTimeToRecover = 500 * time.Millisecond

	run := func() glitch.Result {
		return newCluster(t, 3, 5, cfg).Run()
	}

	res := run()
	// Liveness is at the mercy of the fault schedule; safety is not. An
	// invariant violation or a panic is always a bug.
	if !res.Success {
		var liveness *glitch.LivenessError
		if !errors.As(res.Err, &liveness) {
			t.Fatalf("safety failure under faults (seed %d): %v", res.Seed, res.Err)
		}
	}

	res2 := run()
	if res.Trace.Hash() != res2.Trace.Hash() {
		t.Fatal("faulty raft runs must still be seed-reproducible")
	}
}
