package glitch

import (
	"testing"
	"time"
)

func TestLinkKeyIsUndirected(t *testing.T) {
	if newLinkKey(Node(2), Node(1)) != newLinkKey(Node(1), Node(2)) {
		t.Fatal("link keys must normalize endpoint order")
	}
	if newLinkKey(Client(0), Node(3)) != newLinkKey(Node(3), Client(0)) {
		t.Fatal("client links must normalize too")
	}
	key := newLinkKey(Client(0), Node(0))
	if !key.a.IsNode() || !key.b.IsClient() {
		t.Fatalf("nodes order before clients, got %s, %s", key.a, key.b)
	}
}

func TestPartitionSparesClients(t *testing.T) {
	p := partitionState{active: true, groupOf: []int{0, 1, 1}}
	if !p.isPartitioned(Node(0), Node(1)) {
		t.Fatal("nodes in different groups must be partitioned")
	}
	if p.isPartitioned(Node(1), Node(2)) {
		t.Fatal("nodes in the same group must not be partitioned")
	}
	if p.isPartitioned(Client(0), Node(0)) || p.isPartitioned(Node(1), Client(0)) {
		t.Fatal("clients are never partitioned")
	}
	idle := partitionState{}
	if idle.isPartitioned(Node(0), Node(1)) {
		t.Fatal("no partition is active")
	}
}

func TestCrashAdmissionKeepsStrictMinority(t *testing.T) {
	cases := []struct {
		nodes     int
		down      int
		admitable bool
	}{
		{1, 0, false},
		{2, 0, false},
		{3, 0, true},
		{3, 1, false},
		{5, 0, true},
		{5, 1, true},
		{5, 2, false},
	}
	for _, c := range cases {
		nodes := make([]*echoNode, c.nodes)
		for i := range nodes {
			nodes[i] = newEchoNode(i)
		}
		sim := mustSim(t, nodes, []*pingClient{}, ReliableNetwork(), nil)
		for i := 0; i < c.down; i++ {
			sim.nodes[i].down = true
		}
		if got := sim.canAdmitFailure(); got != c.admitable {
			t.Errorf("n=%d down=%d: admit=%v, want %v", c.nodes, c.down, got, c.admitable)
		}
	}
}

func TestHeldMessagesReleaseOnRecovery(t *testing.T) {
	cfg := ReliableNetwork()
	cfg.Seed = 31
	cfg.MaxSimTime = 5 * time.Second
	cfg.Network.MinMessageLatency = time.Millisecond
	cfg.Network.MaxMessageLatency = 5 * time.Millisecond

	target := newEchoNode(0)
	nodes := []DeterministicNode[testMsg]{
		target,
		&chatterNode{id: Node(1), peer: Node(0)},
	}
	clients := []DeterministicClient[testMsg]{
		&timedClient{id: Client(0), deadline: simStart.Add(3 * time.Second)},
	}
	sim := mustSim(t, nodes, clients, cfg, nil)

	// Drive the hold path directly: start the link in the holding state the
	// way a sampled failure with a hold coin would leave it, recovering
	// after one second.
	key := newLinkKey(Node(0), Node(1))
	sim.links[key] = &link[testMsg]{key: key, status: linkHolding}
	sim.queue.push(simStart.Add(time.Second), linkTransitionEvent{key: key, up: true})

	res := sim.Run()
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}

	holds := res.Trace.Count(KindHold)
	if holds == 0 {
		t.Fatal("expected the chatter to be held while the link held traffic")
	}
	// Every held message is released at recovery and eventually delivered.
	held := make(map[int]bool)
	for _, r := range res.Trace.Records() {
		if r.Kind == KindHold {
			held[r.MsgID] = true
		}
	}
	for id := range held {
		if res.Trace.DeliveriesOf(id) != 1 {
			t.Fatalf("held message %d should be delivered exactly once after recovery", id)
		}
	}
}
