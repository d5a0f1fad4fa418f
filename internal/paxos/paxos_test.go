package paxos

import (
	"fmt"
	"testing"

	"dcsim/internal/client"
	"dcsim/internal/network"
	"dcsim/internal/node"
	"dcsim/internal/sim"
)

type cluster struct {
	sched *sim.Scheduler
	net   *network.Network
	nodes []*Node
}

func newCluster(t *testing.T, size int, seed uint64, cfg network.Config, opts Options) *cluster {
	t.Helper()
	sim.Seed(seed)
	sched := sim.New(nil)
	net, err := network.New(sched, cfg, sim.NewRand("network"), nil)
	if err != nil {
		t.Fatalf("network: %v", err)
	}

	peers := make([]int, size)
	for i := range peers {
		peers[i] = i
	}
	c := &cluster{sched: sched, net: net}
	for _, id := range peers {
		c.nodes = append(c.nodes, New(node.Params{
			ID:        id,
			Peers:     peers,
			Scheduler: sched,
			Network:   net,
			Rand:      sim.NewRand(fmt.Sprintf("node-%d", id)),
		}, opts))
	}
	return c
}

func (c *cluster) newClient(t *testing.T, id, target, count int, interval float64) *client.Client {
	t.Helper()
	cl := client.New(node.Params{
		ID:        id,
		Scheduler: c.sched,
		Network:   c.net,
	}, client.Options{Target: target, Count: count, Interval: interval, Timeout: 500})
	cl.Start()
	return cl
}

func quietConfig() network.Config {
	return network.Config{
		BaseDelay:            1.0,
		SwitchProcessingTime: 0.05,
		SyncDelay:            5.0,
	}
}

func TestBallotOrdering(t *testing.T) {
	cases := []struct {
		a, b Ballot
		less bool
	}{
		{Ballot{1, 0}, Ballot{2, 0}, true},
		{Ballot{2, 0}, Ballot{1, 0}, false},
		{Ballot{1, 0}, Ballot{1, 1}, true},
		{Ballot{1, 1}, Ballot{1, 0}, false},
		{Ballot{1, 1}, Ballot{1, 1}, false},
		{Ballot{}, Ballot{0, 1}, true},
	}
	for _, tc := range cases {
		if got := tc.a.Less(tc.b); got != tc.less {
			t.Errorf("%v.Less(%v) = %v, want %v", tc.a, tc.b, got, tc.less)
		}
	}
	if !(Ballot{}).IsZero() {
		t.Error("zero ballot not IsZero")
	}
	if (Ballot{1, 0}).IsZero() {
		t.Error("nonzero ballot reported IsZero")
	}
}

func TestSingleRequestCommits(t *testing.T) {
	c := newCluster(t, 3, 1, quietConfig(), Options{})
	cl := c.newClient(t, 100, 2, 1, 1.0)

	if err := c.sched.Run(1000); err != nil {
		t.Fatalf("run: %v", err)
	}

	if cl.Replies() != 1 || cl.Aborts() != 0 {
		t.Fatalf("replies=%d aborts=%d, want 1/0", cl.Replies(), cl.Aborts())
	}
	lats := cl.Latencies()
	if len(lats) != 1 {
		t.Fatalf("latencies = %v, want one sample", lats)
	}
	// Request hop, three protocol rounds and the reply, each bounded by
	// the synchrony cap, plus slack for switch queueing.
	if lats[0] <= 0 || lats[0] > 40 {
		t.Fatalf("latency %v outside expected range", lats[0])
	}

	var want Command
	for i, n := range c.nodes {
		v, ok := n.Decided(0)
		if !ok {
			t.Fatalf("node %d has not decided slot 0", i)
		}
		if i == 0 {
			want = v
			continue
		}
		if v != want {
			t.Fatalf("node %d decided %v, node 0 decided %v", i, v, want)
		}
	}
}

func TestNackFastForwardsBallot(t *testing.T) {
	c := newCluster(t, 3, 2, quietConfig(), Options{})

	// Every acceptor already promised a high ballot to some phantom
	// proposer, so the first round is rejected everywhere.
	for _, n := range c.nodes {
		n.slot(0).Promised = Ballot{Counter: 10, NodeID: 99}
	}

	cl := c.newClient(t, 100, 0, 1, 1.0)
	if err := c.sched.Run(2000); err != nil {
		t.Fatalf("run: %v", err)
	}

	if cl.Replies() != 1 {
		t.Fatalf("replies = %d, want 1", cl.Replies())
	}
	if c.nodes[0].counter <= 10 {
		t.Fatalf("counter = %d, want fast-forwarded past 10", c.nodes[0].counter)
	}
}

func TestCompetingProposersAgree(t *testing.T) {
	c := newCluster(t, 3, 3, quietConfig(), Options{})

	// Two clients submit through different nodes at the same cadence,
	// forcing concurrent rounds for the same slots.
	cl0 := c.newClient(t, 100, 0, 5, 2.0)
	cl1 := c.newClient(t, 101, 1, 5, 2.0)

	if err := c.sched.Run(5000); err != nil {
		t.Fatalf("run: %v", err)
	}

	if cl0.Replies() != 5 || cl1.Replies() != 5 {
		t.Fatalf("replies = %d/%d, want 5/5", cl0.Replies(), cl1.Replies())
	}
	assertConsistentDecisions(t, c.nodes)
	if got := c.nodes[0].DecidedCount(); got != 10 {
		t.Fatalf("decided %d slots, want 10", got)
	}
}

func TestSafetyUnderLoss(t *testing.T) {
	cfg := quietConfig()
	cfg.Jitter = 0.2
	cfg.PacketLossRate = 0.25
	cfg.PSyncViolate = 0.02
	c := newCluster(t, 3, 4, cfg, Options{RoundTimeout: 30, BackoffBase: 5})

	cl0 := c.newClient(t, 100, 0, 10, 10.0)
	cl1 := c.newClient(t, 101, 1, 10, 10.0)

	if err := c.sched.Run(20000); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Liveness is best effort under 25% loss; safety is not. Every slot
	// decided by more than one node must carry the same value on all of
	// them.
	assertConsistentDecisions(t, c.nodes)
	if cl0.Replies()+cl1.Replies() == 0 {
		t.Fatal("nothing committed at all under loss")
	}
}

func assertConsistentDecisions(t *testing.T, nodes []*Node) {
	t.Helper()
	for slot := 0; slot < 64; slot++ {
		var value Command
		seen := false
		for i, n := range nodes {
			v, ok := n.Decided(slot)
			if !ok {
				continue
			}
			if !seen {
				value, seen = v, true
				continue
			}
			if v != value {
				t.Fatalf("slot %d: node %d decided %v, another node decided %v", slot, i, v, value)
			}
		}
	}
}
