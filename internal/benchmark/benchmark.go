// Package benchmark assembles complete simulations from a config and
// runs experiments: build scheduler, network, protocol nodes and
// clients, run to a horizon, optionally crash the lead node mid-run,
// and collect a result row.
package benchmark

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"dcsim/internal/client"
	"dcsim/internal/config"
	"dcsim/internal/metrics"
	"dcsim/internal/network"
	"dcsim/internal/node"
	"dcsim/internal/paxos"
	"dcsim/internal/primarybackup"
	"dcsim/internal/sim"
)

// Client node ids start well above protocol node ids.
const clientIDBase = 1000

// Result is one experiment's outcome.
type Result struct {
	RunID    string
	Protocol string

	NumNodes   int
	NumClients int
	PacketLoss float64
	BaseDelay  float64
	Crashed    bool

	Requests int
	Commits  int
	Aborts   int
	// CommitRate is commits over requests that reached a terminal
	// outcome; requests still pending at the horizon count neither way.
	CommitRate float64

	MessagesSent   int
	Dropped        int
	SyncViolations int

	// Duration is the virtual time actually consumed.
	Duration float64
	// ThroughputTPS is commits per simulated second.
	ThroughputTPS float64

	Latency metrics.LatencyStats

	Timestamp time.Time
}

// Registry wires the built-in protocols against cfg's tuning. The
// returned value is per-run state, never global.
func Registry(cfg config.Config) *node.Registry {
	reg := node.NewRegistry()
	reg.Register("paxos", func(p node.Params) (*node.Node, error) {
		pn := paxos.New(p, paxos.Options{
			RoundTimeout: cfg.Paxos.RoundTimeout,
			BackoffBase:  cfg.Paxos.BackoffBase,
		})
		return pn.Node, nil
	})
	reg.Register("primary_backup", func(p node.Params) (*node.Node, error) {
		quorum := primarybackup.QuorumAll
		if cfg.PrimaryBackup.Quorum == "majority" {
			quorum = primarybackup.QuorumMajority
		}
		pn := primarybackup.New(p, primarybackup.Options{
			Primary:            cfg.PrimaryBackup.Primary,
			Quorum:             quorum,
			AutoFailover:       cfg.PrimaryBackup.AutoFailover,
			HeartbeatInterval:  cfg.PrimaryBackup.HeartbeatInterval,
			ElectionTimeout:    cfg.PrimaryBackup.ElectionTimeout,
			RetransmitInterval: cfg.PrimaryBackup.RetransmitInterval,
		})
		return pn.Node, nil
	})
	return reg
}

// Run executes one experiment. With injectCrash set, the highest-id
// protocol node is deregistered a third of the way into the horizon,
// which models a leader crash.
func Run(cfg config.Config, reg *node.Registry, injectCrash bool) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	factory, err := reg.Lookup(cfg.Protocol)
	if err != nil {
		return Result{}, err
	}

	sim.Seed(cfg.Seed)
	collector := metrics.NewCollector()
	sched := sim.New(collector)
	net, err := network.New(sched, cfg.Network, sim.NewRand("network"), collector)
	if err != nil {
		return Result{}, err
	}

	ids := make([]int, cfg.NumNodes)
	for i := range ids {
		ids[i] = i
	}
	for _, id := range ids {
		if _, err := factory(node.Params{
			ID:        id,
			Peers:     ids,
			Scheduler: sched,
			Network:   net,
			Sink:      collector,
			Rand:      sim.NewRand(fmt.Sprintf("node-%d", id)),
		}); err != nil {
			return Result{}, fmt.Errorf("benchmark: build node %d: %w", id, err)
		}
	}

	// Clients talk to the highest-id node: the default primary for
	// primary-backup, and as good a proposer as any for paxos.
	target := ids[len(ids)-1]
	clients := make([]*client.Client, 0, cfg.NumClients)
	for i := 0; i < cfg.NumClients; i++ {
		c := client.New(node.Params{
			ID:        clientIDBase + i,
			Scheduler: sched,
			Network:   net,
			Sink:      collector,
		}, client.Options{
			Target:   target,
			Count:    cfg.RequestsPerClient,
			Interval: cfg.InterRequestTime,
			Timeout:  cfg.RequestTimeout,
		})
		c.Start()
		clients = append(clients, c)
	}

	horizon := cfg.Horizon()
	if injectCrash {
		if err := sched.Run(horizon / 3); err != nil {
			return Result{}, err
		}
		log.Printf("benchmark: crashing node %d at t=%.1f", target, sched.Now())
		sched.Deregister(target)
	}
	if err := sched.Run(horizon); err != nil {
		return Result{}, err
	}

	var latencies []float64
	requests := 0
	for _, c := range clients {
		requests += c.Sent()
		latencies = append(latencies, c.Latencies()...)
	}

	stats := net.Stats()
	res := Result{
		RunID:          uuid.New().String(),
		Protocol:       cfg.Protocol,
		NumNodes:       cfg.NumNodes,
		NumClients:     cfg.NumClients,
		PacketLoss:     cfg.Network.PacketLossRate,
		BaseDelay:      cfg.Network.BaseDelay,
		Crashed:        injectCrash,
		Requests:       requests,
		Commits:        collector.Commits,
		Aborts:         collector.Aborts,
		CommitRate:     collector.CommitRate(),
		MessagesSent:   stats.Sent,
		Dropped:        stats.Dropped,
		SyncViolations: stats.Violations,
		Duration:       sched.Now(),
		Latency:        metrics.Stats(latencies),
		Timestamp:      time.Now(),
	}
	if res.Duration > 0 {
		// Virtual time is in ms.
		res.ThroughputTPS = float64(res.Commits) / (res.Duration / 1000)
	}
	if math.IsNaN(res.ThroughputTPS) || math.IsInf(res.ThroughputTPS, 0) {
		res.ThroughputTPS = 0
	}
	return res, nil
}
