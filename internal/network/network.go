// Package network turns logical sends into scheduled delivery events,
// injecting the faults a datacenter fabric would: latency jitter,
// switch serialization, packet loss and bounded-synchrony violations.
// All randomness comes from an injected seeded stream, so a run is
// reproducible end to end.
package network

import (
	"log"

	"dcsim/internal/sim"
	"dcsim/internal/trace"
)

const (
	// minDelay is the physical floor: a delivery is never instantaneous
	// and jitter must not drive the travel time to zero or below.
	minDelay = 0.1

	// A violated delivery is inflated to SyncDelay times a factor drawn
	// uniformly from [violationMin, violationMax).
	violationMin = 5.0
	violationMax = 10.0
)

// Network sits between nodes and the scheduler. Exactly one MESSAGE
// event is scheduled per non-dropped send, zero for a dropped one;
// the sender is never told about a drop.
type Network struct {
	sched *sim.Scheduler
	cfg   Config
	rng   sim.Rand
	sink  trace.Sink

	// linkFree tracks, per destination, when its switch port finishes
	// serializing the previous packet. Bursts to one node queue up.
	linkFree map[int]float64

	sent       int
	dropped    int
	violations int
}

// New validates cfg and returns a ready network. rng must not be nil;
// a nil sink disables tracing.
func New(sched *sim.Scheduler, cfg Config, rng sim.Rand, sink trace.Sink) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = trace.Nop{}
	}
	return &Network{
		sched:    sched,
		cfg:      cfg,
		rng:      rng,
		sink:     sink,
		linkFree: make(map[int]float64),
	}, nil
}

// Send is the fire-and-forget entry point used by protocol code.
func (n *Network) Send(src, dst int, msgType string, body any) {
	n.SendMessage(sim.Message{Src: src, Dst: dst, Type: msgType, Body: body})
}

// SendMessage schedules delivery of a fully formed message (the node
// layer uses this to carry correlation ids). Only Src, Dst, Type, Corr
// and Body are read; the timestamps are filled in here.
func (n *Network) SendMessage(msg sim.Message) {
	n.sent++
	now := n.sched.Now()

	if n.rng.Float64() < n.cfg.PacketLossRate {
		n.dropped++
		n.sink.Record(trace.Event{
			Kind:    trace.MessageDropped,
			Time:    now,
			Src:     msg.Src,
			Dst:     msg.Dst,
			MsgType: msg.Type,
		})
		return
	}

	// Travel time: base latency with uniform jitter, floored.
	travel := n.cfg.BaseDelay
	if n.cfg.Jitter > 0 {
		span := n.cfg.BaseDelay * n.cfg.Jitter
		travel += span * (2*n.rng.Float64() - 1)
	}
	if travel < minDelay {
		travel = minDelay
	}

	// Switch serialization: the packet waits until the destination
	// port is free, then occupies it for the processing time.
	start := now + travel
	if free := n.linkFree[msg.Dst]; free > start {
		start = free
	}
	delay := start + n.cfg.SwitchProcessingTime - now

	if n.rng.Float64() < n.cfg.PSyncViolate {
		// Asynchrony fault: the delivery blows through the synchrony
		// bound, the way a congested or rerouted path would.
		n.violations++
		delay = n.cfg.SyncDelay * (violationMin + (violationMax-violationMin)*n.rng.Float64())
		if delay <= n.cfg.SyncDelay {
			// Degenerate bound (SyncDelay == 0); still strictly exceed it.
			delay = n.cfg.SyncDelay + minDelay
		}
		n.sink.Record(trace.Event{
			Kind:    trace.SyncViolation,
			Time:    now,
			Src:     msg.Src,
			Dst:     msg.Dst,
			MsgType: msg.Type,
		})
	} else if delay > n.cfg.SyncDelay {
		// The bounded-synchrony assumption holds for this delivery.
		delay = n.cfg.SyncDelay
	}

	n.linkFree[msg.Dst] = now + delay
	msg.SendTime = now
	msg.DeliverTime = now + delay

	if _, err := n.sched.ScheduleMessage(delay, msg); err != nil {
		// delay is always positive here; reaching this is a defect.
		log.Printf("network: schedule failed: %v", err)
		return
	}
	n.sink.Record(trace.Event{
		Kind:    trace.MessageScheduled,
		Time:    now,
		Src:     msg.Src,
		Dst:     msg.Dst,
		MsgType: msg.Type,
	})
}

// Stats are the per-run packet counters.
type Stats struct {
	Sent       int
	Dropped    int
	Violations int
}

func (n *Network) Stats() Stats {
	return Stats{Sent: n.sent, Dropped: n.dropped, Violations: n.violations}
}
