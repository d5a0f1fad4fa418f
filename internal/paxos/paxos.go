// Package paxos implements a multi-instance Paxos node. Every node
// combines the three roles: it accepts and learns for all slots, and
// proposes the client requests queued at it. Safety rests entirely on
// the promise/ballot-comparison rule; liveness on round timeouts with
// randomized backoff.
package paxos

import (
	"fmt"
	"log"

	"dcsim/internal/node"
	"dcsim/internal/sim"
	"dcsim/internal/trace"
)

const (
	roundTimer = "paxos-round"
	retryTimer = "paxos-retry"
)

const (
	phasePrepare = 1
	phaseAccept  = 2
)

// Options tune the proposer. Zero values pick the defaults.
type Options struct {
	// RoundTimeout is how long a proposer waits for a quorum before
	// abandoning the round and retrying with a higher ballot.
	RoundTimeout float64
	// BackoffBase scales the randomized delay before a retry; the
	// actual delay is uniform in [BackoffBase, 2*BackoffBase). The
	// jitter keeps dueling proposers from livelocking in step.
	BackoffBase float64
}

func (o *Options) fill() {
	if o.RoundTimeout <= 0 {
		o.RoundTimeout = 50
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 5
	}
}

// acceptorSlot is the durable per-slot acceptor state.
type acceptorSlot struct {
	Promised Ballot
	Accepted *Proposal
}

// round is one in-flight proposal attempt.
type round struct {
	slot     int
	ballot   Ballot
	value    Command            // our candidate; may be displaced by an adopted value
	phase    int
	promises map[int]*Proposal // acceptor id -> accepted proposal it reported
	accepts  map[int]bool
}

// Node is one Paxos participant.
type Node struct {
	*node.Node

	peers  []int
	quorum int
	opts   Options
	rng    sim.Rand
	sink   trace.Sink

	// acceptor
	slots map[int]*acceptorSlot

	// learner
	decided  map[int]Proposal
	nextSlot int // lowest slot not known decided here

	// proposer
	counter  int                    // ballot counter high-water mark
	queue    []Command              // client commands awaiting a slot, arrival order
	requests map[string]sim.Message // request id -> original client message
	cur      *round
}

// New builds a Paxos node from cluster parameters. The quorum is a
// strict majority of the configured peer set.
func New(p node.Params, opts Options) *Node {
	opts.fill()
	sink := p.Sink
	if sink == nil {
		sink = trace.Nop{}
	}
	n := &Node{
		peers:    append([]int(nil), p.Peers...),
		quorum:   len(p.Peers)/2 + 1,
		opts:     opts,
		rng:      p.Rand,
		sink:     sink,
		slots:    make(map[int]*acceptorSlot),
		decided:  make(map[int]Proposal),
		requests: make(map[string]sim.Message),
	}
	n.Node = node.New(p.ID, p.Scheduler, p.Network, p.Sink, n)
	return n
}

// Decided reports the chosen value for a slot, if this node has
// learned one.
func (n *Node) Decided(slot int) (Command, bool) {
	p, ok := n.decided[slot]
	return p.Value, ok
}

// DecidedCount returns how many slots this node has learned.
func (n *Node) DecidedCount() int { return len(n.decided) }

func (n *Node) slot(i int) *acceptorSlot {
	s, ok := n.slots[i]
	if !ok {
		s = &acceptorSlot{}
		n.slots[i] = s
	}
	return s
}

// OnMessage routes by message type; acceptor, proposer and learner
// roles each own a subset of the types.
func (n *Node) OnMessage(src int, msg sim.Message) error {
	switch msg.Type {
	case node.MsgRequest:
		body, ok := msg.Body.(node.RequestBody)
		if !ok {
			return badBody(n.ID, msg)
		}
		n.onRequest(msg, body)
	case MsgPrepare:
		body, ok := msg.Body.(PrepareBody)
		if !ok {
			return badBody(n.ID, msg)
		}
		n.onPrepare(src, body)
	case MsgPromise:
		body, ok := msg.Body.(PromiseBody)
		if !ok {
			return badBody(n.ID, msg)
		}
		n.onPromise(src, body)
	case MsgNack:
		body, ok := msg.Body.(NackBody)
		if !ok {
			return badBody(n.ID, msg)
		}
		n.onNack(body)
	case MsgAccept:
		body, ok := msg.Body.(AcceptBody)
		if !ok {
			return badBody(n.ID, msg)
		}
		n.onAccept(src, body)
	case MsgAccepted:
		body, ok := msg.Body.(AcceptedBody)
		if !ok {
			return badBody(n.ID, msg)
		}
		n.onAccepted(src, body)
	case MsgDecide:
		body, ok := msg.Body.(DecideBody)
		if !ok {
			return badBody(n.ID, msg)
		}
		n.learn(body.Slot, Proposal{Ballot: body.Ballot, Value: body.Value})
	default:
		return &node.ProtocolViolation{Node: n.ID, MsgType: msg.Type, Reason: "no handler"}
	}
	return nil
}

func (n *Node) OnTimer(timerID string) error {
	switch timerID {
	case roundTimer:
		if n.cur == nil {
			return nil // decided or abandoned just before the timer fired
		}
		log.Printf("paxos %d: round timeout, slot %d ballot %s", n.ID, n.cur.slot, n.cur.ballot)
		n.cur = nil
		n.backoffRetry()
	case retryTimer:
		n.maybePropose()
	default:
		return &node.ProtocolViolation{Node: n.ID, MsgType: timerID, Reason: "unknown timer"}
	}
	return nil
}

// --- proposer ---

func (n *Node) onRequest(msg sim.Message, body node.RequestBody) {
	if _, dup := n.requests[body.RequestID]; dup {
		return // retransmitted request already queued or in flight
	}
	n.requests[body.RequestID] = msg
	n.queue = append(n.queue, Command(body))
	n.maybePropose()
}

func (n *Node) maybePropose() {
	if n.cur != nil || len(n.queue) == 0 {
		return
	}
	n.startRound()
}

func (n *Node) startRound() {
	n.counter++
	r := &round{
		slot:     n.nextSlot,
		ballot:   Ballot{Counter: n.counter, NodeID: n.ID},
		value:    n.queue[0],
		phase:    phasePrepare,
		promises: make(map[int]*Proposal),
		accepts:  make(map[int]bool),
	}
	n.cur = r
	for _, peer := range n.peers {
		n.Send(peer, MsgPrepare, PrepareBody{Slot: r.slot, Ballot: r.ballot})
	}
	if err := n.SetTimer(n.opts.RoundTimeout, roundTimer); err != nil {
		log.Printf("paxos %d: %v", n.ID, err)
	}
}

func (n *Node) onPromise(src int, body PromiseBody) {
	r := n.cur
	if r == nil || r.phase != phasePrepare || body.Slot != r.slot || body.Ballot != r.ballot {
		return // stale response from an earlier round
	}
	r.promises[src] = body.Accepted
	if len(r.promises) < n.quorum {
		return
	}

	// Safety rule: if any acceptor in the quorum already accepted a
	// value, we must carry the one with the highest ballot forward.
	value := r.value
	var highest Ballot
	for _, acc := range r.promises {
		if acc != nil && highest.Less(acc.Ballot) {
			highest = acc.Ballot
			value = acc.Value
		}
	}

	r.phase = phaseAccept
	for _, peer := range n.peers {
		n.Send(peer, MsgAccept, AcceptBody{Slot: r.slot, Ballot: r.ballot, Value: value})
	}
}

func (n *Node) onAccepted(src int, body AcceptedBody) {
	r := n.cur
	if r == nil || r.phase != phaseAccept || body.Slot != r.slot || body.Ballot != r.ballot {
		return
	}
	r.accepts[src] = true
	if len(r.accepts) < n.quorum {
		return
	}

	// Chosen. Learn locally first, then tell everyone else.
	n.CancelTimer(roundTimer)
	prop := Proposal{Ballot: r.ballot, Value: body.Value}
	slot := r.slot
	n.cur = nil
	n.learn(slot, prop)
	for _, peer := range n.peers {
		if peer != n.ID {
			n.Send(peer, MsgDecide, DecideBody{Slot: slot, Ballot: prop.Ballot, Value: prop.Value})
		}
	}
}

func (n *Node) onNack(body NackBody) {
	r := n.cur
	if r == nil || body.Slot != r.slot || body.Ballot != r.ballot {
		return
	}
	// Fast-forward past the competing ballot, then back off and retry.
	if n.counter < body.Promised.Counter {
		n.counter = body.Promised.Counter
	}
	n.cur = nil
	n.CancelTimer(roundTimer)
	n.backoffRetry()
}

func (n *Node) backoffRetry() {
	delay := n.opts.BackoffBase * (1 + n.rng.Float64())
	if err := n.SetTimer(delay, retryTimer); err != nil {
		log.Printf("paxos %d: %v", n.ID, err)
	}
}

// --- acceptor ---

func (n *Node) onPrepare(src int, body PrepareBody) {
	s := n.slot(body.Slot)
	if body.Ballot.Less(s.Promised) {
		n.Send(src, MsgNack, NackBody{Slot: body.Slot, Ballot: body.Ballot, Promised: s.Promised})
		return
	}
	s.Promised = body.Ballot
	n.Send(src, MsgPromise, PromiseBody{Slot: body.Slot, Ballot: body.Ballot, Accepted: s.Accepted})
}

func (n *Node) onAccept(src int, body AcceptBody) {
	s := n.slot(body.Slot)
	if body.Ballot.Less(s.Promised) {
		n.Send(src, MsgNack, NackBody{Slot: body.Slot, Ballot: body.Ballot, Promised: s.Promised})
		return
	}
	s.Promised = body.Ballot
	s.Accepted = &Proposal{Ballot: body.Ballot, Value: body.Value}
	n.Send(src, MsgAccepted, AcceptedBody{Slot: body.Slot, Ballot: body.Ballot, Value: body.Value})
}

// --- learner ---

func (n *Node) learn(slot int, prop Proposal) {
	if prev, ok := n.decided[slot]; ok {
		if prev.Value != prop.Value {
			// Must be impossible; if it ever fires the ballot rules
			// are broken.
			log.Printf("paxos %d: CONFLICTING DECISION slot %d: %v vs %v",
				n.ID, slot, prev.Value, prop.Value)
		}
		return
	}
	n.decided[slot] = prop
	for {
		if _, ok := n.decided[n.nextSlot]; !ok {
			break
		}
		n.nextSlot++
	}

	// If the chosen value is a request queued here, answer its client.
	if req, ok := n.requests[prop.Value.RequestID]; ok {
		n.Reply(req, node.MsgReply, node.ReplyBody{RequestID: prop.Value.RequestID, Status: node.StatusCommitted})
		delete(n.requests, prop.Value.RequestID)
		n.removeQueued(prop.Value)
		n.sink.Record(trace.Event{
			Kind:      trace.RequestCommitted,
			Time:      n.Now(),
			Node:      n.ID,
			RequestID: prop.Value.RequestID,
		})
	}

	// Anything still queued (including a command displaced by an
	// adopted value) goes for the next free slot.
	n.maybePropose()
}

func (n *Node) removeQueued(cmd Command) {
	for i, q := range n.queue {
		if q == cmd {
			n.queue = append(n.queue[:i], n.queue[i+1:]...)
			return
		}
	}
}

func badBody(id int, msg sim.Message) error {
	return &node.ProtocolViolation{
		Node:    id,
		MsgType: msg.Type,
		Reason:  fmt.Sprintf("unexpected body %T", msg.Body),
	}
}
