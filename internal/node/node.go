// Package node provides the actor base every protocol builds on: the
// send primitives, the timer table, and the continuation machinery
// that fakes blocking calls on top of the event loop.
package node

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"dcsim/internal/network"
	"dcsim/internal/sim"
	"dcsim/internal/trace"
)

const syncTimerPrefix = "sync/"

// ErrSyncTimeout is handed to a SyncSend continuation when the reply
// did not arrive within the timeout.
var ErrSyncTimeout = errors.New("node: sync send timed out")

// ProtocolViolation reports input a protocol has no handler for, or
// received in a state that does not expect it. It is recorded and the
// offending event is not applied; the run continues, the same way a
// real node shrugs off garbage input.
type ProtocolViolation struct {
	Node    int
	MsgType string
	Reason  string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("node %d: protocol violation on %q: %s", e.Node, e.MsgType, e.Reason)
}

// Protocol is the extension seam. Implementations mutate their state
// only inside these two calls. Returning a *ProtocolViolation records
// the event as unapplied; any other error is treated the same way but
// logged more loudly.
type Protocol interface {
	OnMessage(src int, msg sim.Message) error
	OnTimer(timerID string) error
}

type pendingCall struct {
	timer *sim.Handle
	done  func(reply sim.Message, err error)
}

// Node is the base actor. Protocol types embed *Node and are handed to
// New as their own Protocol implementation.
type Node struct {
	ID int

	sched *sim.Scheduler
	net   *network.Network
	sink  trace.Sink
	proto Protocol

	timers  map[string]*sim.Handle
	pending map[string]pendingCall // correlation id -> continuation

	MessagesSent     int
	MessagesReceived int
}

// New wires a node into the scheduler and returns the base. The node
// is registered immediately; events can target it as soon as the run
// starts.
func New(id int, sched *sim.Scheduler, net *network.Network, sink trace.Sink, proto Protocol) *Node {
	if sink == nil {
		sink = trace.Nop{}
	}
	n := &Node{
		ID:      id,
		sched:   sched,
		net:     net,
		sink:    sink,
		proto:   proto,
		timers:  make(map[string]*sim.Handle),
		pending: make(map[string]pendingCall),
	}
	sched.Register(id, n)
	return n
}

// Now returns the current virtual time.
func (n *Node) Now() float64 { return n.sched.Now() }

// Send fires a message at dst and forgets about it. Loss is silent;
// only the protocol's own timeouts can detect it.
func (n *Node) Send(dst int, msgType string, body any) {
	n.MessagesSent++
	n.net.SendMessage(sim.Message{Src: n.ID, Dst: dst, Type: msgType, Body: body})
}

// Reply answers req, echoing its correlation id so a pending SyncSend
// on the requester resumes.
func (n *Node) Reply(req sim.Message, msgType string, body any) {
	n.MessagesSent++
	n.net.SendMessage(sim.Message{Src: n.ID, Dst: req.Src, Type: msgType, Corr: req.Corr, Body: body})
}

// Forward re-sends req to dst unchanged, keeping the original sender
// and correlation id, so the eventual reply still reaches the
// requester directly.
func (n *Node) Forward(dst int, req sim.Message) {
	n.MessagesSent++
	n.net.SendMessage(sim.Message{Src: req.Src, Dst: dst, Type: req.Type, Corr: req.Corr, Body: req.Body})
}

// SyncSend emulates a blocking request/reply without ever blocking:
// it files a continuation under a fresh correlation id, sends the
// message, and arms a timeout timer. The continuation runs later, from
// an independent delivery or timer event; the calling handler always
// returns normally first, and done is never invoked synchronously.
// A bad timeout is reported as an error, with nothing sent and no
// continuation filed. The correlation id is returned for logging.
func (n *Node) SyncSend(dst int, msgType string, body any, timeout float64, done func(reply sim.Message, err error)) (string, error) {
	corr := uuid.New().String()
	h, err := n.sched.ScheduleTimer(timeout, n.ID, syncTimerPrefix+corr)
	if err != nil {
		return "", err
	}
	n.pending[corr] = pendingCall{timer: h, done: done}
	n.MessagesSent++
	n.net.SendMessage(sim.Message{Src: n.ID, Dst: dst, Type: msgType, Corr: corr, Body: body})
	return corr, nil
}

// SetTimer arms timerID to fire after delay. At most one timer per id
// is active: re-setting cancels the previous instance first.
func (n *Node) SetTimer(delay float64, timerID string) error {
	if prev, ok := n.timers[timerID]; ok {
		n.sched.Cancel(prev)
	}
	h, err := n.sched.ScheduleTimer(delay, n.ID, timerID)
	if err != nil {
		return err
	}
	n.timers[timerID] = h
	return nil
}

// CancelTimer disarms timerID. Cancelling an unknown or already-fired
// timer is a benign no-op.
func (n *Node) CancelTimer(timerID string) {
	if h, ok := n.timers[timerID]; ok {
		n.sched.Cancel(h)
		delete(n.timers, timerID)
	}
}

// OnMessage implements sim.Handler. Correlated replies resume their
// continuation and are consumed here; everything else goes to the
// protocol.
func (n *Node) OnMessage(src int, msg sim.Message) {
	n.MessagesReceived++
	if msg.Corr != "" {
		if p, ok := n.pending[msg.Corr]; ok {
			delete(n.pending, msg.Corr)
			n.sched.Cancel(p.timer)
			p.done(msg, nil)
			return
		}
	}
	if err := n.proto.OnMessage(src, msg); err != nil {
		n.reportViolation(msg.Type, err)
	}
}

// OnTimer implements sim.Handler.
func (n *Node) OnTimer(timerID string) {
	if corr, ok := strings.CutPrefix(timerID, syncTimerPrefix); ok {
		if p, ok := n.pending[corr]; ok {
			delete(n.pending, corr)
			p.done(sim.Message{}, ErrSyncTimeout)
		}
		return
	}
	delete(n.timers, timerID) // fired, handle is spent
	if err := n.proto.OnTimer(timerID); err != nil {
		n.reportViolation("timer:"+timerID, err)
	}
}

func (n *Node) reportViolation(what string, err error) {
	log.Printf("node %d: unapplied event %q: %v", n.ID, what, err)
	n.sink.Record(trace.Event{
		Kind:    trace.ProtocolViolation,
		Time:    n.sched.Now(),
		Node:    n.ID,
		MsgType: what,
		Detail:  err.Error(),
	})
}
