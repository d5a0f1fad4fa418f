// Package trace is the observability surface of the simulator core.
// The scheduler, network and protocol nodes emit Events into a Sink;
// external collectors (metrics, benchmark tooling) subscribe by
// implementing Sink. The core itself never formats or writes these
// events anywhere.
package trace

import "fmt"

// Kind identifies what happened.
type Kind int

const (
	MessageScheduled Kind = iota // a send was accepted and a delivery scheduled
	MessageDelivered             // a delivery event was dispatched to its target
	MessageDropped               // a send was discarded by the loss model
	SyncViolation                // a delivery delay was inflated past the synchrony bound
	RequestCommitted             // a protocol node committed a client request
	RequestAborted               // a client gave up on a request (timeout)
	ProtocolViolation            // a node received input it could not apply
)

func (k Kind) String() string {
	switch k {
	case MessageScheduled:
		return "message_scheduled"
	case MessageDelivered:
		return "message_delivered"
	case MessageDropped:
		return "message_dropped"
	case SyncViolation:
		return "sync_violation"
	case RequestCommitted:
		return "request_committed"
	case RequestAborted:
		return "request_aborted"
	case ProtocolViolation:
		return "protocol_violation"
	}
	return fmt.Sprintf("trace.Kind(%d)", int(k))
}

// Event is one observable occurrence inside a run. Fields that do not
// apply to a given Kind are left zero.
type Event struct {
	Kind      Kind
	Time      float64 // virtual time of the occurrence
	Src       int     // sender, for message events
	Dst       int     // receiver, for message events
	Node      int     // acting node, for commit/violation events
	MsgType   string
	RequestID string
	Detail    string
}

// Sink receives trace events. Implementations must not retain the
// event past the call unless they copy it; they must not call back
// into the simulation.
type Sink interface {
	Record(ev Event)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(Event) {}

// Multi fans an event out to several sinks in order.
type Multi []Sink

func (m Multi) Record(ev Event) {
	for _, s := range m {
		s.Record(ev)
	}
}
