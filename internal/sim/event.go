package sim

import "fmt"

// Kind distinguishes the two things a node can be woken up for.
type Kind int

const (
	KindMessage Kind = iota
	KindTimer
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "MESSAGE"
	case KindTimer:
		return "TIMER"
	}
	return fmt.Sprintf("sim.Kind(%d)", int(k))
}

// Message is a simulated network message. It is always passed by
// value: once the network has scheduled it, nothing may alter or
// re-schedule it. A message is delivered exactly once or dropped
// before scheduling, never both.
type Message struct {
	Src  int
	Dst  int
	Type string
	Corr string // correlation id for request/reply pairing, may be empty
	Body any

	SendTime    float64
	DeliverTime float64
}

// Event is one queue entry. Events are created and owned by the
// Scheduler until dispatch, then handed to the target node for the
// duration of a single handler call.
type Event struct {
	Time   float64
	Seq    uint64 // insertion sequence, globally unique, strictly increasing
	Target int
	Kind   Kind

	Msg     Message // set when Kind == KindMessage
	TimerID string  // set when Kind == KindTimer

	index     int // heap bookkeeping
	cancelled bool
}

// Handle refers to a scheduled event and allows cancelling it.
// Cancelling twice, or after dispatch, is a no-op.
type Handle struct {
	ev *Event
}

// SchedulingError indicates a programming defect in the simulation:
// a negative delay, or the clock being asked to move backwards. It is
// fatal and must not be suppressed.
type SchedulingError struct {
	Op     string
	Reason string
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("sim: %s: %s", e.Op, e.Reason)
}
