package paxos

import "fmt"

// Wire message types.
const (
	MsgPrepare  = "PREPARE"
	MsgPromise  = "PROMISE"
	MsgNack     = "NACK"
	MsgAccept   = "ACCEPT"
	MsgAccepted = "ACCEPTED"
	MsgDecide   = "DECIDE"
)

// Ballot is a globally unique, totally ordered proposal identifier:
// (counter, node id) compared lexicographically. A zero Counter means
// "no ballot yet".
type Ballot struct {
	Counter int
	NodeID  int
}

func (b Ballot) Less(o Ballot) bool {
	if b.Counter != o.Counter {
		return b.Counter < o.Counter
	}
	return b.NodeID < o.NodeID
}

func (b Ballot) IsZero() bool { return b.Counter == 0 }

func (b Ballot) String() string {
	return fmt.Sprintf("(%d,%d)", b.Counter, b.NodeID)
}

// Command is the value consensus runs over: one client request.
// All fields are comparable, so commands can be compared with == .
type Command struct {
	ClientID  int
	RequestID string
	Data      string
}

// Proposal pairs a command with the ballot it was accepted under.
type Proposal struct {
	Ballot Ballot
	Value  Command
}

type PrepareBody struct {
	Slot   int
	Ballot Ballot
}

type PromiseBody struct {
	Slot   int
	Ballot Ballot
	// Accepted is the highest-ballot proposal this acceptor has
	// accepted for the slot, nil if none. The proposer must adopt the
	// highest one reported by its quorum.
	Accepted *Proposal
}

// NackBody rejects a PREPARE or ACCEPT, reporting the promised ballot
// so the proposer can fast-forward its counter.
type NackBody struct {
	Slot     int
	Ballot   Ballot // the ballot being rejected
	Promised Ballot
}

type AcceptBody struct {
	Slot   int
	Ballot Ballot
	Value  Command
}

type AcceptedBody struct {
	Slot   int
	Ballot Ballot
	Value  Command
}

// DecideBody tells learners a slot is chosen.
type DecideBody struct {
	Slot   int
	Ballot Ballot
	Value  Command
}
