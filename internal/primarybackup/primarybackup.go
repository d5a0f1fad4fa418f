// Package primarybackup implements passive replication: a primary
// orders client requests, replicates them to every backup, and
// commits once a configured quorum of backups has acknowledged.
// Failover is optional and off by default; without it a dead primary
// simply stalls pending requests.
package primarybackup

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"dcsim/internal/node"
	"dcsim/internal/sim"
	"dcsim/internal/trace"
)

const (
	MsgReplicate = "REPLICATE"
	MsgAck       = "ACK"
	MsgHeartbeat = "HEARTBEAT"
)

const (
	heartbeatTimer = "pb-heartbeat"
	electionTimer  = "pb-election"
	rexmitPrefix   = "pb-rexmit/"
)

// Quorum selects how many backup ACKs a commit needs.
type Quorum int

const (
	// QuorumAll is strict synchronous replication: every configured
	// backup must acknowledge before the client sees a commit.
	QuorumAll Quorum = iota
	// QuorumMajority commits once a majority of the cluster (the
	// primary's own copy included) holds the entry.
	QuorumMajority
)

type Role string

const (
	RolePrimary Role = "PRIMARY"
	RoleBackup  Role = "BACKUP"
)

// Command is one replicated client request.
type Command struct {
	ClientID  int
	RequestID string
	Data      string
}

// LogEntry is a committed-log position.
type LogEntry struct {
	Seq int
	Cmd Command
}

type ReplicateBody struct {
	View int
	Seq  int
	Cmd  Command
}

type AckBody struct {
	View int
	Seq  int
}

type HeartbeatBody struct {
	View    int
	Primary int
}

// Options tune one cluster. Zero values pick defaults.
type Options struct {
	// Primary is the initial primary's node id. Negative means the
	// highest peer id, matching the bully convention failover uses.
	Primary int
	Quorum  Quorum
	// AutoFailover enables heartbeats and bully-style takeover. Off by
	// default: the deliberate behavior then is that a primary failure
	// stalls all pending requests.
	AutoFailover       bool
	HeartbeatInterval  float64
	ElectionTimeout    float64
	RetransmitInterval float64
}

func (o *Options) fill(peers []int) {
	if o.Primary < 0 {
		o.Primary = maxID(peers)
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 50
	}
	if o.ElectionTimeout <= 0 {
		o.ElectionTimeout = 150
	}
	if o.RetransmitInterval <= 0 {
		o.RetransmitInterval = 20
	}
}

type pendingReq struct {
	Cmd  Command
	Req  sim.Message // original client request, for the reply
	Acks map[int]bool
}

// Node is one replica.
type Node struct {
	*node.Node

	peers []int
	opts  Options
	sink  trace.Sink

	role    Role
	view    int
	primary int

	// log state (both roles)
	logEntries  []LogEntry
	lastApplied int

	// primary state
	nextSeq int
	pending map[int]*pendingReq
	commits int

	// backup state
	buffer map[int]Command // out-of-order REPLICATEs awaiting the gap fill
}

// New builds one replica. The node whose id matches the configured
// primary starts as primary in view 1; everyone else starts as backup.
func New(p node.Params, opts Options) *Node {
	opts.fill(p.Peers)
	sink := p.Sink
	if sink == nil {
		sink = trace.Nop{}
	}
	n := &Node{
		peers:   append([]int(nil), p.Peers...),
		opts:    opts,
		sink:    sink,
		view:    1,
		primary: opts.Primary,
		role:    RoleBackup,
		nextSeq: 1,
		pending: make(map[int]*pendingReq),
		buffer:  make(map[int]Command),
	}
	n.Node = node.New(p.ID, p.Scheduler, p.Network, p.Sink, n)
	if n.ID == opts.Primary {
		n.role = RolePrimary
		if opts.AutoFailover {
			n.broadcastHeartbeat()
		}
	} else if opts.AutoFailover {
		n.resetElectionTimer()
	}
	return n
}

// Role returns the replica's current role.
func (n *Node) Role() Role { return n.role }

// View returns the current view number.
func (n *Node) View() int { return n.view }

// Log returns a copy of the applied log.
func (n *Node) Log() []LogEntry {
	return append([]LogEntry(nil), n.logEntries...)
}

// Commits returns how many requests this node committed as primary.
func (n *Node) Commits() int { return n.commits }

// quorumNeeded is the number of backup ACKs required before a commit.
// The primary's own log copy counts toward a majority.
func (n *Node) quorumNeeded() int {
	backups := len(n.peers) - 1
	switch n.opts.Quorum {
	case QuorumMajority:
		need := len(n.peers)/2 + 1 - 1 // majority of the cluster minus our own copy
		if need > backups {
			need = backups
		}
		return need
	default:
		return backups
	}
}

func (n *Node) OnMessage(src int, msg sim.Message) error {
	switch msg.Type {
	case node.MsgRequest:
		body, ok := msg.Body.(node.RequestBody)
		if !ok {
			return badBody(n.ID, msg)
		}
		n.onRequest(msg, body)
	case MsgReplicate:
		body, ok := msg.Body.(ReplicateBody)
		if !ok {
			return badBody(n.ID, msg)
		}
		return n.onReplicate(src, body)
	case MsgAck:
		body, ok := msg.Body.(AckBody)
		if !ok {
			return badBody(n.ID, msg)
		}
		n.onAck(src, body)
	case MsgHeartbeat:
		body, ok := msg.Body.(HeartbeatBody)
		if !ok {
			return badBody(n.ID, msg)
		}
		n.onHeartbeat(body)
	default:
		return &node.ProtocolViolation{Node: n.ID, MsgType: msg.Type, Reason: "no handler"}
	}
	return nil
}

func (n *Node) OnTimer(timerID string) error {
	switch {
	case timerID == heartbeatTimer:
		if n.role == RolePrimary && n.opts.AutoFailover {
			n.broadcastHeartbeat()
		}
	case timerID == electionTimer:
		n.onElectionTimeout()
	case strings.HasPrefix(timerID, rexmitPrefix):
		seq, err := strconv.Atoi(strings.TrimPrefix(timerID, rexmitPrefix))
		if err != nil {
			return &node.ProtocolViolation{Node: n.ID, MsgType: timerID, Reason: "malformed retransmit timer"}
		}
		n.onRetransmit(seq)
	default:
		return &node.ProtocolViolation{Node: n.ID, MsgType: timerID, Reason: "unknown timer"}
	}
	return nil
}

// --- primary ---

func (n *Node) onRequest(msg sim.Message, body node.RequestBody) {
	if n.role != RolePrimary {
		// Not ours to order; hand it to the primary untouched so the
		// reply still reaches the client directly.
		n.Forward(n.primary, msg)
		return
	}
	seq := n.nextSeq
	n.nextSeq++
	cmd := Command(body)

	// The primary's own copy is applied immediately.
	n.logEntries = append(n.logEntries, LogEntry{Seq: seq, Cmd: cmd})
	n.lastApplied = seq

	n.pending[seq] = &pendingReq{Cmd: cmd, Req: msg, Acks: make(map[int]bool)}
	n.replicate(seq, cmd, nil)
	if err := n.SetTimer(n.opts.RetransmitInterval, rexmitPrefix+strconv.Itoa(seq)); err != nil {
		log.Printf("primarybackup %d: %v", n.ID, err)
	}

	if n.quorumNeeded() == 0 { // single-replica cluster
		n.commit(seq)
	}
}

func (n *Node) replicate(seq int, cmd Command, except map[int]bool) {
	for _, peer := range n.peers {
		if peer == n.ID || except[peer] {
			continue
		}
		n.Send(peer, MsgReplicate, ReplicateBody{View: n.view, Seq: seq, Cmd: cmd})
	}
}

func (n *Node) onAck(src int, body AckBody) {
	if n.role != RolePrimary || body.View != n.view {
		return
	}
	p, ok := n.pending[body.Seq]
	if !ok {
		return // already committed; duplicate ACK
	}
	p.Acks[src] = true
	if len(p.Acks) >= n.quorumNeeded() {
		n.commit(body.Seq)
	}
}

func (n *Node) commit(seq int) {
	p := n.pending[seq]
	if p == nil {
		return
	}
	delete(n.pending, seq)
	n.CancelTimer(rexmitPrefix + strconv.Itoa(seq))
	n.commits++
	n.Reply(p.Req, node.MsgReply, node.ReplyBody{RequestID: p.Cmd.RequestID, Status: node.StatusCommitted})
	n.sink.Record(trace.Event{
		Kind:      trace.RequestCommitted,
		Time:      n.Now(),
		Node:      n.ID,
		RequestID: p.Cmd.RequestID,
	})
}

func (n *Node) onRetransmit(seq int) {
	p, ok := n.pending[seq]
	if !ok || n.role != RolePrimary {
		return
	}
	// Re-send to backups that have not acknowledged; covers both lost
	// REPLICATEs and lost ACKs.
	n.replicate(seq, p.Cmd, p.Acks)
	if err := n.SetTimer(n.opts.RetransmitInterval, rexmitPrefix+strconv.Itoa(seq)); err != nil {
		log.Printf("primarybackup %d: %v", n.ID, err)
	}
}

func (n *Node) broadcastHeartbeat() {
	for _, peer := range n.peers {
		if peer != n.ID {
			n.Send(peer, MsgHeartbeat, HeartbeatBody{View: n.view, Primary: n.ID})
		}
	}
	if err := n.SetTimer(n.opts.HeartbeatInterval, heartbeatTimer); err != nil {
		log.Printf("primarybackup %d: %v", n.ID, err)
	}
}

// --- backup ---

func (n *Node) onReplicate(src int, body ReplicateBody) error {
	if body.View < n.view {
		return nil // stale primary
	}
	if body.View > n.view {
		n.adoptView(body.View, src)
	}
	if n.opts.AutoFailover {
		n.resetElectionTimer()
	}

	switch {
	case body.Seq < 1:
		return &node.ProtocolViolation{Node: n.ID, MsgType: MsgReplicate,
			Reason: fmt.Sprintf("seq %d out of range", body.Seq)}
	case body.Seq == n.lastApplied+1:
		n.apply(body.Seq, body.Cmd)
		n.Send(src, MsgAck, AckBody{View: n.view, Seq: body.Seq})
		// Drain anything buffered behind the gap we just filled,
		// acknowledging each entry as it applies.
		for {
			next, ok := n.buffer[n.lastApplied+1]
			if !ok {
				break
			}
			seq := n.lastApplied + 1
			delete(n.buffer, seq)
			n.apply(seq, next)
			n.Send(src, MsgAck, AckBody{View: n.view, Seq: seq})
		}
	case body.Seq > n.lastApplied+1:
		// Gap: hold the entry, stay silent, and let the primary's
		// retransmission deliver the missing ones.
		n.buffer[body.Seq] = body.Cmd
	default:
		// Already applied. A primary that took over without this entry
		// may reuse the seq for a different command; acknowledging that
		// would let it commit against a log that holds something else,
		// so a conflicting duplicate is refused instead of re-ACKed.
		if held := n.logEntries[body.Seq-1].Cmd; held != body.Cmd {
			return &node.ProtocolViolation{Node: n.ID, MsgType: MsgReplicate,
				Reason: fmt.Sprintf("seq %d already holds a different command", body.Seq)}
		}
		n.Send(src, MsgAck, AckBody{View: n.view, Seq: body.Seq})
	}
	return nil
}

func (n *Node) apply(seq int, cmd Command) {
	n.logEntries = append(n.logEntries, LogEntry{Seq: seq, Cmd: cmd})
	n.lastApplied = seq
}

func (n *Node) onHeartbeat(body HeartbeatBody) {
	if body.View < n.view {
		return // stale primary
	}
	if body.View == n.view && body.Primary != n.primary {
		// A rival claiming primacy in the current view; only a higher
		// view can change who we follow, otherwise two claimants would
		// have their followers flapping between them.
		return
	}
	if body.View > n.view {
		n.adoptView(body.View, body.Primary)
	}
	if n.opts.AutoFailover && n.role == RoleBackup {
		n.resetElectionTimer()
	}
}

func (n *Node) adoptView(view, primary int) {
	n.view = view
	n.primary = primary
	if n.role == RolePrimary && primary != n.ID {
		log.Printf("primarybackup %d: stepping down, view %d primary %d", n.ID, view, primary)
		n.role = RoleBackup
		n.CancelTimer(heartbeatTimer)
	}
}

// --- failover ---

func (n *Node) resetElectionTimer() {
	if err := n.SetTimer(n.opts.ElectionTimeout, electionTimer); err != nil {
		log.Printf("primarybackup %d: %v", n.ID, err)
	}
}

func (n *Node) onElectionTimeout() {
	if !n.opts.AutoFailover || n.role != RoleBackup {
		return
	}
	// Bully-style: the highest-id replica that is not the silent
	// primary takes over; everyone else keeps waiting.
	if n.ID == n.successor() {
		n.becomePrimary()
	} else {
		n.resetElectionTimer()
	}
}

func (n *Node) successor() int {
	ids := append([]int(nil), n.peers...)
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	for _, id := range ids {
		if id != n.primary {
			return id
		}
	}
	return n.ID
}

func (n *Node) becomePrimary() {
	n.view++
	n.role = RolePrimary
	n.primary = n.ID
	n.nextSeq = n.lastApplied + 1
	n.pending = make(map[int]*pendingReq)
	log.Printf("primarybackup %d: taking over as primary, view %d", n.ID, n.view)
	n.broadcastHeartbeat()
}

func maxID(ids []int) int {
	m := ids[0]
	for _, id := range ids {
		if id > m {
			m = id
		}
	}
	return m
}

func badBody(id int, msg sim.Message) error {
	return &node.ProtocolViolation{
		Node:    id,
		MsgType: msg.Type,
		Reason:  fmt.Sprintf("unexpected body %T", msg.Body),
	}
}
