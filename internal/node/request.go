package node

// The client-facing message surface shared by every protocol: clients
// submit RequestBody messages and get ReplyBody answers. Keeping these
// here lets a client drive Paxos and Primary-Backup identically.

const (
	MsgRequest = "REQUEST"
	MsgReply   = "REPLY"
)

const (
	StatusCommitted = "COMMITTED"
	StatusFailed    = "FAILED"
)

// RequestBody is a client command submission.
type RequestBody struct {
	ClientID  int
	RequestID string
	Data      string
}

// ReplyBody is the protocol's answer to a request.
type ReplyBody struct {
	RequestID string
	Status    string
}
