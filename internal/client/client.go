// Package client is the workload generator: a node that submits a
// paced stream of requests through SyncSend and measures what comes
// back. It drives Paxos and Primary-Backup clusters identically.
package client

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"dcsim/internal/node"
	"dcsim/internal/sim"
	"dcsim/internal/trace"
)

const requestTimer = "client-request"

// Options shape the request stream.
type Options struct {
	// Target is the node requests are submitted to.
	Target int
	// Count is how many requests to send in total.
	Count int
	// Interval is the virtual time between submissions.
	Interval float64
	// Timeout is how long to wait for a reply before counting the
	// request as aborted. The request is not retried.
	Timeout float64
}

func (o *Options) fill() {
	if o.Count <= 0 {
		o.Count = 1
	}
	if o.Interval <= 0 {
		o.Interval = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 100
	}
}

// Client is a workload node.
type Client struct {
	*node.Node

	opts Options
	sink trace.Sink

	sent      int
	replies   int
	aborts    int
	latencies []float64
}

func New(p node.Params, opts Options) *Client {
	opts.fill()
	sink := p.Sink
	if sink == nil {
		sink = trace.Nop{}
	}
	c := &Client{opts: opts, sink: sink}
	c.Node = node.New(p.ID, p.Scheduler, p.Network, p.Sink, c)
	return c
}

// Start schedules the first request. Call once, before the run.
func (c *Client) Start() {
	if err := c.SetTimer(c.opts.Interval, requestTimer); err != nil {
		log.Printf("client %d: %v", c.ID, err)
	}
}

// Sent, Replies, Aborts and Latencies expose the run's outcome.
func (c *Client) Sent() int    { return c.sent }
func (c *Client) Replies() int { return c.replies }
func (c *Client) Aborts() int  { return c.aborts }

func (c *Client) Latencies() []float64 {
	return append([]float64(nil), c.latencies...)
}

func (c *Client) OnTimer(timerID string) error {
	if timerID != requestTimer {
		return &node.ProtocolViolation{Node: c.ID, MsgType: timerID, Reason: "unknown timer"}
	}
	c.sendRequest()
	if c.sent < c.opts.Count {
		return c.SetTimer(c.opts.Interval, requestTimer)
	}
	return nil
}

func (c *Client) sendRequest() {
	c.sent++
	id := uuid.New().String()
	body := node.RequestBody{
		ClientID:  c.ID,
		RequestID: id,
		Data:      fmt.Sprintf("op-%d", c.sent),
	}
	start := c.Now()
	_, err := c.SyncSend(c.opts.Target, node.MsgRequest, body, c.opts.Timeout, func(reply sim.Message, err error) {
		if err != nil {
			c.aborts++
			c.sink.Record(trace.Event{
				Kind:      trace.RequestAborted,
				Time:      c.Now(),
				Node:      c.ID,
				RequestID: id,
				Detail:    err.Error(),
			})
			return
		}
		if rb, ok := reply.Body.(node.ReplyBody); !ok || rb.Status != node.StatusCommitted {
			c.aborts++
			c.sink.Record(trace.Event{
				Kind:      trace.RequestAborted,
				Time:      c.Now(),
				Node:      c.ID,
				RequestID: id,
				Detail:    "request rejected",
			})
			return
		}
		c.replies++
		c.latencies = append(c.latencies, c.Now()-start)
	})
	if err != nil {
		// Options.fill guarantees a positive timeout, so this is a defect.
		log.Printf("client %d: request %s not sent: %v", c.ID, id, err)
		c.aborts++
	}
}

// OnMessage sees only uncorrelated traffic: replies that arrived after
// their timeout already fired. They are ignored rather than reported;
// a late reply is an expected outcome of a lossy, jittery network.
func (c *Client) OnMessage(src int, msg sim.Message) error {
	if msg.Type == node.MsgReply {
		return nil
	}
	return &node.ProtocolViolation{Node: c.ID, MsgType: msg.Type, Reason: "no handler"}
}
