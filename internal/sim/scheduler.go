// Package sim is the discrete-event substrate: a virtual clock and a
// strictly ordered event queue. The whole simulation is logically
// single-threaded; only one handler runs at a time and it runs to
// completion, so nothing in this package takes a lock.
package sim

import (
	"container/heap"
	"fmt"
	"log"
	"math"

	"dcsim/internal/trace"
)

// Handler is what the scheduler dispatches events to. A node's state
// may only be mutated from inside these two calls.
type Handler interface {
	OnMessage(src int, msg Message)
	OnTimer(timerID string)
}

// eventQueue orders events by (time, insertion sequence). The sequence
// tie-break makes dispatch order identical to scheduling order for
// equal timestamps, which is what makes runs reproducible.
type eventQueue []*Event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].Time != q[j].Time {
		return q[i].Time < q[j].Time
	}
	return q[i].Seq < q[j].Seq
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x any) {
	ev := x.(*Event)
	ev.index = len(*q)
	*q = append(*q, ev)
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return ev
}

// Scheduler owns the virtual clock and the pending event set. It is
// the only component allowed to advance time or dispatch handlers.
type Scheduler struct {
	now      float64
	queue    eventQueue
	nextSeq  uint64
	handlers map[int]Handler
	sink     trace.Sink
}

// New returns an empty scheduler at time zero. A nil sink disables
// tracing.
func New(sink trace.Sink) *Scheduler {
	if sink == nil {
		sink = trace.Nop{}
	}
	return &Scheduler{
		handlers: make(map[int]Handler),
		sink:     sink,
	}
}

// Now returns the current virtual time.
func (s *Scheduler) Now() float64 { return s.now }

// Pending returns the number of events queued and not yet cancelled.
func (s *Scheduler) Pending() int {
	n := 0
	for _, ev := range s.queue {
		if !ev.cancelled {
			n++
		}
	}
	return n
}

// Register makes id dispatchable. Re-registering replaces the handler.
func (s *Scheduler) Register(id int, h Handler) {
	s.handlers[id] = h
}

// Deregister removes a node from the simulation. Pending and future
// events addressed to it are silently discarded, which is how a crash
// is modeled.
func (s *Scheduler) Deregister(id int) {
	delete(s.handlers, id)
}

// ScheduleMessage queues a MESSAGE delivery for msg.Dst after delay.
func (s *Scheduler) ScheduleMessage(delay float64, msg Message) (*Handle, error) {
	return s.schedule(delay, &Event{Target: msg.Dst, Kind: KindMessage, Msg: msg})
}

// ScheduleTimer queues a TIMER event for target after delay.
func (s *Scheduler) ScheduleTimer(delay float64, target int, timerID string) (*Handle, error) {
	return s.schedule(delay, &Event{Target: target, Kind: KindTimer, TimerID: timerID})
}

func (s *Scheduler) schedule(delay float64, ev *Event) (*Handle, error) {
	if delay < 0 || math.IsNaN(delay) {
		return nil, &SchedulingError{
			Op:     "schedule",
			Reason: fmt.Sprintf("negative delay %v for node %d", delay, ev.Target),
		}
	}
	ev.Time = s.now + delay
	ev.Seq = s.nextSeq
	s.nextSeq++
	heap.Push(&s.queue, ev)
	return &Handle{ev: ev}, nil
}

// Cancel removes a not-yet-dispatched event. The event keeps its queue
// slot as a tombstone and is skipped at pop time; heap order is
// untouched, so cancellation cannot perturb the dispatch sequence of
// the remaining events.
func (s *Scheduler) Cancel(h *Handle) {
	if h == nil || h.ev == nil {
		return
	}
	h.ev.cancelled = true
	h.ev = nil
}

// Run dispatches events in (time, sequence) order until the queue is
// empty or the next event lies beyond until. Handlers may schedule and
// cancel re-entrantly; anything they add competes for dispatch in
// later iterations of this same call, never synchronously.
func (s *Scheduler) Run(until float64) error {
	for s.queue.Len() > 0 {
		next := s.queue[0]
		if next.cancelled {
			heap.Pop(&s.queue)
			continue
		}
		if next.Time > until {
			return nil
		}
		ev := heap.Pop(&s.queue).(*Event)
		if ev.Time < s.now {
			return &SchedulingError{
				Op:     "run",
				Reason: fmt.Sprintf("clock would move backward: %v -> %v", s.now, ev.Time),
			}
		}
		s.now = ev.Time

		h, ok := s.handlers[ev.Target]
		if !ok {
			// Target crashed or was never registered; the event
			// evaporates, exactly like a packet to a dead host.
			if ev.Kind == KindMessage {
				log.Printf("sim: discarding %s %s for unregistered node %d at t=%.3f",
					ev.Kind, ev.Msg.Type, ev.Target, ev.Time)
			}
			continue
		}

		switch ev.Kind {
		case KindMessage:
			s.sink.Record(trace.Event{
				Kind:    trace.MessageDelivered,
				Time:    ev.Time,
				Src:     ev.Msg.Src,
				Dst:     ev.Msg.Dst,
				MsgType: ev.Msg.Type,
			})
			h.OnMessage(ev.Msg.Src, ev.Msg)
		case KindTimer:
			h.OnTimer(ev.TimerID)
		}
	}
	return nil
}
