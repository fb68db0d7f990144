// Package feed carries job change events to subscribers: the SSE endpoint
// in-process and, optionally, other processes through Redis pub/sub.
package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonathan/conciliation-filer/internal/types"
)

// EventType tags an Event.
type EventType string

const (
	EventJob EventType = "job"
	EventLog EventType = "log"
)

// Event is one change to a job: a new job snapshot or an appended log entry.
type Event struct {
	Type        EventType       `json:"type"`
	JobID       string          `json:"job_id"`
	RequesterID string          `json:"requester_id"`
	Job         *types.Job      `json:"job,omitempty"`
	Log         *types.LogEntry `json:"log,omitempty"`
	At          time.Time       `json:"at"`
}

// Terminal reports whether the event carries a job in a terminal state.
func (e Event) Terminal() bool {
	return e.Type == EventJob && e.Job != nil && e.Job.Status.Terminal()
}

// Publisher accepts events. Publish never blocks on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Source opens a live stream of one job's events. The returned func ends the
// stream and must be called.
type Source interface {
	Open(ctx context.Context, jobID string) (<-chan Event, func(), error)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Multi fans an event out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, ev)
		}
	}
}

// DefaultBuffer is the per-subscriber channel size.
const DefaultBuffer = 64

type subscriber struct {
	ch chan Event
}

// Broker fans events out to in-process subscribers of a job.
// A subscriber whose buffer is full misses events rather than stalling the job.
type Broker struct {
	mu      sync.Mutex
	subs    map[string]map[*subscriber]struct{}
	dropped atomic.Int64
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers for events of jobID. The returned cancel func must be
// called to release the subscription; it closes the channel.
func (b *Broker) Subscribe(jobID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	set, ok := b.subs[jobID]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.subs[jobID] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[jobID]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(b.subs, jobID)
				}
			}
			close(s.ch)
		})
	}
	return s.ch, cancel
}

// Publish implements Publisher.
func (b *Broker) Publish(_ context.Context, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[ev.JobID] {
		select {
		case s.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Open implements Source over the in-process subscribers.
func (b *Broker) Open(_ context.Context, jobID string) (<-chan Event, func(), error) {
	ch, cancel := b.Subscribe(jobID, DefaultBuffer)
	return ch, cancel, nil
}

// Subscribers counts live subscriptions for jobID.
func (b *Broker) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

// Dropped counts events lost to full subscriber buffers.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
