package stream

import (
	"context"
	"sync"
	"time"
)

// Event kinds pushed to live subscribers.
const (
	KindRequestCreated = "request_created"
	KindStepChanged    = "step_changed"
	KindCommentAdded   = "comment_added"
)

// Event describes one request lifecycle change for the live feed.
type Event struct {
	Kind           string    `json:"kind"`
	RequestID      string    `json:"request_id"`
	OrganizationID string    `json:"organization_id"`
	Status         string    `json:"status"`
	StepID         string    `json:"step_id,omitempty"`
	StepStatus     string    `json:"step_status,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Stream fan-outs lifecycle events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
