// Package progress fans out job progress events to live subscribers.
//
// Each job has its own topic guarded by its own lock. Publish never blocks:
// every subscriber has a bounded buffer, and when it is full the oldest
// pending event is discarded to make room. Events for one job reach each
// subscriber in publish order. The last event per job is retained so that
// a subscriber arriving later starts from the current state.
//
// Events are advisory. The registry is the authoritative view of a job.
package progress

import (
	"sync"

	"github.com/jdziat/crewrun/pkg/core"
	"github.com/jdziat/crewrun/pkg/metrics"
)

// DefaultBufferSize is the per-subscriber buffer used when none is configured.
const DefaultBufferSize = 64

// Hub is a per-job publish/subscribe channel.
type Hub struct {
	mu         sync.Mutex
	topics     map[string]*topic
	bufferSize int
}

type topic struct {
	mu     sync.Mutex
	subs   []chan core.ProgressEvent
	last   *core.ProgressEvent
	closed bool
}

// Option configures a Hub.
type Option interface {
	apply(*Hub)
}

type optionFunc func(*Hub)

func (f optionFunc) apply(h *Hub) { f(h) }

// WithBufferSize sets the per-subscriber buffer. Values below 1 are ignored.
func WithBufferSize(n int) Option {
	return optionFunc(func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	})
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		topics:     make(map[string]*topic),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt.apply(h)
	}
	return h
}

func (h *Hub) topic(jobID string, create bool) *topic {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[jobID]
	if !ok && create {
		t = &topic{}
		h.topics[jobID] = t
	}
	return t
}

// Subscribe returns a channel receiving the job's events. If an event was
// already published for the job it is queued on the channel immediately.
// The channel is closed by Unsubscribe or Forget.
func (h *Hub) Subscribe(jobID string) <-chan core.ProgressEvent {
	ch := make(chan core.ProgressEvent, h.bufferSize)
	for {
		t := h.topic(jobID, true)
		t.mu.Lock()
		if t.closed {
			// Forgotten between lookup and lock; fetch the replacement.
			t.mu.Unlock()
			continue
		}
		if t.last != nil {
			ch <- *t.last
		}
		t.subs = append(t.subs, ch)
		t.mu.Unlock()

		metrics.Subscribers.Inc()
		return ch
	}
}

// Unsubscribe detaches and closes a channel returned by Subscribe. Unknown
// channels are ignored.
func (h *Hub) Unsubscribe(jobID string, ch <-chan core.ProgressEvent) {
	t := h.topic(jobID, false)
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, sub := range t.subs {
		if sub == ch {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			close(sub)
			metrics.Subscribers.Dec()
			return
		}
	}
}

// Publish records ev as the job's latest event and offers it to every
// subscriber without blocking.
func (h *Hub) Publish(jobID string, ev core.ProgressEvent) {
	ev.JobID = jobID
	t := h.topic(jobID, true)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = &ev
	for _, sub := range t.subs {
		deliver(sub, ev)
	}
}

// deliver sends ev, evicting the oldest buffered event when the buffer is
// full. The topic lock is held, so no other publisher competes for the slot.
func deliver(ch chan core.ProgressEvent, ev core.ProgressEvent) {
	select {
	case ch <- ev:
		return
	default:
	}

	select {
	case <-ch:
		metrics.ProgressDropped.Inc()
	default:
	}

	select {
	case ch <- ev:
	default:
		metrics.ProgressDropped.Inc()
	}
}

// Last returns the most recent event published for the job.
func (h *Hub) Last(jobID string) (core.ProgressEvent, bool) {
	t := h.topic(jobID, false)
	if t == nil {
		return core.ProgressEvent{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return core.ProgressEvent{}, false
	}
	return *t.last, true
}

// Counts returns the number of live subscribers per job, omitting jobs
// without any.
func (h *Hub) Counts() map[string]int {
	h.mu.Lock()
	topics := make(map[string]*topic, len(h.topics))
	for id, t := range h.topics {
		topics[id] = t
	}
	h.mu.Unlock()

	counts := make(map[string]int)
	for id, t := range topics {
		t.mu.Lock()
		if n := len(t.subs); n > 0 {
			counts[id] = n
		}
		t.mu.Unlock()
	}
	return counts
}

// Forget drops the job's retained event and closes its subscribers.
func (h *Hub) Forget(jobID string) {
	h.mu.Lock()
	t, ok := h.topics[jobID]
	delete(h.topics, jobID)
	h.mu.Unlock()
	if !ok {
		return
	}
	t.shutdown()
}

// Close closes every subscriber channel and forgets all jobs.
func (h *Hub) Close() {
	h.mu.Lock()
	topics := h.topics
	h.topics = make(map[string]*topic)
	h.mu.Unlock()

	for _, t := range topics {
		t.shutdown()
	}
}

func (t *topic) shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, sub := range t.subs {
		close(sub)
		metrics.Subscribers.Dec()
	}
	t.subs = nil
}
