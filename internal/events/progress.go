// Package events relays directory listing progress from a worker to the
// transport serving the requesting client.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/fruitsalade/bitflow/internal/metrics"
	"github.com/fruitsalade/bitflow/pkg/models"
)

// DefaultBuffer is the number of events a stream holds before Emit blocks.
const DefaultBuffer = 16

// ErrStreamClosed is returned by Emit after the consumer went away.
var ErrStreamClosed = errors.New("progress stream closed")

// Stream carries the events of one listing run to one consumer. The
// producer calls Emit and then Finish; the consumer reads Events and
// closes the stream through its Hub when it stops reading.
type Stream struct {
	path     string
	ch       chan models.ProgressEvent
	closed   chan struct{}
	finish   sync.Once
	shutdown sync.Once
}

// Path returns the logical path being listed.
func (s *Stream) Path() string { return s.path }

// Events returns the channel the consumer reads. It is closed by Finish.
func (s *Stream) Events() <-chan models.ProgressEvent { return s.ch }

// Emit hands ev to the consumer. A slow consumer delays the producer;
// events are never dropped. Emit fails once ctx is done or the consumer
// closed the stream.
func (s *Stream) Emit(ctx context.Context, ev models.ProgressEvent) error {
	select {
	case <-s.closed:
		return ErrStreamClosed
	default:
	}
	select {
	case s.ch <- ev:
		metrics.RecordProgressEvent(string(ev.Event))
		return nil
	case <-s.closed:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EventFunc binds Emit to ctx for use as a lister callback.
func (s *Stream) EventFunc(ctx context.Context) func(models.ProgressEvent) error {
	return func(ev models.ProgressEvent) error {
		return s.Emit(ctx, ev)
	}
}

// Finish marks the end of production. Only the producer may call it.
func (s *Stream) Finish() {
	s.finish.Do(func() { close(s.ch) })
}

// Hub tracks the progress streams that are currently open.
type Hub struct {
	mu      sync.RWMutex
	streams map[*Stream]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		streams: make(map[*Stream]struct{}),
	}
}

// Open creates a stream for a listing of path. The caller must call Close
// when done reading.
func (h *Hub) Open(path string, buffer int) *Stream {
	if buffer < 0 {
		buffer = DefaultBuffer
	}
	s := &Stream{
		path:   path,
		ch:     make(chan models.ProgressEvent, buffer),
		closed: make(chan struct{}),
	}
	h.mu.Lock()
	h.streams[s] = struct{}{}
	h.mu.Unlock()
	metrics.SetProgressStreamsActive(h.Count())
	return s
}

// Close detaches s from its consumer. Pending and future Emit calls fail
// with ErrStreamClosed.
func (h *Hub) Close(s *Stream) {
	s.shutdown.Do(func() { close(s.closed) })
	h.mu.Lock()
	delete(h.streams, s)
	h.mu.Unlock()
	metrics.SetProgressStreamsActive(h.Count())
}

// Count returns the number of open streams.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}
