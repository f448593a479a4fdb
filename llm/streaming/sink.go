// Package streaming forwards adapter chunk sequences to caller sinks,
// accumulating the synthetic final response used for trace logging.
package streaming

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/promptgate/promptgate/llm"
)

// ErrSinkClosed is returned by Send after the consumer closed the sink.
var ErrSinkClosed = errors.New("sink closed")

// DefaultSinkCapacity is the bound of a sink created with NewSink(0).
const DefaultSinkCapacity = 64

// Sink is a bounded, single-consumer queue of stream chunks. The producer
// blocks on Send while the queue is full; closing the sink from the
// consumer side unblocks the producer and propagates cancellation upstream.
type Sink struct {
	ch       chan llm.StreamChunk
	done     chan struct{}
	closed   atomic.Bool
	finished atomic.Bool
}

// NewSink creates a sink with the given capacity. Zero or negative means
// DefaultSinkCapacity.
func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultSinkCapacity
	}
	return &Sink{
		ch:   make(chan llm.StreamChunk, capacity),
		done: make(chan struct{}),
	}
}

// Send enqueues one chunk, blocking while the consumer is not draining.
// It fails when ctx is cancelled or the sink is closed.
func (s *Sink) Send(ctx context.Context, chunk llm.StreamChunk) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}
	select {
	case <-s.done:
		return ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- chunk:
		return nil
	}
}

// Chunks returns the consumer side of the queue. The channel is closed by
// Finish once the producer is done.
func (s *Sink) Chunks() <-chan llm.StreamChunk { return s.ch }

// Close is called by the consumer to abandon the stream. Pending and
// future Sends fail with ErrSinkClosed.
func (s *Sink) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
	}
}

// Closed reports whether the consumer has abandoned the stream.
func (s *Sink) Closed() bool { return s.closed.Load() }

// Done exposes the consumer-abandonment signal.
func (s *Sink) Done() <-chan struct{} { return s.done }

// Finish is called by the producer after the last Send; it closes the
// chunk channel so consumer range loops terminate.
func (s *Sink) Finish() {
	if s.finished.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
