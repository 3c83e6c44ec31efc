// Package buffer provides a generic, thread-safe circular buffer with
// configurable overflow policies. It backs the queue of asynchronous
// message sinks.
//
// Statistics are always collected. Prometheus metrics are optional and
// enabled with WithMetrics.
package buffer

import "time"

// Buffer is a bounded FIFO of items of type T.
type Buffer[T any] interface {
	// Write adds an item. Behavior on a full buffer depends on the overflow policy.
	Write(item T) error

	// Read removes and returns the oldest item.
	Read() (T, bool)

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	// Wait blocks until an item is available, the timeout elapses or the
	// buffer is closed. It reports whether an item is available.
	Wait(timeout time.Duration) bool

	Size() int
	Capacity() int
	IsEmpty() bool

	// Clear removes all items.
	Clear()

	Stats() *Statistics

	// Close wakes all blocked writers and waiters. Further writes fail.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest

	// Block causes Write operations to block until space is available.
	Block

	// Grow doubles the capacity instead of dropping or blocking. Use it
	// for queues whose only reader may also be a writer.
	Grow
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	case Grow:
		return "Grow"
	default:
		return "Unknown"
	}
}

// DropCallback is called with an item dropped by the overflow policy.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a circular buffer with the given capacity.
// It fails only if metrics were requested and could not be registered.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	return newCircularBuffer(capacity, applyOptions(options...))
}
