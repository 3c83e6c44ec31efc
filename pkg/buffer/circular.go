package buffer

import (
	"sync"
	"time"

	"github.com/c360/resourcebus/errors"
)

type circularBuffer[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *bufferMetrics
	opts     *bufferOptions[T]

	notEmpty *sync.Cond
	notFull  *sync.Cond
	closed   bool
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	cb := &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}
	cb.notEmpty = sync.NewCond(&cb.mu)
	cb.notFull = sync.NewCond(&cb.mu)
	return cb, nil
}

func (cb *circularBuffer[T]) Write(item T) error {
	var dropped T
	var haveDropped bool

	cb.mu.Lock()
	if cb.closed {
		cb.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	if cb.size == cb.capacity {
		switch cb.opts.overflowPolicy {
		case DropOldest:
			dropped, haveDropped = cb.items[cb.tail], true
			cb.popLocked()
			cb.stats.drop()
			cb.metrics.recordDrop()

		case DropNewest:
			cb.stats.drop()
			cb.metrics.recordDrop()
			cb.mu.Unlock()
			if cb.opts.dropCallback != nil {
				cb.opts.dropCallback(item)
			}
			return nil

		case Block:
			for cb.size == cb.capacity && !cb.closed {
				cb.notFull.Wait()
			}
			if cb.closed {
				cb.mu.Unlock()
				return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write",
					"buffer closed during blocking wait")
			}

		case Grow:
			cb.growLocked()
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++
	cb.stats.write(cb.size)
	cb.metrics.recordWrite(cb.size)
	cb.notEmpty.Broadcast()
	cb.mu.Unlock()

	// Outside the lock so the callback may touch the buffer.
	if haveDropped && cb.opts.dropCallback != nil {
		cb.opts.dropCallback(dropped)
	}
	return nil
}

// popLocked removes the tail item. cb.mu must be held.
func (cb *circularBuffer[T]) popLocked() T {
	var zero T
	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--
	return item
}

// growLocked doubles the capacity, keeping the items in order. cb.mu must be held.
func (cb *circularBuffer[T]) growLocked() {
	items := make([]T, cb.capacity*2)
	for i := 0; i < cb.size; i++ {
		items[i] = cb.items[(cb.tail+i)%cb.capacity]
	}
	cb.items = items
	cb.capacity = len(items)
	cb.tail = 0
	cb.head = cb.size
}

func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		var zero T
		return zero, false
	}

	item := cb.popLocked()
	cb.stats.read(cb.size)
	cb.metrics.recordRead(cb.size)
	cb.notFull.Signal()
	return item, true
}

func (cb *circularBuffer[T]) Peek() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		var zero T
		return zero, false
	}
	return cb.items[cb.tail], true
}

func (cb *circularBuffer[T]) Wait(timeout time.Duration) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size > 0 {
		return true
	}
	if timeout <= 0 || cb.closed {
		return false
	}

	expired := false
	timer := time.AfterFunc(timeout, func() {
		cb.mu.Lock()
		expired = true
		cb.mu.Unlock()
		cb.notEmpty.Broadcast()
	})
	defer timer.Stop()

	for cb.size == 0 && !expired && !cb.closed {
		cb.notEmpty.Wait()
	}
	return cb.size > 0
}

func (cb *circularBuffer[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

func (cb *circularBuffer[T]) Capacity() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.capacity
}

func (cb *circularBuffer[T]) IsEmpty() bool {
	return cb.Size() == 0
}

func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	for i := range cb.items {
		cb.items[i] = zero
	}
	cb.head, cb.tail, cb.size = 0, 0, 0
	cb.stats.updateSize(0)
	cb.notFull.Broadcast()
}

func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}
	cb.closed = true
	cb.notEmpty.Broadcast()
	cb.notFull.Broadcast()
	return nil
}
