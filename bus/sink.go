// Package bus implements the in-process message substrate: sinks, hubs,
// controllables, controls and correlated function calls.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/metric"
	"github.com/c360/resourcebus/pkg/buffer"
)

const (
	// DefaultQueueCapacity is the queue size of asynchronous sinks.
	DefaultQueueCapacity = 4096

	// RouteTableSize bounds the number of foreign client ids a sink answers for.
	RouteTableSize = 16

	// WildcardID makes a sink match every client id.
	WildcardID = "*"
)

// Handler consumes one message. Returning false stops the current
// Iteration. The message is recycled after the handler returns, so a
// handler that keeps it must Clone it.
type Handler func(m *message.Message) bool

// SinkOption configures a Sink.
type SinkOption func(*sinkOptions)

type sinkOptions struct {
	capacity    int
	overflow    buffer.OverflowPolicy
	metricsReg  *metric.MetricsRegistry
	metricsName string
}

// WithQueueCapacity sets the queue size of an asynchronous sink.
func WithQueueCapacity(n int) SinkOption {
	return func(o *sinkOptions) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithOverflowPolicy sets what an asynchronous sink does when its queue is
// full. The default drops the oldest message, so a subscriber that falls
// behind never stalls its publisher. buffer.Grow keeps every message.
func WithOverflowPolicy(p buffer.OverflowPolicy) SinkOption {
	return func(o *sinkOptions) { o.overflow = p }
}

// WithSinkMetrics exports the queue statistics of an asynchronous sink.
func WithSinkMetrics(reg *metric.MetricsRegistry, name string) SinkOption {
	return func(o *sinkOptions) {
		o.metricsReg = reg
		o.metricsName = name
	}
}

// Sink is a single-reader message queue.
//
// A synchronous sink runs its handler inside Put on the publisher's
// goroutine. An asynchronous sink only enqueues in Put; a consumer drains
// it with Iteration. Writers are serialized: Get locks the sink until the
// matching Put. A handler must not publish into its own sink.
type Sink struct {
	handler Handler
	sync    bool

	writeMu sync.Mutex
	queue   buffer.Buffer[*message.Message]
	slots   sync.Pool
	closed  atomic.Bool

	idMu   sync.RWMutex
	id     string
	routes []string
	next   int
}

// NewSink creates a sink. handler may be nil for sinks that only queue.
func NewSink(handler Handler, sync bool, opts ...SinkOption) *Sink {
	o := sinkOptions{capacity: DefaultQueueCapacity, overflow: buffer.DropOldest}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Sink{
		handler: handler,
		sync:    sync,
	}
	s.slots.New = func() any { return &message.Message{} }

	if !sync {
		opts := []buffer.Option[*message.Message]{
			buffer.WithOverflowPolicy[*message.Message](o.overflow),
			buffer.WithDropCallback(func(m *message.Message) { s.slots.Put(m) }),
		}
		q, err := buffer.NewCircularBuffer(o.capacity,
			append(opts, buffer.WithMetrics[*message.Message](o.metricsReg, o.metricsName))...)
		if err != nil {
			// Only metrics registration can fail; queue without them.
			q, _ = buffer.NewCircularBuffer(o.capacity, opts...)
		}
		s.queue = q
	}
	return s
}

// Sync reports whether the sink runs its handler inside Put.
func (s *Sink) Sync() bool { return s.sync }

// Get locks the sink for writing and returns an empty message slot.
// Every Get must be followed by exactly one Put of the returned message.
func (s *Sink) Get() *message.Message {
	s.writeMu.Lock()
	m := s.slots.Get().(*message.Message)
	m.Reset()
	return m
}

// Put publishes a message obtained from Get and releases the write lock.
func (s *Sink) Put(m *message.Message) {
	defer s.writeMu.Unlock()

	if s.sync {
		if s.handler != nil {
			s.handler(m)
		}
		s.slots.Put(m)
		return
	}

	if err := s.queue.Write(m); err != nil {
		// Closed sink: the message is dropped.
		s.slots.Put(m)
	}
}

// PutCopy publishes a deep copy of m. The caller keeps ownership of m.
func (s *Sink) PutCopy(m *message.Message) {
	slot := s.Get()
	slot.CopyFrom(m)
	s.Put(slot)
}

// PutEvent publishes a typed event.
func (s *Sink) PutEvent(ev message.Event) {
	slot := s.Get()
	message.Encode(ev, slot)
	s.Put(slot)
}

// Peek reports whether a message is queued and returns its kind without
// consuming it. Synchronous sinks never hold messages.
func (s *Sink) Peek() (ns, id uint32, ok bool) {
	if s.sync {
		return 0, 0, false
	}
	m, ok := s.queue.Peek()
	if !ok {
		return 0, 0, false
	}
	return m.Namespace, m.ID, true
}

// Wait blocks until a message is queued or timeout elapses.
func (s *Sink) Wait(timeout time.Duration) bool {
	if s.sync {
		return false
	}
	return s.queue.Wait(timeout)
}

// Pending returns the number of queued messages.
func (s *Sink) Pending() int {
	if s.sync {
		return 0
	}
	return s.queue.Size()
}

// Dropped returns the number of messages lost to queue overflow.
func (s *Sink) Dropped() int64 {
	if s.sync {
		return 0
	}
	return s.queue.Stats().Drops()
}

// Iteration drains the queue, calling the handler for each message. It
// returns the number of messages handled and false if a QUIT message was
// read or the handler asked to stop.
func (s *Sink) Iteration() (int, bool) {
	if s.sync {
		return 0, true
	}

	n := 0
	for {
		m, ok := s.queue.Read()
		if !ok {
			return n, true
		}

		if message.IsQuit(m) {
			s.slots.Put(m)
			return n, false
		}

		keep := true
		if s.handler != nil {
			keep = s.handler(m)
		}
		s.slots.Put(m)
		n++
		if !keep {
			return n, false
		}
	}
}

// Run drains an asynchronous sink until ctx is cancelled, the sink is
// closed or Iteration reports stop. For a synchronous sink it only waits
// for ctx.
func (s *Sink) Run(ctx context.Context, poll time.Duration) {
	if s.sync {
		<-ctx.Done()
		return
	}
	for ctx.Err() == nil && !s.closed.Load() {
		if !s.Wait(poll) {
			continue
		}
		if _, keep := s.Iteration(); !keep {
			return
		}
	}
}

// Close wakes blocked waiters and discards later messages. Publishers
// must be stopped before a sink is closed.
func (s *Sink) Close() {
	s.closed.Store(true)
	if !s.sync {
		_ = s.queue.Close()
	}
}

// SetID tags the sink so hubs can route messages addressed to id.
func (s *Sink) SetID(id string) {
	s.idMu.Lock()
	s.id = id
	s.idMu.Unlock()
}

// ID returns the sink's tag.
func (s *Sink) ID() string {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	return s.id
}

// AddRoute makes the sink answer for a foreign client id. The table keeps
// the RouteTableSize most recent ids.
func (s *Sink) AddRoute(clientID string) {
	if clientID == "" {
		return
	}

	s.idMu.Lock()
	defer s.idMu.Unlock()

	for _, r := range s.routes {
		if r == clientID {
			return
		}
	}
	if len(s.routes) < RouteTableSize {
		s.routes = append(s.routes, clientID)
		return
	}
	s.routes[s.next] = clientID
	s.next = (s.next + 1) % RouteTableSize
}

// HasID reports whether a message addressed to id should reach this sink.
// An empty id matches every sink; a sink tagged "*" matches every id.
func (s *Sink) HasID(id string) bool {
	if id == "" {
		return true
	}

	s.idMu.RLock()
	defer s.idMu.RUnlock()

	if s.id != "" && (s.id == id || s.id == WildcardID) {
		return true
	}
	for _, r := range s.routes {
		if r == id {
			return true
		}
	}
	return false
}
