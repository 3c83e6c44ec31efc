package bus

import (
	"slices"
	"sync"

	"github.com/c360/resourcebus/message"
)

// Hub fans messages out to connected sinks. A message whose ClientID is
// set goes only to the first sink answering for that id; any other
// message is copied to every sink. Delivery order across sinks is
// unspecified, order within one sink is preserved.
type Hub struct {
	mu        sync.Mutex
	sinks     []*Sink
	sink      *Sink
	connectCB func(*Sink)
}

// NewHub creates a hub. In synchronous mode Send delivers on the caller's
// goroutine; otherwise messages queue in the hub's own sink until someone
// runs its Iteration.
func NewHub(sync bool, opts ...SinkOption) *Hub {
	h := &Hub{}
	h.sink = NewSink(h.dispatch, sync, opts...)
	return h
}

func (h *Hub) dispatch(m *message.Message) bool {
	id := m.Header.ClientID

	// Delivery runs without the lock.
	h.mu.Lock()
	sinks := slices.Clone(h.sinks)
	h.mu.Unlock()

	for _, s := range sinks {
		if !s.HasID(id) {
			continue
		}
		s.PutCopy(m)
		if id != "" {
			break
		}
	}
	return true
}

// SetConnectCallback installs fn, called with every newly connected sink
// while the hub is locked. It typically replays current state.
func (h *Hub) SetConnectCallback(fn func(*Sink)) {
	h.mu.Lock()
	h.connectCB = fn
	h.mu.Unlock()
}

// Connect registers s. Connecting a sink twice has no effect.
func (h *Hub) Connect(s *Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, existing := range h.sinks {
		if existing == s {
			return
		}
	}
	h.sinks = append(h.sinks, s)
	if h.connectCB != nil {
		h.connectCB(s)
	}
}

// Disconnect removes s. It is a no-op if s is not connected.
func (h *Hub) Disconnect(s *Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, existing := range h.sinks {
		if existing == s {
			h.sinks = append(h.sinks[:i], h.sinks[i+1:]...)
			return
		}
	}
}

// NumSinks returns the number of connected sinks.
func (h *Hub) NumSinks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sinks)
}

// Sink returns the hub's input. Publishing into it broadcasts.
func (h *Hub) Sink() *Sink {
	return h.sink
}

// Send builds one message with populate and delivers it.
func (h *Hub) Send(populate func(m *message.Message)) {
	m := h.sink.Get()
	populate(m)
	h.sink.Put(m)
}

// SendEvent delivers a typed event.
func (h *Hub) SendEvent(ev message.Event) {
	h.sink.PutEvent(ev)
}

// Close closes the hub's input sink and forgets all connections.
func (h *Hub) Close() {
	h.sink.Close()
	h.mu.Lock()
	h.sinks = nil
	h.mu.Unlock()
}
