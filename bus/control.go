package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/c360/resourcebus/message"
)

// Control is a client handle on a Controllable. Events arrive on its event
// sink; commands put into its command sink are stamped with the control's
// id and forwarded.
type Control struct {
	id      string
	evtSink *Sink
	cmdSink *Sink

	mu     sync.RWMutex
	target *Controllable
}

// NewControl creates a control that receives events on evt.
func NewControl(evt *Sink) *Control {
	c := &Control{
		id:      uuid.NewString(),
		evtSink: evt,
	}
	c.cmdSink = NewSink(c.forward, true)
	c.evtSink.SetID(c.id)
	c.cmdSink.SetID(c.id)
	return c
}

// forward passes a command to the attached controllable. Commands that
// already carry a client id come from a downstream peer; the event sink
// learns that id so replies find their way back.
func (c *Control) forward(m *message.Message) bool {
	c.mu.RLock()
	target := c.target
	c.mu.RUnlock()

	if target == nil {
		return true
	}

	if m.Header.ClientID == "" {
		m.Header.ClientID = c.id
	} else {
		c.evtSink.AddRoute(m.Header.ClientID)
	}
	target.CmdSink().PutCopy(m)
	return true
}

func (c *Control) attach(target *Controllable) {
	c.mu.Lock()
	c.target = target
	c.mu.Unlock()
}

func (c *Control) detach(target *Controllable) {
	c.mu.Lock()
	if c.target == target {
		c.target = nil
	}
	c.mu.Unlock()
}

// ID returns the 36 character connection id.
func (c *Control) ID() string { return c.id }

// EvtSink receives events from the controllable.
func (c *Control) EvtSink() *Sink { return c.evtSink }

// CmdSink forwards commands to the controllable.
func (c *Control) CmdSink() *Sink { return c.cmdSink }

// Send forwards a copy of m as a command.
func (c *Control) Send(m *message.Message) {
	c.cmdSink.PutCopy(m)
}

// SendEvent forwards a typed event as a command.
func (c *Control) SendEvent(ev message.Event) {
	c.cmdSink.PutEvent(ev)
}

// Connected reports whether the control is attached to a controllable.
func (c *Control) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.target != nil
}

// Close closes both sinks. Disconnect the control first.
func (c *Control) Close() {
	c.cmdSink.Close()
	c.evtSink.Close()
}
