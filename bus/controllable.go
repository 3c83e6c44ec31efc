package bus

import "sync"

// Controllable is a subsystem reachable through one command sink that
// emits events through one hub. Any number of Controls may attach.
type Controllable struct {
	cmdSink *Sink
	evtHub  *Hub

	closeOnce sync.Once
	cleanup   func()
}

// NewControllable takes ownership of cmd and evt. cleanup, if not nil, runs
// once on Close before they are closed.
func NewControllable(cmd *Sink, evt *Hub, cleanup func()) *Controllable {
	return &Controllable{cmdSink: cmd, evtHub: evt, cleanup: cleanup}
}

// CmdSink receives commands.
func (c *Controllable) CmdSink() *Sink { return c.cmdSink }

// EvtHub distributes events.
func (c *Controllable) EvtHub() *Hub { return c.evtHub }

// EvtSink is the hub's input; publishing into it broadcasts an event.
func (c *Controllable) EvtSink() *Sink { return c.evtHub.Sink() }

// Connect attaches ctl: its event sink joins the hub and its command sink
// starts forwarding here.
func (c *Controllable) Connect(ctl *Control) {
	ctl.attach(c)
	c.evtHub.Connect(ctl.evtSink)
}

// Disconnect reverses Connect.
func (c *Controllable) Disconnect(ctl *Control) {
	c.evtHub.Disconnect(ctl.evtSink)
	ctl.detach(c)
}

// Close runs the cleanup function and closes the owned sink and hub.
func (c *Controllable) Close() {
	c.closeOnce.Do(func() {
		if c.cleanup != nil {
			c.cleanup()
		}
		c.cmdSink.Close()
		c.evtHub.Close()
	})
}
