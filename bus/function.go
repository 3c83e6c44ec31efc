package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/resourcebus/errors"
	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/metric"
)

// CallPollInterval is the slice in which a waiting caller checks for replies.
const CallPollInterval = 20 * time.Millisecond

type pendingCall struct {
	mu        sync.Mutex
	cb        func(*message.Message)
	cancelled bool
	done      bool
}

// CallTable maps function tags to pending calls.
type CallTable struct {
	mu    sync.Mutex
	calls map[string]*pendingCall

	late func()
}

// NewCallTable creates an empty table.
func NewCallTable() *CallTable {
	return &CallTable{calls: make(map[string]*pendingCall)}
}

// Register adds a pending call and returns its tag.
func (t *CallTable) Register(cb func(*message.Message)) string {
	tag := uuid.NewString()
	t.mu.Lock()
	t.calls[tag] = &pendingCall{cb: cb}
	t.mu.Unlock()
	return tag
}

func (t *CallTable) lookup(tag string) *pendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[tag]
}

// Resolve delivers a reply to its pending call and reports whether it was
// delivered. A reply with Last set completes the call. Replies for unknown
// or cancelled tags are discarded.
func (t *CallTable) Resolve(m *message.Message) bool {
	tag := m.Header.FunctionTag
	if tag == "" {
		return false
	}

	pc := t.lookup(tag)
	if pc == nil {
		t.discard()
		return false
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.cancelled || pc.done {
		t.discard()
		return false
	}
	if pc.cb != nil {
		pc.cb(m)
	}
	if m.Header.Last {
		pc.done = true
		t.mu.Lock()
		delete(t.calls, tag)
		t.mu.Unlock()
	}
	return true
}

func (t *CallTable) discard() {
	if t.late != nil {
		t.late()
	}
}

// Done reports whether the call with tag received its last reply. Unknown
// tags count as done.
func (t *CallTable) Done(tag string) bool {
	pc := t.lookup(tag)
	if pc == nil {
		return true
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.done
}

// Cancel removes a pending call. Once Cancel returns its callback will not
// run again.
func (t *CallTable) Cancel(tag string) {
	t.mu.Lock()
	pc := t.calls[tag]
	delete(t.calls, tag)
	t.mu.Unlock()

	if pc == nil {
		return
	}
	pc.mu.Lock()
	pc.cancelled = true
	pc.mu.Unlock()
}

// Len returns the number of pending calls.
func (t *CallTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Caller issues function calls to one controllable. Replies are collected
// on one asynchronous event sink shared by all calls. Whichever goroutine
// is waiting in Call drains it, so a callback may run on the goroutine of
// another concurrent call, and callbacks of different calls may run
// concurrently. Events nobody waits for are dropped once the sink is full.
type Caller struct {
	ctl     *Control
	target  *Controllable
	table   *CallTable
	metrics *metric.Metrics
}

// CallerOption configures a Caller.
type CallerOption func(*Caller)

// WithCallMetrics counts timeouts and discarded late replies.
func WithCallMetrics(m *metric.Metrics) CallerOption {
	return func(c *Caller) { c.metrics = m }
}

// NewCaller connects a new control to target.
func NewCaller(target *Controllable, opts ...CallerOption) *Caller {
	c := &Caller{target: target, table: NewCallTable()}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics != nil {
		c.table.late = c.metrics.LateReplies.Inc
	}

	c.ctl = NewControl(NewSink(func(m *message.Message) bool {
		c.table.Resolve(m)
		return true
	}, false))
	target.Connect(c.ctl)
	return c
}

// Call sends a copy of req tagged with a fresh function tag and waits for
// replies. cb runs once per reply; the call completes on the reply with
// Last set. It fails with ErrFunctionTimeout once timeout elapses.
func (c *Caller) Call(ctx context.Context, req *message.Message, cb func(*message.Message), timeout time.Duration) error {
	tag := c.table.Register(cb)

	out := req.Clone()
	out.Header.FunctionTag = tag
	out.Header.ClientID = ""
	c.ctl.Send(out)

	deadline := time.Now().Add(timeout)
	evt := c.ctl.EvtSink()

	for {
		evt.Iteration()
		if c.table.Done(tag) {
			return nil
		}

		if err := ctx.Err(); err != nil {
			c.table.Cancel(tag)
			return errors.Wrap(err, "Caller", "Call", "wait for reply")
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.table.Cancel(tag)
			if c.metrics != nil {
				c.metrics.CallTimeouts.Inc()
			}
			return errors.WrapTransient(errors.ErrFunctionTimeout, "Caller", "Call",
				"wait for reply to "+req.String())
		}
		evt.Wait(min(remaining, CallPollInterval))
	}
}

// Pending returns the number of calls still waiting for replies.
func (c *Caller) Pending() int {
	return c.table.Len()
}

// Close disconnects the caller from its controllable.
func (c *Caller) Close() {
	c.target.Disconnect(c.ctl)
	c.ctl.Close()
}

// CallFunction performs a single call through a temporary Caller.
func CallFunction(ctx context.Context, target *Controllable, req *message.Message,
	cb func(*message.Message), timeout time.Duration, opts ...CallerOption) error {
	caller := NewCaller(target, opts...)
	defer caller.Close()
	return caller.Call(ctx, req, cb, timeout)
}

// Reply addresses resp to the caller of req.
func Reply(req, resp *message.Message, last bool) {
	resp.Header.FunctionTag = req.Header.FunctionTag
	resp.Header.ClientID = req.Header.ClientID
	resp.Header.Last = last
}
