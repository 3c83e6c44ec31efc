package detector

import (
	"context"
	"time"

	"github.com/c360/resourcebus/bus"
	"github.com/c360/resourcebus/message"
)

// Base provides the controllable plumbing shared by detectors.
type Base struct {
	name string
	ctrl *bus.Controllable

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBase creates the controllable of a detector. Commands, i.e. local
// resources published on the manager, are passed to onCommand on a
// goroutine started by StartCommands. With a nil onCommand they are
// dropped.
func NewBase(name string, onCommand func(message.Event)) *Base {
	b := &Base{name: name}

	var cmd *bus.Sink
	if onCommand == nil {
		cmd = bus.NewSink(nil, true)
	} else {
		cmd = bus.NewSink(func(m *message.Message) bool {
			onCommand(message.Decode(m))
			return true
		}, false)
	}
	b.ctrl = bus.NewControllable(cmd, bus.NewHub(true), nil)
	return b
}

// Name returns the detector instance name.
func (b *Base) Name() string { return b.name }

// Controllable implements EventSource.
func (b *Base) Controllable() *bus.Controllable { return b.ctrl }

// StartCommands starts delivering commands until ctx ends or Close runs.
func (b *Base) StartCommands(ctx context.Context) {
	if b.ctrl.CmdSink().Sync() || b.done != nil {
		return
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		b.ctrl.CmdSink().Run(ctx, 100*time.Millisecond)
	}()
}

// Announce reports a resource.
func (b *Base) Announce(id string, dict message.Dict) {
	b.ctrl.EvtSink().PutEvent(message.ResourceAdded{ID: id, Dict: dict})
}

// Withdraw reports that a resource is gone.
func (b *Base) Withdraw(id string) {
	b.ctrl.EvtSink().PutEvent(message.ResourceDeleted{ID: id})
}

// Close stops command delivery and closes the controllable.
func (b *Base) Close() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.ctrl.Close()
	return nil
}
