package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/resourcebus/bus"
	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/metric"
	"github.com/c360/resourcebus/pkg/timestamp"
	"github.com/c360/resourcebus/pkg/worker"
	"github.com/c360/resourcebus/resource"
)

type publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

type mirrorItem struct {
	subject string
	data    []byte
}

// eventMirror logs the manager's resource events and republishes them on
// NATS as "<prefix>.added" and "<prefix>.deleted" messages carrying the
// JSON encoded message.
type eventMirror struct {
	prefix string
	pub    publisher
	pool   *worker.Pool[mirrorItem]
	logger *slog.Logger
	ctl    *bus.Control
}

// newEventMirror creates the mirror. With a nil pub or an empty prefix
// events are only logged.
func newEventMirror(prefix string, pub publisher, reg *metric.MetricsRegistry, logger *slog.Logger) *eventMirror {
	m := &eventMirror{
		prefix: prefix,
		pub:    pub,
		logger: logger.With("component", "event-mirror"),
	}
	if pub != nil && prefix != "" {
		var opts []worker.Option[mirrorItem]
		if reg != nil {
			opts = append(opts, worker.WithMetricsRegistry[mirrorItem](reg, "event_mirror"))
		}
		m.pool = worker.NewPool(2, 1024, m.publish, opts...)
	}
	m.ctl = bus.NewControl(bus.NewSink(m.handle, true))
	return m
}

// Start attaches the mirror to target.
func (m *eventMirror) Start(ctx context.Context, target *bus.Controllable) error {
	if m.pool != nil {
		if err := m.pool.Start(ctx); err != nil {
			return err
		}
	}
	target.Connect(m.ctl)
	return nil
}

// Stop detaches from target and drains pending publishes.
func (m *eventMirror) Stop(target *bus.Controllable, timeout time.Duration) error {
	target.Disconnect(m.ctl)
	m.ctl.Close()
	if m.pool != nil {
		return m.pool.Stop(timeout)
	}
	return nil
}

func (m *eventMirror) handle(msg *message.Message) bool {
	var suffix string
	switch ev := message.Decode(msg).(type) {
	case message.ResourceAdded:
		e := resource.NewEntry(ev.ID, ev.Dict)
		m.logger.Info("Resource added", "id", ev.ID, "class", e.Class(), "uri", e.URI(),
			"expires", timestamp.Format(e.ExpireTime()))
		suffix = "added"
	case message.ResourceDeleted:
		m.logger.Info("Resource deleted", "id", ev.ID)
		suffix = "deleted"
	default:
		return true
	}

	if m.pool == nil {
		return true
	}
	data, err := message.Marshal(msg)
	if err != nil {
		m.logger.Warn("Cannot encode event", "error", err)
		return true
	}
	if err := m.pool.Submit(mirrorItem{subject: m.prefix + "." + suffix, data: data}); err != nil {
		m.logger.Warn("Dropping mirrored event", "error", err)
	}
	return true
}

func (m *eventMirror) publish(ctx context.Context, item mirrorItem) error {
	if err := m.pub.Publish(ctx, item.subject, item.data); err != nil {
		m.logger.Debug("Publish failed", "subject", item.subject, "error", err)
		return err
	}
	return nil
}
