package resource

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/resourcebus/bus"
	"github.com/c360/resourcebus/detector"
	"github.com/c360/resourcebus/errors"
	"github.com/c360/resourcebus/health"
	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/metric"
	"github.com/c360/resourcebus/pkg/buffer"
)

// Array selects the local or remote resource array.
type Array int

const (
	// Local holds resources published by this process.
	Local Array = iota
	// Remote holds resources reported by detectors.
	Remote
)

func (a Array) String() string {
	if a == Local {
		return "local"
	}
	return "remote"
}

type record struct {
	entry     Entry
	published bool
}

type plugin struct {
	det    detector.Detector
	source *bus.Controllable
	poller detector.Poller
	active bool
	err    error
}

// Manager owns the local and remote resource arrays.
//
// All mutation happens on the worker goroutine, which holds mu for a whole
// tick: drain commands, drain detector events, poll detectors, sweep
// expired entries. The arrays are published as immutable snapshots so
// queries never wait for a tick.
type Manager struct {
	cfg       Config
	logger    *slog.Logger
	metrics   *metric.Metrics
	clock     func() time.Time
	supported func(Entry) bool

	ctrl       *bus.Controllable
	pluginSink *bus.Sink
	detectors  []detector.Detector
	plugins    []*plugin

	mu     sync.Mutex
	local  atomic.Pointer[[]record]
	remote atomic.Pointer[[]record]

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	startTime   time.Time
	done        chan struct{}
}

// NewManager creates a manager. Detectors are started by Start.
func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = DefaultIdleSleep
	}

	m := &Manager{
		cfg:    cfg,
		logger: slog.Default(),
		clock:  time.Now,
	}
	m.supported = cfg.SupportFunc()
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "resource-manager")

	// The worker is the only reader of both queues and may itself write to
	// the fan-in sink from Update, so they grow instead of blocking.
	sinkOpts := []bus.SinkOption{bus.WithOverflowPolicy(buffer.Grow)}
	if cfg.QueueCapacity > 0 {
		sinkOpts = append(sinkOpts, bus.WithQueueCapacity(cfg.QueueCapacity))
	}

	evt := bus.NewHub(true)
	evt.SetConnectCallback(m.replay)
	m.ctrl = bus.NewControllable(bus.NewSink(m.handleCommand, false, sinkOpts...), evt, nil)
	m.pluginSink = bus.NewSink(m.handlePlugin, false, sinkOpts...)

	empty := []record{}
	m.local.Store(&empty)
	m.remote.Store(&empty)

	for _, d := range m.detectors {
		p := &plugin{det: d}
		if src, ok := d.(detector.EventSource); ok {
			p.source = src.Controllable()
		}
		if poller, ok := d.(detector.Poller); ok {
			p.poller = poller
		}
		m.plugins = append(m.plugins, p)
	}
	return m
}

// Controllable returns the manager's controllable. Commands publish and
// unpublish local resources; events report resource deltas.
func (m *Manager) Controllable() *bus.Controllable {
	return m.ctrl
}

// Start starts all detectors concurrently and launches the worker. A
// detector that fails to start is logged and left inert.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Start", "start manager")
	}
	if m.stopped {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Manager", "Start", "start manager")
	}

	// Connect first so events sent during Start are not lost.
	for _, p := range m.plugins {
		if p.source != nil {
			p.source.EvtHub().Connect(m.pluginSink)
		}
	}

	var g errgroup.Group
	for _, p := range m.plugins {
		g.Go(func() error {
			if err := p.det.Start(ctx); err != nil {
				p.err = err
				m.logger.Warn("Detector inert", "detector", p.det.Name(), "error", err)
				return nil
			}
			p.active = true
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range m.plugins {
		if !p.active && p.source != nil {
			p.source.EvtHub().Disconnect(m.pluginSink)
		}
		m.setDetectorState(p)
	}

	m.started = true
	m.startTime = time.Now()
	m.done = make(chan struct{})
	go m.run()

	m.logger.Info("Resource manager started", "detectors", len(m.plugins))
	return nil
}

func (m *Manager) setDetectorState(p *plugin) {
	if m.metrics == nil {
		return
	}
	v := 0.0
	if p.active {
		v = 1
	}
	m.metrics.DetectorState.WithLabelValues(p.det.Name()).Set(v)
}

// Stop sends QUIT, waits up to timeout for the worker, closes the detectors
// and releases both arrays.
func (m *Manager) Stop(timeout time.Duration) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true

	var err error
	if m.started {
		m.ctrl.CmdSink().PutEvent(message.Quit{})
		select {
		case <-m.done:
		case <-time.After(timeout):
			err = errors.WrapTransient(errors.ErrShuttingDown, "Manager", "Stop", "join worker")
		}
	}

	if err != nil {
		// The worker still owns the detectors and sinks.
		m.logger.Error("Resource manager worker did not stop", "timeout", timeout)
		return err
	}

	for _, p := range m.plugins {
		if p.source != nil {
			p.source.EvtHub().Disconnect(m.pluginSink)
		}
		if cerr := p.det.Close(); cerr != nil {
			m.logger.Warn("Detector close failed", "detector", p.det.Name(), "error", cerr)
		}
	}

	empty := []record{}
	m.local.Store(&empty)
	m.remote.Store(&empty)
	m.pluginSink.Close()
	m.ctrl.Close()

	m.logger.Info("Resource manager stopped")
	return nil
}

func (m *Manager) run() {
	defer close(m.done)

	for {
		work, keep := m.tick()
		if !keep {
			return
		}
		if work == 0 {
			time.Sleep(m.cfg.IdleSleep)
		}
	}
}

// tick performs one worker iteration and returns the number of work items
// handled and whether to keep running.
func (m *Manager) tick() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	work, keep := m.ctrl.CmdSink().Iteration()
	if !keep {
		return work, false
	}

	n, _ := m.pluginSink.Iteration()
	work += n

	for _, p := range m.plugins {
		if p.active && p.poller != nil {
			work += p.poller.Update()
		}
	}

	work += m.sweep()

	if m.metrics != nil {
		m.metrics.TickWork.Observe(float64(work))
	}
	return work, true
}

// Publish announces a local resource. It takes effect on the next tick;
// dict is copied, so the caller may reuse it.
func (m *Manager) Publish(id string, dict message.Dict) {
	m.ctrl.CmdSink().PutEvent(message.ResourceAdded{ID: id, Dict: dict.Clone()})
}

// Unpublish withdraws a local resource. It takes effect on the next tick.
func (m *Manager) Unpublish(id string) {
	m.ctrl.CmdSink().PutEvent(message.ResourceDeleted{ID: id})
}

// Health reports the manager and detector states.
func (m *Manager) Health() health.Status {
	subs := make([]health.Status, 0, len(m.plugins))
	for _, p := range m.plugins {
		switch {
		case p.err != nil:
			subs = append(subs, health.FromError(p.det.Name(), p.err))
		default:
			if hr, ok := p.det.(detector.HealthReporter); ok {
				subs = append(subs, hr.Health())
			} else {
				subs = append(subs, health.NewHealthy(p.det.Name(), "active"))
			}
		}
	}

	var uptime time.Duration
	m.lifecycleMu.Lock()
	if m.started {
		uptime = time.Since(m.startTime)
	}
	m.lifecycleMu.Unlock()

	st := health.Aggregate("resource-manager", subs)
	return st.WithMetrics(&health.Metrics{
		Uptime:    uptime,
		Resources: len(*m.remote.Load()) + len(*m.local.Load()),
	})
}
