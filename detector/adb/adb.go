// Package adb reports Android devices attached to the local ADB server.
package adb

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	goadb "github.com/basiooo/goadb"

	"github.com/c360/resourcebus/detector"
	"github.com/c360/resourcebus/errors"
	"github.com/c360/resourcebus/health"
	"github.com/c360/resourcebus/resource"
)

// Type is the registered detector type.
const Type = "adb"

// Config configures the ADB detector.
type Config struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// StartServer runs "adb start-server" before connecting.
	StartServer bool `json:"start_server,omitempty"`

	Class string `json:"class,omitempty"`
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = goadb.AdbPort
	}
	if c.Class == "" {
		c.Class = "hardware.android"
	}
}

// Detector watches ADB device state changes.
type Detector struct {
	*detector.Base
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	watcher *goadb.DeviceWatcher
	online  map[string]bool
	err     error
	done    chan struct{}
}

// New creates an ADB detector.
func New(name string, cfg Config, deps detector.Dependencies) (*Detector, error) {
	cfg.applyDefaults()
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "adb", "New", "port out of range")
	}
	return &Detector{
		Base:   detector.NewBase(name, nil),
		cfg:    cfg,
		logger: deps.Log().With("detector", name, "type", Type),
		online: make(map[string]bool),
	}, nil
}

// Factory creates an ADB detector from JSON.
func Factory(name string, raw json.RawMessage, deps detector.Dependencies) (detector.Detector, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "adb", "Factory", "parse config")
	}
	return New(name, cfg, deps)
}

// Register registers the ADB detector type.
func Register(reg *detector.Registry) error {
	return reg.RegisterFactory(&detector.Registration{
		Type:        Type,
		Description: "Android devices attached to the ADB server",
		Factory:     Factory,
	})
}

// Start connects to the ADB server and starts the device watcher. The
// detector stays inert when no server is reachable.
func (d *Detector) Start(ctx context.Context) error {
	client, err := goadb.NewWithConfig(goadb.ServerConfig{Host: d.cfg.Host, Port: d.cfg.Port})
	if err != nil {
		return errors.WrapTransient(errors.ErrDetectorUnavailable, "adb", "Start", "create client: "+err.Error())
	}
	if d.cfg.StartServer {
		if err := client.StartServer(); err != nil {
			return errors.WrapTransient(errors.ErrDetectorUnavailable, "adb", "Start", "start server: "+err.Error())
		}
	}
	version, err := client.ServerVersion()
	if err != nil {
		return errors.WrapTransient(errors.ErrDetectorUnavailable, "adb", "Start", "server version: "+err.Error())
	}
	d.logger.Info("Connected to ADB server", "version", version, "port", d.cfg.Port)

	watcher := client.NewDeviceWatcher()
	d.mu.Lock()
	d.watcher = watcher
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.watch(ctx, watcher)
	return nil
}

func (d *Detector) watch(ctx context.Context, watcher *goadb.DeviceWatcher) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			watcher.Shutdown()
			return
		case ev, ok := <-watcher.C():
			if !ok {
				if err := watcher.Err(); err != nil {
					d.logger.Warn("ADB device watcher stopped", "error", err)
					d.mu.Lock()
					d.err = err
					d.mu.Unlock()
				}
				return
			}
			d.handle(ev)
		}
	}
}

// handle announces devices that come online and withdraws devices that
// leave the online state.
func (d *Detector) handle(ev goadb.DeviceStateChangedEvent) {
	d.logger.Debug("Device state changed", "serial", ev.Serial, "old", ev.OldState, "new", ev.NewState)

	id := Type + ":" + ev.Serial

	d.mu.Lock()
	wasOnline := d.online[ev.Serial]
	isOnline := ev.NewState == goadb.StateOnline
	if isOnline {
		d.online[ev.Serial] = true
	} else {
		delete(d.online, ev.Serial)
	}
	d.mu.Unlock()

	switch {
	case isOnline && !wasOnline:
		d.Announce(id, resource.Info{
			Class:    d.cfg.Class,
			URI:      "adb://" + ev.Serial,
			Label:    ev.Serial,
			Hash:     id,
			Priority: resource.PriorityDefault,
		}.Dict())
	case !isOnline && wasOnline:
		d.Withdraw(id)
	}
}

// Health reports whether the device watcher is running.
func (d *Detector) Health() health.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return health.FromError(d.Name(), d.err)
	}
	st := health.NewHealthy(d.Name(), "watching devices")
	return st.WithMetrics(&health.Metrics{Resources: len(d.online)})
}

// Close stops the watcher.
func (d *Detector) Close() error {
	d.mu.Lock()
	watcher, done := d.watcher, d.done
	d.watcher = nil
	d.mu.Unlock()

	if watcher != nil {
		watcher.Shutdown()
		<-done
	}
	return d.Base.Close()
}
