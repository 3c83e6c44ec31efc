// Package devnode reports device nodes such as video and sound devices by
// polling glob patterns.
package devnode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/c360/resourcebus/config"
	"github.com/c360/resourcebus/detector"
	"github.com/c360/resourcebus/errors"
	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/resource"
)

// Type is the registered detector type.
const Type = "devnode"

// Pattern maps device nodes matching Glob to resources.
type Pattern struct {
	Glob     string `json:"glob"`
	Class    string `json:"class"`
	Protocol string `json:"protocol"`
}

// Config configures the device node scanner.
type Config struct {
	Interval config.Duration `json:"interval,omitempty"`
	Patterns []Pattern       `json:"patterns,omitempty"`
}

// DefaultPatterns covers V4L2 video devices and ALSA PCM devices.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Glob: "/dev/video*", Class: "hardware.video.capture", Protocol: "v4l2"},
		{Glob: "/dev/snd/pcmC*D*c", Class: "hardware.audio.capture", Protocol: "alsa"},
		{Glob: "/dev/snd/pcmC*D*p", Class: "hardware.audio.playback", Protocol: "alsa"},
	}
}

func (c *Config) applyDefaults() {
	if c.Interval == 0 {
		c.Interval = config.Duration(2 * time.Second)
	}
	if len(c.Patterns) == 0 {
		c.Patterns = DefaultPatterns()
	}
}

// Validate checks the glob syntax and required fields of each pattern.
func (c Config) Validate() error {
	if c.Interval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "devnode", "Validate", "negative interval")
	}
	for _, p := range c.Patterns {
		if p.Glob == "" || p.Class == "" || p.Protocol == "" {
			return errors.WrapInvalid(fmt.Errorf("%w: pattern needs glob, class and protocol", errors.ErrMissingConfig),
				"devnode", "Validate", "pattern check")
		}
		if _, err := filepath.Match(p.Glob, ""); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: glob %q", err, p.Glob), "devnode", "Validate", "pattern check")
		}
	}
	return nil
}

// Detector polls device nodes.
type Detector struct {
	*detector.Base
	cfg     Config
	deps    detector.Dependencies
	logger  *slog.Logger
	tracker *detector.Tracker

	mu       sync.Mutex
	started  bool
	interval detector.Interval
}

// New creates a device node detector.
func New(name string, cfg Config, deps detector.Dependencies) (*Detector, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{
		Base:     detector.NewBase(name, nil),
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Log().With("detector", name, "type", Type),
		interval: detector.Interval{Every: cfg.Interval.Std()},
	}
	d.tracker = detector.NewTracker(d.Base)
	return d, nil
}

// Factory creates a device node detector from JSON.
func Factory(name string, raw json.RawMessage, deps detector.Dependencies) (detector.Detector, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "devnode", "Factory", "parse config")
	}
	return New(name, cfg, deps)
}

// Register registers the device node detector type.
func Register(reg *detector.Registry) error {
	return reg.RegisterFactory(&detector.Registration{
		Type:        Type,
		Description: "Local device nodes found by polling glob patterns",
		Factory:     Factory,
	})
}

// Start enables polling. The first scan happens on the next Update.
func (d *Detector) Start(_ context.Context) error {
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	return nil
}

// Update rescans when the poll interval has elapsed.
func (d *Detector) Update() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started || !d.interval.Due(d.deps.Now()) {
		return 0
	}
	return d.tracker.Sync(d.scan())
}

func (d *Detector) scan() map[string]message.Dict {
	found := make(map[string]message.Dict)
	for _, p := range d.cfg.Patterns {
		paths, err := filepath.Glob(p.Glob)
		if err != nil {
			d.logger.Warn("Glob failed", "glob", p.Glob, "error", err)
			continue
		}
		for _, path := range paths {
			id := Type + ":" + path
			if _, dup := found[id]; dup {
				continue
			}
			found[id] = resource.Info{
				Class:    p.Class,
				URI:      p.Protocol + "://" + filepath.ToSlash(path),
				Label:    filepath.Base(path),
				Hash:     id,
				Priority: resource.PriorityDefault,
			}.Dict()
		}
	}
	return found
}

// Close withdraws the reported nodes and closes the detector.
func (d *Detector) Close() error {
	d.mu.Lock()
	d.started = false
	d.tracker.Reset()
	d.mu.Unlock()
	return d.Base.Close()
}
