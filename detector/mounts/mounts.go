// Package mounts reports mounted file systems, typically removable media,
// as storage resources.
package mounts

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/c360/resourcebus/config"
	"github.com/c360/resourcebus/detector"
	"github.com/c360/resourcebus/errors"
	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/resource"
)

// Type is the registered detector type.
const Type = "mounts"

const scanTimeout = 2 * time.Second

// Config configures the mount scanner.
type Config struct {
	Interval config.Duration `json:"interval,omitempty"`

	// MountPrefixes selects mount points. Defaults to the usual removable
	// media locations.
	MountPrefixes []string `json:"mount_prefixes,omitempty"`

	// FSTypes restricts file system types. Empty allows all.
	FSTypes []string `json:"fstypes,omitempty"`

	Class string `json:"class,omitempty"`
}

func (c *Config) applyDefaults() {
	if c.Interval == 0 {
		c.Interval = config.Duration(5 * time.Second)
	}
	if len(c.MountPrefixes) == 0 {
		c.MountPrefixes = []string{"/media/", "/run/media/", "/mnt/"}
	}
	if c.Class == "" {
		c.Class = "hardware.storage.removable"
	}
}

// Detector polls the mount table.
type Detector struct {
	*detector.Base
	cfg     Config
	deps    detector.Dependencies
	logger  *slog.Logger
	tracker *detector.Tracker

	partitions func(ctx context.Context) ([]disk.PartitionStat, error)
	usage      func(ctx context.Context, path string) (*disk.UsageStat, error)

	mu       sync.Mutex
	started  bool
	interval detector.Interval
}

// New creates a mount detector.
func New(name string, cfg Config, deps detector.Dependencies) (*Detector, error) {
	cfg.applyDefaults()
	if cfg.Interval < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "mounts", "New", "negative interval")
	}
	d := &Detector{
		Base:   detector.NewBase(name, nil),
		cfg:    cfg,
		deps:   deps,
		logger: deps.Log().With("detector", name, "type", Type),
		partitions: func(ctx context.Context) ([]disk.PartitionStat, error) {
			return disk.PartitionsWithContext(ctx, false)
		},
		usage:    disk.UsageWithContext,
		interval: detector.Interval{Every: cfg.Interval.Std()},
	}
	d.tracker = detector.NewTracker(d.Base)
	return d, nil
}

// Factory creates a mount detector from JSON.
func Factory(name string, raw json.RawMessage, deps detector.Dependencies) (detector.Detector, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "mounts", "Factory", "parse config")
	}
	return New(name, cfg, deps)
}

// Register registers the mount detector type.
func Register(reg *detector.Registry) error {
	return reg.RegisterFactory(&detector.Registration{
		Type:        Type,
		Description: "Mounted file systems below removable media mount points",
		Factory:     Factory,
	})
}

// Start checks that the mount table can be read.
func (d *Detector) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	if _, err := d.partitions(ctx); err != nil {
		return errors.WrapTransient(errors.ErrDetectorUnavailable, "mounts", "Start", "read mount table: "+err.Error())
	}

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

	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	parts, err := d.partitions(ctx)
	if err != nil {
		d.logger.Warn("Mount scan failed", "error", err)
		return 0
	}
	return d.tracker.Sync(d.resources(ctx, parts))
}

func (d *Detector) resources(ctx context.Context, parts []disk.PartitionStat) map[string]message.Dict {
	found := make(map[string]message.Dict)
	for _, p := range parts {
		if !d.selected(p) {
			continue
		}

		extra := message.Dict{}
		extra.SetString("device", p.Device)
		extra.SetString("fstype", p.Fstype)
		if u, err := d.usage(ctx, p.Mountpoint); err == nil {
			extra.SetLong("size", int64(u.Total))
		}

		id := Type + ":" + p.Mountpoint
		found[id] = resource.Info{
			Class:    d.cfg.Class,
			URI:      "file://" + p.Mountpoint,
			Label:    label(p.Mountpoint),
			Hash:     Type + ":" + p.Device,
			Priority: resource.PriorityDefault,
			Extra:    extra,
		}.Dict()
	}
	return found
}

func (d *Detector) selected(p disk.PartitionStat) bool {
	if len(d.cfg.FSTypes) > 0 && !slices.Contains(d.cfg.FSTypes, p.Fstype) {
		return false
	}
	for _, prefix := range d.cfg.MountPrefixes {
		if strings.HasPrefix(p.Mountpoint, prefix) {
			return true
		}
	}
	return false
}

func label(mountpoint string) string {
	trimmed := strings.TrimRight(mountpoint, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && i < len(trimmed)-1 {
		return trimmed[i+1:]
	}
	return mountpoint
}

// Close withdraws the reported mounts and closes the detector.
func (d *Detector) Close() error {
	d.mu.Lock()
	d.started = false
	d.tracker.Reset()
	d.mu.Unlock()
	return d.Base.Close()
}
