// Package static announces a fixed list of resources from configuration.
//
// With a ttl the entries carry an expire time. When it has passed the
// manager drops them and the detector announces them again with a new one,
// the way network announcements with a max-age behave.
package static

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/resourcebus/config"
	"github.com/c360/resourcebus/detector"
	"github.com/c360/resourcebus/errors"
	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/pkg/timestamp"
	"github.com/c360/resourcebus/resource"
)

// Type is the registered detector type.
const Type = "static"

// ResourceConfig describes one resource.
type ResourceConfig struct {
	ID       string            `json:"id"`
	Class    string            `json:"class"`
	URI      string            `json:"uri"`
	Label    string            `json:"label,omitempty"`
	Hash     string            `json:"hash,omitempty"`
	Priority int               `json:"priority,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Config configures the static detector.
type Config struct {
	TTL       config.Duration  `json:"ttl,omitempty"`
	Resources []ResourceConfig `json:"resources"`
}

// Validate checks that every resource has an id, class and URI and that
// ids are unique.
func (c Config) Validate() error {
	if c.TTL < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "static", "Validate", "negative ttl")
	}
	seen := make(map[string]bool, len(c.Resources))
	for i, r := range c.Resources {
		if r.ID == "" || r.Class == "" || r.URI == "" {
			return errors.WrapInvalid(fmt.Errorf("%w: resource %d needs id, class and uri", errors.ErrMissingConfig, i),
				"static", "Validate", "resource check")
		}
		if seen[r.ID] {
			return errors.WrapInvalid(fmt.Errorf("%w: duplicate id %s", errors.ErrInvalidConfig, r.ID),
				"static", "Validate", "resource check")
		}
		if r.Priority < 0 || r.Priority > resource.PriorityMax {
			return errors.WrapInvalid(fmt.Errorf("%w: priority %d of %s", errors.ErrInvalidConfig, r.Priority, r.ID),
				"static", "Validate", "resource check")
		}
		seen[r.ID] = true
	}
	return nil
}

// Detector announces the configured resources.
type Detector struct {
	*detector.Base
	cfg    Config
	deps   detector.Dependencies
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	expires time.Time
}

// New creates a static detector.
func New(name string, cfg Config, deps detector.Dependencies) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		Base:   detector.NewBase(name, nil),
		cfg:    cfg,
		deps:   deps,
		logger: deps.Log().With("detector", name, "type", Type),
	}, nil
}

// Factory creates a static detector from JSON.
func Factory(name string, raw json.RawMessage, deps detector.Dependencies) (detector.Detector, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "static", "Factory", "parse config")
	}
	return New(name, cfg, deps)
}

// Register registers the static detector type.
func Register(reg *detector.Registry) error {
	return reg.RegisterFactory(&detector.Registration{
		Type:        Type,
		Description: "Resources listed in configuration, optionally expiring",
		Factory:     Factory,
	})
}

// Start announces all resources.
func (d *Detector) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.started = true
	d.announce(d.deps.Now())
	d.logger.Info("Static resources announced", "count", len(d.cfg.Resources), "ttl", d.cfg.TTL.Std())
	return nil
}

// Update re-announces the resources once their expire time has passed.
func (d *Detector) Update() int {
	if d.cfg.TTL == 0 {
		return 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.deps.Now()
	if !d.started || now.Before(d.expires) {
		return 0
	}
	d.logger.Debug("Refreshing expired resources")
	return d.announce(now)
}

func (d *Detector) announce(now time.Time) int {
	expire := timestamp.Expiry(now, d.cfg.TTL.Std())
	d.expires = timestamp.FromUnixUs(expire)

	for _, r := range d.cfg.Resources {
		d.Announce(r.ID, info(r, expire).Dict())
	}
	return len(d.cfg.Resources)
}

func info(r ResourceConfig, expire int64) resource.Info {
	prio := r.Priority
	if prio == 0 {
		prio = resource.PriorityDefault
	}

	var extra message.Dict
	if len(r.Extra) > 0 {
		extra = make(message.Dict, len(r.Extra))
		for k, v := range r.Extra {
			extra.SetString(k, v)
		}
	}

	return resource.Info{
		Class:      r.Class,
		URI:        r.URI,
		Label:      r.Label,
		Hash:       r.Hash,
		Priority:   prio,
		ExpireTime: expire,
		Extra:      extra,
	}
}
