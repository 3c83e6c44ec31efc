// Package natsbridge shares resources between resourcebus instances through
// a NATS key-value bucket.
//
// Local resources published on the manager are stored under a key made of
// the instance name and the resource id. Every instance watches the bucket
// and announces the entries of its peers as remote resources. Peer entries
// get the maximum priority so that they win against the same backend found
// by a generic detector. Entries written by other tools, whose keys do not
// follow the instance scheme, are announced with the default priority.
package natsbridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/time/rate"

	"github.com/c360/resourcebus/detector"
	"github.com/c360/resourcebus/errors"
	"github.com/c360/resourcebus/health"
	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/metric"
	"github.com/c360/resourcebus/natsclient"
	"github.com/c360/resourcebus/resource"
)

// Type is the registered detector type.
const Type = "natsbridge"

// DefaultBucket is the bucket shared by all instances.
const DefaultBucket = "resourcebus-resources"

// Config configures the bridge.
type Config struct {
	Bucket string `json:"bucket,omitempty"`

	// Instance names this process in keys. Defaults to the host name.
	Instance string `json:"instance,omitempty"`

	// Rate and Burst limit how fast peer entries are announced.
	Rate  float64 `json:"rate,omitempty"`
	Burst int     `json:"burst,omitempty"`

	// ReadOnly disables exporting local resources.
	ReadOnly bool `json:"read_only,omitempty"`
}

func (c *Config) applyDefaults() {
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	if c.Instance == "" {
		if host, err := os.Hostname(); err == nil {
			c.Instance = host
		}
	}
	if c.Rate == 0 {
		c.Rate = 20
	}
	if c.Burst == 0 {
		c.Burst = 50
	}
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	if c.Instance == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "natsbridge", "Validate", "instance name")
	}
	if c.Rate < 0 || c.Burst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "natsbridge", "Validate", "negative rate limit")
	}
	for _, r := range c.Bucket {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "natsbridge", "Validate", "bucket name "+c.Bucket)
		}
	}
	return nil
}

type store interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string) error
}

// Detector bridges local and peer resources over NATS KV.
type Detector struct {
	*detector.Base
	cfg     Config
	nats    *natsclient.Client
	logger  *slog.Logger
	limiter *rate.Limiter
	metrics *metric.Metrics

	mu        sync.Mutex
	ctx       context.Context
	store     store
	watcher   jetstream.KeyWatcher
	done      chan struct{}
	exported  map[string]bool
	imported  map[string]bool
	replayed  bool
	watchErr  error
	lastEvent time.Time
}

// New creates a bridge detector.
func New(name string, cfg Config, deps detector.Dependencies) (*Detector, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Detector{
		cfg:      cfg,
		nats:     deps.NATS,
		logger:   deps.Log().With("detector", name, "type", Type, "instance", cfg.Instance),
		limiter:  rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		exported: make(map[string]bool),
		imported: make(map[string]bool),
	}
	if deps.Metrics != nil {
		d.metrics = deps.Metrics.CoreMetrics()
	}
	d.Base = detector.NewBase(name, d.command)
	return d, nil
}

// Factory creates a bridge detector from JSON.
func Factory(name string, raw json.RawMessage, deps detector.Dependencies) (detector.Detector, error) {
	var cfg Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "natsbridge", "Factory", "parse config")
		}
	}
	return New(name, cfg, deps)
}

// Register registers the bridge detector type.
func Register(reg *detector.Registry) error {
	return reg.RegisterFactory(&detector.Registration{
		Type:        Type,
		Description: "Resources shared between instances through a NATS key-value bucket",
		Factory:     Factory,
	})
}

// Start opens the bucket and starts watching it. Without a connected NATS
// client the detector stays inert.
func (d *Detector) Start(ctx context.Context) error {
	if d.nats == nil {
		return errors.WrapTransient(errors.ErrDetectorUnavailable, "natsbridge", "Start", "no NATS client configured")
	}
	if !d.nats.IsHealthy() {
		return errors.WrapTransient(errors.ErrDetectorUnavailable, "natsbridge", "Start", "NATS "+d.nats.Status().String())
	}

	bucket, err := d.nats.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      d.cfg.Bucket,
		Description: "resourcebus shared resources",
		History:     1,
	})
	if err != nil {
		return errors.WrapTransient(errors.ErrDetectorUnavailable, "natsbridge", "Start", "open bucket: "+err.Error())
	}
	kv := d.nats.NewKVStore(bucket)

	watcher, err := kv.WatchAll(ctx)
	if err != nil {
		return errors.WrapTransient(errors.ErrDetectorUnavailable, "natsbridge", "Start", "watch bucket: "+err.Error())
	}

	d.mu.Lock()
	d.ctx = ctx
	d.store = kv
	d.watcher = watcher
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.watch(ctx, watcher)
	d.StartCommands(ctx)
	d.logger.Info("Bridging resources", "bucket", d.cfg.Bucket, "read_only", d.cfg.ReadOnly)
	return nil
}

func (d *Detector) watch(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				d.mu.Lock()
				if d.watcher != nil {
					d.watchErr = errors.WrapTransient(errors.ErrConnectionLost, "natsbridge", "watch", "watcher closed")
					d.logger.Warn("Bucket watcher closed unexpectedly")
				}
				d.mu.Unlock()
				return
			}
			if entry == nil {
				d.mu.Lock()
				d.replayed = true
				n := len(d.imported)
				d.mu.Unlock()
				d.logger.Debug("Initial bucket replay complete", "imported", n)
				continue
			}
			if entry.Operation() == jetstream.KeyValuePut {
				if err := d.limiter.Wait(ctx); err != nil {
					return
				}
			}
			d.handleEntry(entry.Operation(), entry.Key(), entry.Value())
		}
	}
}

// handleEntry announces or withdraws the resource stored under key.
func (d *Detector) handleEntry(op jetstream.KeyValueOp, key string, value []byte) {
	instance, localID, native := parseKey(key)
	if native && instance == d.cfg.Instance {
		return
	}
	id := remoteID(key, instance, localID, native)

	d.mu.Lock()
	d.lastEvent = time.Now()
	d.mu.Unlock()

	switch op {
	case jetstream.KeyValuePut:
		var dict message.Dict
		if err := json.Unmarshal(value, &dict); err != nil {
			d.logger.Warn("Ignoring malformed entry", "key", key, "error", err)
			return
		}
		if dict == nil {
			dict = message.Dict{}
		}
		if native {
			dict.SetInt(resource.KeyPriority, resource.PriorityMax)
			if _, ok := dict.GetString(resource.KeyLabel); !ok {
				dict.SetString(resource.KeyLabel, localID)
			}
		} else if p, ok := dict.GetInt(resource.KeyPriority); !ok || p == 0 {
			dict.SetInt(resource.KeyPriority, resource.PriorityDefault)
		}

		d.mu.Lock()
		d.imported[id] = true
		d.mu.Unlock()
		d.count("import")
		d.Announce(id, dict)

	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		d.mu.Lock()
		known := d.imported[id]
		delete(d.imported, id)
		d.mu.Unlock()
		if known {
			d.count("withdraw")
			d.Withdraw(id)
		}
	}
}

// command exports a local resource of the manager.
func (d *Detector) command(ev message.Event) {
	if d.cfg.ReadOnly {
		return
	}

	d.mu.Lock()
	ctx, st := d.ctx, d.store
	d.mu.Unlock()
	if st == nil {
		return
	}

	switch ev := ev.(type) {
	case message.ResourceAdded:
		value, err := json.Marshal(ev.Dict)
		if err != nil {
			d.logger.Warn("Cannot encode local resource", "id", ev.ID, "error", err)
			return
		}
		if _, err := st.Put(ctx, makeKey(d.cfg.Instance, ev.ID), value); err != nil {
			d.logger.Error("Failed to export resource", "id", ev.ID, "error", err)
			d.count("error")
			return
		}
		d.count("export")
		d.mu.Lock()
		d.exported[ev.ID] = true
		d.mu.Unlock()
		d.logger.Debug("Exported resource", "id", ev.ID)

	case message.ResourceDeleted:
		d.mu.Lock()
		known := d.exported[ev.ID]
		delete(d.exported, ev.ID)
		d.mu.Unlock()
		if !known {
			return
		}
		if err := st.Delete(ctx, makeKey(d.cfg.Instance, ev.ID)); err != nil {
			d.logger.Error("Failed to withdraw exported resource", "id", ev.ID, "error", err)
			d.count("error")
			return
		}
		d.count("unexport")
	}
}

func (d *Detector) count(op string) {
	if d.metrics != nil {
		d.metrics.BridgeEntries.WithLabelValues(op).Inc()
	}
}

// Health combines the NATS connection state with the watcher state.
func (d *Detector) Health() health.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.watchErr != nil {
		return health.FromError(d.Name(), d.watchErr)
	}
	if d.nats != nil && !d.nats.IsHealthy() {
		return health.NewDegraded(d.Name(), "NATS "+d.nats.Status().String())
	}
	msg := "watching " + d.cfg.Bucket
	if !d.replayed {
		msg = "replaying " + d.cfg.Bucket
	}
	return health.NewHealthy(d.Name(), msg).WithMetrics(&health.Metrics{
		Resources:    len(d.imported),
		LastActivity: d.lastEvent,
	})
}

// Close stops the watcher and removes the exported resources from the
// bucket so that peers withdraw them.
func (d *Detector) Close() error {
	d.mu.Lock()
	watcher, done := d.watcher, d.done
	d.watcher = nil
	d.mu.Unlock()

	var errs []error
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
		<-done
	}
	if err := d.Base.Close(); err != nil {
		errs = append(errs, err)
	}

	d.mu.Lock()
	st := d.store
	ids := make([]string, 0, len(d.exported))
	for id := range d.exported {
		ids = append(ids, id)
	}
	d.exported = make(map[string]bool)
	d.imported = make(map[string]bool)
	d.store = nil
	d.mu.Unlock()

	if st != nil && len(ids) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for _, id := range ids {
			if err := st.Delete(ctx, makeKey(d.cfg.Instance, id)); err != nil {
				errs = append(errs, err)
			}
		}
		d.logger.Info("Withdrew exported resources", "count", len(ids))
	}
	return stderrors.Join(errs...)
}

var keyEncoding = base64.RawURLEncoding

// makeKey builds "<instance>.<id>" with both parts base64url encoded, which
// keeps keys within the NATS KV key alphabet.
func makeKey(instance, id string) string {
	return keyEncoding.EncodeToString([]byte(instance)) + "." + keyEncoding.EncodeToString([]byte(id))
}

func parseKey(key string) (instance, id string, ok bool) {
	a, b, found := strings.Cut(key, ".")
	if !found {
		return "", "", false
	}
	inst, err := keyEncoding.DecodeString(a)
	if err != nil || len(inst) == 0 {
		return "", "", false
	}
	rid, err := keyEncoding.DecodeString(b)
	if err != nil || len(rid) == 0 {
		return "", "", false
	}
	return string(inst), string(rid), true
}

func remoteID(key, instance, localID string, native bool) string {
	if native {
		return Type + ":" + instance + ":" + localID
	}
	return Type + ":" + key
}
