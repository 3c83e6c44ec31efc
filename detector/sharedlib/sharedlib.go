// Package sharedlib enumerates devices through a native library loaded at
// runtime. The library exports four functions named after a prefix:
//
//	int32_t   <prefix>_device_count(void);
//	char     *<prefix>_device_<id>(int32_t index);
//	char     *<prefix>_device_name(int32_t index);
//	void      <prefix>_free_string(char *s);
//
// where <id> defaults to "path". Returned strings are released with
// free_string.
package sharedlib

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
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
const Type = "sharedlib"

// Config configures the shared library detector.
type Config struct {
	Library      string   `json:"library"`
	SearchPaths  []string `json:"search_paths,omitempty"`
	SymbolPrefix string   `json:"symbol_prefix"`
	IDSymbol     string   `json:"id_symbol,omitempty"`

	Class    string          `json:"class"`
	Protocol string          `json:"protocol"`
	Interval config.Duration `json:"interval,omitempty"`
}

// Symbols returns the exported function names.
func (c Config) Symbols() Symbols {
	id := c.IDSymbol
	if id == "" {
		id = "path"
	}
	return Symbols{
		Count: c.SymbolPrefix + "_device_count",
		ID:    c.SymbolPrefix + "_device_" + id,
		Name:  c.SymbolPrefix + "_device_name",
		Free:  c.SymbolPrefix + "_free_string",
	}
}

// Validate checks the required fields.
func (c Config) Validate() error {
	if c.Library == "" || c.SymbolPrefix == "" || c.Class == "" || c.Protocol == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: library, symbol_prefix, class and protocol are required", errors.ErrMissingConfig),
			"sharedlib", "Validate", "config check")
	}
	if c.Interval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "sharedlib", "Validate", "negative interval")
	}
	return nil
}

// Symbols names the functions resolved from the library.
type Symbols struct {
	Count string
	ID    string
	Name  string
	Free  string
}

// Device is one entry reported by the library.
type Device struct {
	ID   string
	Name string
}

// Library enumerates devices.
type Library interface {
	Devices() ([]Device, error)
	Close() error
}

// Detector polls a native library for devices.
type Detector struct {
	*detector.Base
	cfg     Config
	deps    detector.Dependencies
	logger  *slog.Logger
	tracker *detector.Tracker
	open    func(path string, sym Symbols) (Library, error)

	mu       sync.Mutex
	lib      Library
	interval detector.Interval
}

// New creates a shared library detector.
func New(name string, cfg Config, deps detector.Dependencies) (*Detector, error) {
	if cfg.Interval == 0 {
		cfg.Interval = config.Duration(5 * time.Second)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{
		Base:     detector.NewBase(name, nil),
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Log().With("detector", name, "type", Type),
		open:     openLibrary,
		interval: detector.Interval{Every: cfg.Interval.Std()},
	}
	d.tracker = detector.NewTracker(d.Base)
	return d, nil
}

// Factory creates a shared library detector from JSON.
func Factory(name string, raw json.RawMessage, deps detector.Dependencies) (detector.Detector, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "sharedlib", "Factory", "parse config")
	}
	return New(name, cfg, deps)
}

// Register registers the shared library detector type.
func Register(reg *detector.Registry) error {
	return reg.RegisterFactory(&detector.Registration{
		Type:        Type,
		Description: "Devices enumerated by a native library loaded at runtime",
		Factory:     Factory,
	})
}

// Start loads the library. A missing library leaves the detector inert.
func (d *Detector) Start(_ context.Context) error {
	path := findLibrary(d.cfg.Library, d.cfg.SearchPaths)
	if path == "" {
		return errors.WrapTransient(errors.ErrDetectorUnavailable, "sharedlib", "Start",
			d.cfg.Library+" not found")
	}

	lib, err := d.open(path, d.cfg.Symbols())
	if err != nil {
		return errors.WrapTransient(errors.ErrDetectorUnavailable, "sharedlib", "Start",
			"load "+path+": "+err.Error())
	}

	d.mu.Lock()
	d.lib = lib
	d.mu.Unlock()

	d.logger.Info("Device library loaded", "path", path)
	return nil
}

// Update enumerates the devices when the poll interval has elapsed.
func (d *Detector) Update() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lib == nil || !d.interval.Due(d.deps.Now()) {
		return 0
	}

	devices, err := d.lib.Devices()
	if err != nil {
		d.logger.Warn("Device enumeration failed", "error", err)
		return 0
	}

	found := make(map[string]message.Dict, len(devices))
	for _, dev := range devices {
		if dev.ID == "" {
			continue
		}
		id := d.Name() + ":" + dev.ID
		found[id] = resource.Info{
			Class:    d.cfg.Class,
			URI:      d.cfg.Protocol + "://" + dev.ID,
			Label:    dev.Name,
			Hash:     d.cfg.Protocol + ":" + dev.ID,
			Priority: resource.PriorityDefault,
		}.Dict()
	}
	return d.tracker.Sync(found)
}

// Close withdraws the devices and unloads the library.
func (d *Detector) Close() error {
	d.mu.Lock()
	lib := d.lib
	d.lib = nil
	d.tracker.Reset()
	d.mu.Unlock()

	var err error
	if lib != nil {
		err = lib.Close()
	}
	if cerr := d.Base.Close(); err == nil {
		err = cerr
	}
	return err
}

// findLibrary resolves name against the search paths, the executable's
// directory and the system library directories. An absolute name is used
// as is.
func findLibrary(name string, searchPaths []string) string {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err == nil {
			return name
		}
		return ""
	}

	paths := append([]string{}, searchPaths...)
	if env := os.Getenv("RESOURCEBUS_LIB_PATH"); env != "" {
		paths = append(paths, filepath.SplitList(env)...)
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Dir(exe))
	}
	paths = append(paths, "/usr/local/lib", "/usr/lib")

	for _, p := range paths {
		if p == "" {
			continue
		}
		candidate := filepath.Join(p, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
