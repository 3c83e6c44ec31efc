// Package detector defines the contract between the resource manager and
// the plugins that discover resources.
//
// Every detector implements Detector. A detector that reports resources
// asynchronously also implements EventSource and emits ResourceAdded and
// ResourceDeleted events on its controllable's hub. A detector without its
// own goroutine implements Poller; the manager calls Update once per tick.
// A detector whose backend is unreachable stays inert: Start returns an
// error wrapping errors.ErrDetectorUnavailable and the manager ignores it.
package detector

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/resourcebus/bus"
	"github.com/c360/resourcebus/health"
	"github.com/c360/resourcebus/metric"
	"github.com/c360/resourcebus/natsclient"
)

// Detector is a resource discovery plugin.
type Detector interface {
	Name() string

	// Start connects to the backend. It must not block for the lifetime
	// of the detector.
	Start(ctx context.Context) error

	Close() error
}

// EventSource is implemented by detectors that report resources through
// events. Local resources published on the manager are sent to the
// controllable's command sink.
type EventSource interface {
	Controllable() *bus.Controllable
}

// Poller is implemented by detectors that do their work when polled.
// Update returns the number of work items handled.
type Poller interface {
	Update() int
}

// HealthReporter is implemented by detectors that report backend health.
type HealthReporter interface {
	Health() health.Status
}

// Dependencies are the shared services handed to detector factories.
type Dependencies struct {
	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry

	// NATS is nil when no NATS server is configured.
	NATS *natsclient.Client

	// Clock returns the current time. Detectors stamp expire times with it.
	Clock func() time.Time
}

// Now returns the current time from deps.Clock or time.Now.
func (d Dependencies) Now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

// Log returns deps.Logger or the default logger.
func (d Dependencies) Log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Factory creates a detector from its raw JSON configuration. It must not
// perform I/O; that belongs in Start.
type Factory func(name string, rawConfig json.RawMessage, deps Dependencies) (Detector, error)
