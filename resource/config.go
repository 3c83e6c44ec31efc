package resource

import (
	"log/slog"
	"strings"
	"time"

	"github.com/c360/resourcebus/detector"
	"github.com/c360/resourcebus/metric"
)

// DefaultIdleSleep is how long the worker sleeps after a tick without work.
const DefaultIdleSleep = 50 * time.Millisecond

// Config holds manager settings.
type Config struct {
	// IdleSleep is the pause after an idle tick.
	IdleSleep time.Duration `json:"idle_sleep"`

	// SupportedProtocols and SupportedClasses restrict which remote
	// resources are broadcast. An entry is supported if its protocol is
	// listed and its class starts with one of the class prefixes. Empty
	// lists allow everything.
	SupportedProtocols []string `json:"supported_protocols,omitempty"`
	SupportedClasses   []string `json:"supported_classes,omitempty"`

	// QueueCapacity sizes the command and detector queues.
	QueueCapacity int `json:"queue_capacity,omitempty"`
}

// DefaultConfig returns the default manager settings.
func DefaultConfig() Config {
	return Config{IdleSleep: DefaultIdleSleep}
}

// SupportFunc decides whether an entry is broadcast.
func (c Config) SupportFunc() func(Entry) bool {
	protocols := make(map[string]bool, len(c.SupportedProtocols))
	for _, p := range c.SupportedProtocols {
		protocols[strings.ToLower(p)] = true
	}
	classes := append([]string(nil), c.SupportedClasses...)

	return func(e Entry) bool {
		if len(protocols) > 0 && !protocols[e.Protocol()] {
			return false
		}
		if len(classes) == 0 {
			return true
		}
		for _, prefix := range classes {
			if strings.HasPrefix(e.Class(), prefix) {
				return true
			}
		}
		return false
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics exports manager metrics.
func WithMetrics(reg *metric.MetricsRegistry) Option {
	return func(m *Manager) { m.metrics = reg.CoreMetrics() }
}

// WithClock replaces time.Now, e.g. for expiry tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithSupportFunc overrides the support check derived from Config.
func WithSupportFunc(fn func(Entry) bool) Option {
	return func(m *Manager) {
		if fn != nil {
			m.supported = fn
		}
	}
}

// WithDetectors adds detectors. The manager owns them and closes them on Stop.
func WithDetectors(ds ...detector.Detector) Option {
	return func(m *Manager) { m.detectors = append(m.detectors, ds...) }
}
