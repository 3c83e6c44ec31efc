// Package detectorregistry registers the built-in detector types.
package detectorregistry

import (
	stderrors "errors"

	"github.com/c360/resourcebus/detector"
	"github.com/c360/resourcebus/detector/adb"
	"github.com/c360/resourcebus/detector/devnode"
	"github.com/c360/resourcebus/detector/mounts"
	"github.com/c360/resourcebus/detector/natsbridge"
	"github.com/c360/resourcebus/detector/sharedlib"
	"github.com/c360/resourcebus/detector/static"
	"github.com/c360/resourcebus/errors"
)

// Register registers all built-in detector types with registry:
//
// Configuration:
//   - static (fixed resource list, optional TTL)
//
// Local hardware:
//   - devnode (device nodes matched by glob)
//   - mounts (removable storage mount points)
//   - adb (Android devices on the ADB server)
//   - sharedlib (device enumeration through a native library)
//
// Network:
//   - natsbridge (resources shared between instances over NATS KV)
func Register(registry *detector.Registry) error {
	// Nil registry is a programming error.
	if registry == nil {
		return errors.WrapFatal(stderrors.New("registry cannot be nil"),
			"DetectorRegistry", "Register", "registry validation")
	}

	registrations := []struct {
		name     string
		register func(*detector.Registry) error
	}{
		{"static", static.Register},
		{"devnode", devnode.Register},
		{"mounts", mounts.Register},
		{"adb", adb.Register},
		{"sharedlib", sharedlib.Register},
		{"natsbridge", natsbridge.Register},
	}
	for _, r := range registrations {
		if err := r.register(registry); err != nil {
			return errors.WrapInvalid(err, "DetectorRegistry", "Register", r.name+" detector registration")
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in detector types.
func NewRegistry() (*detector.Registry, error) {
	reg := detector.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
