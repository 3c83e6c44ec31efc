package detector

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resourcebus/errors"
)

type nopDetector struct {
	name string
	cfg  map[string]any
}

func (d *nopDetector) Name() string { return d.name }
func (d *nopDetector) Start(_ context.Context) error { return nil }
func (d *nopDetector) Close() error { return nil }

func nopFactory(name string, raw json.RawMessage, _ Dependencies) (Detector, error) {
	d := &nopDetector{name: name}
	if err := json.Unmarshal(raw, &d.cfg); err != nil {
		return nil, errors.WrapInvalid(err, "nop", "factory", "parse config")
	}
	return d, nil
}

func TestRegistryCreate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFactory(&Registration{Type: "nop", Description: "does nothing", Factory: nopFactory}))

	d, err := r.Create("nop", "first", json.RawMessage(`{"x":1}`), Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, "first", d.Name())
	assert.Equal(t, 1.0, d.(*nopDetector).cfg["x"])

	// Empty config is treated as an empty object.
	_, err = r.Create("nop", "second", nil, Dependencies{})
	require.NoError(t, err)
}

func TestRegistryErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFactory(&Registration{Type: "nop", Factory: nopFactory}))

	tests := []struct {
		name string
		err  func() error
		want error
	}{
		{"duplicate type", func() error {
			return r.RegisterFactory(&Registration{Type: "nop", Factory: nopFactory})
		}, nil},
		{"missing factory", func() error {
			return r.RegisterFactory(&Registration{Type: "other"})
		}, errors.ErrInvalidConfig},
		{"bad type", func() error {
			return r.RegisterFactory(&Registration{Type: "has space", Factory: nopFactory})
		}, nil},
		{"unknown type", func() error {
			_, err := r.Create("missing", "x", nil, Dependencies{})
			return err
		}, errors.ErrUnknownDetector},
		{"bad name", func() error {
			_, err := r.Create("nop", "../etc", nil, Dependencies{})
			return err
		}, nil},
		{"bad config", func() error {
			_, err := r.Create("nop", "x", json.RawMessage(`[`), Dependencies{})
			return err
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.err()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestRegistryTypesSorted(t *testing.T) {
	r := NewRegistry()
	for _, typ := range []string{"static", "adb", "natsbridge"} {
		require.NoError(t, r.RegisterFactory(&Registration{Type: typ, Factory: nopFactory}))
	}

	var names []string
	for _, reg := range r.Types() {
		names = append(names, reg.Type)
	}
	assert.Equal(t, []string{"adb", "natsbridge", "static"}, names)
}
