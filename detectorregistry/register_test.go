package detectorregistry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resourcebus/detector"
	"github.com/c360/resourcebus/errors"
)

func TestRegisterBuiltins(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	var types []string
	for _, r := range reg.Types() {
		types = append(types, r.Type)
		assert.NotEmpty(t, r.Description, r.Type)
	}
	assert.Equal(t, []string{"adb", "devnode", "mounts", "natsbridge", "sharedlib", "static"}, types)

	// Registering twice fails on the first duplicate.
	err = Register(reg)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterNilRegistry(t *testing.T) {
	err := Register(nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestBuiltinsAcceptEmptyConfig(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	for _, typ := range []string{"static", "devnode", "mounts", "adb", "natsbridge"} {
		d, err := reg.Create(typ, "d-"+typ, json.RawMessage(`{}`), detector.Dependencies{})
		require.NoError(t, err, typ)
		assert.Equal(t, "d-"+typ, d.Name())
		require.NoError(t, d.Close(), typ)
	}

	// sharedlib needs a library name.
	_, err = reg.Create("sharedlib", "lib", json.RawMessage(`{}`), detector.Dependencies{})
	assert.Error(t, err)
}
