package sharedlib

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resourcebus/bus"
	"github.com/c360/resourcebus/detector"
	"github.com/c360/resourcebus/errors"
	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/resource"
)

type fakeLibrary struct {
	devices []Device
	closed  bool
}

func (f *fakeLibrary) Devices() ([]Device, error) { return f.devices, nil }
func (f *fakeLibrary) Close() error {
	f.closed = true
	return nil
}

const v4l2Config = `{
	"library": "libstream_v4l2.so",
	"symbol_prefix": "stream_v4l2",
	"class": "hardware.video.capture",
	"protocol": "v4l2",
	"interval": "1ns"
}`

func TestSymbols(t *testing.T) {
	cfg := Config{SymbolPrefix: "stream_alsa_input", IDSymbol: "id"}
	assert.Equal(t, Symbols{
		Count: "stream_alsa_input_device_count",
		ID:    "stream_alsa_input_device_id",
		Name:  "stream_alsa_input_device_name",
		Free:  "stream_alsa_input_free_string",
	}, cfg.Symbols())
	assert.Equal(t, "stream_v4l2_device_path", Config{SymbolPrefix: "stream_v4l2"}.Symbols().ID)
}

func TestEnumeration(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "libstream_v4l2.so"), nil, 0600))

	raw := json.RawMessage(v4l2Config)
	var cfg Config
	require.NoError(t, json.Unmarshal(raw, &cfg))
	cfg.SearchPaths = []string{dir}

	d, err := New("cams", cfg, detector.Dependencies{})
	require.NoError(t, err)

	lib := &fakeLibrary{devices: []Device{{ID: "/dev/video0", Name: "Integrated Camera"}}}
	var opened string
	d.open = func(path string, sym Symbols) (Library, error) {
		opened = path
		assert.Equal(t, "stream_v4l2_device_count", sym.Count)
		return lib, nil
	}

	var added []resource.Entry
	var deleted []string
	d.Controllable().EvtHub().Connect(bus.NewSink(func(m *message.Message) bool {
		switch ev := message.Decode(m.Clone()).(type) {
		case message.ResourceAdded:
			added = append(added, resource.NewEntry(ev.ID, ev.Dict))
		case message.ResourceDeleted:
			deleted = append(deleted, ev.ID)
		}
		return true
	}, true))

	assert.Equal(t, 0, d.Update(), "not loaded")
	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, filepath.Join(dir, "libstream_v4l2.so"), opened)

	assert.Equal(t, 1, d.Update())
	require.Len(t, added, 1)
	assert.Equal(t, "cams:/dev/video0", added[0].ID())
	assert.Equal(t, "v4l2:///dev/video0", added[0].URI())
	assert.Equal(t, "Integrated Camera", added[0].Label())

	require.NoError(t, d.Close())
	assert.True(t, lib.closed)
	assert.Equal(t, []string{"cams:/dev/video0"}, deleted)
}

func TestMissingLibraryIsInert(t *testing.T) {
	d, err := Factory("cams", json.RawMessage(`{
		"library": "libdoes_not_exist_42.so",
		"symbol_prefix": "x", "class": "c", "protocol": "p"
	}`), detector.Dependencies{})
	require.NoError(t, err)

	err = d.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrDetectorUnavailable)
	assert.True(t, errors.IsTransient(err))
	require.NoError(t, d.Close())
}

func TestNativeLoadFailure(t *testing.T) {
	dir := t.TempDir()
	bogus := filepath.Join(dir, "libbogus.so")
	require.NoError(t, os.WriteFile(bogus, []byte("not an ELF file"), 0600))

	d, err := New("cams", Config{Library: bogus, SymbolPrefix: "x", Class: "c", Protocol: "p"}, detector.Dependencies{})
	require.NoError(t, err)
	err = d.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrDetectorUnavailable)
}

func TestValidate(t *testing.T) {
	_, err := New("cams", Config{Library: "lib.so"}, detector.Dependencies{})
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}
