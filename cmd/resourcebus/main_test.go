package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/resource"
)

const listConfig = `{
  "manager": {"idle_sleep": "10ms"},
  "detectors": {
    "fixed": {
      "type": "static",
      "enabled": true,
      "config": {
        "resources": [
          {"id": "r2", "class": "item.renderer.audio", "uri": "mpd://b:6600", "label": "Bedroom"},
          {"id": "r1", "class": "item.renderer.audio", "uri": "mpd://a:6600", "label": "Attic"},
          {"id": "s1", "class": "item.server", "uri": "upnp://srv", "label": "Server"}
        ]
      }
    },
    "off": {"type": "adb", "enabled": false}
  }
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"-version"}, &stdout, &stderr))
	assert.Equal(t, "resourcebus version "+Version+"\n", stdout.String())
}

func TestRunValidate(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := writeConfig(t, listConfig)
	require.NoError(t, run([]string{"-config", path, "-validate"}, &stdout, &stderr))
	assert.Empty(t, stdout.String())

	bad := writeConfig(t, `{"detectors": {"x": {"enabled": true}}}`)
	assert.Error(t, run([]string{"-config", bad, "-validate"}, &stdout, &stderr))
}

func TestRunListByClass(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := writeConfig(t, listConfig)

	err := run([]string{"-config", path, "-list-class", "item.renderer", "-wait", "200ms"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "Attic\tmpd://a:6600\nBedroom\tmpd://b:6600\n", stdout.String())
}

func TestRunListByProtocolExact(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := writeConfig(t, listConfig)

	err := run([]string{"-config", path, "-list-protocol", "upnp", "-exact", "-wait", "200ms"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "Server\tupnp://srv\n", stdout.String())
}

func TestRunUnknownDetectorType(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := writeConfig(t, `{"detectors": {"x": {"type": "nope", "enabled": true}}}`)
	err := run([]string{"-config", path, "-list-class", "a", "-wait", "0s"}, &stdout, &stderr)
	assert.ErrorContains(t, err, "create detector x")
}

func TestPrintResources(t *testing.T) {
	var buf bytes.Buffer
	entries := []resource.Entry{
		resource.NewEntry("a", resource.Info{URI: "v4l2:///dev/video0", Label: "Camera"}.Dict()),
		resource.NewEntry("nolabel", resource.Info{URI: "x://y"}.Dict()),
	}
	require.NoError(t, printResources(&buf, entries))
	assert.Equal(t, "Camera\tv4l2:///dev/video0\nnolabel\tx://y\n", buf.String())
}

type fakePublisher struct {
	mu  sync.Mutex
	got map[string][]byte
}

func (p *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got[subject] = data
	return nil
}

func (p *fakePublisher) get(subject string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.got[subject]
}

func TestEventMirrorPublishes(t *testing.T) {
	pub := &fakePublisher{got: make(map[string][]byte)}
	mgr := resource.NewManager(resource.Config{IdleSleep: 5 * time.Millisecond})
	require.NoError(t, mgr.Start(context.Background()))
	defer mgr.Stop(time.Second)

	mirror := newEventMirror("resourcebus.events", pub, nil, setupLogger(&bytes.Buffer{}, "debug", "text"))
	require.NoError(t, mirror.Start(context.Background(), mgr.Controllable()))

	mgr.Publish("local", resource.Info{Class: "audio.recorder", URI: "pulse://mic"}.Dict())
	require.Eventually(t, func() bool { return pub.get("resourcebus.events.added") != nil },
		time.Second, 10*time.Millisecond)

	m, err := message.Unmarshal(pub.get("resourcebus.events.added"))
	require.NoError(t, err)
	added, ok := message.Decode(m).(message.ResourceAdded)
	require.True(t, ok)
	assert.Equal(t, "local", added.ID)

	mgr.Unpublish("local")
	require.Eventually(t, func() bool { return pub.get("resourcebus.events.deleted") != nil },
		time.Second, 10*time.Millisecond)

	require.NoError(t, mirror.Stop(mgr.Controllable(), time.Second))
}

func TestEventMirrorWithoutNATSOnlyLogs(t *testing.T) {
	var logs bytes.Buffer
	mgr := resource.NewManager(resource.Config{IdleSleep: 5 * time.Millisecond})
	require.NoError(t, mgr.Start(context.Background()))
	defer mgr.Stop(time.Second)

	mirror := newEventMirror("", nil, nil, setupLogger(&syncWriter{w: &logs}, "info", "text"))
	assert.Nil(t, mirror.pool)
	require.NoError(t, mirror.Start(context.Background(), mgr.Controllable()))
	defer mirror.Stop(mgr.Controllable(), time.Second)

	mgr.Publish("local", resource.Info{Class: "audio.recorder", URI: "pulse://mic"}.Dict())
	require.Eventually(t, func() bool {
		return bytes.Contains(syncBytes(&logs), []byte("Resource added"))
	}, time.Second, 10*time.Millisecond)
}

var logMu sync.Mutex

type syncWriter struct{ w *bytes.Buffer }

func (s *syncWriter) Write(p []byte) (int, error) {
	logMu.Lock()
	defer logMu.Unlock()
	return s.w.Write(p)
}

func syncBytes(b *bytes.Buffer) []byte {
	logMu.Lock()
	defer logMu.Unlock()
	return append([]byte(nil), b.Bytes()...)
}

func TestLocalResourcesFromConfig(t *testing.T) {
	path := writeConfig(t, `{
  "manager": {"idle_sleep": "5ms"},
  "local": [
    {"id": "srv", "class": "item.server", "uri": "upnp://me", "label": "Me", "extra": {"model": "rb1"}},
    {"id": "mic", "class": "audio.recorder", "uri": "pulse://mic", "hash": "mic-1"}
  ]
}`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Local, 2)

	mgr := resource.NewManager(managerConfig(cfg.Manager))
	require.NoError(t, mgr.Start(context.Background()))
	defer mgr.Stop(time.Second)

	publishLocal(mgr, cfg.Local)
	require.Eventually(t, func() bool { return mgr.Len(resource.Local) == 2 }, time.Second, 5*time.Millisecond)

	srv, err := mgr.GetByID(resource.Local, "srv")
	require.NoError(t, err)
	assert.Equal(t, "Me", srv.Label())
	model, _ := srv.Dict().GetString("model")
	assert.Equal(t, "rb1", model)

	mic, err := mgr.GetByID(resource.Local, "mic")
	require.NoError(t, err)
	assert.Equal(t, "mic-1", mic.Hash())

	unpublishLocal(mgr, cfg.Local)
	require.Eventually(t, func() bool { return mgr.Len(resource.Local) == 0 }, time.Second, 5*time.Millisecond)
}

func TestRunValidateRejectsBadLocal(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := writeConfig(t, `{"local": [{"id": "x", "class": "item.server"}]}`)
	assert.Error(t, run([]string{"-config", path, "-validate"}, &stdout, &stderr))
}
