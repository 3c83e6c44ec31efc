package adb

import (
	"context"
	"encoding/json"
	"testing"

	goadb "github.com/basiooo/goadb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resourcebus/bus"
	"github.com/c360/resourcebus/detector"
	"github.com/c360/resourcebus/errors"
	"github.com/c360/resourcebus/message"
)

func TestHandleStateChanges(t *testing.T) {
	d, err := New("phones", Config{}, detector.Dependencies{})
	require.NoError(t, err)
	defer d.Close()

	var events []string
	d.Controllable().EvtHub().Connect(bus.NewSink(func(m *message.Message) bool {
		switch ev := message.Decode(m).(type) {
		case message.ResourceAdded:
			uri, _ := ev.Dict.GetString("uri")
			events = append(events, "+"+ev.ID+" "+uri)
		case message.ResourceDeleted:
			events = append(events, "-"+ev.ID)
		}
		return true
	}, true))

	d.handle(goadb.DeviceStateChangedEvent{Serial: "emulator-5554", OldState: goadb.StateDisconnected, NewState: goadb.StateOffline})
	d.handle(goadb.DeviceStateChangedEvent{Serial: "emulator-5554", OldState: goadb.StateOffline, NewState: goadb.StateOnline})
	d.handle(goadb.DeviceStateChangedEvent{Serial: "emulator-5554", OldState: goadb.StateOnline, NewState: goadb.StateOnline})
	assert.Equal(t, 1, d.Health().Metrics.Resources)
	d.handle(goadb.DeviceStateChangedEvent{Serial: "emulator-5554", OldState: goadb.StateOnline, NewState: goadb.StateDisconnected})

	assert.Equal(t, []string{
		"+adb:emulator-5554 adb://emulator-5554",
		"-adb:emulator-5554",
	}, events)
	assert.True(t, d.Health().IsHealthy())
}

func TestStartWithoutServerIsInert(t *testing.T) {
	d, err := Factory("phones", json.RawMessage(`{"host": "127.0.0.1", "port": 1}`), detector.Dependencies{})
	require.NoError(t, err)

	err = d.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDetectorUnavailable)
	assert.True(t, errors.IsTransient(err))
	require.NoError(t, d.Close())
}

func TestConfig(t *testing.T) {
	d, err := Factory("phones", json.RawMessage(`{}`), detector.Dependencies{})
	require.NoError(t, err)
	a := d.(*Detector)
	assert.Equal(t, goadb.AdbPort, a.cfg.Port)
	assert.Equal(t, "hardware.android", a.cfg.Class)

	_, err = New("phones", Config{Port: 70000}, detector.Dependencies{})
	assert.True(t, errors.IsInvalid(err))
}
