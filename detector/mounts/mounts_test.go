package mounts

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resourcebus/bus"
	"github.com/c360/resourcebus/detector"
	"github.com/c360/resourcebus/errors"
	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/resource"
)

func newTestDetector(t *testing.T, cfg Config, parts *[]disk.PartitionStat) (*Detector, *[]string) {
	t.Helper()
	d, err := New("media", cfg, detector.Dependencies{})
	require.NoError(t, err)
	d.partitions = func(context.Context) ([]disk.PartitionStat, error) { return *parts, nil }
	d.usage = func(_ context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Total: 1 << 30}, nil
	}
	d.interval.Every = 0

	var events []string
	d.Controllable().EvtHub().Connect(bus.NewSink(func(m *message.Message) bool {
		switch ev := message.Decode(m).(type) {
		case message.ResourceAdded:
			e := resource.NewEntry(ev.ID, ev.Dict)
			events = append(events, "+"+e.URI())
		case message.ResourceDeleted:
			events = append(events, "-"+ev.ID)
		}
		return true
	}, true))
	return d, &events
}

func TestMountScan(t *testing.T) {
	parts := []disk.PartitionStat{
		{Device: "/dev/sda1", Mountpoint: "/", Fstype: "ext4"},
		{Device: "/dev/sdb1", Mountpoint: "/media/user/STICK", Fstype: "vfat"},
	}
	d, events := newTestDetector(t, Config{}, &parts)
	require.NoError(t, d.Start(context.Background()))

	assert.Equal(t, 1, d.Update())
	assert.Equal(t, []string{"+file:///media/user/STICK"}, *events)

	parts = parts[:1]
	assert.Equal(t, 1, d.Update())
	assert.Equal(t, "-mounts:/media/user/STICK", (*events)[1])

	require.NoError(t, d.Close())
}

func TestFSTypeFilter(t *testing.T) {
	parts := []disk.PartitionStat{
		{Device: "/dev/sdb1", Mountpoint: "/mnt/a", Fstype: "vfat"},
		{Device: "/dev/sdc1", Mountpoint: "/mnt/b", Fstype: "ext4"},
	}
	d, events := newTestDetector(t, Config{FSTypes: []string{"ext4"}, Class: "hardware.storage"}, &parts)
	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, 1, d.Update())
	assert.Equal(t, []string{"+file:///mnt/b"}, *events)
	require.NoError(t, d.Close())
}

func TestStartFailsWhenMountTableUnreadable(t *testing.T) {
	d, err := New("media", Config{}, detector.Dependencies{})
	require.NoError(t, err)
	d.partitions = func(context.Context) ([]disk.PartitionStat, error) { return nil, fmt.Errorf("no procfs") }

	err = d.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrDetectorUnavailable)
	assert.Equal(t, 0, d.Update())
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "STICK", label("/media/user/STICK"))
	assert.Equal(t, "b", label("/mnt/b/"))
	assert.Equal(t, "/", label("/"))
}

func TestFactoryDefaults(t *testing.T) {
	d, err := Factory("media", json.RawMessage(`{"interval": "1s"}`), detector.Dependencies{})
	require.NoError(t, err)
	m := d.(*Detector)
	assert.Equal(t, time.Second, m.cfg.Interval.Std())
	assert.Equal(t, "hardware.storage.removable", m.cfg.Class)
	assert.NotEmpty(t, m.cfg.MountPrefixes)
}
