//go:build integration

package natsbridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resourcebus/detector"
	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/natsclient"
	"github.com/c360/resourcebus/resource"
)

func TestBridgeBetweenInstances(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	deps := detector.Dependencies{NATS: tc.Client}
	alpha, err := New("bridge", Config{Instance: "alpha"}, deps)
	require.NoError(t, err)
	beta, err := New("bridge", Config{Instance: "beta"}, deps)
	require.NoError(t, err)
	defer beta.Close()

	rec := &recorded{}
	beta.Controllable().EvtHub().Connect(recorder(rec))

	require.NoError(t, alpha.Start(ctx))
	require.NoError(t, beta.Start(ctx))

	dict := resource.Info{Class: "audio.player", URI: "mpd://alpha:6600", Label: "Kitchen"}.Dict()
	alpha.Controllable().CmdSink().PutEvent(message.ResourceAdded{ID: "mpd", Dict: dict})

	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, 10*time.Second, 50*time.Millisecond)
	added := rec.get()[0].(message.ResourceAdded)
	assert.Equal(t, "natsbridge:alpha:mpd", added.ID)
	assert.Equal(t, resource.PriorityMax, resource.NewEntry(added.ID, added.Dict).Priority())
	assert.True(t, beta.Health().IsHealthy())

	// Closing alpha deletes its keys, which beta reports as withdrawn.
	require.NoError(t, alpha.Close())
	require.Eventually(t, func() bool { return len(rec.get()) == 2 }, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, message.ResourceDeleted{ID: "natsbridge:alpha:mpd"}, rec.get()[1])
}
