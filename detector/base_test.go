package detector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resourcebus/bus"
	"github.com/c360/resourcebus/message"
)

func TestBaseAnnounceAndWithdraw(t *testing.T) {
	b := NewBase("test", nil)
	defer b.Close()

	var mu sync.Mutex
	var got []message.Event
	sink := bus.NewSink(func(m *message.Message) bool {
		mu.Lock()
		got = append(got, message.Decode(m.Clone()))
		mu.Unlock()
		return true
	}, true)
	b.Controllable().EvtHub().Connect(sink)

	b.Announce("r1", message.Dict{"uri": message.String("x://1")})
	b.Withdraw("r1")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	added, ok := got[0].(message.ResourceAdded)
	require.True(t, ok)
	assert.Equal(t, "r1", added.ID)
	assert.Equal(t, message.ResourceDeleted{ID: "r1"}, got[1])
}

func TestBaseDeliversCommands(t *testing.T) {
	cmds := make(chan message.Event, 4)
	b := NewBase("test", func(ev message.Event) { cmds <- ev })
	b.StartCommands(context.Background())
	b.StartCommands(context.Background())

	b.Controllable().CmdSink().PutEvent(message.ResourceDeleted{ID: "local"})

	select {
	case ev := <-cmds:
		assert.Equal(t, message.ResourceDeleted{ID: "local"}, ev)
	case <-time.After(time.Second):
		t.Fatal("command not delivered")
	}
	require.NoError(t, b.Close())
}

func TestBaseWithoutCommandHandler(t *testing.T) {
	b := NewBase("test", nil)
	b.StartCommands(context.Background())
	b.Controllable().CmdSink().PutEvent(message.ResourceDeleted{ID: "ignored"})
	assert.Equal(t, "test", b.Name())
	require.NoError(t, b.Close())
}

func TestDependenciesDefaults(t *testing.T) {
	var d Dependencies
	assert.NotNil(t, d.Log())
	assert.WithinDuration(t, time.Now(), d.Now(), time.Second)

	fixed := time.Unix(100, 0)
	d.Clock = func() time.Time { return fixed }
	assert.Equal(t, fixed, d.Now())
}
