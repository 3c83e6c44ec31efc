package detector

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/c360/resourcebus/bus"
	"github.com/c360/resourcebus/message"
)

// record connects a recorder to b's event hub and returns a function
// yielding the events as "+id" and "-id".
func record(b *Base) func() []string {
	var mu sync.Mutex
	var out []string
	b.Controllable().EvtHub().Connect(bus.NewSink(func(m *message.Message) bool {
		mu.Lock()
		defer mu.Unlock()
		switch ev := message.Decode(m).(type) {
		case message.ResourceAdded:
			out = append(out, "+"+ev.ID)
		case message.ResourceDeleted:
			out = append(out, "-"+ev.ID)
		}
		return true
	}, true))
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), out...)
	}
}

func TestTrackerSync(t *testing.T) {
	b := NewBase("scan", nil)
	defer b.Close()
	events := record(b)
	tr := NewTracker(b)

	assert.Equal(t, 2, tr.Sync(map[string]message.Dict{"b": {}, "a": {}}))
	assert.Equal(t, 0, tr.Sync(map[string]message.Dict{"a": {}, "b": {}}))
	assert.Equal(t, 2, tr.Sync(map[string]message.Dict{"b": {}, "c": {}}))
	assert.Equal(t, 2, tr.Len())
	assert.Equal(t, 2, tr.Reset())
	assert.Equal(t, 0, tr.Len())

	assert.Equal(t, []string{"+a", "+b", "-a", "+c", "-b", "-c"}, events())
}

func TestInterval(t *testing.T) {
	start := time.Unix(1000, 0)
	iv := Interval{Every: time.Second}

	assert.True(t, iv.Due(start))
	assert.False(t, iv.Due(start.Add(500*time.Millisecond)))
	assert.True(t, iv.Due(start.Add(time.Second)))

	var zero Interval
	assert.True(t, zero.Due(start))
	assert.True(t, zero.Due(start))
}
