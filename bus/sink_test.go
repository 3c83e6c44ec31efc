package bus

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/pkg/buffer"
)

func deleted(id string) *message.Message {
	return message.FromEvent(message.ResourceDeleted{ID: id})
}

func TestSyncSinkRunsHandlerInline(t *testing.T) {
	var got []string
	s := NewSink(func(m *message.Message) bool {
		got = append(got, m.Header.ContextID)
		return true
	}, true)

	s.PutCopy(deleted("a"))
	m := s.Get()
	message.Encode(message.ResourceDeleted{ID: "b"}, m)
	s.Put(m)

	assert.Equal(t, []string{"a", "b"}, got)
	_, _, ok := s.Peek()
	assert.False(t, ok)
	assert.False(t, s.Wait(time.Millisecond))
}

func TestAsyncSinkQueuesUntilIteration(t *testing.T) {
	var got []string
	s := NewSink(func(m *message.Message) bool {
		got = append(got, m.Header.ContextID)
		return true
	}, false)

	for _, id := range []string{"a", "b", "c"} {
		s.PutCopy(deleted(id))
	}
	assert.Empty(t, got)
	assert.Equal(t, 3, s.Pending())

	ns, id, ok := s.Peek()
	require.True(t, ok)
	assert.Equal(t, message.NSResource, ns)
	assert.Equal(t, message.IDResourceDeleted, id)
	assert.Equal(t, 3, s.Pending())

	n, keep := s.Iteration()
	assert.Equal(t, 3, n)
	assert.True(t, keep)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestIterationStops(t *testing.T) {
	t.Run("handler returns false", func(t *testing.T) {
		calls := 0
		s := NewSink(func(*message.Message) bool {
			calls++
			return calls < 2
		}, false)
		for i := 0; i < 4; i++ {
			s.PutCopy(deleted("x"))
		}
		n, keep := s.Iteration()
		assert.Equal(t, 2, n)
		assert.False(t, keep)
		assert.Equal(t, 2, s.Pending())
	})

	t.Run("quit", func(t *testing.T) {
		calls := 0
		s := NewSink(func(*message.Message) bool {
			calls++
			return true
		}, false)
		s.PutCopy(deleted("x"))
		s.PutEvent(message.Quit{})
		s.PutCopy(deleted("y"))

		n, keep := s.Iteration()
		assert.Equal(t, 1, n)
		assert.False(t, keep)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, s.Pending())
	})
}

func TestSinkWait(t *testing.T) {
	s := NewSink(nil, false)

	start := time.Now()
	assert.False(t, s.Wait(25*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	go func() {
		time.Sleep(5 * time.Millisecond)
		s.PutCopy(deleted("a"))
	}()
	assert.True(t, s.Wait(time.Second))
}

func TestHandlerDoesNotSeeRecycledSlot(t *testing.T) {
	var kept []*message.Message
	s := NewSink(func(m *message.Message) bool {
		kept = append(kept, m.Clone())
		return true
	}, false)

	s.PutCopy(deleted("a"))
	s.Iteration()
	s.PutCopy(deleted("b"))
	s.Iteration()

	require.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].Header.ContextID)
	assert.Equal(t, "b", kept[1].Header.ContextID)
}

func TestConcurrentWritersAreSerialized(t *testing.T) {
	var mu sync.Mutex
	count := 0
	s := NewSink(func(*message.Message) bool {
		mu.Lock()
		count++
		mu.Unlock()
		return true
	}, false, WithQueueCapacity(8), WithOverflowPolicy(buffer.Block))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, 5*time.Millisecond)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.PutCopy(deleted("x"))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 200
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHasID(t *testing.T) {
	s := NewSink(nil, true)
	assert.True(t, s.HasID(""))
	assert.False(t, s.HasID("a"))

	s.SetID("a")
	assert.True(t, s.HasID("a"))
	assert.False(t, s.HasID("b"))

	s.AddRoute("b")
	assert.True(t, s.HasID("b"))

	s.SetID(WildcardID)
	assert.True(t, s.HasID("anything"))
}

func TestRouteTableKeepsMostRecent(t *testing.T) {
	s := NewSink(nil, true)
	for i := 0; i < RouteTableSize+2; i++ {
		s.AddRoute(string(rune('A' + i)))
	}
	assert.False(t, s.HasID("A"))
	assert.False(t, s.HasID("B"))
	assert.True(t, s.HasID("C"))
	assert.True(t, s.HasID(string(rune('A'+RouteTableSize+1))))
}

func TestRunStopsOnClose(t *testing.T) {
	s := NewSink(nil, false)
	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), 5*time.Millisecond)
		close(done)
	}()
	s.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestFullQueueNeverBlocksWriter(t *testing.T) {
	t.Run("drop oldest by default", func(t *testing.T) {
		var got []string
		s := NewSink(func(m *message.Message) bool {
			got = append(got, m.Header.ContextID)
			return true
		}, false, WithQueueCapacity(2))

		for _, id := range []string{"a", "b", "c"} {
			s.PutCopy(deleted(id))
		}
		assert.Equal(t, int64(1), s.Dropped())

		s.Iteration()
		assert.Equal(t, []string{"b", "c"}, got)
	})

	t.Run("grow keeps everything", func(t *testing.T) {
		var got []string
		s := NewSink(func(m *message.Message) bool {
			got = append(got, m.Header.ContextID)
			return true
		}, false, WithQueueCapacity(2), WithOverflowPolicy(buffer.Grow))

		for i := 0; i < 10; i++ {
			s.PutCopy(deleted(string(rune('a' + i))))
		}
		assert.Zero(t, s.Dropped())
		assert.Equal(t, 10, s.Pending())

		n, keep := s.Iteration()
		assert.True(t, keep)
		assert.Equal(t, 10, n)
		assert.Equal(t, "abcdefghij", strings.Join(got, ""))
	})
}
