package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resourcebus/metric"
)

func TestFIFOOrder(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, buf.Write(i))
	}

	v, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 3, buf.Size())

	for want := 1; want <= 3; want++ {
		got, ok := buf.Read()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok = buf.Read()
	assert.False(t, ok)
	assert.True(t, buf.IsEmpty())
}

func TestOverflowPolicies(t *testing.T) {
	t.Run("drop oldest", func(t *testing.T) {
		var dropped []int
		buf, err := NewCircularBuffer(2,
			WithOverflowPolicy[int](DropOldest),
			WithDropCallback(func(i int) { dropped = append(dropped, i) }))
		require.NoError(t, err)

		for i := 1; i <= 3; i++ {
			require.NoError(t, buf.Write(i))
		}
		v, _ := buf.Read()
		assert.Equal(t, 2, v)
		assert.Equal(t, []int{1}, dropped)
		assert.Equal(t, int64(1), buf.Stats().Drops())
	})

	t.Run("drop newest", func(t *testing.T) {
		buf, err := NewCircularBuffer(2, WithOverflowPolicy[int](DropNewest))
		require.NoError(t, err)

		for i := 1; i <= 3; i++ {
			require.NoError(t, buf.Write(i))
		}
		v, _ := buf.Read()
		assert.Equal(t, 1, v)
		assert.Equal(t, 1, buf.Size())
	})

	t.Run("grow", func(t *testing.T) {
		buf, err := NewCircularBuffer(2, WithOverflowPolicy[int](Grow))
		require.NoError(t, err)

		require.NoError(t, buf.Write(1))
		require.NoError(t, buf.Write(2))
		v, _ := buf.Read()
		assert.Equal(t, 1, v)

		// Wrapped ring: head is behind tail when the buffer grows.
		for i := 3; i <= 7; i++ {
			require.NoError(t, buf.Write(i))
		}
		assert.Equal(t, 6, buf.Size())
		assert.GreaterOrEqual(t, buf.Capacity(), 6)
		assert.Zero(t, buf.Stats().Drops())

		for want := 2; want <= 7; want++ {
			v, ok := buf.Read()
			require.True(t, ok)
			assert.Equal(t, want, v)
		}
		assert.True(t, buf.IsEmpty())
	})

	t.Run("block", func(t *testing.T) {
		buf, err := NewCircularBuffer(1, WithOverflowPolicy[int](Block))
		require.NoError(t, err)
		require.NoError(t, buf.Write(1))

		done := make(chan struct{})
		go func() {
			_ = buf.Write(2)
			close(done)
		}()

		select {
		case <-done:
			t.Fatal("write should block while full")
		case <-time.After(20 * time.Millisecond):
		}

		v, _ := buf.Read()
		assert.Equal(t, 1, v)
		<-done
		v, _ = buf.Read()
		assert.Equal(t, 2, v)
	})
}

func TestWait(t *testing.T) {
	buf, err := NewCircularBuffer[string](4)
	require.NoError(t, err)

	start := time.Now()
	assert.False(t, buf.Wait(30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = buf.Write("x")
	}()
	assert.True(t, buf.Wait(time.Second))
	assert.True(t, buf.Wait(0))
}

func TestCloseWakesWaiters(t *testing.T) {
	buf, err := NewCircularBuffer[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.False(t, buf.Wait(5*time.Second))
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, buf.Close())
	wg.Wait()

	assert.Error(t, buf.Write(1))
}

func TestBufferMetrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	buf, err := NewCircularBuffer(2, WithMetrics[int](reg, "sink_test"))
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))

	_, err = NewCircularBuffer(2, WithMetrics[int](reg, "sink_test"))
	assert.Error(t, err)
}
