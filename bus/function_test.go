package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resourcebus/errors"
	"github.com/c360/resourcebus/message"
	"github.com/c360/resourcebus/metric"
)

const idEcho uint32 = 1

// echoService answers every NSFunction request with parts replies.
type echoService struct {
	c     *Controllable
	parts int
	delay time.Duration
}

func newEchoService(parts int, delay time.Duration) *echoService {
	svc := &echoService{parts: parts, delay: delay}
	svc.c = NewControllable(NewSink(svc.handle, false), NewHub(true), nil)
	return svc
}

func (s *echoService) handle(req *message.Message) bool {
	if req.Namespace != message.NSFunction {
		return true
	}
	time.Sleep(s.delay)
	for i := 1; i <= s.parts; i++ {
		resp := message.New(message.NSFunction, idEcho)
		resp.AddArg(message.Int(int32(i)))
		Reply(req, resp, i == s.parts)
		s.c.EvtSink().PutCopy(resp)
	}
	return true
}

func (s *echoService) run(ctx context.Context) {
	s.c.CmdSink().Run(ctx, 5*time.Millisecond)
}

func TestCallFunctionCollectsAllReplies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := newEchoService(3, 0)
	go svc.run(ctx)

	var got []int32
	err := CallFunction(ctx, svc.c, message.New(message.NSFunction, idEcho), func(m *message.Message) {
		v, _ := m.Arg(0).AsInt()
		got = append(got, v)
	}, time.Second)

	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3}, got)
	assert.Equal(t, 0, svc.c.EvtHub().NumSinks())
}

func TestCallFunctionTimesOut(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	c := NewControllable(NewSink(nil, false), NewHub(true), nil)

	start := time.Now()
	err := CallFunction(context.Background(), c, message.New(message.NSFunction, idEcho),
		func(*message.Message) { t.Error("callback must not run") },
		100*time.Millisecond, WithCallMetrics(reg.Metrics))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFunctionTimeout)
	assert.True(t, errors.IsTransient(err))
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 100*time.Millisecond+CallPollInterval+80*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Metrics.CallTimeouts))
}

func TestLateReplyIsDiscarded(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	svc := newEchoService(1, 0)
	caller := NewCaller(svc.c, WithCallMetrics(reg.Metrics))
	defer caller.Close()

	lateCalled := false
	err := caller.Call(context.Background(), message.New(message.NSFunction, idEcho),
		func(*message.Message) { lateCalled = true }, 30*time.Millisecond)
	require.ErrorIs(t, err, errors.ErrFunctionTimeout)
	assert.Equal(t, 0, caller.Pending())

	// The service now answers the request that already timed out.
	svc.c.CmdSink().Iteration()

	// A second call must only see its own reply.
	var got int
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := caller.Call(context.Background(), message.New(message.NSFunction, idEcho),
			func(*message.Message) { got++ }, time.Second)
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return svc.c.CmdSink().Pending() == 1 }, time.Second, time.Millisecond)
	svc.c.CmdSink().Iteration()
	<-done

	assert.False(t, lateCalled)
	assert.Equal(t, 1, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Metrics.LateReplies))
}

func TestCallFunctionContextCancel(t *testing.T) {
	c := NewControllable(NewSink(nil, false), NewHub(true), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := CallFunction(ctx, c, message.New(message.NSFunction, idEcho), nil, time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentCallsShareCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := newEchoService(2, time.Millisecond)
	go svc.run(ctx)
	caller := NewCaller(svc.c)
	defer caller.Close()

	var wg sync.WaitGroup
	counts := make([]int, 8)
	var mu sync.Mutex
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := caller.Call(ctx, message.New(message.NSFunction, idEcho), func(*message.Message) {
				mu.Lock()
				counts[i]++
				mu.Unlock()
			}, 2*time.Second)
			assert.NoError(t, err)

			// Replies may have been handled by another waiting goroutine,
			// but all of them are done when Call returns.
			mu.Lock()
			assert.Equal(t, 2, counts[i])
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	for _, n := range counts {
		assert.Equal(t, 2, n)
	}
}

func TestCallTable(t *testing.T) {
	table := NewCallTable()
	var got []string
	tag := table.Register(func(m *message.Message) { got = append(got, m.Header.ContextID) })
	assert.Equal(t, 1, table.Len())

	reply := func(ctx string, last bool) *message.Message {
		m := message.New(message.NSFunction, idEcho)
		m.Header.FunctionTag = tag
		m.Header.ContextID = ctx
		m.Header.Last = last
		return m
	}

	assert.True(t, table.Resolve(reply("1", false)))
	assert.False(t, table.Done(tag))
	assert.True(t, table.Resolve(reply("2", true)))
	assert.True(t, table.Done(tag))
	assert.Equal(t, 0, table.Len())
	assert.False(t, table.Resolve(reply("3", true)))
	assert.Equal(t, []string{"1", "2"}, got)

	other := table.Register(nil)
	table.Cancel(other)
	m := message.New(message.NSFunction, idEcho)
	m.Header.FunctionTag = other
	assert.False(t, table.Resolve(m))
	assert.False(t, table.Resolve(message.New(message.NSFunction, idEcho)))
}
