package stream

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPollerPreservesOrderWithoutReentrancy(t *testing.T) {
	in := make(chan int, 256)
	var (
		mu      sync.Mutex
		got     []int
		active  atomic.Int32
		overlap atomic.Bool
	)
	p := NewPoller("test", in, func(v int) {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(50 * time.Microsecond)
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
		active.Add(-1)
	}, discardLogger())
	p.Start()

	for i := 0; i < 200; i++ {
		in <- i
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 200
	}, 5*time.Second, 5*time.Millisecond)
	require.True(t, p.Stop(time.Second))

	assert.False(t, overlap.Load())
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPollerSurvivesHandlerPanic(t *testing.T) {
	in := make(chan int, 2)
	var handled atomic.Int32
	p := NewPoller("panicky", in, func(v int) {
		if v == 0 {
			panic("boom")
		}
		handled.Add(1)
	}, discardLogger())
	p.Start()
	defer p.Stop(time.Second)

	in <- 0
	in <- 1
	assert.Eventually(t, func() bool { return handled.Load() == 1 }, time.Second, time.Millisecond)
}

func TestPollerStopWaitsForCurrentHandler(t *testing.T) {
	in := make(chan int, 1)
	entered := make(chan struct{})
	release := make(chan struct{})
	p := NewPoller("blocking", in, func(int) {
		close(entered)
		<-release
	}, discardLogger())
	p.Start()

	in <- 1
	<-entered
	assert.False(t, p.Stop(20*time.Millisecond), "join times out while handler is busy")

	close(release)
	assert.True(t, p.Stop(time.Second))
}

func TestPollerStopBeforeStart(t *testing.T) {
	p := NewPoller("idle", make(chan int), func(int) {}, discardLogger())
	assert.True(t, p.Stop(time.Millisecond))
	p.Start()
}
