package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_BasicEnqueue(t *testing.T) {
	cq := New()
	defer cq.Close()

	executed := false
	task := func(ctx context.Context) (interface{}, error) {
		executed = true
		return "result", nil
	}

	result, err := cq.EnqueueWithContext(context.Background(), "test", task, nil)

	assert.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.True(t, executed)
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := New()
	defer cq.Close()

	expectedErr := errors.New("task failed")
	task := func(ctx context.Context) (interface{}, error) {
		return nil, expectedErr
	}

	result, err := cq.EnqueueWithContext(context.Background(), "test", task, nil)

	assert.Error(t, err)
	assert.Equal(t, expectedErr, err)
	assert.Nil(t, result)
}

func TestCommandQueue_TaskPanic(t *testing.T) {
	cq := New()
	defer cq.Close()

	_, err := cq.EnqueueWithContext(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		panic("boom")
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// The lane keeps working afterwards.
	result, err := cq.EnqueueWithContext(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return 1, nil
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, result)
}

func TestCommandQueue_SerialExecution(t *testing.T) {
	cq := New()
	defer cq.Close()

	var order []int
	var mu sync.Mutex
	var results []<-chan Result

	for i := 0; i < 5; i++ {
		i := i
		results = append(results, cq.Submit(context.Background(), "serial", func(ctx context.Context) (interface{}, error) {
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil, nil
		}, nil))
	}

	for _, ch := range results {
		res := <-ch
		assert.NoError(t, res.Err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestCommandQueue_ConcurrentLanes(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan string, 2)

	blocker := func(name string) Task {
		return func(ctx context.Context) (interface{}, error) {
			started <- name
			<-release
			return nil, nil
		}
	}

	r1 := cq.Submit(context.Background(), SessionLane("a"), blocker("a"), nil)
	r2 := cq.Submit(context.Background(), SessionLane("b"), blocker("b"), nil)

	// Both lanes start before either finishes.
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-started:
			seen[name] = true
		case <-time.After(time.Second):
			t.Fatal("lanes did not run concurrently")
		}
	}
	close(release)

	assert.NoError(t, (<-r1).Err)
	assert.NoError(t, (<-r2).Err)
	assert.Equal(t, map[string]bool{"a": true, "b": true}, seen)
}

func TestCommandQueue_SubmitIsNonBlocking(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	start := time.Now()
	ch := cq.Submit(context.Background(), LanePersist, func(ctx context.Context) (interface{}, error) {
		<-release
		return "done", nil
	}, nil)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	res := <-ch
	assert.NoError(t, res.Err)
	assert.Equal(t, "done", res.Value)

	_, open := <-ch
	assert.False(t, open)
}

func TestCommandQueue_CancelledBeforeStart(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	first := cq.Submit(context.Background(), "lane", func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	second := cq.Submit(ctx, "lane", func(ctx context.Context) (interface{}, error) {
		ran.Store(true)
		return nil, nil
	}, nil)

	cancel()
	close(release)

	assert.NoError(t, (<-first).Err)
	assert.ErrorIs(t, (<-second).Err, context.Canceled)
	assert.False(t, ran.Load())
}

func TestCommandQueue_TaskSeesCancellation(t *testing.T) {
	cq := New()
	defer cq.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	ch := cq.Submit(ctx, "lane", func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil)

	<-started
	cancel()
	assert.ErrorIs(t, (<-ch).Err, context.Canceled)
}

func TestCommandQueue_GetStats(t *testing.T) {
	cq := New()
	defer cq.Close()

	stats := cq.GetStats()
	assert.Contains(t, stats, LanePersist)
	assert.Equal(t, 1, stats[LanePersist]["concurrency"])

	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		cq.Submit(context.Background(), LanePersist, func(ctx context.Context) (interface{}, error) {
			<-release
			return nil, nil
		}, nil)
	}

	require.Eventually(t, func() bool {
		return cq.GetStats()[LanePersist]["running"] == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, cq.GetStats()[LanePersist]["queued"])

	close(release)
	require.True(t, cq.WaitForLane(LanePersist, time.Second))
	assert.Equal(t, map[string]int{"queued": 0, "running": 0, "concurrency": 1}, cq.GetStats()[LanePersist])
}

func TestCommandQueue_ClearLane(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	running := cq.Submit(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	}, nil)

	var queued []<-chan Result
	for i := 0; i < 3; i++ {
		queued = append(queued, cq.Submit(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil))
	}

	require.Eventually(t, func() bool { return cq.GetStats()["test"]["running"] == 1 }, time.Second, 5*time.Millisecond)

	cleared := cq.ClearLane("test")
	assert.Equal(t, 3, cleared)
	for _, ch := range queued {
		assert.ErrorIs(t, (<-ch).Err, ErrLaneCleared)
	}

	close(release)
	assert.NoError(t, (<-running).Err)
}

func TestCommandQueue_WaitForLane(t *testing.T) {
	cq := New()
	defer cq.Close()

	var done atomic.Int32
	for i := 0; i < 3; i++ {
		cq.Submit(context.Background(), LanePersist, func(ctx context.Context) (interface{}, error) {
			time.Sleep(10 * time.Millisecond)
			done.Add(1)
			return nil, nil
		}, nil)
	}

	assert.True(t, cq.WaitForLane(LanePersist, time.Second))
	assert.Equal(t, int32(3), done.Load())
	assert.True(t, cq.WaitForLane("missing", 0))
}

func TestCommandQueue_Close(t *testing.T) {
	cq := New()

	started := make(chan struct{})
	running := cq.Submit(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil)
	<-started

	require.NoError(t, cq.Close())
	assert.ErrorIs(t, (<-running).Err, context.Canceled)

	res := <-cq.Submit(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, nil)
	assert.ErrorIs(t, res.Err, ErrClosed)
	assert.NoError(t, cq.Close())
}

func TestCommandQueue_WarnAfter(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	first := cq.Submit(context.Background(), "slow", func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	}, nil)

	type wait struct {
		ms  int64
		pos int
	}
	waits := make(chan wait, 1)
	second := cq.Submit(context.Background(), "slow", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, &TaskOptions{
		WarnAfterMs: 20,
		OnWait: func(waitMs int64, queuePos int) {
			waits <- wait{ms: waitMs, pos: queuePos}
		},
	})

	select {
	case w := <-waits:
		assert.GreaterOrEqual(t, w.ms, int64(20))
		assert.Equal(t, 0, w.pos)
	case <-time.After(time.Second):
		t.Fatal("OnWait was not called for a waiting task")
	}

	close(release)
	assert.NoError(t, (<-first).Err)
	assert.NoError(t, (<-second).Err)
}

func TestCommandQueue_WarnAfterSkipsStartedTask(t *testing.T) {
	cq := New()
	defer cq.Close()

	var called atomic.Bool
	res := <-cq.Submit(context.Background(), "fast", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, &TaskOptions{
		WarnAfterMs: 10,
		OnWait:      func(int64, int) { called.Store(true) },
	})
	require.NoError(t, res.Err)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, called.Load())
}

func TestSessionLane(t *testing.T) {
	assert.Equal(t, "session:abc", SessionLane("abc"))
}
