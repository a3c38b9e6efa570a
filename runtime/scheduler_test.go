package runtime

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnRunsTasks(t *testing.T) {
	s := NewScheduler(WithWorkers(4))
	defer s.Shutdown()

	var counter atomic.Int64
	for i := 0; i < 100; i++ {
		s.Spawn(func() {
			counter.Add(1)
		})
	}
	s.Wait()
	assert.Equal(t, int64(100), counter.Load())
}

func TestGoroutineIDsMonotonic(t *testing.T) {
	s := NewScheduler(WithWorkers(1))
	defer s.Shutdown()

	var ids []uint64
	for i := 0; i < 10; i++ {
		ids = append(ids, s.Spawn(func() {}))
	}
	s.Wait()
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1], "ids are allocated monotonically")
	}
}

func TestStatsCounted(t *testing.T) {
	s := NewScheduler(WithWorkers(2))
	defer s.Shutdown()

	for i := 0; i < 20; i++ {
		s.Spawn(func() {})
	}
	s.Wait()

	stats := s.Snapshot()
	assert.Equal(t, uint64(20), stats.Spawned)
	assert.Equal(t, uint64(20), stats.Completed)
}

func TestShutdownDrains(t *testing.T) {
	s := NewScheduler(WithWorkers(2))

	var done atomic.Int64
	for i := 0; i < 10; i++ {
		s.Spawn(func() {
			time.Sleep(time.Millisecond)
			done.Add(1)
		})
	}
	s.Wait()
	s.Shutdown()
	assert.Equal(t, int64(10), done.Load(), "in-flight tasks run to completion")
}

func TestWorkStealing(t *testing.T) {
	// Tasks are spread round-robin over four queues while the workers
	// run, so they are taken by own-queue pops and by steals; every
	// task completes either way.
	s := NewScheduler(WithWorkers(4))
	defer s.Shutdown()

	var wg sync.WaitGroup
	wg.Add(50)
	for i := 0; i < 50; i++ {
		s.Spawn(func() {
			defer wg.Done()
			time.Sleep(100 * time.Microsecond)
		})
	}
	wg.Wait()
	s.Wait()
	assert.Equal(t, uint64(50), s.Snapshot().Completed)
}

func TestLockAcquireRelease(t *testing.T) {
	var l Lock
	g := l.Acquire()

	_, ok := l.TryAcquire()
	assert.False(t, ok, "held lock must not be re-acquirable")

	g.Release()
	g2, ok := l.TryAcquire()
	require.True(t, ok)
	g2.Release()
}

func TestLockGuardDoubleReleaseSafe(t *testing.T) {
	var l Lock
	g := l.Acquire()
	g.Release()
	g.Release() // no-op

	g2, ok := l.TryAcquire()
	require.True(t, ok)
	g2.Release()
}

func TestTryAcquireTimeout(t *testing.T) {
	var l Lock
	g := l.Acquire()

	start := time.Now()
	_, ok := l.TryAcquireTimeout(20 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	g.Release()
	g2, ok := l.TryAcquireTimeout(20 * time.Millisecond)
	require.True(t, ok)
	g2.Release()
}

func TestLockMutualExclusion(t *testing.T) {
	var l Lock
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				g := l.Acquire()
				counter++
				g.Release()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, counter)
}
