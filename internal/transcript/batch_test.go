package transcript

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerAppliesInEnqueueOrder(t *testing.T) {
	flushes := 0
	s := NewScheduler(time.Hour, func() { flushes++ }, newTestLogger(t))

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		s.Enqueue(func() { order = append(order, i) })
	}
	require.Equal(t, 5, s.PendingCount())

	s.Flush()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 1, flushes, "one batch, one emission")
	assert.Equal(t, 0, s.PendingCount())
}

func TestSchedulerFlushWithEmptyQueueDoesNotEmit(t *testing.T) {
	flushes := 0
	s := NewScheduler(time.Hour, func() { flushes++ }, newTestLogger(t))

	s.Flush()
	assert.Equal(t, 0, flushes)
}

func TestSchedulerTimerFlush(t *testing.T) {
	done := make(chan struct{})
	s := NewScheduler(5*time.Millisecond, func() { close(done) }, newTestLogger(t))

	applied := false
	s.Enqueue(func() { applied = true })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer flush never fired")
	}
	assert.True(t, applied)
}

func TestSchedulerCloseForcesFinalFlush(t *testing.T) {
	flushes := 0
	s := NewScheduler(time.Hour, func() { flushes++ }, newTestLogger(t))

	applied := false
	s.Enqueue(func() { applied = true })
	s.Close()

	assert.True(t, applied)
	assert.Equal(t, 1, flushes)

	// Enqueue after close applies immediately instead of being dropped.
	late := false
	s.Enqueue(func() { late = true })
	assert.True(t, late)
}

func TestSchedulerForcedFlushDoesNotOvertakeTimerFlush(t *testing.T) {
	s := NewScheduler(time.Millisecond, nil, newTestLogger(t))
	defer s.Close()

	var mu sync.Mutex
	var got []int

	// The short interval makes timer flushes fire while the loop is still
	// enqueueing and forcing flushes of its own; application must stay in
	// enqueue order regardless of which goroutine drains each batch.
	for i := 0; i < 500; i++ {
		i := i
		s.Enqueue(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
		if i%7 == 0 {
			s.Flush()
		}
	}
	s.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 500)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestSchedulerFlushWaitsForInFlightApplication(t *testing.T) {
	s := NewScheduler(time.Millisecond, nil, newTestLogger(t))
	defer s.Close()

	started := make(chan struct{})
	var mu sync.Mutex
	var got []string

	s.Enqueue(func() {
		close(started)
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		got = append(got, "slow")
		mu.Unlock()
	})

	// Wait until the timer flush is mid-application, then enqueue and
	// force a flush from this goroutine.
	<-started
	s.Enqueue(func() {
		mu.Lock()
		got = append(got, "fast")
		mu.Unlock()
	})
	s.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"slow", "fast"}, got)
}
