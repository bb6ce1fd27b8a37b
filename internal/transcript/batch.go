package transcript

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tickerdesk/tickerdesk/internal/common/logger"
)

// Transform is one queued state mutation.
type Transform func()

// Scheduler coalesces high-frequency mutations into bounded-rate
// emissions. Transforms are queued and applied on a timer tick, always in
// their original enqueue order and always within a single emission, so
// batching delays visibility but never reorders or drops updates.
//
// Flush is forced synchronously (bypassing the timer) on stream
// completion, stream error, and teardown, so no update is lost to a
// pending timer at shutdown.
type Scheduler struct {
	mu       sync.Mutex
	queue    []Transform
	interval time.Duration
	timer    *time.Timer
	onFlush  func()
	closed   bool
	logger   *logger.Logger

	// applyMu serializes whole flushes (drain + apply + emit). A forced
	// flush must not start applying its batch while a timer flush is
	// mid-application, or transforms would complete out of enqueue order.
	applyMu sync.Mutex
}

// NewScheduler creates a Scheduler. onFlush runs once after each batch of
// transforms has been applied (the single visible state transition).
func NewScheduler(interval time.Duration, onFlush func(), log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	return &Scheduler{
		interval: interval,
		onFlush:  onFlush,
		logger:   log.WithFields(zap.String("component", "update-scheduler")),
	}
}

// Enqueue queues a transform and arms the flush timer if it is not
// already pending.
func (s *Scheduler) Enqueue(t Transform) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		// Late enqueue after teardown: apply immediately so the
		// mutation is not silently dropped.
		s.applyMu.Lock()
		t()
		s.applyMu.Unlock()
		return
	}
	s.queue = append(s.queue, t)
	if s.timer == nil {
		s.timer = time.AfterFunc(s.interval, s.Flush)
	}
	s.mu.Unlock()
}

// Flush applies all queued transforms in enqueue order as one state
// transition, then emits once. Concurrent flushes queue up behind the
// one in flight rather than interleaving with it.
func (s *Scheduler) Flush() {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if len(queue) == 0 {
		return
	}

	for _, t := range queue {
		t()
	}
	if s.onFlush != nil {
		s.onFlush()
	}
}

// Close forces a final flush and stops the timer. Further enqueues apply
// immediately.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Flush()
	s.logger.Debug("update scheduler closed")
}

// PendingCount reports the number of queued transforms (for tests and
// diagnostics).
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
