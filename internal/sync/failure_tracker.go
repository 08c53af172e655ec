package sync

import (
	"log/slog"
	stdsync "sync"
	"time"
)

// failureRecord tracks consecutive failures for one job.
type failureRecord struct {
	count   int
	retryAt time.Time
}

// failureTracker spaces out retries of jobs whose requests keep failing and
// decides when a job has failed often enough to be abandoned. Thread-safe.
// A success clears the record.
type failureTracker struct {
	mu          stdsync.Mutex
	records     map[string]*failureRecord
	maxAttempts int // <= 0 retries forever
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *slog.Logger
	nowFunc     func() time.Time
}

func newFailureTracker(maxAttempts int, baseDelay, maxDelay time.Duration, logger *slog.Logger) *failureTracker {
	return &failureTracker{
		records:     make(map[string]*failureRecord),
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		logger:      logger,
		nowFunc:     time.Now,
	}
}

// shouldWait reports whether the job is still inside its backoff window.
func (ft *failureTracker) shouldWait(jobID string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[jobID]
	if !ok {
		return false
	}

	return ft.nowFunc().Before(rec.retryAt)
}

// recordFailure counts a failure and schedules the next attempt. It returns
// true once the job has used up its attempts.
func (ft *failureTracker) recordFailure(jobID, filename, errMsg string) (exhausted bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[jobID]
	if !ok {
		rec = &failureRecord{}
		ft.records[jobID] = rec
	}

	rec.count++

	if ft.maxAttempts > 0 && rec.count >= ft.maxAttempts {
		delete(ft.records, jobID)

		ft.logger.Warn("giving up on file after repeated failures",
			slog.String("file", filename),
			slog.Int("failures", rec.count),
			slog.String("last_error", errMsg),
		)

		return true
	}

	delay := ft.backoff(rec.count)
	rec.retryAt = ft.nowFunc().Add(delay)

	ft.logger.Debug("request failed, backing off",
		slog.String("file", filename),
		slog.Int("failures", rec.count),
		slog.Duration("retry_in", delay),
		slog.String("error", errMsg),
	)

	return false
}

// backoff doubles baseDelay per consecutive failure, capped at maxDelay.
func (ft *failureTracker) backoff(count int) time.Duration {
	delay := ft.baseDelay
	for i := 1; i < count; i++ {
		delay *= 2
		if ft.maxDelay > 0 && delay >= ft.maxDelay {
			return ft.maxDelay
		}
	}

	if ft.maxDelay > 0 && delay > ft.maxDelay {
		return ft.maxDelay
	}

	return delay
}

// recordSuccess clears the failure record for a job.
func (ft *failureTracker) recordSuccess(jobID string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	delete(ft.records, jobID)
}

// forget drops any state for a job that left the queue.
func (ft *failureTracker) forget(jobID string) {
	ft.recordSuccess(jobID)
}
