// Package sync moves documents from the remote store into the local vault.
//
// A Queue owns the live Jobs and advances them on a fixed tick: request a
// server-side sync, poll until the server has rendered the file, then fetch
// the archive and write its PDF and Markdown into the vault. At most
// BusyBudget jobs wait on the network at once. A Reconciler feeds the queue
// from the server's change list, and a Ledger remembers which sync ID of
// each file is already on disk.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	stdsync "sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/scrybble-go/internal/api"
)

// Scheduler defaults.
const (
	DefaultBusyBudget     = 3
	DefaultTickInterval   = 2 * time.Second
	DefaultMaxBackoff     = 5 * time.Minute
	DefaultMaxArchiveSize = 512 << 20
)

// SchedulerConfig tunes a Queue. Zero fields take the defaults above.
// MaxAttempts <= 0 retries failing requests forever.
type SchedulerConfig struct {
	BusyBudget     int
	TickInterval   time.Duration
	MaxAttempts    int
	MaxBackoff     time.Duration
	SyncFolder     string
	MaxArchiveSize int64
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.BusyBudget <= 0 {
		c.BusyBudget = DefaultBusyBudget
	}

	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}

	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}

	if c.MaxArchiveSize <= 0 {
		c.MaxArchiveSize = DefaultMaxArchiveSize
	}

	return c
}

// RemoteAPI is the part of the server API the queue drives.
// Satisfied by *api.Client.
type RemoteAPI interface {
	RequestFileSync(ctx context.Context, path string) (*api.SyncRequest, error)
	CheckStatus(ctx context.Context, syncID int64) (*api.SyncStatus, error)
	DownloadArchive(ctx context.Context, downloadURL string, maxBytes int64) ([]byte, error)
}

// Vault receives extracted files. Paths are relative to the vault root.
// Satisfied by *vault.Store.
type Vault interface {
	CreateFolder(rel string) error
	WriteFile(rel string, data []byte) (created bool, err error)
}

// Recorder persists terminal job outcomes. Satisfied by *Ledger.
type Recorder interface {
	RecordOutcome(ctx context.Context, o Outcome) error
}

// QueueDeps are the collaborators of a Queue. API and Vault are required.
type QueueDeps struct {
	API      RemoteAPI
	Vault    Vault
	Recorder Recorder
	Logger   *slog.Logger

	// Reauth is called when a request fails with 401. Concurrent failures
	// share one call.
	Reauth func(ctx context.Context, cause error) error

	// OnStateChange observes every transition of every job.
	OnStateChange func(job *Job, state JobState)
	// OnFailure receives terminal failures.
	OnFailure func(job *Job, err *JobError)
	// OnDownloaded receives the vault paths written for a finished job.
	OnDownloaded func(job *Job, files []string)
}

// Queue schedules jobs under a concurrency budget.
type Queue struct {
	cfg     SchedulerConfig
	deps    QueueDeps
	logger  *slog.Logger
	tracker *failureTracker
	reauth  singleflight.Group
	nowFunc func() time.Time

	tickMu stdsync.Mutex

	mu         stdsync.Mutex
	jobs       []*Job
	inFlight   map[string]bool
	subs       map[string][]func(*Job, JobState)
	syncFolder string

	wg stdsync.WaitGroup
}

// NewQueue creates an empty queue.
func NewQueue(cfg SchedulerConfig, deps QueueDeps) *Queue {
	cfg = cfg.withDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		nowFunc:    time.Now,
		inFlight:   make(map[string]bool),
		subs:       make(map[string][]func(*Job, JobState)),
		syncFolder: cfg.SyncFolder,
	}

	q.tracker = newFailureTracker(cfg.MaxAttempts, cfg.TickInterval, cfg.MaxBackoff, logger)
	q.tracker.nowFunc = func() time.Time { return q.nowFunc() }

	return q
}

// SetSyncFolder changes the vault folder that later downloads land in.
func (q *Queue) SetSyncFolder(folder string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.syncFolder = folder
}

// SyncFolder returns the current vault folder for downloads.
func (q *Queue) SyncFolder() string {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.syncFolder
}

// EnqueueDownload adds a job for a file the server has already rendered.
// Every call creates a new job, even for a filename already queued.
func (q *Queue) EnqueueDownload(filename, downloadURL string, syncID int64) (*Job, error) {
	j := q.newJob(filename)

	if err := j.Ready(downloadURL, syncID); err != nil {
		return nil, err
	}

	q.push(j)

	return j, nil
}

// RequestSync adds a job that first asks the server to sync filename.
func (q *Queue) RequestSync(filename string) *Job {
	j := q.newJob(filename)
	q.push(j)

	return j
}

func (q *Queue) newJob(filename string) *Job {
	j := NewJob(filename)
	j.CreatedAt = q.nowFunc()
	j.OnTransition(q.notify)

	return j
}

func (q *Queue) push(j *Job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()

	q.logger.Debug("job queued",
		slog.String("job_id", j.ID),
		slog.String("file", j.Filename),
		slog.String("state", string(j.State())),
	)
}

// Subscribe registers fn for state changes of every job whose filename is
// path.
func (q *Queue) Subscribe(path string, fn func(job *Job, state JobState)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.subs[path] = append(q.subs[path], fn)
}

// Unsubscribe removes every listener registered for path.
func (q *Queue) Unsubscribe(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.subs, path)
}

func (q *Queue) notify(j *Job, state JobState) {
	q.logger.Debug("job state changed",
		slog.String("job_id", j.ID),
		slog.String("file", j.Filename),
		slog.String("state", string(state)),
	)

	if q.deps.OnStateChange != nil {
		q.deps.OnStateChange(j, state)
	}

	q.mu.Lock()
	listeners := slices.Clone(q.subs[j.Filename])
	q.mu.Unlock()

	for _, fn := range listeners {
		fn(j, state)
	}
}

// Len returns the number of jobs in the queue, finished ones included
// until the next tick drops them.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.jobs)
}

// Jobs returns the queued jobs in enqueue order.
func (q *Queue) Jobs() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	return slices.Clone(q.jobs)
}

// HasLiveJob reports whether a non-terminal job for filename is queued.
func (q *Queue) HasLiveJob(filename string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, j := range q.jobs {
		if j.Filename == filename && !j.State().Terminal() {
			return true
		}
	}

	return false
}

// Idle reports whether no job is queued and no request is in flight.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pruneLocked()

	return len(q.jobs) == 0 && len(q.inFlight) == 0
}

// pruneLocked drops terminal jobs with no call in flight. Caller holds mu.
func (q *Queue) pruneLocked() {
	q.jobs = slices.DeleteFunc(q.jobs, func(j *Job) bool {
		if j.State().Terminal() && !q.inFlight[j.ID] {
			q.tracker.forget(j.ID)
			return true
		}

		return false
	})
}

// Tick runs one scheduling pass. Jobs are visited in enqueue order; each
// job that is neither busy nor waiting out a backoff advances one step
// while the budget allows. Network calls run in the background; Wait
// blocks until they resolve.
func (q *Queue) Tick(ctx context.Context) {
	q.tickMu.Lock()
	defer q.tickMu.Unlock()

	q.mu.Lock()
	q.pruneLocked()
	jobs := slices.Clone(q.jobs)
	q.mu.Unlock()

	busy := 0

	for _, j := range jobs {
		if j.State().Busy() {
			busy++
		}
	}

	for _, j := range jobs {
		if ctx.Err() != nil || busy >= q.cfg.BusyBudget {
			return
		}

		st := j.State()
		if st.Busy() || st.Terminal() || q.isInFlight(j) || q.tracker.shouldWait(j.ID) {
			continue
		}

		var advanced bool

		switch st {
		case StateInit, StateSyncRequested:
			advanced = q.startSyncRequest(ctx, j)
		case StateProcessing:
			advanced = q.startStatusCheck(ctx, j)
		case StateReadyToDownload:
			advanced = q.startDownload(ctx, j)
		}

		if advanced {
			busy++
		}
	}
}

// Run ticks until ctx is canceled, then waits for in-flight calls.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.TickInterval)
	defer ticker.Stop()

	for {
		q.Tick(ctx)

		select {
		case <-ctx.Done():
			q.Wait()
			return nil
		case <-ticker.C:
		}
	}
}

// Drain ticks until every job has finished.
func (q *Queue) Drain(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.TickInterval)
	defer ticker.Stop()

	for {
		q.Tick(ctx)

		if q.Idle() {
			return nil
		}

		select {
		case <-ctx.Done():
			q.Wait()
			return fmt.Errorf("sync: draining queue: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Wait blocks until every in-flight call has resolved.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) isInFlight(j *Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.inFlight[j.ID]
}

// launch runs fn in the background with j marked in flight. A panic in fn
// fails the step instead of the process.
func (q *Queue) launch(ctx context.Context, j *Job, fn func()) {
	q.mu.Lock()
	q.inFlight[j.ID] = true
	q.mu.Unlock()

	q.wg.Add(1)

	go func() {
		defer q.wg.Done()

		defer func() {
			q.mu.Lock()
			delete(q.inFlight, j.ID)
			q.mu.Unlock()
		}()

		defer func() {
			if r := recover(); r != nil {
				q.logger.Error("sync: panic in job step",
					slog.String("job_id", j.ID),
					slog.String("file", j.Filename),
					slog.Any("panic", r),
				)
				q.recoverStep(ctx, j, fmt.Errorf("panic: %v", r))
			}
		}()

		fn()
	}()
}

// recoverStep moves a job whose step panicked out of its busy state.
func (q *Queue) recoverStep(ctx context.Context, j *Job, err error) {
	switch st := j.State(); st {
	case StateReadyToDownload, StateDownloading:
		q.downloadFailed(ctx, j, err)
	case StateAwaitingProcessing:
		_ = j.StillProcessing()
		q.requestFailed(ctx, j, StateProcessing, err)
	case StateInit, StateSyncRequested, StateProcessing:
		q.requestFailed(ctx, j, st, err)
	}
}

func (q *Queue) startSyncRequest(ctx context.Context, j *Job) bool {
	if j.State() == StateInit {
		if err := j.SyncRequestSent(); err != nil {
			q.logger.Error("sync: marking sync request sent", slog.String("error", err.Error()))
			return false
		}
	}

	q.launch(ctx, j, func() {
		resp, err := q.deps.API.RequestFileSync(ctx, j.Filename)
		if err != nil {
			q.requestFailed(ctx, j, StateSyncRequested, err)
			return
		}

		q.tracker.recordSuccess(j.ID)

		if err := j.SyncRequestConfirmed(resp.SyncID); err != nil {
			q.logger.Error("sync: confirming sync request", slog.String("error", err.Error()))
		}
	})

	return true
}

func (q *Queue) startStatusCheck(ctx context.Context, j *Job) bool {
	syncID, ok := j.SyncID()
	if !ok {
		q.logger.Error("sync: processing job has no sync id", slog.String("file", j.Filename))
		return false
	}

	if err := j.SentProcessingCheckRequest(); err != nil {
		q.logger.Error("sync: marking status check sent", slog.String("error", err.Error()))
		return false
	}

	q.launch(ctx, j, func() {
		st, err := q.deps.API.CheckStatus(ctx, syncID)
		if err != nil {
			_ = j.StillProcessing()
			q.requestFailed(ctx, j, StateProcessing, err)

			return
		}

		q.tracker.recordSuccess(j.ID)

		switch {
		case st.Error:
			if err := j.FailedToProcess(); err != nil {
				q.logger.Error("sync: marking processing failed", slog.String("error", err.Error()))
				return
			}

			q.fail(ctx, j, &JobError{Path: j.Filename, Stage: StateProcessing, Err: ErrProcessingFailed})

		case st.Completed:
			id := st.ID
			if id == 0 {
				id = syncID
			}

			if err := j.Ready(st.DownloadURL, id); err != nil {
				_ = j.StillProcessing()
				q.requestFailed(ctx, j, StateProcessing, err)
			}

		default:
			if err := j.StillProcessing(); err != nil {
				q.logger.Error("sync: marking still processing", slog.String("error", err.Error()))
			}
		}
	})

	return true
}

// requestFailed handles a failed sync request or status poll. The job stays
// where it is and is retried after a backoff, until it runs out of attempts.
func (q *Queue) requestFailed(ctx context.Context, j *Job, stage JobState, err error) {
	if ctx.Err() != nil {
		return
	}

	status := api.StatusCode(err)
	if status == http.StatusUnauthorized {
		q.refreshSession(ctx, err)
	}

	q.logger.Warn("sync: request failed, will retry",
		slog.String("file", j.Filename),
		slog.String("stage", string(stage)),
		slog.String("error", err.Error()),
	)

	if !q.tracker.recordFailure(j.ID, j.Filename, err.Error()) {
		return
	}

	if fireErr := j.RetriesExhausted(); fireErr != nil {
		q.logger.Error("sync: abandoning job", slog.String("error", fireErr.Error()))
		return
	}

	q.fail(ctx, j, &JobError{
		Path:   j.Filename,
		Stage:  stage,
		Status: status,
		Err:    fmt.Errorf("%w: %w", ErrRetriesExhausted, err),
	})
}

func (q *Queue) refreshSession(ctx context.Context, cause error) {
	if q.deps.Reauth == nil {
		return
	}

	_, err, _ := q.reauth.Do("reauth", func() (any, error) {
		return nil, q.deps.Reauth(ctx, cause)
	})
	if err != nil {
		q.logger.Warn("sync: refreshing session failed", slog.String("error", err.Error()))
	}
}

// downloadFailed ends a job whose download could not finish.
func (q *Queue) downloadFailed(ctx context.Context, j *Job, err error) {
	stage := j.State()

	if fireErr := j.DownloadingFailed(); fireErr != nil {
		q.logger.Error("sync: marking download failed", slog.String("error", fireErr.Error()))
		return
	}

	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		q.logger.Info("download interrupted", slog.String("file", j.Filename))
		return
	}

	q.fail(ctx, j, &JobError{Path: j.Filename, Stage: stage, Status: api.StatusCode(err), Err: err})
}

func (q *Queue) fail(ctx context.Context, j *Job, jerr *JobError) {
	attrs := []any{
		slog.String("job_id", j.ID),
		slog.String("file", j.Filename),
		slog.String("stage", string(jerr.Stage)),
		slog.String("error", jerr.Err.Error()),
	}
	if jerr.Status != 0 {
		attrs = append(attrs, slog.Int("status", jerr.Status))
	}

	q.logger.Error("sync: job failed", attrs...)
	q.record(ctx, j, jerr)

	if q.deps.OnFailure != nil {
		q.deps.OnFailure(j, jerr)
	}
}

func (q *Queue) record(ctx context.Context, j *Job, jerr *JobError) {
	if q.deps.Recorder == nil {
		return
	}

	o := Outcome{
		JobID:      j.ID,
		Filename:   j.Filename,
		State:      j.State(),
		FinishedAt: q.nowFunc(),
	}

	if id, ok := j.SyncID(); ok {
		o.SyncID = &id
	}

	if jerr != nil {
		o.Stage = jerr.Stage
		o.Status = jerr.Status
		o.Error = jerr.Err.Error()
	}

	if err := q.deps.Recorder.RecordOutcome(context.WithoutCancel(ctx), o); err != nil {
		q.logger.Warn("sync: recording job outcome",
			slog.String("file", j.Filename),
			slog.String("error", err.Error()),
		)
	}
}
