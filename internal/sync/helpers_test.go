package sync

import (
	"archive/zip"
	"bytes"
	"context"
	"log/slog"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/scrybble-go/internal/api"
	"github.com/tonimelisma/scrybble-go/internal/vault"
)

// testLogger returns a debug-level logger that writes to t.Log,
// so output only appears when a test fails or -v is set.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// fakeAPI scripts the server. Unset funcs fail the test when called.
type fakeAPI struct {
	t *testing.T

	mu         stdsync.Mutex
	requestFn  func(path string) (*api.SyncRequest, error)
	statusFn   func(syncID int64) (*api.SyncStatus, error)
	downloadFn func(url string) ([]byte, error)
	requests   []string
	statuses   []int64
	downloads  []string
}

func (f *fakeAPI) RequestFileSync(_ context.Context, path string) (*api.SyncRequest, error) {
	f.mu.Lock()
	f.requests = append(f.requests, path)
	fn := f.requestFn
	f.mu.Unlock()

	if fn == nil {
		f.t.Errorf("unexpected RequestFileSync(%q)", path)
		return nil, api.ErrServerError
	}

	return fn(path)
}

func (f *fakeAPI) CheckStatus(_ context.Context, syncID int64) (*api.SyncStatus, error) {
	f.mu.Lock()
	f.statuses = append(f.statuses, syncID)
	fn := f.statusFn
	f.mu.Unlock()

	if fn == nil {
		f.t.Errorf("unexpected CheckStatus(%d)", syncID)
		return nil, api.ErrServerError
	}

	return fn(syncID)
}

func (f *fakeAPI) DownloadArchive(_ context.Context, url string, _ int64) ([]byte, error) {
	f.mu.Lock()
	f.downloads = append(f.downloads, url)
	fn := f.downloadFn
	f.mu.Unlock()

	if fn == nil {
		f.t.Errorf("unexpected DownloadArchive(%q)", url)
		return nil, api.ErrServerError
	}

	return fn(url)
}

func (f *fakeAPI) counts() (requests, statuses, downloads int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.requests), len(f.statuses), len(f.downloads)
}

// memRecorder keeps outcomes in memory.
type memRecorder struct {
	mu       stdsync.Mutex
	outcomes []Outcome
}

func (r *memRecorder) RecordOutcome(_ context.Context, o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.outcomes = append(r.outcomes, o)

	return nil
}

func (r *memRecorder) all() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Outcome(nil), r.outcomes...)
}

// failures collects OnFailure calls.
type failures struct {
	mu   stdsync.Mutex
	errs []*JobError
}

func (f *failures) add(_ *Job, err *JobError) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.errs = append(f.errs, err)
}

func (f *failures) all() []*JobError {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*JobError(nil), f.errs...)
}

type queueHarness struct {
	q     *Queue
	api   *fakeAPI
	vault *vault.Store
	rec   *memRecorder
	fails *failures
	now   time.Time
}

// newHarness builds a queue over a temp vault with a manual clock.
func newHarness(t *testing.T, cfg SchedulerConfig) *queueHarness {
	t.Helper()

	h := &queueHarness{
		api:   &fakeAPI{t: t},
		vault: vault.NewStore(t.TempDir(), testLogger(t)),
		rec:   &memRecorder{},
		fails: &failures{},
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	if cfg.SyncFolder == "" {
		cfg.SyncFolder = "scrybble"
	}

	h.q = NewQueue(cfg, QueueDeps{
		API:       h.api,
		Vault:     h.vault,
		Recorder:  h.rec,
		Logger:    testLogger(t),
		OnFailure: h.fails.add,
	})
	h.q.nowFunc = func() time.Time { return h.now }

	return h
}

// step runs one tick and waits for its calls to resolve.
func (h *queueHarness) step(ctx context.Context) {
	h.q.Tick(ctx)
	h.q.Wait()
}

func (h *queueHarness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

// buildZip returns a zip holding the given name/content pairs in order.
func buildZip(t *testing.T, entries ...string) []byte {
	t.Helper()
	require.Zero(t, len(entries)%2)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for i := 0; i < len(entries); i += 2 {
		w, err := zw.Create(entries[i])
		require.NoError(t, err)
		_, err = w.Write([]byte(entries[i+1]))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// failures returns the consecutive failure count for a job.
func (ft *failureTracker) failures(jobID string) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if rec, ok := ft.records[jobID]; ok {
		return rec.count
	}

	return 0
}
