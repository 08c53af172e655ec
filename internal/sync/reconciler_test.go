package sync

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/scrybble-go/internal/api"
)

type fakeDelta struct {
	items []api.SyncDelta
	errs  []error // returned in order before items
	calls int
}

func (f *fakeDelta) SyncDelta(context.Context) ([]api.SyncDelta, error) {
	f.calls++

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]

		return nil, err
	}

	return f.items, nil
}

type mapVersions map[string]int64

func (m mapVersions) SyncVersions(context.Context) (map[string]int64, error) {
	return m, nil
}

func TestReconciler_EnqueuesNewAndNewer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, SchedulerConfig{})
	src := &fakeDelta{items: []api.SyncDelta{
		{ID: 10, DownloadURL: "http://x/new.zip", Filename: "/new"},
		{ID: 7, DownloadURL: "http://x/newer.zip", Filename: "/newer"},
		{ID: 5, DownloadURL: "http://x/same.zip", Filename: "/same"},
		{ID: 2, DownloadURL: "http://x/older.zip", Filename: "/older"},
	}}
	versions := mapVersions{"/newer": 6, "/same": 5, "/older": 3}

	r := NewReconciler(src, versions, h.q, testLogger(t))

	res, err := r.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Seen: 4, Enqueued: 2, UpToDate: 2}, res)

	jobs := h.q.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "/new", jobs[0].Filename)
	assert.Equal(t, "/newer", jobs[1].Filename)
	assert.Equal(t, StateReadyToDownload, jobs[1].State())
	assert.Equal(t, "http://x/newer.zip", jobs[1].DownloadURL())

	id, _ := jobs[1].SyncID()
	assert.Equal(t, int64(7), id)
}

func TestReconciler_SkipsLiveJobs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, SchedulerConfig{})
	h.q.RequestSync("/busy")

	src := &fakeDelta{items: []api.SyncDelta{
		{ID: 1, DownloadURL: "http://x/busy.zip", Filename: "/busy"},
		{ID: 1, DownloadURL: "http://x/dup.zip", Filename: "/dup"},
		{ID: 2, DownloadURL: "http://x/dup.zip", Filename: "/dup"},
	}}

	r := NewReconciler(src, mapVersions{}, h.q, testLogger(t))

	res, err := r.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enqueued)
	assert.Equal(t, 2, res.Live)
	assert.Equal(t, 2, h.q.Len())

	// A second pass sees everything queued already.
	res, err = r.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Zero(t, res.Enqueued)
	assert.Equal(t, 2, h.q.Len())
}

func TestReconciler_SkipsItemWithoutURL(t *testing.T) {
	t.Parallel()

	h := newHarness(t, SchedulerConfig{})
	src := &fakeDelta{items: []api.SyncDelta{{ID: 1, Filename: "/a"}}}

	res, err := NewReconciler(src, mapVersions{}, h.q, testLogger(t)).Reconcile(t.Context())
	require.NoError(t, err)
	assert.Zero(t, res.Enqueued)
	assert.Zero(t, h.q.Len())
}

func TestReconciler_ReauthOn401(t *testing.T) {
	t.Parallel()

	h := newHarness(t, SchedulerConfig{})
	src := &fakeDelta{
		errs:  []error{&api.StatusError{StatusCode: http.StatusUnauthorized, Err: api.ErrUnauthorized}},
		items: []api.SyncDelta{{ID: 1, DownloadURL: "http://x/a.zip", Filename: "/a"}},
	}

	r := NewReconciler(src, mapVersions{}, h.q, testLogger(t))

	reauths := 0
	r.Reauth = func(_ context.Context, cause error) error {
		reauths++
		assert.ErrorIs(t, cause, api.ErrUnauthorized)

		return nil
	}

	res, err := r.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, reauths)
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, 1, res.Enqueued)
}

func TestReconciler_ReauthFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, SchedulerConfig{})
	src := &fakeDelta{errs: []error{&api.StatusError{StatusCode: http.StatusUnauthorized, Err: api.ErrUnauthorized}}}

	r := NewReconciler(src, mapVersions{}, h.q, testLogger(t))
	r.Reauth = func(_ context.Context, cause error) error { return cause }

	_, err := r.Reconcile(t.Context())
	require.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Equal(t, 1, src.calls)
}

func TestReconciler_DeltaError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, SchedulerConfig{})
	src := &fakeDelta{errs: []error{api.ErrNetworkUnreachable}}

	_, err := NewReconciler(src, mapVersions{}, h.q, testLogger(t)).Reconcile(t.Context())
	require.ErrorIs(t, err, api.ErrNetworkUnreachable)
	assert.Zero(t, h.q.Len())
}

func TestReconciler_WithLedger(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	h := newHarness(t, SchedulerConfig{})
	h.q.deps.Recorder = l
	h.api.downloadFn = func(string) ([]byte, error) {
		return buildZip(t, "a_remarks.pdf", "pdf"), nil
	}

	src := &fakeDelta{items: []api.SyncDelta{{ID: 3, DownloadURL: "http://x/a.zip", Filename: "/a"}}}
	r := NewReconciler(src, l, h.q, testLogger(t))

	res, err := r.Reconcile(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, res.Enqueued)

	h.step(t.Context())

	res, err = r.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Zero(t, res.Enqueued, "downloaded version is remembered")
	assert.Equal(t, 1, res.UpToDate)
}
