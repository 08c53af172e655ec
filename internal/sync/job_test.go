package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/scrybble-go/internal/fsm"
)

// assertURLInvariant checks that the download URL is set exactly in the
// download states.
func assertURLInvariant(t *testing.T, j *Job) {
	t.Helper()

	st := j.State()
	if st.holdsDownloadURL() {
		assert.NotEmpty(t, j.DownloadURL(), "state %s must carry a URL", st)
	} else {
		assert.Empty(t, j.DownloadURL(), "state %s must not carry a URL", st)
	}
}

func TestJob_HappyPath(t *testing.T) {
	t.Parallel()

	j := NewJob("/Notes/Meeting")
	assert.Equal(t, StateInit, j.State())
	assert.NotEmpty(t, j.ID)

	var seen []JobState
	j.OnTransition(func(job *Job, st JobState) {
		assert.Same(t, j, job)
		seen = append(seen, st)
	})

	steps := []func() error{
		j.SyncRequestSent,
		func() error { return j.SyncRequestConfirmed(42) },
		j.SentProcessingCheckRequest,
		j.StillProcessing,
		j.SentProcessingCheckRequest,
		func() error { return j.Ready("http://x/y.zip", 42) },
		j.DownloadRequestSent,
		j.Downloaded,
	}

	for _, step := range steps {
		require.NoError(t, step())
		assertURLInvariant(t, j)
	}

	assert.Equal(t, []JobState{
		StateSyncRequested, StateProcessing, StateAwaitingProcessing, StateProcessing,
		StateAwaitingProcessing, StateReadyToDownload, StateDownloading, StateDownloaded,
	}, seen)

	id, ok := j.SyncID()
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.True(t, j.State().Terminal())
}

func TestJob_NoSyncIDBeforeConfirmation(t *testing.T) {
	t.Parallel()

	j := NewJob("/a")
	require.NoError(t, j.SyncRequestSent())

	_, ok := j.SyncID()
	assert.False(t, ok)
}

func TestJob_ReadyFromInit(t *testing.T) {
	t.Parallel()

	j := NewJob("/a")
	require.NoError(t, j.Ready("http://x/y.zip", 7))

	assert.Equal(t, StateReadyToDownload, j.State())
	assert.Equal(t, "http://x/y.zip", j.DownloadURL())
}

func TestJob_ReadyRequiresURL(t *testing.T) {
	t.Parallel()

	j := NewJob("/a")
	require.Error(t, j.Ready("", 7))
	assert.Equal(t, StateInit, j.State())
	assertURLInvariant(t, j)
}

func TestJob_DownloadFailureDropsURL(t *testing.T) {
	t.Parallel()

	j := NewJob("/a")
	require.NoError(t, j.Ready("http://x/y.zip", 7))
	require.NoError(t, j.DownloadRequestSent())
	require.NoError(t, j.DownloadingFailed())

	assert.Equal(t, StateDownloadFailed, j.State())
	assertURLInvariant(t, j)
}

func TestJob_InvalidTransition(t *testing.T) {
	t.Parallel()

	j := NewJob("/a")

	err := j.Downloaded()
	require.ErrorIs(t, err, fsm.ErrInvalidTransition)

	var te *fsm.TransitionError[JobState, JobEvent]
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StateInit, te.From)
	assert.Equal(t, EventDownloaded, te.Event)
	assert.Equal(t, StateInit, j.State())
}

func TestJob_NoTransitionOutOfTerminal(t *testing.T) {
	t.Parallel()

	j := NewJob("/a")
	require.NoError(t, j.SyncRequestSent())
	require.NoError(t, j.SyncRequestConfirmed(1))
	require.NoError(t, j.FailedToProcess())

	for _, fire := range []func() error{
		j.SyncRequestSent, j.SentProcessingCheckRequest, j.StillProcessing,
		j.DownloadRequestSent, j.Downloaded, j.DownloadingFailed, j.RetriesExhausted,
	} {
		require.ErrorIs(t, fire(), fsm.ErrInvalidTransition)
	}

	assert.Equal(t, StateFailedToProcess, j.State())
}

func TestJob_RetriesExhausted(t *testing.T) {
	t.Parallel()

	j := NewJob("/a")
	require.NoError(t, j.SyncRequestSent())
	require.NoError(t, j.RetriesExhausted())

	assert.Equal(t, StateAbandoned, j.State())
	assert.True(t, j.State().Terminal())
}

func TestJobState_Labels(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Downloading", StateDownloading.Stage())
	assert.Equal(t, "Processing on server", StateProcessing.Stage())
	assert.Equal(t, "mystery", JobState("mystery").Stage())

	assert.True(t, StateDownloading.Busy())
	assert.True(t, StateAwaitingProcessing.Busy())
	assert.False(t, StateProcessing.Busy())
	assert.False(t, StateReadyToDownload.Busy())
}
