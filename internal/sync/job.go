package sync

import (
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/scrybble-go/internal/fsm"
)

// JobState is the lifecycle state of one sync job.
type JobState string

// Job states.
const (
	StateInit               JobState = "init"
	StateSyncRequested      JobState = "sync_requested"
	StateProcessing         JobState = "processing"
	StateAwaitingProcessing JobState = "awaiting_processing"
	StateFailedToProcess    JobState = "failed_to_process"
	StateReadyToDownload    JobState = "ready_to_download"
	StateDownloading        JobState = "downloading"
	StateDownloaded         JobState = "downloaded"
	StateDownloadFailed     JobState = "download_failed"
	StateAbandoned          JobState = "abandoned"
)

// JobEvent drives job transitions.
type JobEvent string

// Job events.
const (
	EventSyncRequestSent            JobEvent = "syncRequestSent"
	EventSyncRequestConfirmed       JobEvent = "syncRequestConfirmed"
	EventSentProcessingCheckRequest JobEvent = "sentProcessingCheckRequest"
	EventStillProcessing            JobEvent = "stillProcessing"
	EventReady                      JobEvent = "ready"
	EventFailedToProcess            JobEvent = "failedToProcess"
	EventDownloadRequestSent        JobEvent = "downloadRequestSent"
	EventDownloaded                 JobEvent = "downloaded"
	EventDownloadingFailed          JobEvent = "downloadingFailed"
	EventRetriesExhausted           JobEvent = "retriesExhausted"
)

// Stage returns the label shown to users for s.
func (s JobState) Stage() string {
	switch s {
	case StateInit:
		return "Queued"
	case StateSyncRequested:
		return "Requesting sync"
	case StateProcessing:
		return "Processing on server"
	case StateAwaitingProcessing:
		return "Checking processing status"
	case StateFailedToProcess:
		return "Processing failed"
	case StateReadyToDownload:
		return "Ready to download"
	case StateDownloading:
		return "Downloading"
	case StateDownloaded:
		return "Downloaded"
	case StateDownloadFailed:
		return "Download failed"
	case StateAbandoned:
		return "Gave up after repeated errors"
	default:
		return string(s)
	}
}

// Busy reports whether a job in s occupies a slot of the busy budget.
func (s JobState) Busy() bool {
	return s == StateAwaitingProcessing || s == StateDownloading
}

// Terminal reports whether s is a final state.
func (s JobState) Terminal() bool {
	switch s {
	case StateDownloaded, StateFailedToProcess, StateDownloadFailed, StateAbandoned:
		return true
	default:
		return false
	}
}

// holdsDownloadURL reports whether a job in s must carry a download URL.
func (s JobState) holdsDownloadURL() bool {
	return s == StateReadyToDownload || s == StateDownloading || s == StateDownloaded
}

var jobTransitions = fsm.MustTable(
	[]JobState{
		StateInit, StateSyncRequested, StateProcessing, StateAwaitingProcessing, StateFailedToProcess,
		StateReadyToDownload, StateDownloading, StateDownloaded, StateDownloadFailed, StateAbandoned,
	},
	[]JobEvent{
		EventSyncRequestSent, EventSyncRequestConfirmed, EventSentProcessingCheckRequest, EventStillProcessing,
		EventReady, EventFailedToProcess, EventDownloadRequestSent, EventDownloaded, EventDownloadingFailed,
		EventRetriesExhausted,
	},
	[]fsm.Rule[JobState, JobEvent]{
		{From: StateInit, Event: EventSyncRequestSent, To: StateSyncRequested},
		{From: StateInit, Event: EventReady, To: StateReadyToDownload},
		{From: StateInit, Event: EventRetriesExhausted, To: StateAbandoned},

		{From: StateSyncRequested, Event: EventSyncRequestConfirmed, To: StateProcessing},
		{From: StateSyncRequested, Event: EventRetriesExhausted, To: StateAbandoned},

		{From: StateProcessing, Event: EventSentProcessingCheckRequest, To: StateAwaitingProcessing},
		{From: StateProcessing, Event: EventReady, To: StateReadyToDownload},
		{From: StateProcessing, Event: EventFailedToProcess, To: StateFailedToProcess},
		{From: StateProcessing, Event: EventRetriesExhausted, To: StateAbandoned},

		{From: StateAwaitingProcessing, Event: EventStillProcessing, To: StateProcessing},
		{From: StateAwaitingProcessing, Event: EventReady, To: StateReadyToDownload},
		{From: StateAwaitingProcessing, Event: EventFailedToProcess, To: StateFailedToProcess},

		{From: StateReadyToDownload, Event: EventDownloadRequestSent, To: StateDownloading},
		{From: StateReadyToDownload, Event: EventDownloadingFailed, To: StateDownloadFailed},

		{From: StateDownloading, Event: EventDownloaded, To: StateDownloaded},
		{From: StateDownloading, Event: EventDownloadingFailed, To: StateDownloadFailed},
	},
)

// Job tracks one file from sync request to files on disk. The state and the
// fields that must agree with it (sync ID, download URL) change together
// under the machine lock.
type Job struct {
	ID        string
	Filename  string
	CreatedAt time.Time

	machine *fsm.Machine[JobState, JobEvent]

	mu          stdsync.Mutex
	syncID      int64
	hasSyncID   bool
	downloadURL string
}

// NewJob creates a job for filename in the init state.
func NewJob(filename string) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Filename:  filename,
		CreatedAt: time.Now(),
		machine:   fsm.New(jobTransitions, StateInit),
	}
}

// State returns the current state.
func (j *Job) State() JobState {
	return j.machine.State()
}

// Stage returns the user-facing label of the current state.
func (j *Job) Stage() string {
	return j.State().Stage()
}

// SyncID returns the server-side sync ID once the server has assigned one.
func (j *Job) SyncID() (int64, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.syncID, j.hasSyncID
}

// DownloadURL returns the archive URL, or "" outside the download states.
func (j *Job) DownloadURL() string {
	if !j.State().holdsDownloadURL() {
		return ""
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.downloadURL
}

// OnTransition registers fn for every state change of the job.
func (j *Job) OnTransition(fn func(job *Job, state JobState)) (unsubscribe func()) {
	return j.machine.Subscribe(func(tr fsm.Transition[JobState, JobEvent]) {
		fn(j, tr.To)
	})
}

func (j *Job) fire(ev JobEvent, apply func() error) error {
	if _, err := j.machine.Fire(ev, apply); err != nil {
		return fmt.Errorf("sync: job %s: %w", j.Filename, err)
	}

	return nil
}

// SyncRequestSent records that the sync request is on its way.
func (j *Job) SyncRequestSent() error {
	return j.fire(EventSyncRequestSent, nil)
}

// SyncRequestConfirmed records the server-assigned sync ID.
func (j *Job) SyncRequestConfirmed(syncID int64) error {
	return j.fire(EventSyncRequestConfirmed, func() error {
		j.mu.Lock()
		j.syncID, j.hasSyncID = syncID, true
		j.mu.Unlock()

		return nil
	})
}

// SentProcessingCheckRequest records that a status poll is in flight.
func (j *Job) SentProcessingCheckRequest() error {
	return j.fire(EventSentProcessingCheckRequest, nil)
}

// StillProcessing records that the server has not finished yet.
func (j *Job) StillProcessing() error {
	return j.fire(EventStillProcessing, nil)
}

// Ready records that the archive can be fetched from url.
func (j *Job) Ready(url string, syncID int64) error {
	if url == "" {
		return errors.New("sync: ready without download URL")
	}

	return j.fire(EventReady, func() error {
		j.mu.Lock()
		j.downloadURL = url
		j.syncID, j.hasSyncID = syncID, true
		j.mu.Unlock()

		return nil
	})
}

// FailedToProcess records that the server gave up rendering the file.
func (j *Job) FailedToProcess() error {
	return j.fire(EventFailedToProcess, nil)
}

// DownloadRequestSent records that the archive fetch has started.
func (j *Job) DownloadRequestSent() error {
	return j.fire(EventDownloadRequestSent, nil)
}

// Downloaded records that the files were written.
func (j *Job) Downloaded() error {
	return j.fire(EventDownloaded, nil)
}

// DownloadingFailed records a failed download. The URL is dropped with it.
func (j *Job) DownloadingFailed() error {
	return j.fire(EventDownloadingFailed, func() error {
		j.mu.Lock()
		j.downloadURL = ""
		j.mu.Unlock()

		return nil
	})
}

// RetriesExhausted abandons the job.
func (j *Job) RetriesExhausted() error {
	return j.fire(EventRetriesExhausted, nil)
}
