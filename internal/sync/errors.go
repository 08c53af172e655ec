package sync

import (
	"errors"
	"fmt"
)

// ErrProcessingFailed is reported when the server gives up rendering a file.
var ErrProcessingFailed = errors.New("sync: server failed to process file")

// ErrRetriesExhausted is reported when a job is abandoned after too many
// consecutive request failures.
var ErrRetriesExhausted = errors.New("sync: retries exhausted")

// JobError describes a terminal job failure: which file, at which stage, and
// the HTTP status when the failure came from the server.
type JobError struct {
	Path   string
	Stage  JobState
	Status int // 0 when not an HTTP failure
	Err    error
}

func (e *JobError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("sync: %s: %s (HTTP %d): %v", e.Path, e.Stage.Stage(), e.Status, e.Err)
	}

	return fmt.Sprintf("sync: %s: %s: %v", e.Path, e.Stage.Stage(), e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
