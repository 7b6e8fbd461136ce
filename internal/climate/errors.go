package climate

import (
	"errors"
	"fmt"
)

// Per-dataset failures. They are absorbed by the BatchScheduler.
var (
	ErrSubmission  = errors.New("submit data request failed")
	ErrProgress    = errors.New("data request progress failed")
	ErrFetch       = errors.New("fetch data request failed")
	ErrPollTimeout = errors.New("data request did not complete in time")
)

// Run-level failures.
var (
	ErrInsufficientData = errors.New("no series to aggregate")
	ErrMisalignedSeries = errors.New("series are not aligned by day")
	ErrCancelled        = errors.New("request cancelled")
	ErrRunTimeout       = errors.New("request timed out")
	ErrInvalidAccuracy  = errors.New("accuracy must be at least 1")
)

// Stage is the step of a dataset pipeline that failed.
type Stage string

const (
	StageSubmit   Stage = "submit"
	StageProgress Stage = "progress"
	StageFetch    Stage = "fetch"
)

// JobError describes a failure talking to the provider for one dataset.
type JobError struct {
	Stage      Stage
	DatasetID  DatasetID
	JobID      JobID
	StatusCode int
	Err        error
}

func (e *JobError) Error() string {
	msg := fmt.Sprintf("%s dataset %d", e.Stage, e.DatasetID)
	if e.JobID != "" {
		msg += fmt.Sprintf(" (job %s)", e.JobID)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *JobError) Unwrap() error { return e.Err }

// Is matches the sentinel of the failing stage, so callers can test
// errors.Is(err, ErrFetch) without caring about the wrapped cause.
func (e *JobError) Is(target error) bool {
	switch target {
	case ErrSubmission:
		return e.Stage == StageSubmit
	case ErrProgress:
		return e.Stage == StageProgress
	case ErrFetch:
		return e.Stage == StageFetch
	}
	return false
}

// InsufficientSuccessError is returned when too few dataset pipelines succeeded
// to trust the aggregate.
type InsufficientSuccessError struct {
	Succeeded int
	Total     int
}

func (e *InsufficientSuccessError) Error() string {
	return fmt.Sprintf("Only %d out of %d requests succeeded.", e.Succeeded, e.Total)
}

// MisalignmentError points at the first series that does not line up with the
// reference series.
type MisalignmentError struct {
	DatasetID DatasetID
	Index     int
	Want      string
	Got       string
}

func (e *MisalignmentError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%v: dataset %d has %s days, expected %s", ErrMisalignedSeries, e.DatasetID, e.Got, e.Want)
	}
	return fmt.Sprintf("%v: dataset %d day %d is %q, expected %q", ErrMisalignedSeries, e.DatasetID, e.Index, e.Got, e.Want)
}

func (e *MisalignmentError) Unwrap() error { return ErrMisalignedSeries }
