// Package forecast turns a geometry and an accuracy level into an aggregated
// nine-month climate series and a crop ranking.
package forecast

import (
	"time"

	"github.com/i474232898/climate-crop-forecast/internal/climate"
	"github.com/i474232898/climate-crop-forecast/internal/crops"
)

// FailureKind classifies why a request produced no data.
type FailureKind string

const (
	FailureInsufficientSuccess FailureKind = "insufficient_success"
	FailureInsufficientData    FailureKind = "insufficient_data"
	FailureMisalignedSeries    FailureKind = "misaligned_series"
	FailureCancelled           FailureKind = "cancelled"
	FailureTimeout             FailureKind = "timeout"
	FailureInvalidRequest      FailureKind = "invalid_request"
	FailureInternal            FailureKind = "internal"
)

// DatasetReport is the per-dataset outcome exposed to callers.
type DatasetReport struct {
	DatasetID climate.DatasetID `json:"datasetId"`
	Class     climate.Class     `json:"class"`
	JobID     climate.JobID     `json:"jobId,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Result is the outcome of a data request. Either both data fields are set
// and Error is nil, or both are nil and Error describes the failure.
type Result struct {
	DataTemperature   []climate.TemperatureDay   `json:"dataTemperature"`
	DataPrecipitation []climate.PrecipitationDay `json:"dataPrecipitation"`
	Error             *string                    `json:"error"`
	FailureKind       FailureKind                `json:"failureKind,omitempty"`
	Datasets          []DatasetReport            `json:"datasets,omitempty"`
}

// Failed reports whether the request produced no data.
func (r Result) Failed() bool { return r.Error != nil }

// Prediction is a Result with the monthly summaries and the ranked crops.
type Prediction struct {
	Result
	MonthlyTemperature   []crops.MonthlyAverage `json:"monthlyTemperature,omitempty"`
	MonthlyPrecipitation []crops.MonthlyAverage `json:"monthlyPrecipitation,omitempty"`
	Crops                []crops.Compatibility  `json:"crops,omitempty"`
}

// RunStatus is the lifecycle state of an asynchronous run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Finished reports whether no more updates will happen.
func (s RunStatus) Finished() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	}
	return false
}

// Run tracks one asynchronous prediction.
type Run struct {
	ID         string      `json:"id"`
	Status     RunStatus   `json:"status"`
	Progress   float64     `json:"progress"`
	Accuracy   int         `json:"accuracy"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Result     *Prediction `json:"result,omitempty"`
}

// RunSummary is a Run without its result payload.
type RunSummary struct {
	ID          string      `json:"id"`
	Status      RunStatus   `json:"status"`
	Progress    float64     `json:"progress"`
	Accuracy    int         `json:"accuracy"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	FailureKind FailureKind `json:"failureKind,omitempty"`
}

// Summary drops the result, keeping its failure kind.
func (r Run) Summary() RunSummary {
	s := RunSummary{
		ID:         r.ID,
		Status:     r.Status,
		Progress:   r.Progress,
		Accuracy:   r.Accuracy,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.Result != nil {
		s.FailureKind = r.Result.FailureKind
	}
	return s
}

// RunStore is the contract for the run registry.
type RunStore interface {
	Save(run Run) error
	Get(id string) (Run, error)
	Update(id string, fn func(*Run)) (Run, error)
	List() []Run
	// Evict drops finished runs that ended before cutoff and returns how many
	// were removed.
	Evict(cutoff time.Time) int
}

func reportOutcomes(outcomes []climate.Outcome) []DatasetReport {
	if len(outcomes) == 0 {
		return nil
	}
	out := make([]DatasetReport, len(outcomes))
	for i, o := range outcomes {
		out[i] = DatasetReport{DatasetID: o.DatasetID, Class: o.Class, JobID: o.JobID}
		if o.Err != nil {
			out[i].Error = o.Err.Error()
		}
	}
	return out
}
