package climate

import (
	"context"

	"github.com/i474232898/climate-crop-forecast/internal/geo"
)

// JobClient abstracts the asynchronous job API of the climate data provider.
type JobClient interface {
	Submit(ctx context.Context, id DatasetID, window DateRange, g geo.Geometry) (JobID, error)
	// AwaitCompletion blocks until the job reports full progress.
	AwaitCompletion(ctx context.Context, job JobID) error
	FetchResult(ctx context.Context, job JobID) (RawDailySeries, error)
}

// ProgressFunc receives a completion percentage in [0, 100].
type ProgressFunc func(percent float64)
