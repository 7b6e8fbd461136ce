package climate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/climate-crop-forecast/internal/geo"
	"github.com/i474232898/climate-crop-forecast/internal/metrics"
)

// BatchConfig controls how an accuracy level is expanded into provider jobs.
type BatchConfig struct {
	// BaseDatasetID is the first id of the provider's dataset family.
	BaseDatasetID DatasetID
	// DatasetsPerAccuracy is how many dataset ids each accuracy step adds.
	DatasetsPerAccuracy int
	// BatchSize is the number of datasets processed concurrently.
	BatchSize int
	// HorizonMonths is the length of the requested window.
	HorizonMonths int
	// ProgressMargin is held back from progress reports so that 100 is only
	// reached after aggregation.
	ProgressMargin float64
	// Now is the clock used to anchor the window.
	Now func() time.Time
}

// DefaultBatchConfig returns the provider contract defaults.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BaseDatasetID:       42,
		DatasetsPerAccuracy: 4,
		BatchSize:           4,
		HorizonMonths:       9,
		ProgressMargin:      5,
		Now:                 time.Now,
	}
}

func (c BatchConfig) withDefaults() BatchConfig {
	def := DefaultBatchConfig()
	if c.BaseDatasetID == 0 {
		c.BaseDatasetID = def.BaseDatasetID
	}
	if c.DatasetsPerAccuracy <= 0 {
		c.DatasetsPerAccuracy = def.DatasetsPerAccuracy
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.HorizonMonths <= 0 {
		c.HorizonMonths = def.HorizonMonths
	}
	if c.ProgressMargin <= 0 || c.ProgressMargin >= 100 {
		c.ProgressMargin = def.ProgressMargin
	}
	if c.Now == nil {
		c.Now = def.Now
	}
	return c
}

// Collection holds the series gathered for one request, split by class.
type Collection struct {
	Temperature   []RawDailySeries
	Precipitation []RawDailySeries
	Outcomes      []Outcome
}

// Successes counts the datasets that produced a series.
func (c Collection) Successes() int {
	n := 0
	for _, o := range c.Outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

// BatchScheduler fans dataset jobs out in fixed-size batches and applies the
// majority-success policy to the results.
type BatchScheduler struct {
	client  JobClient
	cfg     BatchConfig
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewBatchScheduler creates a BatchScheduler. Zero config fields take defaults.
func NewBatchScheduler(client JobClient, cfg BatchConfig, logger *zap.Logger, m *metrics.Collector) *BatchScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchScheduler{
		client:  client,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: m,
	}
}

// DatasetIDs expands an accuracy level into the dataset ids to request.
func (s *BatchScheduler) DatasetIDs(accuracy int) []DatasetID {
	if accuracy < 1 {
		return nil
	}
	n := s.cfg.DatasetsPerAccuracy * accuracy
	ids := make([]DatasetID, n)
	for i := range ids {
		ids[i] = s.cfg.BaseDatasetID + DatasetID(i)
	}
	return ids
}

type taskResult struct {
	outcome Outcome
	series  RawDailySeries
}

// Collect runs one submit/await/fetch pipeline per dataset id. Batches run in
// sequence; the datasets inside a batch run concurrently and fail independently.
// onProgress may be nil.
func (s *BatchScheduler) Collect(ctx context.Context, g geo.Geometry, accuracy int, onProgress ProgressFunc) (Collection, error) {
	if accuracy < 1 {
		return Collection{}, fmt.Errorf("%w: got %d", ErrInvalidAccuracy, accuracy)
	}

	ids := s.DatasetIDs(accuracy)
	total := len(ids)
	window := HorizonFrom(s.cfg.Now(), s.cfg.HorizonMonths)

	var (
		collection Collection
		failures   *multierror.Error
	)
	collection.Outcomes = make([]Outcome, 0, total)

	s.logger.Info("collecting datasets",
		zap.Int("accuracy", accuracy),
		zap.Int("datasets", total),
		zap.String("begin", window.BeginParam()),
		zap.String("end", window.EndParam()),
	)

	for start := 0; start < total; start += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return Collection{}, interrupted(err)
		}

		end := min(start+s.cfg.BatchSize, total)
		results := s.runBatch(ctx, window, g, ids[start:end])

		if err := ctx.Err(); err != nil {
			return Collection{}, interrupted(err)
		}

		for _, r := range results {
			collection.Outcomes = append(collection.Outcomes, r.outcome)
			if !r.outcome.Succeeded() {
				failures = multierror.Append(failures, r.outcome.Err)
				continue
			}
			switch r.outcome.Class {
			case ClassTemperature:
				collection.Temperature = append(collection.Temperature, r.series)
			default:
				collection.Precipitation = append(collection.Precipitation, r.series)
			}
		}

		s.logger.Debug("batch settled", zap.Int("processed", end), zap.Int("total", total))
		if onProgress != nil {
			onProgress(float64(end) / float64(total) * (100 - s.cfg.ProgressMargin))
		}
	}

	successes := collection.Successes()
	if err := failures.ErrorOrNil(); err != nil {
		s.logger.Warn("some datasets failed",
			zap.Int("failed", total-successes),
			zap.Int("total", total),
			zap.Error(err),
		)
	}

	threshold := (total + 1) / 2
	if successes < threshold {
		return Collection{Outcomes: collection.Outcomes}, &InsufficientSuccessError{Succeeded: successes, Total: total}
	}
	return collection, nil
}

func (s *BatchScheduler) runBatch(ctx context.Context, window DateRange, g geo.Geometry, batch []DatasetID) []taskResult {
	results := make([]taskResult, len(batch))

	var group errgroup.Group
	group.SetLimit(s.cfg.BatchSize)
	for i, id := range batch {
		group.Go(func() error {
			// Failures stay in the slot so siblings keep running.
			results[i] = s.runDataset(ctx, window, g, id)
			return nil
		})
	}
	_ = group.Wait()

	return results
}

func (s *BatchScheduler) runDataset(ctx context.Context, window DateRange, g geo.Geometry, id DatasetID) taskResult {
	started := time.Now()
	outcome := Outcome{DatasetID: id, Class: id.Class()}

	finish := func(err error) taskResult {
		outcome.Err = err
		outcome.Duration = time.Since(started)
		s.metrics.ObserveJob(string(outcome.Class), outcomeLabel(err), outcome.Duration)
		if err != nil {
			s.logger.Warn("dataset failed",
				zap.Int("dataset_id", int(id)),
				zap.String("job_id", string(outcome.JobID)),
				zap.Error(err),
			)
		}
		return taskResult{outcome: outcome}
	}

	job, err := s.client.Submit(ctx, id, window, g)
	if err != nil {
		return finish(asJobError(StageSubmit, id, "", err))
	}
	outcome.JobID = job

	if err := s.client.AwaitCompletion(ctx, job); err != nil {
		return finish(asJobError(StageProgress, id, job, err))
	}

	series, err := s.client.FetchResult(ctx, job)
	if err != nil {
		return finish(asJobError(StageFetch, id, job, err))
	}
	series.DatasetID = id

	res := finish(nil)
	res.series = series
	return res
}

// asJobError makes sure err is a *JobError carrying the dataset id.
func asJobError(stage Stage, id DatasetID, job JobID, err error) error {
	var je *JobError
	if errors.As(err, &je) {
		cp := *je
		cp.DatasetID = id
		if cp.JobID == "" {
			cp.JobID = job
		}
		return &cp
	}
	return &JobError{Stage: stage, DatasetID: id, JobID: job, Err: err}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrPollTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrSubmission):
		return "submit_error"
	case errors.Is(err, ErrProgress):
		return "progress_error"
	case errors.Is(err, ErrFetch):
		return "fetch_error"
	default:
		return "error"
	}
}

func interrupted(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrRunTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}
