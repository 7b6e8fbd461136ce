package forecast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/i474232898/climate-crop-forecast/internal/climate"
	"github.com/i474232898/climate-crop-forecast/internal/crops"
	"github.com/i474232898/climate-crop-forecast/internal/geo"
	"github.com/i474232898/climate-crop-forecast/internal/metrics"
)

// ErrRunFinished is returned when cancelling a run that already ended.
var ErrRunFinished = errors.New("run already finished")

// Options tunes a Service. Zero durations disable the limit they control.
type Options struct {
	// RunTimeout bounds a whole request, including every batch.
	RunTimeout time.Duration
	// Retention is how long finished runs stay queryable.
	Retention time.Duration
	// Now is the clock used for run timestamps.
	Now func() time.Time
}

// Service orchestrates dataset collection, aggregation and crop ranking.
type Service struct {
	batches *climate.BatchScheduler
	crops   *crops.Table
	runs    RunStore
	logger  *zap.Logger
	metrics *metrics.Collector
	opts    Options

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	baseCtx context.Context
	stop    context.CancelFunc
}

// NewService creates a new Service.
func NewService(batches *climate.BatchScheduler, table *crops.Table, runs RunStore, logger *zap.Logger, m *metrics.Collector, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Service{
		batches: batches,
		crops:   table,
		runs:    runs,
		logger:  logger,
		metrics: m,
		opts:    opts,
		cancels: make(map[string]context.CancelFunc),
		baseCtx: ctx,
		stop:    stop,
	}
}

// Crops returns the crop reference list used for ranking.
func (s *Service) Crops() []crops.Crop {
	return s.crops.Crops()
}

// DataRequest collects every dataset for accuracy over g and aggregates the
// successful ones. onProgress may be nil; it is only called before
// DataRequest returns, and reports 100 only when data is returned. The request
// ends when ctx is done, RunTimeout elapses or the service shuts down.
func (s *Service) DataRequest(ctx context.Context, g geo.Geometry, accuracy int, onProgress climate.ProgressFunc) Result {
	started := time.Now()
	s.metrics.RunStarted()

	res := s.dataRequest(ctx, g, accuracy, onProgress)

	outcome := "success"
	if res.Failed() {
		outcome = string(res.FailureKind)
	}
	s.metrics.RunFinished(outcome, time.Since(started))
	return res
}

func (s *Service) dataRequest(ctx context.Context, g geo.Geometry, accuracy int, onProgress climate.ProgressFunc) Result {
	if g == nil {
		return failure(fmt.Errorf("%w: missing geometry", geo.ErrInvalidGeometry), nil)
	}
	if err := g.Validate(); err != nil {
		return failure(err, nil)
	}

	// Shutdown stops synchronous requests as well as background runs.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	if s.opts.RunTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancelTimeout()
	}

	col, err := s.batches.Collect(ctx, g, accuracy, onProgress)
	if err != nil {
		s.logger.Warn("data request failed", zap.Int("accuracy", accuracy), zap.Error(err))
		return failure(err, col.Outcomes)
	}

	temperature, err := climate.AggregateTemperature(col.Temperature)
	if err != nil {
		return failure(fmt.Errorf("aggregate temperature: %w", err), col.Outcomes)
	}
	precipitation, err := climate.AggregatePrecipitation(col.Precipitation)
	if err != nil {
		return failure(fmt.Errorf("aggregate precipitation: %w", err), col.Outcomes)
	}

	if onProgress != nil {
		onProgress(100)
	}
	s.logger.Info("data request completed",
		zap.Int("accuracy", accuracy),
		zap.Int("succeeded", col.Successes()),
		zap.Int("total", len(col.Outcomes)),
		zap.Int("days", len(temperature)),
	)
	return Result{
		DataTemperature:   temperature,
		DataPrecipitation: precipitation,
		Datasets:          reportOutcomes(col.Outcomes),
	}
}

// Predict runs DataRequest and ranks the crop table against the monthly
// averages of the result.
func (s *Service) Predict(ctx context.Context, g geo.Geometry, accuracy int, onProgress climate.ProgressFunc) Prediction {
	res := s.DataRequest(ctx, g, accuracy, onProgress)
	if res.Failed() {
		return Prediction{Result: res}
	}

	temperature := crops.MonthlyTemperature(res.DataTemperature)
	precipitation := crops.MonthlyPrecipitation(res.DataPrecipitation)
	return Prediction{
		Result:               res,
		MonthlyTemperature:   temperature,
		MonthlyPrecipitation: precipitation,
		Crops:                crops.Rank(temperature, precipitation, s.crops.Crops()),
	}
}

func failure(err error, outcomes []climate.Outcome) Result {
	msg := err.Error()
	return Result{
		Error:       &msg,
		FailureKind: Classify(err),
		Datasets:    reportOutcomes(outcomes),
	}
}

// Classify maps a request error to its FailureKind.
func Classify(err error) FailureKind {
	var insufficient *climate.InsufficientSuccessError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &insufficient):
		return FailureInsufficientSuccess
	case errors.Is(err, climate.ErrInsufficientData):
		return FailureInsufficientData
	case errors.Is(err, climate.ErrMisalignedSeries):
		return FailureMisalignedSeries
	case errors.Is(err, climate.ErrRunTimeout), errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, climate.ErrCancelled), errors.Is(err, context.Canceled):
		return FailureCancelled
	case errors.Is(err, climate.ErrInvalidAccuracy), geo.IsInvalid(err):
		return FailureInvalidRequest
	default:
		return FailureInternal
	}
}

// Start registers a run and executes the prediction in the background.
func (s *Service) Start(g geo.Geometry, accuracy int) (Run, error) {
	if g == nil {
		return Run{}, fmt.Errorf("%w: missing geometry", geo.ErrInvalidGeometry)
	}
	if err := g.Validate(); err != nil {
		return Run{}, err
	}
	if accuracy < 1 {
		return Run{}, fmt.Errorf("%w: got %d", climate.ErrInvalidAccuracy, accuracy)
	}

	now := s.opts.Now()
	run := Run{
		ID:        uuid.NewString(),
		Status:    RunPending,
		Accuracy:  accuracy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.runs.Save(run); err != nil {
		return Run{}, fmt.Errorf("register run: %w", err)
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.mu.Lock()
	s.cancels[run.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(ctx, run.ID, g, accuracy)

	s.logger.Info("run started", zap.String("run_id", run.ID), zap.Int("accuracy", accuracy))
	return run, nil
}

func (s *Service) execute(ctx context.Context, id string, g geo.Geometry, accuracy int) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		cancel := s.cancels[id]
		delete(s.cancels, id)
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}()

	s.update(id, func(r *Run) { r.Status = RunRunning })

	prediction := s.Predict(ctx, g, accuracy, func(percent float64) {
		s.update(id, func(r *Run) { r.Progress = percent })
	})

	status := RunSucceeded
	switch {
	case prediction.FailureKind == FailureCancelled:
		status = RunCancelled
	case prediction.Failed():
		status = RunFailed
	}

	s.update(id, func(r *Run) {
		finished := s.opts.Now()
		r.Status = status
		r.FinishedAt = &finished
		r.Result = &prediction
	})
	s.logger.Info("run finished", zap.String("run_id", id), zap.String("status", string(status)))
}

func (s *Service) update(id string, fn func(*Run)) {
	_, err := s.runs.Update(id, func(r *Run) {
		fn(r)
		r.UpdatedAt = s.opts.Now()
	})
	if err != nil {
		s.logger.Warn("run update failed", zap.String("run_id", id), zap.Error(err))
	}
}

// GetRun returns the current state of a run.
func (s *Service) GetRun(id string) (Run, error) {
	return s.runs.Get(id)
}

// ListRuns summarizes the runs still held by the registry, newest first.
func (s *Service) ListRuns() []RunSummary {
	runs := s.runs.List()
	out := make([]RunSummary, len(runs))
	for i, r := range runs {
		out[i] = r.Summary()
	}
	return out
}

// CancelRun stops an in-flight run. The run moves to cancelled once its
// pending provider calls return.
func (s *Service) CancelRun(id string) (Run, error) {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()

	run, err := s.runs.Get(id)
	if err != nil {
		return Run{}, err
	}
	if !ok || run.Status.Finished() {
		return run, ErrRunFinished
	}

	cancel()
	s.logger.Info("run cancellation requested", zap.String("run_id", id))
	return run, nil
}

// EvictExpired drops finished runs older than the retention period.
func (s *Service) EvictExpired() int {
	if s.opts.Retention <= 0 {
		return 0
	}
	n := s.runs.Evict(s.opts.Now().Add(-s.opts.Retention))
	s.metrics.RecordEvictions(n)
	if n > 0 {
		s.logger.Debug("evicted finished runs", zap.Int("count", n))
	}
	return n
}

// Shutdown cancels every in-flight run and waits for them to record their
// final state, or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
