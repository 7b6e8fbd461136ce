package climate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/i474232898/climate-crop-forecast/internal/geo"
)

var testPoint = geo.Point{Coordinate: geo.Coordinate{Lat: -12.05, Lng: -77.04}}

// fakeClient serves two-day series and fails the configured datasets.
type fakeClient struct {
	mu          sync.Mutex
	fail        map[DatasetID]Stage
	submitted   []DatasetID
	events      []string
	inFlight    int
	maxInFlight int
	windows     []DateRange

	// awaitDelay keeps jobs in flight long enough to observe overlap.
	awaitDelay time.Duration
	// onSubmit runs after a submission is recorded.
	onSubmit func(DatasetID)
	// blockAwait makes AwaitCompletion wait for ctx.
	blockAwait bool
}

func (f *fakeClient) record(event string) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

func (f *fakeClient) Submit(ctx context.Context, id DatasetID, window DateRange, _ geo.Geometry) (JobID, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, id)
	f.windows = append(f.windows, window)
	f.events = append(f.events, fmt.Sprintf("start:%d", id))
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	hook := f.onSubmit
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	if f.fail[id] == StageSubmit {
		f.done(id)
		return "", &JobError{Stage: StageSubmit, StatusCode: 500}
	}
	return JobID(strconv.Itoa(int(id))), nil
}

func (f *fakeClient) done(id DatasetID) {
	f.mu.Lock()
	f.inFlight--
	f.events = append(f.events, fmt.Sprintf("end:%d", id))
	f.mu.Unlock()
}

func jobDataset(job JobID) DatasetID {
	n, _ := strconv.Atoi(string(job))
	return DatasetID(n)
}

func (f *fakeClient) AwaitCompletion(ctx context.Context, job JobID) error {
	id := jobDataset(job)
	if f.blockAwait {
		<-ctx.Done()
		f.done(id)
		return ctx.Err()
	}
	if f.awaitDelay > 0 {
		time.Sleep(f.awaitDelay)
	}
	if f.fail[id] == StageProgress {
		f.done(id)
		return errors.New("progress endpoint returned 500")
	}
	return nil
}

func (f *fakeClient) FetchResult(_ context.Context, job JobID) (RawDailySeries, error) {
	id := jobDataset(job)
	defer f.done(id)
	if f.fail[id] == StageFetch {
		return RawDailySeries{}, &JobError{Stage: StageFetch, JobID: job, StatusCode: 404}
	}
	return makeSeries(0, float64(id), float64(id)+1), nil
}

func newTestScheduler(client JobClient) *BatchScheduler {
	cfg := DefaultBatchConfig()
	cfg.Now = func() time.Time { return time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC) }
	return NewBatchScheduler(client, cfg, zap.NewNop(), nil)
}

func TestCollectIssuesFourJobsPerAccuracy(t *testing.T) {
	for accuracy := 1; accuracy <= 12; accuracy++ {
		client := &fakeClient{}
		sched := newTestScheduler(client)

		col, err := sched.Collect(context.Background(), testPoint, accuracy, nil)
		require.NoError(t, err)

		assert.Len(t, client.submitted, 4*accuracy, "accuracy %d", accuracy)
		assert.Len(t, col.Outcomes, 4*accuracy)
		assert.Len(t, col.Temperature, 2*accuracy)
		assert.Len(t, col.Precipitation, 2*accuracy)
	}
}

func TestDatasetIDsStartAtBase(t *testing.T) {
	sched := newTestScheduler(&fakeClient{})

	assert.Equal(t, []DatasetID{42, 43, 44, 45}, sched.DatasetIDs(1))
	ids := sched.DatasetIDs(12)
	require.Len(t, ids, 48)
	assert.Equal(t, DatasetID(89), ids[47])
	assert.Nil(t, sched.DatasetIDs(0))
}

func TestCollectRequestsNineMonthWindow(t *testing.T) {
	client := &fakeClient{}
	_, err := newTestScheduler(client).Collect(context.Background(), testPoint, 1, nil)
	require.NoError(t, err)

	require.NotEmpty(t, client.windows)
	assert.Equal(t, "03/15/2025", client.windows[0].BeginParam())
	assert.Equal(t, "12/15/2025", client.windows[0].EndParam())
}

func TestCollectBucketsByParity(t *testing.T) {
	col, err := newTestScheduler(&fakeClient{}).Collect(context.Background(), testPoint, 2, nil)
	require.NoError(t, err)

	for _, s := range col.Temperature {
		assert.Equal(t, ClassTemperature, s.DatasetID.Class())
		assert.Equal(t, float64(s.DatasetID), s.Days[0].RawValue)
	}
	for _, s := range col.Precipitation {
		assert.Equal(t, ClassPrecipitation, s.DatasetID.Class())
	}
}

func TestCollectSuccessThresholdAllDistributions(t *testing.T) {
	stages := []Stage{StageSubmit, StageProgress, StageFetch}

	for _, accuracy := range []int{1, 2} {
		total := 4 * accuracy
		threshold := (total + 1) / 2

		for mask := 0; mask < 1<<total; mask++ {
			fail := make(map[DatasetID]Stage)
			for i := 0; i < total; i++ {
				if mask&(1<<i) != 0 {
					fail[DatasetID(42+i)] = stages[i%len(stages)]
				}
			}
			successes := total - len(fail)

			col, err := newTestScheduler(&fakeClient{fail: fail}).Collect(context.Background(), testPoint, accuracy, nil)
			if successes < threshold {
				var insufficient *InsufficientSuccessError
				require.True(t, errors.As(err, &insufficient), "mask %b", mask)
				assert.Equal(t, successes, insufficient.Succeeded)
				assert.Equal(t, total, insufficient.Total)
				assert.Equal(t, fmt.Sprintf("Only %d out of %d requests succeeded.", successes, total), err.Error())
				assert.Nil(t, col.Temperature)
				assert.Nil(t, col.Precipitation)
				continue
			}
			require.NoError(t, err, "mask %b", mask)
			assert.Equal(t, successes, col.Successes())
			assert.Equal(t, successes, len(col.Temperature)+len(col.Precipitation))
		}
	}
}

func TestCollectIsolatesFailures(t *testing.T) {
	client := &fakeClient{fail: map[DatasetID]Stage{
		42: StageSubmit,
		43: StageProgress,
		45: StageFetch,
	}}
	col, err := newTestScheduler(client).Collect(context.Background(), testPoint, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, col.Successes())

	byID := make(map[DatasetID]Outcome)
	for _, o := range col.Outcomes {
		byID[o.DatasetID] = o
	}
	assert.ErrorIs(t, byID[42].Err, ErrSubmission)
	assert.ErrorIs(t, byID[43].Err, ErrProgress)
	assert.ErrorIs(t, byID[45].Err, ErrFetch)
	assert.NoError(t, byID[44].Err)

	var je *JobError
	require.True(t, errors.As(byID[45].Err, &je))
	assert.Equal(t, DatasetID(45), je.DatasetID)
	assert.Equal(t, JobID("45"), je.JobID)
}

func TestCollectRunsBatchesSequentially(t *testing.T) {
	client := &fakeClient{awaitDelay: 5 * time.Millisecond}
	_, err := newTestScheduler(client).Collect(context.Background(), testPoint, 3, nil)
	require.NoError(t, err)

	assert.LessOrEqual(t, client.maxInFlight, 4)

	// Every dataset of batch k must end before any dataset of batch k+1 starts.
	batchOf := func(id int) int { return (id - 42) / 4 }
	ended := make(map[int]int)
	for _, ev := range client.events {
		var id int
		if _, err := fmt.Sscanf(ev, "start:%d", &id); err == nil {
			b := batchOf(id)
			if b > 0 {
				assert.Equal(t, 4, ended[b-1], "batch %d started before batch %d settled", b, b-1)
			}
			continue
		}
		if _, err := fmt.Sscanf(ev, "end:%d", &id); err == nil {
			ended[batchOf(id)]++
		}
	}
}

func TestCollectReportsProgressBelowCompletion(t *testing.T) {
	var reports []float64
	_, err := newTestScheduler(&fakeClient{}).Collect(context.Background(), testPoint, 3, func(p float64) {
		reports = append(reports, p)
	})
	require.NoError(t, err)

	require.Len(t, reports, 3)
	assert.InDelta(t, 95.0/3, reports[0], 1e-9)
	assert.InDelta(t, 95.0*2/3, reports[1], 1e-9)
	assert.InDelta(t, 95.0, reports[2], 1e-9)
	for _, p := range reports {
		assert.Less(t, p, 100.0)
	}
}

func TestCollectZeroMarginKeepsLastReportBelowCompletion(t *testing.T) {
	cfg := DefaultBatchConfig()
	cfg.ProgressMargin = 0
	sched := NewBatchScheduler(&fakeClient{}, cfg, zap.NewNop(), nil)

	var reports []float64
	_, err := sched.Collect(context.Background(), testPoint, 1, func(p float64) {
		reports = append(reports, p)
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.InDelta(t, 95.0, reports[0], 1e-9)
}

func TestCollectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{blockAwait: true}
	client.onSubmit = func(DatasetID) { cancel() }

	var reports []float64
	col, err := newTestScheduler(client).Collect(ctx, testPoint, 3, func(p float64) {
		reports = append(reports, p)
	})
	require.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, col.Temperature)
	assert.Empty(t, col.Precipitation)
	assert.Empty(t, reports)
	assert.LessOrEqual(t, len(client.submitted), 4)
}

func TestCollectDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestScheduler(&fakeClient{blockAwait: true}).Collect(ctx, testPoint, 1, nil)
	assert.ErrorIs(t, err, ErrRunTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCollectRejectsInvalidAccuracy(t *testing.T) {
	client := &fakeClient{}
	_, err := newTestScheduler(client).Collect(context.Background(), testPoint, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidAccuracy)
	assert.Empty(t, client.submitted)
}
