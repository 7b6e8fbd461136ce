package forecast_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/climate-crop-forecast/internal/climate"
	"github.com/i474232898/climate-crop-forecast/internal/forecast"
	"github.com/i474232898/climate-crop-forecast/internal/store"
)

func waitForStatus(t *testing.T, svc *forecast.Service, id string, want forecast.RunStatus) forecast.Run {
	t.Helper()
	var run forecast.Run
	require.Eventually(t, func() bool {
		r, err := svc.GetRun(id)
		if err != nil {
			return false
		}
		run = r
		return r.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return run
}

func TestStartRunSucceeds(t *testing.T) {
	svc, _ := newService(t, scenarioClient(), forecast.Options{})

	run, err := svc.Start(lima, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, forecast.RunPending, run.Status)
	assert.Equal(t, 1, run.Accuracy)

	done := waitForStatus(t, svc, run.ID, forecast.RunSucceeded)
	assert.Equal(t, 100.0, done.Progress)
	require.NotNil(t, done.Result)
	require.NotNil(t, done.FinishedAt)
	assert.Nil(t, done.Result.Error)
	assert.NotEmpty(t, done.Result.Crops)

	_, err = svc.CancelRun(run.ID)
	assert.ErrorIs(t, err, forecast.ErrRunFinished)

	list := svc.ListRuns()
	require.Len(t, list, 1)
	assert.Equal(t, run.ID, list[0].ID)
	assert.Equal(t, forecast.RunSucceeded, list[0].Status)
}

func TestStartRunRecordsFailure(t *testing.T) {
	client := scenarioClient()
	client.fail = map[climate.DatasetID]bool{42: true, 43: true, 44: true}
	svc, _ := newService(t, client, forecast.Options{})

	run, err := svc.Start(lima, 1)
	require.NoError(t, err)

	done := waitForStatus(t, svc, run.ID, forecast.RunFailed)
	require.NotNil(t, done.Result)
	assert.Equal(t, forecast.FailureInsufficientSuccess, done.Result.FailureKind)
	assert.Equal(t, forecast.FailureInsufficientSuccess, done.Summary().FailureKind)
	assert.Less(t, done.Progress, 100.0)
}

func TestStartRejectsInvalidInput(t *testing.T) {
	svc, runs := newService(t, scenarioClient(), forecast.Options{})

	_, err := svc.Start(lima, 0)
	assert.ErrorIs(t, err, climate.ErrInvalidAccuracy)

	_, err = svc.Start(nil, 1)
	assert.Error(t, err)
	assert.Zero(t, runs.Len())
}

func TestCancelRun(t *testing.T) {
	svc, _ := newService(t, &stubClient{block: true}, forecast.Options{})

	run, err := svc.Start(lima, 2)
	require.NoError(t, err)
	waitForStatus(t, svc, run.ID, forecast.RunRunning)

	_, err = svc.CancelRun(run.ID)
	require.NoError(t, err)

	done := waitForStatus(t, svc, run.ID, forecast.RunCancelled)
	require.NotNil(t, done.Result)
	assert.Equal(t, forecast.FailureCancelled, done.Result.FailureKind)
	assert.Nil(t, done.Result.DataTemperature)
}

func TestCancelUnknownRun(t *testing.T) {
	svc, _ := newService(t, scenarioClient(), forecast.Options{})

	_, err := svc.CancelRun("missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEvictExpired(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	svc, runs := newService(t, scenarioClient(), forecast.Options{Retention: 30 * time.Minute, Now: clock.Now})

	run, err := svc.Start(lima, 1)
	require.NoError(t, err)
	waitForStatus(t, svc, run.ID, forecast.RunSucceeded)

	assert.Zero(t, svc.EvictExpired())

	clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, svc.EvictExpired())
	assert.Zero(t, runs.Len())

	_, err = svc.GetRun(run.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestShutdownCancelsRuns(t *testing.T) {
	svc, _ := newService(t, &stubClient{block: true}, forecast.Options{})

	run, err := svc.Start(lima, 1)
	require.NoError(t, err)
	waitForStatus(t, svc, run.ID, forecast.RunRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	got, err := svc.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, forecast.RunCancelled, got.Status)
}
