package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingEvictor struct {
	calls atomic.Int32
}

func (e *countingEvictor) EvictExpired() int {
	e.calls.Add(1)
	return 0
}

func TestSchedulerSweepsPeriodically(t *testing.T) {
	evictor := &countingEvictor{}
	s := New(evictor, 20*time.Millisecond, zap.NewNop())
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return evictor.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerWithoutEvictor(t *testing.T) {
	s := New(nil, time.Minute, nil)
	assert.NoError(t, s.Start())
	s.Stop()
}
