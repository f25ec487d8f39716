package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger/internal/infra/scheduler"
)

func TestScheduler_RunsJob(t *testing.T) {
	s := scheduler.New(time.UTC, zap.NewNop())
	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) { runs.Add(1) }))
	assert.Equal(t, 1, s.Len())

	s.Start()
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_StopCancelsJobContext(t *testing.T) {
	s := scheduler.New(time.UTC, zap.NewNop())
	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, s.Add("long", "@every 1s", func(ctx context.Context) {
		select {
		case started <- struct{}{}:
		default:
			return
		}
		<-ctx.Done()
		close(cancelled)
	}))
	s.Start()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}
	require.NoError(t, s.Stop(context.Background()))
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("job context was not cancelled")
	}
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := scheduler.New(nil, zap.NewNop())
	err := s.Add("broken", "not a schedule", func(context.Context) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Zero(t, s.Len())
}
