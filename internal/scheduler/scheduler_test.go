package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/complyscan/internal/logging"
)

func noopJob(context.Context) error { return nil }

func TestNewScheduler(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"five fields", "0 3 * * *", false},
		{"descriptor", "@daily", false},
		{"interval", "@every 1h", false},
		{"seconds field rejected", "0 0 3 * * *", true},
		{"garbage", "whenever", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewScheduler(tt.expr, noopJob, logging.NewDiscard())
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expr, s.Status().Schedule)
		})
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s, err := NewScheduler("@daily", noopJob, logging.NewDiscard())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start must fail")

	st := s.Status()
	assert.False(t, st.Running)
	assert.True(t, st.NextRun.After(time.Now()))

	s.Stop()
	s.Stop()
}

func TestExecuteRecordsOutcome(t *testing.T) {
	var calls atomic.Int32
	failing := func(context.Context) error {
		calls.Add(1)
		return fmt.Errorf("no policies")
	}
	s, err := NewScheduler("@daily", failing, logging.NewDiscard())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	s.execute()
	s.execute()

	st := s.Status()
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, st.Runs)
	assert.EqualError(t, st.LastError, "no policies")
	assert.False(t, st.LastRun.IsZero())
	assert.False(t, st.Running)
}

func TestExecuteSkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	blocking := func(ctx context.Context) error {
		calls.Add(1)
		close(entered)
		<-release
		return nil
	}

	s, err := NewScheduler("@daily", blocking, logging.NewDiscard())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	done := make(chan struct{})
	go func() {
		s.execute()
		close(done)
	}()
	<-entered

	assert.True(t, s.Status().Running)
	s.execute()
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	<-done
	assert.False(t, s.Status().Running)
}

func TestExecuteAfterStopIsIgnored(t *testing.T) {
	var calls atomic.Int32
	s, err := NewScheduler("@daily", func(context.Context) error {
		calls.Add(1)
		return nil
	}, logging.NewDiscard())
	require.NoError(t, err)

	s.execute()
	assert.Equal(t, int32(0), calls.Load())
}

func TestRunStopsWithContext(t *testing.T) {
	s, err := NewScheduler("@every 1h", noopJob, logging.NewDiscard())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.NoError(t, s.Run(ctx))
	assert.False(t, s.Status().Running)
}
