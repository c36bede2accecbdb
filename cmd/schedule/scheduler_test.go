package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
)

func TestScheduler_InvalidSpec(t *testing.T) {
	s := NewScheduler([]Job{{Name: "feeds", Spec: "not a cron", Run: func(context.Context) error { return nil }}}, time.UTC, nil)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feeds")
}

func TestScheduler_RunsJobs(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler([]Job{
		{Name: "tick", Spec: "@every 1s", Run: func(context.Context) error {
			runs.Add(1)
			return errors.New("reported, not fatal")
		}},
		{Name: "disabled", Spec: "", Run: func(context.Context) error {
			t.Error("disabled job ran")
			return nil
		}},
	}, time.UTC, logger.NewNop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
}

func TestScheduler_CancelledContextSkipsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScheduler(nil, nil, nil)
	ran := false
	s.wrap(ctx, Job{Name: "feeds", Run: func(context.Context) error {
		ran = true
		return nil
	}})()
	assert.False(t, ran)
}

func TestFields(t *testing.T) {
	out := fields([]any{"now", 1, 2, "odd", "dangling"})
	require.Len(t, out, 2)
	assert.Equal(t, "now", out[0].Key)
	assert.Equal(t, "2", out[1].Key)
}
