package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDailySpec(t *testing.T) {
	t.Parallel()

	spec, err := buildDailySpec("07:05")
	require.NoError(t, err)
	assert.Equal(t, "0 5 7 * * *", spec)

	_, err = buildDailySpec("7")
	assert.Error(t, err)
	_, err = buildDailySpec("25:00")
	assert.Error(t, err)
}

func TestRunnerRegistersJobs(t *testing.T) {
	t.Parallel()

	r := NewRunner(time.UTC, zerolog.Nop())
	_, err := r.ScheduleInterval(0, func() {})
	assert.Error(t, err)

	_, err = r.ScheduleInterval(time.Minute, func() {})
	require.NoError(t, err)
	_, err = r.ScheduleDaily("03:30", func() {})
	require.NoError(t, err)

	r.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, r.Stop(ctx))
}

func TestRunnerWaitsForRunningJob(t *testing.T) {
	t.Parallel()

	r := NewRunner(time.UTC, zerolog.Nop())
	started := make(chan struct{})
	release := make(chan struct{})
	_, err := r.ScheduleInterval(time.Second, func() {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})
	require.NoError(t, err)
	r.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, r.Stop(ctx), "stop times out while the job runs")

	close(release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.NoError(t, r.Stop(ctx2))
}
