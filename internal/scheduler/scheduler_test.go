package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobyzev-yuri/lse/internal/config"
)

func TestDefaultSpecsParse(t *testing.T) {
	for name, specs := range DefaultSpecs() {
		require.NotEmpty(t, specs, name)
		for _, spec := range specs {
			_, err := cron.ParseStandard(spec)
			assert.NoError(t, err, "%s: %q", name, spec)
		}
	}
}

func TestGuardedSkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	flag := &atomic.Bool{}
	run := guarded("slow", flag, func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}, config.NewLogger("test"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		run(context.Background())
	}()

	// Wait for the first run to hold the flag, then tick again.
	require.Eventually(t, flag.Load, time.Second, time.Millisecond)
	run(context.Background())
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	wg.Wait()

	// After completion the guard is free again.
	run(context.Background())
	assert.Equal(t, int32(2), runs.Load())
}

func TestGuardedRunsSequentially(t *testing.T) {
	var runs int
	flag := &atomic.Bool{}
	run := guarded("fast", flag, func(ctx context.Context) error {
		runs++
		return nil
	}, config.NewLogger("test"))

	run(context.Background())
	run(context.Background())
	run(context.Background())
	assert.Equal(t, 3, runs)
}

func TestAddRejectsInvalidJobs(t *testing.T) {
	s := New(context.Background())
	defer s.Stop()

	err := s.Add(Job{Name: "no-run", Specs: []string{"@hourly"}})
	assert.Error(t, err)

	err = s.Add(Job{Name: "no-spec", Run: func(ctx context.Context) error { return nil }})
	assert.Error(t, err)

	err = s.Add(Job{Name: "bad-spec", Specs: []string{"not a cron"}, Run: func(ctx context.Context) error { return nil }})
	assert.Error(t, err)
}

func TestStopCancelsJobContext(t *testing.T) {
	s := New(context.Background())

	cancelled := make(chan struct{})
	err := s.Add(Job{
		Name:  "watcher",
		Specs: []string{"@every 10ms"},
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		},
	})
	require.NoError(t, err)

	s.Start()
	// Give the first tick a chance to start before stopping.
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("job context was not cancelled on stop")
	}
}
