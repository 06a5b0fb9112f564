package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		in      string
		want    ScheduleTime
		wantErr bool
	}{
		{"06:00", ScheduleTime{6, 0}, false},
		{"23:59", ScheduleTime{23, 59}, false},
		{"24:00", ScheduleTime{}, true},
		{"12:60", ScheduleTime{}, true},
		{"noon", ScheduleTime{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScheduleTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Workers: 1, QueueSize: 1})

	_, err := NewScheduler(SchedulerConfig{Pool: pool})
	assert.Error(t, err, "schedule times are required")

	_, err = NewScheduler(SchedulerConfig{ScheduleTimes: []string{"06:00"}})
	assert.Error(t, err, "a pool is required")

	_, err = NewScheduler(SchedulerConfig{ScheduleTimes: []string{"6am"}, Pool: pool})
	assert.Error(t, err)
}

func TestScheduler_ShouldRunOncePerSlot(t *testing.T) {
	s, err := NewScheduler(SchedulerConfig{
		ScheduleTimes: []string{"06:00", "18:00"},
		Pool:          NewWorkerPool(PoolConfig{Workers: 1, QueueSize: 1}),
	})
	require.NoError(t, err)

	assert.Equal(t, []ScheduleTime{{Hour: 6}, {Hour: 18}}, s.GetScheduleTimes())
	assert.Equal(t, "[06:00 18:00]", fmt.Sprint(s.GetScheduleTimes()))

	at := time.Date(2025, 6, 10, 6, 0, 12, 0, time.UTC)
	assert.True(t, s.shouldRun(at))
	assert.False(t, s.shouldRun(at.Add(30*time.Second)), "same minute runs once")
	assert.False(t, s.shouldRun(time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC)))
	assert.True(t, s.shouldRun(time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)))
	assert.True(t, s.shouldRun(time.Date(2025, 6, 11, 6, 0, 0, 0, time.UTC)))
}

func TestScheduler_RunNow(t *testing.T) {
	results := make(chan JobResult, 2)
	pool := NewWorkerPool(PoolConfig{Workers: 1, QueueSize: 4, Results: results})
	pool.Start()
	defer pool.Shutdown()

	s, err := NewScheduler(SchedulerConfig{
		ScheduleTimes: []string{"06:00"},
		Pool:          pool,
		JobProvider: func(ctx context.Context) ([]Job, error) {
			return []Job{
				&funcJob{name: "a", fn: func(ctx context.Context) error { return nil }},
				&funcJob{name: "b", fn: func(ctx context.Context) error { return nil }},
			}, nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, s.RunNow())
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			assert.NoError(t, r.Err)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for scheduled jobs")
		}
	}
}

func TestScheduler_RunNowProviderError(t *testing.T) {
	s, err := NewScheduler(SchedulerConfig{
		ScheduleTimes: []string{"06:00"},
		Pool:          NewWorkerPool(PoolConfig{Workers: 1, QueueSize: 1}),
		JobProvider: func(ctx context.Context) ([]Job, error) {
			return nil, errors.New("db down")
		},
	})
	require.NoError(t, err)
	assert.Zero(t, s.RunNow())
}

func TestScheduler_StartAndShutdown(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Workers: 1, QueueSize: 1})
	pool.Start()
	defer pool.Shutdown()

	s, err := NewScheduler(SchedulerConfig{ScheduleTimes: []string{"06:00"}, Pool: pool})
	require.NoError(t, err)

	s.Start()
	s.Shutdown(time.Second)

	assert.False(t, s.GetNextScheduledTime().IsZero())
}
