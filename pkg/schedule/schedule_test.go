package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvery(t *testing.T) {
	s := Every(5 * time.Minute)
	now := time.Now()
	next := s.Next(now)

	assert.Equal(t, now.Add(5*time.Minute), next)
}

func TestEvery_MultipleNext(t *testing.T) {
	s := Every(time.Hour)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	next1 := s.Next(start)
	next2 := s.Next(next1)
	next3 := s.Next(next2)

	assert.Equal(t, time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC), next1)
	assert.Equal(t, time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC), next2)
	assert.Equal(t, time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC), next3)
}

func TestCron(t *testing.T) {
	s := Cron("0 9 * * *") // Every day at 9 AM
	from := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	next := s.Next(from)

	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 0, next.Minute())
}

func TestCron_MultipleFields(t *testing.T) {
	s := Cron("30 14 * * 1-5") // 2:30 PM on weekdays
	from := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC) // Saturday

	next := s.Next(from)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 14, next.Hour())
	assert.Equal(t, 30, next.Minute())
}

func TestCron_InvalidExpression_Panics(t *testing.T) {
	assert.Panics(t, func() {
		Cron("invalid cron")
	})
}

func TestParse_Descriptors(t *testing.T) {
	from := time.Date(2024, 1, 1, 8, 15, 0, 0, time.UTC)

	hourly, err := Parse("@hourly")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), hourly.Next(from))

	every, err := Parse("@every 30m")
	require.NoError(t, err)
	assert.Equal(t, from.Add(30*time.Minute), every.Next(from))
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("61 * * * *")
	assert.Error(t, err)
}

func TestRun_CallsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	done := make(chan struct{})
	go func() {
		defer close(done)
		Run(ctx, Every(5*time.Millisecond), "test", nil, func(context.Context) error {
			if calls.Add(1) == 3 {
				cancel()
			}
			return errors.New("logged, not fatal")
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestScheduleInterface(t *testing.T) {
	var _ Schedule = Every(time.Minute)
	var _ Schedule = Cron("* * * * *")
}
