package jobs

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, time.April, 6, 8, 0, 0, 0, time.UTC)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

func newTestScheduler() (*CronScheduler, *clockwork.FakeClock) {
	clk := clockwork.NewFakeClockAt(now)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCronScheduler(clk, time.UTC, logger), clk
}

func TestScheduleAt(t *testing.T) {
	t.Run("fires once at the instant and is no longer live", func(t *testing.T) {
		s, clk := newTestScheduler()
		var calls atomic.Int32

		name, err := s.ScheduleAt(now.Add(10*time.Minute), func() { calls.Add(1) })
		require.NoError(t, err)
		assert.True(t, s.IsLive(name))

		clk.Advance(9 * time.Minute)
		assert.Zero(t, calls.Load())

		clk.Advance(time.Minute)
		assert.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
		assert.False(t, s.IsLive(name))

		clk.Advance(time.Hour)
		assert.Never(t, func() bool { return calls.Load() > 1 }, 50*time.Millisecond, tick)
	})

	t.Run("past instant fires immediately", func(t *testing.T) {
		s, _ := newTestScheduler()
		fired := make(chan struct{})

		name, err := s.ScheduleAt(now.Add(-time.Hour), func() { close(fired) })
		require.NoError(t, err)
		assert.False(t, s.IsLive(name))

		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("past job did not fire")
		}
	})

	t.Run("cancelled job never fires", func(t *testing.T) {
		s, clk := newTestScheduler()
		var calls atomic.Int32

		name, err := s.ScheduleAt(now.Add(time.Minute), func() { calls.Add(1) })
		require.NoError(t, err)

		assert.True(t, s.Cancel(name))
		assert.False(t, s.Cancel(name))
		clk.Advance(time.Hour)
		assert.Never(t, func() bool { return calls.Load() > 0 }, 50*time.Millisecond, tick)
		assert.Zero(t, s.Live())
	})

	t.Run("panicking job is recovered", func(t *testing.T) {
		s, clk := newTestScheduler()
		name, err := s.ScheduleAt(now.Add(time.Second), func() { panic("boom") })
		require.NoError(t, err)

		assert.NotPanics(t, func() { clk.Advance(time.Second) })
		assert.Eventually(t, func() bool { return !s.IsLive(name) }, waitFor, tick)

		fired := make(chan struct{})
		_, err = s.ScheduleAt(now.Add(-time.Second), func() { close(fired) })
		require.NoError(t, err)
		select {
		case <-fired:
		case <-time.After(waitFor):
			t.Fatal("scheduler stopped running jobs after a panic")
		}
	})
}

func TestScheduleCron(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "five fields", expr: "30 21 * * 1-5"},
		{name: "six fields with seconds", expr: "0 30 21 * * *"},
		{name: "descriptor", expr: "@daily"},
		{name: "empty", expr: "", wantErr: true},
		{name: "out of range minute", expr: "61 * * * *", wantErr: true},
		{name: "garbage", expr: "every tuesday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestScheduler()
			name, err := s.ScheduleCron(tt.expr, func() {})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCron)
				assert.Empty(t, name)
				return
			}
			require.NoError(t, err)
			assert.True(t, s.IsLive(name))
			assert.True(t, s.Cancel(name))
			assert.False(t, s.IsLive(name))
		})
	}
}

func TestScheduleRecurrence(t *testing.T) {
	s, _ := newTestScheduler()

	name, err := s.ScheduleRecurrence(Recurrence{Days: []time.Weekday{time.Monday, time.Friday}, Hour: 21, Minute: 30}, func() {})
	require.NoError(t, err)
	assert.True(t, s.IsLive(name))

	_, err = s.ScheduleRecurrence(Recurrence{Hour: 21}, func() {})
	assert.ErrorIs(t, err, ErrInvalidRecurrence)

	_, err = s.ScheduleRecurrence(Recurrence{Days: []time.Weekday{time.Monday}, Hour: 24}, func() {})
	assert.ErrorIs(t, err, ErrInvalidRecurrence)
}

func TestRecurrence_String(t *testing.T) {
	r := Recurrence{Days: []time.Weekday{time.Sunday, time.Wednesday}, Hour: 7, Minute: 5}
	assert.Equal(t, "recurrence 5 7 * * 0,3", r.String())
}

func TestSchedule_Dispatch(t *testing.T) {
	s, clk := newTestScheduler()
	var fired atomic.Bool

	name, err := Schedule(s, At{Time: now.Add(time.Minute)}, func() { fired.Store(true) })
	require.NoError(t, err)
	clk.Advance(time.Minute)
	assert.Eventually(t, fired.Load, waitFor, tick)
	assert.False(t, s.IsLive(name))

	name, err = Schedule(s, Cron{Expr: "@hourly"}, func() {})
	require.NoError(t, err)
	assert.True(t, s.IsLive(name))

	_, err = Schedule(s, Cron{Expr: "nope"}, func() {})
	assert.ErrorIs(t, err, ErrInvalidCron)
}

func TestStop_CancelsOneShots(t *testing.T) {
	s, clk := newTestScheduler()
	s.Start()
	var fired atomic.Bool
	_, err := s.ScheduleAt(now.Add(time.Minute), func() { fired.Store(true) })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	clk.Advance(time.Hour)
	assert.Never(t, fired.Load, 50*time.Millisecond, tick)
	assert.Zero(t, s.Live())
}
