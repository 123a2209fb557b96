package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tender-barbarian/nua/repository/models"
)

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("records the action taken", func(t *testing.T) {
		tests := []struct {
			name       string
			action     models.Action
			wantCall   string
			wantActive bool
		}{
			{name: "allow", action: models.ActionAllow, wantCall: "unblock", wantActive: true},
			{name: "block", action: models.ActionBlock, wantCall: "block", wantActive: false},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				env := newTestService(t)
				env.store.addDevice(&models.Device{ID: 1, MACAddress: testMAC, Active: !tt.wantActive})

				require.NoError(t, env.svc.Execute(ctx, tt.action, testMAC, false))

				assert.Equal(t, []call{{Action: tt.wantCall, MAC: testMAC}}, env.controller.getCalls())
				assert.Equal(t, tt.wantActive, env.store.device(1).Active)
			})
		}
	})

	t.Run("controller failure leaves device untouched", func(t *testing.T) {
		env := newTestService(t)
		env.controller.setErr(errors.New("connection refused"))

		err := env.svc.Execute(ctx, models.ActionAllow, testMAC, false)

		require.ErrorIs(t, err, ErrControllerUnreachable)
		assert.Contains(t, err.Error(), "connection refused")
		assert.False(t, env.store.device(1).Active)
	})

	t.Run("unknown mac never reaches the controller", func(t *testing.T) {
		env := newTestService(t)

		err := env.svc.Execute(ctx, models.ActionBlock, "aa:bb:cc:dd:ee:99", false)

		assert.ErrorContains(t, err, "resolving device aa:bb:cc:dd:ee:99")
		assert.Zero(t, env.controller.getAttempts())
	})
}

func TestJobFunc(t *testing.T) {
	ctx := context.Background()

	t.Run("one-time schedule is consumed after firing", func(t *testing.T) {
		env := newTestService(t)
		rule, err := env.svc.CreateSchedule(ctx, oneTime(0, models.ActionAllow, "2026-03-10", 1, "pm"))
		require.NoError(t, err)
		require.True(t, env.jobs.IsLive(rule.JobName))

		env.clock.Advance(time.Hour)

		eventually(t, func() bool {
			return !env.store.rule(t, models.KindSchedule, rule.ID).Enabled
		})
		assert.Equal(t, []call{{Action: "unblock", MAC: testMAC}}, env.controller.getCalls())
		assert.True(t, env.store.device(1).Active)
		assert.Empty(t, env.store.rule(t, models.KindSchedule, rule.ID).JobName)
		assert.False(t, env.jobs.IsLive(rule.JobName))
	})

	t.Run("failed one-time schedule stays enabled", func(t *testing.T) {
		env := newTestService(t)
		rule, err := env.svc.CreateSchedule(ctx, oneTime(0, models.ActionAllow, "2026-03-10", 1, "pm"))
		require.NoError(t, err)
		env.controller.setErr(errors.New("timeout"))

		env.clock.Advance(time.Hour)

		eventually(t, func() bool { return env.controller.getAttempts() == 1 })
		unlock := env.svc.lockDevice(1)
		unlock()
		got := env.store.rule(t, models.KindSchedule, rule.ID)
		assert.True(t, got.Enabled)
		assert.False(t, env.store.device(1).Active)
	})

	t.Run("job of a removed device is skipped", func(t *testing.T) {
		env := newTestService(t)
		rule, err := env.svc.CreateSchedule(ctx, oneTime(0, models.ActionBlock, "2026-03-10", 1, "pm"))
		require.NoError(t, err)
		env.store.removeDevice(1)

		env.clock.Advance(61 * time.Minute)

		eventually(t, func() bool { return !env.jobs.IsLive(rule.JobName) })
		unlock := env.svc.lockDevice(1)
		unlock()
		assert.Never(t, func() bool { return env.controller.getAttempts() > 0 }, quiet, tick)
	})
}
