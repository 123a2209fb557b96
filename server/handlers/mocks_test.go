package handlers

import (
	"context"
	"time"

	"github.com/tender-barbarian/nua/repository/models"
	"github.com/tender-barbarian/nua/service"
)

// ============================================================================
// Stub Service
// ============================================================================

type stubService struct {
	rule      models.Rule
	remaining time.Duration
	hasBonus  bool
	bonuses   map[int]time.Duration
	report    *service.Report
	err       error

	// last call arguments
	kind    models.Kind
	id      int
	enable  bool
	minutes int
	manual  bool
	calls   []string
}

func (s *stubService) CreateSchedule(_ context.Context, sched *models.Schedule) (models.Rule, error) {
	s.id = sched.DeviceID
	return s.rule, s.err
}

func (s *stubService) CreateCronSchedule(_ context.Context, c *models.CronSchedule) (models.Rule, error) {
	s.id = c.DeviceID
	return s.rule, s.err
}

func (s *stubService) ToggleSchedule(_ context.Context, kind models.Kind, id int, enable bool) (models.Rule, error) {
	s.kind, s.id, s.enable = kind, id, enable
	return s.rule, s.err
}

func (s *stubService) DeleteSchedule(_ context.Context, kind models.Kind, id int) error {
	s.kind, s.id = kind, id
	return s.err
}

func (s *stubService) SetDeviceAccess(_ context.Context, id int, allow bool) error {
	s.id, s.enable = id, allow
	return s.err
}

func (s *stubService) BlockAll(context.Context) error {
	s.calls = append(s.calls, "block-all")
	return s.err
}

func (s *stubService) UnblockAll(context.Context) error {
	s.calls = append(s.calls, "unblock-all")
	return s.err
}

func (s *stubService) DeleteDevice(_ context.Context, id int) error {
	s.id = id
	s.calls = append(s.calls, "delete-device")
	return s.err
}

func (s *stubService) GrantBonusTime(_ context.Context, id int, minutes int) (time.Duration, error) {
	s.id, s.minutes = id, minutes
	return time.Duration(minutes) * time.Minute, s.err
}

func (s *stubService) EndBonusTime(_ context.Context, id int, manual bool) error {
	s.id, s.manual = id, manual
	return s.err
}

func (s *stubService) BonusRemaining(id int) (time.Duration, bool) {
	s.id = id
	return s.remaining, s.hasBonus
}

func (s *stubService) BonusTimes() map[int]time.Duration {
	return s.bonuses
}

func (s *stubService) Reconcile(context.Context) (*service.Report, error) {
	return s.report, s.err
}
