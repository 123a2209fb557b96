package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/tender-barbarian/nua/jobs"
	"github.com/tender-barbarian/nua/repository/models"
	"github.com/tender-barbarian/nua/timeutil"
)

// CreateSchedule stores a one-time or recurring schedule and registers its
// job. On a device in bonus time the schedule starts out suspended and is
// enabled when bonus time ends.
func (s *Service) CreateSchedule(ctx context.Context, sched *models.Schedule) (models.Rule, error) {
	action, err := models.ParseAction(sched.BlockAllow)
	if err != nil {
		return models.Rule{}, err
	}
	sched.BlockAllow = string(action)
	if err := sched.Check(); err != nil {
		return models.Rule{}, err
	}

	sched.ToggleSched = true
	sched.JobName = ""
	if expired, err := sched.Rule().Expired(s.clock.Now(), s.loc); err != nil {
		return models.Rule{}, err
	} else if expired {
		return models.Rule{}, fmt.Errorf("%w: %s is in the past", timeutil.ErrInvalidDate, sched.Date)
	}

	return s.create(ctx, models.KindSchedule, sched.DeviceID, func() (int, error) {
		return s.store.CreateSchedule(ctx, sched)
	})
}

func (s *Service) CreateCronSchedule(ctx context.Context, c *models.CronSchedule) (models.Rule, error) {
	action, err := models.ParseAction(c.CronType)
	if err != nil {
		return models.Rule{}, err
	}
	c.CronType = string(action)
	if err := c.Check(); err != nil {
		return models.Rule{}, err
	}

	c.ToggleCron = true
	c.JobName = ""
	return s.create(ctx, models.KindCron, c.DeviceID, func() (int, error) {
		return s.store.CreateCronSchedule(ctx, c)
	})
}

func (s *Service) create(ctx context.Context, kind models.Kind, deviceID int, insert func() (int, error)) (models.Rule, error) {
	unlock := s.lockDevice(deviceID)
	defer unlock()

	device, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return models.Rule{}, err
	}

	id, err := insert()
	if err != nil {
		return models.Rule{}, fmt.Errorf("saving %s: %w", kind, err)
	}
	rule, err := s.store.GetRule(ctx, kind, id)
	if err != nil {
		return models.Rule{}, err
	}

	if device.BonusTimeActive {
		if err := s.store.Suspend(ctx, []models.Rule{rule}, device.MACAddress); err != nil {
			return models.Rule{}, fmt.Errorf("suspending new %s during bonus time: %w", kind, err)
		}
		s.logger.Info("schedule created suspended for bonus time", "kind", kind, "id", id, "device_id", deviceID)
		return s.store.GetRule(ctx, kind, id)
	}

	if err := s.enable(ctx, rule, device.MACAddress); err != nil {
		return models.Rule{}, err
	}
	s.logger.Info("schedule created", "kind", kind, "id", id, "device_id", deviceID)
	return s.store.GetRule(ctx, kind, id)
}

// ToggleSchedule enables or disables a schedule. It does nothing when the
// stored flag and the live job already agree with enable. A schedule that
// bonus time suspended stays suspended when enabled, and loses its pending
// restoration when disabled. Enabling during bonus time suspends the
// schedule instead of registering it.
func (s *Service) ToggleSchedule(ctx context.Context, kind models.Kind, id int, enable bool) (models.Rule, error) {
	rule, err := s.store.GetRule(ctx, kind, id)
	if err != nil {
		return models.Rule{}, err
	}

	unlock := s.lockDevice(rule.DeviceID)
	defer unlock()

	// Re-read under the lock so the version check below is meaningful.
	rule, err = s.store.GetRule(ctx, kind, id)
	if err != nil {
		return models.Rule{}, err
	}

	live := rule.JobName != "" && s.jobs.IsLive(rule.JobName)
	suspended, err := s.suspended(ctx, rule)
	if err != nil {
		return models.Rule{}, err
	}

	if enable {
		if (rule.Enabled && live) || suspended {
			return rule, nil
		}
		device, err := s.getDevice(ctx, rule.DeviceID)
		if err != nil {
			return models.Rule{}, err
		}
		expired, err := rule.Expired(s.clock.Now(), s.loc)
		if err != nil {
			return models.Rule{}, err
		}
		if expired {
			return models.Rule{}, fmt.Errorf("%w: one-time schedule %d is in the past", timeutil.ErrInvalidDate, id)
		}
		if live {
			s.jobs.Cancel(rule.JobName)
		}
		if device.BonusTimeActive {
			if err := s.store.Suspend(ctx, []models.Rule{rule}, device.MACAddress); err != nil {
				return models.Rule{}, fmt.Errorf("suspending %s %d during bonus time: %w", kind, id, err)
			}
			s.logger.Info("schedule enabled suspended for bonus time", "kind", kind, "id", id, "device_id", device.ID)
			return s.store.GetRule(ctx, kind, id)
		}
		if err := s.enable(ctx, rule, device.MACAddress); err != nil {
			return models.Rule{}, err
		}
	} else {
		if !rule.Enabled && !live && !suspended {
			return rule, nil
		}
		if live {
			s.jobs.Cancel(rule.JobName)
		}
		if err := s.store.SetRuleState(ctx, rule, false, ""); err != nil {
			return models.Rule{}, fmt.Errorf("disabling %s %d: %w", kind, id, err)
		}
	}

	s.logger.Info("schedule toggled", "kind", kind, "id", id, "enabled", enable)
	return s.store.GetRule(ctx, kind, id)
}

// DeleteSchedule cancels the schedule's job, if any, and deletes it along
// with any bonus override pointing at it.
func (s *Service) DeleteSchedule(ctx context.Context, kind models.Kind, id int) error {
	rule, err := s.store.GetRule(ctx, kind, id)
	if err != nil {
		return err
	}

	unlock := s.lockDevice(rule.DeviceID)
	defer unlock()

	rule, err = s.store.GetRule(ctx, kind, id)
	if err != nil {
		return err
	}

	if rule.JobName != "" && !s.jobs.Cancel(rule.JobName) {
		s.logger.Debug("no live job to cancel", "kind", kind, "id", id, "job", rule.JobName)
	}
	if err := s.store.DeleteRule(ctx, kind, id); err != nil {
		return fmt.Errorf("deleting %s %d: %w", kind, id, err)
	}

	s.logger.Info("schedule deleted", "kind", kind, "id", id)
	return nil
}

// enable registers rule's job and stores the enabled flag with the new job
// name. The job is cancelled again if the write fails.
func (s *Service) enable(ctx context.Context, rule models.Rule, mac string) error {
	name, err := s.register(rule, mac)
	if err != nil {
		return err
	}
	if err := s.store.SetRuleState(ctx, rule, true, name); err != nil {
		s.jobs.Cancel(name)
		return fmt.Errorf("enabling %s %d: %w", rule.Kind, rule.ID, err)
	}
	return nil
}

func (s *Service) register(rule models.Rule, mac string) (jobs.JobName, error) {
	trigger, err := rule.Trigger(s.loc)
	if err != nil {
		return "", err
	}
	name, err := jobs.Schedule(s.jobs, trigger, s.jobFunc(rule, mac))
	if err != nil {
		return "", fmt.Errorf("registering %s %d: %w", rule.Kind, rule.ID, err)
	}
	return name, nil
}

func (s *Service) suspended(ctx context.Context, rule models.Rule) (bool, error) {
	overrides, err := s.store.ListOverrides(ctx, rule.DeviceID)
	if err != nil {
		return false, fmt.Errorf("listing overrides: %w", err)
	}
	return slices.ContainsFunc(overrides, func(o *models.BonusOverride) bool {
		return models.Kind(o.Kind) == rule.Kind && o.ScheduleID == rule.ID
	}), nil
}

// IsValidationError reports whether err came from rejected input rather than
// a failure while acting on it.
func IsValidationError(err error) bool {
	var vErr models.ValidationError
	return errors.As(err, &vErr) ||
		errors.Is(err, timeutil.ErrInvalidTime) ||
		errors.Is(err, timeutil.ErrInvalidDate) ||
		errors.Is(err, jobs.ErrInvalidCron) ||
		errors.Is(err, jobs.ErrInvalidRecurrence) ||
		errors.Is(err, ErrNoDuration)
}
