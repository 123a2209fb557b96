package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/tender-barbarian/nua/jobs"
	"github.com/tender-barbarian/nua/repository"
	"github.com/tender-barbarian/nua/repository/models"
	"github.com/tender-barbarian/nua/timer"
)

// GrantBonusTime allows the device for the given number of minutes and
// suspends its enabled schedules until the window ends. Granting again while
// a window is open replaces it.
func (s *Service) GrantBonusTime(ctx context.Context, deviceID int, minutes int) (time.Duration, error) {
	if minutes <= 0 {
		return 0, ErrNoDuration
	}

	unlock := s.lockDevice(deviceID)
	defer unlock()

	device, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return 0, err
	}

	if !device.Active {
		if err := s.Execute(ctx, models.ActionAllow, device.MACAddress, false); err != nil {
			return 0, err
		}
	}

	if err := s.store.SetBonusActive(ctx, deviceID, true); err != nil {
		return 0, fmt.Errorf("%w: marking bonus time: %w", ErrPartialGrant, err)
	}

	rules, err := s.store.ListDeviceRules(ctx, deviceID)
	if err != nil {
		return 0, fmt.Errorf("%w: listing schedules: %w", ErrPartialGrant, err)
	}

	var enabled []models.Rule
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if rule.JobName != "" {
			s.jobs.Cancel(rule.JobName)
		}
		enabled = append(enabled, rule)
	}

	if err := s.store.Suspend(ctx, enabled, device.MACAddress); err != nil {
		s.reRegister(enabled, device.MACAddress)
		return 0, fmt.Errorf("%w: suspending schedules: %w", ErrPartialGrant, err)
	}

	d := time.Duration(minutes) * time.Minute
	expiresAt := s.timers.Start(deviceID, d, s.onBonusExpired)
	s.metrics.BonusGranted()

	s.logger.Info("bonus time granted", "device_id", deviceID, "minutes", minutes, "suspended", len(enabled), "expires_at", expiresAt)
	return d, nil
}

// reRegister puts back jobs cancelled by a grant whose suspension was rolled
// back, so the stored job names point at live jobs again.
func (s *Service) reRegister(rules []models.Rule, mac string) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	var assignments []repository.JobAssignment
	for _, rule := range rules {
		name, err := s.register(rule, mac)
		if err != nil {
			s.logger.Error("re-registering after failed grant", "kind", rule.Kind, "id", rule.ID, "error", err)
			continue
		}
		assignments = append(assignments, repository.JobAssignment{Rule: rule, JobName: name})
	}
	if err := s.store.UpdateJobNames(ctx, assignments); err != nil {
		s.logger.Error("saving jobs after failed grant", "error", err)
	}
}

// EndBonusTime restores every schedule bonus time suspended, blocks the
// device and clears the bonus window. manual only records who ended it.
func (s *Service) EndBonusTime(ctx context.Context, deviceID int, manual bool) error {
	unlock := s.lockDevice(deviceID)
	defer unlock()

	device, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	return s.endBonusLocked(ctx, device, manual)
}

func (s *Service) endBonusLocked(ctx context.Context, device *models.Device, manual bool) error {
	overrides, err := s.store.ListOverrides(ctx, device.ID)
	if err != nil {
		return fmt.Errorf("listing overrides: %w", err)
	}

	var errs *multierror.Error
	for _, o := range overrides {
		if err := s.restore(ctx, o); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("restoring schedules: %w", err)
	}

	if err := s.Execute(ctx, models.ActionBlock, device.MACAddress, false); err != nil {
		return err
	}
	if err := s.store.SetBonusActive(ctx, device.ID, false); err != nil {
		return fmt.Errorf("clearing bonus time: %w", err)
	}
	s.timers.Cancel(device.ID)
	s.metrics.BonusEnded(manual)

	s.logger.Info("bonus time ended", "device_id", device.ID, "manual", manual, "restored", len(overrides))
	return nil
}

// restore registers the job an override stands for and re-enables its
// schedule. A one-time override whose instant has passed fires right away.
func (s *Service) restore(ctx context.Context, o *models.BonusOverride) error {
	trigger, err := o.Trigger(s.loc)
	if err != nil {
		return fmt.Errorf("override %d: %w", o.ID, err)
	}

	name, err := jobs.Schedule(s.jobs, trigger, s.jobFunc(o.Rule(), o.MACAddress))
	if err != nil {
		return fmt.Errorf("override %d: %w", o.ID, err)
	}

	if err := s.store.Restore(ctx, o, name); err != nil {
		s.jobs.Cancel(name)
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("dropped override for deleted schedule", "kind", o.Kind, "id", o.ScheduleID)
			return nil
		}
		return fmt.Errorf("override %d: %w", o.ID, err)
	}
	return nil
}

func (s *Service) onBonusExpired(exp timer.Expiry) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	unlock := s.lockDevice(exp.DeviceID)
	defer unlock()

	if !s.timers.Expire(exp) {
		s.logger.Debug("ignoring stale bonus expiry", "device_id", exp.DeviceID, "generation", exp.Generation)
		return
	}

	device, err := s.getDevice(ctx, exp.DeviceID)
	if err != nil {
		s.logger.Error("ending bonus time", "device_id", exp.DeviceID, "error", err)
		return
	}
	if err := s.endBonusLocked(ctx, device, false); err != nil {
		s.logger.Error("ending bonus time", "device_id", exp.DeviceID, "error", err)
	}
}

// BonusRemaining returns how long the device's bonus window has left.
func (s *Service) BonusRemaining(deviceID int) (time.Duration, bool) {
	return s.timers.Remaining(deviceID)
}
