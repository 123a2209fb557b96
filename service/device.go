package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/tender-barbarian/nua/repository"
	"github.com/tender-barbarian/nua/repository/models"
)

// SetDeviceAccess blocks or allows a device by hand. Blocking a device in
// bonus time ends the bonus time so its schedules come back.
func (s *Service) SetDeviceAccess(ctx context.Context, deviceID int, allow bool) error {
	unlock := s.lockDevice(deviceID)
	defer unlock()

	device, err := s.getDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	if !allow && device.BonusTimeActive {
		return s.endBonusLocked(ctx, device, true)
	}
	return s.Execute(ctx, models.ActionFor(allow), device.MACAddress, false)
}

// BlockAll blocks every device, ending any bonus time first. A failing
// device does not stop the others.
func (s *Service) BlockAll(ctx context.Context) error {
	return s.setAllAccess(ctx, false)
}

// UnblockAll allows every device. Bonus windows are left running.
func (s *Service) UnblockAll(ctx context.Context) error {
	return s.setAllAccess(ctx, true)
}

func (s *Service) setAllAccess(ctx context.Context, allow bool) error {
	devices, err := s.devicesRepo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}
	slices.SortFunc(devices, func(a, b *models.Device) int { return a.ID - b.ID })

	var errs *multierror.Error
	failed := 0
	for _, d := range devices {
		if err := s.SetDeviceAccess(ctx, d.ID, allow); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("device %d: %w", d.ID, err))
			failed++
		}
	}

	s.logger.Info("access changed for all devices", "action", models.ActionFor(allow), "devices", len(devices), "failed", failed)
	return errs.ErrorOrNil()
}

// DeleteDevice removes the device record and stops everything still running
// for it: its live jobs and its bonus countdown. Its schedules stay behind as
// orphans for manual cleanup.
func (s *Service) DeleteDevice(ctx context.Context, deviceID int) error {
	unlock := s.lockDevice(deviceID)
	defer unlock()

	if _, err := s.getDevice(ctx, deviceID); err != nil {
		return err
	}
	rules, err := s.store.ListDeviceRules(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("listing schedules: %w", err)
	}

	if err := s.devicesRepo.Delete(ctx, deviceID); err != nil {
		return fmt.Errorf("deleting device %d: %w", deviceID, err)
	}

	var cleared []repository.JobAssignment
	for _, rule := range rules {
		if rule.JobName == "" {
			continue
		}
		s.jobs.Cancel(rule.JobName)
		cleared = append(cleared, repository.JobAssignment{Rule: rule})
	}
	s.timers.Cancel(deviceID)

	if err := s.store.UpdateJobNames(ctx, cleared); err != nil {
		s.logger.Warn("clearing job names of deleted device", "device_id", deviceID, "error", err)
	}

	s.logger.Info("device deleted", "device_id", deviceID, "cancelled_jobs", len(cleared), "orphaned_schedules", len(rules))
	return nil
}

// BonusTimes returns the time left on every open bonus window, keyed by
// device id.
func (s *Service) BonusTimes() map[int]time.Duration {
	return s.timers.All()
}
