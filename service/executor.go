package service

import (
	"context"
	"fmt"

	"github.com/tender-barbarian/nua/jobs"
	"github.com/tender-barbarian/nua/repository/models"
)

// Execute applies action to the device with the given MAC on the controller
// and records the result on the device. A MAC that no longer belongs to a
// device never reaches the controller. The device flag only changes after
// the controller accepted the call. Callers hold the device lock.
func (s *Service) Execute(ctx context.Context, action models.Action, mac string, oneTime bool) error {
	id, err := s.devicesCache.LookupID(ctx, s.queryRepo, "devices", "mac_address", mac)
	if err != nil {
		return fmt.Errorf("resolving device %s: %w", mac, err)
	}

	if action.Allows() {
		err = s.controller.Unblock(ctx, mac)
	} else {
		err = s.controller.Block(ctx, mac)
	}
	s.metrics.ControllerAction(string(action), err)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrControllerUnreachable, action, mac, err)
	}

	if err := s.store.SetDeviceActive(ctx, id, action.Allows()); err != nil {
		return fmt.Errorf("recording device state: %w", err)
	}

	s.logger.Info("device access changed", "device_id", id, "mac", mac, "action", action, "one_time", oneTime)
	return nil
}

// jobFunc is what every registered schedule runs when it fires.
func (s *Service) jobFunc(rule models.Rule, mac string) jobs.Func {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		unlock := s.lockDevice(rule.DeviceID)
		defer unlock()

		if _, err := s.getDevice(ctx, rule.DeviceID); err != nil {
			s.logger.Warn("skipping job", "kind", rule.Kind, "id", rule.ID, "device_id", rule.DeviceID, "error", err)
			return
		}
		if err := s.Execute(ctx, rule.Action, mac, rule.OneTime); err != nil {
			s.logger.Error("scheduled action failed", "kind", rule.Kind, "id", rule.ID, "error", err)
			return
		}
		if rule.OneTime {
			s.consumeOneTime(ctx, rule)
		}
	}
}

// consumeOneTime disables a one-time schedule once it has run so neither
// reconciliation nor bonus restoration brings it back.
func (s *Service) consumeOneTime(ctx context.Context, fired models.Rule) {
	rule, err := s.store.GetRule(ctx, fired.Kind, fired.ID)
	if err != nil {
		s.logger.Warn("one-time schedule vanished after firing", "id", fired.ID, "error", err)
		return
	}
	if !rule.Enabled {
		return
	}
	if err := s.store.SetRuleState(ctx, rule, false, ""); err != nil {
		s.logger.Error("marking one-time schedule done", "id", rule.ID, "error", err)
	}
}
