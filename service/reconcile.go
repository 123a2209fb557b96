package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/tender-barbarian/nua/repository"
	"github.com/tender-barbarian/nua/repository/models"
)

// Report describes what one reconciliation run did with each record.
type Report struct {
	Examined     int             `json:"examined"`
	ReRegistered int             `json:"re_registered"`
	AlreadyLive  int             `json:"already_live"`
	Disabled     int             `json:"disabled"`
	Deleted      int             `json:"deleted"`
	Orphaned     int             `json:"orphaned"`
	Failures     []RecordFailure `json:"failures,omitempty"`
}

type RecordFailure struct {
	Kind models.Kind
	ID   int
	Err  error
}

func (f RecordFailure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind  models.Kind `json:"kind"`
		ID    int         `json:"id"`
		Error string      `json:"error"`
	}{f.Kind, f.ID, f.Err.Error()})
}

// Err combines the per-record failures, or returns nil if there were none.
func (r *Report) Err() error {
	var errs *multierror.Error
	for _, f := range r.Failures {
		errs = multierror.Append(errs, fmt.Errorf("%s %d: %w", f.Kind, f.ID, f.Err))
	}
	return errs.ErrorOrNil()
}

func (r *Report) fail(rule models.Rule, err error) {
	r.Failures = append(r.Failures, RecordFailure{Kind: rule.Kind, ID: rule.ID, Err: err})
}

// Reconcile makes the live job table agree with the stored schedules after
// a restart. Enabled schedules without a live job are registered again,
// one-time schedules whose instant has passed are deleted, and schedules
// whose device is gone are left alone. Running it twice in a row changes
// nothing the second time. A failing record never stops the run.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	if !s.reconcileMu.TryLock() {
		return nil, ErrReconcileInProgress
	}
	defer s.reconcileMu.Unlock()

	start := s.clock.Now()
	defer func() { s.metrics.ReconcileDuration(s.clock.Since(start)) }()

	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading schedules: %w", err)
	}
	devices, err := s.devicesRepo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading devices: %w", err)
	}

	byID := make(map[int]*models.Device, len(devices))
	for _, d := range devices {
		byID[d.ID] = d
	}

	report := &Report{}
	var order []int
	seen := make(map[int]bool)
	for _, rule := range rules {
		if _, ok := byID[rule.DeviceID]; !ok {
			report.Examined++
			if !rule.Enabled {
				report.Disabled++
				continue
			}
			report.Orphaned++
			s.metrics.ReconcileRecord("orphaned")
			s.logger.Warn("skipping schedule", "kind", rule.Kind, "id", rule.ID, "device_id", rule.DeviceID, "error", ErrOrphanSchedule)
			continue
		}
		if !seen[rule.DeviceID] {
			seen[rule.DeviceID] = true
			order = append(order, rule.DeviceID)
		}
	}

	for _, deviceID := range order {
		s.reconcileDevice(ctx, byID[deviceID], report)
	}

	s.logger.Info("reconciliation finished",
		"examined", report.Examined,
		"re_registered", report.ReRegistered,
		"already_live", report.AlreadyLive,
		"deleted", report.Deleted,
		"orphaned", report.Orphaned,
		"failed", len(report.Failures))

	return report, nil
}

func (s *Service) reconcileDevice(ctx context.Context, device *models.Device, report *Report) {
	unlock := s.lockDevice(device.ID)
	defer unlock()

	rules, err := s.store.ListDeviceRules(ctx, device.ID)
	if err != nil {
		report.Failures = append(report.Failures, RecordFailure{Kind: "device", ID: device.ID, Err: err})
		s.metrics.ReconcileRecord("failed")
		return
	}

	now := s.clock.Now()
	var assignments []repository.JobAssignment
	for _, rule := range rules {
		report.Examined++

		if !rule.Enabled {
			report.Disabled++
			continue
		}
		if rule.JobName != "" && s.jobs.IsLive(rule.JobName) {
			report.AlreadyLive++
			continue
		}

		expired, err := rule.Expired(now, s.loc)
		if err != nil {
			report.fail(rule, err)
			s.metrics.ReconcileRecord("failed")
			continue
		}
		if expired {
			if err := s.store.DeleteRule(ctx, rule.Kind, rule.ID); err != nil {
				report.fail(rule, err)
				s.metrics.ReconcileRecord("failed")
				continue
			}
			report.Deleted++
			s.metrics.ReconcileRecord("deleted")
			s.logger.Info("deleted past one-time schedule", "id", rule.ID, "device_id", device.ID)
			continue
		}

		name, err := s.register(rule, device.MACAddress)
		if err != nil {
			report.fail(rule, err)
			s.metrics.ReconcileRecord("failed")
			continue
		}
		assignments = append(assignments, repository.JobAssignment{Rule: rule, JobName: name})
	}

	if len(assignments) == 0 {
		return
	}

	if err := s.store.UpdateJobNames(ctx, assignments); err != nil {
		for _, a := range assignments {
			s.jobs.Cancel(a.JobName)
			report.fail(a.Rule, err)
			s.metrics.ReconcileRecord("failed")
		}
		return
	}

	for _, a := range assignments {
		report.ReRegistered++
		s.metrics.ReconcileRecord("reregistered")
		s.logger.Info("re-registered job", "kind", a.Rule.Kind, "id", a.Rule.ID, "job", a.JobName)
	}
}

// RunReconcile repeats Reconcile every interval until ctx is done.
func (s *Service) RunReconcile(ctx context.Context, interval time.Duration, errCh chan<- error) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			report, err := s.Reconcile(ctx)
			if err == nil {
				err = report.Err()
			}
			if err != nil {
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}
}
