package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/tender-barbarian/nua/jobs"
)

type Kind string

var ErrNoSource = errors.New("rule has no source record")

const (
	KindSchedule Kind = "schedule"
	KindCron     Kind = "cron"
)

// Rule is the part of a Schedule or CronSchedule the engine works with.
type Rule struct {
	Kind     Kind
	ID       int
	DeviceID int
	Action   Action
	OneTime  bool
	Enabled  bool
	JobName  jobs.JobName
	Version  int

	src interface {
		Trigger(loc *time.Location) (jobs.Trigger, error)
		Override(mac string) *BonusOverride
	}
}

func (r Rule) Trigger(loc *time.Location) (jobs.Trigger, error) {
	if r.src == nil {
		return nil, fmt.Errorf("%s %d: %w", r.Kind, r.ID, ErrNoSource)
	}
	return r.src.Trigger(loc)
}

// Override snapshots the rule for suspension during bonus time. It is nil
// for a rule that was not read from a record.
func (r Rule) Override(mac string) *BonusOverride {
	if r.src == nil {
		return nil
	}
	return r.src.Override(mac)
}

// Expired reports whether a one-time rule's instant is strictly before now.
func (r Rule) Expired(now time.Time, loc *time.Location) (bool, error) {
	if !r.OneTime {
		return false, nil
	}
	t, err := r.Trigger(loc)
	if err != nil {
		return false, err
	}
	at, ok := t.(jobs.At)
	return ok && at.Time.Before(now), nil
}
