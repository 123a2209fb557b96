package models

import (
	"time"

	gocrud "github.com/tender-barbarian/go-crud"
	"github.com/tender-barbarian/nua/jobs"
)

// BonusOverride records a schedule that bonus time switched off, with enough
// of the original to rebuild its job when bonus time ends.
type BonusOverride struct {
	ID         int             `json:"id" db:"id"`
	DeviceID   int             `json:"device_id" db:"device_id"`
	Kind       string          `json:"kind" db:"kind"`
	ScheduleID int             `json:"schedule_id" db:"schedule_id"`
	MACAddress string          `json:"mac_address" db:"mac_address"`
	BlockAllow string          `json:"block_allow" db:"block_allow"`
	OneTime    bool            `json:"one_time" db:"one_time"`
	Date       string          `json:"date" db:"date"`
	Hour       int             `json:"hour" db:"hour"`
	Minute     int             `json:"minute" db:"minute"`
	AMPM       string          `json:"ampm" db:"ampm"`
	Days       string          `json:"days" db:"days"`
	CronTime   string          `json:"cron_time" db:"cron_time"`
	CreatedAt  gocrud.NullTime `json:"created_at" db:"created_at"`
	gocrud.Reflection
}

func (o *BonusOverride) Trigger(loc *time.Location) (jobs.Trigger, error) {
	if Kind(o.Kind) == KindCron {
		if err := jobs.ValidateCron(o.CronTime); err != nil {
			return nil, err
		}
		return jobs.Cron{Expr: o.CronTime}, nil
	}
	return easyTrigger(o.OneTime, o.Date, o.Hour, o.Minute, o.AMPM, o.Days, loc)
}

// Rule rebuilds the rule the override suspended. It is disabled with no job
// until the override is restored.
func (o *BonusOverride) Rule() Rule {
	return Rule{
		Kind:     Kind(o.Kind),
		ID:       o.ScheduleID,
		DeviceID: o.DeviceID,
		Action:   o.Action(),
		OneTime:  o.IsOneTime(),
		src:      o,
	}
}

// Override returns a copy of o for mac.
func (o *BonusOverride) Override(mac string) *BonusOverride {
	c := *o
	c.ID = 0
	c.MACAddress = mac
	return &c
}

func (o *BonusOverride) Action() Action { return Action(o.BlockAllow) }

// Cron jobs always run as recurring.
func (o *BonusOverride) IsOneTime() bool { return Kind(o.Kind) == KindSchedule && o.OneTime }
