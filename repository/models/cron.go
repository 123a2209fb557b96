package models

import (
	"context"
	"time"

	gocrud "github.com/tender-barbarian/go-crud"
	"github.com/tender-barbarian/nua/jobs"
)

type CronSchedule struct {
	ID         int             `json:"id" db:"id"`
	DeviceID   int             `json:"device_id" db:"device_id"`
	CronType   string          `json:"cron_type" db:"cron_type"`
	CronTime   string          `json:"cron_time" db:"cron_time"`
	ToggleCron bool            `json:"toggle_cron" db:"toggle_cron"`
	JobName    string          `json:"job_name" db:"job_name"`
	Version    int             `json:"version" db:"version"`
	CreatedAt  gocrud.NullTime `json:"created_at" db:"created_at"`
	UpdatedAt  gocrud.NullTime `json:"updated_at" db:"updated_at"`
	gocrud.Reflection
}

func (c *CronSchedule) Trigger(*time.Location) (jobs.Trigger, error) {
	if err := jobs.ValidateCron(c.CronTime); err != nil {
		return nil, err
	}
	return jobs.Cron{Expr: c.CronTime}, nil
}

func (c *CronSchedule) Override(mac string) *BonusOverride {
	return &BonusOverride{
		DeviceID:   c.DeviceID,
		Kind:       string(KindCron),
		ScheduleID: c.ID,
		MACAddress: mac,
		BlockAllow: c.CronType,
		CronTime:   c.CronTime,
	}
}

func (c *CronSchedule) Rule() Rule {
	return Rule{
		Kind:     KindCron,
		ID:       c.ID,
		DeviceID: c.DeviceID,
		Action:   Action(c.CronType),
		Enabled:  c.ToggleCron,
		JobName:  jobs.JobName(c.JobName),
		Version:  c.Version,
		src:      c,
	}
}

func (c *CronSchedule) Check() error {
	if _, err := ParseAction(c.CronType); err != nil {
		return err
	}
	return jobs.ValidateCron(c.CronTime)
}

func (c *CronSchedule) Validate(ctx context.Context, db gocrud.DBQuerier) error {
	if err := c.Check(); err != nil {
		return ValidationError{msg: err.Error()}
	}
	return deviceExists(ctx, db, c.DeviceID)
}
