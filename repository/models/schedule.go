package models

import (
	"context"
	"fmt"
	"time"

	gocrud "github.com/tender-barbarian/go-crud"
	"github.com/tender-barbarian/nua/jobs"
	"github.com/tender-barbarian/nua/timeutil"
)

// Schedule is an "easy" schedule: either one-time on Date, or recurring on
// Days, at Hour:Minute AMPM.
type Schedule struct {
	ID          int             `json:"id" db:"id"`
	DeviceID    int             `json:"device_id" db:"device_id"`
	BlockAllow  string          `json:"block_allow" db:"block_allow"`
	OneTime     bool            `json:"one_time" db:"one_time"`
	Date        string          `json:"date" db:"date"`
	Hour        int             `json:"hour" db:"hour"`
	Minute      int             `json:"minute" db:"minute"`
	AMPM        string          `json:"ampm" db:"ampm"`
	Days        string          `json:"days" db:"days"`
	ToggleSched bool            `json:"toggle_sched" db:"toggle_sched"`
	JobName     string          `json:"job_name" db:"job_name"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   gocrud.NullTime `json:"created_at" db:"created_at"`
	UpdatedAt   gocrud.NullTime `json:"updated_at" db:"updated_at"`
	gocrud.Reflection
}

// Trigger builds the job trigger. One-time schedules resolve to an instant
// in loc.
func (s *Schedule) Trigger(loc *time.Location) (jobs.Trigger, error) {
	return easyTrigger(s.OneTime, s.Date, s.Hour, s.Minute, s.AMPM, s.Days, loc)
}

func (s *Schedule) Override(mac string) *BonusOverride {
	return &BonusOverride{
		DeviceID:   s.DeviceID,
		Kind:       string(KindSchedule),
		ScheduleID: s.ID,
		MACAddress: mac,
		BlockAllow: s.BlockAllow,
		OneTime:    s.OneTime,
		Date:       s.Date,
		Hour:       s.Hour,
		Minute:     s.Minute,
		AMPM:       s.AMPM,
		Days:       s.Days,
	}
}

func (s *Schedule) Rule() Rule {
	return Rule{
		Kind:     KindSchedule,
		ID:       s.ID,
		DeviceID: s.DeviceID,
		Action:   Action(s.BlockAllow),
		OneTime:  s.OneTime,
		Enabled:  s.ToggleSched,
		JobName:  jobs.JobName(s.JobName),
		Version:  s.Version,
		src:      s,
	}
}

// Check validates the schedule fields without touching the database.
func (s *Schedule) Check() error {
	if _, err := ParseAction(s.BlockAllow); err != nil {
		return err
	}
	if _, err := timeutil.To24Hour(s.AMPM, s.Hour); err != nil {
		return err
	}
	if err := timeutil.ValidateMinute(s.Minute); err != nil {
		return err
	}

	if s.OneTime {
		if _, err := timeutil.ParseDate(s.Date); err != nil {
			return err
		}
		return nil
	}

	days, err := timeutil.DigitsToDays(s.Days)
	if err != nil {
		return err
	}
	if len(days) == 0 {
		return ValidationError{msg: "recurring schedules need at least one day"}
	}
	return nil
}

func (s *Schedule) Validate(ctx context.Context, db gocrud.DBQuerier) error {
	if err := s.Check(); err != nil {
		return ValidationError{msg: err.Error()}
	}
	return deviceExists(ctx, db, s.DeviceID)
}

func easyTrigger(oneTime bool, date string, hour, minute int, ampm, days string, loc *time.Location) (jobs.Trigger, error) {
	hour24, err := timeutil.To24Hour(ampm, hour)
	if err != nil {
		return nil, err
	}
	if err := timeutil.ValidateMinute(minute); err != nil {
		return nil, err
	}

	if oneTime {
		d, err := timeutil.ParseDate(date)
		if err != nil {
			return nil, err
		}
		return jobs.At{Time: d.At(hour24, minute, loc)}, nil
	}

	weekdays, err := timeutil.DigitsToDays(days)
	if err != nil {
		return nil, err
	}
	return jobs.Recurrence{Days: weekdays, Hour: hour24, Minute: minute}, nil
}

func deviceExists(ctx context.Context, db gocrud.DBQuerier, deviceID int) error {
	var exists bool
	row := db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM devices WHERE id = ?)", deviceID)
	if err := row.Scan(&exists); err != nil {
		return ValidationError{msg: err.Error()}
	}
	if !exists {
		return ValidationError{msg: fmt.Sprintf("device %d does not exist", deviceID)}
	}
	return nil
}
