package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/hashicorp/go-multierror"
	"github.com/tender-barbarian/nua/jobs"
	"github.com/tender-barbarian/nua/repository/models"
)

// StateStore holds the schedule, override and device state the engine
// mutates. Every multi-row change is a single transaction, and schedule rows
// are guarded by their version column.
type StateStore interface {
	ListRules(ctx context.Context) ([]models.Rule, error)
	ListDeviceRules(ctx context.Context, deviceID int) ([]models.Rule, error)
	GetRule(ctx context.Context, kind models.Kind, id int) (models.Rule, error)
	CreateSchedule(ctx context.Context, s *models.Schedule) (int, error)
	CreateCronSchedule(ctx context.Context, c *models.CronSchedule) (int, error)
	// SetRuleState flips the enable flag and job name. Disabling also drops
	// any bonus override for the rule.
	SetRuleState(ctx context.Context, rule models.Rule, enabled bool, job jobs.JobName) error
	UpdateJobNames(ctx context.Context, assignments []JobAssignment) error
	DeleteRule(ctx context.Context, kind models.Kind, id int) error

	Suspend(ctx context.Context, rules []models.Rule, mac string) error
	ListOverrides(ctx context.Context, deviceID int) ([]*models.BonusOverride, error)
	Restore(ctx context.Context, o *models.BonusOverride, job jobs.JobName) error

	SetDeviceActive(ctx context.Context, deviceID int, active bool) error
	SetBonusActive(ctx context.Context, deviceID int, active bool) error
}

type JobAssignment struct {
	Rule    models.Rule
	JobName jobs.JobName
}

type StateRepo struct {
	db *sql.DB
}

func NewStateRepo(db *sql.DB) *StateRepo {
	return &StateRepo{db: db}
}

var (
	scheduleColumns = []string{"id", "device_id", "block_allow", "one_time", "date", "hour", "minute", "ampm", "days", "toggle_sched", "job_name", "version"}
	cronColumns     = []string{"id", "device_id", "cron_type", "cron_time", "toggle_cron", "job_name", "version"}
	overrideColumns = []string{"id", "device_id", "kind", "schedule_id", "mac_address", "block_allow", "one_time", "date", "hour", "minute", "ampm", "days", "cron_time"}
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ruleTable(kind models.Kind) (table, toggle string, err error) {
	switch kind {
	case models.KindSchedule:
		return "schedules", "toggle_sched", nil
	case models.KindCron:
		return "cron_schedules", "toggle_cron", nil
	default:
		return "", "", fmt.Errorf("unknown schedule kind %q", kind)
	}
}

func (r *StateRepo) ListRules(ctx context.Context) ([]models.Rule, error) {
	return r.listRules(ctx, nil)
}

func (r *StateRepo) ListDeviceRules(ctx context.Context, deviceID int) ([]models.Rule, error) {
	return r.listRules(ctx, sq.Eq{"device_id": deviceID})
}

func (r *StateRepo) GetRule(ctx context.Context, kind models.Kind, id int) (models.Rule, error) {
	var rules []models.Rule
	var err error
	switch kind {
	case models.KindSchedule:
		rules, err = r.listSchedules(ctx, sq.Eq{"id": id})
	case models.KindCron:
		rules, err = r.listCrons(ctx, sq.Eq{"id": id})
	default:
		_, _, err = ruleTable(kind)
	}
	if err != nil {
		return models.Rule{}, err
	}
	if len(rules) == 0 {
		return models.Rule{}, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return rules[0], nil
}

func (r *StateRepo) listRules(ctx context.Context, where sq.Sqlizer) ([]models.Rule, error) {
	crons, err := r.listCrons(ctx, where)
	if err != nil {
		return nil, err
	}
	schedules, err := r.listSchedules(ctx, where)
	if err != nil {
		return nil, err
	}
	return append(crons, schedules...), nil
}

func (r *StateRepo) listSchedules(ctx context.Context, where sq.Sqlizer) ([]models.Rule, error) {
	b := sq.Select(scheduleColumns...).From("schedules").OrderBy("id")
	if where != nil {
		b = b.Where(where)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building schedules query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close() // nolint

	var rules []models.Rule
	for rows.Next() {
		s := &models.Schedule{}
		if err := rows.Scan(&s.ID, &s.DeviceID, &s.BlockAllow, &s.OneTime, &s.Date, &s.Hour, &s.Minute, &s.AMPM, &s.Days, &s.ToggleSched, &s.JobName, &s.Version); err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		rules = append(rules, s.Rule())
	}
	return rules, rows.Err()
}

func (r *StateRepo) listCrons(ctx context.Context, where sq.Sqlizer) ([]models.Rule, error) {
	b := sq.Select(cronColumns...).From("cron_schedules").OrderBy("id")
	if where != nil {
		b = b.Where(where)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building cron schedules query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cron schedules: %w", err)
	}
	defer rows.Close() // nolint

	var rules []models.Rule
	for rows.Next() {
		c := &models.CronSchedule{}
		if err := rows.Scan(&c.ID, &c.DeviceID, &c.CronType, &c.CronTime, &c.ToggleCron, &c.JobName, &c.Version); err != nil {
			return nil, fmt.Errorf("scanning cron schedule: %w", err)
		}
		rules = append(rules, c.Rule())
	}
	return rules, rows.Err()
}

func (r *StateRepo) CreateSchedule(ctx context.Context, s *models.Schedule) (int, error) {
	return r.insert(ctx, sq.Insert("schedules").
		Columns("device_id", "block_allow", "one_time", "date", "hour", "minute", "ampm", "days", "toggle_sched", "job_name").
		Values(s.DeviceID, s.BlockAllow, s.OneTime, s.Date, s.Hour, s.Minute, s.AMPM, s.Days, s.ToggleSched, s.JobName))
}

func (r *StateRepo) CreateCronSchedule(ctx context.Context, c *models.CronSchedule) (int, error) {
	return r.insert(ctx, sq.Insert("cron_schedules").
		Columns("device_id", "cron_type", "cron_time", "toggle_cron", "job_name").
		Values(c.DeviceID, c.CronType, c.CronTime, c.ToggleCron, c.JobName))
}

func (r *StateRepo) insert(ctx context.Context, b sq.InsertBuilder) (int, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building insert: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("inserting: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted id: %w", err)
	}
	return int(id), nil
}

func (r *StateRepo) SetRuleState(ctx context.Context, rule models.Rule, enabled bool, job jobs.JobName) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateRule(ctx, tx, rule, &enabled, job); err != nil {
			return err
		}
		if enabled {
			return nil
		}
		return deleteOverridesFor(ctx, tx, rule.Kind, rule.ID)
	})
}

func (r *StateRepo) UpdateJobNames(ctx context.Context, assignments []JobAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, a := range assignments {
			if err := updateRule(ctx, tx, a.Rule, nil, a.JobName); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *StateRepo) DeleteRule(ctx context.Context, kind models.Kind, id int) error {
	table, _, err := ruleTable(kind)
	if err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := deleteOverridesFor(ctx, tx, kind, id); err != nil {
			return err
		}
		n, err := exec(ctx, tx, sq.Delete(table).Where(sq.Eq{"id": id}))
		if err != nil {
			return fmt.Errorf("deleting %s %d: %w", kind, id, err)
		}
		if n == 0 {
			return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
		}
		return nil
	})
}

func (r *StateRepo) Suspend(ctx context.Context, rules []models.Rule, mac string) error {
	if len(rules) == 0 {
		return nil
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, rule := range rules {
			o := rule.Override(mac)
			if o == nil {
				return fmt.Errorf("suspending %s %d: %w", rule.Kind, rule.ID, models.ErrNoSource)
			}
			disabled := false
			if err := updateRule(ctx, tx, rule, &disabled, ""); err != nil {
				return err
			}
			_, err := exec(ctx, tx, sq.Insert("bonus_overrides").
				Columns(overrideColumns[1:]...).
				Values(o.DeviceID, o.Kind, o.ScheduleID, o.MACAddress, o.BlockAllow, o.OneTime, o.Date, o.Hour, o.Minute, o.AMPM, o.Days, o.CronTime))
			if err != nil {
				return fmt.Errorf("saving override for %s %d: %w", rule.Kind, rule.ID, err)
			}
		}
		return nil
	})
}

func (r *StateRepo) ListOverrides(ctx context.Context, deviceID int) ([]*models.BonusOverride, error) {
	query, args, err := sq.Select(overrideColumns...).From("bonus_overrides").Where(sq.Eq{"device_id": deviceID}).OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building overrides query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying overrides: %w", err)
	}
	defer rows.Close() // nolint

	var out []*models.BonusOverride
	for rows.Next() {
		o := &models.BonusOverride{}
		if err := rows.Scan(&o.ID, &o.DeviceID, &o.Kind, &o.ScheduleID, &o.MACAddress, &o.BlockAllow, &o.OneTime, &o.Date, &o.Hour, &o.Minute, &o.AMPM, &o.Days, &o.CronTime); err != nil {
			return nil, fmt.Errorf("scanning override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Restore re-enables the overridden rule with its new job and drops the
// override. If the rule no longer exists the override is still dropped and
// ErrNotFound is returned.
func (r *StateRepo) Restore(ctx context.Context, o *models.BonusOverride, job jobs.JobName) error {
	kind := models.Kind(o.Kind)
	table, toggle, err := ruleTable(kind)
	if err != nil {
		return err
	}

	var missing bool
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		n, err := exec(ctx, tx, sq.Update(table).
			Set(toggle, true).
			Set("job_name", job.String()).
			Set("version", sq.Expr("version + 1")).
			Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).
			Where(sq.Eq{"id": o.ScheduleID}))
		if err != nil {
			return fmt.Errorf("restoring %s %d: %w", kind, o.ScheduleID, err)
		}
		missing = n == 0

		if _, err := exec(ctx, tx, sq.Delete("bonus_overrides").Where(sq.Eq{"id": o.ID})); err != nil {
			return fmt.Errorf("deleting override %d: %w", o.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if missing {
		return fmt.Errorf("%s %d: %w", kind, o.ScheduleID, ErrNotFound)
	}
	return nil
}

func (r *StateRepo) SetDeviceActive(ctx context.Context, deviceID int, active bool) error {
	return r.updateDevice(ctx, deviceID, map[string]any{"active": active})
}

func (r *StateRepo) SetBonusActive(ctx context.Context, deviceID int, active bool) error {
	return r.updateDevice(ctx, deviceID, map[string]any{"bonus_time_active": active})
}

func (r *StateRepo) updateDevice(ctx context.Context, deviceID int, values map[string]any) error {
	b := sq.Update("devices").
		SetMap(values).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).
		Where(sq.Eq{"id": deviceID})

	n, err := exec(ctx, r.db, b)
	if err != nil {
		return fmt.Errorf("updating device %d: %w", deviceID, err)
	}
	if n == 0 {
		return fmt.Errorf("device %d: %w", deviceID, ErrNotFound)
	}
	return nil
}

// updateRule sets the job name, and the enable flag when enabled is non-nil,
// provided the row is still at rule.Version.
func updateRule(ctx context.Context, ex execer, rule models.Rule, enabled *bool, job jobs.JobName) error {
	table, toggle, err := ruleTable(rule.Kind)
	if err != nil {
		return err
	}

	b := sq.Update(table)
	if enabled != nil {
		b = b.Set(toggle, *enabled)
	}
	b = b.Set("job_name", job.String()).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).
		Where(sq.Eq{"id": rule.ID}).
		Where(sq.Eq{"version": rule.Version})

	n, err := exec(ctx, ex, b)
	if err != nil {
		return fmt.Errorf("updating %s %d: %w", rule.Kind, rule.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d at version %d: %w", rule.Kind, rule.ID, rule.Version, ErrConcurrentModification)
	}
	return nil
}

func deleteOverridesFor(ctx context.Context, ex execer, kind models.Kind, id int) error {
	_, err := exec(ctx, ex, sq.Delete("bonus_overrides").Where(sq.Eq{"kind": string(kind)}).Where(sq.Eq{"schedule_id": id}))
	if err != nil {
		return fmt.Errorf("deleting overrides for %s %d: %w", kind, id, err)
	}
	return nil
}

func exec(ctx context.Context, ex execer, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building statement: %w", err)
	}
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *StateRepo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return multierror.Append(err, fmt.Errorf("rolling back: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
