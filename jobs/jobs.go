// Package jobs is the in-process job scheduler. Jobs live only as long as
// the process, so callers persist the returned JobName and re-register on
// startup.
package jobs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidCron       = errors.New("invalid cron expression")
	ErrInvalidRecurrence = errors.New("invalid recurrence")
)

// JobName identifies a registered job. It is opaque to callers.
type JobName string

func (n JobName) String() string { return string(n) }

type Func func()

type Scheduler interface {
	ScheduleAt(at time.Time, fn Func) (JobName, error)
	ScheduleCron(expr string, fn Func) (JobName, error)
	ScheduleRecurrence(r Recurrence, fn Func) (JobName, error)
	// Cancel reports whether a live job was removed.
	Cancel(name JobName) bool
	IsLive(name JobName) bool
}

// Trigger is one of At, Recurrence or Cron.
type Trigger interface {
	fmt.Stringer
	trigger()
}

// At fires once at Time.
type At struct {
	Time time.Time
}

// Recurrence fires at Hour:Minute on each of Days.
type Recurrence struct {
	Days   []time.Weekday
	Hour   int
	Minute int
}

// Cron fires on a cron expression.
type Cron struct {
	Expr string
}

func (At) trigger()         {}
func (Recurrence) trigger() {}
func (Cron) trigger()       {}

func (a At) String() string { return "at " + a.Time.Format(time.RFC3339) }

func (r Recurrence) String() string {
	spec, err := r.spec()
	if err != nil {
		return "invalid recurrence"
	}
	return "recurrence " + spec
}

func (c Cron) String() string { return "cron " + c.Expr }

// spec renders the recurrence as a five field cron expression.
func (r Recurrence) spec() (string, error) {
	if len(r.Days) == 0 {
		return "", fmt.Errorf("%w: no days selected", ErrInvalidRecurrence)
	}
	if r.Hour < 0 || r.Hour > 23 || r.Minute < 0 || r.Minute > 59 {
		return "", fmt.Errorf("%w: %02d:%02d", ErrInvalidRecurrence, r.Hour, r.Minute)
	}

	days := make([]string, len(r.Days))
	for i, d := range r.Days {
		if d < time.Sunday || d > time.Saturday {
			return "", fmt.Errorf("%w: weekday %d", ErrInvalidRecurrence, d)
		}
		days[i] = strconv.Itoa(int(d))
	}
	return fmt.Sprintf("%d %d * * %s", r.Minute, r.Hour, strings.Join(days, ",")), nil
}

// Seconds are optional so six field expressions saved by older clients
// still parse.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCron checks expr without registering anything.
func ValidateCron(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCron)
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCron, err)
	}
	return nil
}

// Schedule registers fn on whichever kind of trigger t is.
func Schedule(s Scheduler, t Trigger, fn Func) (JobName, error) {
	switch t := t.(type) {
	case At:
		return s.ScheduleAt(t.Time, fn)
	case Recurrence:
		return s.ScheduleRecurrence(t, fn)
	case Cron:
		return s.ScheduleCron(t.Expr, fn)
	default:
		return "", fmt.Errorf("unsupported trigger %T", t)
	}
}
