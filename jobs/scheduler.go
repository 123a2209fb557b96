package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// CronScheduler runs recurring and cron jobs on robfig/cron and one-shot
// jobs on the injected clock.
type CronScheduler struct {
	cron   *cron.Cron
	clock  clockwork.Clock
	logger *slog.Logger

	mu       sync.Mutex
	entries  map[JobName]cron.EntryID
	oneShots map[JobName]clockwork.Timer
}

func NewCronScheduler(clk clockwork.Clock, loc *time.Location, logger *slog.Logger) *CronScheduler {
	cl := cronLogger{logger}
	return &CronScheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		clock:    clk,
		logger:   logger,
		entries:  make(map[JobName]cron.EntryID),
		oneShots: make(map[JobName]clockwork.Timer),
	}
}

func (s *CronScheduler) Start() {
	s.cron.Start()
	s.logger.Info("job scheduler started")
}

// Stop cancels pending one-shots and waits for running cron jobs until ctx
// is done.
func (s *CronScheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	for name, t := range s.oneShots {
		if t != nil {
			t.Stop()
		}
		delete(s.oneShots, name)
	}
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("job scheduler stop timed out")
	}
	s.logger.Info("job scheduler stopped")
}

func (s *CronScheduler) ScheduleAt(at time.Time, fn Func) (JobName, error) {
	name := newJobName()

	d := at.Sub(s.clock.Now())
	if d <= 0 {
		// Past instants fire straight away, on their own goroutine so a
		// caller holding a lock the job needs cannot deadlock.
		go s.run(name, fn)
		return name, nil
	}

	s.mu.Lock()
	s.oneShots[name] = nil
	s.mu.Unlock()

	t := s.clock.AfterFunc(d, func() {
		if !s.claimOneShot(name) {
			return
		}
		s.run(name, fn)
	})

	s.mu.Lock()
	if _, ok := s.oneShots[name]; ok {
		s.oneShots[name] = t
	}
	s.mu.Unlock()

	return name, nil
}

func (s *CronScheduler) ScheduleCron(expr string, fn Func) (JobName, error) {
	if err := ValidateCron(expr); err != nil {
		return "", err
	}
	return s.addCron(expr, fn)
}

func (s *CronScheduler) ScheduleRecurrence(r Recurrence, fn Func) (JobName, error) {
	spec, err := r.spec()
	if err != nil {
		return "", err
	}
	return s.addCron(spec, fn)
}

func (s *CronScheduler) addCron(spec string, fn Func) (JobName, error) {
	name := newJobName()
	id, err := s.cron.AddFunc(spec, func() { s.run(name, fn) })
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCron, err)
	}

	s.mu.Lock()
	s.entries[name] = id
	s.mu.Unlock()

	return name, nil
}

func (s *CronScheduler) Cancel(name JobName) bool {
	s.mu.Lock()
	t, isOneShot := s.oneShots[name]
	delete(s.oneShots, name)
	id, isCron := s.entries[name]
	delete(s.entries, name)
	s.mu.Unlock()

	switch {
	case isOneShot:
		// t is nil while ScheduleAt is still arming; the claim check in the
		// callback keeps it from running.
		if t != nil {
			t.Stop()
		}
		return true
	case isCron:
		s.cron.Remove(id)
		return true
	default:
		return false
	}
}

func (s *CronScheduler) IsLive(name JobName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.oneShots[name]; ok {
		return true
	}
	_, ok := s.entries[name]
	return ok
}

// Live returns the number of registered jobs.
func (s *CronScheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.oneShots) + len(s.entries)
}

func (s *CronScheduler) claimOneShot(name JobName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.oneShots[name]; !ok {
		return false
	}
	delete(s.oneShots, name)
	return true
}

func (s *CronScheduler) run(name JobName, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", name, "panic", r)
		}
	}()
	fn()
}

func newJobName() JobName {
	return JobName(uuid.NewString())
}

// cronLogger routes robfig/cron logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
