package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/tender-barbarian/nua/cache"
	"github.com/tender-barbarian/nua/jobs"
	"github.com/tender-barbarian/nua/metrics"
	"github.com/tender-barbarian/nua/repository"
	"github.com/tender-barbarian/nua/repository/models"
	"github.com/tender-barbarian/nua/timer"
)

// ============================================================================
// In-memory state store
// ============================================================================

type fakeStore struct {
	mu        sync.Mutex
	devices   map[int]*models.Device
	schedules map[int]*models.Schedule
	crons     map[int]*models.CronSchedule
	overrides map[int]*models.BonusOverride
	nextID    int

	// failSuspend and failRestore make the matching call fail once set.
	failSuspend error
	failRestore error
	// beforeListRules runs at the start of ListRules, outside the lock.
	beforeListRules func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		devices:   make(map[int]*models.Device),
		schedules: make(map[int]*models.Schedule),
		crons:     make(map[int]*models.CronSchedule),
		overrides: make(map[int]*models.BonusOverride),
		nextID:    100,
	}
}

func (f *fakeStore) addDevice(d *models.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[d.ID] = d
}

func (f *fakeStore) device(id int) models.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.devices[id]
}

func (f *fakeStore) removeDevice(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.devices, id)
}

// addSchedule stores s as is, bypassing the service.
func (f *fakeStore) addSchedule(s *models.Schedule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.schedules[s.ID] = &cp
}

func (f *fakeStore) addCron(c *models.CronSchedule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.crons[c.ID] = &cp
}

func (f *fakeStore) rule(t *testing.T, kind models.Kind, id int) models.Rule {
	t.Helper()
	r, err := f.GetRule(context.Background(), kind, id)
	if err != nil {
		t.Fatalf("getting %s %d: %v", kind, id, err)
	}
	return r
}

func (f *fakeStore) allOverrides() []models.BonusOverride {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.BonusOverride, 0, len(f.overrides))
	for _, o := range f.overrides {
		out = append(out, *o)
	}
	return out
}

func (f *fakeStore) overrideCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.overrides)
}

func (f *fakeStore) ruleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.schedules) + len(f.crons)
}

func (f *fakeStore) ListRules(ctx context.Context) ([]models.Rule, error) {
	if f.beforeListRules != nil {
		f.beforeListRules()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rulesLocked(func(int) bool { return true }), nil
}

func (f *fakeStore) ListDeviceRules(ctx context.Context, deviceID int) ([]models.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rulesLocked(func(d int) bool { return d == deviceID }), nil
}

func (f *fakeStore) rulesLocked(match func(deviceID int) bool) []models.Rule {
	var crons, schedules []models.Rule
	for _, c := range f.crons {
		if match(c.DeviceID) {
			cp := *c
			crons = append(crons, cp.Rule())
		}
	}
	for _, s := range f.schedules {
		if match(s.DeviceID) {
			cp := *s
			schedules = append(schedules, cp.Rule())
		}
	}
	byID := func(rs []models.Rule) {
		sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
	}
	byID(crons)
	byID(schedules)
	return append(crons, schedules...)
}

func (f *fakeStore) GetRule(ctx context.Context, kind models.Kind, id int) (models.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch kind {
	case models.KindSchedule:
		if s, ok := f.schedules[id]; ok {
			cp := *s
			return cp.Rule(), nil
		}
	case models.KindCron:
		if c, ok := f.crons[id]; ok {
			cp := *c
			return cp.Rule(), nil
		}
	}
	return models.Rule{}, fmt.Errorf("%s %d: %w", kind, id, repository.ErrNotFound)
}

func (f *fakeStore) CreateSchedule(ctx context.Context, s *models.Schedule) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cp := *s
	cp.ID = f.nextID
	f.schedules[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeStore) CreateCronSchedule(ctx context.Context, c *models.CronSchedule) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cp := *c
	cp.ID = f.nextID
	f.crons[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeStore) SetRuleState(ctx context.Context, rule models.Rule, enabled bool, job jobs.JobName) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.updateLocked(rule, enabled, job); err != nil {
		return err
	}
	if !enabled {
		f.dropOverrideLocked(rule.Kind, rule.ID)
	}
	return nil
}

func (f *fakeStore) updateLocked(rule models.Rule, enabled bool, job jobs.JobName) error {
	switch rule.Kind {
	case models.KindSchedule:
		s, ok := f.schedules[rule.ID]
		if !ok {
			return repository.ErrNotFound
		}
		if s.Version != rule.Version {
			return repository.ErrConcurrentModification
		}
		s.ToggleSched, s.JobName = enabled, string(job)
		s.Version++
	case models.KindCron:
		c, ok := f.crons[rule.ID]
		if !ok {
			return repository.ErrNotFound
		}
		if c.Version != rule.Version {
			return repository.ErrConcurrentModification
		}
		c.ToggleCron, c.JobName = enabled, string(job)
		c.Version++
	}
	return nil
}

func (f *fakeStore) dropOverrideLocked(kind models.Kind, id int) {
	for oid, o := range f.overrides {
		if models.Kind(o.Kind) == kind && o.ScheduleID == id {
			delete(f.overrides, oid)
		}
	}
}

func (f *fakeStore) UpdateJobNames(ctx context.Context, assignments []repository.JobAssignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range assignments {
		if err := f.updateLocked(a.Rule, a.Rule.Enabled, a.JobName); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) DeleteRule(ctx context.Context, kind models.Kind, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch kind {
	case models.KindSchedule:
		delete(f.schedules, id)
	case models.KindCron:
		delete(f.crons, id)
	}
	f.dropOverrideLocked(kind, id)
	return nil
}

func (f *fakeStore) Suspend(ctx context.Context, rules []models.Rule, mac string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSuspend != nil {
		return f.failSuspend
	}
	for _, rule := range rules {
		if err := f.updateLocked(rule, false, ""); err != nil {
			return err
		}
		o := rule.Override(mac)
		if o == nil {
			return models.ErrNoSource
		}
		f.nextID++
		o.ID = f.nextID
		f.overrides[o.ID] = o
	}
	return nil
}

func (f *fakeStore) ListOverrides(ctx context.Context, deviceID int) ([]*models.BonusOverride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.BonusOverride
	for _, o := range f.overrides {
		if o.DeviceID == deviceID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) Restore(ctx context.Context, o *models.BonusOverride, job jobs.JobName) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRestore != nil {
		return f.failRestore
	}
	delete(f.overrides, o.ID)
	switch models.Kind(o.Kind) {
	case models.KindSchedule:
		s, ok := f.schedules[o.ScheduleID]
		if !ok {
			return repository.ErrNotFound
		}
		s.ToggleSched, s.JobName = true, string(job)
		s.Version++
	case models.KindCron:
		c, ok := f.crons[o.ScheduleID]
		if !ok {
			return repository.ErrNotFound
		}
		c.ToggleCron, c.JobName = true, string(job)
		c.Version++
	}
	return nil
}

func (f *fakeStore) SetDeviceActive(ctx context.Context, deviceID int, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceID]
	if !ok {
		return repository.ErrNotFound
	}
	d.Active = active
	return nil
}

func (f *fakeStore) SetBonusActive(ctx context.Context, deviceID int, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceID]
	if !ok {
		return repository.ErrNotFound
	}
	d.BonusTimeActive = active
	return nil
}

// ============================================================================
// Mock Device Repository
// ============================================================================

type mockDeviceRepo struct {
	store *fakeStore
	err   error
}

func (m *mockDeviceRepo) Create(ctx context.Context, model *models.Device) (int, error) {
	return 0, nil
}

func (m *mockDeviceRepo) Get(ctx context.Context, id int) (*models.Device, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	d, ok := m.store.devices[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *mockDeviceRepo) GetAll(ctx context.Context) ([]*models.Device, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var out []*models.Device
	for _, d := range m.store.devices {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockDeviceRepo) Delete(ctx context.Context, id int) error {
	if m.err != nil {
		return m.err
	}
	m.store.removeDevice(id)
	return nil
}

func (m *mockDeviceRepo) Update(ctx context.Context, model *models.Device, id int) error {
	return nil
}

func (m *mockDeviceRepo) GetTable() string {
	return "devices"
}

// ============================================================================
// Mock Querier
// ============================================================================

type mockQuerier struct {
	store *fakeStore
}

func (m *mockQuerier) LookupID(_ context.Context, table, column, value string) (int, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for _, d := range m.store.devices {
		if d.MACAddress == value {
			return d.ID, nil
		}
	}
	return 0, fmt.Errorf("looking up '%s' in %s: %w", value, table, repository.ErrNotFound)
}

// ============================================================================
// Fake Controller
// ============================================================================

type call struct {
	Action string
	MAC    string
}

type fakeController struct {
	mu       sync.Mutex
	calls    []call
	attempts int
	err      error
	// failMAC makes calls for one MAC fail while others succeed.
	failMAC string
}

func (c *fakeController) Block(_ context.Context, mac string) error {
	return c.record("block", mac)
}

func (c *fakeController) Unblock(_ context.Context, mac string) error {
	return c.record("unblock", mac)
}

func (c *fakeController) record(action, mac string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.err != nil {
		return c.err
	}
	if c.failMAC != "" && c.failMAC == mac {
		return errors.New("station not found")
	}
	c.calls = append(c.calls, call{Action: action, MAC: mac})
	return nil
}

func (c *fakeController) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *fakeController) getAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *fakeController) getCalls() []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]call, len(c.calls))
	copy(out, c.calls)
	return out
}

// ============================================================================
// Test service
// ============================================================================

var (
	testNow     = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	errDatabase = errors.New("database is locked")
)

const testMAC = "aa:bb:cc:dd:ee:01"

type testEnv struct {
	svc        *Service
	store      *fakeStore
	controller *fakeController
	jobs       *jobs.CronScheduler
	timers     *timer.Registry
	clock      *clockwork.FakeClock
	registry   *prometheus.Registry
}

// newTestService wires a Service around in-memory collaborators. The cron
// scheduler is never started, so only one-shot jobs fire, driven by the
// fake clock. The fake clock runs callbacks on their own goroutines, so
// tests wait for their effects with eventually.
func newTestService(t *testing.T) *testEnv {
	t.Helper()

	clk := clockwork.NewFakeClockAt(testNow)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newFakeStore()
	store.addDevice(&models.Device{ID: 1, Name: "laptop", MACAddress: testMAC})

	scheduler := jobs.NewCronScheduler(clk, time.UTC, logger)
	timers := timer.NewRegistry(clk)
	reg := prometheus.NewRegistry()
	ctrl := &fakeController{}

	svc := NewService(ServiceConfig{
		DevicesRepo:  &mockDeviceRepo{store: store},
		Store:        store,
		QueryRepo:    &mockQuerier{store: store},
		DevicesCache: cache.NewCache[*models.Device](),
		Controller:   ctrl,
		Jobs:         scheduler,
		Timers:       timers,
		Clock:        clk,
		Location:     time.UTC,
		Metrics:      metrics.New(reg),
		Logger:       logger,
	})
	t.Cleanup(timers.CancelAll)

	return &testEnv{
		svc:        svc,
		store:      store,
		controller: ctrl,
		jobs:       scheduler,
		timers:     timers,
		clock:      clk,
		registry:   reg,
	}
}

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
	quiet   = 50 * time.Millisecond
)

// eventually fails the test unless cond holds within waitFor.
func eventually(t *testing.T, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, waitFor, tick, msgAndArgs...)
}

func recurring(id int, action models.Action) *models.Schedule {
	return &models.Schedule{
		ID:          id,
		DeviceID:    1,
		BlockAllow:  string(action),
		Hour:        9,
		Minute:      30,
		AMPM:        "pm",
		Days:        "12345",
		ToggleSched: true,
	}
}

func oneTime(id int, action models.Action, date string, hour int, ampm string) *models.Schedule {
	return &models.Schedule{
		ID:          id,
		DeviceID:    1,
		BlockAllow:  string(action),
		OneTime:     true,
		Date:        date,
		Hour:        hour,
		AMPM:        ampm,
		ToggleSched: true,
	}
}

func cronRule(id int, action models.Action, expr string) *models.CronSchedule {
	return &models.CronSchedule{
		ID:         id,
		DeviceID:   1,
		CronType:   string(action),
		CronTime:   expr,
		ToggleCron: true,
	}
}
