package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tender-barbarian/nua/cache"
	"github.com/tender-barbarian/nua/jobs"
	"github.com/tender-barbarian/nua/metrics"
	"github.com/tender-barbarian/nua/repository"
	"github.com/tender-barbarian/nua/repository/models"
	"github.com/tender-barbarian/nua/timer"
)

// jobTimeout bounds the work a fired job or bonus expiry may do.
const jobTimeout = 30 * time.Second

type Controller interface {
	Block(ctx context.Context, mac string) error
	Unblock(ctx context.Context, mac string) error
}

type ServiceConfig struct {
	DevicesRepo  repository.GenericRepo[*models.Device]
	Store        repository.StateStore
	QueryRepo    repository.Querier
	DevicesCache *cache.Cache[*models.Device]
	Controller   Controller
	Jobs         jobs.Scheduler
	Timers       *timer.Registry
	Clock        clockwork.Clock
	Location     *time.Location
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

type Service struct {
	devicesRepo  repository.GenericRepo[*models.Device]
	store        repository.StateStore
	queryRepo    repository.Querier
	devicesCache *cache.Cache[*models.Device]
	controller   Controller
	jobs         jobs.Scheduler
	timers       *timer.Registry
	clock        clockwork.Clock
	loc          *time.Location
	metrics      *metrics.Metrics
	logger       *slog.Logger
	deviceMu     sync.Map
	reconcileMu  sync.Mutex
}

func NewService(cfg ServiceConfig) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		devicesRepo:  cfg.DevicesRepo,
		store:        cfg.Store,
		queryRepo:    cfg.QueryRepo,
		devicesCache: cfg.DevicesCache,
		controller:   cfg.Controller,
		jobs:         cfg.Jobs,
		timers:       cfg.Timers,
		clock:        cfg.Clock,
		loc:          loc,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
}

// lockDevice serialises every change to one device's schedules, overrides
// and flags. Callers must not already hold it.
func (s *Service) lockDevice(id int) func() {
	v, _ := s.deviceMu.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) getDevice(ctx context.Context, id int) (*models.Device, error) {
	d, err := s.devicesRepo.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && d == nil) {
		return nil, fmt.Errorf("device %d: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting device: %w", err)
	}
	return d, nil
}
