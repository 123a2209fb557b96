package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tender-barbarian/nua/cache"
	"github.com/tender-barbarian/nua/config"
	"github.com/tender-barbarian/nua/controller"
	"github.com/tender-barbarian/nua/jobs"
	"github.com/tender-barbarian/nua/metrics"
	"github.com/tender-barbarian/nua/repository"
	"github.com/tender-barbarian/nua/repository/models"
	"github.com/tender-barbarian/nua/server/handlers"
	"github.com/tender-barbarian/nua/server/middleware"
	"github.com/tender-barbarian/nua/server/routes"
	"github.com/tender-barbarian/nua/service"
	"github.com/tender-barbarian/nua/timer"
	gocrud "github.com/tender-barbarian/go-crud"
)

func NewLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})), nil
}

// Run serves the API until ctx is cancelled. Jobs lost with the previous
// process are re-registered before the first request is accepted.
func Run(ctx context.Context, cfg config.Config) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Background loops stop with Run, whichever way it returns.
	var background sync.WaitGroup
	defer background.Wait()
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	// Start DB
	db, err := repository.NewDBConnection(cfg.DBPath, cfg.MigrationsPath)
	if err != nil {
		return fmt.Errorf("starting new DB connection: %w", err)
	}
	defer db.Close() // nolint

	devicesCache := cache.NewCache[*models.Device]()
	devicesRepo := gocrud.NewGenericRepository(db, "devices", func() *models.Device { return &models.Device{} }).WithValidate().WithOnMutate(devicesCache.InvalidateCache)
	schedulesRepo := gocrud.NewGenericRepository(db, "schedules", func() *models.Schedule { return &models.Schedule{} }).WithValidate()
	cronsRepo := gocrud.NewGenericRepository(db, "cron_schedules", func() *models.CronSchedule { return &models.CronSchedule{} }).WithValidate()

	queryRepo := repository.NewQueryRepo(db, map[string][]string{"devices": {"mac_address"}})
	stateRepo := repository.NewStateRepo(db)

	// Initialize collaborators
	unifi, err := controller.New(controller.Config{
		URL:                cfg.Controller.URL,
		Username:           cfg.Controller.Username,
		Password:           cfg.Controller.Password,
		Site:               cfg.Controller.Site,
		InsecureSkipVerify: cfg.Controller.InsecureSkipVerify,
		Timeout:            time.Duration(cfg.Controller.Timeout),
	}, logger)
	if err != nil {
		return fmt.Errorf("creating controller client: %w", err)
	}

	clk := clockwork.NewRealClock()
	scheduler := jobs.NewCronScheduler(clk, loc, logger)
	timers := timer.NewRegistry(clk)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	metrics.RegisterLiveJobs(registry, scheduler.Live)

	// Initialize service
	svc := service.NewService(service.ServiceConfig{
		DevicesRepo:  devicesRepo,
		Store:        stateRepo,
		QueryRepo:    queryRepo,
		DevicesCache: devicesCache,
		Controller:   unifi,
		Jobs:         scheduler,
		Timers:       timers,
		Clock:        clk,
		Location:     loc,
		Metrics:      m,
		Logger:       logger,
	})

	scheduler.Start()
	defer func() {
		timers.CancelAll()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		scheduler.Stop(stopCtx)
	}()

	report, err := svc.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconciling schedules: %w", err)
	}
	if err := report.Err(); err != nil {
		logger.Warn("some schedules could not be restored", "error", err)
	}

	if interval := time.Duration(cfg.ReconcileInterval); interval > 0 {
		startReconcileLoop(ctx, &background, svc, interval, logger)
	}

	// Initialize handlers and routes
	mux := http.NewServeMux()
	errorHandler := handlers.NewErrorHandler(logger)
	customHandlers := handlers.NewCustomHandlers(logger, svc, errorHandler)
	mux = routes.RegisterCustomRoutes(mux, customHandlers)
	mux = routes.RegisterDeviceRoutes(mux, errorHandler, devicesRepo)
	mux = routes.RegisterReadRoutes[*models.Schedule](mux, "/schedules", errorHandler, schedulesRepo)
	mux = routes.RegisterReadRoutes[*models.CronSchedule](mux, "/crons", errorHandler, cronsRepo)
	mux = routes.RegisterMetricsRoute(mux, registry)

	// Initialize middleware
	var wrappedMux http.Handler = mux
	wrappedMux = middleware.NewLoggingMiddleware(wrappedMux, logger)
	wrappedMux = middleware.NewRecoverMiddleware(wrappedMux, logger)

	// Start server
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           wrappedMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("listening and serving requests: %w", err)
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

type reconcileLooper interface {
	RunReconcile(ctx context.Context, interval time.Duration, errCh chan<- error)
}

// startReconcileLoop runs periodic reconciliation and logs its errors. Both
// goroutines are done once ctx is cancelled.
func startReconcileLoop(ctx context.Context, wg *sync.WaitGroup, svc reconcileLooper, interval time.Duration, logger *slog.Logger) {
	errCh := make(chan error, 100)
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(errCh)
		svc.RunReconcile(ctx, interval, errCh)
	}()
	go func() {
		defer wg.Done()
		for err := range errCh {
			logger.Error("reconciliation error", "error", err)
		}
	}()
}

// Migrate brings the database schema up to date without starting the
// server.
func Migrate(cfg config.Config) error {
	db, err := repository.NewDBConnection(cfg.DBPath, cfg.MigrationsPath)
	if err != nil {
		return err
	}
	return db.Close()
}
