package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/tender-barbarian/nua/repository/models"
	"github.com/tender-barbarian/nua/service"
)

// Service is what the operator-facing routes need from the engine.
type Service interface {
	CreateSchedule(ctx context.Context, s *models.Schedule) (models.Rule, error)
	CreateCronSchedule(ctx context.Context, c *models.CronSchedule) (models.Rule, error)
	ToggleSchedule(ctx context.Context, kind models.Kind, id int, enable bool) (models.Rule, error)
	DeleteSchedule(ctx context.Context, kind models.Kind, id int) error
	SetDeviceAccess(ctx context.Context, deviceID int, allow bool) error
	BlockAll(ctx context.Context) error
	UnblockAll(ctx context.Context) error
	DeleteDevice(ctx context.Context, deviceID int) error
	GrantBonusTime(ctx context.Context, deviceID int, minutes int) (time.Duration, error)
	EndBonusTime(ctx context.Context, deviceID int, manual bool) error
	BonusRemaining(deviceID int) (time.Duration, bool)
	BonusTimes() map[int]time.Duration
	Reconcile(ctx context.Context) (*service.Report, error)
}

type CustomHandlers struct {
	logger  *slog.Logger
	service Service
	*ErrorHandler
}

func NewCustomHandlers(logger *slog.Logger, service Service, eh *ErrorHandler) *CustomHandlers {
	return &CustomHandlers{
		logger:       logger,
		service:      service,
		ErrorHandler: eh,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) // nolint
}
