package routes

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tender-barbarian/nua/repository"
	"github.com/tender-barbarian/nua/repository/models"
	"github.com/tender-barbarian/nua/server/handlers"
	gocrud "github.com/tender-barbarian/go-crud"
)

// RegisterDeviceRoutes exposes device create and read. There is no update
// route: the active and bonus flags only change through the controller.
// Deletion goes through the service so the device's jobs stop with it.
func RegisterDeviceRoutes(mux *http.ServeMux, eh *handlers.ErrorHandler, repo repository.GenericRepo[*models.Device]) *http.ServeMux {
	gocrud.RegisterCreate("POST /devices", mux, repo.Create, eh)
	gocrud.RegisterGet("GET /devices/{id}", mux, repo.Get, eh)
	gocrud.RegisterGetAll("GET /devices", mux, repo.GetAll, eh)

	return mux
}

// RegisterReadRoutes exposes listing and fetching for a table whose writes
// go through the service.
func RegisterReadRoutes[M gocrud.Model](mux *http.ServeMux, prefix string, eh *handlers.ErrorHandler, repo repository.GenericRepo[M]) *http.ServeMux {
	gocrud.RegisterGet("GET "+prefix+"/{id}", mux, repo.Get, eh)
	gocrud.RegisterGetAll("GET "+prefix, mux, repo.GetAll, eh)

	return mux
}

func RegisterCustomRoutes(mux *http.ServeMux, h *handlers.CustomHandlers) *http.ServeMux {
	mux.HandleFunc("DELETE /devices/{id}", h.DeleteDevice)
	mux.HandleFunc("POST /devices/block", h.BlockAll)
	mux.HandleFunc("POST /devices/unblock", h.UnblockAll)
	mux.HandleFunc("GET /bonus", h.ListBonusTimes)
	mux.HandleFunc("POST /devices/{id}/access", h.SetDeviceAccess)
	mux.HandleFunc("POST /devices/{id}/bonus", h.GrantBonusTime)
	mux.HandleFunc("GET /devices/{id}/bonus", h.GetBonusTime)
	mux.HandleFunc("DELETE /devices/{id}/bonus", h.EndBonusTime)

	mux.HandleFunc("POST /schedules", h.CreateSchedule)
	mux.HandleFunc("POST /schedules/{id}/toggle", h.ToggleSchedule(models.KindSchedule))
	mux.HandleFunc("DELETE /schedules/{id}", h.DeleteSchedule(models.KindSchedule))

	mux.HandleFunc("POST /crons", h.CreateCronSchedule)
	mux.HandleFunc("POST /crons/{id}/toggle", h.ToggleSchedule(models.KindCron))
	mux.HandleFunc("DELETE /crons/{id}", h.DeleteSchedule(models.KindCron))

	mux.HandleFunc("POST /reconcile", h.Reconcile)
	return mux
}

func RegisterMetricsRoute(mux *http.ServeMux, gatherer prometheus.Gatherer) *http.ServeMux {
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
