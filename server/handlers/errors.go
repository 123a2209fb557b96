package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tender-barbarian/nua/repository"
	"github.com/tender-barbarian/nua/service"
)

type ErrorHandler struct {
	logger *slog.Logger
}

func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger,
	}
}

func (h *ErrorHandler) WriteError(w http.ResponseWriter, r *http.Request, err error, msg string, statusCode int) {
	if err == nil {
		h.logger.Error(msg, "method", r.Method, "uri", r.URL.RequestURI())
	} else {
		h.logger.Error(err.Error(), "method", r.Method, "uri", r.URL.RequestURI())
	}

	http.Error(w, msg, statusCode)
}

// writeServiceError picks the status for an error returned by the service.
// Rejected input and conflicts echo the error text, other failures only
// msg.
func (h *ErrorHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case service.IsValidationError(err):
		h.WriteError(w, r, err, err.Error(), http.StatusBadRequest)
	case errors.Is(err, repository.ErrNotFound):
		h.WriteError(w, r, err, err.Error(), http.StatusNotFound)
	case errors.Is(err, repository.ErrConcurrentModification), errors.Is(err, service.ErrReconcileInProgress):
		h.WriteError(w, r, err, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrPartialGrant):
		h.WriteError(w, r, err, service.ErrPartialGrant.Error(), http.StatusBadGateway)
	case errors.Is(err, service.ErrControllerUnreachable):
		h.WriteError(w, r, err, msg+": controller unreachable", http.StatusBadGateway)
	default:
		h.WriteError(w, r, err, msg, http.StatusInternalServerError)
	}
}

func (h *ErrorHandler) pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		h.WriteError(w, r, err, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
