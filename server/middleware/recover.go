package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

type Recover struct {
	handler http.Handler
	logger  *slog.Logger
}

func NewRecoverMiddleware(handler http.Handler, logger *slog.Logger) *Recover {
	return &Recover{handler, logger}
}

func (rr *Recover) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if v := recover(); v != nil {
			w.Header().Set("Connection", "close")
			rr.logger.Error("panic serving request",
				"panic", fmt.Sprint(v),
				"method", r.Method,
				"uri", r.URL.RequestURI(),
				"stack", string(debug.Stack()))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}()
	rr.handler.ServeHTTP(w, r)
}
