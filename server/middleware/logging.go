package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

type Logger struct {
	handler http.Handler
	logger  *slog.Logger
}

func NewLoggingMiddleware(handler http.Handler, logger *slog.Logger) *Logger {
	return &Logger{handler, logger}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (l *Logger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	l.handler.ServeHTTP(rec, r)
	l.logger.Info("handled request",
		"ip", r.RemoteAddr,
		"proto", r.Proto,
		"method", r.Method,
		"uri", r.URL.RequestURI(),
		"status", rec.status,
		"duration", time.Since(start))
}
