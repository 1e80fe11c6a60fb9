// Package api exposes the robot session over HTTP.
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"autotrader/internal/logger"
)

// Endpoints groups the optional handlers mounted next to the REST API.
type Endpoints struct {
	Health  http.Handler // GET /health
	Metrics http.Handler // GET /metrics
	Stream  http.Handler // GET /ws
}

const (
	v1              = "/api/v1"
	requestIDHeader = "X-Request-ID"
)

// NewRouter creates the HTTP router.
func NewRouter(h *Handler, ep Endpoints, log zerolog.Logger) http.Handler {
	r := mux.NewRouter()

	if ep.Health != nil {
		r.Handle("/health", ep.Health).Methods(http.MethodGet)
	} else {
		r.HandleFunc("/health", healthCheckHandler).Methods(http.MethodGet)
	}
	if ep.Metrics != nil {
		r.Handle("/metrics", ep.Metrics).Methods(http.MethodGet)
	}
	if ep.Stream != nil {
		r.Handle("/ws", ep.Stream)
	}

	r.HandleFunc(v1+"/instruments", h.ListInstruments).Methods(http.MethodGet)
	r.HandleFunc(v1+"/instruments/{symbol}/latest", h.GetLatest).Methods(http.MethodGet)
	r.HandleFunc(v1+"/instruments/{symbol}/rows", h.GetRows).Methods(http.MethodGet)

	r.HandleFunc(v1+"/bars", h.PostBars).Methods(http.MethodPost)
	r.HandleFunc(v1+"/quotes", h.PostQuotes).Methods(http.MethodPost)

	r.HandleFunc(v1+"/indicators", h.ListIndicators).Methods(http.MethodGet)
	r.HandleFunc(v1+"/indicators", h.RegisterIndicator).Methods(http.MethodPost)
	r.HandleFunc(v1+"/indicators/{column}", h.UnregisterIndicator).Methods(http.MethodDelete)

	r.HandleFunc(v1+"/rules", h.ListRules).Methods(http.MethodGet)
	r.HandleFunc(v1+"/rules/{indicator}", h.PutRule).Methods(http.MethodPut)
	r.HandleFunc(v1+"/rules/{indicator}", h.DeleteRule).Methods(http.MethodDelete)

	r.HandleFunc(v1+"/signals", h.ListSignals).Methods(http.MethodGet)

	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack passes websocket upgrades through to the underlying writer.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func loggingMiddleware(log zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			tid := r.Header.Get(requestIDHeader)
			if tid == "" {
				tid = logger.GenerateTraceID("http", start)
			}
			w.Header().Set(requestIDHeader, tid)
			r = r.WithContext(logger.WithTraceID(r.Context(), tid))
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.LogWithTrace(r.Context(), log).Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

func recoveryMiddleware(log zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error().Interface("panic", err).Str("path", r.URL.Path).Msg("panic recovered")
					respondError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
