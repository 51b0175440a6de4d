// Package api exposes the gate over HTTP for execution services that do not
// link it in-process.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/risk-gate/internal/breaker"
	gateerrors "github.com/ducminhle1904/risk-gate/internal/errors"
	"github.com/ducminhle1904/risk-gate/internal/killswitch"
	"github.com/ducminhle1904/risk-gate/internal/logger"
	"github.com/ducminhle1904/risk-gate/internal/reservation"
	"github.com/ducminhle1904/risk-gate/internal/risk"
)

const maxBodyBytes = 64 << 10

// KillSwitch is the part of the kill switch the API reads and engages.
type KillSwitch interface {
	Status(ctx context.Context) (killswitch.State, error)
	Engage(ctx context.Context, reason, operator string) error
}

// Breaker is the part of the circuit breaker the API reads and feeds.
type Breaker interface {
	Status(ctx context.Context) (breaker.Record, error)
	Evaluate(ctx context.Context, obs breaker.Observation) (breaker.State, error)
}

// Reservations lists per-symbol exposure.
type Reservations interface {
	Symbols(ctx context.Context) ([]string, error)
	Snapshot(ctx context.Context, symbol string) (reservation.Snapshot, error)
}

// Deps are the components the handlers call.
type Deps struct {
	Gate         risk.Gate
	KillSwitch   KillSwitch
	Breaker      Breaker
	Reservations Reservations
	Health       http.Handler
	Metrics      http.Handler
	Log          logrus.FieldLogger
}

// Server routes gate requests.
type Server struct {
	deps Deps
	log  logrus.FieldLogger
	mux  *http.ServeMux
}

// NewServer registers every route.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps: deps,
		log:  logger.OrDiscard(deps.Log).WithField("component", "api"),
		mux:  http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /v1/orders/validate", s.handleValidate)
	s.mux.HandleFunc("POST /v1/reservations/commit", s.handleCommit)
	s.mux.HandleFunc("POST /v1/reservations/release", s.handleRelease)
	s.mux.HandleFunc("POST /v1/breaker/observations", s.handleObservation)
	s.mux.HandleFunc("POST /v1/kill-switch/engage", s.handleEngage)
	s.mux.HandleFunc("GET /v1/state", s.handleState)
	if deps.Health != nil {
		s.mux.Handle("GET /health", deps.Health)
	}
	if deps.Metrics != nil {
		s.mux.Handle("GET /metrics", deps.Metrics)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.log.WithFields(logrus.Fields{
		"method":   r.Method,
		"path":     r.URL.Path,
		"status":   rec.status,
		"duration": time.Since(start).String(),
	}).Debug("request served")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type errorBody struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decode(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request: " + err.Error()})
		return false
	}
	return true
}

// statusFor maps gate errors to HTTP statuses. Fail-closed categories are 503
// so that callers treat them as retryable outages.
func statusFor(err error) int {
	switch {
	case stderrors.Is(err, reservation.ErrTokenNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, reservation.ErrTokenExpired):
		return http.StatusGone
	}
	switch gateerrors.CategoryOf(err) {
	case gateerrors.ErrorCategoryValidation:
		return http.StatusBadRequest
	case gateerrors.ErrorCategoryConfirmation:
		return http.StatusForbidden
	case gateerrors.ErrorCategoryLimitExceeded:
		return http.StatusUnprocessableEntity
	case gateerrors.ErrorCategoryTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusServiceUnavailable
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	entry := s.log.WithError(err).WithField("operation", op)
	if status >= http.StatusInternalServerError {
		entry.Warn("request failed")
	} else {
		entry.Info("request rejected")
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Category: string(gateerrors.CategoryOf(err))})
}
