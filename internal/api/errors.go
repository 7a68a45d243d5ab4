package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/atlas-desktop/portfolio-lab/internal/charts"
	"github.com/atlas-desktop/portfolio-lab/internal/config"
	"github.com/atlas-desktop/portfolio-lab/internal/market"
	"github.com/atlas-desktop/portfolio-lab/internal/montecarlo"
	"github.com/atlas-desktop/portfolio-lab/internal/optimization"
	"github.com/atlas-desktop/portfolio-lab/internal/risk"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

var (
	// ErrBadRequest marks malformed request bodies and parameters.
	ErrBadRequest = errors.New("bad request")
	// ErrRunNotFound is returned for unknown run IDs.
	ErrRunNotFound = errors.New("run not found")

	errInvalidMessage = errors.New("message is not valid JSON")
	errUnknownMessage = errors.New("unknown message type")
	errSweepRunning   = errors.New("a sweep is already running on this connection")
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, market.ErrInvalidModel),
		errors.Is(err, market.ErrInvalidWeights),
		errors.Is(err, montecarlo.ErrInvalidConfig),
		errors.Is(err, montecarlo.ErrNonPositiveDefinite),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, charts.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, ErrRunNotFound),
		errors.Is(err, charts.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, montecarlo.ErrDegeneratePath),
		errors.Is(err, risk.ErrInsufficientSample),
		errors.Is(err, optimization.ErrOptimizationFailed):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError replies with the status mapped from err.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Status: status})
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == s.config.Server.WebSocketPath {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.recorder.ObserveRequest(route, strconv.Itoa(rec.status))
	})
}
