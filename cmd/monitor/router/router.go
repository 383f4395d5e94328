// Package router configures the monitor's HTTP API.
//
// Routes:
//   - POST /verify - evaluate an ad-hoc list: {"values":[..],"windowSize":5,"threshold":0.1}
//   - GET /report/current?target=<name> - latest stored report
//   - GET /report/history?target=<name>&limit=<n> - stored reports, newest first
//   - GET /healthz - health check
//   - GET /metrics - Prometheus metrics
//
// /verify answers 200 with the evaluation result for both verdicts, 422 when
// there are fewer values than windowSize and 400 for malformed requests.
// Reports older than the target's stale threshold carry X-Steadystate-Stale.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/steadystate/pkg/httpx"
	"github.com/HatiCode/steadystate/pkg/series"
	"github.com/HatiCode/steadystate/pkg/steadystate"
	"github.com/HatiCode/steadystate/pkg/storage"
)

const (
	// StaleHeader is set to "true" on reports older than the stale threshold.
	StaleHeader = "X-Steadystate-Stale"

	maxVerifyBody   = 1 << 20
	maxHistoryLimit = 1000
)

var targetNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_.-]{0,251}[a-zA-Z0-9])?$`)

// StaleFunc returns the age after which a target's latest report is stale.
// Zero disables the check.
type StaleFunc func(target string) time.Duration

// StaleAfter returns a StaleFunc with the same threshold for every target.
func StaleAfter(d time.Duration) StaleFunc {
	return func(string) time.Duration { return d }
}

// SetupRoutes configures the HTTP endpoints. A nil gatherer serves the default
// Prometheus registry. checks run on every /healthz request.
func SetupRoutes(
	store storage.Store,
	evaluator *steadystate.Evaluator,
	staleAfter StaleFunc,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
	checks ...func(context.Context) error,
) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if evaluator == nil {
		evaluator = steadystate.New()
	}
	if staleAfter == nil {
		staleAfter = StaleAfter(0)
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", httpx.HealthHandler(checks...))
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /verify", handleVerify(evaluator, logger))
	mux.HandleFunc("GET /report/current", handleCurrent(store, staleAfter, logger))
	mux.HandleFunc("GET /report/history", handleHistory(store, logger))

	return httpx.Chain(mux, httpx.RecoveryMiddleware(logger), httpx.LoggingMiddleware(logger))
}

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	Values     []float64 `json:"values"`
	WindowSize int       `json:"windowSize"`
	// Threshold overrides the server default when set.
	Threshold *float64 `json:"threshold,omitempty"`
}

func handleVerify(evaluator *steadystate.Evaluator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxVerifyBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if req.Values == nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "values is required")
			return
		}

		ev := evaluator
		if req.Threshold != nil {
			ev = steadystate.New(steadystate.WithThreshold(*req.Threshold))
		}

		res, err := ev.Evaluate(req.Values, req.WindowSize)
		if err != nil {
			var ide *steadystate.InsufficientDataError
			if errors.As(err, &ide) {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
					"error":      ide.Error(),
					"verdict":    storage.VerdictInsufficientData,
					"windowSize": ide.WindowSize,
				}, logger)
				return
			}
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}

		logger.Debug("values in window",
			"values", series.Format(res.Values()),
			"verdict", res.Verdict.String(),
		)
		writeJSON(w, http.StatusOK, res, logger)
	}
}

func handleCurrent(store storage.Store, staleAfter StaleFunc, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, ok := targetParam(w, r)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		report, found, err := store.GetLatest(ctx, target)
		if err != nil {
			logger.Error("failed to get report", "target", target, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("report not found for target %q", target))
			return
		}

		if d := staleAfter(target); d > 0 && time.Since(report.GeneratedAt) > d {
			w.Header().Set(StaleHeader, "true")
		}
		writeJSON(w, http.StatusOK, report, logger)
	}
}

func handleHistory(store storage.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, ok := targetParam(w, r)
		if !ok {
			return
		}

		limit := storage.DefaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxHistoryLimit {
				httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("limit must be an integer between 1 and %d", maxHistoryLimit))
				return
			}
			limit = n
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		reports, err := store.History(ctx, target, limit)
		if err != nil {
			logger.Error("failed to get history", "target", target, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if reports == nil {
			reports = []storage.Report{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"target":  target,
			"reports": reports,
		}, logger)
	}
}

func targetParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	target := r.URL.Query().Get("target")
	if target == "" {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "target parameter required")
		return "", false
	}
	if !targetNameRegex.MatchString(target) {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid target name format")
		return "", false
	}
	return target, true
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	if err := httpx.WriteJSON(w, status, v); err != nil {
		logger.Error("failed to write JSON response", "error", err)
	}
}
