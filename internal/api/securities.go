package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"trendboard/internal/domain/market_data"
	trenddomain "trendboard/internal/domain/trend"
	"trendboard/internal/services/pipeline"
	"trendboard/internal/services/snapshot"
	"trendboard/internal/services/trend"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// SnapshotReader returns the dashboard snapshot of a security
type SnapshotReader interface {
	Get(ctx context.Context, securityID string) (*snapshot.Snapshot, error)
}

// Pipeline runs and verifies recomputation
type Pipeline interface {
	Run(ctx context.Context, securityID string, r market_data.Range, trigger string) (*pipeline.Result, error)
	VerifyCoverage(ctx context.Context, securityID string) ([]*trenddomain.Coverage, error)
}

// WinRater evaluates stored labels against later closes
type WinRater interface {
	WinRates(ctx context.Context, securityID string, tf market_data.Timeframe, horizon int) (map[trenddomain.Direction]trend.WinRate, error)
}

// SecurityHandler serves the per-security dashboard endpoints
type SecurityHandler struct {
	snapshots      SnapshotReader
	pipeline       Pipeline
	winRates       WinRater
	throttle       *pipeline.Throttle
	defaultHorizon int
	log            *logger.Logger
}

// NewSecurityHandler creates the handler. winRates and throttle may be nil.
func NewSecurityHandler(snapshots SnapshotReader, p Pipeline, winRates WinRater, throttle *pipeline.Throttle, defaultHorizon int) *SecurityHandler {
	if defaultHorizon <= 0 {
		defaultHorizon = 5
	}
	return &SecurityHandler{
		snapshots:      snapshots,
		pipeline:       p,
		winRates:       winRates,
		throttle:       throttle,
		defaultHorizon: defaultHorizon,
		log:            logger.Get().Component("api"),
	}
}

// Register mounts the routes on mux
func (h *SecurityHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/securities/{id}/snapshot", h.handleSnapshot)
	mux.HandleFunc("POST /api/v1/securities/{id}/recalculate", h.handleRecalculate)
	mux.HandleFunc("GET /api/v1/securities/{id}/coverage", h.handleCoverage)
	mux.HandleFunc("GET /api/v1/securities/{id}/winrates", h.handleWinRates)
}

func (h *SecurityHandler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type coverageView struct {
	*trenddomain.Coverage
	Percent        float64 `json:"percent"`
	NeedsRecompute bool    `json:"needs_recompute"`
}

func (h *SecurityHandler) handleCoverage(w http.ResponseWriter, r *http.Request) {
	coverage, err := h.pipeline.VerifyCoverage(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]coverageView, 0, len(coverage))
	for _, cov := range coverage {
		out = append(out, coverageView{Coverage: cov, Percent: cov.Percent(), NeedsRecompute: cov.NeedsRecompute()})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRecalculate aggregates, refreshes levels and relabels full history.
// The run is detached from the request so a closed browser tab does not
// abort it halfway.
func (h *SecurityHandler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.throttle.Allow(id) {
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "recalculation requested too recently"})
		return
	}

	result, err := h.pipeline.Run(context.WithoutCancel(r.Context()), id, market_data.Range{}, pipeline.TriggerAPI)
	if err != nil {
		if result != nil && !errors.Is(err, errors.ErrLockNotAcquired) {
			h.log.Errorw("recalculation finished with errors", "security_id", id, "error", err)
			writeJSON(w, http.StatusInternalServerError, struct {
				errorBody
				Result *pipeline.Result `json:"result"`
			}{errorBody{Error: err.Error()}, result})
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SecurityHandler) handleWinRates(w http.ResponseWriter, r *http.Request) {
	if h.winRates == nil {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()

	tf := market_data.TimeframeDaily
	if v := q.Get("timeframe"); v != "" {
		parsed, err := market_data.ParseTimeframe(v)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		tf = parsed
	}
	horizon := h.defaultHorizon
	if v := q.Get("horizon"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, r, errors.Wrapf(errors.ErrInvalidInput, "horizon %q", v))
			return
		}
		horizon = n
	}

	rates, err := h.winRates.WinRates(r.Context(), r.PathValue("id"), tf, horizon)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rates)
}

type errorBody struct {
	Error string `json:"error"`
}

func statusOf(err error) int {
	switch errors.Kind(err) {
	case "not_found":
		return http.StatusNotFound
	case "invalid":
		return http.StatusBadRequest
	case "busy":
		return http.StatusConflict
	case "unavailable", "timeout":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *SecurityHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		h.log.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
