package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/coldquant/accumscan/internal/errs"
	"github.com/coldquant/accumscan/internal/pipeline"
	"github.com/coldquant/accumscan/internal/scan"
)

// SignalService is the single-asset operation.
type SignalService interface {
	ComputeSignal(ctx context.Context, assetID string) (*pipeline.Signal, error)
}

// ScanService is the bulk-scan operation.
type ScanService interface {
	Scan(ctx context.Context, opts scan.Options) (*scan.Result, error)
}

// Handlers holds the route implementations.
type Handlers struct {
	signals SignalService
	scans   ScanService
	version string
}

// NewHandlers creates the handler set.
func NewHandlers(signals SignalService, scans ScanService, scoringVersion string) *Handlers {
	return &Handlers{signals: signals, scans: scans, version: scoringVersion}
}

type errorResponse struct {
	Error        string `json:"error"`
	Kind         string `json:"kind"`
	Action       string `json:"action"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}

// Health reports liveness and the active scoring version.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":          "ok",
		"scoring_version": h.version,
	})
}

// Signal handles GET /signal/{asset}.
func (h *Handlers) Signal(w http.ResponseWriter, r *http.Request) {
	asset := strings.ToUpper(mux.Vars(r)["asset"])
	if asset == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "asset is required"})
		return
	}

	sig, err := h.signals.ComputeSignal(r.Context(), asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// Scan handles GET /scan. The response stays within a small fixed budget
// regardless of universe size because only Tier-3 summaries are returned.
func (h *Handlers) Scan(w http.ResponseWriter, r *http.Request) {
	opts := scan.Options{
		UniverseSize: intQuery(r, "universe", 0),
		FinalLimit:   intQuery(r, "limit", 0),
		DeadlineMS:   intQuery(r, "deadline_ms", 0),
	}

	result, err := h.scans.Scan(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// NotFound handles unknown routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found: " + r.URL.Path})
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case errs.KindAuth:
		status = http.StatusBadGateway
	case errs.KindNetwork, errs.KindRateLimited:
		status = http.StatusServiceUnavailable
	case errs.KindDeadlineExceeded:
		status = http.StatusGatewayTimeout
	}

	resp := errorResponse{
		Error:  err.Error(),
		Kind:   string(kind),
		Action: string(kind.Action()),
	}
	if d := errs.RetryAfter(err); d > 0 {
		resp.RetryAfterMS = d.Milliseconds()
		// Retry-After is whole seconds, rounded up.
		w.Header().Set("Retry-After", strconv.FormatInt(int64((d+time.Second-1)/time.Second), 10))
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
