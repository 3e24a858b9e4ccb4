package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldquant/accumscan/internal/config"
	"github.com/coldquant/accumscan/internal/domain"
	"github.com/coldquant/accumscan/internal/errs"
	"github.com/coldquant/accumscan/internal/metrics"
	"github.com/coldquant/accumscan/internal/pipeline"
	"github.com/coldquant/accumscan/internal/scan"
)

type stubSignals struct {
	lastAsset string
	sig       *pipeline.Signal
	err       error
}

func (s *stubSignals) ComputeSignal(_ context.Context, assetID string) (*pipeline.Signal, error) {
	s.lastAsset = assetID
	if s.err != nil {
		return nil, s.err
	}
	return s.sig, nil
}

type stubScans struct {
	lastOpts scan.Options
	result   *scan.Result
	err      error
}

func (s *stubScans) Scan(_ context.Context, opts scan.Options) (*scan.Result, error) {
	s.lastOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newTestRouter(signals *stubSignals, scans *stubScans) http.Handler {
	h := NewHandlers(signals, scans, "s1-abcdef0123456789")
	srv := NewServer(config.HTTPConfig{Host: "127.0.0.1", Port: 0, ReadTimeoutSec: 5}, h, metrics.New())
	return srv.Router()
}

func doRequest(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&stubSignals{}, &stubScans{})

	rec := doRequest(t, router, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "s1-abcdef0123456789", body["scoring_version"])
}

func TestSignal_UppercasesAsset(t *testing.T) {
	signals := &stubSignals{
		sig: &pipeline.Signal{Result: domain.ScoreResult{AssetID: "BTCUSD", Score: 80, Verdict: domain.VerdictStrongAccumulation}},
	}
	router := newTestRouter(signals, &stubScans{})

	rec := doRequest(t, router, "/signal/btcusd")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTCUSD", signals.lastAsset)

	var sig pipeline.Signal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sig))
	assert.Equal(t, 80.0, sig.Result.Score)
}

func TestSignal_ErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		action errs.Action
	}{
		{"auth is a bad gateway", errs.New(errs.KindAuth, "t", errors.New("bad key")), http.StatusBadGateway, errs.ActionFatal},
		{"network is unavailable", errs.New(errs.KindNetwork, "t", errors.New("refused")), http.StatusServiceUnavailable, errs.ActionRetryBackoff},
		{"rate limit is unavailable", errs.New(errs.KindRateLimited, "t", errors.New("429")), http.StatusServiceUnavailable, errs.ActionRetryBackoff},
		{"deadline is a gateway timeout", errs.New(errs.KindDeadlineExceeded, "t", context.DeadlineExceeded), http.StatusGatewayTimeout, errs.ActionAcceptPartial},
		{"calculation is internal", errs.New(errs.KindCalculation, "t", errors.New("nan")), http.StatusInternalServerError, errs.ActionFatal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&stubSignals{err: tc.err}, &stubScans{})

			rec := doRequest(t, router, "/signal/BTCUSD")
			assert.Equal(t, tc.status, rec.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(tc.action), body.Action)
			assert.NotEmpty(t, body.Kind)
		})
	}
}

func TestSignal_RateLimitCarriesRetryAfter(t *testing.T) {
	err := errs.New(errs.KindRateLimited, "t", errors.New("429")).WithRetryAfter(1500 * time.Millisecond)
	router := newTestRouter(&stubSignals{err: err}, &stubScans{})

	rec := doRequest(t, router, "/signal/BTCUSD")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1500), body.RetryAfterMS)
}

func TestSignal_NoRetryAfterWithoutProviderHint(t *testing.T) {
	err := errs.New(errs.KindRateLimited, "t", errors.New("429"))
	router := newTestRouter(&stubSignals{err: err}, &stubScans{})

	rec := doRequest(t, router, "/signal/BTCUSD")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
	assert.NotContains(t, rec.Body.String(), "retry_after_ms")
}

func TestScan_ParsesQueryOptions(t *testing.T) {
	scans := &stubScans{result: &scan.Result{JobID: "j1", State: scan.StateDone}}
	router := newTestRouter(&stubSignals{}, scans)

	rec := doRequest(t, router, "/scan?universe=500&limit=5&deadline_ms=30000")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 500, scans.lastOpts.UniverseSize)
	assert.Equal(t, 5, scans.lastOpts.FinalLimit)
	assert.Equal(t, 30000, scans.lastOpts.DeadlineMS)
}

func TestScan_IgnoresMalformedQueryOptions(t *testing.T) {
	scans := &stubScans{result: &scan.Result{JobID: "j1", State: scan.StateDone}}
	router := newTestRouter(&stubSignals{}, scans)

	rec := doRequest(t, router, "/scan?universe=bogus&limit=-3")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 0, scans.lastOpts.UniverseSize)
	assert.Equal(t, 0, scans.lastOpts.FinalLimit)
}

func TestNotFound(t *testing.T) {
	router := newTestRouter(&stubSignals{}, &stubScans{})

	rec := doRequest(t, router, "/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "/nope")
}

func TestRequestIDPropagation(t *testing.T) {
	router := newTestRouter(&stubSignals{}, &stubScans{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRequestIDGenerated(t *testing.T) {
	router := newTestRouter(&stubSignals{}, &stubScans{})

	rec := doRequest(t, router, "/health")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestContentTypeIsJSON(t *testing.T) {
	router := newTestRouter(&stubSignals{}, &stubScans{})

	rec := doRequest(t, router, "/health")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestNewServer_TimeoutsConfigured(t *testing.T) {
	h := NewHandlers(&stubSignals{}, &stubScans{}, "v")

	srv := NewServer(config.HTTPConfig{Host: "127.0.0.1", Port: 0, ReadTimeoutSec: 5, WriteTimeoutSec: 90}, h, metrics.New())
	assert.Equal(t, 5*time.Second, srv.server.ReadTimeout)
	assert.Equal(t, 90*time.Second, srv.server.WriteTimeout)

	// Zero config falls back to timeouts that still cover a full scan.
	srv = NewServer(config.HTTPConfig{}, h, metrics.New())
	assert.Equal(t, 10*time.Second, srv.server.ReadTimeout)
	assert.Equal(t, 2*time.Minute, srv.server.WriteTimeout)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(&stubSignals{}, &stubScans{})

	rec := doRequest(t, router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, "application/json", rec.Header().Get("Content-Type"))
}
