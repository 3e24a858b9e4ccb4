package scan

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldquant/accumscan/internal/cache"
	"github.com/coldquant/accumscan/internal/config"
	"github.com/coldquant/accumscan/internal/domain"
	"github.com/coldquant/accumscan/internal/errs"
	"github.com/coldquant/accumscan/internal/feed"
	"github.com/coldquant/accumscan/internal/metrics"
	"github.com/coldquant/accumscan/internal/pipeline"
	"github.com/coldquant/accumscan/internal/provenance"
	"github.com/coldquant/accumscan/internal/score"
	"github.com/coldquant/accumscan/internal/source"
	"github.com/coldquant/accumscan/internal/warm"
)

// stubComputer scores assets from a fixed table, counting calls. Unknown
// assets get a deterministic mid-range score.
type stubComputer struct {
	calls  atomic.Int64
	scores map[string]float64
	errs   map[string]error
	block  bool
}

func (c *stubComputer) ComputeSignal(ctx context.Context, assetID string) (*pipeline.Signal, error) {
	c.calls.Add(1)
	if c.block {
		<-ctx.Done()
		return nil, errs.New(errs.KindOf(ctx.Err()), "stub.compute", ctx.Err())
	}
	if err, ok := c.errs[assetID]; ok {
		return nil, err
	}

	score := 60.0
	if s, ok := c.scores[assetID]; ok {
		score = s
	}
	verdict := domain.VerdictAccumulation
	if score >= 75 {
		verdict = domain.VerdictStrongAccumulation
	}
	return &pipeline.Signal{
		Result: domain.ScoreResult{
			AssetID: assetID,
			Score:   score,
			Verdict: verdict,
			Pillars: domain.PillarScores{Volume: score, Consolidation: 50, SellPressure: 50, Depth: 50},
		},
	}, nil
}

type noopLoader struct{}

func (noopLoader) WarmAsset(context.Context, string) error { return nil }

func passingTicker(id string, volume float64) feed.Ticker {
	return feed.Ticker{
		AssetID:     id,
		PriceUSD:    10,
		Volume24h:   volume,
		FundingRate: 0.001,
		UpdatedAt:   time.Now(),
	}
}

func newTestScanner(snap feed.Snapshot, pipe SignalComputer, cfg config.ScanConfig) *Scanner {
	warmer := warm.New(noopLoader{}, config.WarmerConfig{MaxFanOut: 8, FetchTimeoutMS: 1000})
	return New(snap, warmer, pipe, cfg, 8, metrics.New())
}

func testScanConfig() config.ScanConfig {
	return config.Default().Scan
}

func TestScan_Tier1AppliesCutoffs(t *testing.T) {
	snap := feed.NewMemorySnapshot()
	snap.Set(passingTicker("AAAUSD", 5_000_000))
	snap.Set(feed.Ticker{AssetID: "LOWVOL", PriceUSD: 10, Volume24h: 100, FundingRate: 0.001})
	snap.Set(feed.Ticker{AssetID: "DUSTUSD", PriceUSD: 0.000001, Volume24h: 5_000_000, FundingRate: 0.001})
	snap.Set(feed.Ticker{AssetID: "WILDFUND", PriceUSD: 10, Volume24h: 5_000_000, FundingRate: 0.05})

	comp := &stubComputer{}
	scanner := newTestScanner(snap, comp, testScanConfig())

	res, err := scanner.Scan(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 4, res.UniverseSize)
	assert.Equal(t, 1, res.Tier1Survivors)
	assert.Equal(t, int64(1), comp.calls.Load())
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, "AAAUSD", res.Recommendations[0].AssetID)
	assert.Equal(t, StateDone, res.State)
}

func TestScan_Tier1BoundsSurvivorsByLiquidity(t *testing.T) {
	snap := feed.NewMemorySnapshot()
	for i := 0; i < 80; i++ {
		id := string(rune('A'+i/26)) + string(rune('A'+i%26)) + "USD"
		snap.Set(passingTicker(id, float64(2_000_000+i*1000)))
	}

	comp := &stubComputer{}
	scanner := newTestScanner(snap, comp, testScanConfig())

	res, err := scanner.Scan(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 50, res.Tier1Survivors)
	assert.Equal(t, int64(50), comp.calls.Load(), "only tier1 survivors may be scored")
}

func TestScan_ScaleFunnelReduction(t *testing.T) {
	snap := feed.NewMemorySnapshot()
	snap.PopulateSynthetic(1000, time.Now())

	comp := &stubComputer{}
	scanner := newTestScanner(snap, comp, testScanConfig())

	res, err := scanner.Scan(context.Background(), Options{UniverseSize: 1000})
	require.NoError(t, err)

	assert.Equal(t, 1000, res.UniverseSize)
	assert.LessOrEqual(t, res.Tier1Survivors, 50)
	assert.LessOrEqual(t, float64(res.Tier1Survivors), 0.10*float64(res.UniverseSize),
		"tier1 must cut at least 90%% of the universe before any scoring happens")
	assert.Equal(t, int64(res.Tier1Survivors), comp.calls.Load())
	assert.LessOrEqual(t, len(res.Recommendations), 10)
}

func TestScan_Tier2FiltersAndBounds(t *testing.T) {
	snap := feed.NewMemorySnapshot()
	scores := make(map[string]float64)
	for i := 0; i < 20; i++ {
		id := string(rune('A'+i)) + "AAUSD"
		snap.Set(passingTicker(id, 5_000_000))
		scores[id] = float64(40 + i*3) // 40..97, some below MinScore 55
	}

	comp := &stubComputer{scores: scores}
	scanner := newTestScanner(snap, comp, testScanConfig())

	res, err := scanner.Scan(context.Background(), Options{})
	require.NoError(t, err)

	// 40,43,...,52 fall under MinScore; 15 pass; tier2 caps at 12.
	assert.Equal(t, 12, res.Tier2Survivors)
	assert.True(t, res.Truncated)
	require.Len(t, res.Recommendations, 10)

	for i := 1; i < len(res.Recommendations); i++ {
		assert.GreaterOrEqual(t, res.Recommendations[i-1].Score, res.Recommendations[i].Score,
			"recommendations must be ranked best-first")
	}
	for _, rec := range res.Recommendations {
		assert.GreaterOrEqual(t, rec.Score, 55.0)
	}
}

func TestScan_RepeatScansAreIdentical(t *testing.T) {
	snap := feed.NewMemorySnapshot()
	snap.PopulateSynthetic(300, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	scores := make(map[string]float64)
	for _, tk := range snap.All() {
		scores[tk.AssetID] = 30 + 70*float64(len(tk.AssetID)%7)/7 + float64(tk.AssetID[0]-'A')
	}

	first, err := newTestScanner(snap, &stubComputer{scores: scores}, testScanConfig()).
		Scan(context.Background(), Options{})
	require.NoError(t, err)
	second, err := newTestScanner(snap, &stubComputer{scores: scores}, testScanConfig()).
		Scan(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, first.Recommendations, second.Recommendations,
		"unchanged universe and scores must produce identical rankings")
}

func TestScan_DeadlineProducesPartialResult(t *testing.T) {
	snap := feed.NewMemorySnapshot()
	for i := 0; i < 10; i++ {
		snap.Set(passingTicker(string(rune('A'+i))+"AAUSD", 5_000_000))
	}

	cfg := testScanConfig()
	comp := &stubComputer{block: true}
	scanner := newTestScanner(snap, comp, cfg)

	start := time.Now()
	res, err := scanner.Scan(context.Background(), Options{DeadlineMS: cfg.SafetyMarginMS + 300})
	elapsed := time.Since(start)

	require.NoError(t, err, "a timeout is a partial result, never a failure")
	assert.True(t, res.TimedOut)
	assert.Equal(t, StateTimeout, res.State)
	assert.Empty(t, res.Recommendations)
	assert.Less(t, elapsed, 3*time.Second, "the scan must honor its wall-clock budget")
}

func TestScan_TinyDeadlineSkipsScoring(t *testing.T) {
	snap := feed.NewMemorySnapshot()
	snap.Set(passingTicker("AAAUSD", 5_000_000))

	comp := &stubComputer{}
	scanner := newTestScanner(snap, comp, testScanConfig())

	res, err := scanner.Scan(context.Background(), Options{DeadlineMS: 1})
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.Equal(t, StateTimeout, res.State)
	assert.Equal(t, 1, res.Tier1Survivors)
	assert.Equal(t, int64(0), comp.calls.Load())
	assert.Empty(t, res.Recommendations)
}

func TestScan_FatalErrorAborts(t *testing.T) {
	snap := feed.NewMemorySnapshot()
	snap.Set(passingTicker("AAAUSD", 5_000_000))
	snap.Set(passingTicker("BBBUSD", 5_000_000))

	comp := &stubComputer{
		errs: map[string]error{
			"AAAUSD": errs.New(errs.KindAuth, "stub.compute", errors.New("bad key")),
		},
	}
	scanner := newTestScanner(snap, comp, testScanConfig())

	_, err := scanner.Scan(context.Background(), Options{})
	require.Error(t, err)
	assert.Equal(t, errs.KindAuth, errs.KindOf(err))
}

func TestScan_AbsorbableErrorDropsAsset(t *testing.T) {
	snap := feed.NewMemorySnapshot()
	snap.Set(passingTicker("AAAUSD", 5_000_000))
	snap.Set(passingTicker("BBBUSD", 5_000_000))

	comp := &stubComputer{
		errs: map[string]error{
			"AAAUSD": errs.New(errs.KindNetwork, "stub.compute", errors.New("refused")),
		},
	}
	scanner := newTestScanner(snap, comp, testScanConfig())

	res, err := scanner.Scan(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, "BBBUSD", res.Recommendations[0].AssetID)
}

func TestScan_FinalLimitOverride(t *testing.T) {
	snap := feed.NewMemorySnapshot()
	for i := 0; i < 10; i++ {
		snap.Set(passingTicker(string(rune('A'+i))+"AAUSD", 5_000_000))
	}

	comp := &stubComputer{}
	scanner := newTestScanner(snap, comp, testScanConfig())

	res, err := scanner.Scan(context.Background(), Options{FinalLimit: 3})
	require.NoError(t, err)

	assert.Len(t, res.Recommendations, 3)
	assert.True(t, res.Truncated)
}

func TestScan_MatchesSingleAssetPath(t *testing.T) {
	cfg := config.Default()
	cfg.Source = config.SourceConfig{RPS: 1000, Burst: 1000, CallTimeoutMS: 1000, BreakerMaxFail: 100}
	cfg.Scan.Tier2.MinScore = 0 // keep every survivor so each can be cross-checked

	version, err := cfg.ScoringVersion()
	require.NoError(t, err)
	scorer, err := score.NewScorer(cfg.Scoring, version)
	require.NoError(t, err)

	m := metrics.New()
	mgr := cache.NewManager(cfg.Coherency, m)
	t.Cleanup(mgr.Stop)
	rec := provenance.NewRecorder(version, provenance.NewMemorySink(0), 256, m)
	t.Cleanup(rec.Close)
	client := source.NewClient(source.NewSyntheticAdapter(), cfg.Source, m)
	pipe, err := pipeline.New(cfg, mgr, scorer, rec, client)
	require.NoError(t, err)

	snap := feed.NewMemorySnapshot()
	for _, id := range []string{"BTCUSD", "ETHUSD", "SOLUSD", "ADAUSD", "DOTUSD"} {
		snap.Set(passingTicker(id, 5_000_000))
	}

	warmer := warm.New(pipe, config.WarmerConfig{MaxFanOut: 4, FetchTimeoutMS: 1000})
	scanner := New(snap, warmer, pipe, cfg.Scan, 4, m)

	res, err := scanner.Scan(context.Background(), Options{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Recommendations)

	// Every ranked score must equal what the single-asset path reports for
	// the same still-cached inputs.
	for _, summary := range res.Recommendations {
		sig, err := pipe.ComputeSignal(context.Background(), summary.AssetID)
		require.NoError(t, err)
		assert.Equal(t, sig.Result.Score, summary.Score,
			"scan and single-asset answers diverged for %s", summary.AssetID)
		assert.Equal(t, sig.Result.Verdict, summary.Verdict)
	}
}

func TestScan_JobIDsAreUnique(t *testing.T) {
	snap := feed.NewMemorySnapshot()
	snap.Set(passingTicker("AAAUSD", 5_000_000))
	scanner := newTestScanner(snap, &stubComputer{}, testScanConfig())

	a, err := scanner.Scan(context.Background(), Options{})
	require.NoError(t, err)
	b, err := scanner.Scan(context.Background(), Options{})
	require.NoError(t, err)

	assert.NotEqual(t, a.JobID, b.JobID)
}
