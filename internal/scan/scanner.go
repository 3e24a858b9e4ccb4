// Package scan implements the tiered scanner: a progressive filtering
// funnel that ranks a large asset universe under one authoritative
// wall-clock deadline. Tier 1 prefilters on cached metadata with no network
// calls, Tier 2 warms and scores the survivors through the canonical
// pipeline, Tier 3 projects a compact ranked list sized for a constrained
// response budget.
package scan

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/coldquant/accumscan/internal/config"
	"github.com/coldquant/accumscan/internal/domain"
	"github.com/coldquant/accumscan/internal/errs"
	"github.com/coldquant/accumscan/internal/feed"
	"github.com/coldquant/accumscan/internal/metrics"
	"github.com/coldquant/accumscan/internal/pipeline"
	"github.com/coldquant/accumscan/internal/warm"
)

// State names the scanner's state machine stages.
type State string

const (
	StateInit    State = "INIT"
	StateTier1   State = "TIER1_FILTER"
	StateTier2   State = "TIER2_SCORE"
	StateTier3   State = "TIER3_FORMAT"
	StateDone    State = "DONE"
	StateTimeout State = "TIMEOUT"
)

// SignalComputer is the canonical scoring path shared with single-asset
// queries.
type SignalComputer interface {
	ComputeSignal(ctx context.Context, assetID string) (*pipeline.Signal, error)
}

// Options are the per-invocation scan parameters; zero values fall back to
// configuration defaults.
type Options struct {
	UniverseSize int
	FinalLimit   int
	DeadlineMS   int
}

// Summary is the compact Tier-3 projection of one scored asset.
type Summary struct {
	AssetID   string         `json:"asset_id"`
	Score     float64        `json:"score"`
	Verdict   domain.Verdict `json:"verdict"`
	TopPillar string         `json:"top_pillar"`
}

// Result is the bulk-scan response. It is always a valid ranked list; the
// counters let callers distinguish "found nothing" from "ran out of time".
type Result struct {
	JobID           string        `json:"job_id"`
	Recommendations []Summary     `json:"recommendations"`
	UniverseSize    int           `json:"universe_size"`
	Tier1Survivors  int           `json:"tier1_survivors"`
	Tier2Survivors  int           `json:"tier2_survivors"`
	Truncated       bool          `json:"truncated"`
	TimedOut        bool          `json:"timed_out"`
	State           State         `json:"state"`
	Elapsed         time.Duration `json:"elapsed"`
}

// Scanner orchestrates the tiers.
type Scanner struct {
	snap        feed.Snapshot
	warmer      *warm.Warmer
	pipe        SignalComputer
	cfg         config.ScanConfig
	concurrency int
	metrics     *metrics.Metrics
	now         func() time.Time
}

// New builds a scanner. Tier-2 scoring shares the warmer's fan-out bound so
// both stages respect the same upstream budget.
func New(snap feed.Snapshot, warmer *warm.Warmer, pipe SignalComputer, cfg config.ScanConfig, concurrency int, m *metrics.Metrics) *Scanner {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Scanner{
		snap:        snap,
		warmer:      warmer,
		pipe:        pipe,
		cfg:         cfg,
		concurrency: concurrency,
		metrics:     m,
		now:         time.Now,
	}
}

// minTierBudget is the least remaining time worth starting a tier with;
// below it the scanner short-circuits to formatting.
const minTierBudget = 100 * time.Millisecond

// Scan runs the full funnel under one absolute deadline. It never fails on
// timeout: whatever Tier-2 results exist are formatted into a partial but
// valid ranked list. Only AUTH and CALCULATION failures abort the scan.
func (s *Scanner) Scan(ctx context.Context, opts Options) (*Result, error) {
	start := s.now()
	job := &Result{
		JobID: uuid.NewString(),
		State: StateInit,
	}

	deadlineMS := opts.DeadlineMS
	if deadlineMS <= 0 {
		deadlineMS = s.cfg.DefaultDeadlineMS
	}
	budget := time.Duration(deadlineMS)*time.Millisecond - time.Duration(s.cfg.SafetyMarginMS)*time.Millisecond
	if budget <= 0 {
		budget = minTierBudget
	}
	ctx, cancel := context.WithDeadline(ctx, start.Add(budget))
	defer cancel()

	finalLimit := opts.FinalLimit
	if finalLimit <= 0 {
		finalLimit = s.cfg.FinalLimit
	}

	log.Info().Str("job", job.JobID).Int("deadline_ms", deadlineMS).
		Int("final_limit", finalLimit).Msg("scan started")

	// TIER1_FILTER: cached metadata only, no network.
	s.transition(job, StateTier1)
	t1Start := s.now()
	survivors := s.tier1(opts.UniverseSize, job)
	s.observeTier("tier1", t1Start, len(survivors))

	// TIER2_SCORE: warm then score through the canonical path.
	var scored []domain.ScoreResult
	if s.remaining(ctx) > minTierBudget {
		s.transition(job, StateTier2)
		t2Start := s.now()
		var err error
		scored, err = s.tier2(ctx, survivors, job)
		if err != nil {
			return nil, err
		}
		s.observeTier("tier2", t2Start, len(scored))
	} else {
		job.TimedOut = true
	}

	// TIER3_FORMAT: always runs, even on a blown budget, so the caller
	// gets a valid partial list instead of a failure.
	s.transition(job, StateTier3)
	s.tier3(scored, finalLimit, job)

	if job.TimedOut {
		s.metrics.ScanTimeouts.Inc()
		job.State = StateTimeout
	} else {
		job.State = StateDone
	}
	job.Elapsed = s.now().Sub(start)

	log.Info().Str("job", job.JobID).Str("state", string(job.State)).
		Int("tier1", job.Tier1Survivors).Int("tier2", job.Tier2Survivors).
		Int("recommendations", len(job.Recommendations)).
		Dur("elapsed", job.Elapsed).Msg("scan finished")
	return job, nil
}

func (s *Scanner) transition(job *Result, next State) {
	log.Debug().Str("job", job.JobID).Str("from", string(job.State)).
		Str("to", string(next)).Msg("scan state transition")
	job.State = next
}

func (s *Scanner) remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return time.Hour
	}
	return time.Until(deadline)
}

// tier1 applies the numeric cutoffs to the cached metadata snapshot and
// bounds the survivor set, preferring the most liquid assets.
func (s *Scanner) tier1(universeSize int, job *Result) []string {
	tickers := s.snap.All()

	if universeSize > 0 && len(tickers) > universeSize {
		// Bound the universe to the most liquid assets, deterministically.
		sortTickers(tickers)
		tickers = tickers[:universeSize]
	}
	job.UniverseSize = len(tickers)

	cut := s.cfg.Tier1
	var survivors []feed.Ticker
	for _, t := range tickers {
		if t.Volume24h < cut.MinVolume24hUSD {
			continue
		}
		if t.PriceUSD < cut.MinPriceUSD {
			continue
		}
		if cut.MaxAbsFundingRate > 0 && abs(t.FundingRate) > cut.MaxAbsFundingRate {
			continue
		}
		survivors = append(survivors, t)
	}

	if len(survivors) > cut.MaxSurvivors {
		sortTickers(survivors)
		survivors = survivors[:cut.MaxSurvivors]
	}

	ids := make([]string, len(survivors))
	for i, t := range survivors {
		ids[i] = t.AssetID
	}
	sort.Strings(ids)

	job.Tier1Survivors = len(ids)
	return ids
}

// tier2 warms the survivors, then scores each through the canonical
// pipeline with bounded concurrency. Assets whose scoring fails with an
// absorbable error are dropped; fatal errors abort the scan.
func (s *Scanner) tier2(ctx context.Context, assetIDs []string, job *Result) ([]domain.ScoreResult, error) {
	if len(assetIDs) == 0 {
		job.Tier2Survivors = 0
		return nil, nil
	}

	s.warmer.Warm(ctx, assetIDs)

	type outcome struct {
		result domain.ScoreResult
		err    error
		ok     bool
	}

	outcomes := make([]outcome, len(assetIDs))
	sem := make(chan struct{}, s.concurrency)
	done := make(chan int, len(assetIDs))

	for i, assetID := range assetIDs {
		i, assetID := i, assetID
		go func() {
			defer func() { done <- i }()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			if ctx.Err() != nil {
				return
			}
			sig, err := s.pipe.ComputeSignal(ctx, assetID)
			if err != nil {
				outcomes[i] = outcome{err: err}
				return
			}
			outcomes[i] = outcome{result: sig.Result, ok: true}
		}()
	}

	for range assetIDs {
		<-done
	}
	if ctx.Err() != nil {
		job.TimedOut = true
	}

	var scored []domain.ScoreResult
	for _, o := range outcomes {
		if o.err != nil {
			if errs.Fatal(o.err) {
				return nil, o.err
			}
			continue
		}
		if o.ok {
			scored = append(scored, o.result)
		}
	}

	sortResults(scored)

	var survivors []domain.ScoreResult
	for _, r := range scored {
		if r.Score >= s.cfg.Tier2.MinScore {
			survivors = append(survivors, r)
		}
	}
	if len(survivors) > s.cfg.Tier2.MaxSurvivors {
		survivors = survivors[:s.cfg.Tier2.MaxSurvivors]
	}

	job.Tier2Survivors = len(survivors)
	return survivors, nil
}

// tier3 projects survivors into the compact response shape. The list is
// already deterministically ordered by tier2.
func (s *Scanner) tier3(scored []domain.ScoreResult, finalLimit int, job *Result) {
	job.Truncated = len(scored) > finalLimit
	if job.Truncated {
		scored = scored[:finalLimit]
	}

	job.Recommendations = make([]Summary, len(scored))
	for i, r := range scored {
		job.Recommendations[i] = Summary{
			AssetID:   r.AssetID,
			Score:     r.Score,
			Verdict:   r.Verdict,
			TopPillar: r.Pillars.Top(),
		}
	}
}

func (s *Scanner) observeTier(tier string, start time.Time, survivors int) {
	s.metrics.ScanDuration.WithLabelValues(tier).Observe(s.now().Sub(start).Seconds())
	s.metrics.TierSurvivors.WithLabelValues(tier).Set(float64(survivors))
}

// sortTickers orders by 24h volume descending, asset ID ascending on ties.
func sortTickers(tickers []feed.Ticker) {
	sort.Slice(tickers, func(i, j int) bool {
		if tickers[i].Volume24h != tickers[j].Volume24h {
			return tickers[i].Volume24h > tickers[j].Volume24h
		}
		return tickers[i].AssetID < tickers[j].AssetID
	})
}

// sortResults orders by score descending, asset ID ascending on ties, so
// repeated scans of an unchanged universe return identical ordering.
func sortResults(results []domain.ScoreResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].AssetID < results[j].AssetID
	})
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
