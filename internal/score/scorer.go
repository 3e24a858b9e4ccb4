// Package score implements the canonical scoring function: the single place
// in the codebase where an accumulation score is computed. Every caller,
// whether a one-off signal query or the bulk scanner, goes through
// Scorer.Score, so two callers holding the same bundle cannot diverge.
package score

import (
	"fmt"
	"math"

	"github.com/coldquant/accumscan/internal/config"
	"github.com/coldquant/accumscan/internal/domain"
	"github.com/coldquant/accumscan/internal/errs"
)

// Scorer is a pure scoring engine. The configuration is copied at
// construction and never consulted again, so a live config reload produces a
// new Scorer (and a new version stamp) instead of mutating this one.
type Scorer struct {
	weights  config.PillarWeights
	verdicts config.VerdictBoundaries
	shape    config.PillarShape
	minCand  int
	version  string
}

// NewScorer builds a scorer from the scoring config and its version stamp.
func NewScorer(cfg config.ScoringConfig, version string) (*Scorer, error) {
	sum := cfg.Weights.Volume + cfg.Weights.Consolidation + cfg.Weights.SellPressure + cfg.Weights.Depth
	if math.Abs(sum-1.0) > 0.001 {
		return nil, fmt.Errorf("pillar weights sum to %.4f, expected 1.0", sum)
	}
	return &Scorer{
		weights:  cfg.Weights,
		verdicts: cfg.Verdicts,
		shape:    cfg.Shape,
		minCand:  cfg.MinCandleCount,
		version:  version,
	}, nil
}

// Version returns the scoring version stamp recorded in provenance.
func (s *Scorer) Version() string { return s.version }

// Score maps a metric bundle to a deterministic ScoreResult. It performs no
// I/O and no cache access; the only failure mode is an internal calculation
// bug, reported as a CALCULATION error rather than a plausible-looking score.
func (s *Scorer) Score(b *domain.MetricBundle) (domain.ScoreResult, error) {
	if b == nil {
		return domain.ScoreResult{}, errs.New(errs.KindCalculation, "score", fmt.Errorf("nil bundle"))
	}

	var neutralFilled []string

	volume, ok := volumePillar(b.VolumeProfile, s.shape)
	if !ok {
		neutralFilled = append(neutralFilled, domain.PillarVolume)
	}
	consolidation, ok := consolidationPillar(b.Consolidation, s.shape, s.minCand)
	if !ok {
		neutralFilled = append(neutralFilled, domain.PillarConsolidation)
	}
	sellPressure, ok := sellPressurePillar(b.SellPressure, s.shape)
	if !ok {
		neutralFilled = append(neutralFilled, domain.PillarSellPressure)
	}
	depth, ok := depthPillar(b.OrderbookDepth, s.shape)
	if !ok {
		neutralFilled = append(neutralFilled, domain.PillarDepth)
	}

	combined := s.weights.Volume*volume +
		s.weights.Consolidation*consolidation +
		s.weights.SellPressure*sellPressure +
		s.weights.Depth*depth
	combined = clamp(combined, 0, 100)

	if math.IsNaN(combined) {
		return domain.ScoreResult{}, errs.New(errs.KindCalculation, "score",
			fmt.Errorf("combined score is NaN for %s", b.AssetID)).WithAsset(b.AssetID)
	}

	return domain.ScoreResult{
		AssetID: b.AssetID,
		Score:   combined,
		Verdict: s.verdict(combined),
		Pillars: domain.PillarScores{
			Volume:        volume,
			Consolidation: consolidation,
			SellPressure:  sellPressure,
			Depth:         depth,
		},
		NeutralFilled: neutralFilled,
	}, nil
}

func (s *Scorer) verdict(score float64) domain.Verdict {
	switch {
	case score >= s.verdicts.StrongAccumulation:
		return domain.VerdictStrongAccumulation
	case score >= s.verdicts.Accumulation:
		return domain.VerdictAccumulation
	case score >= s.verdicts.Neutral:
		return domain.VerdictNeutral
	case score >= s.verdicts.Distribution:
		return domain.VerdictDistribution
	default:
		return domain.VerdictStrongDistribution
	}
}
