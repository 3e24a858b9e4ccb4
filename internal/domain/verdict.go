package domain

// Verdict is the qualitative label derived from the combined score.
type Verdict string

const (
	VerdictStrongAccumulation Verdict = "STRONG_ACCUMULATION"
	VerdictAccumulation       Verdict = "ACCUMULATION"
	VerdictNeutral            Verdict = "NEUTRAL"
	VerdictDistribution       Verdict = "DISTRIBUTION"
	VerdictStrongDistribution Verdict = "STRONG_DISTRIBUTION"
)

// Pillar names used in pillar score maps and provenance.
const (
	PillarVolume        = "volume"
	PillarConsolidation = "consolidation"
	PillarSellPressure  = "sell_pressure"
	PillarDepth         = "depth"
)

// PillarScores holds the per-pillar sub-scores, each in [0,100].
type PillarScores struct {
	Volume        float64 `json:"volume"`
	Consolidation float64 `json:"consolidation"`
	SellPressure  float64 `json:"sell_pressure"`
	Depth         float64 `json:"depth"`
}

// Top returns the name of the highest-scoring pillar. Ties resolve in the
// canonical pillar order so repeated calls are deterministic.
func (p PillarScores) Top() string {
	top, best := PillarVolume, p.Volume
	if p.Consolidation > best {
		top, best = PillarConsolidation, p.Consolidation
	}
	if p.SellPressure > best {
		top, best = PillarSellPressure, p.SellPressure
	}
	if p.Depth > best {
		top = PillarDepth
	}
	return top
}

// ScoreResult is the canonical, deterministic scoring output. The same
// MetricBundle always yields the same ScoreResult regardless of call path.
type ScoreResult struct {
	AssetID string       `json:"asset_id"`
	Score   float64      `json:"score"`
	Verdict Verdict      `json:"verdict"`
	Pillars PillarScores `json:"pillar_scores"`

	// NeutralFilled lists pillars that contributed the neutral midpoint
	// because their input was missing or unusable.
	NeutralFilled []string `json:"neutral_filled,omitempty"`
}
