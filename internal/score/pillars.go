package score

import (
	"math"

	"github.com/coldquant/accumscan/internal/config"
	"github.com/coldquant/accumscan/internal/domain"
)

// neutralScore is the contribution of a pillar whose input is missing or
// unusable. Missing data must never read as distribution pressure.
const neutralScore = 50.0

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// usable rejects NaN/Inf inputs so malformed upstream payloads degrade to
// the neutral path instead of poisoning the combined score.
func usable(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// volumePillar rewards buy-side skew above the 0.5 midpoint, saturating at
// the configured ratio. Zero total volume carries no signal.
func volumePillar(vp *domain.VolumeProfile, shape config.PillarShape) (float64, bool) {
	if vp == nil || !usable(vp.BuyRatio, vp.TotalVolume) {
		return neutralScore, false
	}
	if vp.TotalVolume <= 0 {
		return neutralScore, false
	}
	span := shape.VolumeSaturationRatio - 0.5
	score := neutralScore + (vp.BuyRatio-0.5)/span*50.0
	return clamp(score, 0, 100), true
}

// consolidationPillar rewards tight price ranges. Below the minimum candle
// count the range estimate is unreliable and contributes neutrally.
func consolidationPillar(c *domain.Consolidation, shape config.PillarShape, minCandles int) (float64, bool) {
	if c == nil || !usable(c.PriceRangePct) || c.PriceRangePct < 0 {
		return neutralScore, false
	}
	if c.CandleCount < minCandles {
		return neutralScore, false
	}

	r := c.PriceRangePct
	switch {
	case r <= shape.TightRangePct:
		return 100, true
	case r <= shape.NeutralRangePct:
		frac := (r - shape.TightRangePct) / (shape.NeutralRangePct - shape.TightRangePct)
		return 100 - frac*50.0, true
	case r <= shape.WideRangePct:
		frac := (r - shape.NeutralRangePct) / (shape.WideRangePct - shape.NeutralRangePct)
		return 50.0 - frac*50.0, true
	default:
		return 0, true
	}
}

// sellPressurePillar rewards decaying sell pressure: a negative delta scores
// above the midpoint, saturating at the configured absolute delta.
func sellPressurePillar(sp *domain.SellPressureTrend, shape config.PillarShape) (float64, bool) {
	if sp == nil || !usable(sp.Delta) {
		return neutralScore, false
	}
	score := neutralScore + (-sp.Delta/shape.SellPressureSaturationDelta)*50.0
	return clamp(score, 0, 100), true
}

// depthPillar rewards bid-heavy books: ratio 1.0 is balanced, the saturation
// ratio scores 100, an empty bid side scores toward 0.
func depthPillar(od *domain.OrderbookDepth, shape config.PillarShape) (float64, bool) {
	if od == nil || !usable(od.BidAskRatio) || od.BidAskRatio < 0 {
		return neutralScore, false
	}
	span := shape.DepthSaturationRatio - 1.0
	score := neutralScore + (od.BidAskRatio-1.0)/span*50.0
	return clamp(score, 0, 100), true
}
