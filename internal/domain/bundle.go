package domain

import "time"

// Field identifies one of the four metric groups feeding a bundle.
type Field string

const (
	FieldVolumeProfile  Field = "volume_profile"
	FieldConsolidation  Field = "consolidation"
	FieldSellPressure   Field = "sell_pressure"
	FieldOrderbookDepth Field = "orderbook_depth"
)

// AllFields returns every bundle field in canonical order.
func AllFields() []Field {
	return []Field{FieldVolumeProfile, FieldConsolidation, FieldSellPressure, FieldOrderbookDepth}
}

// CoherencyStatus describes how trustworthy a bundle's observation window is.
type CoherencyStatus string

const (
	StatusCoherent CoherencyStatus = "COHERENT"
	StatusStale    CoherencyStatus = "STALE"
	StatusPartial  CoherencyStatus = "PARTIAL"
)

// VolumeProfile captures recent trade volume split by aggressor side.
type VolumeProfile struct {
	BuyRatio    float64 `json:"buy_ratio"`
	SellRatio   float64 `json:"sell_ratio"`
	TotalVolume float64 `json:"total_volume"`
}

// Consolidation captures how tightly price has ranged over recent candles.
type Consolidation struct {
	PriceRangePct float64 `json:"price_range_pct"`
	CandleCount   int     `json:"candle_count"`
}

// SellPressureTrend captures whether selling pressure is building or decaying.
type SellPressureTrend struct {
	Current float64 `json:"current"`
	Prior   float64 `json:"prior"`
	Delta   float64 `json:"delta"`
}

// OrderbookDepth captures bid/ask depth imbalance near the touch.
type OrderbookDepth struct {
	BidAskRatio float64 `json:"bid_ask_ratio"`
	DepthUSD    float64 `json:"depth_usd"`
}

// FieldObservation records when and from which fetch epoch a field was taken.
type FieldObservation struct {
	ObservedAt time.Time `json:"observed_at"`
	Version    string    `json:"version"`
	Available  bool      `json:"available"`
	CacheHit   bool      `json:"cache_hit"`
}

// MetricBundle is the coherent input to one scoring computation for one
// asset. Nil field pointers mean the upstream for that field was unavailable
// when the bundle was assembled.
type MetricBundle struct {
	AssetID    string    `json:"asset_id"`
	ObservedAt time.Time `json:"observed_at"`

	VolumeProfile  *VolumeProfile     `json:"volume_profile,omitempty"`
	Consolidation  *Consolidation     `json:"consolidation,omitempty"`
	SellPressure   *SellPressureTrend `json:"sell_pressure_trend,omitempty"`
	OrderbookDepth *OrderbookDepth    `json:"orderbook_depth,omitempty"`

	Observations map[Field]FieldObservation `json:"observations"`
	Status       CoherencyStatus            `json:"status"`
}

// MissingFields returns the fields with no usable observation.
func (b *MetricBundle) MissingFields() []Field {
	var missing []Field
	for _, f := range AllFields() {
		obs, ok := b.Observations[f]
		if !ok || !obs.Available {
			missing = append(missing, f)
		}
	}
	return missing
}

// AgeMS returns the age of the bundle's oldest available field relative to now.
func (b *MetricBundle) AgeMS(now time.Time) int64 {
	var oldest time.Time
	for _, obs := range b.Observations {
		if !obs.Available {
			continue
		}
		if oldest.IsZero() || obs.ObservedAt.Before(oldest) {
			oldest = obs.ObservedAt
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return now.Sub(oldest).Milliseconds()
}

// ObservationSkewMS returns the spread between the newest and oldest
// available field observations. A coherent bundle keeps this within the
// group TTL.
func (b *MetricBundle) ObservationSkewMS() int64 {
	var oldest, newest time.Time
	for _, obs := range b.Observations {
		if !obs.Available {
			continue
		}
		if oldest.IsZero() || obs.ObservedAt.Before(oldest) {
			oldest = obs.ObservedAt
		}
		if newest.IsZero() || obs.ObservedAt.After(newest) {
			newest = obs.ObservedAt
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return newest.Sub(oldest).Milliseconds()
}
