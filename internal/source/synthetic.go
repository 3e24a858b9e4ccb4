package source

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/coldquant/accumscan/internal/domain"
	"github.com/coldquant/accumscan/internal/errs"
)

// SyntheticAdapter serves deterministic pseudo-market data derived from the
// asset symbol. It backs offline scans and the demo CLI path: the same asset
// always yields the same metrics, which makes whole-pipeline runs
// reproducible without upstream access.
type SyntheticAdapter struct {
	name string
}

// NewSyntheticAdapter creates a synthetic upstream.
func NewSyntheticAdapter() *SyntheticAdapter {
	return &SyntheticAdapter{name: "synthetic"}
}

func (s *SyntheticAdapter) Name() string { return s.name }

// Fetch returns deterministic metrics for the asset/field pair.
func (s *SyntheticAdapter) Fetch(_ context.Context, assetID string, field domain.Field) (interface{}, error) {
	u := unit(assetID, string(field)) // stable in [0,1)

	switch field {
	case domain.FieldVolumeProfile:
		buy := 0.30 + 0.55*u
		return &domain.VolumeProfile{
			BuyRatio:    buy,
			SellRatio:   1 - buy,
			TotalVolume: 500_000 + u*50_000_000,
		}, nil
	case domain.FieldConsolidation:
		return &domain.Consolidation{
			PriceRangePct: 0.5 + u*18.0,
			CandleCount:   24,
		}, nil
	case domain.FieldSellPressure:
		delta := (u - 0.5) * 1.2
		return &domain.SellPressureTrend{
			Current: 0.5 + delta/2,
			Prior:   0.5 - delta/2,
			Delta:   delta,
		}, nil
	case domain.FieldOrderbookDepth:
		return &domain.OrderbookDepth{
			BidAskRatio: 0.4 + u*2.0,
			DepthUSD:    100_000 + u*10_000_000,
		}, nil
	default:
		return nil, errs.New(errs.KindDataMalformed, "synthetic.fetch",
			fmt.Errorf("unknown field %q", field))
	}
}

// unit hashes (asset, salt) into [0,1).
func unit(assetID, salt string) float64 {
	h := fnv.New64a()
	h.Write([]byte(assetID))
	h.Write([]byte{'/'})
	h.Write([]byte(salt))
	return float64(h.Sum64()%100_000) / 100_000
}
