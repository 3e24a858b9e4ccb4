// Package pipeline wires the coherency manager, the canonical scorer and
// the provenance recorder into the one and only scoring call path. Both the
// single-asset operation and the bulk scanner's Tier-2 go through
// ComputeSignal, which is what makes their answers identical by
// construction.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coldquant/accumscan/internal/cache"
	"github.com/coldquant/accumscan/internal/config"
	"github.com/coldquant/accumscan/internal/domain"
	"github.com/coldquant/accumscan/internal/errs"
	"github.com/coldquant/accumscan/internal/provenance"
	"github.com/coldquant/accumscan/internal/score"
	"github.com/coldquant/accumscan/internal/source"
)

// Signal is the complete answer for one asset: the canonical score plus the
// provenance record explaining exactly what produced it.
type Signal struct {
	Result     domain.ScoreResult `json:"result"`
	Provenance provenance.Record  `json:"provenance"`
}

// Pipeline assembles coherent bundles and scores them.
type Pipeline struct {
	groups   map[domain.Field]config.GroupConfig
	cache    *cache.Manager
	scorer   *score.Scorer
	recorder *provenance.Recorder
	client   *source.Client
	now      func() time.Time
}

// New builds the pipeline. Every bundle field must be mapped to a coherency
// group by the configuration; config validation guarantees it.
func New(cfg *config.Config, mgr *cache.Manager, scorer *score.Scorer, rec *provenance.Recorder, client *source.Client) (*Pipeline, error) {
	groups := make(map[domain.Field]config.GroupConfig, len(domain.AllFields()))
	for _, f := range domain.AllFields() {
		g, ok := cfg.GroupForField(f)
		if !ok {
			return nil, fmt.Errorf("field %s has no coherency group", f)
		}
		groups[f] = g
	}
	return &Pipeline{
		groups:   groups,
		cache:    mgr,
		scorer:   scorer,
		recorder: rec,
		client:   client,
		now:      time.Now,
	}, nil
}

// ComputeSignal assembles a coherent bundle for the asset, scores it and
// records provenance. Absorbable upstream failures degrade the bundle to
// PARTIAL; only AUTH and CALCULATION failures surface as errors.
func (p *Pipeline) ComputeSignal(ctx context.Context, assetID string) (*Signal, error) {
	bundle, err := p.assembleBundle(ctx, assetID)
	if err != nil {
		return nil, err
	}

	result, err := p.scorer.Score(bundle)
	if err != nil {
		// A calculation failure means the canonical function itself is
		// broken. It must never be papered over with a zero score.
		log.Error().Str("asset", assetID).Err(err).Msg("canonical scoring failed")
		return nil, err
	}

	rec := p.recorder.Record(bundle, result)

	log.Debug().Str("asset", assetID).Float64("score", result.Score).
		Str("verdict", string(result.Verdict)).Str("status", string(bundle.Status)).
		Msg("signal computed")

	return &Signal{Result: result, Provenance: rec}, nil
}

// WarmAsset populates every coherency group for the asset. Used by the cache
// warmer ahead of bulk scans; errors on individual fields are absorbed the
// same way ComputeSignal absorbs them.
func (p *Pipeline) WarmAsset(ctx context.Context, assetID string) error {
	var firstFatal error
	for _, field := range domain.AllFields() {
		if _, _, err := p.fetchField(ctx, assetID, field); err != nil {
			if errs.Fatal(err) && firstFatal == nil {
				firstFatal = err
			}
		}
	}
	return firstFatal
}

func (p *Pipeline) fetchField(ctx context.Context, assetID string, field domain.Field) (interface{}, cache.Info, error) {
	g := p.groups[field]
	return p.cache.GetOrFetch(ctx, g.Name, assetID, string(field), func(ctx context.Context) (interface{}, error) {
		return p.client.Fetch(ctx, assetID, field)
	})
}

func (p *Pipeline) assembleBundle(ctx context.Context, assetID string) (*domain.MetricBundle, error) {
	bundle := &domain.MetricBundle{
		AssetID:      assetID,
		ObservedAt:   p.now(),
		Observations: make(map[domain.Field]domain.FieldObservation, len(domain.AllFields())),
	}

	partial := false
	for _, field := range domain.AllFields() {
		value, info, err := p.fetchField(ctx, assetID, field)
		if err != nil {
			if errs.Fatal(err) {
				return nil, err
			}
			partial = true
			bundle.Observations[field] = domain.FieldObservation{Available: false}
			continue
		}

		if !setField(bundle, field, value) {
			// Wrong payload shape and non-finite values are malformed
			// data: treated as a missing field, never as a scoring
			// input, and the bundle degrades to PARTIAL.
			log.Warn().Str("asset", assetID).Str("field", string(field)).
				Msg("malformed payload from upstream, treating field as missing")
			partial = true
			bundle.Observations[field] = domain.FieldObservation{Available: false}
			continue
		}

		bundle.Observations[field] = domain.FieldObservation{
			ObservedAt: info.ObservedAt,
			Version:    info.Version,
			Available:  true,
			CacheHit:   info.Hit,
		}
	}

	bundle.Status = p.bundleStatus(assetID, partial)
	return bundle, nil
}

// bundleStatus derives the coherency status: any absorbed failure makes the
// bundle PARTIAL, an observation-window violation makes it STALE, otherwise
// it is COHERENT.
func (p *Pipeline) bundleStatus(assetID string, partial bool) domain.CoherencyStatus {
	if partial {
		return domain.StatusPartial
	}
	seen := make(map[string]struct{}, len(p.groups))
	for _, g := range p.groups {
		if _, done := seen[g.Name]; done {
			continue
		}
		seen[g.Name] = struct{}{}
		if !p.cache.IsCoherent(g.Name, assetID) {
			return domain.StatusStale
		}
	}
	return domain.StatusCoherent
}

func setField(b *domain.MetricBundle, field domain.Field, value interface{}) bool {
	switch field {
	case domain.FieldVolumeProfile:
		v, ok := value.(*domain.VolumeProfile)
		if !ok || !finite(v.BuyRatio, v.SellRatio, v.TotalVolume) {
			return false
		}
		b.VolumeProfile = v
	case domain.FieldConsolidation:
		v, ok := value.(*domain.Consolidation)
		if !ok || !finite(v.PriceRangePct) {
			return false
		}
		b.Consolidation = v
	case domain.FieldSellPressure:
		v, ok := value.(*domain.SellPressureTrend)
		if !ok || !finite(v.Current, v.Prior, v.Delta) {
			return false
		}
		b.SellPressure = v
	case domain.FieldOrderbookDepth:
		v, ok := value.(*domain.OrderbookDepth)
		if !ok || !finite(v.BidAskRatio, v.DepthUSD) {
			return false
		}
		b.OrderbookDepth = v
	default:
		return false
	}
	return true
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
