// Package warm implements the cache warmer: a bounded-concurrency prefetch
// pass that populates the coherency manager for a set of assets ahead of a
// bulk scan, so Tier-2 scoring reads warm, mutually coherent data instead of
// racing cold fetches per asset.
package warm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/coldquant/accumscan/internal/config"
)

// AssetWarmer populates every coherency group for one asset.
type AssetWarmer interface {
	WarmAsset(ctx context.Context, assetID string) error
}

// Result summarizes one warming pass.
type Result struct {
	Requested   int           `json:"requested"`
	Warmed      int           `json:"warmed"`
	Failed      int           `json:"failed"`
	DeadlineHit bool          `json:"deadline_hit"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Warmer fans warming requests out to upstream with a fixed concurrency
// limit protecting provider rate limits.
type Warmer struct {
	loader       AssetWarmer
	maxFanOut    int
	fetchTimeout time.Duration
}

// New builds a warmer around the pipeline's warm path.
func New(loader AssetWarmer, cfg config.WarmerConfig) *Warmer {
	fanOut := cfg.MaxFanOut
	if fanOut <= 0 {
		fanOut = 8
	}
	timeout := time.Duration(cfg.FetchTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Warmer{loader: loader, maxFanOut: fanOut, fetchTimeout: timeout}
}

// Warm populates the cache for the given assets, returning as soon as every
// asset is warm or the context deadline fires. Stragglers past the deadline
// are abandoned, not awaited; the assets they cover are simply scored
// PARTIAL by the stage that follows.
func (w *Warmer) Warm(ctx context.Context, assetIDs []string) Result {
	start := time.Now()
	var warmed, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.maxFanOut)

	// Submission happens off the caller's goroutine: once the fan-out limit
	// is saturated by slow loaders, g.Go blocks, and the deadline select
	// below must stay responsive regardless.
	done := make(chan struct{})
	go func() {
		for _, assetID := range assetIDs {
			assetID := assetID
			g.Go(func() error {
				if gctx.Err() != nil {
					failed.Add(1)
					return nil
				}

				// Each asset's fetches carry their own timeout, clamped
				// below whatever job budget remains.
				assetCtx, cancel := context.WithTimeout(gctx, w.fetchTimeout)
				err := w.loader.WarmAsset(assetCtx, assetID)
				cancel()

				if err != nil {
					failed.Add(1)
					log.Debug().Str("asset", assetID).Err(err).Msg("asset warm failed")
					return nil
				}
				warmed.Add(1)
				return nil
			})
		}
		_ = g.Wait()
		close(done)
	}()

	deadlineHit := false
	select {
	case <-done:
	case <-ctx.Done():
		deadlineHit = true
	}

	res := Result{
		Requested:   len(assetIDs),
		Warmed:      int(warmed.Load()),
		Failed:      int(failed.Load()),
		DeadlineHit: deadlineHit,
		Elapsed:     time.Since(start),
	}

	log.Info().Int("requested", res.Requested).Int("warmed", res.Warmed).
		Int("failed", res.Failed).Bool("deadline_hit", res.DeadlineHit).
		Dur("elapsed", res.Elapsed).Msg("cache warm pass complete")
	return res
}
