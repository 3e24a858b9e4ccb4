// Package feed maintains the lightweight per-asset metadata snapshot the
// Tier-1 prefilter reads. The snapshot is fed either by a websocket ticker
// stream or, for offline runs and tests, by a deterministic synthetic
// universe; either way Tier-1 never issues per-asset network calls.
package feed

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

// Ticker is one asset's cached lightweight metadata.
type Ticker struct {
	AssetID     string    `json:"asset_id"`
	PriceUSD    float64   `json:"price_usd"`
	Volume24h   float64   `json:"volume_24h_usd"`
	FundingRate float64   `json:"funding_rate"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot exposes the current metadata universe.
type Snapshot interface {
	All() []Ticker
	Get(assetID string) (Ticker, bool)
}

// MemorySnapshot is the shared in-memory snapshot implementation.
type MemorySnapshot struct {
	mu      sync.RWMutex
	tickers map[string]Ticker
}

// NewMemorySnapshot creates an empty snapshot.
func NewMemorySnapshot() *MemorySnapshot {
	return &MemorySnapshot{tickers: make(map[string]Ticker)}
}

// Set inserts or replaces a ticker.
func (s *MemorySnapshot) Set(t Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickers[t.AssetID] = t
}

// Get returns the ticker for one asset.
func (s *MemorySnapshot) Get(assetID string) (Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickers[assetID]
	return t, ok
}

// All returns every ticker sorted by asset ID so iteration order is
// deterministic across calls.
func (s *MemorySnapshot) All() []Ticker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Ticker, 0, len(s.tickers))
	for _, t := range s.tickers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// Len returns the universe size.
func (s *MemorySnapshot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tickers)
}

// PopulateSynthetic fills the snapshot with n deterministic tickers. Roughly
// a third of the universe fails the default Tier-1 cutoffs, which keeps scan
// funnels realistic in offline mode.
func (s *MemorySnapshot) PopulateSynthetic(n int, now time.Time) {
	for i := 0; i < n; i++ {
		id := syntheticAssetID(i)
		u := hashUnit(id)

		volume := 100_000 + u*200_000_000
		if i%3 == 0 {
			volume = 50_000 + u*900_000 // below the default volume floor
		}
		funding := (u - 0.5) * 0.004
		if i%17 == 0 {
			funding = 0.05 // implausible funding, filtered by sanity band
		}

		s.Set(Ticker{
			AssetID:     id,
			PriceUSD:    0.01 + u*60_000,
			Volume24h:   volume,
			FundingRate: funding,
			UpdatedAt:   now,
		})
	}
}

func syntheticAssetID(i int) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	a := letters[i%26]
	b := letters[(i/26)%26]
	c := letters[(i/676)%26]
	return string([]byte{a, b, c}) + "USD"
}

func hashUnit(s string) float64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return float64(h.Sum64()%100_000) / 100_000
}
