// Package cache implements the coherency manager: a grouped TTL cache that
// guarantees every member of a coherency group feeding one bundle assembly
// was fetched within one shared window. TTL is a property of the group, not
// of an individual call site, which is what keeps single-asset and bulk
// paths from reading differently aged inputs.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/coldquant/accumscan/internal/config"
	"github.com/coldquant/accumscan/internal/errs"
	"github.com/coldquant/accumscan/internal/metrics"
)

// FetchFunc loads one value from upstream.
type FetchFunc func(ctx context.Context) (interface{}, error)

// Info describes the cache outcome for one key, carried into provenance.
type Info struct {
	Hit        bool      `json:"hit"`
	Available  bool      `json:"available"`
	ObservedAt time.Time `json:"observed_at"`
	Version    string    `json:"version"`
}

type entry struct {
	value     interface{}
	fetchedAt time.Time
	version   string
	available bool
}

// Manager is the coherency manager. Entries are keyed (group, scope, member)
// where scope is the asset and member the bundle field; eager refresh only
// ever touches siblings within the same scope, so assets stay independent.
type Manager struct {
	mu       sync.RWMutex
	groups   map[string]config.GroupConfig
	entries  map[string]*entry
	fetchers map[string]FetchFunc

	sf      singleflight.Group
	metrics *metrics.Metrics
	now     func() time.Time

	sweepEvery time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewManager builds a manager from the static group configuration. Groups
// are never created per request.
func NewManager(cfg config.CoherencyConfig, m *metrics.Metrics) *Manager {
	groups := make(map[string]config.GroupConfig, len(cfg.Groups))
	for _, g := range cfg.Groups {
		groups[g.Name] = g
	}

	sweep := time.Duration(cfg.SweepIntervalSeconds) * time.Second
	if sweep <= 0 {
		sweep = time.Minute
	}

	mgr := &Manager{
		groups:     groups,
		entries:    make(map[string]*entry),
		fetchers:   make(map[string]FetchFunc),
		metrics:    m,
		now:        time.Now,
		sweepEvery: sweep,
		stopCh:     make(chan struct{}),
	}
	go mgr.sweep()
	return mgr
}

// Stop shuts down the expiry sweeper.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func entryKey(group, scope, member string) string {
	return group + "|" + scope + "|" + member
}

// GetOrFetch returns the cached value for (group, scope, member) when it is
// within the group TTL, otherwise fetches it. After a miss-driven fetch, any
// sibling of the same scope older than ttl/2 is eagerly refreshed so a
// bundle assembled immediately afterwards is coherent instead of mixing a
// fresh field with a half-stale one.
func (m *Manager) GetOrFetch(ctx context.Context, group, scope, member string, fetch FetchFunc) (interface{}, Info, error) {
	g, ok := m.groups[group]
	if !ok {
		return nil, Info{}, errs.New(errs.KindCalculation, "cache.get_or_fetch",
			fmt.Errorf("unknown coherency group %q", group))
	}

	key := entryKey(group, scope, member)

	// Snapshot the entry under the lock: markUnavailable mutates entries in
	// place, so no field may be read after the unlock.
	m.mu.Lock()
	m.fetchers[key] = fetch
	now := m.now()
	var (
		fresh  bool
		cached entry
	)
	if e, exists := m.entries[key]; exists {
		cached = *e
		fresh = cached.available && now.Sub(cached.fetchedAt) <= g.TTL()
	}
	m.mu.Unlock()

	if fresh {
		m.metrics.CacheHits.WithLabelValues(group).Inc()
		return cached.value, Info{Hit: true, Available: true, ObservedAt: cached.fetchedAt, Version: cached.version}, nil
	}

	m.metrics.CacheMisses.WithLabelValues(group).Inc()

	value, fetchedAt, err := m.fetchOne(ctx, g, key, fetch)
	if err != nil {
		m.markUnavailable(key)
		return nil, Info{Available: false}, err
	}

	m.refreshStaleSiblings(ctx, g, scope, member)

	info := Info{
		Available:  true,
		ObservedAt: fetchedAt,
		Version:    versionStamp(key, fetchedAt),
	}
	return value, info, nil
}

// fetchOne performs a singleflight-collapsed upstream fetch and stores the
// result. Concurrent requests for the same stale key share one call.
func (m *Manager) fetchOne(ctx context.Context, g config.GroupConfig, key string, fetch FetchFunc) (interface{}, time.Time, error) {
	type fetched struct {
		value interface{}
		at    time.Time
	}

	v, err, _ := m.sf.Do(key, func() (interface{}, error) {
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		at := m.now()
		m.store(key, value, at)
		return fetched{value: value, at: at}, nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	f := v.(fetched)
	return f.value, f.at, nil
}

// refreshStaleSiblings refreshes every same-scope member of the group whose
// age exceeds half the TTL. Refresh failures keep the old value in place;
// only the failed key is at risk of going stale, never its siblings.
func (m *Manager) refreshStaleSiblings(ctx context.Context, g config.GroupConfig, scope, justFetched string) {
	half := g.TTL() / 2
	refreshed := false

	for _, field := range g.Fields {
		if field == justFetched {
			continue
		}
		key := entryKey(g.Name, scope, field)

		m.mu.RLock()
		var (
			exists bool
			age    time.Duration
		)
		if e, ok := m.entries[key]; ok {
			exists = true
			age = m.now().Sub(e.fetchedAt)
		}
		fetch, hasFetcher := m.fetchers[key]
		m.mu.RUnlock()

		if !exists || !hasFetcher || age <= half {
			continue
		}

		refreshed = true
		if _, _, err := m.fetchOne(ctx, g, key, fetch); err != nil {
			m.metrics.StaleServes.WithLabelValues(g.Name).Inc()
			log.Warn().Str("group", g.Name).Str("key", key).Err(err).
				Msg("eager sibling refresh failed, keeping prior value")
		}
	}

	if refreshed {
		m.metrics.EagerRefreshes.WithLabelValues(g.Name).Inc()
	}
}

func (m *Manager) store(key string, value interface{}, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &entry{
		value:     value,
		fetchedAt: at,
		version:   versionStamp(key, at),
		available: true,
	}
}

func (m *Manager) markUnavailable(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		e.available = false
		return
	}
	m.entries[key] = &entry{available: false}
}

// Lookup returns the cache info for a key without fetching.
func (m *Manager) Lookup(group, scope, member string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[entryKey(group, scope, member)]
	if !ok {
		return Info{}, false
	}
	return Info{
		Available:  e.available,
		ObservedAt: e.fetchedAt,
		Version:    e.version,
	}, true
}

// AgeMS returns the age of a key's last successful fetch in milliseconds.
func (m *Manager) AgeMS(group, scope, member string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[entryKey(group, scope, member)]
	if !ok || !e.available {
		return 0, false
	}
	return m.now().Sub(e.fetchedAt).Milliseconds(), true
}

// IsCoherent reports whether every member of the group for this scope is
// available and the spread of fetch times fits within the group TTL.
func (m *Manager) IsCoherent(group, scope string) bool {
	g, ok := m.groups[group]
	if !ok {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest, newest time.Time
	now := m.now()
	for _, field := range g.Fields {
		e, exists := m.entries[entryKey(group, scope, field)]
		if !exists || !e.available {
			return false
		}
		if now.Sub(e.fetchedAt) > g.TTL() {
			return false
		}
		if oldest.IsZero() || e.fetchedAt.Before(oldest) {
			oldest = e.fetchedAt
		}
		if newest.IsZero() || e.fetchedAt.After(newest) {
			newest = e.fetchedAt
		}
	}
	return newest.Sub(oldest) <= g.TTL()
}

// versionStamp identifies one fetch epoch of one key. Two provenance records
// carrying equal stamps for every input were computed from identical data.
func versionStamp(key string, at time.Time) string {
	return fmt.Sprintf("%s@%d", key, at.UnixMilli())
}

// sweep drops entries that have aged far past their group TTL. Overwrite on
// refresh handles the common case; this catches abandoned assets.
func (m *Manager) sweep() {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.removeExpired()
		}
	}
}

const expiredAfterTTLs = 10

func (m *Manager) removeExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		group := key[:strings.IndexByte(key, '|')]
		g, ok := m.groups[group]
		if !ok {
			delete(m.entries, key)
			delete(m.fetchers, key)
			continue
		}
		if now.Sub(e.fetchedAt) > time.Duration(expiredAfterTTLs)*g.TTL() {
			delete(m.entries, key)
			delete(m.fetchers, key)
		}
	}
}
