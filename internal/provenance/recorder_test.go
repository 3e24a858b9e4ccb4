package provenance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldquant/accumscan/internal/metrics"
)

func TestRecorder_AppendsToSink(t *testing.T) {
	sink := NewMemorySink(0)
	rec := NewRecorder("s1-abcdef0123456789", sink, 16, metrics.New())

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	built := rec.Record(testBundle(now), testResult())
	assert.Equal(t, "s1-abcdef0123456789", built.ScoringVersion)

	rec.Close()

	stored := sink.Recent("BTCUSD", 10)
	require.Len(t, stored, 1)
	assert.Equal(t, built.Checksum, stored[0].Checksum)
}

func TestRecorder_CloseFlushesQueue(t *testing.T) {
	sink := NewMemorySink(0)
	rec := NewRecorder("s1-abcdef0123456789", sink, 64, metrics.New())

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		rec.Record(testBundle(now), testResult())
	}
	rec.Close()

	assert.Len(t, sink.Recent("BTCUSD", 100), 20)
}

type blockingSink struct {
	release chan struct{}
	once    sync.Once
	entered chan struct{}
}

func newBlockingSink() *blockingSink {
	return &blockingSink{release: make(chan struct{}), entered: make(chan struct{})}
}

func (s *blockingSink) Append(ctx context.Context, _ Record) error {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	sink := newBlockingSink()
	m := metrics.New()
	rec := NewRecorder("s1-abcdef0123456789", sink, 1, m)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// First record occupies the drain loop, second fills the queue.
	rec.Record(testBundle(now), testResult())
	<-sink.entered
	rec.Record(testBundle(now), testResult())

	// Third has nowhere to go.
	rec.Record(testBundle(now), testResult())

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProvenanceDrops))

	close(sink.release)
	rec.Close()
}

func TestMemorySink_RetainBound(t *testing.T) {
	sink := NewMemorySink(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := Record{AssetID: "BTCUSD", Score: float64(i)}
		require.NoError(t, sink.Append(ctx, rec))
	}

	recs := sink.Recent("BTCUSD", 10)
	require.Len(t, recs, 3)
	// Newest first.
	assert.Equal(t, 4.0, recs[0].Score)
	assert.Equal(t, 2.0, recs[2].Score)
}
