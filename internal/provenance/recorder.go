package provenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coldquant/accumscan/internal/domain"
	"github.com/coldquant/accumscan/internal/metrics"
)

// Sink persists provenance records. Appends are fire-and-forget from the
// pipeline's perspective; a slow sink must never slow down scoring.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// Recorder builds records and hands them to the sink through a bounded
// queue. When the queue is full the record is dropped and counted, because
// blocking the scoring path on audit storage would trade correctness
// guarantees for debuggability.
type Recorder struct {
	scoringVersion string
	sink           Sink
	queue          chan Record
	metrics        *metrics.Metrics
	now            func() time.Time

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRecorder creates a recorder draining into sink.
func NewRecorder(scoringVersion string, sink Sink, queueSize int, m *metrics.Metrics) *Recorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	r := &Recorder{
		scoringVersion: scoringVersion,
		sink:           sink,
		queue:          make(chan Record, queueSize),
		metrics:        m,
		now:            time.Now,
		stopCh:         make(chan struct{}),
	}
	r.wg.Add(1)
	go r.drain()
	return r
}

// Record builds the provenance record for a scored bundle and enqueues it
// for persistence. The returned record is complete regardless of whether
// the append eventually succeeds.
func (r *Recorder) Record(b *domain.MetricBundle, res domain.ScoreResult) Record {
	rec := Build(b, res, r.scoringVersion, r.now())

	select {
	case r.queue <- rec:
	default:
		r.metrics.ProvenanceDrops.Inc()
		log.Warn().Str("asset", rec.AssetID).Msg("provenance queue full, record dropped")
	}
	return rec
}

// ScoringVersion returns the version stamp this recorder attaches.
func (r *Recorder) ScoringVersion() string { return r.scoringVersion }

// Close stops the drain loop after flushing queued records.
func (r *Recorder) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	for {
		select {
		case rec := <-r.queue:
			r.append(rec)
		case <-r.stopCh:
			for {
				select {
				case rec := <-r.queue:
					r.append(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) append(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.sink.Append(ctx, rec); err != nil {
		log.Warn().Str("asset", rec.AssetID).Err(err).Msg("provenance append failed")
	}
}
