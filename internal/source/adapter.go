// Package source defines the upstream adapter boundary. Adapters are thin,
// idempotent fetchers; the Client wrapper adds the shared-resource
// protections every upstream call needs (token-bucket rate limiting, a
// circuit breaker, a per-call timeout) and maps failures into the unified
// taxonomy before they reach the pipeline.
package source

import (
	"context"

	"github.com/coldquant/accumscan/internal/domain"
)

// Adapter fetches one raw metric field for one asset. Implementations must
// be idempotent and side-effect-free from the pipeline's perspective; they
// may fail, time out or rate-limit independently per call.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, assetID string, field domain.Field) (interface{}, error)
}
