package provenance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisSink appends provenance records to a per-asset Redis list, trimmed to
// a bounded length so retention matches signal-history retention instead of
// growing without limit.
type RedisSink struct {
	client    *redis.Client
	keyPrefix string
	maxLen    int64
}

// NewRedisSink creates a Redis-backed sink.
func NewRedisSink(client *redis.Client, keyPrefix string, maxLen int64) *RedisSink {
	if keyPrefix == "" {
		keyPrefix = "accumscan:prov"
	}
	if maxLen <= 0 {
		maxLen = 10_000
	}
	return &RedisSink{client: client, keyPrefix: keyPrefix, maxLen: maxLen}
}

func (s *RedisSink) key(assetID string) string {
	return s.keyPrefix + ":" + assetID
}

// Append pushes the record onto the asset's list and trims it.
func (s *RedisSink) Append(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize provenance record: %w", err)
	}

	key := s.key(rec.AssetID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, s.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append provenance for %s: %w", rec.AssetID, err)
	}
	return nil
}

// Recent fetches up to n most recent records for an asset.
func (s *RedisSink) Recent(ctx context.Context, assetID string, n int) ([]Record, error) {
	raw, err := s.client.LRange(ctx, s.key(assetID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read provenance for %s: %w", assetID, err)
	}

	recs := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("malformed provenance record for %s: %w", assetID, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
