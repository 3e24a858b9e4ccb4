package provenance

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldquant/accumscan/internal/domain"
)

func TestRedisSink_Append(t *testing.T) {
	client, mock := redismock.NewClientMock()
	sink := NewRedisSink(client, "accumscan:prov", 100)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rec := Build(testBundle(now), testResult(), "s1-abcdef0123456789", now)
	payload, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectLPush("accumscan:prov:BTCUSD", payload).SetVal(1)
	mock.ExpectLTrim("accumscan:prov:BTCUSD", 0, 99).SetVal("OK")
	mock.ExpectTxPipelineExec()

	require.NoError(t, sink.Append(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSink_Recent(t *testing.T) {
	client, mock := redismock.NewClientMock()
	sink := NewRedisSink(client, "accumscan:prov", 100)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rec := Build(testBundle(now), testResult(), "s1-abcdef0123456789", now)
	payload, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectLRange("accumscan:prov:BTCUSD", 0, 4).SetVal([]string{string(payload)})

	recs, err := sink.Recent(context.Background(), "BTCUSD", 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.Checksum, recs[0].Checksum)
	assert.Equal(t, domain.StatusCoherent, recs[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSink_RecentMalformedPayload(t *testing.T) {
	client, mock := redismock.NewClientMock()
	sink := NewRedisSink(client, "accumscan:prov", 100)

	mock.ExpectLRange("accumscan:prov:BTCUSD", 0, 4).SetVal([]string{"not json"})

	_, err := sink.Recent(context.Background(), "BTCUSD", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestRedisSink_DefaultsApplied(t *testing.T) {
	client, _ := redismock.NewClientMock()
	sink := NewRedisSink(client, "", 0)

	assert.Equal(t, "accumscan:prov:ETHUSD", sink.key("ETHUSD"))
	assert.Equal(t, int64(10_000), sink.maxLen)
}
