package provenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresSinkMock(t *testing.T) (*PostgresSink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresSink(sqlx.NewDb(db, "sqlmock")), mock
}

func TestPostgresSink_Append(t *testing.T) {
	sink, mock := newPostgresSinkMock(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rec := Build(testBundle(now), testResult(), "s1-abcdef0123456789", now)

	mock.ExpectExec("INSERT INTO score_provenance").
		WithArgs(
			rec.AssetID, rec.ScoringVersion, sqlmock.AnyArg(), sqlmock.AnyArg(),
			rec.BundleAgeMS, string(rec.Status), rec.Score, rec.Verdict,
			rec.GeneratedAt, rec.Checksum,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, sink.Append(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_AppendFailure(t *testing.T) {
	sink, mock := newPostgresSinkMock(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rec := Build(testBundle(now), testResult(), "s1-abcdef0123456789", now)

	mock.ExpectExec("INSERT INTO score_provenance").
		WillReturnError(errors.New("connection reset"))

	err := sink.Append(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BTCUSD")
}
