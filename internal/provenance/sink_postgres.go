package provenance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const provenanceSchema = `
CREATE TABLE IF NOT EXISTS score_provenance (
	id               BIGSERIAL PRIMARY KEY,
	asset_id         TEXT        NOT NULL,
	scoring_version  TEXT        NOT NULL,
	input_versions   JSONB       NOT NULL,
	input_ages_ms    JSONB       NOT NULL,
	bundle_age_ms    BIGINT      NOT NULL,
	coherency_status TEXT        NOT NULL,
	score            DOUBLE PRECISION NOT NULL,
	verdict          TEXT        NOT NULL,
	generated_at     TIMESTAMPTZ NOT NULL,
	checksum         TEXT        NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_score_provenance_asset_time
	ON score_provenance (asset_id, generated_at DESC);
`

const insertProvenance = `
INSERT INTO score_provenance
	(asset_id, scoring_version, input_versions, input_ages_ms, bundle_age_ms,
	 coherency_status, score, verdict, generated_at, checksum)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// PostgresSink persists provenance records to Postgres for long-term
// divergence debugging. Retention is left to operators.
type PostgresSink struct {
	db *sqlx.DB
}

// NewPostgresSink wraps an open database handle.
func NewPostgresSink(db *sqlx.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// OpenPostgresSink connects and ensures the schema exists.
func OpenPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, provenanceSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure provenance schema: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

// Append inserts one record.
func (s *PostgresSink) Append(ctx context.Context, rec Record) error {
	versions, err := json.Marshal(rec.InputVersions)
	if err != nil {
		return fmt.Errorf("failed to serialize input versions: %w", err)
	}
	ages, err := json.Marshal(rec.InputAgesMS)
	if err != nil {
		return fmt.Errorf("failed to serialize input ages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, insertProvenance,
		rec.AssetID, rec.ScoringVersion, versions, ages, rec.BundleAgeMS,
		string(rec.Status), rec.Score, rec.Verdict, rec.GeneratedAt, rec.Checksum)
	if err != nil {
		return fmt.Errorf("failed to insert provenance for %s: %w", rec.AssetID, err)
	}
	return nil
}

// Close releases the database handle.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
