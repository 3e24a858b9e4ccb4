package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// scoringSchema is bumped when the pillar formulas themselves change, so the
// version hash moves even if the numeric configuration happens to match.
const scoringSchema = 1

type versionPayload struct {
	Schema         int               `json:"schema"`
	Weights        PillarWeights     `json:"weights"`
	Verdicts       VerdictBoundaries `json:"verdicts"`
	Shape          PillarShape       `json:"shape"`
	MinCandleCount int               `json:"min_candle_count"`
}

// ScoringVersion returns the canonical version stamp for the scoring surface:
// a hash over every config value that can change a score. Two processes
// reporting the same ScoringVersion are guaranteed to score identical bundles
// identically.
func (c *Config) ScoringVersion() (string, error) {
	payload := versionPayload{
		Schema:         scoringSchema,
		Weights:        c.Scoring.Weights,
		Verdicts:       c.Scoring.Verdicts,
		Shape:          c.Scoring.Shape,
		MinCandleCount: c.Scoring.MinCandleCount,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize scoring payload: %w", err)
	}

	sum := sha256.Sum256(data)
	return fmt.Sprintf("s%d-%s", scoringSchema, hex.EncodeToString(sum[:])[:16]), nil
}
