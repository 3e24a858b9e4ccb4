// Package provenance builds and stores the audit record attached to every
// score. When two queries for the same asset disagree, diffing their records
// turns the mystery into a data problem: equal scoring versions plus equal
// input versions means the scores are contractually identical.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/coldquant/accumscan/internal/domain"
)

// Record is the immutable provenance stamp for one ScoreResult.
type Record struct {
	AssetID        string                 `json:"asset_id" db:"asset_id"`
	ScoringVersion string                 `json:"scoring_version" db:"scoring_version"`
	InputVersions  map[string]string      `json:"input_versions" db:"-"`
	InputAgesMS    map[string]int64       `json:"input_ages_ms" db:"-"`
	BundleAgeMS    int64                  `json:"bundle_age_ms" db:"bundle_age_ms"`
	Status         domain.CoherencyStatus `json:"coherency_status" db:"coherency_status"`
	Score          float64                `json:"score" db:"score"`
	Verdict        string                 `json:"verdict" db:"verdict"`
	GeneratedAt    time.Time              `json:"generated_at" db:"generated_at"`
	Checksum       string                 `json:"checksum" db:"checksum"`
}

// Build constructs the record for a bundle and its score. The checksum binds
// the inputs to the output so a tampered or miscopied record is detectable.
func Build(b *domain.MetricBundle, res domain.ScoreResult, scoringVersion string, now time.Time) Record {
	versions := make(map[string]string, len(b.Observations))
	ages := make(map[string]int64, len(b.Observations))
	for field, obs := range b.Observations {
		if !obs.Available {
			versions[string(field)] = "unavailable"
			continue
		}
		versions[string(field)] = obs.Version
		ages[string(field)] = now.Sub(obs.ObservedAt).Milliseconds()
	}

	r := Record{
		AssetID:        b.AssetID,
		ScoringVersion: scoringVersion,
		InputVersions:  versions,
		InputAgesMS:    ages,
		BundleAgeMS:    b.AgeMS(now),
		Status:         b.Status,
		Score:          res.Score,
		Verdict:        string(res.Verdict),
		GeneratedAt:    now,
	}
	r.Checksum = r.checksum()
	return r
}

// checksum hashes the scoring-relevant fields in a stable order.
func (r Record) checksum() string {
	fields := make([]string, 0, len(r.InputVersions))
	for f := range r.InputVersions {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	input := fmt.Sprintf("%s|%s|%.6f|%s|%s", r.AssetID, r.ScoringVersion, r.Score, r.Verdict, r.Status)
	for _, f := range fields {
		input += "|" + f + "=" + r.InputVersions[f]
	}

	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Diff explains why two records for the same asset could legitimately carry
// different scores. An empty result with differing scores indicates a
// scoring bug: identical versions must yield identical output.
func Diff(a, b Record) []string {
	var causes []string

	if a.ScoringVersion != b.ScoringVersion {
		causes = append(causes, fmt.Sprintf("scoring version changed: %s vs %s", a.ScoringVersion, b.ScoringVersion))
	}
	if a.Status != b.Status {
		causes = append(causes, fmt.Sprintf("coherency status differs: %s vs %s", a.Status, b.Status))
	}

	fields := make(map[string]struct{}, len(a.InputVersions)+len(b.InputVersions))
	for f := range a.InputVersions {
		fields[f] = struct{}{}
	}
	for f := range b.InputVersions {
		fields[f] = struct{}{}
	}
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)

	for _, f := range names {
		va, oka := a.InputVersions[f]
		vb, okb := b.InputVersions[f]
		switch {
		case !oka:
			causes = append(causes, fmt.Sprintf("input %s missing from first record", f))
		case !okb:
			causes = append(causes, fmt.Sprintf("input %s missing from second record", f))
		case va != vb:
			causes = append(causes, fmt.Sprintf("input %s fetched at different epochs: %s vs %s", f, va, vb))
		}
	}

	return causes
}
