package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coldquant/accumscan/internal/domain"
)

// Config is the full external configuration surface. Everything that can
// change a score lives under Scoring and is folded into the scoring version
// hash, so two builds with different weights can never report the same
// version.
type Config struct {
	Scoring    ScoringConfig    `yaml:"scoring"`
	Coherency  CoherencyConfig  `yaml:"coherency"`
	Scan       ScanConfig       `yaml:"scan"`
	Warmer     WarmerConfig     `yaml:"warmer"`
	Provenance ProvenanceConfig `yaml:"provenance"`
	Feed       FeedConfig       `yaml:"feed"`
	HTTP       HTTPConfig       `yaml:"http"`
	Source     SourceConfig     `yaml:"source"`
}

// PillarWeights are the fixed combination weights, summing to 1.0.
type PillarWeights struct {
	Volume        float64 `yaml:"volume" json:"volume"`
	Consolidation float64 `yaml:"consolidation" json:"consolidation"`
	SellPressure  float64 `yaml:"sell_pressure" json:"sell_pressure"`
	Depth         float64 `yaml:"depth" json:"depth"`
}

// VerdictBoundaries are the lower bounds of each verdict band on the
// combined score. Scores below Distribution map to STRONG_DISTRIBUTION.
type VerdictBoundaries struct {
	StrongAccumulation float64 `yaml:"strong_accumulation" json:"strong_accumulation"`
	Accumulation       float64 `yaml:"accumulation" json:"accumulation"`
	Neutral            float64 `yaml:"neutral" json:"neutral"`
	Distribution       float64 `yaml:"distribution" json:"distribution"`
}

// PillarShape holds the piecewise-linear breakpoints for the four pillar
// mappings.
type PillarShape struct {
	// Volume pillar saturates at this buy ratio (midpoint 0.5 scores 50).
	VolumeSaturationRatio float64 `yaml:"volume_saturation_ratio" json:"volume_saturation_ratio"`

	// Consolidation pillar: ranges at or below Tight score 100, Neutral
	// scores 50, Wide and beyond score 0.
	TightRangePct   float64 `yaml:"tight_range_pct" json:"tight_range_pct"`
	NeutralRangePct float64 `yaml:"neutral_range_pct" json:"neutral_range_pct"`
	WideRangePct    float64 `yaml:"wide_range_pct" json:"wide_range_pct"`

	// Sell-pressure pillar saturates at this absolute delta.
	SellPressureSaturationDelta float64 `yaml:"sell_pressure_saturation_delta" json:"sell_pressure_saturation_delta"`

	// Depth pillar: bid/ask ratio of 1.0 scores 50, saturation scores 100.
	DepthSaturationRatio float64 `yaml:"depth_saturation_ratio" json:"depth_saturation_ratio"`
}

// ScoringConfig is the versioned scoring surface.
type ScoringConfig struct {
	Weights        PillarWeights     `yaml:"weights" json:"weights"`
	Verdicts       VerdictBoundaries `yaml:"verdicts" json:"verdicts"`
	Shape          PillarShape       `yaml:"shape" json:"shape"`
	MinCandleCount int               `yaml:"min_candle_count" json:"min_candle_count"`
}

// GroupConfig declares one coherency group: a named set of bundle fields
// sharing a single TTL. Groups are created at startup and never per request.
type GroupConfig struct {
	Name       string   `yaml:"name"`
	Fields     []string `yaml:"fields"`
	TTLSeconds int      `yaml:"ttl_seconds"`
}

// TTL returns the group TTL as a duration.
func (g GroupConfig) TTL() time.Duration { return time.Duration(g.TTLSeconds) * time.Second }

// CoherencyConfig configures the coherency manager.
type CoherencyConfig struct {
	Groups               []GroupConfig `yaml:"groups"`
	SweepIntervalSeconds int           `yaml:"sweep_interval_seconds"`
}

// Tier1Config holds the cheap numeric prefilter cutoffs.
type Tier1Config struct {
	MinVolume24hUSD   float64 `yaml:"min_volume_24h_usd"`
	MinPriceUSD       float64 `yaml:"min_price_usd"`
	MaxAbsFundingRate float64 `yaml:"max_abs_funding_rate"`
	MaxSurvivors      int     `yaml:"max_survivors"`
}

// Tier2Config bounds the canonical-scoring stage.
type Tier2Config struct {
	MinScore     float64 `yaml:"min_score"`
	MaxSurvivors int     `yaml:"max_survivors"`
}

// ScanConfig configures the tiered scanner.
type ScanConfig struct {
	Tier1             Tier1Config `yaml:"tier1"`
	Tier2             Tier2Config `yaml:"tier2"`
	FinalLimit        int         `yaml:"final_limit"`
	DefaultDeadlineMS int         `yaml:"default_deadline_ms"`

	// SafetyMarginMS is shaved off the caller deadline so the response is
	// assembled and returned before any external timeout fires.
	SafetyMarginMS int `yaml:"safety_margin_ms"`
}

// WarmerConfig bounds the cache warmer's upstream fan-out.
type WarmerConfig struct {
	MaxFanOut      int `yaml:"max_fan_out"`
	FetchTimeoutMS int `yaml:"fetch_timeout_ms"`
}

// ProvenanceConfig selects and sizes the provenance sink.
type ProvenanceConfig struct {
	Sink        string `yaml:"sink"` // memory, redis or postgres
	QueueSize   int    `yaml:"queue_size"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
	RetainPer   int    `yaml:"retain_per_asset"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// FeedConfig configures the ticker metadata feed.
type FeedConfig struct {
	WSURL            string `yaml:"ws_url"`
	SyntheticTickers int    `yaml:"synthetic_tickers"`
}

// HTTPConfig configures the front door. WriteTimeoutSec must exceed the
// longest scan deadline: a scan writes nothing until Tier-3 completes, and a
// shorter write timeout would cut the response off mid-body.
type HTTPConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
}

// SourceConfig bounds upstream adapter usage.
type SourceConfig struct {
	RPS            float64 `yaml:"rps"`
	Burst          int     `yaml:"burst"`
	CallTimeoutMS  int     `yaml:"call_timeout_ms"`
	BreakerMaxFail uint32  `yaml:"breaker_max_failures"`
}

// Default returns the built-in configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Scoring: ScoringConfig{
			Weights: PillarWeights{
				Volume:        0.30,
				Consolidation: 0.25,
				SellPressure:  0.25,
				Depth:         0.20,
			},
			Verdicts: VerdictBoundaries{
				StrongAccumulation: 75,
				Accumulation:       60,
				Neutral:            40,
				Distribution:       25,
			},
			Shape: PillarShape{
				VolumeSaturationRatio:       0.80,
				TightRangePct:               1.5,
				NeutralRangePct:             8.0,
				WideRangePct:                15.0,
				SellPressureSaturationDelta: 0.5,
				DepthSaturationRatio:        2.0,
			},
			MinCandleCount: 12,
		},
		Coherency: CoherencyConfig{
			Groups: []GroupConfig{
				{
					Name:       "market_fast",
					Fields:     []string{string(domain.FieldVolumeProfile), string(domain.FieldOrderbookDepth)},
					TTLSeconds: 15,
				},
				{
					Name:       "market_slow",
					Fields:     []string{string(domain.FieldConsolidation), string(domain.FieldSellPressure)},
					TTLSeconds: 120,
				},
			},
			SweepIntervalSeconds: 60,
		},
		Scan: ScanConfig{
			Tier1: Tier1Config{
				MinVolume24hUSD:   1_000_000,
				MinPriceUSD:       0.0001,
				MaxAbsFundingRate: 0.01,
				MaxSurvivors:      50,
			},
			Tier2: Tier2Config{
				MinScore:     55,
				MaxSurvivors: 12,
			},
			FinalLimit:        10,
			DefaultDeadlineMS: 55_000,
			SafetyMarginMS:    2_000,
		},
		Warmer: WarmerConfig{
			MaxFanOut:      8,
			FetchTimeoutMS: 5_000,
		},
		Provenance: ProvenanceConfig{
			Sink:        "memory",
			QueueSize:   1024,
			RedisPrefix: "accumscan:prov",
			RetainPer:   10_000,
		},
		Feed: FeedConfig{
			SyntheticTickers: 1000,
		},
		HTTP: HTTPConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ReadTimeoutSec:  10,
			WriteTimeoutSec: 120,
		},
		Source: SourceConfig{
			RPS:            10,
			Burst:          20,
			CallTimeoutMS:  4_000,
			BreakerMaxFail: 5,
		},
	}
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

const weightSumTolerance = 0.001

// Validate checks structural invariants of the configuration.
func (c *Config) Validate() error {
	w := c.Scoring.Weights
	sum := w.Volume + w.Consolidation + w.SellPressure + w.Depth
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("pillar weights sum to %.4f, expected 1.0 ± %.3f", sum, weightSumTolerance)
	}
	for name, v := range map[string]float64{
		"volume":        w.Volume,
		"consolidation": w.Consolidation,
		"sell_pressure": w.SellPressure,
		"depth":         w.Depth,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("pillar weight %s (%.3f) outside [0,1]", name, v)
		}
	}

	b := c.Scoring.Verdicts
	if !(b.StrongAccumulation > b.Accumulation && b.Accumulation > b.Neutral && b.Neutral > b.Distribution) {
		return fmt.Errorf("verdict boundaries must strictly descend: %.1f/%.1f/%.1f/%.1f",
			b.StrongAccumulation, b.Accumulation, b.Neutral, b.Distribution)
	}

	s := c.Scoring.Shape
	if s.VolumeSaturationRatio <= 0.5 || s.VolumeSaturationRatio > 1 {
		return fmt.Errorf("volume_saturation_ratio %.2f outside (0.5, 1]", s.VolumeSaturationRatio)
	}
	if !(s.TightRangePct < s.NeutralRangePct && s.NeutralRangePct < s.WideRangePct) {
		return fmt.Errorf("consolidation breakpoints must ascend: %.1f/%.1f/%.1f",
			s.TightRangePct, s.NeutralRangePct, s.WideRangePct)
	}
	if s.SellPressureSaturationDelta <= 0 {
		return fmt.Errorf("sell_pressure_saturation_delta must be positive")
	}
	if s.DepthSaturationRatio <= 1 {
		return fmt.Errorf("depth_saturation_ratio %.2f must exceed 1.0", s.DepthSaturationRatio)
	}

	if len(c.Coherency.Groups) == 0 {
		return fmt.Errorf("at least one coherency group is required")
	}
	seen := make(map[string]string)
	for _, g := range c.Coherency.Groups {
		if g.Name == "" {
			return fmt.Errorf("coherency group with empty name")
		}
		if g.TTLSeconds <= 0 {
			return fmt.Errorf("coherency group %s has non-positive TTL", g.Name)
		}
		for _, f := range g.Fields {
			if prev, dup := seen[f]; dup {
				return fmt.Errorf("field %s belongs to both group %s and %s", f, prev, g.Name)
			}
			seen[f] = g.Name
		}
	}
	for _, f := range domain.AllFields() {
		if _, ok := seen[string(f)]; !ok {
			return fmt.Errorf("field %s is not assigned to any coherency group", f)
		}
	}

	if c.Scan.Tier1.MaxSurvivors <= 0 || c.Scan.Tier2.MaxSurvivors <= 0 {
		return fmt.Errorf("tier survivor bounds must be positive")
	}
	if c.Scan.FinalLimit <= 0 {
		return fmt.Errorf("final_limit must be positive")
	}
	if c.Warmer.MaxFanOut <= 0 {
		return fmt.Errorf("warmer max_fan_out must be positive")
	}
	return nil
}

// GroupForField returns the coherency group a bundle field belongs to.
func (c *Config) GroupForField(field domain.Field) (GroupConfig, bool) {
	for _, g := range c.Coherency.Groups {
		for _, f := range g.Fields {
			if f == string(field) {
				return g, true
			}
		}
	}
	return GroupConfig{}, false
}
