package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/coldquant/accumscan/internal/cache"
	"github.com/coldquant/accumscan/internal/config"
	"github.com/coldquant/accumscan/internal/feed"
	"github.com/coldquant/accumscan/internal/metrics"
	"github.com/coldquant/accumscan/internal/pipeline"
	"github.com/coldquant/accumscan/internal/provenance"
	"github.com/coldquant/accumscan/internal/scan"
	"github.com/coldquant/accumscan/internal/score"
	"github.com/coldquant/accumscan/internal/source"
	"github.com/coldquant/accumscan/internal/warm"
)

// app holds the wired pipeline components shared by every command.
type app struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	cache    *cache.Manager
	recorder *provenance.Recorder
	pipe     *pipeline.Pipeline
	snap     *feed.MemorySnapshot
	scanner  *scan.Scanner
	version  string
}

// buildApp assembles the pipeline from configuration. With no ws_url the
// metadata snapshot and upstream adapter are synthetic, which makes scan and
// signal commands fully reproducible offline.
func buildApp(ctx context.Context) (*app, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	version, err := cfg.ScoringVersion()
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	scorer, err := score.NewScorer(cfg.Scoring, version)
	if err != nil {
		return nil, err
	}

	sink, err := buildSink(ctx, cfg.Provenance)
	if err != nil {
		return nil, err
	}
	recorder := provenance.NewRecorder(version, sink, cfg.Provenance.QueueSize, m)

	mgr := cache.NewManager(cfg.Coherency, m)
	client := source.NewClient(source.NewSyntheticAdapter(), cfg.Source, m)

	pipe, err := pipeline.New(cfg, mgr, scorer, recorder, client)
	if err != nil {
		return nil, err
	}

	snap := feed.NewMemorySnapshot()
	if cfg.Feed.WSURL == "" {
		snap.PopulateSynthetic(cfg.Feed.SyntheticTickers, time.Now())
		log.Info().Int("tickers", snap.Len()).Msg("synthetic metadata universe populated")
	}

	warmer := warm.New(pipe, cfg.Warmer)
	scanner := scan.New(snap, warmer, pipe, cfg.Scan, cfg.Warmer.MaxFanOut, m)

	log.Info().Str("scoring_version", version).Msg("pipeline assembled")

	return &app{
		cfg:      cfg,
		metrics:  m,
		cache:    mgr,
		recorder: recorder,
		pipe:     pipe,
		snap:     snap,
		scanner:  scanner,
		version:  version,
	}, nil
}

func (a *app) close() {
	a.cache.Stop()
	a.recorder.Close()
}

func buildSink(ctx context.Context, cfg config.ProvenanceConfig) (provenance.Sink, error) {
	switch cfg.Sink {
	case "", "memory":
		return provenance.NewMemorySink(cfg.RetainPer), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		return provenance.NewRedisSink(client, cfg.RedisPrefix, int64(cfg.RetainPer)), nil
	case "postgres":
		return provenance.OpenPostgresSink(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown provenance sink %q", cfg.Sink)
	}
}
