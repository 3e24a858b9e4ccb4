package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// miniTicker is the wire format of one ticker update. Exchanges ship numeric
// fields as strings.
type miniTicker struct {
	Symbol      string `json:"s"`
	LastPrice   string `json:"c"`
	QuoteVolume string `json:"q"`
	FundingRate string `json:"r"`
}

// WSFeed consumes a mini-ticker websocket stream and keeps the metadata
// snapshot current. Connection loss triggers reconnect with backoff; the
// snapshot simply goes stale in between, which Tier-1 tolerates.
type WSFeed struct {
	url     string
	snap    *MemorySnapshot
	dialer  *websocket.Dialer
	backoff time.Duration
}

// NewWSFeed creates a feed writing into snap.
func NewWSFeed(url string, snap *MemorySnapshot) *WSFeed {
	return &WSFeed{
		url:     url,
		snap:    snap,
		dialer:  websocket.DefaultDialer,
		backoff: time.Second,
	}
}

// Run connects and consumes until the context is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := f.backoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := f.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Str("url", f.url).Err(err).Dur("backoff", backoff).
			Msg("ticker feed disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *WSFeed) consume(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Info().Str("url", f.url).Msg("ticker feed connected")

	// The watcher unblocks ReadMessage on cancellation and exits with the
	// connection, so reconnect cycles do not accumulate goroutines.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handle(payload)
	}
}

func (f *WSFeed) handle(payload []byte) {
	// Streams deliver either a single ticker or a batch.
	if len(payload) > 0 && payload[0] == '[' {
		var batch []miniTicker
		if err := json.Unmarshal(payload, &batch); err != nil {
			log.Debug().Err(err).Msg("skipping malformed ticker batch")
			return
		}
		for _, t := range batch {
			f.apply(t)
		}
		return
	}

	var t miniTicker
	if err := json.Unmarshal(payload, &t); err != nil {
		log.Debug().Err(err).Msg("skipping malformed ticker")
		return
	}
	f.apply(t)
}

func (f *WSFeed) apply(t miniTicker) {
	if t.Symbol == "" {
		return
	}
	price, err := strconv.ParseFloat(t.LastPrice, 64)
	if err != nil {
		return
	}
	volume, err := strconv.ParseFloat(t.QuoteVolume, 64)
	if err != nil {
		return
	}
	funding := 0.0
	if t.FundingRate != "" {
		funding, _ = strconv.ParseFloat(t.FundingRate, 64)
	}

	f.snap.Set(Ticker{
		AssetID:     strings.ToUpper(t.Symbol),
		PriceUSD:    price,
		Volume24h:   volume,
		FundingRate: funding,
		UpdatedAt:   time.Now(),
	})
}
