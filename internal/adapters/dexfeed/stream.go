package dexfeed

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex-trading/apex/internal/position"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Price Stream — websocket price pushes cached per asset, with REST fallback
// when the cache is stale
// ---------------------------------------------------------------------------

// StreamConfig configures the websocket price stream.
type StreamConfig struct {
	WSURL            string `yaml:"ws_url"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	PingIntervalS    int    `yaml:"ping_interval_s"`

	// Cached prices older than this are considered stale and re-fetched
	// over REST.
	FreshnessMs int `yaml:"freshness_ms"`
}

// DefaultStreamConfig returns production defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelayMs: 1000,
		PingIntervalS:    30,
		FreshnessMs:      10000,
	}
}

type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// priceUpdate is one push from the stream.
type priceUpdate struct {
	ChainID  string `json:"chainId"`
	Address  string `json:"tokenAddress"`
	PriceUSD string `json:"priceUsd"`
}

// Stream maintains a websocket connection to the feed and caches the latest
// price per asset. Price falls back to the REST client when no fresh push is
// available, so monitors keep working through stream outages.
type Stream struct {
	config   StreamConfig
	fallback *Client

	mu    sync.RWMutex
	cache map[string]cachedPrice

	connected  atomic.Bool
	updates    atomic.Int64
	reconnects atomic.Int64
	fallbacks  atomic.Int64
}

// NewStream creates a price stream over the given REST fallback.
func NewStream(config StreamConfig, fallback *Client) *Stream {
	if config.ReconnectDelayMs == 0 {
		config.ReconnectDelayMs = DefaultStreamConfig().ReconnectDelayMs
	}
	if config.FreshnessMs == 0 {
		config.FreshnessMs = DefaultStreamConfig().FreshnessMs
	}
	return &Stream{
		config:   config,
		fallback: fallback,
		cache:    make(map[string]cachedPrice),
	}
}

// Run connects and reads price pushes until ctx is cancelled, reconnecting
// on any failure.
func (s *Stream) Run(ctx context.Context) {
	reconnectDelay := time.Duration(s.config.ReconnectDelayMs) * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.readLoop(ctx); err != nil && ctx.Err() == nil {
			s.reconnects.Add(1)
			log.Warn().Err(err).Msg("dexfeed: stream disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Stream) readLoop(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.config.WSURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.connected.Store(true)
	defer s.connected.Store(false)
	log.Info().Str("url", s.config.WSURL).Msg("dexfeed: stream connected")

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if s.config.PingIntervalS > 0 {
		go s.pingLoop(done, conn)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var update priceUpdate
		if err := json.Unmarshal(msg, &update); err != nil {
			log.Debug().Err(err).Msg("dexfeed: dropping unparseable stream message")
			continue
		}
		price, err := decimal.NewFromString(update.PriceUSD)
		if err != nil || !price.IsPositive() || update.Address == "" {
			continue
		}

		s.mu.Lock()
		s.cache[update.Address] = cachedPrice{price: price, at: time.Now()}
		s.mu.Unlock()
		s.updates.Add(1)
	}
}

func (s *Stream) pingLoop(done <-chan struct{}, conn *websocket.Conn) {
	ticker := time.NewTicker(time.Duration(s.config.PingIntervalS) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Price serves from the cache when fresh, otherwise delegates to the REST
// client.
func (s *Stream) Price(ctx context.Context, chain position.ChainKey, address string) (decimal.Decimal, error) {
	freshness := time.Duration(s.config.FreshnessMs) * time.Millisecond

	s.mu.RLock()
	cached, ok := s.cache[address]
	s.mu.RUnlock()

	if ok && time.Since(cached.at) < freshness {
		return cached.price, nil
	}

	s.fallbacks.Add(1)
	return s.fallback.Price(ctx, chain, address)
}

// StreamStats returns stream counters.
type StreamStats struct {
	Connected  bool  `json:"connected"`
	Updates    int64 `json:"updates"`
	Reconnects int64 `json:"reconnects"`
	Fallbacks  int64 `json:"fallbacks"`
}

func (s *Stream) StreamStats() StreamStats {
	return StreamStats{
		Connected:  s.connected.Load(),
		Updates:    s.updates.Load(),
		Reconnects: s.reconnects.Load(),
		Fallbacks:  s.fallbacks.Load(),
	}
}
