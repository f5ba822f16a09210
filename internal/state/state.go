// Package state persists trade history and open positions in Redis so a
// restart neither re-buys old addresses nor abandons open positions.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apex-trading/apex/internal/position"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	tradedKey    = "apex:traded"
	positionsKey = "apex:positions"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DefaultConfig returns local-instance defaults.
func DefaultConfig() Config {
	return Config{Addr: "localhost:6379"}
}

// Store is the Redis-backed journal. Implements sniper.Journal.
type Store struct {
	rdb *redis.Client
}

// New connects to Redis and verifies connectivity with a ping.
func New(ctx context.Context, config Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("state: redis ping: %w", err)
	}

	log.Info().Str("addr", config.Addr).Msg("state: redis connected")
	return &Store{rdb: rdb}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// MarkTraded records an address as attempted.
func (s *Store) MarkTraded(ctx context.Context, address string) error {
	if err := s.rdb.SAdd(ctx, tradedKey, address).Err(); err != nil {
		return fmt.Errorf("state: mark traded: %w", err)
	}
	return nil
}

// LoadTraded returns all attempted addresses, for seeding the recent set at
// boot.
func (s *Store) LoadTraded(ctx context.Context) ([]string, error) {
	addrs, err := s.rdb.SMembers(ctx, tradedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("state: load traded: %w", err)
	}
	return addrs, nil
}

// SavePosition upserts an open position snapshot, keyed by asset address.
func (s *Store) SavePosition(ctx context.Context, view position.View) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("state: marshal position: %w", err)
	}
	if err := s.rdb.HSet(ctx, positionsKey, view.Address, data).Err(); err != nil {
		return fmt.Errorf("state: save position: %w", err)
	}
	return nil
}

// RemovePosition deletes a closed position.
func (s *Store) RemovePosition(ctx context.Context, address string) error {
	if err := s.rdb.HDel(ctx, positionsKey, address).Err(); err != nil {
		return fmt.Errorf("state: remove position: %w", err)
	}
	return nil
}

// LoadPositions returns all persisted open positions. Entries that no longer
// parse are dropped with a warning rather than failing the whole load.
func (s *Store) LoadPositions(ctx context.Context) ([]position.View, error) {
	entries, err := s.rdb.HGetAll(ctx, positionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("state: load positions: %w", err)
	}

	views := make([]position.View, 0, len(entries))
	for address, data := range entries {
		var view position.View
		if err := json.Unmarshal([]byte(data), &view); err != nil {
			log.Warn().Err(err).Str("address", address).
				Msg("state: dropping unparseable position entry")
			continue
		}
		views = append(views, view)
	}
	return views, nil
}
