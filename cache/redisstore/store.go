// Package redisstore shares cached views between processes through Redis so
// that one realtime client can invalidate entries other replicas read.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kitaflow/realtime-go-sdk/util"
)

var ErrNotFound = errors.New("redisstore: key not found")

type Config struct {
	// Address of the Redis server, e.g. "localhost:6379".
	Address  string `yaml:"address" validate:"required"`
	Password string `yaml:"password"`
	Database int    `yaml:"database" validate:"gte=0"`
	// Prefix is prepended to every key written by the store.
	Prefix  string        `yaml:"prefix"`
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
	// ScanCount is the COUNT hint passed to SCAN.
	ScanCount int64 `yaml:"scan_count"`
}

func DefaultConfig(address string) Config {
	return Config{
		Address:   address,
		Prefix:    "kitaflow:cache:",
		Timeout:   5 * time.Second,
		ScanCount: 100,
	}
}

func (c *Config) CheckDefaults() {
	if c.Prefix == "" {
		c.Prefix = "kitaflow:cache:"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ScanCount <= 0 {
		c.ScanCount = 100
	}
}

// Store is a Redis backed cache. Invalidations run in the background and
// their errors are logged, never returned, so a slow or unavailable Redis
// cannot stall the event pipeline.
type Store struct {
	cfg    Config
	client redis.UniversalClient

	mu      sync.Mutex
	pending sync.WaitGroup
	closed  bool
}

// New connects to the configured server and verifies it with PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.CheckDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client, e.g. a cluster or sentinel client.
func NewWithClient(client redis.UniversalClient, cfg Config) *Store {
	cfg.CheckDefaults()
	return &Store{cfg: cfg, client: client}
}

func (s *Store) key(key string) string {
	return s.cfg.Prefix + key
}

func (s *Store) unprefix(key string) (string, bool) {
	if !strings.HasPrefix(key, s.cfg.Prefix) {
		return "", false
	}
	return strings.TrimPrefix(key, s.cfg.Prefix), true
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return s.client.Set(ctx, s.key(key), value, s.cfg.TTL).Err()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

// background runs fn on its own goroutine with a bounded context. Nothing
// runs once the store is closed.
func (s *Store) background(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		fn(ctx)
	}()
}

// Invalidate deletes key in the background.
func (s *Store) Invalidate(key string) {
	s.background(func(ctx context.Context) {
		if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
			util.Warnf("Redis - Failed to delete %s: %s", key, err)
		}
	})
}

// InvalidateMatching deletes every key under the prefix accepted by match in
// the background.
func (s *Store) InvalidateMatching(match func(key string) bool) {
	s.background(func(ctx context.Context) {
		s.deleteMatching(ctx, match)
	})
}

func (s *Store) deleteMatching(ctx context.Context, match func(key string) bool) {
	keys, err := s.matchingKeys(ctx, match)
	if err != nil {
		util.Warnf("Redis - Failed to scan keys: %s", err)
	}
	if len(keys) == 0 {
		return
	}
	if err = s.client.Del(ctx, keys...).Err(); err != nil {
		util.Warnf("Redis - Failed to delete %d keys: %s", len(keys), err)
		return
	}
	util.Debugf("Redis - Deleted %d keys", len(keys))
}

func (s *Store) matchingKeys(ctx context.Context, match func(key string) bool) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.cfg.Prefix+"*", s.cfg.ScanCount).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		if key, ok := s.unprefix(full); ok && match(key) {
			keys = append(keys, full)
		}
	}
	return keys, iter.Err()
}

// Wait blocks until every invalidation started so far has finished.
func (s *Store) Wait() {
	s.pending.Wait()
}

// Close waits for pending invalidations and closes the client. Invalidations
// requested after Close are dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.pending.Wait()
	return s.client.Close()
}
