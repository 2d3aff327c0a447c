package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/appwarden/internal/config"
	"github.com/goodtune/appwarden/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	appKeyPrefix = "appwarden:app:"
	appsSetKey   = "appwarden:apps"
	pipelineKey  = "appwarden:pipeline"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client        *redis.Client
	appStore      *appStore
	pipelineStore *pipelineStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	return &Store{
		client:        client,
		appStore:      &appStore{client: client},
		pipelineStore: &pipelineStore{client: client},
	}, nil
}

// NewClient builds a Redis client from configuration and verifies it with a ping.
// The event log source shares this constructor.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Apps returns the AppStore implementation
func (s *Store) Apps() storage.AppStore {
	return s.appStore
}

// Pipeline returns the PipelineStore implementation
func (s *Store) Pipeline() storage.PipelineStore {
	return s.pipelineStore
}

func appKey(appID string) string {
	return appKeyPrefix + appID
}
