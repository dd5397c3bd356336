package cache

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/MemberVault/internal/pkg/config"
)

// ErrUnavailable is returned by Store before SetupCache has run.
var ErrUnavailable = errors.New("cache unavailable")

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache initializes the connection to the Redis compatible cache server.
// A failed ping is logged, not fatal: callers fall back to in-process state.
func SetupCache(cfg config.CacheConfig) *redis.Client {
	client = redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		log.Warnf("[Cache] could not connect to %s: %v", cfg.Address(), err)
	} else {
		log.Infof("[Cache] connected to %s: %s", cfg.Address(), pong)
	}
	return client
}

// SetClient replaces the shared client. Used by tests and the CLI.
func SetClient(c *redis.Client) {
	client = c
}

// GetClient returns the Redis client instance, nil before SetupCache.
func GetClient() *redis.Client {
	return client
}

// Available reports whether the cache answers a ping.
func Available(c context.Context) bool {
	if client == nil {
		return false
	}
	return client.Ping(c).Err() == nil
}

// Set stores a value in the cache with the given key and expiration time
func Set(key string, value interface{}, expiration time.Duration) error {
	return client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value from the cache by key
func Get(key string) (string, error) {
	return client.Get(ctx, key).Result()
}

// Delete removes a value from the cache by key
func Delete(key string) error {
	return client.Del(ctx, key).Err()
}

// Store exposes the package helpers as a value so handlers can take an
// interface. It fails with ErrUnavailable while no client is configured.
type Store struct{}

func (Store) Get(key string) (string, error) {
	if client == nil {
		return "", ErrUnavailable
	}
	return Get(key)
}

func (Store) Set(key string, value interface{}, expiration time.Duration) error {
	if client == nil {
		return ErrUnavailable
	}
	return Set(key, value, expiration)
}

func (Store) Delete(key string) error {
	if client == nil {
		return ErrUnavailable
	}
	return Delete(key)
}
