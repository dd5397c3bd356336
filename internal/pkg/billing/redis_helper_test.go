package billing

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

const isolatedBillingTestRedisDB = 13

// newIsolatedRedisClient connects to the first reachable test Redis and
// flushes a dedicated DB. The test is skipped when no Redis answers.
func newIsolatedRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	hosts := []string{"cache", "localhost", "127.0.0.1"}
	if h := os.Getenv("CACHE_HOST"); h != "" {
		hosts = append([]string{h}, hosts...)
	}
	port := os.Getenv("CACHE_PORT")
	if port == "" {
		port = "6379"
	}

	var lastErr error
	for _, host := range hosts {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", host, port),
			Password: os.Getenv("CACHE_PASSWORD"),
			DB:       isolatedBillingTestRedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			lastErr = err
			_ = client.Close()
			continue
		}
		if err := client.FlushDB(context.Background()).Err(); err != nil {
			_ = client.Close()
			t.Fatalf("failed to flush isolated redis db %d: %v", isolatedBillingTestRedisDB, err)
		}
		t.Cleanup(func() {
			_ = client.FlushDB(context.Background()).Err()
			_ = client.Close()
		})
		return client
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}
