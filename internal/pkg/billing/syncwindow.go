package billing

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// SyncWindow gates unforced catalog syncs. Due reports whether enough time
// has passed since the last successful sync; MarkSynced records a success.
type SyncWindow interface {
	Due(ctx context.Context) bool
	MarkSynced(ctx context.Context)
}

// MemoryWindow is a process-local SyncWindow. It starts empty, so the first
// call after process start is always due, and it is never reset.
type MemoryWindow struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	interval time.Duration
	last     time.Time
}

// NewMemoryWindow creates a window using the given clock.
func NewMemoryWindow(clock clockwork.Clock, interval time.Duration) *MemoryWindow {
	return &MemoryWindow{clock: clock, interval: interval}
}

func (w *MemoryWindow) Due(_ context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last.IsZero() {
		return true
	}
	return w.clock.Since(w.last) >= w.interval
}

func (w *MemoryWindow) MarkSynced(_ context.Context) {
	w.mu.Lock()
	w.last = w.clock.Now()
	w.mu.Unlock()
}

const (
	redisWindowKey     = "billing:catalog:last_sync"
	redisWindowLockKey = "billing:catalog:sync_lock"
	redisWindowLockTTL = time.Minute
)

// RedisWindow shares the sync window between instances. The last-sync key
// expires after the interval; a short SET NX lock keeps concurrent instances
// from fetching the catalog at the same time.
type RedisWindow struct {
	client   *redis.Client
	clock    clockwork.Clock
	interval time.Duration
}

// NewRedisWindow creates a window stored in Redis.
func NewRedisWindow(client *redis.Client, clock clockwork.Clock, interval time.Duration) *RedisWindow {
	return &RedisWindow{client: client, clock: clock, interval: interval}
}

func (w *RedisWindow) Due(ctx context.Context) bool {
	n, err := w.client.Exists(ctx, redisWindowKey).Result()
	if err != nil {
		log.Warnf("[Billing] sync window unavailable, syncing anyway: %v", err)
		return true
	}
	if n > 0 {
		return false
	}
	ok, err := w.client.SetNX(ctx, redisWindowLockKey, strconv.FormatInt(w.clock.Now().Unix(), 10), redisWindowLockTTL).Result()
	if err != nil {
		log.Warnf("[Billing] sync window lock failed, syncing anyway: %v", err)
		return true
	}
	return ok
}

func (w *RedisWindow) MarkSynced(ctx context.Context) {
	now := strconv.FormatInt(w.clock.Now().Unix(), 10)
	pipe := w.client.TxPipeline()
	pipe.Set(ctx, redisWindowKey, now, w.interval)
	pipe.Del(ctx, redisWindowLockKey)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("[Billing] failed to record catalog sync: %v", err)
	}
}
