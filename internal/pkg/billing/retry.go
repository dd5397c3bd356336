package billing

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// retryOnForeignKey runs op and retries it with a constant delay while it
// fails with a foreign key violation. Any other error stops immediately.
func retryOnForeignKey(ctx context.Context, label string, retries uint64, delay time.Duration, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), retries), ctx)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			log.Warnf("[Billing] %s hit a foreign key violation (attempt %d/%d)", label, attempt, retries+1)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
