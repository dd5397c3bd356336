package jobqueue

import (
	"context"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberVault/internal/pkg/billing"
)

// Dispatcher hands webhook actions to the queue, or runs them inline when no
// queue is available.
type Dispatcher struct {
	queue     *Queue
	processor Processor
	available func(ctx context.Context) bool
}

// NewDispatcher creates a dispatcher. A nil queue always runs inline;
// available reports whether the queue backend can take work right now.
func NewDispatcher(queue *Queue, processor Processor, available func(ctx context.Context) bool) *Dispatcher {
	if available == nil {
		available = func(context.Context) bool { return queue != nil }
	}
	return &Dispatcher{queue: queue, processor: processor, available: available}
}

// Dispatch queues or performs an action and reports whether it was queued.
// Inline execution marks the webhook event itself; queued work is marked by
// the worker that finishes it.
func (d *Dispatcher) Dispatch(ctx context.Context, webhookEventID uint, action billing.EventAction) (bool, error) {
	if action.Kind == billing.ActionNone {
		if webhookEventID != 0 {
			return false, d.processor.MarkWebhookProcessed(ctx, webhookEventID, nil)
		}
		return false, nil
	}

	if d.queue != nil && d.available(ctx) {
		_, err := d.queue.EnqueueAction(ctx, webhookEventID, action)
		if err == nil {
			return true, nil
		}
		log.Warnf("[JobQueue] enqueue failed, processing %s inline: %v", action.Kind, err)
	}

	procErr := d.processor.Perform(ctx, action)
	if webhookEventID != 0 {
		if err := d.processor.MarkWebhookProcessed(ctx, webhookEventID, procErr); err != nil {
			log.Errorf("[JobQueue] Failed to mark webhook event %d processed: %v", webhookEventID, err)
		}
	}
	return false, procErr
}

// SyncUser queues or runs a user subscription sweep.
func (d *Dispatcher) SyncUser(ctx context.Context, userID uint) (bool, error) {
	if d.queue != nil && d.available(ctx) {
		if _, err := d.queue.EnqueueUserSync(ctx, userID); err == nil {
			return true, nil
		}
	}
	return false, d.processor.SyncUserSubscriptions(ctx, userID)
}
