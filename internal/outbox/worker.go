package outbox

import (
	"context"
	"time"

	"sastabazar-be/internal/messaging"
	"sastabazar-be/internal/metrics"

	"go.uber.org/zap"
)

const (
	batchSize       = 100
	maxAttempts     = 10
	defaultInterval = 2 * time.Second
)

// Worker relays committed events to the publisher.
type Worker struct {
	repo      Repository
	publisher messaging.Publisher
	metrics   *metrics.Registry
	logger    *zap.Logger
	interval  time.Duration
}

func NewWorker(repo Repository, publisher messaging.Publisher, reg *metrics.Registry, logger *zap.Logger, interval time.Duration) *Worker {
	// time.NewTicker panics on a non-positive interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Worker{
		repo:      repo,
		publisher: publisher,
		metrics:   reg,
		logger:    logger,
		interval:  interval,
	}
}

func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("outbox worker started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
			if err := w.process(ctx); err != nil {
				w.logger.Error("failed to process outbox events", zap.Error(err))
			}
		}
	}
}

func (w *Worker) process(ctx context.Context) error {
	events, err := w.repo.FindPending(ctx, batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		// aggregate id as key keeps one order's events ordered
		if err := w.publisher.Publish(ctx, event.EventType, event.AggregateID, event.Payload); err != nil {
			w.metrics.Inc("outbox.publish_failed")
			w.logger.Warn("failed to publish event",
				zap.Int64("event_id", event.ID),
				zap.String("event_type", event.EventType),
				zap.Int("attempts", event.Attempts+1),
				zap.Error(err))

			if mErr := w.repo.MarkFailed(ctx, event.ID, err.Error(), maxAttempts); mErr != nil {
				w.logger.Error("failed to record publish failure", zap.Int64("event_id", event.ID), zap.Error(mErr))
			}
			continue
		}

		w.metrics.Inc("outbox.published")
		if err := w.repo.MarkSent(ctx, event.ID); err != nil {
			w.logger.Error("failed to mark event as sent",
				zap.Int64("event_id", event.ID),
				zap.Error(err))
		}
	}

	return nil
}
