package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository"
	"github.com/jwalitptl/settlement-api/pkg/logger"
	"github.com/jwalitptl/settlement-api/pkg/messaging"
	"github.com/jwalitptl/settlement-api/pkg/metrics"
)

type OutboxProcessorConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// PublishPerSecond caps the publish rate; zero means unlimited.
	PublishPerSecond float64
	PublishBurst     int
}

// OutboxProcessor relays pending outbox events to the broker. Each batch is
// claimed and updated inside one transaction so two processors never publish
// the same event.
type OutboxProcessor struct {
	store   repository.Store
	broker  messaging.Broker
	config  OutboxProcessorConfig
	limiter *rate.Limiter
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOutboxProcessor(
	store repository.Store,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	// Config validation instead of defaults
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}

	limit := rate.Inf
	burst := config.PublishBurst
	if config.PublishPerSecond > 0 {
		limit = rate.Limit(config.PublishPerSecond)
		if burst <= 0 {
			burst = 1
		}
	}

	return &OutboxProcessor{
		store:   store,
		broker:  broker,
		config:  config,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessBatch publishes one batch and returns how many events were
// published.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	published := 0
	err := p.store.WithTx(ctx, func(tx repository.Repositories) error {
		events, err := tx.Outbox().GetPendingEventsWithLock(ctx, p.config.BatchSize)
		if err != nil {
			p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "error").Inc()
			return fmt.Errorf("failed to get pending events: %w", err)
		}
		p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "success").Inc()

		for _, event := range events {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
			ok, err := p.processEvent(ctx, tx.Outbox(), event)
			if err != nil {
				return err
			}
			if ok {
				published++
			}
		}
		return nil
	})
	return published, err
}

// processEvent reports whether the event was published. Publish failures
// are recorded on the event and only a failed status update is returned.
func (p *OutboxProcessor) processEvent(ctx context.Context, repo repository.OutboxRepository, event *model.OutboxEvent) (bool, error) {
	if pubErr := p.publish(ctx, event); pubErr != nil {
		errStr := pubErr.Error()
		status := model.OutboxStatusPending
		var retryAt *time.Time
		if event.RetryCount+1 >= p.config.RetryAttempts {
			status = model.OutboxStatusFailed
			p.metrics.OutboxEventsFailed.Inc()
		} else {
			at := p.now().Add(p.backoff(event.RetryCount))
			retryAt = &at
			p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
		}
		p.logger.Error(pubErr, "Failed to publish event",
			"event_id", event.ID.String(),
			"event_type", event.EventType,
			"retry_count", event.RetryCount+1)

		if err := repo.UpdateStatus(ctx, event.ID, status, &errStr, retryAt); err != nil {
			return false, fmt.Errorf("failed to update event status: %w", err)
		}
		return false, nil
	}

	p.metrics.OutboxEventsProcessed.Inc()
	if err := repo.UpdateStatus(ctx, event.ID, model.OutboxStatusProcessed, nil, nil); err != nil {
		return false, fmt.Errorf("failed to update event status: %w", err)
	}
	return true, nil
}

func (p *OutboxProcessor) publish(ctx context.Context, event *model.OutboxEvent) error {
	body, err := json.Marshal(messaging.Message{
		ID:            event.ID.String(),
		Type:          event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID.String(),
		Payload:       event.Payload,
		OccurredAt:    event.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return p.broker.Publish(ctx, event.EventType, body)
}

// backoff doubles the retry delay per attempt.
func (p *OutboxProcessor) backoff(attempt int) time.Duration {
	if attempt > 10 {
		attempt = 10
	}
	return p.config.RetryDelay << uint(attempt)
}
