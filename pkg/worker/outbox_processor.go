package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/model"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/repository"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/logger"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/messaging"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/metrics"
)

type OutboxProcessorConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
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

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: metrics,
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
			if err := p.processEvents(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

func (p *OutboxProcessor) processEvents(ctx context.Context) error {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.GetPendingEventsWithLock(ctx, p.config.BatchSize)
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "error").Inc()
		return fmt.Errorf("failed to get pending events: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "success").Inc()

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
			continue
		}
	}

	return nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	err := p.broker.Publish(ctx, event.EventType, event.Payload)
	if err != nil {
		return p.handleFailure(ctx, event, err)
	}

	p.metrics.OutboxEventsProcessed.Inc()
	if err := p.repo.UpdateStatusTx(ctx, nil, event.ID, string(model.OutboxStatusProcessed), nil, nil); err != nil {
		p.logger.Error(err, "Failed to update event status", "event_id", event.ID.String())
		return err
	}

	return nil
}

// handleFailure schedules a retry with linear backoff; once the attempt
// budget is exhausted the event moves to the dead letter table so the
// failure stays observable.
func (p *OutboxProcessor) handleFailure(ctx context.Context, event *model.OutboxEvent, pubErr error) error {
	p.metrics.OutboxEventsFailed.Inc()
	p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()

	if event.RetryCount+1 >= p.config.RetryAttempts {
		if dlErr := p.repo.MoveToDeadLetter(ctx, nil, event); dlErr != nil {
			p.logger.Error(dlErr, "Failed to move event to dead letter", "event_id", event.ID.String())
			return dlErr
		}
		errMsg := pubErr.Error()
		if updateErr := p.repo.UpdateStatusTx(ctx, nil, event.ID, string(model.OutboxStatusFailed), &errMsg, nil); updateErr != nil {
			p.logger.Error(updateErr, "Failed to update event status")
		}
		return pubErr
	}

	errMsg := pubErr.Error()
	retryAt := time.Now().Add(p.config.RetryDelay * time.Duration(event.RetryCount+1))
	if updateErr := p.repo.UpdateStatusTx(ctx, nil, event.ID, string(model.OutboxStatusRetry), &errMsg, &retryAt); updateErr != nil {
		p.logger.Error(updateErr, "Failed to update event status")
	}
	return pubErr
}

// CleanupProcessed deletes relayed events older than the retention window.
func (p *OutboxProcessor) CleanupProcessed(ctx context.Context, retention time.Duration) error {
	count, err := p.repo.DeleteProcessedBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return fmt.Errorf("failed to cleanup processed events: %w", err)
	}
	if count > 0 {
		p.logger.Info("Cleaned up processed outbox events", "count", count)
	}
	return nil
}
