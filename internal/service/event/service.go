package event

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository"
	"github.com/jwalitptl/settlement-api/pkg/logger"
)

// Service writes domain events to the outbox. Callers pass the outbox bound
// to their transaction so the event commits or rolls back with the change.
type Service struct {
	logger *logger.Logger
}

func NewService(log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{logger: log}
}

func (s *Service) Emit(ctx context.Context, outbox repository.OutboxRepository, aggregateType string, aggregateID uuid.UUID, eventType string, payload interface{}) error {
	event, err := model.NewOutboxEvent(aggregateType, aggregateID, eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	if err := outbox.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	s.logger.Debug("Queued event",
		"event_id", event.ID.String(),
		"event_type", eventType,
		"aggregate_id", aggregateID.String())
	return nil
}
