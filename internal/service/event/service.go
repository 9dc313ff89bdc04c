package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/model"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/repository"
)

// Service appends domain events to the transactional outbox. Delivery is
// the relay worker's job; nothing is published inline.
type Service struct {
	outboxRepo repository.OutboxRepository
}

func NewService(outboxRepo repository.OutboxRepository) *Service {
	return &Service{outboxRepo: outboxRepo}
}

func (s *Service) Emit(ctx context.Context, eventType string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   payloadJSON,
	}

	if err := s.outboxRepo.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}
