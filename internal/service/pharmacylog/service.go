package pharmacylog

import (
	"context"

	"github.com/google/uuid"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/model"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/repository"
)

// Service reads the append-only pharmacy audit trail. Writes happen inside
// lifecycle transactions; this service only exposes the history.
type Service struct {
	repo repository.PharmacyLogRepository
}

func NewService(repo repository.PharmacyLogRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) ListForPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*model.PharmacyLogEntry, error) {
	return s.repo.ListForPrescription(ctx, prescriptionID)
}
