package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/model"
)

// ItemUpdate carries dispensing mutations for a single prescription item.
type ItemUpdate struct {
	ItemID            uuid.UUID
	DispensedQuantity int
	UnitPrice         float64
	BatchNumber       *string
}

// TokenUpdate carries token bookkeeping applied inside a transition.
type TokenUpdate struct {
	TokenHash     string
	IncrementScan bool
	MarkUsed      bool
}

// Transition describes one atomic prescription state change: status update,
// item mutations, pharmacy log appends, token bookkeeping and the outbox
// event all commit together or not at all. ExpectedFrom is re-checked under
// a row lock; a mismatch means a concurrent writer won the race.
type Transition struct {
	PrescriptionID uuid.UUID
	ExpectedFrom   []model.PrescriptionStatus
	NewStatus      model.PrescriptionStatus
	TotalAmount    *float64
	ItemUpdates    []ItemUpdate
	LogEntries     []*model.PharmacyLogEntry
	Token          *TokenUpdate
	OutboxEvent    *model.OutboxEvent
}

// All repository interfaces in one file
type (
	PrescriptionRepository interface {
		// CreateWithToken inserts the prescription, its items, the issued
		// token and the issuance outbox event in a single transaction.
		CreateWithToken(ctx context.Context, p *model.Prescription, token *model.IssuedToken, event *model.OutboxEvent) error
		Get(ctx context.Context, id uuid.UUID) (*model.Prescription, error)
		// GetLatestForPatientReference returns the most recent non-terminal
		// prescription for a patient reference number.
		GetLatestForPatientReference(ctx context.Context, patientRef string) (*model.Prescription, error)
		SaveTransition(ctx context.Context, t *Transition) error
		ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	}

	TokenRepository interface {
		GetByHash(ctx context.Context, tokenHash string) (*model.IssuedToken, error)
		GetForPrescription(ctx context.Context, prescriptionID uuid.UUID) (*model.IssuedToken, error)
		// Upsert replaces the prescription's token only when the stored one
		// has expired; a live token is left unchanged.
		Upsert(ctx context.Context, token *model.IssuedToken) error
	}

	PharmacyLogRepository interface {
		Append(ctx context.Context, entry *model.PharmacyLogEntry) error
		ListForPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*model.PharmacyLogEntry, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		BeginTx(ctx context.Context) (*sql.Tx, error)
		UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, status string, errorMessage *string, retryAt *time.Time) error
		MoveToDeadLetter(ctx context.Context, tx *sql.Tx, event *model.OutboxEvent) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
