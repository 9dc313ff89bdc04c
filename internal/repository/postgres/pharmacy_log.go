package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/model"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/repository"
)

type pharmacyLogRepository struct {
	BaseRepository
}

func NewPharmacyLogRepository(base BaseRepository) repository.PharmacyLogRepository {
	return &pharmacyLogRepository{base}
}

func (r *pharmacyLogRepository) Append(ctx context.Context, entry *model.PharmacyLogEntry) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		return insertLogEntry(ctx, tx, entry)
	})
}

func insertLogEntry(ctx context.Context, tx *sqlx.Tx, entry *model.PharmacyLogEntry) error {
	query := `
		INSERT INTO pharmacy_logs (
			id, prescription_id, actor_id, action, notes,
			unit_price, total_amount, insurance_coverage, patient_payment,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.ExecContext(ctx, query,
		entry.ID, entry.PrescriptionID, entry.ActorID, entry.Action, entry.Notes,
		entry.UnitPrice, entry.TotalAmount, entry.InsuranceCoverage, entry.PatientPayment,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append pharmacy log: %w", err)
	}
	return nil
}

func (r *pharmacyLogRepository) ListForPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*model.PharmacyLogEntry, error) {
	query := `
		SELECT * FROM pharmacy_logs
		WHERE prescription_id = $1
		ORDER BY created_at ASC
	`
	var entries []*model.PharmacyLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, prescriptionID); err != nil {
		return nil, fmt.Errorf("failed to list pharmacy logs: %w", err)
	}
	return entries, nil
}
