package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/model"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/repository"
	apperrors "github.com/cedrick13bienvenue/prescripto-sub000/pkg/errors"
)

type prescriptionRepository struct {
	BaseRepository
}

func NewPrescriptionRepository(base BaseRepository) repository.PrescriptionRepository {
	return &prescriptionRepository{base}
}

func (r *prescriptionRepository) CreateWithToken(ctx context.Context, p *model.Prescription, token *model.IssuedToken, event *model.OutboxEvent) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO prescriptions (
				id, reference_number, patient_id, patient_reference, patient_name,
				patient_email, doctor_id, doctor_name, diagnosis, status,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`
		_, err := tx.ExecContext(ctx, query,
			p.ID, p.ReferenceNumber, p.PatientID, p.PatientReference, p.PatientName,
			p.PatientEmail, p.DoctorID, p.DoctorName, p.Diagnosis, p.Status,
			p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create prescription: %w", err)
		}

		for _, item := range p.Items {
			if err := insertItem(ctx, tx, item); err != nil {
				return err
			}
		}

		if err := insertToken(ctx, tx, token); err != nil {
			return err
		}

		if event != nil {
			if err := insertOutboxEvent(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertItem(ctx context.Context, tx *sqlx.Tx, item *model.PrescriptionItem) error {
	query := `
		INSERT INTO prescription_items (
			id, prescription_id, medicine_name, dosage, frequency, quantity,
			unit_price, batch_number, expiry_date, is_dispensed, dispensed_quantity
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := tx.ExecContext(ctx, query,
		item.ID, item.PrescriptionID, item.MedicineName, item.Dosage,
		item.Frequency, item.Quantity, item.UnitPrice, item.BatchNumber,
		item.ExpiryDate, item.IsDispensed, item.DispensedQuantity,
	)
	if err != nil {
		return fmt.Errorf("failed to create prescription item: %w", err)
	}
	return nil
}

func (r *prescriptionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Prescription, error) {
	var p model.Prescription
	query := `SELECT * FROM prescriptions WHERE id = $1`
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("prescription", err)
		}
		return nil, fmt.Errorf("failed to get prescription: %w", err)
	}

	if err := r.loadItems(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *prescriptionRepository) GetLatestForPatientReference(ctx context.Context, patientRef string) (*model.Prescription, error) {
	var p model.Prescription
	query := `
		SELECT * FROM prescriptions
		WHERE patient_reference = $1
		AND status NOT IN ('FULFILLED', 'REJECTED', 'CANCELLED', 'EXPIRED')
		ORDER BY created_at DESC
		LIMIT 1
	`
	if err := r.db.GetContext(ctx, &p, query, patientRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("prescription", err)
		}
		return nil, fmt.Errorf("failed to get prescription by patient reference: %w", err)
	}

	if err := r.loadItems(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *prescriptionRepository) loadItems(ctx context.Context, p *model.Prescription) error {
	query := `
		SELECT * FROM prescription_items
		WHERE prescription_id = $1
		ORDER BY medicine_name ASC
	`
	if err := r.db.SelectContext(ctx, &p.Items, query, p.ID); err != nil {
		return fmt.Errorf("failed to load prescription items: %w", err)
	}
	return nil
}

// SaveTransition applies one state change atomically. The status is
// re-read under FOR UPDATE so two concurrent transitions on the same
// prescription cannot both succeed.
func (r *prescriptionRepository) SaveTransition(ctx context.Context, t *repository.Transition) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var current model.PrescriptionStatus
		lockQuery := `SELECT status FROM prescriptions WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &current, lockQuery, t.PrescriptionID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.NotFound("prescription", err)
			}
			return fmt.Errorf("failed to lock prescription: %w", err)
		}

		if !statusAllowed(current, t.ExpectedFrom) {
			return apperrors.ConcurrencyConflict("prescription")
		}

		updateQuery := `
			UPDATE prescriptions
			SET status = $1,
				total_amount = COALESCE($2, total_amount),
				updated_at = NOW()
			WHERE id = $3
		`
		if _, err := tx.ExecContext(ctx, updateQuery, t.NewStatus, t.TotalAmount, t.PrescriptionID); err != nil {
			return fmt.Errorf("failed to update prescription status: %w", err)
		}

		for _, iu := range t.ItemUpdates {
			itemQuery := `
				UPDATE prescription_items
				SET is_dispensed = TRUE,
					dispensed_quantity = $1,
					unit_price = $2,
					batch_number = COALESCE($3, batch_number)
				WHERE id = $4 AND prescription_id = $5
			`
			res, err := tx.ExecContext(ctx, itemQuery,
				iu.DispensedQuantity, iu.UnitPrice, iu.BatchNumber,
				iu.ItemID, t.PrescriptionID,
			)
			if err != nil {
				return fmt.Errorf("failed to update prescription item: %w", err)
			}
			rows, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if rows == 0 {
				return apperrors.NotFound("prescription item", nil)
			}
		}

		for _, entry := range t.LogEntries {
			if err := insertLogEntry(ctx, tx, entry); err != nil {
				return err
			}
		}

		if t.Token != nil {
			if err := applyTokenUpdate(ctx, tx, t.Token); err != nil {
				return err
			}
		}

		if t.OutboxEvent != nil {
			if err := insertOutboxEvent(ctx, tx, t.OutboxEvent); err != nil {
				return err
			}
		}
		return nil
	})
}

func statusAllowed(current model.PrescriptionStatus, allowed []model.PrescriptionStatus) bool {
	for _, s := range allowed {
		if current == s {
			return true
		}
	}
	return false
}

func applyTokenUpdate(ctx context.Context, tx *sqlx.Tx, tu *repository.TokenUpdate) error {
	query := `
		UPDATE issued_tokens
		SET scan_count = scan_count + CASE WHEN $1 THEN 1 ELSE 0 END,
			is_used = is_used OR $2,
			updated_at = NOW()
		WHERE token_hash = $3
	`
	res, err := tx.ExecContext(ctx, query, tu.IncrementScan, tu.MarkUsed, tu.TokenHash)
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.NotFound("token", nil)
	}
	return nil
}

func (r *prescriptionRepository) ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT p.id
		FROM prescriptions p
		JOIN issued_tokens t ON t.prescription_id = p.id
		WHERE t.expires_at <= $1
		AND p.status IN ('PENDING', 'SCANNED', 'VALIDATED')
		ORDER BY t.expires_at ASC
		LIMIT $2
	`
	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list expiry candidates: %w", err)
	}
	return ids, nil
}
