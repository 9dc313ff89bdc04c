package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/model"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/repository"
	apperrors "github.com/cedrick13bienvenue/prescripto-sub000/pkg/errors"
)

type tokenRepository struct {
	BaseRepository
}

func NewTokenRepository(base BaseRepository) repository.TokenRepository {
	return &tokenRepository{base}
}

func (r *tokenRepository) GetByHash(ctx context.Context, tokenHash string) (*model.IssuedToken, error) {
	var token model.IssuedToken
	query := `SELECT * FROM issued_tokens WHERE token_hash = $1`
	if err := r.db.GetContext(ctx, &token, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("token", err)
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &token, nil
}

func (r *tokenRepository) GetForPrescription(ctx context.Context, prescriptionID uuid.UUID) (*model.IssuedToken, error) {
	var token model.IssuedToken
	query := `SELECT * FROM issued_tokens WHERE prescription_id = $1`
	if err := r.db.GetContext(ctx, &token, query, prescriptionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("token", err)
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &token, nil
}

// Upsert inserts the token, or replaces the prescription's stored token
// only when that one has already expired. Two racing issue requests
// therefore converge on a single live token.
func (r *tokenRepository) Upsert(ctx context.Context, token *model.IssuedToken) error {
	query := `
		INSERT INTO issued_tokens (
			id, prescription_id, token_hash, encrypted_payload, expires_at,
			is_used, scan_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, FALSE, 0, NOW(), NOW())
		ON CONFLICT (prescription_id) DO UPDATE
		SET token_hash = EXCLUDED.token_hash,
			encrypted_payload = EXCLUDED.encrypted_payload,
			expires_at = EXCLUDED.expires_at,
			is_used = FALSE,
			scan_count = 0,
			updated_at = NOW()
		WHERE issued_tokens.expires_at <= NOW()
	`
	_, err := r.db.ExecContext(ctx, query,
		token.ID, token.PrescriptionID, token.TokenHash,
		token.EncryptedPayload, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert token: %w", err)
	}
	return nil
}

func insertToken(ctx context.Context, tx *sqlx.Tx, token *model.IssuedToken) error {
	query := `
		INSERT INTO issued_tokens (
			id, prescription_id, token_hash, encrypted_payload, expires_at,
			is_used, scan_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, FALSE, 0, NOW(), NOW())
	`
	_, err := tx.ExecContext(ctx, query,
		token.ID, token.PrescriptionID, token.TokenHash,
		token.EncryptedPayload, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}
