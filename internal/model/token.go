package model

import (
	"time"

	"github.com/google/uuid"
)

// IssuedToken is the stored QR credential for a prescription. At most one
// unexpired token exists per prescription; it is never deleted, only aged out.
type IssuedToken struct {
	ID               uuid.UUID `json:"id" db:"id"`
	PrescriptionID   uuid.UUID `json:"prescription_id" db:"prescription_id"`
	TokenHash        string    `json:"token_hash" db:"token_hash"`
	EncryptedPayload []byte    `json:"-" db:"encrypted_payload"`
	ExpiresAt        time.Time `json:"expires_at" db:"expires_at"`
	IsUsed           bool      `json:"is_used" db:"is_used"`
	ScanCount        int       `json:"scan_count" db:"scan_count"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// IsExpired reports whether the token has aged out at the given instant.
// A token expiring exactly now is already expired.
func (t *IssuedToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// PrescriptionSnapshot is the immutable copy of prescription data sealed
// into a token at issuance time.
type PrescriptionSnapshot struct {
	PrescriptionID  uuid.UUID      `json:"prescription_id"`
	ReferenceNumber string         `json:"reference_number"`
	PatientName     string         `json:"patient_name"`
	DoctorName      string         `json:"doctor_name"`
	Diagnosis       string         `json:"diagnosis"`
	Items           []SnapshotItem `json:"items"`
	IssuedAt        time.Time      `json:"issued_at"`
	ExpiresAt       time.Time      `json:"expires_at"`
}

type SnapshotItem struct {
	MedicineName string `json:"medicine_name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Quantity     int    `json:"quantity"`
}
