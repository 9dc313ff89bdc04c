package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusRetry     OutboxStatus = "retry"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Outbox event types emitted by the prescription lifecycle.
const (
	EventPrescriptionIssued    = "prescription.issued"
	EventPrescriptionDispensed = "prescription.dispensed"
	EventPrescriptionRejected  = "prescription.rejected"
	EventPrescriptionCancelled = "prescription.cancelled"

	// EventEmailDeliveryFailed records a permanently failed issuance email
	// so operations can follow up out of band.
	EventEmailDeliveryFailed = "email.delivery_failed"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       string          `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
}

// PrescriptionIssuedEvent is the payload of EventPrescriptionIssued; the
// email worker consumes it to deliver the QR code to the patient.
type PrescriptionIssuedEvent struct {
	PrescriptionID  uuid.UUID `json:"prescription_id"`
	ReferenceNumber string    `json:"reference_number"`
	PatientName     string    `json:"patient_name"`
	PatientEmail    string    `json:"patient_email"`
	TokenHash       string    `json:"token_hash"`
	ExpiresAt       time.Time `json:"expires_at"`
}
