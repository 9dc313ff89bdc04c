package model

import (
	"time"

	"github.com/google/uuid"
)

type PharmacyAction string

const (
	PharmacyActionScan      PharmacyAction = "SCAN"
	PharmacyActionScanned   PharmacyAction = "SCANNED"
	PharmacyActionValidated PharmacyAction = "VALIDATED"
	PharmacyActionDispensed PharmacyAction = "DISPENSED"
	PharmacyActionFulfilled PharmacyAction = "FULFILLED"
	PharmacyActionRejected  PharmacyAction = "REJECTED"
	PharmacyActionCancelled PharmacyAction = "CANCELLED"
)

// PharmacyLogEntry is an append-only audit record of a pharmacy action.
// Entries are never mutated or deleted after insert.
type PharmacyLogEntry struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	PrescriptionID    uuid.UUID      `json:"prescription_id" db:"prescription_id"`
	ActorID           uuid.UUID      `json:"actor_id" db:"actor_id"`
	Action            PharmacyAction `json:"action" db:"action"`
	Notes             string         `json:"notes" db:"notes"`
	UnitPrice         *float64       `json:"unit_price,omitempty" db:"unit_price"`
	TotalAmount       *float64       `json:"total_amount,omitempty" db:"total_amount"`
	InsuranceCoverage *float64       `json:"insurance_coverage,omitempty" db:"insurance_coverage"`
	PatientPayment    *float64       `json:"patient_payment,omitempty" db:"patient_payment"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
}

type DispenseItemRequest struct {
	ItemID      string   `json:"item_id" binding:"required,uuid"`
	Quantity    int      `json:"quantity" binding:"required,gt=0"`
	UnitPrice   float64  `json:"unit_price" binding:"gte=0"`
	BatchNumber *string  `json:"batch_number,omitempty"`
}

type DispenseRequest struct {
	Items             []DispenseItemRequest `json:"items" binding:"required,min=1,dive"`
	Notes             string                `json:"notes"`
	InsuranceCoverage *float64              `json:"insurance_coverage,omitempty"`
}

type ValidateRequest struct {
	Notes string `json:"notes"`
}

type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type ScanRequest struct {
	TokenHash string `json:"token_hash" binding:"required"`
}

// ScanResult is returned to the pharmacist after a successful scan or
// reference lookup.
type ScanResult struct {
	Valid        bool                  `json:"valid"`
	CanDispense  bool                  `json:"can_dispense"`
	Message      string                `json:"message,omitempty"`
	Prescription *Prescription         `json:"prescription,omitempty"`
	Snapshot     *PrescriptionSnapshot `json:"snapshot,omitempty"`
	ScanCount    int                   `json:"scan_count,omitempty"`
}
