package model

import (
	"time"

	"github.com/google/uuid"
)

type PrescriptionStatus string

const (
	PrescriptionStatusPending   PrescriptionStatus = "PENDING"
	PrescriptionStatusScanned   PrescriptionStatus = "SCANNED"
	PrescriptionStatusValidated PrescriptionStatus = "VALIDATED"
	PrescriptionStatusDispensed PrescriptionStatus = "DISPENSED"
	PrescriptionStatusFulfilled PrescriptionStatus = "FULFILLED"
	PrescriptionStatusRejected  PrescriptionStatus = "REJECTED"
	PrescriptionStatusCancelled PrescriptionStatus = "CANCELLED"
	PrescriptionStatusExpired   PrescriptionStatus = "EXPIRED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s PrescriptionStatus) IsTerminal() bool {
	switch s {
	case PrescriptionStatusFulfilled, PrescriptionStatusRejected,
		PrescriptionStatusCancelled, PrescriptionStatusExpired:
		return true
	}
	return false
}

// Prescription is a clinical order issued by a doctor for a patient.
// Patient and doctor display fields are denormalized at creation time so
// the pharmacy workflow never depends on a join being available.
type Prescription struct {
	Base
	ReferenceNumber  string              `json:"reference_number" db:"reference_number"`
	PatientID        uuid.UUID           `json:"patient_id" db:"patient_id"`
	PatientReference string              `json:"patient_reference" db:"patient_reference"`
	PatientName      string              `json:"patient_name" db:"patient_name"`
	PatientEmail     string              `json:"patient_email" db:"patient_email"`
	DoctorID         uuid.UUID           `json:"doctor_id" db:"doctor_id"`
	DoctorName       string              `json:"doctor_name" db:"doctor_name"`
	Diagnosis        string              `json:"diagnosis" db:"diagnosis"`
	Status           PrescriptionStatus  `json:"status" db:"status"`
	TotalAmount      *float64            `json:"total_amount,omitempty" db:"total_amount"`
	Items            []*PrescriptionItem `json:"items" db:"-"`
}

// PrescriptionItem is a single medicine line. Dispensing fields are
// mutable only while the prescription is being dispensed.
type PrescriptionItem struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	PrescriptionID    uuid.UUID  `json:"prescription_id" db:"prescription_id"`
	MedicineName      string     `json:"medicine_name" db:"medicine_name"`
	Dosage            string     `json:"dosage" db:"dosage"`
	Frequency         string     `json:"frequency" db:"frequency"`
	Quantity          int        `json:"quantity" db:"quantity"`
	UnitPrice         *float64   `json:"unit_price,omitempty" db:"unit_price"`
	BatchNumber       *string    `json:"batch_number,omitempty" db:"batch_number"`
	ExpiryDate        *time.Time `json:"expiry_date,omitempty" db:"expiry_date"`
	IsDispensed       bool       `json:"is_dispensed" db:"is_dispensed"`
	DispensedQuantity int        `json:"dispensed_quantity" db:"dispensed_quantity"`
}

type CreatePrescriptionRequest struct {
	PatientID        string                          `json:"patient_id" binding:"required,uuid"`
	PatientReference string                          `json:"patient_reference" binding:"required,patientref"`
	PatientName      string                          `json:"patient_name" binding:"required"`
	PatientEmail     string                          `json:"patient_email" binding:"required,email"`
	DoctorName       string                          `json:"doctor_name" binding:"required"`
	Diagnosis        string                          `json:"diagnosis"`
	Items            []CreatePrescriptionItemRequest `json:"items" binding:"required,min=1,dive"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type CreatePrescriptionItemRequest struct {
	MedicineName string `json:"medicine_name" binding:"required"`
	Dosage       string `json:"dosage" binding:"required"`
	Frequency    string `json:"frequency" binding:"required"`
	Quantity     int    `json:"quantity" binding:"required,gt=0"`
}
