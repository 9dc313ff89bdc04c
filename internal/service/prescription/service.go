package prescription

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/model"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/repository"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/service/token"
	apperrors "github.com/cedrick13bienvenue/prescripto-sub000/pkg/errors"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/metrics"
)

// Business rules
const (
	// MaxPrescriptionAge bounds reference lookups: anything older is
	// invalid even if nominally PENDING.
	MaxPrescriptionAge = 30 * 24 * time.Hour

	DefaultTokenTTL = 72 * time.Hour
)

type Service struct {
	repo     repository.PrescriptionRepository
	tokens   repository.TokenRepository
	logs     repository.PharmacyLogRepository
	codec    *token.Codec
	tokenTTL time.Duration
	metrics  *metrics.Metrics
}

func NewService(
	repo repository.PrescriptionRepository,
	tokens repository.TokenRepository,
	logs repository.PharmacyLogRepository,
	codec *token.Codec,
	tokenTTL time.Duration,
	m *metrics.Metrics,
) *Service {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &Service{
		repo:     repo,
		tokens:   tokens,
		logs:     logs,
		codec:    codec,
		tokenTTL: tokenTTL,
		metrics:  m,
	}
}

// CreatePrescription inserts the prescription with its items, mints the QR
// token and records the issuance event, all in one transaction.
func (s *Service) CreatePrescription(ctx context.Context, req *model.CreatePrescriptionRequest, doctorID uuid.UUID) (*model.Prescription, error) {
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return nil, apperrors.ValidationFailed("invalid patient id", err)
	}
	if len(req.Items) == 0 {
		return nil, apperrors.ValidationFailed("prescription needs at least one item", nil)
	}

	now := time.Now()
	p := &model.Prescription{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		ReferenceNumber:  generateReferenceNumber(now),
		PatientID:        patientID,
		PatientReference: strings.TrimSpace(req.PatientReference),
		PatientName:      req.PatientName,
		PatientEmail:     req.PatientEmail,
		DoctorID:         doctorID,
		DoctorName:       req.DoctorName,
		Diagnosis:        req.Diagnosis,
		Status:           model.PrescriptionStatusPending,
	}

	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, apperrors.ValidationFailed(fmt.Sprintf("item %s must have quantity > 0", item.MedicineName), nil)
		}
		p.Items = append(p.Items, &model.PrescriptionItem{
			ID:             uuid.New(),
			PrescriptionID: p.ID,
			MedicineName:   item.MedicineName,
			Dosage:         item.Dosage,
			Frequency:      item.Frequency,
			Quantity:       item.Quantity,
		})
	}

	minted, err := s.codec.Mint(s.snapshotOf(p), s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to mint token: %w", err)
	}

	issued := &model.IssuedToken{
		ID:               uuid.New(),
		PrescriptionID:   p.ID,
		TokenHash:        minted.TokenHash,
		EncryptedPayload: minted.EncryptedPayload,
		ExpiresAt:        minted.ExpiresAt,
	}

	event, err := issuedEvent(p, issued)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateWithToken(ctx, p, issued, event); err != nil {
		return nil, fmt.Errorf("failed to create prescription: %w", err)
	}

	if s.metrics != nil {
		s.metrics.TokensMinted.Inc()
		s.metrics.Transitions.WithLabelValues(string(model.PrescriptionStatusPending)).Inc()
	}
	return p, nil
}

// IssueToken returns the prescription's live token, minting a replacement
// only when the stored one has expired. Issuing while a valid token exists
// returns the existing token unchanged.
func (s *Service) IssueToken(ctx context.Context, prescriptionID uuid.UUID) (*model.IssuedToken, error) {
	p, err := s.repo.Get(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return nil, apperrors.InvalidStateTransition(string(p.Status), string(model.PrescriptionStatusPending))
	}

	existing, err := s.tokens.GetForPrescription(ctx, prescriptionID)
	if err == nil && !existing.IsExpired(time.Now()) {
		return existing, nil
	}
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	minted, err := s.codec.Mint(s.snapshotOf(p), s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to mint token: %w", err)
	}

	replacement := &model.IssuedToken{
		ID:               uuid.New(),
		PrescriptionID:   prescriptionID,
		TokenHash:        minted.TokenHash,
		EncryptedPayload: minted.EncryptedPayload,
		ExpiresAt:        minted.ExpiresAt,
	}
	if err := s.tokens.Upsert(ctx, replacement); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.TokensMinted.Inc()
	}

	// Re-read: a concurrent issuer may have won the upsert.
	return s.tokens.GetForPrescription(ctx, prescriptionID)
}

// Scan verifies a submitted token hash and moves a PENDING prescription to
// SCANNED. Re-scanning a SCANNED prescription is a logged no-op; both paths
// bump the scan counter.
func (s *Service) Scan(ctx context.Context, tokenHash string, actorID uuid.UUID) (*model.ScanResult, error) {
	tok, err := s.tokens.GetByHash(ctx, tokenHash)
	if err != nil {
		s.countVerification("not_found")
		return nil, err
	}

	// Expiry is checked before any decryption for a fast-path rejection.
	if tok.IsExpired(time.Now()) {
		s.countVerification("expired")
		return nil, apperrors.Expired("token has expired", nil)
	}
	if tok.IsUsed {
		s.countVerification("consumed")
		return nil, apperrors.AlreadyConsumed("token has already been used for dispensing")
	}

	snapshot, err := s.codec.Decode(tok.EncryptedPayload)
	if err != nil {
		s.countVerification("corrupt")
		return nil, err
	}

	p, err := s.repo.Get(ctx, tok.PrescriptionID)
	if err != nil {
		s.countVerification("not_found")
		return nil, err
	}

	var action model.PharmacyAction
	switch p.Status {
	case model.PrescriptionStatusPending:
		action = model.PharmacyActionScanned
	case model.PrescriptionStatusScanned:
		// Re-scan: status untouched, logged under the plain SCAN action.
		action = model.PharmacyActionScan
	default:
		s.countVerification("invalid_state")
		return nil, apperrors.InvalidStateTransition(string(p.Status), string(model.PrescriptionStatusScanned))
	}

	err = s.repo.SaveTransition(ctx, &repository.Transition{
		PrescriptionID: p.ID,
		ExpectedFrom:   []model.PrescriptionStatus{p.Status},
		NewStatus:      model.PrescriptionStatusScanned,
		LogEntries: []*model.PharmacyLogEntry{
			newLogEntry(p.ID, actorID, action, "prescription scanned at pharmacy"),
		},
		Token: &repository.TokenUpdate{TokenHash: tok.TokenHash, IncrementScan: true},
	})
	if err != nil {
		return nil, err
	}

	s.countVerification("success")
	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(model.PrescriptionStatusScanned)).Inc()
	}

	p.Status = model.PrescriptionStatusScanned
	return &model.ScanResult{
		Valid:        true,
		CanDispense:  false,
		Prescription: p,
		Snapshot:     snapshot,
		ScanCount:    tok.ScanCount + 1,
	}, nil
}

// Validate confirms a scanned prescription is clinically acceptable.
func (s *Service) Validate(ctx context.Context, id uuid.UUID, actorID uuid.UUID, notes string) (*model.Prescription, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PrescriptionStatusScanned {
		return nil, apperrors.InvalidStateTransition(string(p.Status), string(model.PrescriptionStatusValidated))
	}

	err = s.repo.SaveTransition(ctx, &repository.Transition{
		PrescriptionID: p.ID,
		ExpectedFrom:   []model.PrescriptionStatus{model.PrescriptionStatusScanned},
		NewStatus:      model.PrescriptionStatusValidated,
		LogEntries: []*model.PharmacyLogEntry{
			newLogEntry(p.ID, actorID, model.PharmacyActionValidated, notes),
		},
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(model.PrescriptionStatusValidated)).Inc()
	}
	p.Status = model.PrescriptionStatusValidated
	return p, nil
}

// Dispense hands out the medicines, records financial totals, consumes the
// token and fulfills the prescription. DISPENSED and FULFILLED log entries
// commit in the same transaction; a second submission fails on the state
// guard instead of re-applying totals.
func (s *Service) Dispense(ctx context.Context, id uuid.UUID, actorID uuid.UUID, req *model.DispenseRequest) (*model.Prescription, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == model.PrescriptionStatusDispensed || p.Status == model.PrescriptionStatusFulfilled {
		return nil, apperrors.InvalidStateTransition(string(p.Status), string(model.PrescriptionStatusDispensed))
	}
	if p.Status != model.PrescriptionStatusValidated {
		return nil, apperrors.InvalidStateTransition(string(p.Status), string(model.PrescriptionStatusDispensed))
	}

	updates, total, err := buildItemUpdates(p, req.Items)
	if err != nil {
		return nil, err
	}

	tok, err := s.tokens.GetForPrescription(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	patientPayment := total
	if req.InsuranceCoverage != nil {
		patientPayment = total - *req.InsuranceCoverage
		if patientPayment < 0 {
			patientPayment = 0
		}
	}

	dispensedEntry := newLogEntry(p.ID, actorID, model.PharmacyActionDispensed, req.Notes)
	dispensedEntry.TotalAmount = &total
	dispensedEntry.InsuranceCoverage = req.InsuranceCoverage
	dispensedEntry.PatientPayment = &patientPayment

	event, err := outboxEvent(model.EventPrescriptionDispensed, model.JSONMap{
		"prescription_id":  p.ID,
		"reference_number": p.ReferenceNumber,
		"total_amount":     total,
	})
	if err != nil {
		return nil, err
	}

	err = s.repo.SaveTransition(ctx, &repository.Transition{
		PrescriptionID: p.ID,
		ExpectedFrom:   []model.PrescriptionStatus{model.PrescriptionStatusValidated},
		NewStatus:      model.PrescriptionStatusFulfilled,
		TotalAmount:    &total,
		ItemUpdates:    updates,
		LogEntries: []*model.PharmacyLogEntry{
			dispensedEntry,
			newLogEntry(p.ID, actorID, model.PharmacyActionFulfilled, "all items dispensed"),
		},
		Token:       &repository.TokenUpdate{TokenHash: tok.TokenHash, MarkUsed: true},
		OutboxEvent: event,
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(model.PrescriptionStatusFulfilled)).Inc()
	}

	p.Status = model.PrescriptionStatusFulfilled
	p.TotalAmount = &total
	return p, nil
}

// Reject refuses the prescription from any pre-dispense state.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actorID uuid.UUID, reason string) (*model.Prescription, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.ValidationFailed("rejection reason is required", nil)
	}

	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case model.PrescriptionStatusPending, model.PrescriptionStatusScanned, model.PrescriptionStatusValidated:
	default:
		return nil, apperrors.InvalidStateTransition(string(p.Status), string(model.PrescriptionStatusRejected))
	}

	event, err := outboxEvent(model.EventPrescriptionRejected, model.JSONMap{
		"prescription_id":  p.ID,
		"reference_number": p.ReferenceNumber,
		"reason":           reason,
	})
	if err != nil {
		return nil, err
	}

	err = s.repo.SaveTransition(ctx, &repository.Transition{
		PrescriptionID: p.ID,
		ExpectedFrom:   []model.PrescriptionStatus{p.Status},
		NewStatus:      model.PrescriptionStatusRejected,
		LogEntries: []*model.PharmacyLogEntry{
			newLogEntry(p.ID, actorID, model.PharmacyActionRejected, reason),
		},
		OutboxEvent: event,
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(model.PrescriptionStatusRejected)).Inc()
	}
	p.Status = model.PrescriptionStatusRejected
	return p, nil
}

// Cancel withdraws a prescription on the issuing side. Unlike rejection
// the reason is optional; a doctor may simply void an order that has not
// been dispensed yet.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actorID uuid.UUID, reason string) (*model.Prescription, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case model.PrescriptionStatusPending, model.PrescriptionStatusScanned, model.PrescriptionStatusValidated:
	default:
		return nil, apperrors.InvalidStateTransition(string(p.Status), string(model.PrescriptionStatusCancelled))
	}

	notes := strings.TrimSpace(reason)
	if notes == "" {
		notes = "cancelled by prescriber"
	}

	event, err := outboxEvent(model.EventPrescriptionCancelled, model.JSONMap{
		"prescription_id":  p.ID,
		"reference_number": p.ReferenceNumber,
		"reason":           notes,
	})
	if err != nil {
		return nil, err
	}

	err = s.repo.SaveTransition(ctx, &repository.Transition{
		PrescriptionID: p.ID,
		ExpectedFrom:   []model.PrescriptionStatus{p.Status},
		NewStatus:      model.PrescriptionStatusCancelled,
		LogEntries: []*model.PharmacyLogEntry{
			newLogEntry(p.ID, actorID, model.PharmacyActionCancelled, notes),
		},
		OutboxEvent: event,
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(model.PrescriptionStatusCancelled)).Inc()
	}
	p.Status = model.PrescriptionStatusCancelled
	return p, nil
}

// LookupByReference finds the patient's most recent open prescription by
// reference number, regenerating the token if the stored one is stale. The
// lookup is logged as a SCAN action but never mutates status.
func (s *Service) LookupByReference(ctx context.Context, patientRef string, actorID uuid.UUID) (*model.ScanResult, error) {
	p, err := s.repo.GetLatestForPatientReference(ctx, patientRef)
	if err != nil {
		return nil, err
	}

	if time.Since(p.CreatedAt) > MaxPrescriptionAge {
		return &model.ScanResult{
			Valid:       false,
			CanDispense: false,
			Message:     fmt.Sprintf("prescription %s is older than 30 days and can no longer be dispensed", p.ReferenceNumber),
		}, nil
	}

	tok, err := s.IssueToken(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	entry := newLogEntry(p.ID, actorID, model.PharmacyActionScan, "manual lookup by patient reference")
	if err := s.logs.Append(ctx, entry); err != nil {
		return nil, err
	}

	return &model.ScanResult{
		Valid:        true,
		CanDispense:  p.Status == model.PrescriptionStatusValidated,
		Prescription: p,
		ScanCount:    tok.ScanCount,
	}, nil
}

// ExpireStale marks prescriptions with aged-out tokens EXPIRED. It shares
// the transactional guard with live transitions, so losing a race against a
// concurrent scan is not an error.
func (s *Service) ExpireStale(ctx context.Context, now time.Time, batchSize int) (int, error) {
	ids, err := s.repo.ListExpiryCandidates(ctx, now, batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		err := s.repo.SaveTransition(ctx, &repository.Transition{
			PrescriptionID: id,
			ExpectedFrom: []model.PrescriptionStatus{
				model.PrescriptionStatusPending,
				model.PrescriptionStatusScanned,
				model.PrescriptionStatusValidated,
			},
			NewStatus: model.PrescriptionStatusExpired,
		})
		if err != nil {
			if apperrors.Is(err, apperrors.ErrConcurrencyConflict) {
				continue
			}
			return expired, err
		}
		expired++
		if s.metrics != nil {
			s.metrics.Transitions.WithLabelValues(string(model.PrescriptionStatusExpired)).Inc()
		}
	}
	return expired, nil
}

func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*model.Prescription, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*model.PharmacyLogEntry, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.logs.ListForPrescription(ctx, id)
}

func (s *Service) snapshotOf(p *model.Prescription) *model.PrescriptionSnapshot {
	snapshot := &model.PrescriptionSnapshot{
		PrescriptionID:  p.ID,
		ReferenceNumber: p.ReferenceNumber,
		PatientName:     p.PatientName,
		DoctorName:      p.DoctorName,
		Diagnosis:       p.Diagnosis,
	}
	for _, item := range p.Items {
		snapshot.Items = append(snapshot.Items, model.SnapshotItem{
			MedicineName: item.MedicineName,
			Dosage:       item.Dosage,
			Frequency:    item.Frequency,
			Quantity:     item.Quantity,
		})
	}
	return snapshot
}

func (s *Service) countVerification(result string) {
	if s.metrics != nil {
		s.metrics.TokenVerifications.WithLabelValues(result).Inc()
	}
}

func buildItemUpdates(p *model.Prescription, items []model.DispenseItemRequest) ([]repository.ItemUpdate, float64, error) {
	byID := make(map[uuid.UUID]*model.PrescriptionItem, len(p.Items))
	for _, item := range p.Items {
		byID[item.ID] = item
	}

	var updates []repository.ItemUpdate
	var total float64
	for _, req := range items {
		itemID, err := uuid.Parse(req.ItemID)
		if err != nil {
			return nil, 0, apperrors.ValidationFailed("invalid item id", err)
		}
		item, ok := byID[itemID]
		if !ok {
			return nil, 0, apperrors.ValidationFailed(fmt.Sprintf("item %s does not belong to this prescription", req.ItemID), nil)
		}
		if req.Quantity <= 0 {
			return nil, 0, apperrors.ValidationFailed(fmt.Sprintf("dispensed quantity for %s must be > 0", item.MedicineName), nil)
		}
		if req.Quantity > item.Quantity {
			return nil, 0, apperrors.ValidationFailed(fmt.Sprintf("cannot dispense more %s than prescribed", item.MedicineName), nil)
		}
		if req.UnitPrice < 0 {
			return nil, 0, apperrors.ValidationFailed(fmt.Sprintf("unit price for %s must be >= 0", item.MedicineName), nil)
		}

		updates = append(updates, repository.ItemUpdate{
			ItemID:            itemID,
			DispensedQuantity: req.Quantity,
			UnitPrice:         req.UnitPrice,
			BatchNumber:       req.BatchNumber,
		})
		total += float64(req.Quantity) * req.UnitPrice
	}
	return updates, total, nil
}

func newLogEntry(prescriptionID, actorID uuid.UUID, action model.PharmacyAction, notes string) *model.PharmacyLogEntry {
	return &model.PharmacyLogEntry{
		ID:             uuid.New(),
		PrescriptionID: prescriptionID,
		ActorID:        actorID,
		Action:         action,
		Notes:          notes,
		CreatedAt:      time.Now(),
	}
}

func issuedEvent(p *model.Prescription, tok *model.IssuedToken) (*model.OutboxEvent, error) {
	return outboxEvent(model.EventPrescriptionIssued, &model.PrescriptionIssuedEvent{
		PrescriptionID:  p.ID,
		ReferenceNumber: p.ReferenceNumber,
		PatientName:     p.PatientName,
		PatientEmail:    p.PatientEmail,
		TokenHash:       tok.TokenHash,
		ExpiresAt:       tok.ExpiresAt,
	})
}

func outboxEvent(eventType string, payload interface{}) (*model.OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   raw,
	}, nil
}

func generateReferenceNumber(now time.Time) string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		n = big.NewInt(now.UnixNano() % 10000)
	}
	return fmt.Sprintf("RX-%s-%04d", now.Format("20060102"), n.Int64())
}
