package prescription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/model"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/repository"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/service/token"
	apperrors "github.com/cedrick13bienvenue/prescripto-sub000/pkg/errors"
)

// fakeStore is an in-memory stand-in for the postgres repositories. It
// applies transitions under a single mutex with the same expected-status
// guard the SQL implementation enforces under its row lock.
type fakeStore struct {
	mu            sync.Mutex
	prescriptions map[uuid.UUID]*model.Prescription
	tokens        map[uuid.UUID]*model.IssuedToken
	logs          []*model.PharmacyLogEntry
	events        []*model.OutboxEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		prescriptions: make(map[uuid.UUID]*model.Prescription),
		tokens:        make(map[uuid.UUID]*model.IssuedToken),
	}
}

func (f *fakeStore) CreateWithToken(_ context.Context, p *model.Prescription, tok *model.IssuedToken, event *model.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prescriptions[p.ID] = p
	f.tokens[p.ID] = tok
	if event != nil {
		f.events = append(f.events, event)
	}
	return nil
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (*model.Prescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prescriptions[id]
	if !ok {
		return nil, apperrors.NotFound("prescription", nil)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) GetLatestForPatientReference(_ context.Context, patientRef string) (*model.Prescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *model.Prescription
	for _, p := range f.prescriptions {
		if p.PatientReference != patientRef || p.Status.IsTerminal() {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, apperrors.NotFound("prescription", nil)
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeStore) SaveTransition(_ context.Context, t *repository.Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.prescriptions[t.PrescriptionID]
	if !ok {
		return apperrors.NotFound("prescription", nil)
	}
	allowed := false
	for _, s := range t.ExpectedFrom {
		if p.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return apperrors.ConcurrencyConflict("prescription")
	}

	p.Status = t.NewStatus
	if t.TotalAmount != nil {
		p.TotalAmount = t.TotalAmount
	}
	for _, u := range t.ItemUpdates {
		for _, item := range p.Items {
			if item.ID == u.ItemID {
				price := u.UnitPrice
				item.IsDispensed = true
				item.DispensedQuantity = u.DispensedQuantity
				item.UnitPrice = &price
				item.BatchNumber = u.BatchNumber
			}
		}
	}
	f.logs = append(f.logs, t.LogEntries...)
	if t.Token != nil {
		for _, tok := range f.tokens {
			if tok.TokenHash == t.Token.TokenHash {
				if t.Token.IncrementScan {
					tok.ScanCount++
				}
				if t.Token.MarkUsed {
					tok.IsUsed = true
				}
			}
		}
	}
	if t.OutboxEvent != nil {
		f.events = append(f.events, t.OutboxEvent)
	}
	return nil
}

func (f *fakeStore) ListExpiryCandidates(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id, tok := range f.tokens {
		p, ok := f.prescriptions[id]
		if !ok || !tok.IsExpired(now) {
			continue
		}
		switch p.Status {
		case model.PrescriptionStatusPending, model.PrescriptionStatusScanned, model.PrescriptionStatusValidated:
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (f *fakeStore) GetByHash(_ context.Context, tokenHash string) (*model.IssuedToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tok := range f.tokens {
		if tok.TokenHash == tokenHash {
			cp := *tok
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("token", nil)
}

func (f *fakeStore) GetForPrescription(_ context.Context, prescriptionID uuid.UUID) (*model.IssuedToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[prescriptionID]
	if !ok {
		return nil, apperrors.NotFound("token", nil)
	}
	cp := *tok
	return &cp, nil
}

func (f *fakeStore) Upsert(_ context.Context, tok *model.IssuedToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.tokens[tok.PrescriptionID]
	if ok && !existing.IsExpired(time.Now()) {
		return nil
	}
	f.tokens[tok.PrescriptionID] = tok
	return nil
}

func (f *fakeStore) Append(_ context.Context, entry *model.PharmacyLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeStore) ListForPrescription(_ context.Context, prescriptionID uuid.UUID) ([]*model.PharmacyLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var entries []*model.PharmacyLogEntry
	for _, e := range f.logs {
		if e.PrescriptionID == prescriptionID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (f *fakeStore) logActions(prescriptionID uuid.UUID) []model.PharmacyAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var actions []model.PharmacyAction
	for _, e := range f.logs {
		if e.PrescriptionID == prescriptionID {
			actions = append(actions, e.Action)
		}
	}
	return actions
}

func (f *fakeStore) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, e := range f.events {
		types = append(types, e.EventType)
	}
	return types
}

func newTestService(t *testing.T, store *fakeStore) *Service {
	t.Helper()
	codec, err := token.NewCodec("test-secret", "test-salt")
	require.NoError(t, err)
	return NewService(store, store, store, codec, 72*time.Hour, nil)
}

func createTestPrescription(t *testing.T, svc *Service) *model.Prescription {
	t.Helper()
	p, err := svc.CreatePrescription(context.Background(), &model.CreatePrescriptionRequest{
		PatientID:        uuid.NewString(),
		PatientReference: "PAT-20260801-0001",
		PatientName:      "Jane Doe",
		PatientEmail:     "jane@example.com",
		DoctorName:       "Dr. Smith",
		Diagnosis:        "Hypertension",
		Items: []model.CreatePrescriptionItemRequest{
			{MedicineName: "Amlodipine", Dosage: "5mg", Frequency: "daily", Quantity: 10},
		},
	}, uuid.New())
	require.NoError(t, err)
	return p
}

func scanTestPrescription(t *testing.T, svc *Service, store *fakeStore, p *model.Prescription) *model.ScanResult {
	t.Helper()
	tok, err := store.GetForPrescription(context.Background(), p.ID)
	require.NoError(t, err)
	result, err := svc.Scan(context.Background(), tok.TokenHash, uuid.New())
	require.NoError(t, err)
	return result
}

func validateTestPrescription(t *testing.T, svc *Service, store *fakeStore, p *model.Prescription) {
	t.Helper()
	scanTestPrescription(t, svc, store, p)
	_, err := svc.Validate(context.Background(), p.ID, uuid.New(), "stock available")
	require.NoError(t, err)
}

func dispenseAll(p *model.Prescription, unitPrice float64, coverage *float64) *model.DispenseRequest {
	req := &model.DispenseRequest{Notes: "dispensed at counter", InsuranceCoverage: coverage}
	for _, item := range p.Items {
		req.Items = append(req.Items, model.DispenseItemRequest{
			ItemID:    item.ID.String(),
			Quantity:  item.Quantity,
			UnitPrice: unitPrice,
		})
	}
	return req
}

func TestCreatePrescription(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	p := createTestPrescription(t, svc)

	assert.Equal(t, model.PrescriptionStatusPending, p.Status)
	assert.Regexp(t, `^RX-\d{8}-\d{4}$`, p.ReferenceNumber)
	require.Len(t, p.Items, 1)
	assert.NotEqual(t, uuid.Nil, p.Items[0].ID)

	tok, err := store.GetForPrescription(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, tok.TokenHash, 32)
	assert.False(t, tok.IsUsed)
	assert.Equal(t, []string{model.EventPrescriptionIssued}, store.eventTypes())
}

func TestCreatePrescriptionRejectsEmptyItems(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	_, err := svc.CreatePrescription(context.Background(), &model.CreatePrescriptionRequest{
		PatientID:        uuid.NewString(),
		PatientReference: "PAT-20260801-0002",
		PatientName:      "Jane Doe",
		PatientEmail:     "jane@example.com",
		DoctorName:       "Dr. Smith",
	}, uuid.New())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrValidationFailed, apperrors.KindOf(err))
}

func TestScanMovesPendingToScanned(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)

	result := scanTestPrescription(t, svc, store, p)

	assert.True(t, result.Valid)
	assert.False(t, result.CanDispense)
	assert.Equal(t, 1, result.ScanCount)
	assert.Equal(t, model.PrescriptionStatusScanned, result.Prescription.Status)
	require.NotNil(t, result.Snapshot)
	assert.Equal(t, p.ReferenceNumber, result.Snapshot.ReferenceNumber)
	assert.Equal(t, []model.PharmacyAction{model.PharmacyActionScanned}, store.logActions(p.ID))
}

func TestRescanKeepsStatusAndBumpsCount(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)

	scanTestPrescription(t, svc, store, p)
	result := scanTestPrescription(t, svc, store, p)

	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.ScanCount)
	assert.Equal(t, model.PrescriptionStatusScanned, result.Prescription.Status)
	assert.Equal(t, []model.PharmacyAction{
		model.PharmacyActionScanned,
		model.PharmacyActionScan,
	}, store.logActions(p.ID))
}

func TestScanExpiredToken(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)

	store.mu.Lock()
	store.tokens[p.ID].ExpiresAt = time.Now()
	hash := store.tokens[p.ID].TokenHash
	store.mu.Unlock()

	_, err := svc.Scan(context.Background(), hash, uuid.New())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrExpired, apperrors.KindOf(err))
	assert.Empty(t, store.logActions(p.ID))
}

func TestScanUsedToken(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)

	store.mu.Lock()
	store.tokens[p.ID].IsUsed = true
	hash := store.tokens[p.ID].TokenHash
	store.mu.Unlock()

	_, err := svc.Scan(context.Background(), hash, uuid.New())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrAlreadyConsumed, apperrors.KindOf(err))
}

func TestScanUnknownHash(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	_, err := svc.Scan(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeef", uuid.New())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrNotFound, apperrors.KindOf(err))
}

func TestScanRejectedPrescription(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)

	_, err := svc.Reject(context.Background(), p.ID, uuid.New(), "out of stock")
	require.NoError(t, err)

	tok, err := store.GetForPrescription(context.Background(), p.ID)
	require.NoError(t, err)
	_, err = svc.Scan(context.Background(), tok.TokenHash, uuid.New())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidStateTransition, apperrors.KindOf(err))
}

func TestValidateRequiresScanned(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)

	_, err := svc.Validate(context.Background(), p.ID, uuid.New(), "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidStateTransition, apperrors.KindOf(err))

	scanTestPrescription(t, svc, store, p)
	validated, err := svc.Validate(context.Background(), p.ID, uuid.New(), "stock available")
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusValidated, validated.Status)
	assert.Equal(t, []model.PharmacyAction{
		model.PharmacyActionScanned,
		model.PharmacyActionValidated,
	}, store.logActions(p.ID))
}

func TestDispenseHappyPath(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)
	validateTestPrescription(t, svc, store, p)

	actorID := uuid.New()
	fulfilled, err := svc.Dispense(context.Background(), p.ID, actorID, dispenseAll(p, 5.0, nil))
	require.NoError(t, err)

	assert.Equal(t, model.PrescriptionStatusFulfilled, fulfilled.Status)
	require.NotNil(t, fulfilled.TotalAmount)
	assert.Equal(t, 50.0, *fulfilled.TotalAmount)

	stored, err := store.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusFulfilled, stored.Status)
	assert.True(t, stored.Items[0].IsDispensed)
	assert.Equal(t, 10, stored.Items[0].DispensedQuantity)

	tok, err := store.GetForPrescription(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, tok.IsUsed)

	actions := store.logActions(p.ID)
	require.Len(t, actions, 4)
	assert.Equal(t, model.PharmacyActionDispensed, actions[2])
	assert.Equal(t, model.PharmacyActionFulfilled, actions[3])
	assert.Contains(t, store.eventTypes(), model.EventPrescriptionDispensed)
}

func TestDispenseRecordsInsuranceSplit(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)
	validateTestPrescription(t, svc, store, p)

	coverage := 20.0
	_, err := svc.Dispense(context.Background(), p.ID, uuid.New(), dispenseAll(p, 5.0, &coverage))
	require.NoError(t, err)

	var dispensed *model.PharmacyLogEntry
	for _, e := range store.logs {
		if e.Action == model.PharmacyActionDispensed {
			dispensed = e
		}
	}
	require.NotNil(t, dispensed)
	require.NotNil(t, dispensed.TotalAmount)
	assert.Equal(t, 50.0, *dispensed.TotalAmount)
	require.NotNil(t, dispensed.PatientPayment)
	assert.Equal(t, 30.0, *dispensed.PatientPayment)
}

func TestDispenseClampsPatientPaymentAtZero(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)
	validateTestPrescription(t, svc, store, p)

	coverage := 100.0
	_, err := svc.Dispense(context.Background(), p.ID, uuid.New(), dispenseAll(p, 5.0, &coverage))
	require.NoError(t, err)

	for _, e := range store.logs {
		if e.Action == model.PharmacyActionDispensed {
			require.NotNil(t, e.PatientPayment)
			assert.Equal(t, 0.0, *e.PatientPayment)
		}
	}
}

func TestDispenseTwiceFails(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)
	validateTestPrescription(t, svc, store, p)

	_, err := svc.Dispense(context.Background(), p.ID, uuid.New(), dispenseAll(p, 5.0, nil))
	require.NoError(t, err)
	logsBefore := len(store.logActions(p.ID))

	_, err = svc.Dispense(context.Background(), p.ID, uuid.New(), dispenseAll(p, 5.0, nil))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidStateTransition, apperrors.KindOf(err))
	assert.Len(t, store.logActions(p.ID), logsBefore)
}

func TestDispenseRequiresValidated(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)
	scanTestPrescription(t, svc, store, p)

	_, err := svc.Dispense(context.Background(), p.ID, uuid.New(), dispenseAll(p, 5.0, nil))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidStateTransition, apperrors.KindOf(err))
}

func TestDispenseValidatesItems(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)
	validateTestPrescription(t, svc, store, p)

	tests := []struct {
		name string
		req  model.DispenseItemRequest
	}{
		{"over-dispense", model.DispenseItemRequest{ItemID: p.Items[0].ID.String(), Quantity: 11, UnitPrice: 5}},
		{"zero quantity", model.DispenseItemRequest{ItemID: p.Items[0].ID.String(), Quantity: 0, UnitPrice: 5}},
		{"negative price", model.DispenseItemRequest{ItemID: p.Items[0].ID.String(), Quantity: 1, UnitPrice: -1}},
		{"foreign item", model.DispenseItemRequest{ItemID: uuid.NewString(), Quantity: 1, UnitPrice: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Dispense(context.Background(), p.ID, uuid.New(), &model.DispenseRequest{
				Items: []model.DispenseItemRequest{tt.req},
			})
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrValidationFailed, apperrors.KindOf(err))
		})
	}

	stored, err := store.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusValidated, stored.Status)
}

func TestConcurrentDispenseHasOneWinner(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)
	validateTestPrescription(t, svc, store, p)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.Dispense(context.Background(), p.ID, uuid.New(), dispenseAll(p, 5.0, nil))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var failures int
	for err := range errs {
		if err == nil {
			continue
		}
		failures++
		code := apperrors.KindOf(err)
		assert.Contains(t, []apperrors.ErrorCode{
			apperrors.ErrInvalidStateTransition,
			apperrors.ErrConcurrencyConflict,
		}, code)
	}
	assert.Equal(t, 1, failures)

	dispensedEntries := 0
	for _, a := range store.logActions(p.ID) {
		if a == model.PharmacyActionDispensed {
			dispensedEntries++
		}
	}
	assert.Equal(t, 1, dispensedEntries)
}

func TestRejectRequiresReason(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)

	_, err := svc.Reject(context.Background(), p.ID, uuid.New(), "   ")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrValidationFailed, apperrors.KindOf(err))
}

func TestRejectFromScanned(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)
	scanTestPrescription(t, svc, store, p)

	rejected, err := svc.Reject(context.Background(), p.ID, uuid.New(), "out of stock")
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusRejected, rejected.Status)
	assert.Equal(t, []model.PharmacyAction{
		model.PharmacyActionScanned,
		model.PharmacyActionRejected,
	}, store.logActions(p.ID))
	assert.Contains(t, store.eventTypes(), model.EventPrescriptionRejected)
}

func TestRejectTerminalPrescription(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)
	validateTestPrescription(t, svc, store, p)

	_, err := svc.Dispense(context.Background(), p.ID, uuid.New(), dispenseAll(p, 5.0, nil))
	require.NoError(t, err)

	_, err = svc.Reject(context.Background(), p.ID, uuid.New(), "too late")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidStateTransition, apperrors.KindOf(err))
}

func TestCancelPendingPrescription(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)

	cancelled, err := svc.Cancel(context.Background(), p.ID, uuid.New(), "")
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusCancelled, cancelled.Status)
	assert.Equal(t, []model.PharmacyAction{model.PharmacyActionCancelled}, store.logActions(p.ID))
	assert.Contains(t, store.eventTypes(), model.EventPrescriptionCancelled)
}

func TestCancelAfterDispenseFails(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)
	validateTestPrescription(t, svc, store, p)

	_, err := svc.Dispense(context.Background(), p.ID, uuid.New(), dispenseAll(p, 5.0, nil))
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), p.ID, uuid.New(), "changed my mind")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidStateTransition, apperrors.KindOf(err))
}

func TestIssueTokenIsIdempotentWhileLive(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)

	first, err := svc.IssueToken(context.Background(), p.ID)
	require.NoError(t, err)
	second, err := svc.IssueToken(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, first.TokenHash, second.TokenHash)
}

func TestIssueTokenReplacesExpired(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)

	store.mu.Lock()
	original := store.tokens[p.ID].TokenHash
	store.tokens[p.ID].ExpiresAt = time.Now().Add(-time.Minute)
	store.mu.Unlock()

	replacement, err := svc.IssueToken(context.Background(), p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, original, replacement.TokenHash)
	assert.True(t, replacement.ExpiresAt.After(time.Now()))
}

func TestIssueTokenRejectsTerminal(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)

	_, err := svc.Reject(context.Background(), p.ID, uuid.New(), "out of stock")
	require.NoError(t, err)

	_, err = svc.IssueToken(context.Background(), p.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidStateTransition, apperrors.KindOf(err))
}

func TestLookupByReference(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)

	result, err := svc.LookupByReference(context.Background(), p.PatientReference, uuid.New())
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.False(t, result.CanDispense)
	require.NotNil(t, result.Prescription)
	assert.Equal(t, p.ID, result.Prescription.ID)
	assert.Equal(t, []model.PharmacyAction{model.PharmacyActionScan}, store.logActions(p.ID))
}

func TestLookupByReferenceCanDispenseWhenValidated(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)
	validateTestPrescription(t, svc, store, p)

	result, err := svc.LookupByReference(context.Background(), p.PatientReference, uuid.New())
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.True(t, result.CanDispense)
}

func TestLookupByReferenceRejectsOldPrescription(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)

	store.mu.Lock()
	store.prescriptions[p.ID].CreatedAt = time.Now().Add(-40 * 24 * time.Hour)
	store.mu.Unlock()

	result, err := svc.LookupByReference(context.Background(), p.PatientReference, uuid.New())
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.False(t, result.CanDispense)
	assert.Contains(t, result.Message, "30 days")
	assert.Empty(t, store.logActions(p.ID))
}

func TestLookupByReferenceRegeneratesExpiredToken(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)

	store.mu.Lock()
	original := store.tokens[p.ID].TokenHash
	store.tokens[p.ID].ExpiresAt = time.Now().Add(-time.Minute)
	store.mu.Unlock()

	result, err := svc.LookupByReference(context.Background(), p.PatientReference, uuid.New())
	require.NoError(t, err)
	assert.True(t, result.Valid)

	tok, err := store.GetForPrescription(context.Background(), p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, original, tok.TokenHash)
}

func TestLookupByReferenceUnknown(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	_, err := svc.LookupByReference(context.Background(), "PAT-20260801-9999", uuid.New())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrNotFound, apperrors.KindOf(err))
}

func TestExpireStale(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	stale := createTestPrescription(t, svc)
	fresh := createTestPrescription(t, svc)

	store.mu.Lock()
	store.tokens[stale.ID].ExpiresAt = time.Now().Add(-time.Hour)
	store.mu.Unlock()

	expired, err := svc.ExpireStale(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	staleStored, err := store.Get(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusExpired, staleStored.Status)

	freshStored, err := store.Get(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusPending, freshStored.Status)

	expired, err = svc.ExpireStale(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	assert.Zero(t, expired)
}

// staleListStore forces a candidate list so the sweeper's handling of a
// lost race can be exercised deterministically.
type staleListStore struct {
	*fakeStore
	ids []uuid.UUID
}

func (s *staleListStore) ListExpiryCandidates(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return s.ids, nil
}

func TestExpireStaleSkipsConcurrentlyFinishedPrescriptions(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)
	validateTestPrescription(t, svc, store, p)
	_, err := svc.Dispense(context.Background(), p.ID, uuid.New(), dispenseAll(p, 5.0, nil))
	require.NoError(t, err)

	codec, err := token.NewCodec("test-secret", "test-salt")
	require.NoError(t, err)
	racing := &staleListStore{fakeStore: store, ids: []uuid.UUID{p.ID}}
	racingSvc := NewService(racing, racing, racing, codec, 72*time.Hour, nil)

	expired, err := racingSvc.ExpireStale(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	assert.Zero(t, expired)

	stored, err := store.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusFulfilled, stored.Status)
}

func TestHistory(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	p := createTestPrescription(t, svc)
	scanTestPrescription(t, svc, store, p)

	entries, err := svc.History(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.PharmacyActionScanned, entries[0].Action)

	_, err = svc.History(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrNotFound, apperrors.KindOf(err))
}
