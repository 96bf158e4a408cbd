package vesting

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// uncertainBackend submits every transfer but cannot confirm it until
// outcome is set.
type uncertainBackend struct {
	mutex      sync.Mutex
	submitted  []TransferRequest
	confirm    bool
	outcome    TransferOutcome
	resolveErr error
}

func (backend *uncertainBackend) Transfer(ctx context.Context, request TransferRequest) (TransferReceipt, error) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.submitted = append(backend.submitted, request)
	if backend.confirm {
		return TransferReceipt{TransactionID: "0.0.5005@200.0"}, nil
	}
	return TransferReceipt{}, &OutcomeUnknownError{
		TransactionID: "0.0.5005@100.0",
		Err:           errors.New("receipt query timed out"),
	}
}

func (backend *uncertainBackend) ResolveTransfer(ctx context.Context, pending PendingTransfer) (TransferOutcome, error) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	return backend.outcome, backend.resolveErr
}

func (backend *uncertainBackend) count() int {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	return len(backend.submitted)
}

func newUncertainFixture(t *testing.T, backend TransferBackend) engineFixture {
	t.Helper()
	fixture := newEngineFixture(t)
	engine, err := NewEngine(EngineConfig{
		Store:             fixture.store,
		Backend:           backend,
		Clock:             fixture.clock,
		Events:            fixture.sink,
		VaultAccountID:    testVault,
		RecoveryAccountID: testRecovery,
	})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	fixture.engine = engine
	return fixture
}

func TestUnconfirmedClaimParksSchedule(t *testing.T) {
	backend := &uncertainBackend{}
	fixture := newUncertainFixture(t, backend)
	schedule := fixture.createSchedule(t, 1_000, 0, 10*day)
	at := testEpoch.Add(20 * day)

	_, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, at)
	requireCode(t, err, ErrTransferUnconfirmed)

	stored, _ := fixture.engine.GetSchedule(t.Context(), schedule.ID)
	if stored.Pending == nil || stored.Pending.Kind != TransferKindClaim || stored.Pending.Amount != 1_000 {
		t.Fatalf("expected pending claim of 1000, got %+v", stored.Pending)
	}
	if stored.Pending.TransactionID != "0.0.5005@100.0" || stored.ReleasedAmount != 0 {
		t.Fatalf("unexpected parked schedule: %+v", stored)
	}

	_, err = fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, at)
	requireCode(t, err, ErrTransferUnconfirmed)
	_, err = fixture.engine.RevokeAt(t.Context(), schedule.ID, testAdmin, at)
	requireCode(t, err, ErrTransferUnconfirmed)
	if backend.count() != 1 {
		t.Fatalf("expected a single submission while parked, got %d", backend.count())
	}
}

func TestSettledPendingClaimIsRecordedOnNextCall(t *testing.T) {
	backend := &uncertainBackend{}
	fixture := newUncertainFixture(t, backend)
	schedule := fixture.createSchedule(t, 1_000, 0, 10*day)
	at := testEpoch.Add(20 * day)

	_, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, at)
	requireCode(t, err, ErrTransferUnconfirmed)

	backend.mutex.Lock()
	backend.outcome = TransferOutcomeSettled
	backend.mutex.Unlock()

	_, err = fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, at)
	requireCode(t, err, ErrNothingToClaim)

	stored, _ := fixture.engine.GetSchedule(t.Context(), schedule.ID)
	if stored.Pending != nil || stored.ReleasedAmount != 1_000 {
		t.Fatalf("expected settled claim recorded, got %+v", stored)
	}
	if backend.count() != 1 {
		t.Fatalf("expected no second submission, got %d", backend.count())
	}
	types := fixture.sink.types()
	if types[len(types)-1] != EventTokensClaimed {
		t.Fatalf("expected claim event on settlement, got %v", types)
	}
}

func TestFailedPendingClaimIsRetried(t *testing.T) {
	backend := &uncertainBackend{}
	fixture := newUncertainFixture(t, backend)
	schedule := fixture.createSchedule(t, 1_000, 0, 10*day)
	at := testEpoch.Add(20 * day)

	_, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, at)
	requireCode(t, err, ErrTransferUnconfirmed)

	backend.mutex.Lock()
	backend.outcome = TransferOutcomeFailed
	backend.confirm = true
	backend.mutex.Unlock()

	result, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, at)
	if err != nil {
		t.Fatalf("unexpected claim error: %v", err)
	}
	if result.Amount != 1_000 || result.ReleasedAmount != 1_000 {
		t.Fatalf("unexpected retried claim: %+v", result)
	}
	if backend.count() != 2 {
		t.Fatalf("expected a second submission after failure, got %d", backend.count())
	}
}

func TestResolverErrorKeepsSchedulePending(t *testing.T) {
	backend := &uncertainBackend{}
	fixture := newUncertainFixture(t, backend)
	schedule := fixture.createSchedule(t, 1_000, 0, 10*day)
	at := testEpoch.Add(20 * day)

	_, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, at)
	requireCode(t, err, ErrTransferUnconfirmed)

	lookupErr := errors.New("mirror node unavailable")
	backend.mutex.Lock()
	backend.resolveErr = lookupErr
	backend.mutex.Unlock()

	_, err = fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, at)
	requireCode(t, err, ErrTransferUnconfirmed)
	if !errors.Is(err, lookupErr) {
		t.Fatalf("expected lookup error to be wrapped, got %v", err)
	}
	stored, _ := fixture.engine.GetSchedule(t.Context(), schedule.ID)
	if stored.Pending == nil {
		t.Fatal("expected schedule to stay pending")
	}
}

func TestReconcileTransferWithoutResolver(t *testing.T) {
	fixture := newUncertainFixture(t, TransferFunc(func(ctx context.Context, request TransferRequest) (TransferReceipt, error) {
		return TransferReceipt{}, &OutcomeUnknownError{TransactionID: "0.0.5005@7.0", Err: context.DeadlineExceeded}
	}))
	schedule := fixture.createSchedule(t, 1_000, 0, 10*day)

	if _, err := fixture.engine.RevokeAt(t.Context(), schedule.ID, testAdmin, testEpoch.Add(5*day)); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}
	_, err := fixture.engine.RecoverUnvested(t.Context(), schedule.ID, testAdmin)
	requireCode(t, err, ErrTransferUnconfirmed)

	_, err = fixture.engine.RecoverUnvested(t.Context(), schedule.ID, testAdmin)
	requireCode(t, err, ErrTransferUnconfirmed)

	_, err = fixture.engine.ReconcileTransfer(t.Context(), ReconcileParams{ScheduleID: schedule.ID, Caller: testBeneficiary, Settled: true})
	requireCode(t, err, ErrUnauthorized)

	reconciled, err := fixture.engine.ReconcileTransfer(t.Context(), ReconcileParams{ScheduleID: schedule.ID, Caller: testAdmin, Settled: true})
	if err != nil {
		t.Fatalf("unexpected reconcile error: %v", err)
	}
	if reconciled.Pending != nil || !reconciled.Recovered || reconciled.RecoveredAmount != 1_000 {
		t.Fatalf("unexpected reconciled schedule: %+v", reconciled)
	}

	_, err = fixture.engine.ReconcileTransfer(t.Context(), ReconcileParams{ScheduleID: schedule.ID, Caller: testAdmin})
	requireCode(t, err, ErrInvalidParameters)
	_, err = fixture.engine.RecoverUnvested(t.Context(), schedule.ID, testAdmin)
	requireCode(t, err, ErrAlreadyRecovered)
}

// failingCommitStore runs mutations but never persists them, as a store
// does when its lock expires mid-transfer.
type failingCommitStore struct {
	*MemoryStore
	err error
}

func (store failingCommitStore) UpdateSchedule(ctx context.Context, id string, mutate ScheduleMutation) (Schedule, error) {
	current, err := store.GetSchedule(ctx, id)
	if err != nil {
		return Schedule{}, err
	}
	updated := current.Clone()
	if err := mutate(ctx, &updated); err != nil {
		return current, err
	}
	return current, store.err
}

func TestTransferWithFailedLedgerWriteIsUnrecorded(t *testing.T) {
	fixture := newEngineFixture(t)
	schedule := fixture.createSchedule(t, 1_000, 0, 10*day)

	lockErr := errors.New("lock lost")
	engine, err := NewEngine(EngineConfig{
		Store:          failingCommitStore{MemoryStore: fixture.store, err: lockErr},
		Backend:        fixture.backend,
		Clock:          fixture.clock,
		VaultAccountID: testVault,
	})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}

	_, err = engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, testEpoch.Add(20*day))
	requireCode(t, err, ErrTransferUnrecorded)
	if !errors.Is(err, lockErr) {
		t.Fatalf("expected store error to be wrapped, got %v", err)
	}
	if CodeOf(err) == CodeTransferFailed {
		t.Fatal("a settled transfer must not be reported as retryable")
	}
	if fixture.backend.totalTo(testBeneficiary) != 1_000 {
		t.Fatalf("expected the transfer to have been made once")
	}
}
