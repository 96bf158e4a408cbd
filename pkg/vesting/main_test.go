package vesting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const day = 24 * time.Hour

var testEpoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

type manualClock struct {
	mutex sync.Mutex
	now   time.Time
}

func newManualClock(now time.Time) *manualClock {
	return &manualClock{now: now}
}

func (clock *manualClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.now
}

func (clock *manualClock) Set(now time.Time) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.now = now
}

type recordingBackend struct {
	mutex     sync.Mutex
	transfers []TransferRequest
	failWith  error
}

func (backend *recordingBackend) Transfer(ctx context.Context, request TransferRequest) (TransferReceipt, error) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	if backend.failWith != nil {
		return TransferReceipt{}, backend.failWith
	}
	backend.transfers = append(backend.transfers, request)
	return TransferReceipt{
		TransactionID: fmt.Sprintf("0.0.5005@%d.0", len(backend.transfers)),
		ConsensusAt:   testEpoch,
	}, nil
}

func (backend *recordingBackend) totalTo(account string) uint64 {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	var total uint64
	for _, transfer := range backend.transfers {
		if transfer.To == account {
			total += transfer.Amount
		}
	}
	return total
}

func (backend *recordingBackend) count() int {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	return len(backend.transfers)
}

type recordingSink struct {
	mutex  sync.Mutex
	events []Event
}

func (sink *recordingSink) Publish(ctx context.Context, event Event) error {
	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	sink.events = append(sink.events, event)
	return nil
}

func (sink *recordingSink) types() []string {
	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	result := make([]string, 0, len(sink.events))
	for _, event := range sink.events {
		result = append(result, event.Type)
	}
	return result
}

const (
	testAdmin       = "0.0.1001"
	testBeneficiary = "0.0.2002"
	testVault       = "0.0.5005"
	testRecovery    = "0.0.6006"
)

type engineFixture struct {
	engine  *Engine
	store   *MemoryStore
	clock   *manualClock
	backend *recordingBackend
	sink    *recordingSink
}

func newEngineFixture(t *testing.T) engineFixture {
	t.Helper()

	store := NewMemoryStore()
	clock := newManualClock(testEpoch)
	backend := &recordingBackend{}
	sink := &recordingSink{}

	engine, err := NewEngine(EngineConfig{
		Store:             store,
		Backend:           backend,
		Clock:             clock,
		Events:            sink,
		VaultAccountID:    testVault,
		RecoveryAccountID: testRecovery,
	})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	if _, err := engine.Initialize(t.Context(), []string{testAdmin}); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}

	return engineFixture{
		engine:  engine,
		store:   store,
		clock:   clock,
		backend: backend,
		sink:    sink,
	}
}

func (fixture engineFixture) createSchedule(t *testing.T, total uint64, cliff time.Duration, duration time.Duration) Schedule {
	t.Helper()
	schedule, err := fixture.engine.CreateSchedule(t.Context(), CreateScheduleParams{
		Beneficiary:     testBeneficiary,
		TotalAmount:     total,
		StartTime:       testEpoch,
		CliffDuration:   cliff,
		VestingDuration: duration,
		Caller:          testAdmin,
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return schedule
}

func requireCode(t *testing.T, err error, target *Error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", target.Code)
	}
	if !errors.Is(err, target) {
		t.Fatalf("expected %s error, got %v", target.Code, err)
	}
}
