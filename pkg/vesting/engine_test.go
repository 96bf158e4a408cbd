package vesting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCreateScheduleRequiresAdmin(t *testing.T) {
	fixture := newEngineFixture(t)

	_, err := fixture.engine.CreateSchedule(t.Context(), CreateScheduleParams{
		Beneficiary:     testBeneficiary,
		TotalAmount:     100,
		StartTime:       testEpoch,
		VestingDuration: day,
		Caller:          testBeneficiary,
	})
	requireCode(t, err, ErrUnauthorized)

	all, _ := fixture.store.ListAllSchedules(t.Context())
	if len(all) != 0 {
		t.Fatalf("expected no schedules, got %d", len(all))
	}
}

func TestCreateScheduleRejectsInvalidTerms(t *testing.T) {
	fixture := newEngineFixture(t)

	_, err := fixture.engine.CreateSchedule(t.Context(), CreateScheduleParams{
		Beneficiary:     testBeneficiary,
		TotalAmount:     100,
		StartTime:       testEpoch,
		CliffDuration:   2 * day,
		VestingDuration: day,
		Caller:          testAdmin,
	})
	requireCode(t, err, ErrInvalidParameters)
}

func TestCreateScheduleEmitsEventAndIsQueryable(t *testing.T) {
	fixture := newEngineFixture(t)
	schedule := fixture.createSchedule(t, 1_000, day, 10*day)

	if schedule.ID == "" {
		t.Fatal("expected generated schedule ID")
	}
	stored, err := fixture.engine.GetSchedule(t.Context(), schedule.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if stored.TotalAmount != 1_000 || stored.ReleasedAmount != 0 {
		t.Fatalf("unexpected stored schedule: %+v", stored)
	}

	listed, err := fixture.engine.ListSchedules(t.Context(), testBeneficiary)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != schedule.ID {
		t.Fatalf("unexpected listing: %+v", listed)
	}

	types := fixture.sink.types()
	if types[len(types)-1] != EventScheduleCreated {
		t.Fatalf("expected creation event, got %v", types)
	}
}

func TestGetScheduleNotFound(t *testing.T) {
	fixture := newEngineFixture(t)
	_, err := fixture.engine.GetSchedule(t.Context(), "missing")
	requireCode(t, err, ErrNotFound)
}

func TestClaimScenario(t *testing.T) {
	fixture := newEngineFixture(t)
	schedule := fixture.createSchedule(t, 1_000_000, 30*day, 120*day)

	_, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, testEpoch.Add(10*day))
	requireCode(t, err, ErrNothingToClaim)
	if !IsNothingToClaim(err) {
		t.Fatal("expected informational nothing-to-claim outcome")
	}

	result, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, testEpoch.Add(60*day))
	if err != nil {
		t.Fatalf("unexpected claim error: %v", err)
	}
	if result.Amount != 500_000 || result.ReleasedAmount != 500_000 {
		t.Fatalf("unexpected day-60 claim: %+v", result)
	}

	result, err = fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, testEpoch.Add(150*day))
	if err != nil {
		t.Fatalf("unexpected claim error: %v", err)
	}
	if result.Amount != 500_000 || result.ReleasedAmount != 1_000_000 {
		t.Fatalf("unexpected day-150 claim: %+v", result)
	}

	if got := fixture.backend.totalTo(testBeneficiary); got != 1_000_000 {
		t.Fatalf("expected 1000000 transferred, got %d", got)
	}
	for _, transfer := range fixture.backend.transfers {
		if transfer.From != testVault {
			t.Fatalf("expected transfers from vault, got %q", transfer.From)
		}
	}
}

func TestClaimTwiceWithoutElapsedTime(t *testing.T) {
	fixture := newEngineFixture(t)
	schedule := fixture.createSchedule(t, 1_000, 0, 10*day)
	fixture.clock.Set(testEpoch.Add(5 * day))

	if _, err := fixture.engine.Claim(t.Context(), schedule.ID, testBeneficiary); err != nil {
		t.Fatalf("unexpected first claim error: %v", err)
	}
	_, err := fixture.engine.Claim(t.Context(), schedule.ID, testBeneficiary)
	requireCode(t, err, ErrNothingToClaim)

	stored, _ := fixture.engine.GetSchedule(t.Context(), schedule.ID)
	if stored.ReleasedAmount != 500 {
		t.Fatalf("expected released 500, got %d", stored.ReleasedAmount)
	}
	if fixture.backend.count() != 1 {
		t.Fatalf("expected one transfer, got %d", fixture.backend.count())
	}
}

func TestClaimRequiresBeneficiary(t *testing.T) {
	fixture := newEngineFixture(t)
	schedule := fixture.createSchedule(t, 1_000, 0, 10*day)

	_, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testAdmin, testEpoch.Add(20*day))
	requireCode(t, err, ErrUnauthorized)
	if fixture.backend.count() != 0 {
		t.Fatal("expected no transfer for unauthorized claim")
	}
}

func TestClaimUnknownSchedule(t *testing.T) {
	fixture := newEngineFixture(t)
	_, err := fixture.engine.Claim(t.Context(), "missing", testBeneficiary)
	requireCode(t, err, ErrNotFound)
}

func TestClaimWhilePaused(t *testing.T) {
	fixture := newEngineFixture(t)
	schedule := fixture.createSchedule(t, 1_000, 0, 10*day)
	at := testEpoch.Add(5 * day)

	if _, err := fixture.engine.Pause(t.Context(), testAdmin); err != nil {
		t.Fatalf("unexpected pause error: %v", err)
	}
	_, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, at)
	requireCode(t, err, ErrPaused)

	stored, _ := fixture.engine.GetSchedule(t.Context(), schedule.ID)
	if stored.ReleasedAmount != 0 || fixture.backend.count() != 0 {
		t.Fatalf("expected no release while paused, got released=%d transfers=%d", stored.ReleasedAmount, fixture.backend.count())
	}

	if _, err := fixture.engine.Unpause(t.Context(), testAdmin); err != nil {
		t.Fatalf("unexpected unpause error: %v", err)
	}
	result, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, at)
	if err != nil {
		t.Fatalf("unexpected claim error after unpause: %v", err)
	}
	if result.Amount != 500 {
		t.Fatalf("expected 500 after unpause, got %d", result.Amount)
	}
}

func TestPausedEngineBlocksMutations(t *testing.T) {
	fixture := newEngineFixture(t)
	schedule := fixture.createSchedule(t, 1_000, 0, 10*day)
	if _, err := fixture.engine.Pause(t.Context(), testAdmin); err != nil {
		t.Fatalf("unexpected pause error: %v", err)
	}

	_, err := fixture.engine.CreateSchedule(t.Context(), CreateScheduleParams{
		Beneficiary:     testBeneficiary,
		TotalAmount:     1,
		StartTime:       testEpoch,
		VestingDuration: day,
		Caller:          testAdmin,
	})
	requireCode(t, err, ErrPaused)

	_, err = fixture.engine.Revoke(t.Context(), schedule.ID, testAdmin)
	requireCode(t, err, ErrPaused)

	_, err = fixture.engine.PauseSchedule(t.Context(), schedule.ID, testAdmin)
	requireCode(t, err, ErrPaused)

	if _, err := fixture.engine.Releasable(t.Context(), schedule.ID, testEpoch.Add(day)); err != nil {
		t.Fatalf("expected reads to work while paused, got %v", err)
	}
}

func TestSchedulePauseBlocksOnlyThatSchedule(t *testing.T) {
	fixture := newEngineFixture(t)
	first := fixture.createSchedule(t, 1_000, 0, 10*day)
	second := fixture.createSchedule(t, 1_000, 0, 10*day)
	at := testEpoch.Add(10 * day)

	if _, err := fixture.engine.PauseSchedule(t.Context(), first.ID, testAdmin); err != nil {
		t.Fatalf("unexpected schedule pause error: %v", err)
	}
	_, err := fixture.engine.PauseSchedule(t.Context(), first.ID, testAdmin)
	requireCode(t, err, ErrInvalidParameters)

	_, err = fixture.engine.ClaimAt(t.Context(), first.ID, testBeneficiary, at)
	requireCode(t, err, ErrPaused)

	if _, err := fixture.engine.ClaimAt(t.Context(), second.ID, testBeneficiary, at); err != nil {
		t.Fatalf("unexpected claim error on unpaused schedule: %v", err)
	}

	if _, err := fixture.engine.UnpauseSchedule(t.Context(), first.ID, testAdmin); err != nil {
		t.Fatalf("unexpected schedule unpause error: %v", err)
	}
	if _, err := fixture.engine.ClaimAt(t.Context(), first.ID, testBeneficiary, at); err != nil {
		t.Fatalf("unexpected claim error after schedule unpause: %v", err)
	}
}

func TestFailedTransferLeavesLedgerUnchanged(t *testing.T) {
	fixture := newEngineFixture(t)
	schedule := fixture.createSchedule(t, 1_000, 0, 10*day)
	at := testEpoch.Add(10 * day)

	backendErr := errors.New("INSUFFICIENT_TOKEN_BALANCE")
	fixture.backend.failWith = backendErr

	_, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, at)
	requireCode(t, err, ErrTransferFailed)
	if !errors.Is(err, backendErr) {
		t.Fatalf("expected backend error to be wrapped, got %v", err)
	}

	stored, _ := fixture.engine.GetSchedule(t.Context(), schedule.ID)
	if stored.ReleasedAmount != 0 || stored.Version != schedule.Version {
		t.Fatalf("expected untouched schedule, got %+v", stored)
	}

	fixture.backend.failWith = nil
	result, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, at)
	if err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}
	if result.Amount != 1_000 {
		t.Fatalf("expected retried claim of 1000, got %d", result.Amount)
	}
}

func TestClaimWithoutBackend(t *testing.T) {
	store := NewMemoryStore()
	engine, err := NewEngine(EngineConfig{Store: store})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	_, err = engine.Claim(t.Context(), "any", testBeneficiary)
	requireCode(t, err, ErrTransferFailed)
}

func TestRevokeStopsFurtherRelease(t *testing.T) {
	fixture := newEngineFixture(t)
	schedule := fixture.createSchedule(t, 1_000_000, 10*day, 100*day)

	if _, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, testEpoch.Add(25*day)); err != nil {
		t.Fatalf("unexpected claim error: %v", err)
	}

	revoked, err := fixture.engine.RevokeAt(t.Context(), schedule.ID, testAdmin, testEpoch.Add(40*day))
	if err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}
	if !revoked.Revoked || revoked.ReleasedAmount != 250_000 || revoked.UnlockedAtRevocation != 400_000 {
		t.Fatalf("unexpected revoked schedule: %+v", revoked)
	}

	for _, offset := range []time.Duration{40 * day, 70 * day, 400 * day} {
		info, err := fixture.engine.Releasable(t.Context(), schedule.ID, testEpoch.Add(offset))
		if err != nil {
			t.Fatalf("unexpected releasable error: %v", err)
		}
		if info.Releasable != 0 {
			t.Fatalf("expected nothing releasable at %s, got %d", offset, info.Releasable)
		}
	}

	_, err = fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, testEpoch.Add(400*day))
	requireCode(t, err, ErrNothingToClaim)
	if got := fixture.backend.totalTo(testBeneficiary); got != 250_000 {
		t.Fatalf("expected only the pre-revocation 250000 paid, got %d", got)
	}

	_, err = fixture.engine.Revoke(t.Context(), schedule.ID, testAdmin)
	requireCode(t, err, ErrAlreadyRevoked)
}

func TestRevokeRequiresAdmin(t *testing.T) {
	fixture := newEngineFixture(t)
	schedule := fixture.createSchedule(t, 1_000, 0, 10*day)

	_, err := fixture.engine.Revoke(t.Context(), schedule.ID, testBeneficiary)
	requireCode(t, err, ErrUnauthorized)

	stored, _ := fixture.engine.GetSchedule(t.Context(), schedule.ID)
	if stored.Revoked {
		t.Fatal("expected schedule to remain unrevoked")
	}
}

func TestRecoverUnvested(t *testing.T) {
	fixture := newEngineFixture(t)
	schedule := fixture.createSchedule(t, 1_000_000, 10*day, 100*day)

	_, err := fixture.engine.RecoverUnvested(t.Context(), schedule.ID, testAdmin)
	requireCode(t, err, ErrInvalidParameters)

	if _, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, testEpoch.Add(40*day)); err != nil {
		t.Fatalf("unexpected claim error: %v", err)
	}
	if _, err := fixture.engine.RevokeAt(t.Context(), schedule.ID, testAdmin, testEpoch.Add(70*day)); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}

	_, err = fixture.engine.RecoverUnvested(t.Context(), schedule.ID, testBeneficiary)
	requireCode(t, err, ErrUnauthorized)

	result, err := fixture.engine.RecoverUnvested(t.Context(), schedule.ID, testAdmin)
	if err != nil {
		t.Fatalf("unexpected recover error: %v", err)
	}
	if result.Amount != 600_000 || result.Recipient != testRecovery {
		t.Fatalf("unexpected recovery: %+v", result)
	}
	if got := fixture.backend.totalTo(testRecovery); got != 600_000 {
		t.Fatalf("expected 600000 recovered, got %d", got)
	}

	_, err = fixture.engine.RecoverUnvested(t.Context(), schedule.ID, testAdmin)
	requireCode(t, err, ErrAlreadyRecovered)

	stored, _ := fixture.engine.GetSchedule(t.Context(), schedule.ID)
	if !stored.Recovered || stored.RecoveredAmount != 600_000 {
		t.Fatalf("unexpected stored schedule: %+v", stored)
	}

	types := fixture.sink.types()
	if types[len(types)-1] != EventUnvestedRecovered || types[len(types)-2] != EventScheduleRevoked {
		t.Fatalf("expected revoke then recover events, got %v", types)
	}
}

func TestRecoverFullyReleasedScheduleHasNothing(t *testing.T) {
	fixture := newEngineFixture(t)
	schedule := fixture.createSchedule(t, 1_000, 0, 10*day)

	if _, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, testEpoch.Add(20*day)); err != nil {
		t.Fatalf("unexpected claim error: %v", err)
	}
	if _, err := fixture.engine.RevokeAt(t.Context(), schedule.ID, testAdmin, testEpoch.Add(20*day)); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}
	_, err := fixture.engine.RecoverUnvested(t.Context(), schedule.ID, testAdmin)
	requireCode(t, err, ErrNothingToClaim)
}

func TestRevokeAfterFullUnlockRecoversUnclaimedBalance(t *testing.T) {
	fixture := newEngineFixture(t)
	schedule := fixture.createSchedule(t, 1_000, 0, 10*day)

	if _, err := fixture.engine.RevokeAt(t.Context(), schedule.ID, testAdmin, testEpoch.Add(20*day)); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}
	_, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, testEpoch.Add(20*day))
	requireCode(t, err, ErrNothingToClaim)

	result, err := fixture.engine.RecoverUnvested(t.Context(), schedule.ID, testAdmin)
	if err != nil {
		t.Fatalf("unexpected recover error: %v", err)
	}
	if result.Amount != 1_000 {
		t.Fatalf("expected the whole unreleased 1000 recovered, got %d", result.Amount)
	}
}

func TestRepeatedClaimsNeverExceedTotal(t *testing.T) {
	fixture := newEngineFixture(t)
	schedule := fixture.createSchedule(t, 999_983, 7*day, 97*day)

	var lastReleased uint64
	for offset := time.Duration(0); offset <= 120*day; offset += 3*day + 7*time.Hour {
		result, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, testEpoch.Add(offset))
		if err != nil && !IsNothingToClaim(err) {
			t.Fatalf("unexpected claim error: %v", err)
		}
		stored, _ := fixture.engine.GetSchedule(t.Context(), schedule.ID)
		if stored.ReleasedAmount < lastReleased {
			t.Fatalf("released amount decreased from %d to %d", lastReleased, stored.ReleasedAmount)
		}
		if stored.ReleasedAmount > stored.TotalAmount {
			t.Fatalf("released %d exceeds total %d", stored.ReleasedAmount, stored.TotalAmount)
		}
		if err == nil && result.ReleasedAmount != stored.ReleasedAmount {
			t.Fatalf("result and ledger disagree: %d vs %d", result.ReleasedAmount, stored.ReleasedAmount)
		}
		lastReleased = stored.ReleasedAmount
	}

	if lastReleased != 999_983 {
		t.Fatalf("expected full release, got %d", lastReleased)
	}
	if got := fixture.backend.totalTo(testBeneficiary); got != 999_983 {
		t.Fatalf("expected exactly total transferred, got %d", got)
	}
}

func TestConcurrentClaimsAreSerialized(t *testing.T) {
	fixture := newEngineFixture(t)
	schedule := fixture.createSchedule(t, 1_000_000, 0, 10*day)
	at := testEpoch.Add(20 * day)

	const workers = 32
	var waitGroup sync.WaitGroup
	var mutex sync.Mutex
	successes := 0
	empties := 0

	for worker := 0; worker < workers; worker++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := fixture.engine.ClaimAt(t.Context(), schedule.ID, testBeneficiary, at)
			mutex.Lock()
			defer mutex.Unlock()
			switch {
			case err == nil:
				successes++
			case IsNothingToClaim(err):
				empties++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	waitGroup.Wait()

	if successes != 1 || empties != workers-1 {
		t.Fatalf("expected 1 success and %d empty claims, got %d/%d", workers-1, successes, empties)
	}
	if got := fixture.backend.totalTo(testBeneficiary); got != 1_000_000 {
		t.Fatalf("expected exactly total transferred, got %d", got)
	}
	stored, _ := fixture.engine.GetSchedule(t.Context(), schedule.ID)
	if stored.ReleasedAmount != 1_000_000 {
		t.Fatalf("expected released total, got %d", stored.ReleasedAmount)
	}
}

func TestEventPublishFailureDoesNotUndoClaim(t *testing.T) {
	store := NewMemoryStore()
	backend := &recordingBackend{}
	engine, err := NewEngine(EngineConfig{
		Store:   store,
		Backend: backend,
		Clock:   newManualClock(testEpoch.Add(10 * day)),
		Events: EventSinkFunc(func(ctx context.Context, event Event) error {
			return errors.New("topic unavailable")
		}),
		VaultAccountID: testVault,
	})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	if _, err := engine.Initialize(t.Context(), []string{testAdmin}); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}
	schedule, err := engine.CreateSchedule(t.Context(), CreateScheduleParams{
		Beneficiary:     testBeneficiary,
		TotalAmount:     10,
		StartTime:       testEpoch,
		VestingDuration: day,
		Caller:          testAdmin,
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	result, err := engine.Claim(t.Context(), schedule.ID, testBeneficiary)
	if err != nil {
		t.Fatalf("unexpected claim error: %v", err)
	}
	if result.Amount != 10 {
		t.Fatalf("expected 10 claimed, got %d", result.Amount)
	}
}
