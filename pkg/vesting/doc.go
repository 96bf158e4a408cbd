// Package vesting implements a token vesting ledger: linear release of a
// locked grant to a beneficiary after a cliff, with admin-controlled schedule
// creation, revocation, recovery of unvested funds, and emergency pause.
//
// The engine never holds tokens. Releases are paid from a custodial vault by
// a TransferBackend (see package hts for the Hedera Token Service backend) and
// the ledger is only updated after the backend confirms the transfer.
//
// # Schedules
//
// A schedule unlocks nothing before StartTime+CliffDuration, then
// floor(TotalAmount*elapsed/VestingDuration) until StartTime+VestingDuration,
// after which the whole grant is unlocked:
//
//	releasable, err := vesting.ReleasableAmount(schedule, time.Now())
//
// # Engine Usage
//
//	engine, err := vesting.NewEngine(vesting.EngineConfig{
//		Store:          vesting.NewMemoryStore(),
//		Backend:        backend,
//		VaultAccountID: "0.0.5005",
//	})
//
//	_, err = engine.Initialize(ctx, []string{"0.0.1001"})
//
//	schedule, err := engine.CreateSchedule(ctx, vesting.CreateScheduleParams{
//		Beneficiary:     "0.0.2002",
//		TotalAmount:     1_000_000,
//		StartTime:       time.Now(),
//		CliffDuration:   30 * 24 * time.Hour,
//		VestingDuration: 120 * 24 * time.Hour,
//		Caller:          "0.0.1001",
//	})
//
//	result, err := engine.Claim(ctx, schedule.ID, "0.0.2002")
//	if vesting.IsNothingToClaim(err) {
//		// nothing due yet
//	}
//
// Revocation and recovery are two separate admin calls so the audit trail
// records both steps.
package vesting
