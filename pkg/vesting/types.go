package vesting

import (
	"time"
)

const (
	EventScheduleCreated   = "schedule_created"
	EventTokensClaimed     = "tokens_claimed"
	EventScheduleRevoked   = "schedule_revoked"
	EventUnvestedRecovered = "unvested_recovered"
	EventSchedulePaused    = "schedule_paused"
	EventScheduleUnpaused  = "schedule_unpaused"
	EventPaused            = "paused"
	EventUnpaused          = "unpaused"
	EventAdminAdded        = "admin_added"
	EventAdminRemoved      = "admin_removed"
	EventInitialized       = "initialized"
	EventTransferResolved  = "transfer_resolved"
)

// Schedule is one beneficiary grant. It is never deleted; a fully released
// or recovered schedule stays in the store as an audit record.
type Schedule struct {
	ID              string        `json:"id" msgpack:"id"`
	Beneficiary     string        `json:"beneficiary" msgpack:"beneficiary"`
	TotalAmount     uint64        `json:"totalAmount" msgpack:"total_amount"`
	ReleasedAmount  uint64        `json:"releasedAmount" msgpack:"released_amount"`
	StartTime       time.Time     `json:"startTime" msgpack:"start_time"`
	CliffDuration   time.Duration `json:"cliffDuration" msgpack:"cliff_duration"`
	VestingDuration time.Duration `json:"vestingDuration" msgpack:"vesting_duration"`

	// Revocation stops all further release at ReleasedAmount.
	// UnlockedAtRevocation records what the linear curve had unlocked at
	// RevokedAt and is kept for the audit trail only.
	Revoked              bool      `json:"revoked" msgpack:"revoked"`
	RevokedAt            time.Time `json:"revokedAt,omitempty" msgpack:"revoked_at"`
	UnlockedAtRevocation uint64    `json:"unlockedAtRevocation,omitempty" msgpack:"unlocked_at_revocation"`
	Recovered            bool      `json:"recovered" msgpack:"recovered"`
	RecoveredAmount      uint64    `json:"recoveredAmount,omitempty" msgpack:"recovered_amount"`

	// Pending is a submitted transfer whose outcome is not known yet. While
	// it is set, claims, revocation and recovery are refused.
	Pending *PendingTransfer `json:"pending,omitempty" msgpack:"pending,omitempty"`

	Paused    bool      `json:"paused" msgpack:"paused"`
	CreatedAt time.Time `json:"createdAt" msgpack:"created_at"`
	Version   uint64    `json:"version" msgpack:"version"`
}

// Clone returns a copy that shares no memory with schedule.
func (schedule Schedule) Clone() Schedule {
	cloned := schedule
	if schedule.Pending != nil {
		pending := *schedule.Pending
		cloned.Pending = &pending
	}
	return cloned
}

const (
	TransferKindClaim    = "claim"
	TransferKindRecovery = "recovery"
)

// PendingTransfer is a vault transfer that was submitted but whose receipt
// never arrived.
type PendingTransfer struct {
	Kind          string    `json:"kind" msgpack:"kind"`
	TransactionID string    `json:"transactionId" msgpack:"transaction_id"`
	To            string    `json:"to" msgpack:"to"`
	Amount        uint64    `json:"amount" msgpack:"amount"`
	SubmittedAt   time.Time `json:"submittedAt" msgpack:"submitted_at"`
}

// CliffEnd returns the first instant at which a release is permitted.
func (schedule Schedule) CliffEnd() time.Time {
	return schedule.StartTime.Add(schedule.CliffDuration)
}

// VestingEnd returns the instant at which the full grant is unlocked.
func (schedule Schedule) VestingEnd() time.Time {
	return schedule.StartTime.Add(schedule.VestingDuration)
}

// ControlState is the persisted singleton holding the admin registry and the
// global pause flag.
type ControlState struct {
	Admins      []string `json:"admins" msgpack:"admins"`
	Paused      bool     `json:"paused" msgpack:"paused"`
	Initialized bool     `json:"initialized" msgpack:"initialized"`
	Version     uint64   `json:"version" msgpack:"version"`
}

// Clone returns a deep copy of the control state.
func (state ControlState) Clone() ControlState {
	cloned := state
	cloned.Admins = append([]string{}, state.Admins...)
	return cloned
}

// CreateScheduleParams are the immutable terms of a new grant plus the
// admin creating it.
type CreateScheduleParams struct {
	Beneficiary     string
	TotalAmount     uint64
	StartTime       time.Time
	CliffDuration   time.Duration
	VestingDuration time.Duration
	Caller          string
}

// ClaimResult describes one settled release to the beneficiary.
type ClaimResult struct {
	ScheduleID     string    `json:"scheduleId"`
	Beneficiary    string    `json:"beneficiary"`
	Amount         uint64    `json:"amount"`
	ReleasedAmount uint64    `json:"releasedAmount"`
	TransactionID  string    `json:"transactionId"`
	ClaimedAt      time.Time `json:"claimedAt"`
}

// RecoveryResult describes the transfer of a revoked schedule's remainder.
type RecoveryResult struct {
	ScheduleID    string    `json:"scheduleId"`
	Recipient     string    `json:"recipient"`
	Amount        uint64    `json:"amount"`
	TransactionID string    `json:"transactionId"`
	RecoveredAt   time.Time `json:"recoveredAt"`
}

// ReleasableInfo is the read-only view of a schedule at a given instant.
type ReleasableInfo struct {
	ScheduleID string    `json:"scheduleId"`
	At         time.Time `json:"at"`
	Vested     uint64    `json:"vested"`
	Releasable uint64    `json:"releasable"`
}

// Status is the global control state as seen by callers.
type Status struct {
	Paused      bool     `json:"paused"`
	Initialized bool     `json:"initialized"`
	Admins      []string `json:"admins"`
}

// Event is emitted after every committed state change.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	ScheduleID    string    `json:"scheduleId,omitempty"`
	Actor         string    `json:"actor"`
	Subject       string    `json:"subject,omitempty"`
	Amount        uint64    `json:"amount,omitempty"`
	TransactionID string    `json:"transactionId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// ReconcileParams settles a pending transfer by hand when the backend
// cannot report its outcome.
type ReconcileParams struct {
	ScheduleID string
	Caller     string
	// Settled is true when the transfer reached the recipient.
	Settled bool
}
