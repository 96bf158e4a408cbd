package vesting

import (
	"math"
	"strings"
	"time"
)

var (
	minRepresentableTime = time.Unix(0, math.MinInt64)
	maxRepresentableTime = time.Unix(0, math.MaxInt64)
)

// ValidateScheduleTerms checks the immutable terms of a grant.
func ValidateScheduleTerms(params CreateScheduleParams) error {
	if strings.TrimSpace(params.Beneficiary) == "" {
		return newError(CodeInvalidParameters, "", "beneficiary is required")
	}
	if params.TotalAmount == 0 {
		return newError(CodeInvalidParameters, "", "total amount must be greater than zero")
	}
	if params.VestingDuration <= 0 {
		return newError(CodeInvalidParameters, "", "vesting duration must be greater than zero")
	}
	if params.CliffDuration < 0 {
		return newError(CodeInvalidParameters, "", "cliff duration must not be negative")
	}
	if params.CliffDuration > params.VestingDuration {
		return newError(CodeInvalidParameters, "", "cliff duration must not exceed vesting duration")
	}
	if params.StartTime.IsZero() {
		return newError(CodeInvalidParameters, "", "start time is required")
	}

	if params.StartTime.Before(minRepresentableTime) || params.StartTime.After(maxRepresentableTime) {
		return newError(CodeArithmeticOverflow, "", "start time is outside the representable range")
	}
	if _, err := checkedAddNanos(params.StartTime.UnixNano(), int64(params.VestingDuration)); err != nil {
		return newError(CodeArithmeticOverflow, "", "vesting end is outside the representable range")
	}
	return nil
}

// VestedAmount returns the cumulative amount unlocked at the given instant,
// ignoring what was already released. A revoked schedule is frozen at what
// it had released when it was revoked.
func VestedAmount(schedule Schedule, at time.Time) (uint64, error) {
	if schedule.Revoked {
		return schedule.ReleasedAmount, nil
	}
	return linearUnlocked(schedule, at)
}

// ReleasableAmount returns the amount the beneficiary may claim at the given
// instant. It never mutates the schedule.
func ReleasableAmount(schedule Schedule, at time.Time) (uint64, error) {
	vested, err := VestedAmount(schedule, at)
	if err != nil {
		return 0, err
	}
	if vested <= schedule.ReleasedAmount {
		return 0, nil
	}
	return checkedSub(vested, schedule.ReleasedAmount)
}

// UnvestedRemainder is the amount an admin may recover from a revoked schedule.
func UnvestedRemainder(schedule Schedule) (uint64, error) {
	if !schedule.Revoked {
		return 0, nil
	}
	return checkedSub(schedule.TotalAmount, schedule.ReleasedAmount)
}

func linearUnlocked(schedule Schedule, at time.Time) (uint64, error) {
	if schedule.VestingDuration <= 0 {
		return 0, newError(CodeInvalidParameters, schedule.ID, "vesting duration must be greater than zero")
	}
	if at.Before(schedule.CliffEnd()) {
		return 0, nil
	}
	if !at.Before(schedule.VestingEnd()) {
		return schedule.TotalAmount, nil
	}

	// cliff <= elapsed < vesting duration, so both fit in a positive int64.
	elapsed := at.Sub(schedule.StartTime)
	return mulDiv(schedule.TotalAmount, uint64(elapsed), uint64(schedule.VestingDuration))
}
