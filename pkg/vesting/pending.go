package vesting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var errNothingPending = errors.New("no pending transfer")

// park records a transfer whose outcome the backend could not determine.
// It reports false for ordinary failures, which leave the schedule untouched.
func (engine *Engine) park(schedule *Schedule, kind string, request TransferRequest, cause error) bool {
	var unknown *OutcomeUnknownError
	if !errors.As(cause, &unknown) {
		return false
	}
	schedule.Pending = &PendingTransfer{
		Kind:          kind,
		TransactionID: unknown.TransactionID,
		To:            request.To,
		Amount:        request.Amount,
		SubmittedAt:   engine.clock.Now().UTC(),
	}
	return true
}

// unrecorded reports a transfer that left the vault but whose ledger write
// failed. Retrying would pay twice, so the caller must reconcile instead.
func (engine *Engine) unrecorded(id string, transactionID string, cause error) error {
	engine.logger.Error("vesting transfer submitted but ledger write failed",
		zap.String("schedule_id", id),
		zap.String("transaction_id", transactionID),
		zap.Error(cause),
	)
	return &Error{
		Code:       CodeTransferUnrecorded,
		Message:    fmt.Sprintf("transfer %s submitted but not recorded", transactionID),
		ScheduleID: strings.TrimSpace(id),
		Err:        cause,
	}
}

// resolvePending asks the backend what became of a parked transfer and
// applies the answer. Schedules without one are left alone.
func (engine *Engine) resolvePending(ctx context.Context, id string, actor string) error {
	schedule, err := engine.store.GetSchedule(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if schedule.Pending == nil {
		return nil
	}
	resolver, ok := engine.backend.(TransferResolver)
	if !ok {
		return newPendingError(schedule)
	}

	var pending PendingTransfer
	var outcome TransferOutcome
	updated, err := engine.store.UpdateSchedule(ctx, schedule.ID, func(ctx context.Context, current *Schedule) error {
		if current.Pending == nil {
			return errNothingPending
		}
		pending = *current.Pending
		resolved, err := resolver.ResolveTransfer(ctx, pending)
		if err != nil {
			return &Error{
				Code:       CodeTransferUnconfirmed,
				Message:    fmt.Sprintf("failed to resolve transfer %s", pending.TransactionID),
				ScheduleID: current.ID,
				Err:        err,
			}
		}
		outcome = resolved
		return applyOutcome(current, outcome)
	})
	if errors.Is(err, errNothingPending) {
		return nil
	}
	if err != nil {
		return err
	}

	engine.finishResolution(ctx, updated, pending, outcome, actor)
	return nil
}

// ReconcileTransfer settles a pending transfer from an operator's own
// lookup, for backends that cannot resolve outcomes themselves.
func (engine *Engine) ReconcileTransfer(ctx context.Context, params ReconcileParams) (schedule Schedule, err error) {
	ctx, span := engine.startSpan(ctx, "ReconcileTransfer",
		attribute.String("vesting.schedule_id", params.ScheduleID),
		attribute.String("vesting.caller", params.Caller),
		attribute.Bool("vesting.settled", params.Settled),
	)
	defer func() { endSpan(span, err) }()

	control, err := engine.store.LoadControl(ctx)
	if err != nil {
		return Schedule{}, err
	}
	if err := requireActive(control); err != nil {
		return Schedule{}, err
	}
	if err := requireAdmin(control, params.Caller); err != nil {
		return Schedule{}, err
	}

	outcome := TransferOutcomeFailed
	if params.Settled {
		outcome = TransferOutcomeSettled
	}

	var pending PendingTransfer
	schedule, err = engine.store.UpdateSchedule(ctx, strings.TrimSpace(params.ScheduleID), func(ctx context.Context, current *Schedule) error {
		if current.Pending == nil {
			return newError(CodeInvalidParameters, current.ID, "schedule has no pending transfer")
		}
		pending = *current.Pending
		return applyOutcome(current, outcome)
	})
	if err != nil {
		return Schedule{}, err
	}

	engine.finishResolution(ctx, schedule, pending, outcome, params.Caller)
	return schedule, nil
}

func applyOutcome(schedule *Schedule, outcome TransferOutcome) error {
	pending := schedule.Pending
	switch outcome {
	case TransferOutcomeSettled:
		if pending.Kind == TransferKindRecovery {
			schedule.Recovered = true
			schedule.RecoveredAmount = pending.Amount
			break
		}
		released, err := checkedAdd(schedule.ReleasedAmount, pending.Amount)
		if err != nil {
			return err
		}
		if released > schedule.TotalAmount {
			return newError(CodeArithmeticOverflow, schedule.ID, "release would exceed total amount")
		}
		schedule.ReleasedAmount = released
	case TransferOutcomeFailed:
	default:
		return newPendingError(*schedule)
	}
	schedule.Pending = nil
	return nil
}

func (engine *Engine) finishResolution(ctx context.Context, schedule Schedule, pending PendingTransfer, outcome TransferOutcome, actor string) {
	engine.logger.Info("vesting pending transfer resolved",
		zap.String("schedule_id", schedule.ID),
		zap.String("kind", pending.Kind),
		zap.String("transaction_id", pending.TransactionID),
		zap.Stringer("outcome", outcome),
	)

	if outcome != TransferOutcomeSettled {
		engine.emit(ctx, Event{
			Type:          EventTransferResolved,
			ScheduleID:    schedule.ID,
			Actor:         actor,
			Subject:       pending.To,
			TransactionID: pending.TransactionID,
		})
		return
	}

	eventType := EventTokensClaimed
	if pending.Kind == TransferKindRecovery {
		eventType = EventUnvestedRecovered
	}
	engine.emit(ctx, Event{
		Type:          eventType,
		ScheduleID:    schedule.ID,
		Actor:         actor,
		Subject:       pending.To,
		Amount:        pending.Amount,
		TransactionID: pending.TransactionID,
	})
}
