package vesting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/hashgraph-online/vesting-sdk-go/pkg/vesting"

// EngineConfig wires an Engine to its store, transfer backend and sinks.
type EngineConfig struct {
	Store   Store
	Backend TransferBackend
	Clock   Clock
	Events  EventSink
	Logger  *zap.Logger

	// VaultAccountID is the custodial account every release is paid from.
	VaultAccountID string
	// RecoveryAccountID receives recovered unvested funds. When empty the
	// calling admin receives them.
	RecoveryAccountID string
	// NewID overrides schedule ID generation.
	NewID func() string
}

// Engine runs every vesting operation against a Store. It is safe for
// concurrent use; per-schedule serialisation is the store's job.
type Engine struct {
	store    Store
	backend  TransferBackend
	clock    Clock
	events   EventSink
	logger   *zap.Logger
	tracer   trace.Tracer
	vault    string
	recovery string
	newID    func() string
}

// NewEngine creates a vesting engine over the given store.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	clock := config.Clock
	if clock == nil {
		clock = SystemClock()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newID := config.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}

	return &Engine{
		store:    config.Store,
		backend:  config.Backend,
		clock:    clock,
		events:   config.Events,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		vault:    strings.TrimSpace(config.VaultAccountID),
		recovery: strings.TrimSpace(config.RecoveryAccountID),
		newID:    newID,
	}, nil
}

// Now returns the engine clock reading.
func (engine *Engine) Now() time.Time {
	return engine.clock.Now()
}

// CreateSchedule inserts a new grant. Only admins may create schedules.
func (engine *Engine) CreateSchedule(ctx context.Context, params CreateScheduleParams) (schedule Schedule, err error) {
	ctx, span := engine.startSpan(ctx, "CreateSchedule", attribute.String("vesting.caller", params.Caller))
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
	if err := ValidateScheduleTerms(params); err != nil {
		return Schedule{}, err
	}

	schedule = Schedule{
		ID:              engine.newID(),
		Beneficiary:     strings.TrimSpace(params.Beneficiary),
		TotalAmount:     params.TotalAmount,
		ReleasedAmount:  0,
		StartTime:       params.StartTime.UTC(),
		CliffDuration:   params.CliffDuration,
		VestingDuration: params.VestingDuration,
		CreatedAt:       engine.clock.Now().UTC(),
		Version:         1,
	}
	if err := engine.store.InsertSchedule(ctx, schedule); err != nil {
		return Schedule{}, fmt.Errorf("failed to insert schedule: %w", err)
	}

	engine.logger.Info("vesting schedule created",
		zap.String("schedule_id", schedule.ID),
		zap.String("beneficiary", schedule.Beneficiary),
		zap.Uint64("total_amount", schedule.TotalAmount),
		zap.String("caller", params.Caller),
	)
	engine.emit(ctx, Event{
		Type:       EventScheduleCreated,
		ScheduleID: schedule.ID,
		Actor:      params.Caller,
		Subject:    schedule.Beneficiary,
		Amount:     schedule.TotalAmount,
	})

	return schedule, nil
}

// GetSchedule returns the stored schedule.
func (engine *Engine) GetSchedule(ctx context.Context, id string) (Schedule, error) {
	return engine.store.GetSchedule(ctx, strings.TrimSpace(id))
}

// ListSchedules returns every schedule granted to a beneficiary.
func (engine *Engine) ListSchedules(ctx context.Context, beneficiary string) ([]Schedule, error) {
	return engine.store.ListSchedules(ctx, strings.TrimSpace(beneficiary))
}

// ListAllSchedules returns every schedule in creation order.
func (engine *Engine) ListAllSchedules(ctx context.Context) ([]Schedule, error) {
	return engine.store.ListAllSchedules(ctx)
}

// Releasable looks up a schedule and evaluates it at the given instant.
func (engine *Engine) Releasable(ctx context.Context, id string, at time.Time) (ReleasableInfo, error) {
	schedule, err := engine.GetSchedule(ctx, id)
	if err != nil {
		return ReleasableInfo{}, err
	}
	vested, err := VestedAmount(schedule, at)
	if err != nil {
		return ReleasableInfo{}, err
	}
	releasable, err := ReleasableAmount(schedule, at)
	if err != nil {
		return ReleasableInfo{}, err
	}
	return ReleasableInfo{
		ScheduleID: schedule.ID,
		At:         at,
		Vested:     vested,
		Releasable: releasable,
	}, nil
}

// Claim releases everything currently due to the beneficiary.
func (engine *Engine) Claim(ctx context.Context, id string, caller string) (ClaimResult, error) {
	return engine.ClaimAt(ctx, id, caller, engine.clock.Now())
}

// ClaimAt releases everything due at the given instant. The transfer runs
// while the store holds the schedule lock and released_amount is only
// written after the backend reports success.
func (engine *Engine) ClaimAt(ctx context.Context, id string, caller string, at time.Time) (result ClaimResult, err error) {
	ctx, span := engine.startSpan(ctx, "Claim",
		attribute.String("vesting.schedule_id", id),
		attribute.String("vesting.caller", caller),
	)
	defer func() { endSpan(span, err) }()

	if engine.backend == nil {
		return ClaimResult{}, newTransferError(id, fmt.Errorf("no transfer backend configured"))
	}
	if err := engine.resolvePending(ctx, id, caller); err != nil {
		return ClaimResult{}, err
	}

	var submitted bool
	var transactionID string
	var parked error
	updated, err := engine.store.UpdateSchedule(ctx, id, func(ctx context.Context, schedule *Schedule) error {
		submitted, parked = false, nil
		if !sameAddress(schedule.Beneficiary, caller) {
			return newError(CodeUnauthorized, schedule.ID, "caller %q is not the beneficiary", caller)
		}

		control, err := engine.store.LoadControl(ctx)
		if err != nil {
			return err
		}
		if err := requireClaimable(control, *schedule); err != nil {
			return err
		}
		if schedule.Pending != nil {
			return newPendingError(*schedule)
		}

		amount, err := ReleasableAmount(*schedule, at)
		if err != nil {
			return err
		}
		if amount == 0 {
			return &Error{Code: CodeNothingToClaim, Message: "nothing to claim", ScheduleID: schedule.ID}
		}
		released, err := checkedAdd(schedule.ReleasedAmount, amount)
		if err != nil {
			return err
		}
		if released > schedule.TotalAmount {
			return newError(CodeArithmeticOverflow, schedule.ID, "release would exceed total amount")
		}

		request := TransferRequest{
			ScheduleID: schedule.ID,
			From:       engine.vault,
			To:         schedule.Beneficiary,
			Amount:     amount,
			Memo:       fmt.Sprintf("vesting claim %s", schedule.ID),
		}
		receipt, err := engine.backend.Transfer(ctx, request)
		if err != nil {
			if !engine.park(schedule, TransferKindClaim, request, err) {
				return newTransferError(schedule.ID, err)
			}
			submitted, transactionID = true, schedule.Pending.TransactionID
			parked = &Error{
				Code:       CodeTransferUnconfirmed,
				Message:    "claim transfer submitted but its outcome is unknown",
				ScheduleID: schedule.ID,
				Err:        err,
			}
			return nil
		}
		submitted, transactionID = true, receipt.TransactionID

		schedule.ReleasedAmount = released
		result = ClaimResult{
			ScheduleID:     schedule.ID,
			Beneficiary:    schedule.Beneficiary,
			Amount:         amount,
			ReleasedAmount: released,
			TransactionID:  receipt.TransactionID,
			ClaimedAt:      at,
		}
		return nil
	})
	if err != nil {
		if submitted {
			return ClaimResult{}, engine.unrecorded(id, transactionID, err)
		}
		if IsNothingToClaim(err) {
			engine.logger.Debug("vesting claim found nothing due", zap.String("schedule_id", id))
		} else {
			engine.logger.Warn("vesting claim rejected", zap.String("schedule_id", id), zap.String("caller", caller), zap.Error(err))
		}
		return ClaimResult{}, err
	}
	if parked != nil {
		engine.logger.Error("vesting claim parked on an unconfirmed transfer",
			zap.String("schedule_id", updated.ID),
			zap.String("transaction_id", updated.Pending.TransactionID),
			zap.Uint64("amount", updated.Pending.Amount),
			zap.Error(parked),
		)
		return ClaimResult{}, parked
	}

	engine.logger.Info("vesting tokens claimed",
		zap.String("schedule_id", updated.ID),
		zap.Uint64("amount", result.Amount),
		zap.Uint64("released_amount", updated.ReleasedAmount),
		zap.String("transaction_id", result.TransactionID),
	)
	engine.emit(ctx, Event{
		Type:          EventTokensClaimed,
		ScheduleID:    updated.ID,
		Actor:         caller,
		Subject:       updated.Beneficiary,
		Amount:        result.Amount,
		TransactionID: result.TransactionID,
	})

	return result, nil
}

// Revoke stops all further release. Whatever the beneficiary has not been
// paid stays in the vault and becomes recoverable through RecoverUnvested.
func (engine *Engine) Revoke(ctx context.Context, id string, caller string) (Schedule, error) {
	return engine.RevokeAt(ctx, id, caller, engine.clock.Now())
}

// RevokeAt revokes as of the given instant, which is recorded together with
// the amount the linear curve had unlocked by then.
func (engine *Engine) RevokeAt(ctx context.Context, id string, caller string, at time.Time) (schedule Schedule, err error) {
	ctx, span := engine.startSpan(ctx, "Revoke",
		attribute.String("vesting.schedule_id", id),
		attribute.String("vesting.caller", caller),
	)
	defer func() { endSpan(span, err) }()

	control, err := engine.store.LoadControl(ctx)
	if err != nil {
		return Schedule{}, err
	}
	if err := requireActive(control); err != nil {
		return Schedule{}, err
	}
	if err := requireAdmin(control, caller); err != nil {
		return Schedule{}, err
	}
	if err := engine.resolvePending(ctx, id, caller); err != nil {
		return Schedule{}, err
	}

	schedule, err = engine.store.UpdateSchedule(ctx, id, func(ctx context.Context, current *Schedule) error {
		if current.Revoked {
			return newError(CodeAlreadyRevoked, current.ID, "schedule already revoked")
		}
		if current.Pending != nil {
			return newPendingError(*current)
		}
		unlocked, err := linearUnlocked(*current, at)
		if err != nil {
			return err
		}
		current.Revoked = true
		current.RevokedAt = at.UTC()
		current.UnlockedAtRevocation = unlocked
		return nil
	})
	if err != nil {
		return Schedule{}, err
	}

	engine.logger.Info("vesting schedule revoked",
		zap.String("schedule_id", schedule.ID),
		zap.Uint64("released_amount", schedule.ReleasedAmount),
		zap.Uint64("unlocked_at_revocation", schedule.UnlockedAtRevocation),
		zap.String("caller", caller),
	)
	engine.emit(ctx, Event{
		Type:       EventScheduleRevoked,
		ScheduleID: schedule.ID,
		Actor:      caller,
		Subject:    schedule.Beneficiary,
		Amount:     schedule.ReleasedAmount,
	})

	return schedule, nil
}

// RecoverUnvested returns everything a revoked schedule never released to
// the recovery account.
func (engine *Engine) RecoverUnvested(ctx context.Context, id string, caller string) (result RecoveryResult, err error) {
	ctx, span := engine.startSpan(ctx, "RecoverUnvested",
		attribute.String("vesting.schedule_id", id),
		attribute.String("vesting.caller", caller),
	)
	defer func() { endSpan(span, err) }()

	if engine.backend == nil {
		return RecoveryResult{}, newTransferError(id, fmt.Errorf("no transfer backend configured"))
	}
	if err := engine.resolvePending(ctx, id, caller); err != nil {
		return RecoveryResult{}, err
	}

	recipient := engine.recovery
	if recipient == "" {
		recipient = strings.TrimSpace(caller)
	}

	var submitted bool
	var transactionID string
	var parked error
	updated, err := engine.store.UpdateSchedule(ctx, id, func(ctx context.Context, schedule *Schedule) error {
		submitted, parked = false, nil
		control, err := engine.store.LoadControl(ctx)
		if err != nil {
			return err
		}
		if err := requireActive(control); err != nil {
			return err
		}
		if err := requireAdmin(control, caller); err != nil {
			return err
		}
		if !schedule.Revoked {
			return newError(CodeInvalidParameters, schedule.ID, "schedule is not revoked")
		}
		if schedule.Recovered {
			return newError(CodeAlreadyRecovered, schedule.ID, "unvested amount already recovered")
		}
		if schedule.Pending != nil {
			return newPendingError(*schedule)
		}

		remainder, err := UnvestedRemainder(*schedule)
		if err != nil {
			return err
		}
		if remainder == 0 {
			return &Error{Code: CodeNothingToClaim, Message: "nothing to recover", ScheduleID: schedule.ID}
		}

		request := TransferRequest{
			ScheduleID: schedule.ID,
			From:       engine.vault,
			To:         recipient,
			Amount:     remainder,
			Memo:       fmt.Sprintf("vesting recovery %s", schedule.ID),
		}
		receipt, err := engine.backend.Transfer(ctx, request)
		if err != nil {
			if !engine.park(schedule, TransferKindRecovery, request, err) {
				return newTransferError(schedule.ID, err)
			}
			submitted, transactionID = true, schedule.Pending.TransactionID
			parked = &Error{
				Code:       CodeTransferUnconfirmed,
				Message:    "recovery transfer submitted but its outcome is unknown",
				ScheduleID: schedule.ID,
				Err:        err,
			}
			return nil
		}
		submitted, transactionID = true, receipt.TransactionID

		schedule.Recovered = true
		schedule.RecoveredAmount = remainder
		result = RecoveryResult{
			ScheduleID:    schedule.ID,
			Recipient:     recipient,
			Amount:        remainder,
			TransactionID: receipt.TransactionID,
			RecoveredAt:   engine.clock.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		if submitted {
			return RecoveryResult{}, engine.unrecorded(id, transactionID, err)
		}
		return RecoveryResult{}, err
	}
	if parked != nil {
		engine.logger.Error("vesting recovery parked on an unconfirmed transfer",
			zap.String("schedule_id", updated.ID),
			zap.String("transaction_id", updated.Pending.TransactionID),
			zap.Error(parked),
		)
		return RecoveryResult{}, parked
	}

	engine.logger.Info("unvested amount recovered",
		zap.String("schedule_id", updated.ID),
		zap.Uint64("amount", result.Amount),
		zap.String("recipient", recipient),
		zap.String("transaction_id", result.TransactionID),
	)
	engine.emit(ctx, Event{
		Type:          EventUnvestedRecovered,
		ScheduleID:    updated.ID,
		Actor:         caller,
		Subject:       recipient,
		Amount:        result.Amount,
		TransactionID: result.TransactionID,
	})

	return result, nil
}

// PauseSchedule blocks claims against a single schedule.
func (engine *Engine) PauseSchedule(ctx context.Context, id string, caller string) (Schedule, error) {
	return engine.setSchedulePaused(ctx, id, caller, true)
}

// UnpauseSchedule lifts a schedule-level pause.
func (engine *Engine) UnpauseSchedule(ctx context.Context, id string, caller string) (Schedule, error) {
	return engine.setSchedulePaused(ctx, id, caller, false)
}

func (engine *Engine) setSchedulePaused(ctx context.Context, id string, caller string, paused bool) (schedule Schedule, err error) {
	ctx, span := engine.startSpan(ctx, "SetSchedulePaused",
		attribute.String("vesting.schedule_id", id),
		attribute.Bool("vesting.paused", paused),
	)
	defer func() { endSpan(span, err) }()

	control, err := engine.store.LoadControl(ctx)
	if err != nil {
		return Schedule{}, err
	}
	if err := requireActive(control); err != nil {
		return Schedule{}, err
	}
	if err := requireAdmin(control, caller); err != nil {
		return Schedule{}, err
	}

	schedule, err = engine.store.UpdateSchedule(ctx, id, func(ctx context.Context, current *Schedule) error {
		if current.Paused == paused {
			return newError(CodeInvalidParameters, current.ID, "schedule paused state is already %t", paused)
		}
		current.Paused = paused
		return nil
	})
	if err != nil {
		return Schedule{}, err
	}

	eventType := EventScheduleUnpaused
	if paused {
		eventType = EventSchedulePaused
	}
	engine.logger.Info("vesting schedule pause changed",
		zap.String("schedule_id", schedule.ID),
		zap.Bool("paused", paused),
		zap.String("caller", caller),
	)
	engine.emit(ctx, Event{
		Type:       eventType,
		ScheduleID: schedule.ID,
		Actor:      caller,
	})

	return schedule, nil
}

func (engine *Engine) emit(ctx context.Context, event Event) {
	if engine.events == nil {
		return
	}
	event.ID = uuid.NewString()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = engine.clock.Now().UTC()
	}
	if err := engine.events.Publish(ctx, event); err != nil {
		engine.logger.Warn("failed to publish vesting event",
			zap.String("event_type", event.Type),
			zap.String("schedule_id", event.ScheduleID),
			zap.Error(err),
		)
	}
}

func (engine *Engine) startSpan(ctx context.Context, name string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return engine.tracer.Start(ctx, "vesting."+name, trace.WithAttributes(attributes...))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !IsNothingToClaim(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if code := CodeOf(err); code != "" {
		span.SetAttributes(attribute.String("vesting.error_code", string(code)))
	}
	span.End()
}
