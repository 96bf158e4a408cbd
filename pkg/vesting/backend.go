package vesting

import (
	"context"
	"fmt"
	"time"
)

// TransferRequest asks the backend to move Amount units from the vault.
type TransferRequest struct {
	ScheduleID string
	From       string
	To         string
	Amount     uint64
	Memo       string
}

// TransferReceipt identifies a settled transfer.
type TransferReceipt struct {
	TransactionID string
	ConsensusAt   time.Time
}

// TransferBackend moves units from the custodial vault. Transfer must either
// complete or report an error with no balance moved; the engine only updates
// the ledger after a nil error. A backend that submitted a transfer but
// cannot tell whether it settled must return an *OutcomeUnknownError instead.
type TransferBackend interface {
	Transfer(ctx context.Context, request TransferRequest) (TransferReceipt, error)
}

// OutcomeUnknownError reports a transfer that was submitted and may have
// settled. The engine parks the schedule until the outcome is resolved.
type OutcomeUnknownError struct {
	TransactionID string
	Err           error
}

func (errorValue *OutcomeUnknownError) Error() string {
	return fmt.Sprintf("outcome of transfer %s is unknown: %v", errorValue.TransactionID, errorValue.Err)
}

func (errorValue *OutcomeUnknownError) Unwrap() error {
	return errorValue.Err
}

type TransferOutcome int

const (
	TransferOutcomeUnknown TransferOutcome = iota
	TransferOutcomeSettled
	TransferOutcomeFailed
)

func (outcome TransferOutcome) String() string {
	switch outcome {
	case TransferOutcomeSettled:
		return "settled"
	case TransferOutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TransferResolver is implemented by backends that can look up what became
// of a pending transfer.
type TransferResolver interface {
	ResolveTransfer(ctx context.Context, pending PendingTransfer) (TransferOutcome, error)
}

// TransferFunc adapts a function to TransferBackend.
type TransferFunc func(ctx context.Context, request TransferRequest) (TransferReceipt, error)

func (transfer TransferFunc) Transfer(ctx context.Context, request TransferRequest) (TransferReceipt, error) {
	return transfer(ctx, request)
}

// Clock is the trusted time source.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// SystemClock returns the wall clock in UTC.
func SystemClock() Clock {
	return systemClock{}
}

// EventSink receives events after their state change is committed.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event Event) error

func (sink EventSinkFunc) Publish(ctx context.Context, event Event) error {
	return sink(ctx, event)
}

// MultiSink fans an event out to every sink and returns the first error.
type MultiSink []EventSink

func (sinks MultiSink) Publish(ctx context.Context, event Event) error {
	var firstErr error
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
