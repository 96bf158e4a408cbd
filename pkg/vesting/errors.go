package vesting

import (
	"errors"
	"fmt"
)

// ErrorCode classifies engine failures.
type ErrorCode string

const (
	CodeUnauthorized          ErrorCode = "unauthorized"
	CodeInvalidParameters     ErrorCode = "invalid_parameters"
	CodePaused                ErrorCode = "paused"
	CodeAlreadyRevoked        ErrorCode = "already_revoked"
	CodeAlreadyRecovered      ErrorCode = "already_recovered"
	CodeAlreadyInitialized    ErrorCode = "already_initialized"
	CodeNothingToClaim        ErrorCode = "nothing_to_claim"
	CodeArithmeticOverflow    ErrorCode = "arithmetic_overflow"
	CodeTransferFailed        ErrorCode = "transfer_failed"
	CodeCannotRemoveLastAdmin ErrorCode = "cannot_remove_last_admin"
	CodeNotFound              ErrorCode = "not_found"
	// CodeTransferUnconfirmed marks a schedule parked on a transfer whose
	// outcome is unknown. Retrying is unsafe until it is resolved.
	CodeTransferUnconfirmed ErrorCode = "transfer_unconfirmed"
	// CodeTransferUnrecorded means the transfer settled but the ledger write
	// that should follow it failed. Retrying would pay twice.
	CodeTransferUnrecorded ErrorCode = "transfer_unrecorded"
)

// Error is returned by every engine operation. Two errors match under
// errors.Is when their codes are equal, so callers compare against the
// package sentinels.
type Error struct {
	Code       ErrorCode
	Message    string
	ScheduleID string
	Err        error
}

func (errorValue *Error) Error() string {
	message := errorValue.Message
	if message == "" {
		message = string(errorValue.Code)
	}
	if errorValue.ScheduleID != "" {
		message = fmt.Sprintf("%s (schedule %s)", message, errorValue.ScheduleID)
	}
	if errorValue.Err != nil {
		message = fmt.Sprintf("%s: %v", message, errorValue.Err)
	}
	return message
}

func (errorValue *Error) Unwrap() error {
	return errorValue.Err
}

func (errorValue *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == errorValue.Code
}

var (
	ErrUnauthorized          = &Error{Code: CodeUnauthorized, Message: "caller is not authorized"}
	ErrInvalidParameters     = &Error{Code: CodeInvalidParameters, Message: "invalid parameters"}
	ErrPaused                = &Error{Code: CodePaused, Message: "vesting is paused"}
	ErrAlreadyRevoked        = &Error{Code: CodeAlreadyRevoked, Message: "schedule already revoked"}
	ErrAlreadyRecovered      = &Error{Code: CodeAlreadyRecovered, Message: "unvested amount already recovered"}
	ErrAlreadyInitialized    = &Error{Code: CodeAlreadyInitialized, Message: "admin registry already initialized"}
	ErrNothingToClaim        = &Error{Code: CodeNothingToClaim, Message: "nothing to claim"}
	ErrArithmeticOverflow    = &Error{Code: CodeArithmeticOverflow, Message: "arithmetic overflow"}
	ErrTransferFailed        = &Error{Code: CodeTransferFailed, Message: "transfer failed"}
	ErrCannotRemoveLastAdmin = &Error{Code: CodeCannotRemoveLastAdmin, Message: "cannot remove the last admin"}
	ErrNotFound              = &Error{Code: CodeNotFound, Message: "schedule not found"}
	ErrTransferUnconfirmed   = &Error{Code: CodeTransferUnconfirmed, Message: "transfer outcome unknown"}
	ErrTransferUnrecorded    = &Error{Code: CodeTransferUnrecorded, Message: "transfer settled but not recorded"}
)

func newError(code ErrorCode, scheduleID string, format string, args ...any) error {
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		ScheduleID: scheduleID,
	}
}

func newTransferError(scheduleID string, cause error) error {
	return &Error{
		Code:       CodeTransferFailed,
		Message:    "transfer failed",
		ScheduleID: scheduleID,
		Err:        cause,
	}
}

func newPendingError(schedule Schedule) error {
	return &Error{
		Code:       CodeTransferUnconfirmed,
		Message:    fmt.Sprintf("%s transfer %s awaits resolution", schedule.Pending.Kind, schedule.Pending.TransactionID),
		ScheduleID: schedule.ID,
	}
}

// NewNotFoundError is used by store implementations for unknown schedule IDs.
func NewNotFoundError(scheduleID string) error {
	return &Error{
		Code:       CodeNotFound,
		Message:    "schedule not found",
		ScheduleID: scheduleID,
	}
}

// IsNothingToClaim reports whether err is the informational empty-claim
// outcome rather than a failure.
func IsNothingToClaim(err error) bool {
	return errors.Is(err, ErrNothingToClaim)
}

// CodeOf returns the error code carried by err, or "" for foreign errors.
func CodeOf(err error) ErrorCode {
	var vestingError *Error
	if errors.As(err, &vestingError) {
		return vestingError.Code
	}
	return ""
}
