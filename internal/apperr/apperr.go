// Package apperr defines the domain error kinds returned by the task,
// ledger and shop engines. Callers switch on Kind rather than on the
// concrete constructor that produced the error.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindAccessDenied      Kind = "access_denied"
	KindInvalidStatus     Kind = "invalid_status"
	KindAlreadySubmitted  Kind = "already_submitted"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindFamilyMismatch    Kind = "family_mismatch"
	KindItemInactive      Kind = "item_inactive"
)

// Error is a domain failure. Code is stable and machine readable;
// Details carries the ids and amounts a caller needs to render a message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is an *Error with the same Kind and Code.
// Ids and amounts in Details are ignored.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// KindOf returns the Kind of a domain error anywhere in err's chain, or ""
// for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As extracts the domain error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func notFound(code, what string, id int64) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    code,
		Message: fmt.Sprintf("%s %d not found", what, id),
		Details: map[string]any{"id": id},
	}
}

func TaskNotFound(id int64) *Error      { return notFound("task_not_found", "task", id) }
func DependentNotFound(id int64) *Error { return notFound("dependent_not_found", "dependent", id) }
func GuardianNotFound(id int64) *Error  { return notFound("guardian_not_found", "guardian", id) }
func ItemNotFound(id int64) *Error      { return notFound("item_not_found", "shop item", id) }
func FamilyNotFound(id int64) *Error    { return notFound("family_not_found", "family", id) }

func AccessDenied(message string) *Error {
	return &Error{Kind: KindAccessDenied, Code: "access_denied", Message: message}
}

func AlreadySubmitted(taskID int64) *Error {
	return &Error{
		Kind:    KindAlreadySubmitted,
		Code:    "task_already_submitted",
		Message: fmt.Sprintf("task %d was already submitted", taskID),
		Details: map[string]any{"task_id": taskID},
	}
}

func InvalidStatus(taskID int64, status, op string) *Error {
	return &Error{
		Kind:    KindInvalidStatus,
		Code:    "invalid_status",
		Message: fmt.Sprintf("cannot %s task %d in status %s", op, taskID, status),
		Details: map[string]any{"task_id": taskID, "status": status, "operation": op},
	}
}

func InsufficientFunds(required, available int) *Error {
	return &Error{
		Kind:    KindInsufficientFunds,
		Code:    "insufficient_funds",
		Message: fmt.Sprintf("insufficient coins: required %d, available %d", required, available),
		Details: map[string]any{"required": required, "available": available},
	}
}

func FamilyMismatch(guardianID, dependentID int64) *Error {
	return &Error{
		Kind:    KindFamilyMismatch,
		Code:    "family_mismatch",
		Message: fmt.Sprintf("dependent %d is not in guardian %d's family", dependentID, guardianID),
		Details: map[string]any{"guardian_id": guardianID, "dependent_id": dependentID},
	}
}

func ItemInactive(itemID int64) *Error {
	return &Error{
		Kind:    KindItemInactive,
		Code:    "item_not_available",
		Message: fmt.Sprintf("shop item %d is no longer available", itemID),
		Details: map[string]any{"item_id": itemID},
	}
}
