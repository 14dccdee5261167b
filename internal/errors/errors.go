package apperrors

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	TypeStoreNotFound        ErrorType = "StoreNotFound"        // Live store file missing
	TypeBackupCorrupt        ErrorType = "BackupCorrupt"        // A freshly produced snapshot failed verification
	TypeInvalidBackup        ErrorType = "InvalidBackup"        // Restore candidate missing, corrupt or oversize
	TypeInvalidScope         ErrorType = "InvalidScope"         // Empty or malformed academic year
	TypeConfirmationMismatch ErrorType = "ConfirmationMismatch" // Wrong confirmation token
	TypeOperationFailed      ErrorType = "OperationFailed"      // Destructive operation rolled back
	TypeConfig               ErrorType = "Config"               // Invalid flags, missing required params
	TypeInternal             ErrorType = "Internal"             // Unexpected internal failure
)

// AppError carries a category and an operator hint next to the underlying cause.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Hint    string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError of the same type, so errors.Is(err, ErrInvalidScope)
// holds for every wrapped scope failure.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Type == e.Type
}

// New creates a new AppError
func New(t ErrorType, msg string, hint string) *AppError {
	return &AppError{
		Type:    t,
		Message: msg,
		Hint:    hint,
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, t ErrorType, msg string, hint string) *AppError {
	return &AppError{
		Type:    t,
		Message: msg,
		Err:     err,
		Hint:    hint,
	}
}

// IsType reports whether any error in err's chain is an AppError of type t.
func IsType(err error, t ErrorType) bool {
	var ae *AppError
	for err != nil {
		if errors.As(err, &ae) {
			if ae.Type == t {
				return true
			}
			err = ae.Err
			continue
		}
		return false
	}
	return false
}

// HintOf returns the hint of the first AppError in err's chain.
func HintOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Hint
	}
	return ""
}

var (
	ErrStoreNotFound        = New(TypeStoreNotFound, "live store not found", "Run `eraport migrate` to create the database, or check store_path.")
	ErrBackupCorrupt        = New(TypeBackupCorrupt, "backup failed verification", "The produced snapshot was deleted. Check disk space and the live store health.")
	ErrInvalidBackup        = New(TypeInvalidBackup, "invalid backup", "The file is not a valid database snapshot. The live store was not modified.")
	ErrInvalidScope         = New(TypeInvalidScope, "invalid scope", "Academic year must look like 2024/2025.")
	ErrConfirmationMismatch = New(TypeConfirmationMismatch, "confirmation mismatch", "Type the exact confirmation word to proceed.")
	ErrOperationFailed      = New(TypeOperationFailed, "operation failed", "No rows were changed. Inspect the audit log for details.")
)
