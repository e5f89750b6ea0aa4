package fault

import (
	"errors"
	"fmt"
)

const (
	CategorySessionLocked      = "session_locked"
	CategoryDeprecated         = "deprecated"
	CategoryValidation         = "validation"
	CategoryBlockConversion    = "block_conversion"
	CategoryBackendUnavailable = "backend_unavailable"
	CategoryClientDeactivated  = "client_deactivated"
	CategoryDuplicate          = "duplicate"
	CategoryInternal           = "internal"
)

// Sentinels match any *Error of the same category through errors.Is.
var (
	ErrSessionLocked      = &Error{Category: CategorySessionLocked}
	ErrDeprecated         = &Error{Category: CategoryDeprecated}
	ErrValidation         = &Error{Category: CategoryValidation}
	ErrBlockConversion    = &Error{Category: CategoryBlockConversion}
	ErrBackendUnavailable = &Error{Category: CategoryBackendUnavailable}
	ErrClientDeactivated  = &Error{Category: CategoryClientDeactivated}
	ErrDuplicate          = &Error{Category: CategoryDuplicate}
)

// Error represents a stable, categorized relay failure.
type Error struct {
	Category string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Detail == "" && e.Err == nil:
		return e.Category
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Category, e.Detail)
	case e.Detail == "":
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Detail, e.Err)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports category equality so callers can compare against the sentinels.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Category == other.Category
}

// New creates a categorized error.
func New(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// Newf creates a categorized error with a formatted detail.
func Newf(category string, format string, args ...any) error {
	return &Error{Category: category, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a category to an underlying error.
func Wrap(category string, detail string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Detail: detail, Err: err}
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	return CategoryInternal
}

// IsProtocol reports whether err is a session-protocol rejection. Those are
// acknowledged to the platform without rendering anything.
func IsProtocol(err error) bool {
	switch CategoryFromError(err) {
	case CategorySessionLocked, CategoryDeprecated, CategoryClientDeactivated, CategoryDuplicate:
		return true
	default:
		return false
	}
}
