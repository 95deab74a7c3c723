// Package kbfault defines the fault taxonomy every public operation of the
// engine returns through (spec §7): each call either returns its declared
// result or exactly one Fault, never a partial success.
package kbfault

import (
	"errors"
	"fmt"
)

// Kind classifies a Fault. Kinds are not names: callers branch on Kind, not
// on message text.
type Kind uint8

// Fault kinds, per spec §7.
const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindStorage
	KindCorruptItem
)

// String renders the kind for logging.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage"
	case KindCorruptItem:
		return "corrupt_item"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Fault is the uniform error type returned by every repository, registry,
// and search operation. Context carries structured fields (type, id, field)
// useful to a caller that wants more than the message.
type Fault struct {
	Kind      Kind
	Code      string
	Message   string
	Context   map[string]string
	Cause     error
	Retryable bool
}

// Error implements error.
func (f *Fault) Error() string {
	if f == nil {
		return ""
	}

	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Cause)
	}

	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Unwrap exposes the cause for errors.Is/errors.As.
func (f *Fault) Unwrap() error {
	if f == nil {
		return nil
	}

	return f.Cause
}

// With attaches a structured context field and returns f for chaining.
func (f *Fault) With(key, value string) *Fault {
	if f.Context == nil {
		f.Context = map[string]string{}
	}

	f.Context[key] = value

	return f
}

func newFault(kind Kind, code, message string, cause error) *Fault {
	return &Fault{Kind: kind, Code: code, Message: message, Cause: cause}
}

// Validationf builds a ValidationFault: malformed input, invalid reference
// syntax, invalid priority/status/date, missing required field.
func Validationf(code, format string, args ...any) *Fault {
	return newFault(KindValidation, code, fmt.Sprintf(format, args...), nil)
}

// NotFoundf builds a NotFoundFault: unknown type, status, tag, or item id.
func NotFoundf(code, format string, args ...any) *Fault {
	return newFault(KindNotFound, code, fmt.Sprintf(format, args...), nil)
}

// Conflictf builds a ConflictFault: duplicate daily date, duplicate tag,
// cross-base-kind change-type, deletion of a non-empty type.
func Conflictf(code, format string, args ...any) *Fault {
	return newFault(KindConflict, code, fmt.Sprintf(format, args...), nil)
}

// Storage builds a StorageFault wrapping a filesystem or index I/O error.
// retryable marks transient failures eligible for the repository's capped
// backoff retry (spec §7).
func Storage(code string, cause error, retryable bool) *Fault {
	f := newFault(KindStorage, code, "storage operation failed", cause)
	f.Retryable = retryable

	return f
}

// CorruptItemf builds a CorruptItemFault: a file parses structurally but
// violates invariants.
func CorruptItemf(code, format string, args ...any) *Fault {
	return newFault(KindCorruptItem, code, fmt.Sprintf(format, args...), nil)
}

// Internal builds an InternalFault wrapping an unexpected cause. Always
// logged with context by callers.
func Internal(code string, cause error) *Fault {
	return newFault(KindInternal, code, "internal error", cause)
}

// Is reports whether err is a *Fault of the given kind.
func Is(err error, kind Kind) bool {
	var f *Fault

	if !errors.As(err, &f) {
		return false
	}

	return f.Kind == kind
}

// IsRetryable reports whether err is a *Fault marked retryable.
func IsRetryable(err error) bool {
	var f *Fault

	if !errors.As(err, &f) {
		return false
	}

	return f.Retryable
}
