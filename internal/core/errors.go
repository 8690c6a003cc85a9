package core

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies why a unit failed.
type FailureKind string

const (
	KindNone              FailureKind = ""
	KindUnknownEntityType FailureKind = "UnknownEntityType"
	KindSchemaMismatch    FailureKind = "SchemaMismatch"
	KindDuplicateIdentity FailureKind = "DuplicateIdentity"
	KindSourceUnavailable FailureKind = "SourceUnavailable"
	KindSinkUnavailable   FailureKind = "SinkUnavailable"
	KindCancelled         FailureKind = "Cancelled"
	KindInternal          FailureKind = "Internal"
)

// Sentinel errors, one per failure kind. Match with errors.Is.
var (
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrSchemaMismatch    = errors.New("schema mismatch")
	ErrDuplicateIdentity = errors.New("duplicate identity")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSinkUnavailable   = errors.New("sink unavailable")
	ErrCancelled         = errors.New("run cancelled")
	ErrInternal          = errors.New("internal error")
)

// ErrNoPreviousSnapshot is returned by a Source when no snapshot exists
// strictly before the requested date. It is not a failure.
var ErrNoPreviousSnapshot = errors.New("no previous snapshot")

// ErrNoSnapshot is returned by a Source when no snapshot exists for the
// requested date itself.
var ErrNoSnapshot = errors.New("no snapshot for date")

// DiffError is the typed error produced by the diff engine and coordinator.
type DiffError struct {
	Kind       FailureKind
	EntityType string
	Identity   Identity
	Field      string
	Msg        string
	Err        error // Underlying cause, if any
}

func (e *DiffError) Error() string {
	msg := string(e.Kind) + ": " + e.Msg
	if e.EntityType != "" {
		msg += fmt.Sprintf(" [entity_type=%s", e.EntityType)
		if len(e.Identity) > 0 {
			msg += fmt.Sprintf(" identity=%s", e.Identity)
		}
		if e.Field != "" {
			msg += fmt.Sprintf(" field=%s", e.Field)
		}
		msg += "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *DiffError) Unwrap() []error {
	errs := []error{kindSentinel(e.Kind)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func kindSentinel(k FailureKind) error {
	switch k {
	case KindUnknownEntityType:
		return ErrUnknownEntityType
	case KindSchemaMismatch:
		return ErrSchemaMismatch
	case KindDuplicateIdentity:
		return ErrDuplicateIdentity
	case KindSourceUnavailable:
		return ErrSourceUnavailable
	case KindSinkUnavailable:
		return ErrSinkUnavailable
	case KindCancelled:
		return ErrCancelled
	default:
		return ErrInternal
	}
}

// KindOf extracts the failure kind of err. Context errors map to Cancelled.
func KindOf(err error) FailureKind {
	if err == nil {
		return KindNone
	}
	var de *DiffError
	if errors.As(err, &de) {
		return de.Kind
	}
	switch {
	case errors.Is(err, ErrUnknownEntityType):
		return KindUnknownEntityType
	case errors.Is(err, ErrSchemaMismatch):
		return KindSchemaMismatch
	case errors.Is(err, ErrDuplicateIdentity):
		return KindDuplicateIdentity
	case errors.Is(err, ErrSourceUnavailable):
		return KindSourceUnavailable
	case errors.Is(err, ErrSinkUnavailable):
		return KindSinkUnavailable
	case errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	}
	return KindInternal
}

func schemaMismatch(entityType, field, format string, args ...any) *DiffError {
	return &DiffError{
		Kind:       KindSchemaMismatch,
		EntityType: entityType,
		Field:      field,
		Msg:        fmt.Sprintf(format, args...),
	}
}
