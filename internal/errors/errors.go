// Package errors is the service's error package.
//
// It re-exports github.com/cockroachdb/errors and defines the error taxonomy
// shared by the stores, the catalog, the cache and the queue:
//
//	ErrNotFound        exact lookup found nothing
//	ErrConflict        unique-constraint race, recovered locally by retry
//	ErrTransientStore  a write or commit failed; retried, then recorded per item
//	ErrProvider        a scrape source failed or timed out
//	ErrInvalidRequest  caller error, surfaced immediately
//
// Stores tag driver errors with Mark so callers can branch with Is without
// losing the original cause:
//
//	if errors.Is(err, errors.ErrConflict) { ... }
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// Details and hints
var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	FlattenHints  = crdb.FlattenHints
	GetAllDetails = crdb.GetAllDetails
)

// Inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Taxonomy sentinels.
var (
	ErrNotFound       = crdb.New("not found")
	ErrConflict       = crdb.New("conflict")
	ErrTransientStore = crdb.New("transient store error")
	ErrProvider       = crdb.New("provider error")
	ErrInvalidRequest = crdb.New("invalid request")
)

// InvalidRequestf builds a caller-facing validation error marked as
// ErrInvalidRequest.
func InvalidRequestf(format string, args ...interface{}) error {
	return crdb.Mark(crdb.Newf(format, args...), ErrInvalidRequest)
}

// IsConflict reports whether err is a unique-constraint conflict.
func IsConflict(err error) bool { return crdb.Is(err, ErrConflict) }

// IsNotFound reports whether err is a failed exact lookup.
func IsNotFound(err error) bool { return crdb.Is(err, ErrNotFound) }
