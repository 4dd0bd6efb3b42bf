// Package apperrors defines the error taxonomy shared by the versioning,
// provenance, sync and rollback subsystems.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates a missing subject, version, branch or document.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a concurrent version write, a sync run already in
	// progress, or a concurrent rollback on the same subject.
	ErrConflict = errors.New("conflict")
	// ErrDuplicate indicates an immutable name collision (e.g. a tag that
	// already exists). Unlike ErrConflict it is never retryable.
	ErrDuplicate = errors.New("duplicate")
	// ErrValidation indicates malformed input or missing required identifiers.
	ErrValidation = errors.New("validation failed")
	// ErrStoreUnavailable indicates the triple store or property-graph store
	// is unreachable. Callers may retry with backoff.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Kind classifies an error for the HTTP boundary.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindDuplicate        Kind = "duplicate"
	KindValidation       Kind = "validation"
	KindStoreUnavailable Kind = "store_unavailable"
	KindPartialFailure   Kind = "partial_failure"
	KindInternal         Kind = "internal"
)

// Error is a structured error carrying its classification and retryability.
// Write endpoints serialize it as {kind, message, retryable}.
type Error struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Cause     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// New creates a structured error of the given kind.
func New(kind Kind, message string, retryable bool, cause error) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryable, Cause: cause}
}

// Classify maps an arbitrary error onto the taxonomy. Sentinel matches win;
// anything unrecognized is internal and not retryable.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return New(KindNotFound, err.Error(), false, err)
	case errors.Is(err, ErrDuplicate):
		return New(KindDuplicate, err.Error(), false, err)
	case errors.Is(err, ErrConflict):
		// Lock-contention conflicts clear once the holder finishes, so the
		// caller may retry.
		return New(KindConflict, err.Error(), true, err)
	case errors.Is(err, ErrValidation):
		return New(KindValidation, err.Error(), false, err)
	case errors.Is(err, ErrStoreUnavailable):
		return New(KindStoreUnavailable, err.Error(), true, err)
	default:
		return New(KindInternal, err.Error(), false, err)
	}
}

// SkippedItem records a single best-effort failure inside a batch operation.
type SkippedItem struct {
	Ref    string `json:"ref"`
	Reason string `json:"reason"`
}

// PartialFailure accumulates per-item failures in a best-effort operation.
// It never aborts the batch; the caller returns it alongside the result.
type PartialFailure struct {
	Skipped []SkippedItem `json:"skipped"`
}

// Add records a skipped item.
func (p *PartialFailure) Add(ref string, cause error) {
	p.Skipped = append(p.Skipped, SkippedItem{Ref: ref, Reason: cause.Error()})
}

// Empty reports whether any item was skipped.
func (p *PartialFailure) Empty() bool {
	return len(p.Skipped) == 0
}

// IsRetryable implements the retry.RetryableError interface. Skipped items
// were rejected per-entity; re-running the whole batch cannot recover them.
func (p *PartialFailure) IsRetryable() bool {
	return false
}

// Error implements the error interface.
func (p *PartialFailure) Error() string {
	if p.Empty() {
		return "partial failure: no items skipped"
	}
	refs := make([]string, 0, len(p.Skipped))
	for _, s := range p.Skipped {
		refs = append(refs, s.Ref)
	}
	return fmt.Sprintf("partial failure: %d item(s) skipped: %s",
		len(p.Skipped), strings.Join(refs, ", "))
}
