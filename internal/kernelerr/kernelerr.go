// Package kernelerr centralizes the kernel's error taxonomy. Every
// handler that can fail converts its failure into a *KernelError*
// before it reaches a reply envelope; nothing downstream of a handler
// ever sees a bare error value.
package kernelerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the taxonomic classification of a kernel error. It is a
// closed set: new handler failures should map onto one of these, not
// invent a new kind.
type Kind string

const (
	// KindValidation covers missing/invalid fields, unknown commands,
	// and parameter shape mismatches. Never fatal.
	KindValidation Kind = "validation_error"
	// KindNotFound covers unknown instance/tool/template/model/context/
	// session names.
	KindNotFound Kind = "not_found"
	// KindConfiguration covers a missing collaborator, e.g. a memory
	// request with no agent bridge wired.
	KindConfiguration Kind = "configuration_error"
	// KindExecution covers a collaborator failing during invocation.
	KindExecution Kind = "execution_error"
	// KindTimeout covers a collaborator exceeding its per-request
	// deadline.
	KindTimeout Kind = "timeout"
	// KindTransport covers decode/encode/connect failures on the wire.
	KindTransport Kind = "transport_error"
	// KindHook covers a pre-hook cancelling an operation or rejecting a
	// modification.
	KindHook Kind = "hook_error"
	// KindInternal covers an inconsistency between the two halves of a
	// dual map (agents <-> machines, etc). Treated as a bug: never
	// self-repaired.
	KindInternal Kind = "internal_error"
)

// KernelError is the kernel's one error type. It carries enough
// context for a caller to diagnose the failure without needing to
// inspect the underlying cause: a human message, a taxonomic Kind,
// structured Context (ids, elapsed times, etc), and an optional Cause
// for log-time inspection.
type KernelError struct {
	Kind       Kind
	Message    string
	Context    map[string]any
	Cause      error
	Elapsed    time.Duration
	hasElapsed bool
}

func (e *KernelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *KernelError) Unwrap() error { return e.Cause }

// WithContext returns a copy of e with key set in its Context map.
func (e *KernelError) WithContext(key string, value any) *KernelError {
	clone := *e
	clone.Context = make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		clone.Context[k] = v
	}
	clone.Context[key] = value
	return &clone
}

// WithElapsed returns a copy of e carrying an elapsed duration, which
// the kernel's error reply envelope surfaces as elapsed_ms.
func (e *KernelError) WithElapsed(d time.Duration) *KernelError {
	clone := *e
	clone.Elapsed = d
	clone.hasElapsed = true
	return &clone
}

// HasElapsed reports whether WithElapsed was ever called on this error.
func (e *KernelError) HasElapsed() bool { return e.hasElapsed }

func newErr(kind Kind, format string, args ...any) *KernelError {
	return &KernelError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a KindValidation error.
func Validation(format string, args ...any) *KernelError { return newErr(KindValidation, format, args...) }

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) *KernelError { return newErr(KindNotFound, format, args...) }

// Configuration builds a KindConfiguration error.
func Configuration(format string, args ...any) *KernelError {
	return newErr(KindConfiguration, format, args...)
}

// Execution builds a KindExecution error wrapping cause.
func Execution(cause error, format string, args ...any) *KernelError {
	e := newErr(KindExecution, format, args...)
	e.Cause = cause
	return e
}

// Timeout builds a KindTimeout error.
func Timeout(format string, args ...any) *KernelError { return newErr(KindTimeout, format, args...) }

// Transport builds a KindTransport error wrapping cause.
func Transport(cause error, format string, args ...any) *KernelError {
	e := newErr(KindTransport, format, args...)
	e.Cause = cause
	return e
}

// Hook builds a KindHook error.
func Hook(format string, args ...any) *KernelError { return newErr(KindHook, format, args...) }

// Internal builds a KindInternal error. Callers should log loudly
// alongside returning it; it signals a broken invariant, not a normal
// failure mode.
func Internal(format string, args ...any) *KernelError { return newErr(KindInternal, format, args...) }

// As reports whether err is, or wraps, a *KernelError, and returns it.
func As(err error) (*KernelError, bool) {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is a *KernelError, or
// KindInternal otherwise — an unclassified error reaching a reply
// envelope is itself a bug, so it is treated as internal rather than
// silently dropped.
func KindOf(err error) Kind {
	if ke, ok := As(err); ok {
		return ke.Kind
	}
	return KindInternal
}
