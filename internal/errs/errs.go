// Package errs defines the central error taxonomy shared by every StormStack
// subsystem. Errors carry a Kind (the taxonomy), a machine-readable Code, a
// human Message, and optional structured Details, so the HTTP and WebSocket
// layers can map them to a stable wire shape without re-deriving policy.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories from spec.md §7.
type Kind string

const (
	// Identity/lookup.
	KindEntityNotFound     Kind = "entity_not_found"
	KindContainerNotFound  Kind = "container_not_found"
	KindMatchNotFound      Kind = "match_not_found"
	KindConnectionNotFound Kind = "connection_not_found"
	KindSessionNotFound    Kind = "session_not_found"
	KindUserNotFound       Kind = "user_not_found"
	KindResourceNotFound   Kind = "resource_not_found"
	KindCommandNotFound    Kind = "command_not_found"

	// State.
	KindInvalidState   Kind = "invalid_state"
	KindInvalidPayload Kind = "invalid_payload"

	// Capacity.
	KindResourceExhausted Kind = "resource_exhausted"
	KindConnectionClosed  Kind = "connection_closed"

	// Auth.
	KindInvalidToken      Kind = "invalid_token"
	KindExpiredToken      Kind = "expired_token"
	KindInvalidCredential Kind = "invalid_credentials"
	KindAccessDenied      Kind = "access_denied"
	KindHashingFailed     Kind = "hashing_failed"

	// Module (native loaded-module metadata, §3 Container.LoadedModule).
	KindModuleLoadFailed    Kind = "module_load_failed"
	KindModuleUnloadFailed  Kind = "module_unload_failed"
	KindModuleNotFound      Kind = "module_not_found"
	KindModuleAlreadyLoaded Kind = "module_already_loaded"
	KindModuleSymbolMissing Kind = "module_symbol_missing"
	KindModuleVersionConflict Kind = "module_version_conflict"
	KindModuleDependencyUnsatisfied Kind = "module_dependency_unsatisfied"
	KindModuleCircularDependency    Kind = "module_circular_dependency"
	KindModuleABIMismatch           Kind = "module_abi_mismatch"
	KindModuleInUse                 Kind = "module_in_use"

	// Sandbox (WASM).
	KindCompilationError     Kind = "compilation_error"
	KindInstantiationError   Kind = "instantiation_error"
	KindFuelExhausted        Kind = "fuel_exhausted"
	KindEpochDeadlineExceeded Kind = "epoch_deadline_exceeded"
	KindMemoryLimitExceeded  Kind = "memory_limit_exceeded"
	KindFunctionNotFound     Kind = "function_not_found"
	KindTypeMismatch         Kind = "type_mismatch"
	KindTrap                 Kind = "trap"
	KindInvalidInput         Kind = "invalid_input"
	KindStackOverflow        Kind = "stack_overflow"

	// Catch-all.
	KindSerialization Kind = "serialization_error"
	KindConfiguration Kind = "configuration_error"
	KindInternal      Kind = "internal_error"
)

// Error is the single error type every StormStack subsystem returns.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target shares this error's Kind, so callers can write
// errors.Is(err, errs.New(errs.KindMatchNotFound, "")) style sentinel checks
// against the Kind alone.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// New constructs an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a Kind and message to an underlying error, preserving it for
// errors.Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message, cause: cause}
}

// WithDetails attaches field-level details (used for REST validation
// responses per spec.md §7) and returns the same error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e == nil {
		return e
	}
	e.Details = details
	return e
}

// KindOf extracts the Kind from an error, returning KindInternal for any
// error that isn't one of ours.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err represents any "not found" kind, which the
// HTTP layer maps to 404 and which spec.md §4.5/§7 requires cross-tenant
// access to be indistinguishable from.
func IsNotFound(err error) bool {
	switch KindOf(err) {
	case KindEntityNotFound, KindContainerNotFound, KindMatchNotFound,
		KindConnectionNotFound, KindSessionNotFound, KindUserNotFound,
		KindResourceNotFound, KindCommandNotFound, KindModuleNotFound,
		KindFunctionNotFound:
		return true
	default:
		return false
	}
}

// IsResourceExhaustion reports whether err is one of the WASM
// resource-exhaustion kinds spec.md §4.11/§7 calls out as a named subset
// distinguishing "misbehaved module" from "genuine bug".
func IsResourceExhaustion(err error) bool {
	switch KindOf(err) {
	case KindFuelExhausted, KindEpochDeadlineExceeded, KindMemoryLimitExceeded, KindStackOverflow:
		return true
	default:
		return false
	}
}

// FuelExhausted builds the fuel-exhaustion error carrying the consumed count.
func FuelExhausted(consumed uint64) *Error {
	return New(KindFuelExhausted, fmt.Sprintf("fuel exhausted after %d fuel units", consumed)).
		WithDetails(map[string]any{"consumed": consumed})
}

// MemoryLimitExceeded builds the memory-limit error carrying requested/limit bytes.
func MemoryLimitExceeded(requested, limit uint64) *Error {
	return New(KindMemoryLimitExceeded, fmt.Sprintf("memory limit exceeded: requested %d bytes, limit %d bytes", requested, limit)).
		WithDetails(map[string]any{"requested": requested, "limit": limit})
}
