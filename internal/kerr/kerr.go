// Package kerr defines the structured error taxonomy shared by every
// component of the core, per the error handling design.
package kerr

import "fmt"

// Kind names one of the error taxonomy entries. Components compose errors
// of these kinds; callers branch on Kind, never on error string contents.
type Kind string

const (
	KindCanonicalization Kind = "CanonicalizationError"
	KindGraphInvariant   Kind = "GraphInvariantViolation"
	KindStoragePlan      Kind = "StoragePlanError"
	KindStorageIO        Kind = "StorageIoError"
	KindVersionConflict  Kind = "VersionConflict"
	KindInvalidTx        Kind = "InvalidTransaction"
	KindConflict         Kind = "ConflictError"
	KindExecution        Kind = "ExecutionError"
	KindQuery            Kind = "QueryError"
	KindAuthzDenied      Kind = "AuthorizationDenied"
	KindTimeout          Kind = "Timeout"
)

// Error is the structured value every component surfaces to its caller.
// Cause is a short, human-safe description; Context carries identifiers
// (keys, ids, attempt counts) useful for diagnosis. Wrapped, if set, is
// kept for logging only — it is never copied into Cause, so a backend
// driver's raw stack trace never leaks to a caller-facing message.
type Error struct {
	Kind    Kind
	Cause   string
	Context map[string]any
	Wrapped error
}

func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s %v", e.Kind, e.Cause, e.Context)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// WithContext returns a copy of e with the given key/value merged into
// Context. Safe to chain.
func (e *Error) WithContext(key string, value any) *Error {
	ctx := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	return &Error{Kind: e.Kind, Cause: e.Cause, Context: ctx, Wrapped: e.Wrapped}
}

func new_(kind Kind, cause string, wrapped error) *Error {
	return &Error{Kind: kind, Cause: cause, Wrapped: wrapped}
}

func Canonicalization(cause string) *Error { return new_(KindCanonicalization, cause, nil) }
func GraphInvariant(cause string) *Error   { return new_(KindGraphInvariant, cause, nil) }
func StoragePlan(cause string) *Error      { return new_(KindStoragePlan, cause, nil) }
func StorageIO(cause string, wrapped error) *Error {
	return new_(KindStorageIO, cause, wrapped)
}
func VersionConflict(cause string) *Error  { return new_(KindVersionConflict, cause, nil) }
func InvalidTransaction(cause string) *Error { return new_(KindInvalidTx, cause, nil) }
func Conflict(conflictingTx string) *Error {
	return new_(KindConflict, "write set invalidated by a later commit", nil).
		WithContext("conflicting_tx", conflictingTx)
}
func Execution(cause string) *Error     { return new_(KindExecution, cause, nil) }
func Query(cause string) *Error         { return new_(KindQuery, cause, nil) }
func AuthorizationDenied(cause string) *Error { return new_(KindAuthzDenied, cause, nil) }
func Timeout(cause string) *Error       { return new_(KindTimeout, cause, nil) }

// MatchKind reports whether err is a *Error of the given Kind, unwrapping
// as needed.
func MatchKind(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == k {
				return true
			}
			err = e.Wrapped
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
