package query

import (
	"fmt"

	"github.com/kotobadb/core/internal/kerr"
)

// ErrorKind tags the stage a QueryError originated in (§7 error table).
type ErrorKind string

const (
	ParseError     ErrorKind = "ParseError"
	PlanError      ErrorKind = "PlanError"
	IndexNotFound  ErrorKind = "IndexNotFound"
	TypeMismatch   ErrorKind = "TypeMismatch"
	TimeoutError   ErrorKind = "Timeout"
	ExecutionError ErrorKind = "ExecutionError"
)

// QueryError is the closed error variant for every stage of query
// compilation and execution; Inner carries the underlying cause, and
// AsKerr builds the surfaced kerr.Error.
type QueryError struct {
	Kind    ErrorKind
	Message string
	Inner   error
}

func (e QueryError) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Inner)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e QueryError) Unwrap() error { return e.Inner }

// AsKerr converts a QueryError into the project-wide kerr taxonomy
// (kerr.KindQuery), preserving the originating stage as context.
func (e QueryError) AsKerr() *kerr.Error {
	ke := kerr.Query(e.Message).WithContext("stage", string(e.Kind))
	if e.Inner != nil {
		ke = ke.WithContext("cause", e.Inner.Error())
	}
	return ke
}
