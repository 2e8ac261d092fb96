// Package roleerr defines the error kinds surfaced by a reconciliation run.
//
// Errors are wrapped with github.com/pkg/errors so that callers can add
// context while the kind stays discoverable with the Is helpers.
package roleerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error by the phase of the run it came from.
type Kind string

const (
	// KindConfig means the desired state could not be resolved. Nothing
	// has been mutated and the run is safe to retry from scratch.
	KindConfig Kind = "ConfigError"

	// KindObservation means current state could not be read.
	KindObservation Kind = "ObservationError"

	// KindApply means a change was attempted and rejected.
	KindApply Kind = "ApplyError"

	// KindReplicaSetInitTimeout means the initial primary was not elected
	// within the bounded poll.
	KindReplicaSetInitTimeout Kind = "ReplicaSetInitTimeout"

	// KindReplicaSetInconsistent means members disagree on set identity.
	KindReplicaSetInconsistent Kind = "ReplicaSetInconsistent"
)

// Error is a classified error. Op names the operation or resource that
// failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Err)
}

// Cause implements the github.com/pkg/errors causer interface.
func (e *Error) Cause() error { return e.Err }

// Unwrap allows the standard library errors helpers to see the cause.
func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Config returns a ConfigError for op.
func Config(op string, format string, args ...interface{}) error {
	return newError(KindConfig, op, errors.Errorf(format, args...))
}

// Observation wraps err as an ObservationError for op.
func Observation(op string, err error) error {
	return newError(KindObservation, op, err)
}

// Apply wraps err as an ApplyError for op.
func Apply(op string, err error) error {
	return newError(KindApply, op, err)
}

// InitTimeout wraps err as a ReplicaSetInitTimeout for the named set.
func InitTimeout(set string, err error) error {
	return newError(KindReplicaSetInitTimeout, set, err)
}

// Inconsistent wraps err as a ReplicaSetInconsistent for the named set.
func Inconsistent(set string, err error) error {
	return newError(KindReplicaSetInconsistent, set, err)
}

// KindOf walks the cause chain of err and returns the first classified
// kind, or "" if none is found.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		c, ok := err.(interface{ Cause() error })
		if !ok {
			return ""
		}
		next := c.Cause()
		if next == err {
			return ""
		}
		err = next
	}
	return ""
}

func IsConfig(err error) bool                 { return KindOf(err) == KindConfig }
func IsObservation(err error) bool            { return KindOf(err) == KindObservation }
func IsApply(err error) bool                  { return KindOf(err) == KindApply }
func IsReplicaSetInitTimeout(err error) bool  { return KindOf(err) == KindReplicaSetInitTimeout }
func IsReplicaSetInconsistent(err error) bool { return KindOf(err) == KindReplicaSetInconsistent }
