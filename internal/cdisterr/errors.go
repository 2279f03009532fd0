// Package cdisterr defines the typed error hierarchy cdist-ng raises for
// user-visible failures, mirroring cdist's exceptions module: every kind
// unwraps to the ErrCdist sentinel so callers can test for "is this any cdist failure"
// with errors.Is(err, cdisterr.ErrCdist) or narrow with errors.As to a
// specific kind.
package cdisterr

import (
	"errors"
	"fmt"
)

// ErrCdist is the sentinel all cdist-ng error kinds wrap, so errors.Is(err,
// ErrCdist) answers "is this a user-visible cdist failure" regardless of
// kind.
var ErrCdist = errors.New("cdist error")

// CdistError is the base of every user-visible failure kind.
type CdistError struct {
	Op  string
	Err error
}

func (e *CdistError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *CdistError) Unwrap() error { return ErrCdist }

// Wrap builds a *CdistError carrying op as context and msg as the detail.
func Wrap(op, msg string) *CdistError {
	return &CdistError{Op: op, Err: errors.New(msg)}
}

// ConflictingTags is raised when --only-tag/--include-tag conflicts with
// --exclude-tag, or an emulator's --if-tag/--not-if-tag sets overlap.
type ConflictingTags struct {
	A, B []string
}

func (e *ConflictingTags) Error() string {
	return fmt.Sprintf("conflicting tags: %v vs %v", e.A, e.B)
}
func (e *ConflictingTags) Unwrap() error { return ErrCdist }

// IllegalObjectID is raised when an object-id fails normalization/validation.
type IllegalObjectID struct {
	ObjectID string
	Reason   string
}

func (e *IllegalObjectID) Error() string {
	return fmt.Sprintf("illegal object id %q: %s", e.ObjectID, e.Reason)
}
func (e *IllegalObjectID) Unwrap() error { return ErrCdist }

// MissingRequiredEnvironmentVariable is raised by the emulator when a
// required __cdist_* environment variable is absent.
type MissingRequiredEnvironmentVariable struct {
	Name string
}

func (e *MissingRequiredEnvironmentVariable) Error() string {
	return fmt.Sprintf("the required environment variable %q is not defined", e.Name)
}
func (e *MissingRequiredEnvironmentVariable) Unwrap() error { return ErrCdist }

// RequirementNotFound is raised when a dependency pattern matches no object.
type RequirementNotFound struct {
	Pattern string
}

func (e *RequirementNotFound) Error() string {
	return fmt.Sprintf("requirement not found: %s", e.Pattern)
}
func (e *RequirementNotFound) Unwrap() error { return ErrCdist }

// CircularReference is raised when the scheduler detects quiescence with a
// non-empty unresolved set reachable only through pending objects.
type CircularReference struct {
	Participant string
}

func (e *CircularReference) Error() string {
	return fmt.Sprintf("circular reference involving %s", e.Participant)
}
func (e *CircularReference) Unwrap() error { return ErrCdist }

// CdistObjectError wraps a failure tied to a specific object, e.g. the same
// canonical name re-declared with conflicting parameters.
type CdistObjectError struct {
	Object  string
	Reason  string
	Sources []string
}

func (e *CdistObjectError) Error() string {
	if len(e.Sources) == 0 {
		return fmt.Sprintf("%s: %s", e.Object, e.Reason)
	}
	return fmt.Sprintf("%s: %s (defined in %v)", e.Object, e.Reason, e.Sources)
}
func (e *CdistObjectError) Unwrap() error { return ErrCdist }

// ExecFailed reports a nonzero exit from a spawned subprocess.
type ExecFailed struct {
	Command    []string
	ReturnCode int
	Stderr     string
}

func (e *ExecFailed) Error() string {
	return fmt.Sprintf("command %v exited with status %d: %s", e.Command, e.ReturnCode, e.Stderr)
}
func (e *ExecFailed) Unwrap() error { return ErrCdist }

// TimeoutExpired reports a subprocess killed after exceeding its deadline,
// carrying any output captured before the kill.
type TimeoutExpired struct {
	Command []string
	Partial []byte
}

func (e *TimeoutExpired) Error() string {
	return fmt.Sprintf("command %v timed out", e.Command)
}
func (e *TimeoutExpired) Unwrap() error { return ErrCdist }
