// Package dberr defines the DBZero error taxonomy.
//
// A failure of one of the classified kinds below is returned as a Kind
// wrapped in an *Error so callers can classify it with errors.Is /
// errors.As without string matching. Other failures (decode and I/O
// errors outside these kinds) are plain wrapped errors.
package dberr

import (
	"errors"
	"fmt"
)

// Kind classifies a DBZero failure. Kinds are compared with errors.Is.
type Kind error

// Sentinel kinds, one per failure class the store distinguishes.
var (
	KindInvalidAddress     Kind = errors.New("invalid address")
	KindSlabCorruption     Kind = errors.New("slab corruption")
	KindAllocationExceeded Kind = errors.New("allocation exceeded slab size")
	KindCrossPrefixRef     Kind = errors.New("cross-prefix reference without weak proxy")
	KindExpiredReference   Kind = errors.New("expired weak reference")
	KindClassNotFound      Kind = errors.New("class not found")
	KindStateNotAvailable  Kind = errors.New("state not available")
	KindInvalidState       Kind = errors.New("invalid state for mutation")
	KindUnhashable         Kind = errors.New("unhashable key")
	KindMaxScanExceeded    Kind = errors.New("max scan exceeded")
)

// Error wraps a Kind with the operation that failed and an optional cause.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err != e.Kind {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, dberr.KindXxx) match through the wrapper even when
// Err is nil or a different error than Kind.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// New builds an *Error for op/kind, optionally wrapping a lower-level cause.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// Fatal reports whether kind is one of the fatal kinds (InvalidAddress,
// SlabCorruption). Nothing in this module acts on it: no prefix is marked
// poisoned, and the failing call returns its error like any other.
func Fatal(kind Kind) bool {
	return kind == KindInvalidAddress || kind == KindSlabCorruption
}
