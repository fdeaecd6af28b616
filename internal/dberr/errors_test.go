package dberr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKindThroughWrapper(t *testing.T) {
	err := New("slab.Allocate", KindAllocationExceeded, errors.New("request too large"))
	assert.True(t, errors.Is(err, KindAllocationExceeded))
	assert.False(t, errors.Is(err, KindInvalidState))
}

func TestErrorUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("underlying failure")
	err := New("txn.Commit", KindInvalidState, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorStringIncludesOpKindAndCause(t *testing.T) {
	err := New("slab.Allocate", KindAllocationExceeded, errors.New("request too large"))
	assert.Contains(t, err.Error(), "slab.Allocate")
	assert.Contains(t, err.Error(), "request too large")
}

func TestErrorStringOmitsNilCause(t *testing.T) {
	err := New("slab.Allocate", KindAllocationExceeded, nil)
	assert.Equal(t, "slab.Allocate: allocation exceeded slab size", err.Error())
}

func TestFatalClassifiesCorruptionKinds(t *testing.T) {
	assert.True(t, Fatal(KindInvalidAddress))
	assert.True(t, Fatal(KindSlabCorruption))
	assert.False(t, Fatal(KindAllocationExceeded))
}
