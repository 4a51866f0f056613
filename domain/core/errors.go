package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Hierarchy errors
	ErrAmbiguousPath = errors.New("ambiguous hierarchy path")
	ErrMissingLevel  = errors.New("observation is missing a hierarchy level")
	ErrUnknownNode   = errors.New("unknown hierarchy node")
	ErrEmptyInput    = errors.New("no observations supplied")

	// Reconciliation errors
	ErrShapeMismatch       = errors.New("frame shape does not match hierarchy")
	ErrNoTrainedNodes      = errors.New("no node in the hierarchy produced a trained forecast")
	ErrUnsupported         = errors.New("unsupported reconciler")
	ErrNotFitted           = errors.New("reconciler has not been fitted")
	ErrInsufficientHistory = errors.New("insufficient non-null history")
	ErrNoCandidates        = errors.New("no reconciler candidates")

	// Repository errors
	ErrNotFound = errors.New("resource not found")
)

// NewAmbiguousPathError reports two raw labels that normalise to the same path
func NewAmbiguousPathError(path, first, second string) error {
	return fmt.Errorf("%w: %q and %q both normalise to %q", ErrAmbiguousPath, first, second, path)
}

// NewUnknownNodeError reports a node path absent from the hierarchy
func NewUnknownNodeError(path string) error {
	return fmt.Errorf("%w: %s", ErrUnknownNode, path)
}

// NewShapeError reports a frame dimension mismatch
func NewShapeError(what string, got, want int) error {
	return fmt.Errorf("%w: %s got %d, want %d", ErrShapeMismatch, what, got, want)
}

// IsNotFoundError reports whether err wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
