package blobstore

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrNotFound is returned when a blob does not exist.
	//
	// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
	// The default maps to `os.ErrNotExist`.
	ErrNotFound = os.ErrNotExist

	// ErrAlreadyExists is returned by CopyIfNotExists when the destination exists.
	ErrAlreadyExists = os.ErrExist

	// ErrNotSupported is returned when a store cannot perform an operation.
	ErrNotSupported = errors.New("operation not supported")

	// ErrInvalidRange is returned for ranges with start > end, negative
	// offsets, or a start beyond the end of the object.
	ErrInvalidRange = errors.New("invalid range")
)

// ErrorKind classifies a store or cache failure.
type ErrorKind uint8

const (
	// KindGeneric is any failure that is not a missing object.
	KindGeneric ErrorKind = iota
	// KindNotFound means the object (or page) is absent at the backing store.
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	default:
		return "generic"
	}
}

// Error is a classified failure wrapping its cause.
//
// The original underlying error can be accessed via errors.Unwrap.
type Error struct {
	Kind  ErrorKind
	Store string
	Path  string
	Err   error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s %q: %v", e.Store, e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Store, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports NotFound errors as ErrNotFound even when the cause chain does not.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Kind == KindNotFound
}

// Classify wraps err as a NotFound or Generic *Error depending on the kind of
// the wrapped error. nil stays nil.
func Classify(store, path string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindGeneric
	if errors.Is(err, ErrNotFound) {
		kind = KindNotFound
	}
	return &Error{Kind: kind, Store: store, Path: path, Err: err}
}

// IsNotFound reports whether err is a NotFound failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
