package pagecache

import (
	"errors"
	"fmt"

	"github.com/hupe1980/pagecache/blobstore"
)

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = blobstore.ErrNotFound

	// ErrInvalidRange is returned for negative or inverted ranges.
	ErrInvalidRange = blobstore.ErrInvalidRange
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification. Backends report missing objects in their own
	// ways; the classified cache error already satisfies ErrNotFound.
	var be *blobstore.Error
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, ErrNotFound) {
		return &blobstore.Error{Kind: blobstore.KindNotFound, Store: "ReadThroughStore", Err: err}
	}
	if errors.Is(err, ErrInvalidRange) {
		return err
	}
	return fmt.Errorf("read-through: %w", err)
}
