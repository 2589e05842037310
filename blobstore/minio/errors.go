package minio

import (
	"fmt"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/pagecache/blobstore"
)

// classify maps MinIO error responses onto the blobstore taxonomy.
func classify(name string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		err = fmt.Errorf("%w: %w", blobstore.ErrNotFound, err)
	}
	return blobstore.Classify(storeName, name, err)
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	default:
		return false
	}
}
