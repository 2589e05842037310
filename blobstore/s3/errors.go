package s3

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/hupe1980/pagecache/blobstore"
)

const storeName = "S3"

// classify maps S3 errors onto the blobstore taxonomy.
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
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	return hasErrorCode(err, "NotFound", "NoSuchKey")
}

func hasErrorCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}

// isPreconditionFailed reports a failed If-None-Match write. S3 Express
// returns ConditionalRequestConflict for concurrent conditional writes.
func isPreconditionFailed(err error) bool {
	return hasErrorCode(err, "PreconditionFailed", "ConditionalRequestConflict")
}
