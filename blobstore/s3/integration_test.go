package s3

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pagecache/blobstore/blobstoretest"
)

// TestStore_Integration runs the conformance suite against a real bucket.
// Set S3_TEST_BUCKET (and the usual AWS credential variables) to enable it.
func TestStore_Integration(t *testing.T) {
	bucket := os.Getenv("S3_TEST_BUCKET")
	if bucket == "" {
		t.Skip("S3_TEST_BUCKET not set")
	}

	store, err := New(t.Context(), bucket,
		WithPrefix(fmt.Sprintf("pagecache-test-%d", time.Now().UnixNano())),
		WithRegion(os.Getenv("AWS_REGION")),
		WithConditionalPut(),
	)
	require.NoError(t, err)

	blobstoretest.Run(t, store, "")
}
