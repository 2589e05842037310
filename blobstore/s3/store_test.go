package s3

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pagecache/blobstore"
)

func body(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

func TestStore_Head(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "test-bucket", "prefix")

	t.Run("NotFound", func(t *testing.T) {
		mockClient.On("HeadObject", mock.Anything, mock.MatchedBy(func(input *s3.HeadObjectInput) bool {
			return *input.Bucket == "test-bucket" && *input.Key == "prefix/foo"
		})).Return(nil, &types.NotFound{}).Once()

		_, err := store.Head(t.Context(), "foo")
		assert.True(t, blobstore.IsNotFound(err))

		var be *blobstore.Error
		require.ErrorAs(t, err, &be)
		assert.Equal(t, blobstore.KindNotFound, be.Kind)
		assert.Equal(t, "foo", be.Path)
	})

	t.Run("Success", func(t *testing.T) {
		modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		mockClient.On("HeadObject", mock.Anything, mock.MatchedBy(func(input *s3.HeadObjectInput) bool {
			return *input.Key == "prefix/bar"
		})).Return(&s3.HeadObjectOutput{
			ContentLength: aws.Int64(100),
			ETag:          aws.String(`"abc"`),
			VersionId:     aws.String("v1"),
			LastModified:  aws.Time(modified),
		}, nil).Once()

		meta, err := store.Head(t.Context(), "bar")
		require.NoError(t, err)
		assert.Equal(t, blobstore.ObjectMeta{
			Location:     "bar",
			LastModified: modified,
			Size:         100,
			ETag:         "abc",
			Version:      "v1",
		}, meta)
	})

	t.Run("GenericError", func(t *testing.T) {
		mockClient.On("HeadObject", mock.Anything, mock.MatchedBy(func(input *s3.HeadObjectInput) bool {
			return *input.Key == "prefix/boom"
		})).Return(nil, &smithy.GenericAPIError{Code: "AccessDenied"}).Once()

		_, err := store.Head(t.Context(), "boom")
		require.Error(t, err)
		assert.False(t, blobstore.IsNotFound(err))

		var be *blobstore.Error
		require.ErrorAs(t, err, &be)
		assert.Equal(t, blobstore.KindGeneric, be.Kind)
	})
}

func TestStore_GetRange(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "b", "")

	t.Run("RangeHeader", func(t *testing.T) {
		mockClient.On("GetObject", mock.Anything, mock.MatchedBy(func(input *s3.GetObjectInput) bool {
			return *input.Bucket == "b" && *input.Key == "k" && *input.Range == "bytes=2-6"
		})).Return(&s3.GetObjectOutput{Body: body("llo W")}, nil).Once()

		data, err := store.GetRange(t.Context(), "k", blobstore.Range{Start: 2, End: 7})
		require.NoError(t, err)
		assert.Equal(t, "llo W", string(data))
	})

	t.Run("StartAtEnd", func(t *testing.T) {
		mockClient.On("GetObject", mock.Anything, mock.MatchedBy(func(input *s3.GetObjectInput) bool {
			return *input.Key == "short" && *input.Range == "bytes=10-19"
		})).Return(nil, &smithy.GenericAPIError{Code: "InvalidRange"}).Once()
		mockClient.On("HeadObject", mock.Anything, mock.MatchedBy(func(input *s3.HeadObjectInput) bool {
			return *input.Key == "short"
		})).Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(10)}, nil).Once()

		data, err := store.GetRange(t.Context(), "short", blobstore.Range{Start: 10, End: 20})
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("StartBeyondEnd", func(t *testing.T) {
		mockClient.On("GetObject", mock.Anything, mock.MatchedBy(func(input *s3.GetObjectInput) bool {
			return *input.Key == "short2"
		})).Return(nil, &smithy.GenericAPIError{Code: "InvalidRange"}).Once()
		mockClient.On("HeadObject", mock.Anything, mock.MatchedBy(func(input *s3.HeadObjectInput) bool {
			return *input.Key == "short2"
		})).Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(10)}, nil).Once()

		_, err := store.GetRange(t.Context(), "short2", blobstore.Range{Start: 15, End: 20})
		assert.ErrorIs(t, err, blobstore.ErrInvalidRange)
	})

	t.Run("Inverted", func(t *testing.T) {
		_, err := store.GetRange(t.Context(), "k", blobstore.Range{Start: 5, End: 2})
		assert.ErrorIs(t, err, blobstore.ErrInvalidRange)
	})

	t.Run("Empty", func(t *testing.T) {
		mockClient.On("HeadObject", mock.Anything, mock.MatchedBy(func(input *s3.HeadObjectInput) bool {
			return *input.Key == "empty"
		})).Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(10)}, nil).Once()

		data, err := store.GetRange(t.Context(), "empty", blobstore.Range{Start: 3, End: 3})
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("NotFound", func(t *testing.T) {
		mockClient.On("GetObject", mock.Anything, mock.MatchedBy(func(input *s3.GetObjectInput) bool {
			return *input.Key == "missing"
		})).Return(nil, &types.NoSuchKey{}).Once()

		_, err := store.GetRange(t.Context(), "missing", blobstore.Range{Start: 0, End: 1})
		assert.True(t, blobstore.IsNotFound(err))
	})

	mockClient.AssertExpectations(t)
}

func TestStore_GetRanges_Coalesced(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "b", "", WithRangeCoalescing(4, 2))

	// [0,4) and [6,8) merge; [100,102) stays separate.
	mockClient.On("GetObject", mock.Anything, mock.MatchedBy(func(input *s3.GetObjectInput) bool {
		return *input.Range == "bytes=0-7"
	})).Return(&s3.GetObjectOutput{Body: body("01234567")}, nil).Once()
	mockClient.On("GetObject", mock.Anything, mock.MatchedBy(func(input *s3.GetObjectInput) bool {
		return *input.Range == "bytes=100-101"
	})).Return(&s3.GetObjectOutput{Body: body("xy")}, nil).Once()

	out, err := store.GetRanges(t.Context(), "k", []blobstore.Range{
		{Start: 100, End: 102},
		{Start: 6, End: 8},
		{Start: 0, End: 4},
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "xy", string(out[0]))
	assert.Equal(t, "67", string(out[1]))
	assert.Equal(t, "0123", string(out[2]))

	mockClient.AssertExpectations(t)
}

func TestStore_Get(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "b", "p")

	mockClient.On("HeadObject", mock.Anything, mock.Anything).
		Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(5)}, nil).Once()
	mockClient.On("GetObject", mock.Anything, mock.MatchedBy(func(input *s3.GetObjectInput) bool {
		return *input.Key == "p/obj" && input.Range == nil
	})).Return(&s3.GetObjectOutput{Body: body("hello")}, nil).Once()

	res, err := store.Get(t.Context(), "obj")
	require.NoError(t, err)
	assert.Equal(t, blobstore.Range{Start: 0, End: 5}, res.Range)

	data, err := res.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestStore_Put(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "test-bucket", "prefix/")

	mockClient.On("PutObject", mock.Anything, mock.MatchedBy(func(input *s3.PutObjectInput) bool {
		return *input.Key == "prefix/obj" && aws.ToString(input.ChecksumCRC32C) == "mnG7TA=="
	})).Return(&s3.PutObjectOutput{ETag: aws.String(`"etag-1"`), VersionId: aws.String("v2")}, nil).Once()

	res, err := store.Put(t.Context(), "obj", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, blobstore.PutResult{ETag: "etag-1", Version: "v2"}, res)
}

func TestStore_Put_WithoutChecksum(t *testing.T) {
	mockClient := new(MockS3Client)
	cfg := DefaultUploadConfig()
	cfg.EnableChecksum = false
	store := NewStore(mockClient, "b", "", WithUploadConfig(cfg))

	mockClient.On("PutObject", mock.Anything, mock.MatchedBy(func(input *s3.PutObjectInput) bool {
		return input.ChecksumCRC32C == nil
	})).Return(&s3.PutObjectOutput{}, nil).Once()

	_, err := store.Put(t.Context(), "obj", []byte("hello"))
	require.NoError(t, err)
	mockClient.AssertExpectations(t)
}

func TestStore_Create(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "test-bucket", "prefix")

	var uploaded []byte
	mockClient.On("PutObject", mock.Anything, mock.MatchedBy(func(input *s3.PutObjectInput) bool {
		return *input.Bucket == "test-bucket" && *input.Key == "prefix/new"
	})).Run(func(args mock.Arguments) {
		input := args.Get(1).(*s3.PutObjectInput)
		// Consume body to let pipe finish
		uploaded, _ = io.ReadAll(input.Body)
	}).Return(&s3.PutObjectOutput{}, nil).Once()

	wb, err := store.Create(t.Context(), "new")
	require.NoError(t, err)

	_, err = wb.Write([]byte("content"))
	require.NoError(t, err)
	require.NoError(t, wb.Sync())
	require.NoError(t, wb.Close())

	assert.Equal(t, "content", string(uploaded))
	mockClient.AssertExpectations(t)
}

func TestStore_Create_UploadFailure(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "b", "")

	mockClient.On("PutObject", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		_, _ = io.ReadAll(args.Get(1).(*s3.PutObjectInput).Body)
	}).Return(nil, errors.New("network down")).Once()

	wb, err := store.Create(t.Context(), "new")
	require.NoError(t, err)
	_, _ = wb.Write([]byte("content"))
	assert.ErrorContains(t, wb.Close(), "network down")
}

func TestStore_Delete(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "test-bucket", "prefix")

	mockClient.On("DeleteObject", mock.Anything, mock.MatchedBy(func(input *s3.DeleteObjectInput) bool {
		return *input.Bucket == "test-bucket" && *input.Key == "prefix/del"
	})).Return(&s3.DeleteObjectOutput{}, nil).Once()
	mockClient.On("DeleteObject", mock.Anything, mock.MatchedBy(func(input *s3.DeleteObjectInput) bool {
		return *input.Key == "prefix/gone"
	})).Return(nil, &types.NoSuchKey{}).Once()

	assert.NoError(t, store.Delete(t.Context(), "del"))
	assert.NoError(t, store.Delete(t.Context(), "gone"))
}

func TestStore_Copy(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "test-bucket", "prefix")

	mockClient.On("CopyObject", mock.Anything, mock.MatchedBy(func(input *s3.CopyObjectInput) bool {
		return *input.Key == "prefix/dst" && *input.CopySource == "test-bucket/prefix/a%20b"
	})).Return(&s3.CopyObjectOutput{}, nil).Once()

	require.NoError(t, store.Copy(t.Context(), "a b", "dst"))
	mockClient.AssertExpectations(t)
}

func TestStore_CopyIfNotExists(t *testing.T) {
	t.Run("NotSupported", func(t *testing.T) {
		store := NewStore(new(MockS3Client), "b", "")
		err := store.CopyIfNotExists(t.Context(), "src", "dst")
		assert.ErrorIs(t, err, blobstore.ErrNotSupported)
	})

	t.Run("ConditionalPut", func(t *testing.T) {
		mockClient := new(MockS3Client)
		store := NewStore(mockClient, "b", "", WithConditionalPut())

		mockClient.On("GetObject", mock.Anything, mock.Anything).
			Return(&s3.GetObjectOutput{Body: body("data")}, nil).Twice()
		mockClient.On("PutObject", mock.Anything, mock.MatchedBy(func(input *s3.PutObjectInput) bool {
			return *input.Key == "dst" && aws.ToString(input.IfNoneMatch) == "*"
		})).Return(&s3.PutObjectOutput{}, nil).Once()

		require.NoError(t, store.CopyIfNotExists(t.Context(), "src", "dst"))

		mockClient.On("PutObject", mock.Anything, mock.Anything).
			Return(nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}).Once()

		err := store.CopyIfNotExists(t.Context(), "src", "dst")
		assert.ErrorIs(t, err, blobstore.ErrAlreadyExists)
	})

	t.Run("DynamoLock", func(t *testing.T) {
		mockClient := new(MockS3Client)
		ddb := newMockDDBClient()
		store := NewStore(mockClient, "b", "p", WithDynamoLock(NewDynamoLock(ddb, "locks")))

		mockClient.On("HeadObject", mock.Anything, mock.Anything).Return(nil, &types.NotFound{}).Once()
		mockClient.On("CopyObject", mock.Anything, mock.MatchedBy(func(input *s3.CopyObjectInput) bool {
			return *input.Key == "p/dst" && *input.CopySource == "b/p/src"
		})).Return(&s3.CopyObjectOutput{}, nil).Once()

		require.NoError(t, store.CopyIfNotExists(t.Context(), "src", "dst"))
		_, held := ddb.owner("b/p/dst")
		assert.False(t, held, "lock must be released")

		mockClient.On("HeadObject", mock.Anything, mock.Anything).
			Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(4)}, nil).Once()

		err := store.CopyIfNotExists(t.Context(), "src", "dst")
		assert.ErrorIs(t, err, blobstore.ErrAlreadyExists)
		_, held = ddb.owner("b/p/dst")
		assert.False(t, held)

		mockClient.AssertExpectations(t)
	})
}

func TestStore_List(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "test-bucket", "prefix/")

	mockClient.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(input *s3.ListObjectsV2Input) bool {
		return *input.Bucket == "test-bucket" && *input.Prefix == "prefix/" && input.Delimiter == nil
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("prefix/dir/file2"), Size: aws.Int64(2)},
			{Key: aws.String("prefix/file1"), Size: aws.Int64(1), ETag: aws.String(`"e1"`)},
		},
	}, nil).Once()

	var metas []blobstore.ObjectMeta
	for meta, err := range store.List(t.Context(), "") {
		require.NoError(t, err)
		metas = append(metas, meta)
	}
	require.Len(t, metas, 2)
	assert.Equal(t, "dir/file2", metas[0].Location)
	assert.Equal(t, "file1", metas[1].Location)
	assert.Equal(t, int64(1), metas[1].Size)
	assert.Equal(t, "e1", metas[1].ETag)
}

func TestStore_List_Pagination(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "test-bucket", "prefix/")

	// Page 1
	mockClient.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(input *s3.ListObjectsV2Input) bool {
		return input.ContinuationToken == nil
	})).Return(&s3.ListObjectsV2Output{
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("token"),
		Contents:              []types.Object{{Key: aws.String("prefix/1")}},
	}, nil).Once()

	// Page 2
	mockClient.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(input *s3.ListObjectsV2Input) bool {
		return input.ContinuationToken != nil && *input.ContinuationToken == "token"
	})).Return(&s3.ListObjectsV2Output{
		IsTruncated: aws.Bool(false),
		Contents:    []types.Object{{Key: aws.String("prefix/2")}},
	}, nil).Once()

	var names []string
	for meta, err := range store.List(t.Context(), "") {
		require.NoError(t, err)
		names = append(names, meta.Location)
	}
	assert.Equal(t, []string{"1", "2"}, names)
}

func TestStore_List_Error(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "b", "")

	mockClient.On("ListObjectsV2", mock.Anything, mock.Anything).
		Return(nil, &smithy.GenericAPIError{Code: "AccessDenied"}).Once()

	var errs int
	for _, err := range store.List(t.Context(), "x") {
		require.Error(t, err)
		errs++
	}
	assert.Equal(t, 1, errs)
}

func TestStore_ListWithDelimiter(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "test-bucket", "root")

	mockClient.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(input *s3.ListObjectsV2Input) bool {
		return *input.Prefix == "root/dir/" && aws.ToString(input.Delimiter) == "/"
	})).Return(&s3.ListObjectsV2Output{
		CommonPrefixes: []types.CommonPrefix{{Prefix: aws.String("root/dir/sub/")}},
		Contents:       []types.Object{{Key: aws.String("root/dir/a"), Size: aws.Int64(3)}},
	}, nil).Once()

	res, err := store.ListWithDelimiter(t.Context(), "dir")
	require.NoError(t, err)
	assert.Equal(t, []string{"dir/sub"}, res.CommonPrefixes)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "dir/a", res.Objects[0].Location)
}

func TestComputeCRC32C(t *testing.T) {
	assert.Equal(t, "mnG7TA==", computeCRC32C([]byte("hello")))
}
