package s3

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrLockHeld is returned when a lock is still held by another owner after
// all acquisition attempts.
var ErrLockHeld = errors.New("lock held by another owner")

// DynamoLock is a lease-based mutual exclusion lock stored in DynamoDB.
//
// S3 copies cannot be made conditional on the destination not existing, so
// CopyIfNotExists takes this lock on the destination key, checks for the
// destination, and copies. The lock provides the compare-and-swap S3 lacks.
//
// Leases expire so that a crashed owner cannot block a key forever. A lease
// must comfortably exceed the time of one copy.
//
// Table schema:
//   - Partition key: lock_key (string)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name pagecache-locks \
//	  --attribute-definitions AttributeName=lock_key,AttributeType=S \
//	  --key-schema AttributeName=lock_key,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
type DynamoLock struct {
	client      DDBClient
	table       string
	owner       string
	lease       time.Duration
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

// LockOption configures a DynamoLock.
type LockOption func(*DynamoLock)

// WithLease sets the lease duration. Default: 30s.
func WithLease(d time.Duration) LockOption {
	return func(l *DynamoLock) { l.lease = d }
}

// WithAttempts sets how often Acquire retries a held lock, and the base
// delay between attempts. Default: 10 attempts, 50ms.
func WithAttempts(n int, backoff time.Duration) LockOption {
	return func(l *DynamoLock) {
		l.maxAttempts = n
		l.backoff = backoff
	}
}

// NewDynamoLock creates a lock backed by table.
func NewDynamoLock(client DDBClient, table string, optFns ...LockOption) *DynamoLock {
	l := &DynamoLock{
		client:      client,
		table:       table,
		owner:       newOwnerID(),
		lease:       30 * time.Second,
		maxAttempts: 10,
		backoff:     50 * time.Millisecond,
		now:         time.Now,
	}
	for _, fn := range optFns {
		fn(l)
	}
	if l.maxAttempts < 1 {
		l.maxAttempts = 1
	}
	return l
}

func newOwnerID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Acquire takes the lock for key, retrying while another owner holds an
// unexpired lease. The returned function releases the lock.
func (l *DynamoLock) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	for attempt := 1; ; attempt++ {
		err := l.tryAcquire(ctx, key)
		if err == nil {
			return func(ctx context.Context) error { return l.release(ctx, key) }, nil
		}
		if !errors.Is(err, ErrLockHeld) || attempt >= l.maxAttempts {
			return nil, err
		}

		select {
		case <-time.After(l.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *DynamoLock) tryAcquire(ctx context.Context, key string) error {
	now := l.now()
	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item: map[string]types.AttributeValue{
			"lock_key": &types.AttributeValueMemberS{Value: key},
			"owner":    &types.AttributeValueMemberS{Value: l.owner},
			"expires":  &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(l.lease).UnixMilli(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(#key) OR #expires < :now"),
		ExpressionAttributeNames: map[string]string{
			"#key":     "lock_key",
			"#expires": "expires",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: %s", ErrLockHeld, key)
		}
		return fmt.Errorf("failed to acquire lock in DynamoDB: %w", err)
	}
	return nil
}

func (l *DynamoLock) release(ctx context.Context, key string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.table),
		Key: map[string]types.AttributeValue{
			"lock_key": &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: l.owner},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			// The lease expired and another owner took over.
			return nil
		}
		return fmt.Errorf("failed to release lock in DynamoDB: %w", err)
	}
	return nil
}
