package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/picklr-io/sitepush/internal/fingerprint"
)

// DefaultS3Key is the object key used when state.s3_key is unset.
const DefaultS3Key = "sitepush/file_hashes.json"

// ObjectAPI is the subset of the S3 client used by S3Store.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// LockAPI is the subset of the DynamoDB client used for locking.
type LockAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type S3StoreConfig struct {
	Bucket string
	Key    string
	// LockTable is an optional DynamoDB table keyed by LockID.
	LockTable string
}

// S3Store keeps the record as an S3 object, for runners whose output
// directory does not survive between runs.
type S3Store struct {
	bucket    string
	key       string
	lockTable string

	objects ObjectAPI
	locks   LockAPI
}

func NewS3Store(cfg S3StoreConfig, objects ObjectAPI, locks LockAPI) *S3Store {
	key := cfg.Key
	if key == "" {
		key = DefaultS3Key
	}
	return &S3Store{
		bucket:    cfg.Bucket,
		key:       key,
		lockTable: cfg.LockTable,
		objects:   objects,
		locks:     locks,
	}
}

func (s *S3Store) Location() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

func (s *S3Store) Load(ctx context.Context) (fingerprint.Map, error) {
	result, err := s.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isNotFound(err) {
			return fingerprint.Map{}, nil
		}
		return nil, fmt.Errorf("failed to read state from %s: %w", s.Location(), err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}

	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load state from %s: %w", s.Location(), err)
	}
	return m, nil
}

func (s *S3Store) Save(ctx context.Context, m fingerprint.Map) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	_, err = s.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to write state to %s: %w", s.Location(), err)
	}
	return nil
}

// Lock takes the DynamoDB lock item. Without a lock table it is a no-op.
func (s *S3Store) Lock(ctx context.Context) error {
	if s.lockTable == "" {
		return nil
	}

	lockID := fmt.Sprintf("sitepush-%d-%d", os.Getpid(), time.Now().UnixNano())
	_, err := s.locks.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.lockTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: s.lockKey()},
			"Info":    &dbtypes.AttributeValueMemberS{Value: lockID},
			"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w. If this is an error, manually delete the lock item with LockID=%q from DynamoDB table %q",
				ErrLocked, s.lockKey(), s.lockTable)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return nil
}

func (s *S3Store) Unlock(ctx context.Context) error {
	if s.lockTable == "" {
		return nil
	}

	_, err := s.locks.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.lockTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: s.lockKey()},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (s *S3Store) lockKey() string {
	return s.bucket + "/" + s.key
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
