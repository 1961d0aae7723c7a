package state

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/sitepush/internal/fingerprint"
)

type fakeObjects struct {
	objects map[string][]byte
	getErr  error
	putErr  error
	puts    []*s3.PutObjectInput
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}}
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, in)
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

type fakeLocks struct {
	items map[string]string
}

func (f *fakeLocks) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	id := in.Item["LockID"].(*dbtypes.AttributeValueMemberS).Value
	if _, held := f.items[id]; held && aws.ToString(in.ConditionExpression) != "" {
		return nil, &dbtypes.ConditionalCheckFailedException{Message: aws.String("held")}
	}
	f.items[id] = in.Item["Info"].(*dbtypes.AttributeValueMemberS).Value
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeLocks) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, in.Key["LockID"].(*dbtypes.AttributeValueMemberS).Value)
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestS3Store_RoundTrip(t *testing.T) {
	objects := newFakeObjects()
	store := NewS3Store(S3StoreConfig{Bucket: "site-state"}, objects, nil)
	ctx := context.Background()

	assert.Equal(t, "s3://site-state/"+DefaultS3Key, store.Location())

	m, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)

	want := fingerprint.Map{"index.html": "5eb63bbbe01eeed093cb22bb8f5acdc3"}
	require.NoError(t, store.Save(ctx, want))
	require.Len(t, objects.puts, 1)
	assert.Equal(t, "application/json", aws.ToString(objects.puts[0].ContentType))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestS3Store_LoadErrors(t *testing.T) {
	objects := newFakeObjects()
	store := NewS3Store(S3StoreConfig{Bucket: "b", Key: "k.json"}, objects, nil)

	objects.getErr = &smithy.GenericAPIError{Code: "NotFound", Message: "not found"}
	m, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, m)

	objects.getErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	_, err = store.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://b/k.json")

	objects.getErr = nil
	objects.objects["b/k.json"] = []byte("not json")
	_, err = store.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestS3Store_SaveError(t *testing.T) {
	objects := newFakeObjects()
	objects.putErr = errors.New("connection reset")
	store := NewS3Store(S3StoreConfig{Bucket: "b"}, objects, nil)

	err := store.Save(context.Background(), fingerprint.Map{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestS3Store_Lock(t *testing.T) {
	locks := &fakeLocks{items: map[string]string{}}
	cfg := S3StoreConfig{Bucket: "b", Key: "k.json", LockTable: "sitepush-locks"}
	first := NewS3Store(cfg, newFakeObjects(), locks)
	second := NewS3Store(cfg, newFakeObjects(), locks)
	ctx := context.Background()

	require.NoError(t, first.Lock(ctx))
	assert.Contains(t, locks.items, "b/k.json")

	err := second.Lock(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "sitepush-locks")

	require.NoError(t, first.Unlock(ctx))
	assert.Empty(t, locks.items)
	require.NoError(t, second.Lock(ctx))
}

func TestS3Store_LockWithoutTable(t *testing.T) {
	store := NewS3Store(S3StoreConfig{Bucket: "b"}, newFakeObjects(), nil)
	assert.NoError(t, store.Lock(context.Background()))
	assert.NoError(t, store.Unlock(context.Background()))
}
