package s3

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/picklr-io/sitepush/internal/logging"
	"github.com/picklr-io/sitepush/internal/provider"
	"github.com/picklr-io/sitepush/internal/retry"
)

const (
	// DefaultContentType is sent when neither the extension nor the content identify the file.
	DefaultContentType = "application/octet-stream"

	// maxDeleteKeys is the DeleteObjects per-request limit.
	maxDeleteKeys = 1000
)

// ObjectAPI is the subset of the S3 client used by the api transport.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// InvalidationAPI is the subset of the CloudFront client used for invalidations.
type InvalidationAPI interface {
	CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

type apiTransport struct {
	cfg     Config
	objects ObjectAPI
	cdn     InvalidationAPI
	policy  *retry.Policy
}

// NewAPI returns a backend that talks to S3 and CloudFront through the SDK.
func NewAPI(name string, cfg Config, objects ObjectAPI, cdn InvalidationAPI, policy *retry.Policy) *Backend {
	return &Backend{
		name:      name,
		cfg:       cfg,
		transport: &apiTransport{cfg: cfg, objects: objects, cdn: cdn, policy: policy},
	}
}

func (t *apiTransport) upload(ctx context.Context, baseDir string, paths []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.workers())

	for _, rel := range paths {
		g.Go(func() error {
			return t.put(gctx, baseDir, rel)
		})
	}
	return g.Wait()
}

func (t *apiTransport) put(ctx context.Context, baseDir, rel string) error {
	local := filepath.Join(baseDir, filepath.FromSlash(rel))
	contentType := detectContentType(local)
	key := t.cfg.key(rel)

	return provider.Do(ctx, t.policy, "put s3://"+t.cfg.Bucket+"/"+key, func(ctx context.Context) error {
		f, err := os.Open(local)
		if err != nil {
			return err
		}
		defer f.Close()

		input := &s3.PutObjectInput{
			Bucket:      aws.String(t.cfg.Bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(contentType),
		}
		if t.cfg.ACL != "" {
			input.ACL = types.ObjectCannedACL(t.cfg.ACL)
		}
		if _, err := t.objects.PutObject(ctx, input); err != nil {
			return err
		}
		logging.Debug("Uploaded object", "key", key, "content_type", contentType)
		return nil
	}, isTransient)
}

// mirror deletes every object under the prefix that has no local counterpart.
func (t *apiTransport) mirror(ctx context.Context, baseDir string) error {
	local, err := t.cfg.localFiles(baseDir)
	if err != nil {
		return err
	}
	remote, err := t.list(ctx)
	if err != nil {
		return err
	}

	protected := make(map[string]struct{}, len(t.cfg.ProtectedKeys))
	for _, k := range t.cfg.ProtectedKeys {
		protected[k] = struct{}{}
	}

	var stale []string
	for _, key := range remote {
		if _, ok := local[key]; ok {
			continue
		}
		if _, ok := protected[key]; ok {
			continue
		}
		stale = append(stale, key)
	}
	if len(stale) == 0 {
		return nil
	}

	sort.Strings(stale)
	if err := t.deleteKeys(ctx, stale); err != nil {
		return err
	}
	logging.Info("Deleted objects missing from output", "count", len(stale), "bucket", t.cfg.Bucket)
	return nil
}

func (t *apiTransport) list(ctx context.Context) ([]string, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(t.cfg.Bucket)}
	if t.cfg.Prefix != "" {
		input.Prefix = aws.String(t.cfg.Prefix + "/")
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(t.objects, input)
	for paginator.HasMorePages() {
		var page *s3.ListObjectsV2Output
		err := provider.Do(ctx, t.policy, "list s3://"+t.cfg.Bucket, func(ctx context.Context) error {
			var err error
			page, err = paginator.NextPage(ctx)
			return err
		}, isTransient)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (t *apiTransport) remove(ctx context.Context, paths []string) error {
	keys := make([]string, 0, len(paths))
	for _, rel := range paths {
		keys = append(keys, t.cfg.key(rel))
	}
	return t.deleteKeys(ctx, keys)
}

func (t *apiTransport) deleteKeys(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += maxDeleteKeys {
		batch := keys[start:min(start+maxDeleteKeys, len(keys))]

		objects := make([]types.ObjectIdentifier, 0, len(batch))
		for _, key := range batch {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
		}

		err := provider.Do(ctx, t.policy, "delete from s3://"+t.cfg.Bucket, func(ctx context.Context) error {
			out, err := t.objects.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(t.cfg.Bucket),
				Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return err
			}
			if len(out.Errors) > 0 {
				first := out.Errors[0]
				return fmt.Errorf("%d objects not deleted, first %s: %s %s",
					len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Code), aws.ToString(first.Message))
			}
			return nil
		}, isTransient)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *apiTransport) invalidate(ctx context.Context) error {
	// One caller reference for all attempts so a retried request is not a second invalidation.
	callerRef := uuid.NewString()
	return provider.Do(ctx, t.policy, "invalidate "+t.cfg.DistributionID, func(ctx context.Context) error {
		_, err := t.cdn.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
			DistributionId: aws.String(t.cfg.DistributionID),
			InvalidationBatch: &cftypes.InvalidationBatch{
				CallerReference: aws.String(callerRef),
				Paths: &cftypes.Paths{
					Quantity: aws.Int32(1),
					Items:    []string{"/*"},
				},
			},
		})
		return err
	}, isTransient)
}

// detectContentType prefers the extension table and sniffs the content when
// the extension is unknown.
func detectContentType(local string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(local))); ct != "" {
		return ct
	}
	if mt, err := mimetype.DetectFile(local); err == nil && mt != nil {
		return mt.String()
	}
	return DefaultContentType
}
