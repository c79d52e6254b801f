package store

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

type S3Storage struct {
	Client           *s3.Client
	Presign          *s3.PresignClient
	Endpoint         string
	AutoCreateBucket bool
}

func NewS3Storage(i *do.Injector) (*S3Storage, error) {
	client := do.MustInvoke[*s3.Client](i)
	return &S3Storage{
		Client:           client,
		Presign:          s3.NewPresignClient(client),
		Endpoint:         do.MustInvokeNamed[string](i, "storage_base_url"),
		AutoCreateBucket: do.MustInvokeNamed[bool](i, "auto_create_bucket"),
	}, nil
}

func (s *S3Storage) Upload(ctx context.Context, params UploadParams) (string, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("s3").With(
		"name", params.Name,
		"content-type", params.ContentType,
		"bucket", params.Bucket,
	)
	logger.Info("uploading to s3")

	if s.AutoCreateBucket {
		if err := s.ensureBucket(ctx, params.Bucket); err != nil {
			return "", s3Error("upload", params.Bucket, params.Name, err)
		}
	}

	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(params.Bucket),
		Key:         aws.String(params.Name),
		ContentType: aws.String(params.ContentType),
		Body:        bytes.NewReader(params.Data),
		Metadata:    params.Metadata,
	})
	if err != nil {
		return "", s3Error("upload", params.Bucket, params.Name, err)
	}
	return s.GetURL(ctx, params.Bucket, params.Name, 0)
}

func (s *S3Storage) ensureBucket(ctx context.Context, bucket string) error {
	_, err := s.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil || !isNotFound(err) {
		return err
	}
	log.FromContextOrDiscard(ctx).Info("creating bucket", "bucket", bucket)
	_, err = s.Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	var owned *s3types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return nil
	}
	return err
}

func (s *S3Storage) GetURL(ctx context.Context, bucket, name string, expires time.Duration) (string, error) {
	if expires <= 0 {
		return directURL(s.Endpoint, bucket, name), nil
	}
	req, err := s.Presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", s3Error("presign", bucket, name, err)
	}
	return req.URL, nil
}

func (s *S3Storage) Exists(ctx context.Context, bucket, name string) (bool, error) {
	_, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, &Error{Kind: KindUnavailable, Op: "exists", Bucket: bucket, Name: name, Err: err}
}

func (s *S3Storage) Delete(ctx context.Context, bucket, name string) error {
	log.FromContextOrDiscard(ctx).WithGroup("s3").Info("deleting from s3", "bucket", bucket, "name", name)
	_, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
	})
	if err != nil && !isNotFound(err) {
		return &Error{Kind: KindUnavailable, Op: "delete", Bucket: bucket, Name: name, Err: err}
	}
	return nil
}

// List pages through the bucket and fetches object metadata concurrently.
func (s *S3Storage) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	pager := s3.NewListObjectsV2Paginator(s.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	var keys []s3types.Object
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, &Error{Kind: KindUnavailable, Op: "list", Bucket: bucket, Name: prefix, Err: err}
		}
		keys = append(keys, page.Contents...)
	}

	objects := make([]Object, len(keys))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(8)
	for idx, obj := range keys {
		group.Go(func() error {
			out, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return err
			}
			objects[idx] = Object{
				Name:         aws.ToString(obj.Key),
				LastModified: aws.ToTime(obj.LastModified),
				Metadata:     out.Metadata,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: "list", Bucket: bucket, Name: prefix, Err: err}
	}
	return objects, nil
}

func isNotFound(err error) bool {
	var nf *s3types.NotFound
	var nsk *s3types.NoSuchKey
	var nsb *s3types.NoSuchBucket
	if errors.As(err, &nf) || errors.As(err, &nsk) || errors.As(err, &nsb) {
		return true
	}
	var resp *smithyhttp.ResponseError
	return errors.As(err, &resp) && resp.HTTPStatusCode() == http.StatusNotFound
}

// s3Error separates rejected writes (4xx API errors) from everything else.
func s3Error(op, bucket, name string, err error) error {
	var api smithy.APIError
	var resp *smithyhttp.ResponseError
	kind := KindUnavailable
	if errors.As(err, &api) && errors.As(err, &resp) {
		status := resp.HTTPStatusCode()
		auth := status == http.StatusUnauthorized || status == http.StatusForbidden
		kind = lo.Ternary(status >= 400 && status < 500 && !auth, KindWrite, KindUnavailable)
	}
	return &Error{Kind: kind, Op: op, Bucket: bucket, Name: name, Err: err}
}

type CloudFrontInvalidator struct {
	Client       *cloudfront.Client
	Distribution string
}

func NewCloudFrontInvalidator(i *do.Injector) (Invalidator, error) {
	distribution := do.MustInvokeNamed[string](i, "distribution")
	if distribution == "" {
		return NopInvalidator{}, nil
	}
	return &CloudFrontInvalidator{
		Client:       do.MustInvoke[*cloudfront.Client](i),
		Distribution: distribution,
	}, nil
}

func (i *CloudFrontInvalidator) Invalidate(ctx context.Context, paths []string) error {
	log.FromContextOrDiscard(ctx).WithGroup("cloudfront").
		Info("invalidating paths in cloudfront", "paths", paths, "distribution", i.Distribution)

	paths = lo.Map(paths, func(p string, _ int) string {
		return lo.Ternary(strings.HasPrefix(p, "/"), p, "/"+p)
	})
	_, err := i.Client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(i.Distribution),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(time.Now().UTC().Format("20060102150405.000000000")),
			Paths: &cftypes.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	return err
}
