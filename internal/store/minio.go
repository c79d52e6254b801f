package store

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/samber/lo"
)

type MinioConfig struct {
	Endpoint         string
	AccessKey        string
	SecretKey        string
	Region           string
	UseSSL           bool
	AutoCreateBucket bool
	PublicBaseURL    string
}

type MinioStorage struct {
	client           *minio.Client
	baseURL          string
	region           string
	autoCreateBucket bool
}

func NewMinioStorage(cfg MinioConfig) (*MinioStorage, error) {
	base := endpointURL(cfg.Endpoint, cfg.UseSSL)
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	cfg.Endpoint, cfg.UseSSL = u.Host, u.Scheme == "https"

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStorage{
		client:           client,
		baseURL:          lo.Ternary(cfg.PublicBaseURL != "", cfg.PublicBaseURL, base),
		region:           cfg.Region,
		autoCreateBucket: cfg.AutoCreateBucket,
	}, nil
}

func (s *MinioStorage) EnsureBucket(ctx context.Context, bucket string) error {
	ok, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return minioError("ensure bucket", bucket, "", err)
	}
	if ok {
		return nil
	}
	log.FromContextOrDiscard(ctx).Info("creating bucket", "bucket", bucket)
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		if minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return minioError("ensure bucket", bucket, "", err)
	}
	return nil
}

func (s *MinioStorage) Upload(ctx context.Context, params UploadParams) (string, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("minio").With(
		"name", params.Name,
		"content-type", params.ContentType,
		"bucket", params.Bucket,
	)
	logger.Info("uploading to minio")

	if s.autoCreateBucket {
		if err := s.EnsureBucket(ctx, params.Bucket); err != nil {
			return "", err
		}
	}

	_, err := s.client.PutObject(ctx, params.Bucket, params.Name, bytes.NewReader(params.Data), int64(len(params.Data)),
		minio.PutObjectOptions{
			ContentType:  lo.Ternary(params.ContentType != "", params.ContentType, "image/png"),
			UserMetadata: params.Metadata,
		})
	if err != nil {
		return "", minioError("upload", params.Bucket, params.Name, err)
	}
	return s.GetURL(ctx, params.Bucket, params.Name, 0)
}

func (s *MinioStorage) GetURL(ctx context.Context, bucket, name string, expires time.Duration) (string, error) {
	if expires <= 0 {
		return directURL(s.baseURL, bucket, name), nil
	}
	u, err := s.client.PresignedGetObject(ctx, bucket, name, expires, url.Values{})
	if err != nil {
		return "", minioError("presign", bucket, name, err)
	}
	return u.String(), nil
}

func (s *MinioStorage) Exists(ctx context.Context, bucket, name string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, name, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isMinioNotFound(err) {
		return false, nil
	}
	return false, &Error{Kind: KindUnavailable, Op: "exists", Bucket: bucket, Name: name, Err: err}
}

func (s *MinioStorage) Delete(ctx context.Context, bucket, name string) error {
	log.FromContextOrDiscard(ctx).WithGroup("minio").Info("removing object", "bucket", bucket, "name", name)
	err := s.client.RemoveObject(ctx, bucket, name, minio.RemoveObjectOptions{})
	if err != nil && !isMinioNotFound(err) {
		return &Error{Kind: KindUnavailable, Op: "delete", Bucket: bucket, Name: name, Err: err}
	}
	return nil
}

func (s *MinioStorage) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	var objects []Object
	for info := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		WithMetadata: true,
	}) {
		if info.Err != nil {
			if isMinioNotFound(info.Err) {
				return nil, nil
			}
			return nil, &Error{Kind: KindUnavailable, Op: "list", Bucket: bucket, Name: prefix, Err: info.Err}
		}
		objects = append(objects, Object{
			Name:         info.Key,
			LastModified: info.LastModified,
			Metadata:     info.UserMetadata,
		})
	}
	return objects, nil
}

func isMinioNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound ||
		lo.Contains([]string{"NoSuchKey", "NoSuchBucket", "NoSuchObject"}, resp.Code)
}

// minioError treats S3 error responses other than auth failures as rejected
// writes; transport errors carry no error response and map to unavailable.
func minioError(op, bucket, name string, err error) error {
	resp := minio.ToErrorResponse(err)
	auth := lo.Contains([]string{"AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch"}, resp.Code)
	write := resp.StatusCode >= 400 && resp.StatusCode < 500 && !auth
	return &Error{Kind: lo.Ternary(write, KindWrite, KindUnavailable), Op: op, Bucket: bucket, Name: name, Err: err}
}
