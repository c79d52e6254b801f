package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type UploadParams struct {
	Bucket      string
	Name        string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

type Object struct {
	Name         string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage addresses objects by bucket and object name. Implementations are
// safe for concurrent use and never retry.
type Storage interface {
	// Upload stores the object and returns its direct URL.
	Upload(context.Context, UploadParams) (string, error)
	// GetURL returns a presigned URL when expires is positive, otherwise a
	// stable direct URL.
	GetURL(ctx context.Context, bucket, name string, expires time.Duration) (string, error)
	// Exists reports false without error when the object is missing.
	Exists(ctx context.Context, bucket, name string) (bool, error)
	// Delete succeeds when the object is already gone.
	Delete(ctx context.Context, bucket, name string) error
	List(ctx context.Context, bucket, prefix string) ([]Object, error)
}

type Kind int

const (
	KindUnavailable Kind = iota + 1
	KindWrite
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindWrite:
		return "write"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by every Storage implementation.
type Error struct {
	Kind   Kind
	Op     string
	Bucket string
	Name   string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s/%s: storage %s: %v", e.Op, e.Bucket, e.Name, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// directURL builds {base}/{bucket}/{name} with each name segment escaped.
func directURL(base, bucket, name string) string {
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
}

func endpointURL(endpoint string, secure bool) string {
	if strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/")
	}
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return scheme + "://" + strings.TrimRight(endpoint, "/")
}
