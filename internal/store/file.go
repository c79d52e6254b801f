package store

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/samber/lo"
)

// FileStorage keeps each bucket as a directory under Root. Metadata is not
// persisted.
type FileStorage struct {
	Root          string
	PublicBaseURL string
}

func (s *FileStorage) path(bucket, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if name == "" || filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", errors.New("invalid object name")
	}
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", errors.New("invalid bucket name")
	}
	return filepath.Join(s.Root, bucket, clean), nil
}

func (s *FileStorage) Upload(ctx context.Context, params UploadParams) (string, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("file").With("bucket", params.Bucket, "name", params.Name)
	logger.Info("writing")

	fail := func(kind Kind, err error) (string, error) {
		return "", &Error{Kind: kind, Op: "upload", Bucket: params.Bucket, Name: params.Name, Err: err}
	}

	path, err := s.path(params.Bucket, params.Name)
	if err != nil {
		return fail(KindWrite, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fail(KindUnavailable, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fail(KindUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(params.Data); err != nil {
		tmp.Close()
		return fail(KindWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fail(KindWrite, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fail(KindWrite, err)
	}

	return s.GetURL(ctx, params.Bucket, params.Name, 0)
}

// GetURL ignores expires; local files have no signing scheme.
func (s *FileStorage) GetURL(_ context.Context, bucket, name string, _ time.Duration) (string, error) {
	if s.PublicBaseURL != "" {
		return directURL(s.PublicBaseURL, bucket, name), nil
	}
	path, err := s.path(bucket, name)
	if err != nil {
		return "", &Error{Kind: KindWrite, Op: "get url", Bucket: bucket, Name: name, Err: err}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &Error{Kind: KindUnavailable, Op: "get url", Bucket: bucket, Name: name, Err: err}
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func (s *FileStorage) Exists(_ context.Context, bucket, name string) (bool, error) {
	path, err := s.path(bucket, name)
	if err != nil {
		return false, nil
	}
	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, &Error{Kind: KindUnavailable, Op: "exists", Bucket: bucket, Name: name, Err: err}
	}
}

func (s *FileStorage) Delete(ctx context.Context, bucket, name string) error {
	log.FromContextOrDiscard(ctx).WithGroup("file").Info("removing", "bucket", bucket, "name", name)

	path, err := s.path(bucket, name)
	if err != nil {
		return &Error{Kind: KindWrite, Op: "delete", Bucket: bucket, Name: name, Err: err}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &Error{Kind: KindUnavailable, Op: "delete", Bucket: bucket, Name: name, Err: err}
	}
	return nil
}

func (s *FileStorage) List(_ context.Context, bucket, prefix string) ([]Object, error) {
	entries, err := os.ReadDir(filepath.Join(s.Root, bucket))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: "list", Bucket: bucket, Name: prefix, Err: err}
	}

	entries = lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return e.Type().IsRegular() && strings.HasPrefix(e.Name(), prefix) && !strings.HasPrefix(e.Name(), ".upload-")
	})
	objects := make([]Object, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		objects = append(objects, Object{Name: e.Name(), LastModified: info.ModTime()})
	}
	return objects, nil
}
