// Package param resolves provider API keys. An explicit key from the
// environment wins; otherwise the *_PARAM name is read from AWS SSM
// Parameter Store with decryption.
package param

import "context"

type Fetcher interface {
	Fetch(context.Context, string) (string, error)
}

// Resolve prefers an explicit value and falls back to fetching the named
// parameter. Both empty resolves to "".
func Resolve(ctx context.Context, f Fetcher, value, name string) (string, error) {
	if value != "" || name == "" {
		return value, nil
	}
	return f.Fetch(ctx, name)
}
