package image

import (
	"context"
	"errors"
	"fmt"
)

const ContentTypePNG = "image/png"

type Image struct {
	Data        []byte
	ContentType string
}

type Generator interface {
	Generate(context.Context, string) (*Image, error)
}

type Kind int

const (
	KindRemote Kind = iota + 1
	KindTimeout
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindRemote:
		return "remote"
	case KindTimeout:
		return "timeout"
	case KindEmpty:
		return "empty"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Failure is the only error type a Generator returns.
type Failure struct {
	Kind     Kind
	Provider string
	Err      error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s failure", f.Provider, f.Kind)
	}
	return fmt.Sprintf("%s: %s failure: %v", f.Provider, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// classify turns a transport error into a Failure, separating expired or
// canceled contexts from other remote errors.
func classify(provider string, err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Failure{Kind: KindTimeout, Provider: provider, Err: err}
	}
	return &Failure{Kind: KindRemote, Provider: provider, Err: err}
}
