// Package generate drives a generation record through the image generator and
// the object store.
package generate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dmorgan81/imagegen/internal/generation"
	"github.com/dmorgan81/imagegen/internal/image"
	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/dmorgan81/imagegen/internal/metrics"
	"github.com/dmorgan81/imagegen/internal/store"
	"github.com/samber/do"
	"github.com/samber/lo"
)

const (
	ReasonGeneration    = "Failed to generate image from AI model"
	ReasonStoragePrefix = "Storage upload failed: "
)

var (
	ErrEmptyPrompt = errors.New("prompt must not be empty")
	// ErrNoURL marks an upload that reported success without an object URL.
	ErrNoURL = errors.New("storage returned no image URL")
)

type Options struct {
	Bucket          string
	GenerateTimeout time.Duration
	UploadTimeout   time.Duration
	// GenerateRetries is the number of extra generation attempts after the
	// first one fails. Empty responses are never retried.
	GenerateRetries int
	// RetryBackoff builds the policy for one Run. Nil means exponential.
	RetryBackoff func() backoff.BackOff
}

type Orchestrator struct {
	generator image.Generator
	storage   store.Storage
	metrics   *metrics.Collector
	opts      Options
}

func New(generator image.Generator, storage store.Storage, collector *metrics.Collector, opts Options) *Orchestrator {
	return &Orchestrator{generator: generator, storage: storage, metrics: collector, opts: opts}
}

func NewOrchestrator(i *do.Injector) (*Orchestrator, error) {
	return New(
		do.MustInvoke[image.Generator](i),
		do.MustInvoke[store.Storage](i),
		do.MustInvoke[*metrics.Collector](i),
		do.MustInvoke[Options](i),
	), nil
}

// Run always returns a terminal record unless prompt is blank, which callers
// are expected to have rejected already.
func (o *Orchestrator) Run(ctx context.Context, prompt string) (*generation.Record, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	// Capability calls outlive the caller; only the configured deadlines stop them.
	ctx = context.WithoutCancel(ctx)
	started := time.Now()

	rec := generation.New(prompt)
	logger := log.FromContextOrDiscard(ctx).WithGroup("orchestrator").With("generation_id", rec.ID)
	ctx = log.NewContext(ctx, logger)
	logger.Info("starting generation", "prompt_length", len(prompt))

	if err := rec.Start(); err != nil {
		return nil, err
	}

	img, err := o.generate(ctx, prompt)
	if err != nil || img == nil || len(img.Data) == 0 {
		cause := generationCause(err)
		logger.Warn("image generation failed", "cause", cause, "error", err)
		return o.finish(rec, cause, started, rec.Fail(ReasonGeneration))
	}
	defer clear(img.Data)

	url, err := o.upload(ctx, rec, img)
	if err == nil && url == "" {
		err = ErrNoURL
	}
	if err != nil {
		cause := storageCause(err)
		logger.Error("failed to upload generated image", "cause", cause, "object_name", rec.ObjectName(), "error", err)
		return o.finish(rec, cause, started, rec.Fail(ReasonStoragePrefix+err.Error()))
	}

	logger.Info("generated and stored image", "object_name", rec.ObjectName(), "image_url", url)
	return o.finish(rec, "", started, rec.Complete(url))
}

func (o *Orchestrator) generate(ctx context.Context, prompt string) (*image.Image, error) {
	defer o.observePhase("generate", time.Now())

	ctx, cancel := withTimeout(ctx, o.opts.GenerateTimeout)
	defer cancel()

	if o.opts.GenerateRetries <= 0 {
		return o.generator.Generate(ctx, prompt)
	}

	return backoff.Retry(ctx, func() (*image.Image, error) {
		img, err := o.generator.Generate(ctx, prompt)
		var f *image.Failure
		if errors.As(err, &f) && f.Kind == image.KindEmpty {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			log.FromContextOrDiscard(ctx).Warn("generation attempt failed", "error", err)
		}
		return img, err
	},
		backoff.WithMaxTries(uint(o.opts.GenerateRetries+1)),
		backoff.WithBackOff(o.newBackOff()),
	)
}

func (o *Orchestrator) newBackOff() backoff.BackOff {
	if o.opts.RetryBackoff != nil {
		return o.opts.RetryBackoff()
	}
	return backoff.NewExponentialBackOff()
}

func (o *Orchestrator) upload(ctx context.Context, rec *generation.Record, img *image.Image) (string, error) {
	defer o.observePhase("upload", time.Now())

	ctx, cancel := withTimeout(ctx, o.opts.UploadTimeout)
	defer cancel()

	return o.storage.Upload(ctx, store.UploadParams{
		Bucket:      o.opts.Bucket,
		Name:        rec.ObjectName(),
		Data:        img.Data,
		ContentType: lo.Ternary(img.ContentType != "", img.ContentType, image.ContentTypePNG),
		Metadata: map[string]string{
			"generation-id": rec.ID,
			"prompt":        rec.Prompt,
		},
	})
}

// finish records metrics for a terminal record. A transition error means the
// record left processing early, which is a bug in Run.
func (o *Orchestrator) finish(rec *generation.Record, cause string, started time.Time, err error) (*generation.Record, error) {
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.ObserveGeneration(string(rec.Status), cause, time.Since(started))
	}
	return rec, nil
}

func (o *Orchestrator) observePhase(phase string, started time.Time) {
	if o.metrics != nil {
		o.metrics.ObservePhase(phase, time.Since(started))
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func generationCause(err error) string {
	var f *image.Failure
	if !errors.As(err, &f) {
		return lo.Ternary(err == nil, "generation_empty", "generation_unexpected")
	}
	switch f.Kind {
	case image.KindRemote:
		return "generation_remote"
	case image.KindTimeout:
		return "generation_timeout"
	case image.KindEmpty:
		return "generation_empty"
	default:
		return "generation_unexpected"
	}
}

func storageCause(err error) string {
	var serr *store.Error
	if !errors.As(err, &serr) {
		if errors.Is(err, ErrNoURL) {
			return "storage_no_url"
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "storage_timeout"
		}
		return "storage_unexpected"
	}
	switch serr.Kind {
	case store.KindUnavailable:
		return "storage_unavailable"
	case store.KindWrite:
		return "storage_write"
	default:
		return "storage_unexpected"
	}
}
