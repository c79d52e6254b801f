package inject

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/dmorgan81/imagegen/internal/api"
	"github.com/dmorgan81/imagegen/internal/config"
	"github.com/dmorgan81/imagegen/internal/feed"
	"github.com/dmorgan81/imagegen/internal/generate"
	"github.com/dmorgan81/imagegen/internal/image"
	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/dmorgan81/imagegen/internal/metrics"
	"github.com/dmorgan81/imagegen/internal/param"
	"github.com/dmorgan81/imagegen/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do"
	"github.com/samber/lo"
)

func Setup(ctx context.Context, cfg *config.Config) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.ProvideValue[*config.Config](injector, cfg)
	do.ProvideValue[*slog.Logger](injector, log)
	do.ProvideValue[*http.Client](injector, http.DefaultClient)

	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Storage.Region))
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*s3.Client](injector, func(i *do.Injector) (*s3.Client, error) {
		endpoint := cfg.Storage.EndpointURL()
		return s3.NewFromConfig(do.MustInvoke[aws.Config](i), func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
			if cfg.Storage.AccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(cfg.Storage.AccessKey, cfg.Storage.SecretKey, "")
			}
		}), nil
	})
	do.Provide[*cloudfront.Client](injector, func(i *do.Injector) (*cloudfront.Client, error) {
		return cloudfront.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})

	do.Provide[param.Fetcher](injector, param.NewParameterStoreFetcher)
	// the parameter store client is only built when a key has to be fetched
	secret := func(i *do.Injector, value, name string) (string, error) {
		if value != "" || name == "" {
			return value, nil
		}
		return param.Resolve(ctx, do.MustInvoke[param.Fetcher](i), value, name)
	}
	do.ProvideNamed[string](injector, "gemini_key", func(i *do.Injector) (string, error) {
		return secret(i, cfg.Generation.GeminiKey, cfg.Generation.GeminiKeyParam)
	})
	do.ProvideNamed[string](injector, "dezgo_key", func(i *do.Injector) (string, error) {
		return secret(i, cfg.Generation.DezgoKey, cfg.Generation.DezgoKeyParam)
	})
	do.ProvideNamedValue[string](injector, "gemini_model", cfg.Generation.GeminiModel)
	do.ProvideNamedValue[string](injector, "gemini_base_url", cfg.Generation.GeminiBaseURL)
	do.ProvideNamedValue[string](injector, "dezgo_model", cfg.Generation.DezgoModel)
	do.ProvideNamedValue[string](injector, "bucket", cfg.Storage.Bucket)
	do.ProvideNamedValue[string](injector, "distribution", cfg.Storage.Distribution)
	do.ProvideNamedValue[string](injector, "storage_base_url", cfg.Storage.StorageBaseURL())
	do.ProvideNamedValue[bool](injector, "auto_create_bucket", cfg.Storage.AutoCreateBucket)

	do.Provide[image.Generator](injector, lo.Ternary(cfg.Generation.Provider == "dezgo",
		image.NewDezgoGenerator, image.NewGeminiGenerator))
	do.Provide[store.Storage](injector, func(i *do.Injector) (store.Storage, error) {
		switch cfg.Storage.Provider {
		case "s3":
			return store.NewS3Storage(i)
		case "filesystem", "local":
			return &store.FileStorage{Root: cfg.Storage.LocalDir, PublicBaseURL: cfg.Storage.PublicBaseURL}, nil
		default:
			return store.NewMinioStorage(store.MinioConfig{
				Endpoint:         cfg.Storage.Endpoint,
				AccessKey:        cfg.Storage.AccessKey,
				SecretKey:        cfg.Storage.SecretKey,
				Region:           cfg.Storage.Region,
				UseSSL:           cfg.Storage.UseHTTPS,
				AutoCreateBucket: cfg.Storage.AutoCreateBucket,
				PublicBaseURL:    cfg.Storage.PublicBaseURL,
			})
		}
	})
	do.Provide[store.Invalidator](injector, store.NewCloudFrontInvalidator)

	do.Provide[*prometheus.Registry](injector, func(i *do.Injector) (*prometheus.Registry, error) {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		return reg, nil
	})
	do.Provide[*metrics.Collector](injector, metrics.NewInjectedCollector)

	do.ProvideValue[generate.Options](injector, generate.Options{
		Bucket:          cfg.Storage.Bucket,
		GenerateTimeout: cfg.Generation.Timeout,
		UploadTimeout:   cfg.Storage.UploadTimeout,
		GenerateRetries: cfg.Generation.Retries,
	})
	do.Provide[*generate.Orchestrator](injector, generate.NewOrchestrator)
	do.Provide[api.Runner](injector, func(i *do.Injector) (api.Runner, error) {
		return do.MustInvoke[*generate.Orchestrator](i), nil
	})
	do.Provide[*feed.Generator](injector, feed.NewGenerator)
	do.Provide[api.Feeder](injector, func(i *do.Injector) (api.Feeder, error) {
		return do.MustInvoke[*feed.Generator](i), nil
	})
	do.Provide[*api.Server](injector, api.NewServer)

	return injector
}
