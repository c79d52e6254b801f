package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dmorgan81/imagegen/internal/generate"
	"github.com/dmorgan81/imagegen/internal/generation"
	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/dmorgan81/imagegen/internal/metrics"
	"github.com/dmorgan81/imagegen/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	mu      sync.Mutex
	prompts []string
	fn      func(prompt string) (*generation.Record, error)
}

func (r *stubRunner) Run(_ context.Context, prompt string) (*generation.Record, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, prompt)
	r.mu.Unlock()
	return r.fn(prompt)
}

func completed(url string) func(string) (*generation.Record, error) {
	return func(prompt string) (*generation.Record, error) {
		rec := generation.New(prompt)
		if err := rec.Start(); err != nil {
			return nil, err
		}
		return rec, rec.Complete(url)
	}
}

func failed(reason string) func(string) (*generation.Record, error) {
	return func(prompt string) (*generation.Record, error) {
		rec := generation.New(prompt)
		if err := rec.Start(); err != nil {
			return nil, err
		}
		return rec, rec.Fail(reason)
	}
}

type stubFeed struct {
	out []byte
	err error
}

func (f stubFeed) Generate(context.Context) ([]byte, error) {
	return f.out, f.err
}

type panickingFeed struct{}

func (panickingFeed) Generate(context.Context) ([]byte, error) {
	panic("secret bucket path")
}

type recordingInvalidator struct {
	paths []string
	err   error
}

func (i *recordingInvalidator) Invalidate(_ context.Context, paths []string) error {
	i.paths = append(i.paths, paths...)
	return i.err
}

type fixture struct {
	handler     http.Handler
	runner      *stubRunner
	storage     *store.FileStorage
	invalidator *recordingInvalidator
	registry    *prometheus.Registry
}

func setup(t *testing.T, run func(string) (*generation.Record, error)) *fixture {
	t.Helper()
	return setupWithFeed(t, run, stubFeed{out: []byte("<rss></rss>")})
}

func setupWithFeed(t *testing.T, run func(string) (*generation.Record, error), feed Feeder) *fixture {
	t.Helper()
	f := &fixture{
		runner:      &stubRunner{fn: run},
		storage:     &store.FileStorage{Root: t.TempDir()},
		invalidator: &recordingInvalidator{},
		registry:    prometheus.NewRegistry(),
	}

	i := do.New()
	do.ProvideValue[Runner](i, f.runner)
	do.ProvideValue[store.Storage](i, f.storage)
	do.ProvideValue[store.Invalidator](i, f.invalidator)
	do.ProvideValue[Feeder](i, feed)
	do.ProvideValue(i, f.registry)
	do.ProvideValue(i, metrics.NewCollector(f.registry))
	do.ProvideNamedValue(i, "bucket", "images")
	do.ProvideValue(i, log.New(io.Discard, slog.LevelDebug))
	do.Provide(i, NewServer)

	f.handler = do.MustInvoke[*Server](i).Handler()
	return f
}

func (f *fixture) serve(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var out ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "error", out.Status)
	return out
}

func TestGenerateSuccess(t *testing.T) {
	f := setup(t, completed("https://cdn.example.com/images/gen_1a2b3c4d.png"))

	rec := f.serve(t, http.MethodPost, "/api/v1/generate", `{"prompt":"  a futuristic city skyline at sunset  "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var out GenerateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Regexp(t, `^gen_[0-9a-f]{8}$`, out.GenerationID)
	assert.Equal(t, "https://cdn.example.com/images/gen_1a2b3c4d.png", out.ImageURL)
	assert.Equal(t, "success", out.Status)
	assert.Equal(t, []string{"a futuristic city skyline at sunset"}, f.runner.prompts)
}

func TestGenerateValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"too short", `{"prompt":"short"}`},
		{"short after trim", `{"prompt":"   short    "}`},
		{"too long", `{"prompt":"` + strings.Repeat("a", 501) + `"}`},
		{"missing", `{}`},
		{"blank", `{"prompt":"          "}`},
		{"malformed", `{"prompt":`},
		{"wrong type", `{"prompt":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, completed("https://cdn.example.com/x.png"))

			rec := f.serve(t, http.MethodPost, "/api/v1/generate", tt.body)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, CodeValidation, decodeError(t, rec).Code)
			assert.Empty(t, f.runner.prompts)
		})
	}
}

func TestGenerateBoundaryLengths(t *testing.T) {
	f := setup(t, completed("https://cdn.example.com/x.png"))

	for _, p := range []string{strings.Repeat("a", 10), strings.Repeat("é", 500)} {
		body, err := json.Marshal(GenerateRequest{Prompt: p})
		require.NoError(t, err)
		rec := f.serve(t, http.MethodPost, "/api/v1/generate", string(body))
		assert.Equal(t, http.StatusOK, rec.Code, "length %d", len([]rune(p)))
	}
}

func TestGenerateFailures(t *testing.T) {
	tests := []struct {
		name    string
		run     func(string) (*generation.Record, error)
		code    string
		message string
	}{
		{
			name:    "generation",
			run:     failed(generate.ReasonGeneration),
			code:    CodeGenerationFailed,
			message: generate.ReasonGeneration,
		},
		{
			name:    "storage",
			run:     failed(generate.ReasonStoragePrefix + "connection refused"),
			code:    CodeStorageFailed,
			message: "Storage upload failed: connection refused",
		},
		{
			name: "not terminal",
			run: func(prompt string) (*generation.Record, error) {
				rec := generation.New(prompt)
				return rec, rec.Start()
			},
			code:    CodeMissingImageURL,
			message: "Image generated but no URL available",
		},
		{
			name:    "runner error",
			run:     func(string) (*generation.Record, error) { return nil, errors.New("boom") },
			code:    CodeInternal,
			message: "Unexpected error during image generation: boom",
		},
		{
			name:    "panic",
			run:     func(string) (*generation.Record, error) { panic("nil storage") },
			code:    CodeInternal,
			message: "Internal server error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, tt.run)

			rec := f.serve(t, http.MethodPost, "/api/v1/generate", `{"prompt":"a futuristic city skyline at sunset"}`)
			require.Equal(t, http.StatusInternalServerError, rec.Code)
			out := decodeError(t, rec)
			assert.Equal(t, tt.code, out.Code)
			assert.Equal(t, tt.message, out.Message)
		})
	}
}

func TestPanicOnAnyRouteHidesDetail(t *testing.T) {
	f := setupWithFeed(t, completed("https://cdn.example.com/x.png"), panickingFeed{})

	rec := f.serve(t, http.MethodGet, "/api/v1/feed", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "secret bucket path")
	assert.NotContains(t, body, "image generation")

	var out ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, CodeInternal, out.Code)
	assert.Equal(t, "Internal server error", out.Message)
}

func TestGetGenerationNotImplemented(t *testing.T) {
	f := setup(t, completed("https://cdn.example.com/x.png"))

	rec := f.serve(t, http.MethodGet, "/api/v1/generation/gen_1a2b3c4d", "")
	require.Equal(t, http.StatusNotImplemented, rec.Code)
	out := decodeError(t, rec)
	assert.Equal(t, CodeNotImplemented, out.Code)
	assert.Equal(t, "Generation lookup not yet implemented. This requires a database layer.", out.Message)
}

func TestDeleteGeneration(t *testing.T) {
	f := setup(t, completed("https://cdn.example.com/x.png"))
	ctx := context.Background()
	_, err := f.storage.Upload(ctx, store.UploadParams{Bucket: "images", Name: "gen_1a2b3c4d.png", Data: []byte("png")})
	require.NoError(t, err)

	rec := f.serve(t, http.MethodDelete, "/api/v1/generation/gen_1a2b3c4d", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"/gen_1a2b3c4d.png"}, f.invalidator.paths)

	ok, err := f.storage.Exists(ctx, "images", "gen_1a2b3c4d.png")
	require.NoError(t, err)
	assert.False(t, ok)

	rec = f.serve(t, http.MethodDelete, "/api/v1/generation/gen_1a2b3c4d", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, rec).Code)
	assert.Len(t, f.invalidator.paths, 1)
}

func TestDeleteGenerationInvalidID(t *testing.T) {
	f := setup(t, completed("https://cdn.example.com/x.png"))

	for _, id := range []string{"gen_XYZ", "gen_123", "abc_1a2b3c4d", "gen_1A2B3C4D"} {
		rec := f.serve(t, http.MethodDelete, "/api/v1/generation/"+id, "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, id)
	}
	assert.Empty(t, f.invalidator.paths)
}

func TestDeleteGenerationInvalidationFailure(t *testing.T) {
	f := setup(t, completed("https://cdn.example.com/x.png"))
	f.invalidator.err = errors.New("throttled")
	_, err := f.storage.Upload(context.Background(), store.UploadParams{Bucket: "images", Name: "gen_1a2b3c4d.png", Data: []byte("png")})
	require.NoError(t, err)

	rec := f.serve(t, http.MethodDelete, "/api/v1/generation/gen_1a2b3c4d", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestFeed(t *testing.T) {
	f := setup(t, completed("https://cdn.example.com/x.png"))

	rec := f.serve(t, http.MethodGet, "/api/v1/feed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/rss+xml")
	assert.Equal(t, "<rss></rss>", rec.Body.String())
}

func TestHealth(t *testing.T) {
	f := setup(t, completed("https://cdn.example.com/x.png"))

	rec := f.serve(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCORS(t *testing.T) {
	f := setup(t, completed("https://cdn.example.com/x.png"))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/generate", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Empty(t, f.runner.prompts)
}

func TestNotFoundIsJSON(t *testing.T) {
	f := setup(t, completed("https://cdn.example.com/x.png"))

	rec := f.serve(t, http.MethodGet, "/api/v1/nothing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, rec).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := setup(t, completed("https://cdn.example.com/x.png"))

	f.serve(t, http.MethodGet, "/api/v1/health", "")
	f.serve(t, http.MethodPost, "/api/v1/generate", `{"prompt":"short"}`)

	rec := f.serve(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "imagegen_http_requests_total")

	expected := `
# HELP imagegen_http_requests_total HTTP requests by route and status code.
# TYPE imagegen_http_requests_total counter
imagegen_http_requests_total{code="200",method="GET",route="/api/v1/health"} 1
imagegen_http_requests_total{code="200",method="GET",route="/metrics"} 1
imagegen_http_requests_total{code="422",method="POST",route="/api/v1/generate"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, bytes.NewBufferString(expected), "imagegen_http_requests_total"))
}
