// Package api exposes the generation pipeline over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dmorgan81/imagegen/internal/generation"
	"github.com/dmorgan81/imagegen/internal/metrics"
	"github.com/dmorgan81/imagegen/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do"
)

type Runner interface {
	Run(context.Context, string) (*generation.Record, error)
}

type Feeder interface {
	Generate(context.Context) ([]byte, error)
}

type Server struct {
	runner      Runner
	storage     store.Storage
	invalidator store.Invalidator
	feed        Feeder
	metrics     *metrics.Collector
	gatherer    prometheus.Gatherer
	bucket      string
	logger      *slog.Logger
	validate    *validator.Validate
}

func NewServer(i *do.Injector) (*Server, error) {
	return &Server{
		runner:      do.MustInvoke[Runner](i),
		storage:     do.MustInvoke[store.Storage](i),
		invalidator: do.MustInvoke[store.Invalidator](i),
		feed:        do.MustInvoke[Feeder](i),
		metrics:     do.MustInvoke[*metrics.Collector](i),
		gatherer:    do.MustInvoke[*prometheus.Registry](i),
		bucket:      do.MustInvokeNamed[string](i, "bucket"),
		logger:      do.MustInvoke[*slog.Logger](i),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = s.instrument(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found")
	}))
	r.MethodNotAllowedHandler = s.instrument(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed")
	}))
	r.Use(s.instrument, s.recoverer)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/generate", s.Generate).Methods(http.MethodPost)
	v1.HandleFunc("/generation/{id}", s.GetGeneration).Methods(http.MethodGet)
	v1.HandleFunc("/generation/{id}", s.DeleteGeneration).Methods(http.MethodDelete)
	v1.HandleFunc("/feed", s.Feed).Methods(http.MethodGet)
	v1.HandleFunc("/health", s.Health).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return cors(r)
}
