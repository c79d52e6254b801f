package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/dmorgan81/imagegen/internal/generate"
	"github.com/dmorgan81/imagegen/internal/generation"
	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/samber/lo"
)

var generationID = regexp.MustCompile(`^gen_[0-9a-f]{8,}$`)

// Generate runs one generation synchronously and answers with its outcome.
func (s *Server) Generate(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContextOrDiscard(r.Context())

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "Invalid request body: "+err.Error())
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, validationMessage(err))
		return
	}

	rec, err := s.runner.Run(r.Context(), req.Prompt)
	if err != nil {
		logger.Error("generation did not finish", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Unexpected error during image generation: "+err.Error())
		return
	}

	switch {
	case rec.Status == generation.StatusFailed:
		code := lo.Ternary(strings.HasPrefix(rec.FailureReason, generate.ReasonStoragePrefix), CodeStorageFailed, CodeGenerationFailed)
		writeError(w, http.StatusInternalServerError, code, rec.FailureReason)
	case rec.Status != generation.StatusCompleted || rec.ImageURL == "":
		logger.Error("generation finished without an image url", "generation_id", rec.ID, "status", rec.Status)
		writeError(w, http.StatusInternalServerError, CodeMissingImageURL, "Image generated but no URL available")
	default:
		writeJSON(w, http.StatusOK, GenerateResponse{
			GenerationID: rec.ID,
			ImageURL:     rec.ImageURL,
			Status:       "success",
		})
	}
}

// GetGeneration has no backing record store yet.
func (s *Server) GetGeneration(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotImplemented, CodeNotImplemented, "Generation lookup not yet implemented. This requires a database layer.")
}

func (s *Server) DeleteGeneration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	if !generationID.MatchString(id) {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, fmt.Sprintf("Invalid generation id %q", id))
		return
	}
	logger := log.FromContextOrDiscard(ctx).With("generation_id", id)
	name := id + ".png"

	ok, err := s.storage.Exists(ctx, s.bucket, name)
	if err != nil {
		logger.Error("failed to check object", "error", err)
		writeError(w, http.StatusInternalServerError, CodeStorageFailed, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, fmt.Sprintf("Generation %s not found", id))
		return
	}

	if err := s.storage.Delete(ctx, s.bucket, name); err != nil {
		logger.Error("failed to delete object", "error", err)
		writeError(w, http.StatusInternalServerError, CodeStorageFailed, err.Error())
		return
	}
	if err := s.invalidator.Invalidate(ctx, []string{"/" + name}); err != nil {
		// the object is gone; a stale CDN copy expires on its own
		logger.Warn("failed to invalidate cdn path", "error", err)
	}

	logger.Info("deleted generation")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Feed(w http.ResponseWriter, r *http.Request) {
	rss, err := s.feed.Generate(r.Context())
	if err != nil {
		log.FromContextOrDiscard(r.Context()).Error("failed to generate feed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeStorageFailed, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	_, _ = w.Write(rss)
}

func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	return strings.Join(lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			return field + " is required"
		case "min":
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		case "max":
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		default:
			return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
		}
	}), "; ")
}
