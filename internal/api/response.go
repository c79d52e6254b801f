package api

import (
	"encoding/json"
	"net/http"
)

const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeGenerationFailed = "GENERATION_FAILED"
	CodeStorageFailed    = "STORAGE_FAILED"
	CodeMissingImageURL  = "MISSING_IMAGE_URL"
	CodeNotImplemented   = "NOT_IMPLEMENTED"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInternal         = "INTERNAL_ERROR"
)

type GenerateRequest struct {
	Prompt string `json:"prompt" validate:"required,min=10,max=500"`
}

type GenerateResponse struct {
	GenerationID string `json:"generation_id"`
	ImageURL     string `json:"image_url"`
	Status       string `json:"status"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, ErrorResponse{Status: "error", Message: message, Code: errCode})
}
