// Package generation holds the lifecycle record of a single prompt-to-image request.
package generation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	IDPrefix = "gen_"
	idLength = 8
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrEmptyURL          = errors.New("image url must not be empty")
	ErrEmptyReason       = errors.New("failure reason must not be empty")
)

// NewID returns IDPrefix followed by eight lowercase hex characters taken from
// a random UUID. No collision check is made against earlier ids.
func NewID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return IDPrefix + hex[:idLength]
}

// Record tracks one request. Only the owning orchestrator mutates it, and
// only through Start, Complete and Fail.
type Record struct {
	ID            string    `json:"generation_id"`
	Prompt        string    `json:"prompt"`
	Status        Status    `json:"status"`
	ImageURL      string    `json:"image_url,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	now func() time.Time
}

type Option func(*Record)

// WithClock replaces time.Now for timestamping.
func WithClock(now func() time.Time) Option {
	return func(r *Record) { r.now = now }
}

// WithID overrides the generated id.
func WithID(id string) Option {
	return func(r *Record) { r.ID = id }
}

func New(prompt string, opts ...Option) *Record {
	r := &Record{
		ID:     NewID(),
		Prompt: prompt,
		Status: StatusPending,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.CreatedAt = r.now().UTC()
	r.UpdatedAt = r.CreatedAt
	return r
}

// ObjectName is the storage key of the record's image.
func (r *Record) ObjectName() string {
	return r.ID + ".png"
}

func (r *Record) Terminal() bool {
	return r.Status.Terminal()
}

func (r *Record) Start() error {
	return r.transition(StatusPending, StatusProcessing)
}

func (r *Record) Complete(url string) error {
	if url == "" {
		return ErrEmptyURL
	}
	if err := r.transition(StatusProcessing, StatusCompleted); err != nil {
		return err
	}
	r.ImageURL = url
	return nil
}

func (r *Record) Fail(reason string) error {
	if reason == "" {
		return ErrEmptyReason
	}
	if err := r.transition(StatusProcessing, StatusFailed); err != nil {
		return err
	}
	r.FailureReason = reason
	return nil
}

func (r *Record) transition(from, to Status) error {
	if r.Status != from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = r.now().UTC()
	return nil
}
