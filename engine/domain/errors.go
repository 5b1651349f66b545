package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below unwrap to one of these.
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrIngestion         = errors.New("ingestion error")
	ErrRetrieval         = errors.New("retrieval error")
	ErrGeneration        = errors.New("generation error")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrStoreUnavailable  = errors.New("vector store unavailable")
	ErrNoEvidence        = errors.New("no evidence available")
	ErrQueryEmpty        = errors.New("query is empty")
	ErrQueryTooLong      = errors.New("query too long")
	ErrQueryInjection    = errors.New("query contains suspicious content")
)

// ConfigError reports missing or invalid startup configuration. Fatal.
type ConfigError struct {
	Missing []string
	Reason  string
}

func (e *ConfigError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("config: missing required %s", strings.Join(e.Missing, ", "))
	}
	return "config: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// DimensionMismatchError is returned when a vector's length disagrees with its
// collection. Vectors are never truncated or padded.
type DimensionMismatchError struct {
	Collection string
	Want       int
	Got        int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch for %s: want %d, got %d", e.Collection, e.Want, e.Got)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// RecordError is a per-record ingestion failure. Non-fatal; aggregated into a report.
type RecordError struct {
	ID       string   `json:"id"`
	Modality Modality `json:"modality"`
	Reason   string   `json:"reason"`
	Err      error    `json:"-"`
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("ingest %s record %s: %s", e.Modality, e.ID, e.Reason)
}

// Unwrap exposes both the ingestion sentinel and the cause.
func (e *RecordError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrIngestion}
	}
	return []error{ErrIngestion, e.Err}
}

// RetrievalError is a failed similarity search for one modality.
type RetrievalError struct {
	Modality Modality
	Err      error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s: %v", e.Modality, e.Err)
}

func (e *RetrievalError) Unwrap() []error { return []error{ErrRetrieval, e.Err} }

// GenerationError wraps a failed LLM completion.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("generation: %v", e.Err) }

func (e *GenerationError) Unwrap() []error { return []error{ErrGeneration, e.Err} }

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
