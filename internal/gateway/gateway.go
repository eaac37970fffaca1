// Package gateway is the boundary to all ML inference services: speech-to-text,
// LLM structured generation, and embeddings. The rest of the system depends
// only on the Gateway contract and the typed transport failures.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"callsight/internal/record"
)

// Transcription is the speech-to-text result for one recording.
type Transcription struct {
	Text     string
	Language string
}

// Gateway abstracts the inference services. Every call may be slow and must be
// given a context; failures surface as *TransportError.
type Gateway interface {
	// Transcribe turns the audio file at path into text.
	Transcribe(ctx context.Context, audioPath string) (Transcription, error)

	// Infer sends a stage prompt to the LLM and returns the raw response
	// text verbatim. Parsing and validation happen upstream.
	Infer(ctx context.Context, kind record.Kind, prompt string) (string, error)

	// Embed returns a vector embedding for text.
	Embed(ctx context.Context, text string) ([]float64, error)
}

// FailureKind classifies a transport failure.
type FailureKind string

const (
	RateLimited  FailureKind = "rate_limited"
	Timeout      FailureKind = "timeout"
	ServiceError FailureKind = "service_error"
)

// TransportError is a typed failure from the inference service.
type TransportError struct {
	Kind   FailureKind
	Status int // HTTP status if applicable, 0 otherwise
	Msg    string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.Msg)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether retrying the call can possibly succeed.
// Client errors other than rate limiting are permanent.
func (e *TransportError) Retryable() bool {
	if e.Kind == RateLimited || e.Kind == Timeout {
		return true
	}
	if e.Status >= 400 && e.Status < 500 {
		return false
	}
	return true
}

// AsTransport unwraps err into a *TransportError if it is one.
func AsTransport(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
