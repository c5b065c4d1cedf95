// Package sender delivers a user prompt to a remote inference endpoint on
// behalf of a persona.
package sender

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/hyperjump/gasnelio/internal/models"
)

// Request is one prompt to deliver.
type Request struct {
	Text      string           `json:"question"`
	Persona   models.PersonaID `json:"persona"`
	Sentiment models.Sentiment `json:"sentiment,omitempty"`
	// ContextTerms are related taxonomy terms that help the endpoint
	// ground its answer.
	ContextTerms []string `json:"context_terms,omitempty"`
	SystemPrompt string   `json:"-"`
}

// Reply is the endpoint's answer.
type Reply struct {
	Content string           `json:"answer"`
	Persona models.PersonaID `json:"persona"`
}

// Sender delivers requests. Implementations return *Error on failure.
type Sender interface {
	Send(ctx context.Context, req Request) (Reply, error)
}

// Func adapts a function to Sender.
type Func func(ctx context.Context, req Request) (Reply, error)

// Send calls f.
func (f Func) Send(ctx context.Context, req Request) (Reply, error) {
	return f(ctx, req)
}

// Error is a typed delivery failure.
type Error struct {
	Kind models.ErrorKind
	// StatusCode is the HTTP status, when the failure came from a response.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with kind.
func NewError(kind models.ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf classifies any error returned by a Sender. Untyped errors are
// classified as timeouts when a deadline expired and as network failures
// otherwise.
func KindOf(err error) models.ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorKindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return models.ErrorKindTimeout
	}
	return models.ErrorKindNetwork
}

// transportError classifies a failure that happened before any response was
// read.
func transportError(ctx context.Context, err error) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || KindOf(err) == models.ErrorKindTimeout {
		return NewError(models.ErrorKindTimeout, err)
	}
	return NewError(models.ErrorKindNetwork, err)
}
