package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/hyperjump/gasnelio/pkg/utils"
	"go.uber.org/zap"
)

// maxResponseBytes bounds how much of a reply body is read.
const maxResponseBytes = 1 << 20

// maxErrorBodyRunes bounds how much of an error body ends up in the error.
const maxErrorBodyRunes = 200

// HTTPSender posts requests as JSON to a chat endpoint.
//
// Request body:  {"question", "persona", "sentiment", "context_terms"}
// Response body: {"answer", "persona"}
type HTTPSender struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// HTTPOption configures an HTTPSender.
type HTTPOption func(*HTTPSender)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSender) {
		if c != nil {
			s.client = c
		}
	}
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(s *HTTPSender) {
		s.apiKey = key
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) HTTPOption {
	return func(s *HTTPSender) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewHTTPSender returns a sender for endpoint.
func NewHTTPSender(endpoint string, opts ...HTTPOption) (*HTTPSender, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("sender endpoint is required")
	}
	s := &HTTPSender{
		endpoint: endpoint,
		// The caller's context carries the per-message timeout; this one
		// only guards against a stuck connection.
		client: &http.Client{Timeout: 2 * time.Minute},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Send posts req and decodes the reply.
func (s *HTTPSender) Send(ctx context.Context, req Request) (Reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Reply{}, NewError(models.ErrorKindInvalidResponse, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, NewError(models.ErrorKindNetwork, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Reply{}, transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Reply{}, transportError(ctx, fmt.Errorf("read response: %w", err))
	}
	s.logger.Debug("chat endpoint responded",
		zap.Int("status", resp.StatusCode),
		zap.String("persona", string(req.Persona)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 400 {
		return Reply{}, &Error{
			Kind:       models.ErrorKindServerError,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("endpoint returned %s", strings.TrimSpace(utils.Truncate(string(body), maxErrorBodyRunes))),
		}
	}

	var reply Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return Reply{}, &Error{Kind: models.ErrorKindInvalidResponse, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if strings.TrimSpace(reply.Content) == "" {
		return Reply{}, &Error{Kind: models.ErrorKindInvalidResponse, StatusCode: resp.StatusCode, Err: errors.New("empty answer")}
	}
	if !reply.Persona.Valid() {
		reply.Persona = req.Persona
	}
	return reply, nil
}
