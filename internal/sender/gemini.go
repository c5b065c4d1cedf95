package sender

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/gasnelio/internal/models"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiSender answers prompts with a Gemini model, using the persona's
// system prompt as the system instruction.
type GeminiSender struct {
	client *genai.Client
	model  string
}

// NewGeminiSender creates a client for the Gemini API.
func NewGeminiSender(ctx context.Context, apiKey, model string) (*GeminiSender, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiSender{client: client, model: model}, nil
}

// Send generates an answer for req.
func (g *GeminiSender) Send(ctx context.Context, req Request) (Reply, error) {
	var cfg *genai.GenerateContentConfig
	if req.SystemPrompt != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(buildPrompt(req)), cfg)
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, transportError(ctx, err)
		}
		return Reply{}, NewError(models.ErrorKindServerError, fmt.Errorf("generate content: %w", err))
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Reply{}, NewError(models.ErrorKindInvalidResponse, errors.New("model returned no text"))
	}
	return Reply{Content: text, Persona: req.Persona}, nil
}

// buildPrompt adds the detected sentiment and related terms to the user's
// question.
func buildPrompt(req Request) string {
	var b strings.Builder
	if req.Sentiment != "" && req.Sentiment != models.SentimentNeutral {
		fmt.Fprintf(&b, "[sentimento do usuário: %s]\n", req.Sentiment)
	}
	if len(req.ContextTerms) > 0 {
		fmt.Fprintf(&b, "[termos relacionados: %s]\n", strings.Join(req.ContextTerms, ", "))
	}
	b.WriteString(req.Text)
	return b.String()
}
