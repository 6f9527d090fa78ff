// Package keyword assigns a single topic label to free text via the Gemini
// API. Enrichment is best-effort metadata: every failure mode degrades to
// domain.DefaultKeyword and is never surfaced to callers.
package keyword

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"activity_fetcher/internal/config"
	"activity_fetcher/internal/domain"
)

const callTimeout = 45 * time.Second

// generator is the minimal LLM surface the client needs. Tests stub it.
type generator interface {
	generate(ctx context.Context, prompt string) (string, error)
}

type Client struct {
	gen generator
	// limiter is shared across all callers: the remote quota is per process,
	// not per adapter.
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewClient(ctx context.Context, cfg config.GeminiConfig, logger *slog.Logger) *Client {
	c := &Client{
		limiter: rate.NewLimiter(rate.Every(cfg.Delay), 1),
		logger:  logger.With("component", "keyword"),
	}

	if cfg.APIKey == "" {
		c.logger.Warn("gemini api key not set, classification falls back to default keyword")
		return c
	}

	gen, err := newGeminiGenerator(ctx, cfg)
	if err != nil {
		c.logger.Error("gemini client init failed, falling back to default keyword", "error", err)
		return c
	}
	c.gen = gen

	return c
}

// Classify assigns one keyword to text. It blocks on the shared rate limiter,
// bounds the remote call, and returns domain.DefaultKeyword on any failure.
func (c *Client) Classify(ctx context.Context, text string) domain.Keyword {
	if c.gen == nil || strings.TrimSpace(text) == "" {
		return domain.DefaultKeyword
	}

	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Warn("rate limiter wait aborted", "error", err)
		return domain.DefaultKeyword
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	answer, err := c.gen.generate(callCtx, classifyPrompt(text))
	if err != nil {
		c.logger.Warn("classification call failed", "error", err)
		return domain.DefaultKeyword
	}

	label := strings.Trim(strings.TrimSpace(answer), `"`)
	if !domain.ValidKeyword(label) {
		c.logger.Warn("classification returned label outside allowed set", "label", label)
		return domain.DefaultKeyword
	}

	return domain.Keyword(label)
}

func classifyPrompt(text string) string {
	labels := make([]string, len(domain.Keywords))
	for i, k := range domain.Keywords {
		labels[i] = string(k)
	}

	return fmt.Sprintf(`Read the following activity description and choose the most appropriate keyword from the provided list.
Only output one keyword, exactly as it appears in the list. Do not add any extra words or punctuation.

Activity description:
%s

Keyword list:
%s`, text, strings.Join(labels, ", "))
}

type geminiGenerator struct {
	client *genai.Client
	model  string
}

func newGeminiGenerator(ctx context.Context, cfg config.GeminiConfig) (*geminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &geminiGenerator{client: client, model: cfg.Model}, nil
}

func (g *geminiGenerator) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(
			"Choose one of the keywords given that best describes the activity.", genai.RoleUser),
		Temperature: genai.Ptr[float32](0.1),
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	return resp.Text(), nil
}
