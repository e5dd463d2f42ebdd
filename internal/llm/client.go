// Package llm synthesizes answers over retrieved context through an
// OpenAI-compatible chat completion endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/claudecontext/islandd/internal/config"
	"github.com/claudecontext/islandd/internal/logging"
	"github.com/claudecontext/islandd/internal/search"
)

var (
	// ErrNotConfigured means no model is configured for synthesis.
	ErrNotConfigured = errors.New("llm not configured")

	// ErrEmptyAnswer means the model returned no usable text. Distinct
	// from a transport failure so callers can fall back to raw results.
	ErrEmptyAnswer = errors.New("llm returned an empty answer")
)

// Citation points an answer fragment back at a retrieved chunk.
type Citation struct {
	Index      int    `json:"index"`
	Dataset    string `json:"dataset"`
	SourcePath string `json:"source_path"`
	StartLine  int    `json:"start_line,omitempty"`
	EndLine    int    `json:"end_line,omitempty"`
}

// Answer is a synthesized response with its supporting citations.
type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
}

// Client drives answer synthesis against a chat model.
type Client struct {
	model  llms.Model
	cfg    config.LLMConfig
	logger *logging.Logger
}

// NewClient builds a client for the configured endpoint. Works against
// OpenAI and any OpenAI-compatible server via the base URL.
func NewClient(cfg config.LLMConfig, logger *logging.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, ErrNotConfigured
	}

	apiKey := cfg.APIKey.Value()
	if apiKey == "" {
		// The client constructor insists on a token even for local
		// servers that ignore it.
		apiKey = "placeholder"
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.APIBase != "" {
		opts = append(opts, openai.WithBaseURL(cfg.APIBase))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}
	return newWithModel(model, cfg, logger), nil
}

func newWithModel(model llms.Model, cfg config.LLMConfig, logger *logging.Logger) *Client {
	return &Client{model: model, cfg: cfg, logger: logger}
}

// citationPattern matches bracketed context references like [1] or [2, 3].
var citationPattern = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

// Answer synthesizes an answer to the question grounded in the given
// search results. Citations are resolved from bracketed references in
// the model output; references outside the context range are dropped.
func (c *Client) Answer(ctx context.Context, question string, results []search.Result) (*Answer, error) {
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no context to answer from")
	}

	prompt := buildPrompt(question, results)
	text, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
		llms.WithMaxTokens(c.cfg.MaxTokens),
		llms.WithTemperature(c.cfg.Temperature),
	)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyAnswer
	}

	answer := &Answer{
		Text:      text,
		Citations: extractCitations(text, results),
	}
	c.logger.Debug(ctx, "answer synthesized",
		zap.Int("context_chunks", len(results)),
		zap.Int("citations", len(answer.Citations)))
	return answer, nil
}

// buildPrompt lays out numbered context blocks followed by the question.
func buildPrompt(question string, results []search.Result) string {
	var b strings.Builder
	b.WriteString("You are answering a question about a codebase using only the context below.\n")
	b.WriteString("Cite supporting context blocks inline with their bracketed numbers, e.g. [1].\n")
	b.WriteString("If the context does not contain the answer, say so.\n\nContext:\n\n")

	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s", i+1, r.SourcePath)
		if r.Dataset != "" {
			fmt.Fprintf(&b, " (dataset %s)", r.Dataset)
		}
		if r.StartLine > 0 {
			fmt.Fprintf(&b, " lines %d-%d", r.StartLine, r.EndLine)
		}
		b.WriteString(":\n")
		b.WriteString(r.Content)
		b.WriteString("\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// extractCitations resolves bracketed references in the answer against
// the 1-based context numbering, deduplicated in first-seen order.
func extractCitations(text string, results []search.Result) []Citation {
	seen := make(map[int]bool)
	var citations []Citation
	for _, match := range citationPattern.FindAllStringSubmatch(text, -1) {
		for _, raw := range strings.Split(match[1], ",") {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || n < 1 || n > len(results) || seen[n] {
				continue
			}
			seen[n] = true
			r := results[n-1]
			citations = append(citations, Citation{
				Index:      n,
				Dataset:    r.Dataset,
				SourcePath: r.SourcePath,
				StartLine:  r.StartLine,
				EndLine:    r.EndLine,
			})
		}
	}
	return citations
}
