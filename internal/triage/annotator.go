package triage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"

	"github.com/pitbosshq/pitboss/internal/types"
)

const (
	// DefaultModel is the annotation model. Triage notes are a simple
	// extraction task, so the cost-efficient tier is the default.
	DefaultModel = "claude-3-5-haiku-20241022"

	// annotateTimeout bounds a single annotation call
	annotateTimeout = 30 * time.Second

	// maxContextChars is the per-sample tail kept when building the prompt
	maxContextChars = 1200
)

// GetModel returns the annotation model, checking PITBOSS_TRIAGE_MODEL
// env var first
func GetModel() string {
	if model := os.Getenv("PITBOSS_TRIAGE_MODEL"); model != "" {
		return model
	}
	return DefaultModel
}

// Annotator produces short advisory notes for proposed error patterns.
// Annotations never gate approval or dispatch decisions; callers treat
// any error as "no annotation".
type Annotator struct {
	client *anthropic.Client
	model  string
	sem    *semaphore.Weighted
}

// Config holds annotator configuration
type Config struct {
	APIKey string // Anthropic API key (if empty, reads from ANTHROPIC_API_KEY env var)
	Model  string // Model to use (default: claude-3-5-haiku-20241022)
}

// NewAnnotator creates an annotation client
func NewAnnotator(cfg *Config) (*Annotator, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetModel()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Annotator{
		client: &client,
		model:  model,
		// One in-flight call: annotation is interactive review garnish,
		// never worth competing with the supervisor for resources.
		sem: semaphore.NewWeighted(1),
	}, nil
}

// Annotate returns a short plain-text note for a proposed pattern:
// probable cause plus a suggested severity and action. The pattern's
// sampled contexts drive the assessment.
func (a *Annotator) Annotate(ctx context.Context, pattern *types.ErrorPattern) (string, error) {
	if pattern == nil {
		return "", fmt.Errorf("pattern is required")
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("annotation slot: %w", err)
	}
	defer a.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, annotateTimeout)
	defer cancel()

	prompt := buildPrompt(pattern)

	resp, err := a.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	annotation := firstParagraph(strings.TrimSpace(text.String()))
	if annotation == "" {
		return "", fmt.Errorf("empty annotation response")
	}
	return annotation, nil
}

// buildPrompt builds the annotation prompt from the pattern and its
// sampled log contexts
func buildPrompt(pattern *types.ErrorPattern) string {
	var contexts strings.Builder
	for i, c := range pattern.Contexts {
		fmt.Fprintf(&contexts, "--- Sample %d ---\n%s\n", i+1, truncateTail(c, maxContextChars))
	}
	if contexts.Len() == 0 {
		contexts.WriteString("(no samples recorded)\n")
	}

	return fmt.Sprintf(`You are triaging an error signature observed in the log stream of a supervised worker process. A human reviewer will decide whether to approve it as a known error pattern.

Error key: %s
Occurrences so far: %d

Recent log context around each occurrence:
%s
In one short paragraph (2-3 sentences, plain text, no markdown), state the probable cause and suggest a severity (P0 = page someone, P1 = needs attention, P2 = informational) and whether it warrants escalating a bug report. Be specific about what the log evidence shows; if the evidence is ambiguous, say so.`,
		pattern.Pattern,
		pattern.OccurrenceCount,
		contexts.String())
}

// firstParagraph cuts a response down to its first paragraph
func firstParagraph(s string) string {
	if idx := strings.Index(s, "\n\n"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// truncateTail keeps the last maxLen characters of a string. The tail
// of a log window carries the error line itself.
func truncateTail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}
