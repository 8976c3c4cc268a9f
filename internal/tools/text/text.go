// Package text implements the text_process tool, a side-effect-free
// reference for extending the agent with custom tools.
package text

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jkaninda/ngao/internal/security"
	"github.com/jkaninda/ngao/internal/tools"
)

// Tool computes basic statistics over a piece of text.
type Tool struct {
	logger *slog.Logger
}

// NewTool creates the text processing tool.
func NewTool(logger *slog.Logger) *Tool {
	return &Tool{logger: logger}
}

func (t *Tool) Name() string { return "text_process" }
func (t *Tool) Description() string {
	return "Analyze text: word count, character count, average word length, and an uppercased copy"
}
func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string", "description": "The text to analyze"},
		},
		"required": []string{"text"},
	}
}

func (t *Tool) SecurityLevel() security.Level { return security.LevelLow }
func (t *Tool) Timeout() time.Duration        { return tools.DefaultTimeout }

func (t *Tool) Validate(params map[string]any) error {
	_, err := requireString(params, "text")
	return err
}

// Execute analyzes the text. Lengths count runes, not bytes, so
// multi-byte input reports what a reader would count.
func (t *Tool) Execute(ctx context.Context, _ *security.SecurityContext, params map[string]any) (*tools.Result, error) {
	text, _ := requireString(params, "text")

	words := strings.Fields(text)
	chars := utf8.RuneCountInString(text)

	var avg float64
	if len(words) > 0 {
		avg = float64(chars) / float64(len(words))
	}

	stats := map[string]any{
		"word_count":          len(words),
		"character_count":     chars,
		"average_word_length": avg,
		"processed_text":      strings.ToUpper(text),
	}

	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rendering stats: %w", err)
	}

	t.logger.DebugContext(ctx, "text_process completed",
		slog.Int("word_count", len(words)),
		slog.Int("character_count", chars),
	)

	return &tools.Result{
		Output:  tools.TruncateOutput(string(out), tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"word_count":      len(words),
			"character_count": chars,
		},
	}, nil
}

func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	if s == "" {
		return "", fmt.Errorf("parameter %s must not be empty", key)
	}
	return s, nil
}
