// Package classify matches invoice text to a chart of accounts by asking the
// Anthropic Messages API for a single classified row.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"invoiceapi/coaxlsx"
	"invoiceapi/domain"
)

const defaultModel = "claude-3-opus-20240229"

// systemPrompt pins the response shape so ExtractFirstJSON has something
// predictable to work with.
const systemPrompt = `You are a financial analysis assistant. When producing JSON output:
1. Always enclose the entire JSON in a code block with ` + "```json and ```" + ` markers
2. Ensure the JSON is well-formed and valid
3. Provide a single JSON object, not an array of objects
4. Follow the exact schema requested by the user`

type Client struct {
	api         anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

// NewClientFromEnv builds a Client from ANTHROPIC_API_KEY (required),
// CLAUDE_MODEL and CLAUDE_MAX_TOKENS.
func NewClientFromEnv() (*Client, error) {
	key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if key == "" {
		return nil, errors.New("ANTHROPIC_API_KEY is not set")
	}
	model := strings.TrimSpace(os.Getenv("CLAUDE_MODEL"))
	if model == "" {
		model = defaultModel
	}
	maxTokens := int64(4000)
	if raw := strings.TrimSpace(os.Getenv("CLAUDE_MAX_TOKENS")); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			maxTokens = n
		}
	}
	return &Client{
		api:         anthropic.NewClient(option.WithAPIKey(key)),
		model:       anthropic.Model(model),
		maxTokens:   maxTokens,
		temperature: 0,
	}, nil
}

// Classify sends the invoice text and COA context to the model and returns
// one classified row covering every COA column. The call is long-running;
// cancellation comes from ctx only.
func (c *Client) Classify(ctx context.Context, table *coaxlsx.Table, structure *coaxlsx.Structure, invoiceText string) (domain.Classification, error) {
	prompt := BuildPrompt(table, structure, invoiceText)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude call failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	responseText := sb.String()
	slog.Debug("claude response received", "chars", len(responseText))

	item, err := ExtractFirstJSON(responseText)
	if err != nil {
		return nil, fmt.Errorf("claude response had no usable JSON: %w", err)
	}

	out := make(domain.Classification, len(structure.Columns))
	for _, col := range structure.Columns {
		value := ""
		if v, ok := item[col]; ok && v != nil {
			value = fmt.Sprint(v)
		}
		if p, ok := structure.Patterns[col]; ok {
			value = FormatValue(p, value)
		}
		out[col] = value
	}
	return out, nil
}
