// Package anthropic adapts the Anthropic Messages API to llm.Generator.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"opnxt/pkg/llm"
	"opnxt/pkg/llmerrors"
)

// Name is the provider identifier.
const Name = "anthropic"

// DefaultModel is used when neither the profile nor the config names one.
const DefaultModel = "claude-sonnet-4-20250514"

// Config configures the client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Client calls Claude through the official SDK.
type Client struct {
	client anthropic.Client
	model  string
}

// New creates a raw client; middleware is applied by the caller.
func New(cfg Config) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// Name implements llm.Generator.
func (c *Client) Name() string {
	return Name
}

// Generate sends the project context as the system prompt and the task as a single user turn.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "prompt is empty")
	}
	profile := req.Profile.WithDefaults()
	model := c.model
	if profile.Model != "" {
		model = profile.Model
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(profile.MaxTokens),
		Temperature: anthropic.Float(float64(profile.Temperature)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.Context != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Context}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.Response{}, &llmerrors.Error{Type: llmerrors.ErrorTypeEmptyResponse, Provider: Name, Message: "empty response from Claude API"}
	}

	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return llm.Response{}, &llmerrors.Error{Type: llmerrors.ErrorTypeEmptyResponse, Provider: Name, Message: "no text blocks in Claude response"}
	}

	return llm.Response{
		Text:             text.String(),
		Provider:         Name,
		Model:            model,
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &llmerrors.Error{
			Type:       llmerrors.FromStatus(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			Provider:   Name,
			Err:        err,
			Message:    fmt.Sprintf("Claude API returned status %d", apiErr.StatusCode),
		}
	}
	return llmerrors.Classify(Name, err)
}
