// Package openai adapts the OpenAI Responses API to llm.Generator.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"opnxt/pkg/llm"
	"opnxt/pkg/llmerrors"
)

// Name is the provider identifier.
const Name = "openai"

// DefaultModel is used when neither the profile nor the config names one.
const DefaultModel = "gpt-5"

// Config configures the client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Client calls the Responses API through the official SDK.
//
//nolint:govet // Simple struct, field alignment not critical
type Client struct {
	client openai.Client
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
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Name implements llm.Generator.
func (c *Client) Name() string {
	return Name
}

// Generate sends context and task as one input string, the way the Responses API expects.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "prompt is empty")
	}
	profile := req.Profile.WithDefaults()
	model := c.model
	if profile.Model != "" {
		model = profile.Model
	}

	var input strings.Builder
	if req.Context != "" {
		fmt.Fprintf(&input, "System: %s\n\n", req.Context)
	}
	input.WriteString(req.Prompt)

	params := responses.ResponseNewParams{
		Model:           model,
		MaxOutputTokens: openai.Int(int64(profile.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input.String())},
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if resp == nil {
		return llm.Response{}, &llmerrors.Error{Type: llmerrors.ErrorTypeEmptyResponse, Provider: Name, Message: "empty response from OpenAI Responses API"}
	}

	text := resp.OutputText()
	if strings.TrimSpace(text) == "" {
		return llm.Response{}, &llmerrors.Error{Type: llmerrors.ErrorTypeEmptyResponse, Provider: Name, Message: "no output text in OpenAI response"}
	}

	return llm.Response{
		Text:             text,
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
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &llmerrors.Error{
			Type:       llmerrors.FromStatus(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			Provider:   Name,
			Err:        err,
			Message:    fmt.Sprintf("OpenAI API returned status %d", apiErr.StatusCode),
		}
	}
	return llmerrors.Classify(Name, err)
}
