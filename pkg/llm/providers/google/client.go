// Package google adapts the Gemini API to llm.Generator.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"opnxt/pkg/llm"
	"opnxt/pkg/llmerrors"
)

// Name is the provider identifier.
const Name = "google"

// DefaultModel is used when neither the profile nor the config names one.
const DefaultModel = "gemini-2.5-pro"

// Config configures the client.
type Config struct {
	APIKey string
	Model  string
}

// Client creates the genai client on first use since construction needs a context.
type Client struct {
	client *genai.Client
	apiKey string
	model  string
	mu     sync.Mutex
}

// New creates a raw client; middleware is applied by the caller.
func New(cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{apiKey: cfg.APIKey, model: model}
}

// Name implements llm.Generator.
func (c *Client) Name() string {
	return Name
}

func (c *Client) genaiClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &llmerrors.Error{Type: llmerrors.ErrorTypeAuth, Provider: Name, Err: err, Message: "failed to create Gemini client"}
	}
	c.client = client
	return client, nil
}

// Generate sends context as the system instruction and the task as user content.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	client, err := c.genaiClient(ctx)
	if err != nil {
		return llm.Response{}, err
	}
	profile := req.Profile.WithDefaults()
	model := c.model
	if profile.Model != "" {
		model = profile.Model
	}

	temperature := profile.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(profile.MaxTokens), //nolint:gosec // budget validated by config
	}
	if req.Context != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.Context}}}
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: req.Prompt}}}}

	result, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if result == nil {
		return llm.Response{}, &llmerrors.Error{Type: llmerrors.ErrorTypeEmptyResponse, Provider: Name, Message: "empty response from Gemini API"}
	}
	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return llm.Response{}, &llmerrors.Error{Type: llmerrors.ErrorTypeEmptyResponse, Provider: Name, Message: "no text in Gemini response"}
	}

	return llm.Response{Text: text, Provider: Name, Model: model}, nil
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if status := extractStatusCode(err.Error()); status != 0 {
		return &llmerrors.Error{
			Type:       llmerrors.FromStatus(status),
			StatusCode: status,
			Provider:   Name,
			Err:        err,
			Message:    fmt.Sprintf("Gemini API returned status %d", status),
		}
	}
	return llmerrors.Classify(Name, err)
}

// extractStatusCode finds an HTTP status in the SDK's error text ("Error 429, Message: ...").
func extractStatusCode(errStr string) int {
	for _, code := range []int{400, 401, 403, 404, 408, 429, 500, 502, 503, 504} {
		if strings.Contains(errStr, fmt.Sprintf("Error %d", code)) || strings.Contains(errStr, fmt.Sprintf("status %d", code)) {
			return code
		}
	}
	return 0
}
