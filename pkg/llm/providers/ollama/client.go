// Package ollama adapts a local Ollama server to llm.Generator.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"opnxt/pkg/llm"
	"opnxt/pkg/llmerrors"
)

// Name is the provider identifier.
const Name = "ollama"

// DefaultHost is the standard local Ollama endpoint.
const DefaultHost = "http://localhost:11434"

// Config configures the client.
type Config struct {
	Host  string
	Model string
}

// Client wraps the Ollama API client.
type Client struct {
	client *api.Client
	model  string
}

// New creates a raw client; middleware is applied by the caller.
func New(cfg Config) *Client {
	parsedURL, err := url.Parse(cfg.Host)
	if err != nil || cfg.Host == "" {
		parsedURL, _ = url.Parse(DefaultHost)
	}
	return &Client{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  cfg.Model,
	}
}

// Name implements llm.Generator.
func (c *Client) Name() string {
	return Name
}

// Generate runs a non-streaming chat with a system and a user message.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	profile := req.Profile.WithDefaults()
	model := c.model
	if profile.Model != "" {
		model = profile.Model
	}
	if model == "" {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "no Ollama model configured")
	}

	messages := make([]api.Message, 0, 2)
	if req.Context != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.Context})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.Prompt})

	stream := false
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": profile.Temperature,
			"num_predict": profile.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if strings.TrimSpace(response.Message.Content) == "" {
		return llm.Response{}, &llmerrors.Error{Type: llmerrors.ErrorTypeEmptyResponse, Provider: Name, Message: "empty response from Ollama"}
	}

	return llm.Response{
		Text:     response.Message.Content,
		Provider: Name,
		Model:    model,
	}, nil
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return &llmerrors.Error{
			Type:       llmerrors.FromStatus(statusErr.StatusCode),
			StatusCode: statusErr.StatusCode,
			Provider:   Name,
			Err:        err,
			Message:    fmt.Sprintf("Ollama returned status %d", statusErr.StatusCode),
		}
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return &llmerrors.Error{Type: llmerrors.ErrorTypeProvider, Provider: Name, Err: err, Message: "Ollama server not reachable"}
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return &llmerrors.Error{Type: llmerrors.ErrorTypeBadPrompt, Provider: Name, Err: err, Message: "Ollama model not found"}
	default:
		return llmerrors.Classify(Name, err)
	}
}
