// Package llm defines the generator boundary: the request/response types every provider speaks,
// and the middleware chain that adds timeout, retry, circuit breaking and metrics around them.
package llm

import (
	"context"
)

const (
	// DefaultMaxTokens is the output budget used when a profile does not set one.
	DefaultMaxTokens = 4096

	// TemperatureDefault keeps document drafting focused while allowing some variation.
	TemperatureDefault = 0.3
)

// Profile is an agent's generator preference.
type Profile struct {
	Provider    string  `json:"provider,omitempty" yaml:"provider"`
	Model       string  `json:"model,omitempty" yaml:"model"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens"`
	Temperature float32 `json:"temperature,omitempty" yaml:"temperature"`
}

// WithDefaults fills unset budget fields.
func (p Profile) WithDefaults() Profile {
	if p.MaxTokens <= 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	if p.Temperature <= 0 {
		p.Temperature = TemperatureDefault
	}
	return p
}

// Request is one generation call.
type Request struct {
	Prompt   string   // Task for this call: agent instructions plus user input
	Context  string   // Rendered project context, sent as system text
	Title    string   // Document being drafted
	Sections []string // Required headings, in order
	Profile  Profile  // Model and budget preference
}

// Response is the generated text and its accounting.
type Response struct {
	Text             string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Generator turns a prompt plus context into document text.
// Implementations return *llmerrors.Error for classified failures.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)

	// Name identifies the provider for logs and metrics.
	Name() string
}
