// Package llm generates text, optionally conditioned on an image, through
// hosted or local language models.
package llm

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/fault"
)

// DefaultDescribePrompt is used when no prompt is configured for image descriptions.
const DefaultDescribePrompt = "What is in the image?"

var (
	ErrEmptyPrompt = errors.New("prompt must not be empty")
	ErrNoVision    = errors.New("model does not accept images")
	ErrEmptyOutput = errors.New("model returned no text")
)

// Usage is token accounting reported by the provider. Zero when unreported.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GeneratedText is one completion.
type GeneratedText struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Usage    Usage  `json:"usage"`
}

// Client produces a single completion for a prompt.
type Client interface {
	// Generate returns one completion. image may be nil.
	Generate(ctx context.Context, prompt string, image *embed.Image) (*GeneratedText, error)

	Name() string
	Model() string
	// Vision reports whether Generate accepts an image.
	Vision() bool
}

func checkInput(c Client, prompt string, image *embed.Image) error {
	if strings.TrimSpace(prompt) == "" {
		return fault.New(fault.InvalidInput, c.Name(), "generate", ErrEmptyPrompt)
	}
	if image == nil {
		return nil
	}
	if !c.Vision() {
		return fault.New(fault.InvalidInput, c.Name(), "generate", ErrNoVision)
	}
	if len(image.Data) == 0 {
		return fault.New(fault.InvalidInput, c.Name(), "generate", embed.ErrEmptyImage)
	}
	return nil
}

// checkOutput rejects completions with nothing to embed.
func checkOutput(c Client, out *GeneratedText) (*GeneratedText, error) {
	if strings.TrimSpace(out.Text) == "" {
		return nil, fault.New(fault.UnexpectedResponse, c.Name(), "generate", ErrEmptyOutput)
	}
	return out, nil
}

// classifyRoundTrip maps an SDK error that carries no HTTP status. Failed
// round trips mean the provider was unreachable; anything else is a reply
// the SDK could not decode.
func classifyRoundTrip(ctx context.Context, c Client, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) || ctx.Err() != nil {
		return fault.Transport(ctx, fault.ProviderUnavailable, c.Name(), "generate", err)
	}
	return fault.New(fault.UnexpectedResponse, c.Name(), "generate", err)
}
