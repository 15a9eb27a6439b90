package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/metrics"
)

// Config selects and configures one LLM client.
type Config struct {
	Provider      string
	APIKey        string
	BaseURL       string
	Model         string
	MaxTokens     int
	Temperature   *float64
	Timeout       time.Duration
	DisableVision bool
}

// New builds the client described by cfg.
func New(cfg Config) (Client, error) {
	oc := OpenAIConfig{
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		Model:         cfg.Model,
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.Temperature,
		Timeout:       cfg.Timeout,
		DisableVision: cfg.DisableVision,
	}

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIClient(oc), nil
	case "ollama":
		return NewOllamaClient(oc), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			APIKey:        cfg.APIKey,
			BaseURL:       cfg.BaseURL,
			Model:         cfg.Model,
			MaxTokens:     cfg.MaxTokens,
			Temperature:   cfg.Temperature,
			Timeout:       cfg.Timeout,
			DisableVision: cfg.DisableVision,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

type instrumented struct {
	Client
}

// Instrument wraps c with request, token and latency metrics.
func Instrument(c Client) Client {
	if _, ok := c.(*instrumented); ok {
		return c
	}
	return &instrumented{Client: c}
}

func (i *instrumented) Generate(ctx context.Context, prompt string, image *embed.Image) (*GeneratedText, error) {
	start := time.Now()
	out, err := i.Client.Generate(ctx, prompt, image)

	name := i.Name()
	metrics.LLMDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	metrics.LLMRequests.WithLabelValues(name, metrics.Outcome(err)).Inc()
	if out != nil {
		metrics.LLMTokens.WithLabelValues(name, "prompt").Add(float64(out.Usage.PromptTokens))
		metrics.LLMTokens.WithLabelValues(name, "completion").Add(float64(out.Usage.CompletionTokens))
	}
	return out, err
}
