package llm

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/fault"
	"github.com/abdul-hamid-achik/multivec/internal/version"
)

const (
	defaultOpenAIURL       = "https://api.openai.com/v1"
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultOllamaURL       = "http://localhost:11434/v1"
	defaultOllamaModel     = "llava"
	defaultOpenAIMaxTokens = 1024
	defaultTimeout         = 120 * time.Second
)

// OpenAIConfig configures a chat-completions client.
type OpenAIConfig struct {
	// Name labels the client in errors and metrics; "openai" when empty.
	Name        string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature *float64
	Timeout     time.Duration
	// DisableVision rejects image inputs before any request is made.
	DisableVision bool
}

// OpenAIClient generates text through an OpenAI-compatible chat completions API.
type OpenAIClient struct {
	config OpenAIConfig
	client openai.Client
}

// NewOpenAIClient creates a chat client for OpenAI.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaultOpenAIURL
		}
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultOpenAIMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL+"/"),
		option.WithMaxRetries(0),
		option.WithHeader("User-Agent", version.UserAgent()),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	return &OpenAIClient{config: cfg, client: client}
}

// NewOllamaClient creates a chat client for Ollama's OpenAI-compatible endpoint.
func NewOllamaClient(cfg OpenAIConfig) *OpenAIClient {
	cfg.Name = "ollama"
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
		if host := os.Getenv("OLLAMA_HOST"); host != "" {
			cfg.BaseURL = strings.TrimRight(host, "/") + "/v1"
		}
	}
	if cfg.APIKey == "" {
		// Ollama ignores the key but the client insists on one.
		cfg.APIKey = "ollama"
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	return NewOpenAIClient(cfg)
}

// Generate returns a single chat completion.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, image *embed.Image) (*GeneratedText, error) {
	if err := checkInput(c, prompt, image); err != nil {
		return nil, err
	}

	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(prompt)}
	if image != nil {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: image.DataURI(),
		}))
	}

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(c.config.Model),
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
		MaxTokens: openai.Int(int64(c.config.MaxTokens)),
	}
	if c.config.Temperature != nil {
		params.Temperature = openai.Float(*c.config.Temperature)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fault.New(fault.FromStatus(apiErr.StatusCode), c.Name(), "generate", err)
		}
		return nil, classifyRoundTrip(ctx, c, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fault.Newf(fault.UnexpectedResponse, c.Name(), "generate", "no choices returned")
	}

	model := completion.Model
	if model == "" {
		model = c.config.Model
	}
	return checkOutput(c, &GeneratedText{
		Text:     completion.Choices[0].Message.Content,
		Provider: c.Name(),
		Model:    model,
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	})
}

func (c *OpenAIClient) Name() string {
	return c.config.Name
}

func (c *OpenAIClient) Model() string {
	return c.config.Model
}

func (c *OpenAIClient) Vision() bool {
	return !c.config.DisableVision
}
