package llm

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/fault"
	"github.com/abdul-hamid-achik/multivec/internal/version"
)

const (
	defaultAnthropicURL       = "https://api.anthropic.com"
	defaultAnthropicModel     = "claude-3-5-sonnet-latest"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicConfig configures the Messages API client.
type AnthropicConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	MaxTokens     int
	Temperature   *float64
	Timeout       time.Duration
	DisableVision bool
}

// AnthropicClient generates text through the Anthropic Messages API.
type AnthropicClient struct {
	config AnthropicConfig
	client anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("ANTHROPIC_BASE_URL")
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaultAnthropicURL
		}
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultAnthropicMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL+"/"),
		option.WithMaxRetries(0),
		option.WithHeader("User-Agent", version.UserAgent()),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	return &AnthropicClient{config: cfg, client: client}
}

// Generate returns a single message completion.
func (c *AnthropicClient) Generate(ctx context.Context, prompt string, image *embed.Image) (*GeneratedText, error) {
	if err := checkInput(c, prompt, image); err != nil {
		return nil, err
	}

	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(prompt)}
	if image != nil {
		blocks = append(blocks, anthropic.NewImageBlockBase64(image.ContentType(), image.Base64()))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: int64(c.config.MaxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if c.config.Temperature != nil {
		params.Temperature = anthropic.Float(*c.config.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, fault.New(fault.FromStatus(apiErr.StatusCode), c.Name(), "generate", err)
		}
		return nil, classifyRoundTrip(ctx, c, err)
	}
	if len(msg.Content) == 0 {
		return nil, fault.Newf(fault.UnexpectedResponse, c.Name(), "generate", "no content returned")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	model := string(msg.Model)
	if model == "" {
		model = c.config.Model
	}
	return checkOutput(c, &GeneratedText{
		Text:     sb.String(),
		Provider: c.Name(),
		Model:    model,
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	})
}

func (c *AnthropicClient) Name() string {
	return "anthropic"
}

func (c *AnthropicClient) Model() string {
	return c.config.Model
}

func (c *AnthropicClient) Vision() bool {
	return !c.config.DisableVision
}
