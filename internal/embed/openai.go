package embed

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/abdul-hamid-achik/multivec/internal/fault"
	"github.com/abdul-hamid-achik/multivec/internal/version"
)

const (
	defaultOpenAIURL     = "https://api.openai.com/v1"
	defaultOpenAIModel   = "text-embedding-3-small"
	defaultOpenAIDims    = 1536
	defaultOpenAITimeout = 60 * time.Second
	openAIMaxBatchSize   = 2048 // OpenAI accepts up to 2048 inputs per request
)

// OpenAIConfig holds configuration for the OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	Dimensions  int
	BaseURL     string
	Timeout     time.Duration
	BatchSize   int
	Concurrency int
}

// DefaultOpenAIConfig returns a default configuration for OpenAI.
func DefaultOpenAIConfig() OpenAIConfig {
	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}

	return OpenAIConfig{
		APIKey:      os.Getenv("OPENAI_API_KEY"),
		Model:       defaultOpenAIModel,
		Dimensions:  defaultOpenAIDims,
		BaseURL:     baseURL,
		Timeout:     defaultOpenAITimeout,
		BatchSize:   openAIMaxBatchSize,
		Concurrency: defaultConcurrency,
	}
}

// OpenAIProvider embeds text through the OpenAI embeddings API or any
// server that speaks it.
type OpenAIProvider struct {
	config OpenAIConfig
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = ModelDimensions(cfg.Model)
		if cfg.Dimensions == 0 {
			cfg.Dimensions = defaultOpenAIDims
		}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultOpenAITimeout
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > openAIMaxBatchSize {
		cfg.BatchSize = openAIMaxBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL+"/"),
		option.WithMaxRetries(0),
		option.WithHeader("User-Agent", version.UserAgent()),
		option.WithHTTPClient(&http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		}),
	)

	return &OpenAIProvider{config: cfg, client: client}
}

// Embed generates an embedding for a single text request.
func (p *OpenAIProvider) Embed(ctx context.Context, req Request) ([]float32, error) {
	return single(ctx, p, req)
}

// EmbedBatch generates embeddings for multiple text requests.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, reqs []Request) ([][]float32, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if err := checkRequests(p, "embed", reqs); err != nil {
		return nil, err
	}

	texts := make([]string, len(reqs))
	for i, r := range reqs {
		texts[i] = r.Text
	}

	return fanOut(ctx, len(texts), p.config.BatchSize, p.config.Concurrency,
		func(ctx context.Context, lo, hi int) ([][]float32, error) {
			return p.embedTexts(ctx, texts[lo:hi])
		})
}

func (p *OpenAIProvider) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openai.EmbeddingModel(p.config.Model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	// Only the text-embedding-3 family accepts a dimensions override.
	if strings.HasPrefix(p.config.Model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(p.config.Dimensions))
	}

	res, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, p.classify(ctx, err)
	}

	vecs := make([][]float32, len(texts))
	for _, data := range res.Data {
		if data.Index < 0 || int(data.Index) >= len(texts) {
			return nil, fault.Newf(fault.UnexpectedResponse, p.Name(), "embed", "invalid embedding index %d", data.Index)
		}
		vecs[data.Index] = toFloat32(data.Embedding)
	}
	if err := checkVectors(p, "embed", len(texts), vecs); err != nil {
		return nil, err
	}
	return vecs, nil
}

func (p *OpenAIProvider) classify(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fault.New(fault.FromStatus(apiErr.StatusCode), p.Name(), "embed", err)
	}
	return fault.Transport(ctx, fault.ProviderUnavailable, p.Name(), "embed", err)
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Model returns the name of the embedding model.
func (p *OpenAIProvider) Model() string {
	return p.config.Model
}

// Dimensions returns the embedding vector dimensions.
func (p *OpenAIProvider) Dimensions() int {
	return p.config.Dimensions
}

// Modalities returns text only.
func (p *OpenAIProvider) Modalities() []Modality {
	return []Modality{ModalityText}
}

// Ping embeds a short string to verify the key and model.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	_, err := p.Embed(ctx, TextRequest("ping"))
	return err
}
