package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/abdul-hamid-achik/multivec/internal/fault"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "nomic-embed-text"
	defaultOllamaDims  = 768
	defaultTimeout     = 30 * time.Second
)

// OllamaConfig holds configuration for the Ollama embedding provider.
type OllamaConfig struct {
	URL         string
	Model       string
	Dimensions  int
	Timeout     time.Duration
	BatchSize   int
	Concurrency int
}

// DefaultOllamaConfig returns a default configuration for Ollama.
func DefaultOllamaConfig() OllamaConfig {
	u := os.Getenv("OLLAMA_HOST")
	if u == "" {
		u = defaultOllamaURL
	}
	return OllamaConfig{
		URL:         u,
		Model:       defaultOllamaModel,
		Dimensions:  defaultOllamaDims,
		Timeout:     defaultTimeout,
		BatchSize:   defaultBatchSize,
		Concurrency: defaultConcurrency,
	}
}

// OllamaProvider embeds text with a local Ollama server.
type OllamaProvider struct {
	config OllamaConfig
	client *api.Client
}

// NewOllamaProvider creates a new Ollama embedding provider.
func NewOllamaProvider(cfg OllamaConfig) (*OllamaProvider, error) {
	if cfg.URL == "" {
		cfg.URL = defaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = ModelDimensions(cfg.Model)
		if cfg.Dimensions == 0 {
			cfg.Dimensions = defaultOllamaDims
		}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	cfg.URL = strings.TrimRight(cfg.URL, "/")
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &OllamaProvider{
		config: cfg,
		client: api.NewClient(base, httpClient),
	}, nil
}

// Embed generates an embedding for a single text request.
func (p *OllamaProvider) Embed(ctx context.Context, req Request) ([]float32, error) {
	return single(ctx, p, req)
}

// EmbedBatch generates embeddings for multiple text requests. The /api/embed
// endpoint takes a list of inputs, so chunks go out as single calls.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, reqs []Request) ([][]float32, error) {
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
			resp, err := p.client.Embed(ctx, &api.EmbedRequest{
				Model: p.config.Model,
				Input: texts[lo:hi],
			})
			if err != nil {
				return nil, p.classify(ctx, "embed", err)
			}
			if err := checkVectors(p, "embed", hi-lo, resp.Embeddings); err != nil {
				return nil, err
			}
			return resp.Embeddings, nil
		})
}

func (p *OllamaProvider) classify(ctx context.Context, op string, err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		kind := fault.FromStatus(statusErr.StatusCode)
		// model not pulled
		if strings.Contains(statusErr.ErrorMessage, "not found") {
			kind = fault.InvalidInput
		}
		return fault.New(kind, p.Name(), op, err)
	}
	return fault.Transport(ctx, fault.ProviderUnavailable, p.Name(), op, err)
}

// Name returns "ollama".
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Model returns the name of the embedding model.
func (p *OllamaProvider) Model() string {
	return p.config.Model
}

// Dimensions returns the embedding vector dimensions.
func (p *OllamaProvider) Dimensions() int {
	return p.config.Dimensions
}

// Modalities returns text only.
func (p *OllamaProvider) Modalities() []Modality {
	return []Modality{ModalityText}
}

// Ping checks if Ollama is running.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	if err := p.client.Heartbeat(ctx); err != nil {
		return p.classify(ctx, "ping", err)
	}
	return nil
}
