package embed

import (
	"fmt"
	"strings"
	"time"
)

// ProviderType names an embedding backend.
type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
	ProviderOllama ProviderType = "ollama"
	ProviderTEI    ProviderType = "tei"
)

// Config selects and configures one provider.
type Config struct {
	Provider     ProviderType
	Modality     Modality
	URL          string
	APIKey       string
	Model        string
	Dimensions   int
	Timeout      time.Duration
	BatchSize    int
	Concurrency  int
	ImageDataURI bool
}

// New builds the provider described by cfg.
func New(cfg Config) (Provider, error) {
	if cfg.Modality == "" {
		cfg.Modality = ModalityText
	}

	switch ProviderType(strings.ToLower(string(cfg.Provider))) {
	case ProviderOpenAI:
		if cfg.Modality != ModalityText {
			return nil, fmt.Errorf("openai embeddings do not support %s", cfg.Modality)
		}
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.URL,
			Model:       cfg.Model,
			Dimensions:  cfg.Dimensions,
			Timeout:     cfg.Timeout,
			BatchSize:   cfg.BatchSize,
			Concurrency: cfg.Concurrency,
		}), nil
	case ProviderOllama:
		if cfg.Modality != ModalityText {
			return nil, fmt.Errorf("ollama embeddings do not support %s", cfg.Modality)
		}
		return NewOllamaProvider(OllamaConfig{
			URL:         cfg.URL,
			Model:       cfg.Model,
			Dimensions:  cfg.Dimensions,
			Timeout:     cfg.Timeout,
			BatchSize:   cfg.BatchSize,
			Concurrency: cfg.Concurrency,
		})
	case ProviderTEI, "tei-image":
		return NewTEIProvider(TEIConfig{
			URL:          cfg.URL,
			Model:        cfg.Model,
			Dimensions:   cfg.Dimensions,
			Modality:     cfg.Modality,
			ImageDataURI: cfg.ImageDataURI,
			Timeout:      cfg.Timeout,
			BatchSize:    cfg.BatchSize,
			Concurrency:  cfg.Concurrency,
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// ModelInfo contains information about an embedding model.
type ModelInfo struct {
	Name       string
	Provider   ProviderType
	Modality   Modality
	Dimensions int
	MaxTokens  int
}

// KnownModels returns the embedding models with well-known dimensions.
func KnownModels() []ModelInfo {
	return []ModelInfo{
		{Name: "nomic-embed-text", Provider: ProviderOllama, Modality: ModalityText, Dimensions: 768, MaxTokens: 8192},
		{Name: "mxbai-embed-large", Provider: ProviderOllama, Modality: ModalityText, Dimensions: 1024, MaxTokens: 512},
		{Name: "all-minilm", Provider: ProviderOllama, Modality: ModalityText, Dimensions: 384, MaxTokens: 256},
		{Name: "text-embedding-3-small", Provider: ProviderOpenAI, Modality: ModalityText, Dimensions: 1536, MaxTokens: 8191},
		{Name: "text-embedding-3-large", Provider: ProviderOpenAI, Modality: ModalityText, Dimensions: 3072, MaxTokens: 8191},
		{Name: "text-embedding-ada-002", Provider: ProviderOpenAI, Modality: ModalityText, Dimensions: 1536, MaxTokens: 8191},
		{Name: "nomic-ai/nomic-embed-text-v1.5", Provider: ProviderTEI, Modality: ModalityText, Dimensions: 768, MaxTokens: 8192},
		{Name: "BAAI/bge-base-en-v1.5", Provider: ProviderTEI, Modality: ModalityText, Dimensions: 768, MaxTokens: 512},
		{Name: "nomic-ai/nomic-embed-vision-v1.5", Provider: ProviderTEI, Modality: ModalityImage, Dimensions: 768},
		{Name: "openai/clip-vit-base-patch32", Provider: ProviderTEI, Modality: ModalityImage, Dimensions: 512},
	}
}

// ModelDimensions returns the embedding dimensions for a known model.
// Returns 0 if the model is unknown.
func ModelDimensions(model string) int {
	for _, m := range KnownModels() {
		if m.Name == model {
			return m.Dimensions
		}
	}
	return 0
}
