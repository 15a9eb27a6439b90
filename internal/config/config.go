// Package config loads multivec settings from YAML files and the environment.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/index"
	"github.com/abdul-hamid-achik/multivec/internal/llm"
	"github.com/abdul-hamid-achik/multivec/internal/logging"
	"github.com/abdul-hamid-achik/multivec/internal/search"
	"github.com/abdul-hamid-achik/multivec/internal/space"
	"github.com/abdul-hamid-achik/multivec/internal/store"
)

const (
	// DefaultDataDir is the default directory name for multivec data
	DefaultDataDir = ".multivec"
	// DefaultDBFile is the bolt database filename inside the data directory
	DefaultDBFile = "vectors.db"
	// DefaultConfigFile is the config filename inside the data directory
	DefaultConfigFile = "config.yaml"
	// ProjectConfigFile is the config filename at the project root
	ProjectConfigFile = "multivec.yaml"
	// EnvPrefix prefixes every environment override, e.g. MULTIVEC_STORE_URL.
	EnvPrefix = "MULTIVEC"
)

// Config holds the application configuration
type Config struct {
	// DataDir holds the bolt database and the project config file
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Collection CollectionConfig `mapstructure:"collection" yaml:"collection"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding" yaml:"embedding"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Spaces     space.Layout     `mapstructure:"spaces" yaml:"spaces"`
	Ingest     IngestConfig     `mapstructure:"ingest" yaml:"ingest"`
	Query      QueryConfig      `mapstructure:"query" yaml:"query"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging    logging.Config   `mapstructure:"logging" yaml:"logging"`

	sources []string
}

// StoreConfig selects the vector store backend.
type StoreConfig struct {
	// Backend is qdrant, bolt or memory
	Backend string `mapstructure:"backend" yaml:"backend"`
	URL     string `mapstructure:"url" yaml:"url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	// Path is the bolt database file; empty means <data_dir>/vectors.db
	Path    string        `mapstructure:"path" yaml:"path"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// CollectionConfig names the collection commands use when none is given.
type CollectionConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Distance string `mapstructure:"distance" yaml:"distance"`
}

// EmbedderConfig configures one embedding provider. An empty provider
// disables the embedder.
type EmbedderConfig struct {
	// Provider is openai, ollama or tei
	Provider     string        `mapstructure:"provider" yaml:"provider"`
	URL          string        `mapstructure:"url" yaml:"url"`
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	Model        string        `mapstructure:"model" yaml:"model"`
	Dimensions   int           `mapstructure:"dimensions" yaml:"dimensions"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	Concurrency  int           `mapstructure:"concurrency" yaml:"concurrency"`
	ImageDataURI bool          `mapstructure:"image_data_uri" yaml:"image_data_uri"`
}

// EmbeddingConfig holds the text and image embedders.
type EmbeddingConfig struct {
	Text  EmbedderConfig `mapstructure:"text" yaml:"text"`
	Image EmbedderConfig `mapstructure:"image" yaml:"image"`
}

// LLMConfig configures the description model. An empty provider disables
// image descriptions.
type LLMConfig struct {
	// Provider is openai, ollama or anthropic
	Provider      string        `mapstructure:"provider" yaml:"provider"`
	URL           string        `mapstructure:"url" yaml:"url"`
	APIKey        string        `mapstructure:"api_key" yaml:"api_key"`
	Model         string        `mapstructure:"model" yaml:"model"`
	MaxTokens     int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature   *float64      `mapstructure:"temperature" yaml:"temperature,omitempty"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	DisableVision bool          `mapstructure:"disable_vision" yaml:"disable_vision"`
}

// IngestConfig holds ingestion, indexing and watch settings.
type IngestConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers"`
	// Describe generates and embeds an LLM description for every image
	Describe       bool          `mapstructure:"describe" yaml:"describe"`
	Prompt         string        `mapstructure:"prompt" yaml:"prompt"`
	IgnorePatterns []string      `mapstructure:"ignore_patterns" yaml:"ignore_patterns"`
	Include        []string      `mapstructure:"include" yaml:"include"`
	MaxFileSize    int64         `mapstructure:"max_file_size" yaml:"max_file_size"`
	Debounce       time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// QueryConfig holds query defaults.
type QueryConfig struct {
	Limit int `mapstructure:"limit" yaml:"limit"`
	// Merge is max, sum or weighted_average[:space=weight,...]
	Merge string `mapstructure:"merge" yaml:"merge"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// MaxUploadBytes caps request bodies carrying images
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// DefaultConfig returns the default configuration: a local bolt store,
// Ollama for text and descriptions, and a TEI CLIP server for images.
func DefaultConfig() *Config {
	idx := index.DefaultIndexerConfig()
	return &Config{
		DataDir: DefaultDataDir,
		Store: StoreConfig{
			Backend: "bolt",
			URL:     "http://localhost:6333",
			Timeout: 30 * time.Second,
		},
		Collection: CollectionConfig{
			Name:     "multivec",
			Distance: string(store.Cosine),
		},
		Embedding: EmbeddingConfig{
			Text: EmbedderConfig{
				Provider:   string(embed.ProviderOllama),
				URL:        "http://localhost:11434",
				Model:      "nomic-embed-text",
				Dimensions: 768,
				Timeout:    30 * time.Second,
				BatchSize:  32,
			},
			Image: EmbedderConfig{
				Provider:   string(embed.ProviderTEI),
				URL:        "http://localhost:8081",
				Model:      "openai/clip-vit-base-patch32",
				Dimensions: 512,
				Timeout:    60 * time.Second,
				BatchSize:  8,
			},
		},
		LLM: LLMConfig{
			Provider:  "ollama",
			URL:       "http://localhost:11434/v1",
			Model:     "llava",
			MaxTokens: 1024,
			Timeout:   120 * time.Second,
		},
		Spaces: space.DefaultLayout(),
		Ingest: IngestConfig{
			Workers:        idx.Workers,
			Describe:       idx.Describe,
			Prompt:         llm.DefaultDescribePrompt,
			IgnorePatterns: idx.IgnorePatterns,
			MaxFileSize:    idx.MaxFileSize,
			Debounce:       index.DefaultWatcherConfig().Debounce,
		},
		Query: QueryConfig{
			Limit: 10,
			Merge: string(search.MergeMax),
		},
		Server: ServerConfig{
			Host:           "localhost",
			Port:           8080,
			RequestTimeout: 5 * time.Minute,
			MaxUploadBytes: 20 << 20,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Sources returns the config files that were loaded, lowest priority first.
func (c *Config) Sources() []string {
	return c.sources
}

// DBPath returns the bolt database path.
func (c *Config) DBPath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, DefaultDBFile)
}

// StoreConfig returns the store factory configuration.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Backend: c.Store.Backend,
		URL:     c.Store.URL,
		APIKey:  c.Store.APIKey,
		Path:    c.DBPath(),
		Timeout: c.Store.Timeout,
	}
}

// Enabled reports whether the embedder is configured.
func (e EmbedderConfig) Enabled() bool {
	return strings.TrimSpace(e.Provider) != ""
}

// EmbedConfig returns the embed factory configuration for modality m.
func (e EmbedderConfig) EmbedConfig(m embed.Modality) embed.Config {
	return embed.Config{
		Provider:     embed.ProviderType(e.Provider),
		Modality:     m,
		URL:          e.URL,
		APIKey:       e.APIKey,
		Model:        e.Model,
		Dimensions:   e.Dimensions,
		Timeout:      e.Timeout,
		BatchSize:    e.BatchSize,
		Concurrency:  e.Concurrency,
		ImageDataURI: e.ImageDataURI,
	}
}

// Enabled reports whether an LLM is configured.
func (l LLMConfig) Enabled() bool {
	return strings.TrimSpace(l.Provider) != ""
}

// ClientConfig returns the llm factory configuration.
func (l LLMConfig) ClientConfig() llm.Config {
	return llm.Config{
		Provider:      l.Provider,
		APIKey:        l.APIKey,
		BaseURL:       l.URL,
		Model:         l.Model,
		MaxTokens:     l.MaxTokens,
		Temperature:   l.Temperature,
		Timeout:       l.Timeout,
		DisableVision: l.DisableVision,
	}
}

// Distance returns the parsed collection distance.
func (c *Config) Distance() (store.Distance, error) {
	return store.ParseDistance(c.Collection.Distance)
}

// MergeRule returns the parsed query merge rule.
func (c *Config) MergeRule() (search.MergeRule, error) {
	return search.ParseMergeRule(c.Query.Merge)
}

// IndexerConfig returns the directory indexer configuration.
func (c *Config) IndexerConfig() index.IndexerConfig {
	return index.IndexerConfig{
		IgnorePatterns: c.Ingest.IgnorePatterns,
		Include:        c.Ingest.Include,
		MaxFileSize:    c.Ingest.MaxFileSize,
		Workers:        c.Ingest.Workers,
		Describe:       c.Ingest.Describe && c.LLM.Enabled(),
		Prompt:         c.Ingest.Prompt,
	}
}

// WatcherConfig returns the file watcher configuration.
func (c *Config) WatcherConfig() index.WatcherConfig {
	w := index.DefaultWatcherConfig()
	w.Debounce = c.Ingest.Debounce
	w.MaxFileSize = c.Ingest.MaxFileSize
	w.IgnorePatterns = append(w.IgnorePatterns, c.Ingest.IgnorePatterns...)
	return w
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Store.Backend) {
	case "qdrant", "bolt", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}

	if !c.Embedding.Text.Enabled() && !c.Embedding.Image.Enabled() {
		errs = append(errs, errors.New("embedding: at least one of text or image must be configured"))
	}
	if c.Embedding.Text.Enabled() {
		errs = append(errs, checkEmbedder("embedding.text", c.Embedding.Text, embed.ModalityText)...)
	}
	if c.Embedding.Image.Enabled() {
		errs = append(errs, checkEmbedder("embedding.image", c.Embedding.Image, embed.ModalityImage)...)
	}

	if c.LLM.Enabled() {
		switch strings.ToLower(c.LLM.Provider) {
		case "openai", "ollama", "anthropic":
		default:
			errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
		}
	}

	if err := c.Spaces.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("spaces: %w", err))
	}
	if _, err := c.Distance(); err != nil {
		errs = append(errs, fmt.Errorf("collection.distance: %w", err))
	}
	if _, err := c.MergeRule(); err != nil {
		errs = append(errs, fmt.Errorf("query.merge: %w", err))
	}
	if c.Query.Limit <= 0 {
		errs = append(errs, errors.New("query.limit: must be positive"))
	}
	if c.Ingest.Workers < 0 {
		errs = append(errs, errors.New("ingest.workers: must not be negative"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	if _, err := logging.New(c.Logging); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	return errors.Join(errs...)
}

func checkEmbedder(key string, e EmbedderConfig, m embed.Modality) []error {
	var errs []error
	switch embed.ProviderType(strings.ToLower(e.Provider)) {
	case embed.ProviderTEI:
	case embed.ProviderOpenAI, embed.ProviderOllama:
		if m == embed.ModalityImage {
			errs = append(errs, fmt.Errorf("%s.provider: %s does not embed images", key, e.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("%s.provider: unknown provider %q", key, e.Provider))
	}
	if e.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("%s.dimensions: must not be negative", key))
	}
	return errs
}
