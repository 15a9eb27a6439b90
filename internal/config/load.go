package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Paths returns the config files read for projectDir, lowest priority first.
func Paths(projectDir string) []string {
	return []string{
		filepath.Join(projectDir, ProjectConfigFile),
		filepath.Join(projectDir, DefaultDataDir, DefaultConfigFile),
	}
}

// Load resolves the configuration for projectDir.
// Resolution order (highest to lowest priority):
// 1. Environment variables (MULTIVEC_*, e.g. MULTIVEC_EMBEDDING_TEXT_MODEL)
// 2. Project .multivec/config.yaml
// 3. Project root multivec.yaml
// 4. Built-in defaults
//
// Provider credentials left empty fall back to OPENAI_API_KEY,
// ANTHROPIC_API_KEY and OLLAMA_HOST.
func Load(projectDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	for key, value := range DefaultConfig().settings() {
		v.SetDefault(key, value)
	}
	_ = v.BindEnv("llm.temperature")

	var sources []string
	for _, path := range Paths(projectDir) {
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		err = v.MergeConfig(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		sources = append(sources, path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.sources = sources
	cfg.applyFallbacks(os.Getenv)

	// Update paths relative to project directory
	if projectDir != "" {
		if !filepath.IsAbs(cfg.DataDir) {
			cfg.DataDir = filepath.Join(projectDir, cfg.DataDir)
		}
		if cfg.Store.Path != "" && !filepath.IsAbs(cfg.Store.Path) {
			cfg.Store.Path = filepath.Join(projectDir, cfg.Store.Path)
		}
	}

	return cfg, nil
}

// applyFallbacks fills provider credentials and hosts from the variables
// the provider SDKs conventionally read.
func (c *Config) applyFallbacks(getenv func(string) string) {
	host := ollamaHost(getenv("OLLAMA_HOST"))

	for _, e := range []*EmbedderConfig{&c.Embedding.Text, &c.Embedding.Image} {
		switch strings.ToLower(e.Provider) {
		case "openai":
			if e.APIKey == "" {
				e.APIKey = getenv("OPENAI_API_KEY")
			}
		case "ollama":
			if host != "" && (e.URL == "" || e.URL == DefaultConfig().Embedding.Text.URL) {
				e.URL = host
			}
		}
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "openai":
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = getenv("OPENAI_API_KEY")
		}
	case "anthropic":
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = getenv("ANTHROPIC_API_KEY")
		}
	case "ollama":
		if host != "" && (c.LLM.URL == "" || c.LLM.URL == DefaultConfig().LLM.URL) {
			c.LLM.URL = strings.TrimSuffix(host, "/") + "/v1"
		}
	}
}

// ollamaHost normalizes OLLAMA_HOST, which may omit the scheme.
func ollamaHost(h string) string {
	h = strings.TrimSpace(h)
	if h == "" || strings.Contains(h, "://") {
		return h
	}
	return "http://" + h
}

// settings flattens the configuration into viper keys. Durations are
// written as strings so files stay readable.
func (c *Config) settings() map[string]any {
	s := map[string]any{
		"data_dir": c.DataDir,

		"store.backend": c.Store.Backend,
		"store.url":     c.Store.URL,
		"store.api_key": c.Store.APIKey,
		"store.path":    c.Store.Path,
		"store.timeout": c.Store.Timeout.String(),

		"collection.name":     c.Collection.Name,
		"collection.distance": c.Collection.Distance,

		"llm.provider":       c.LLM.Provider,
		"llm.url":            c.LLM.URL,
		"llm.api_key":        c.LLM.APIKey,
		"llm.model":          c.LLM.Model,
		"llm.max_tokens":     c.LLM.MaxTokens,
		"llm.timeout":        c.LLM.Timeout.String(),
		"llm.disable_vision": c.LLM.DisableVision,

		"spaces.image":       c.Spaces.Image,
		"spaces.text":        c.Spaces.Text,
		"spaces.description": c.Spaces.Description,

		"ingest.workers":         c.Ingest.Workers,
		"ingest.describe":        c.Ingest.Describe,
		"ingest.prompt":          c.Ingest.Prompt,
		"ingest.ignore_patterns": c.Ingest.IgnorePatterns,
		"ingest.include":         c.Ingest.Include,
		"ingest.max_file_size":   c.Ingest.MaxFileSize,
		"ingest.debounce":        c.Ingest.Debounce.String(),

		"query.limit": c.Query.Limit,
		"query.merge": c.Query.Merge,

		"server.host":             c.Server.Host,
		"server.port":             c.Server.Port,
		"server.request_timeout":  c.Server.RequestTimeout.String(),
		"server.max_upload_bytes": c.Server.MaxUploadBytes,

		"logging.level":  c.Logging.Level,
		"logging.format": c.Logging.Format,
	}
	if c.LLM.Temperature != nil {
		s["llm.temperature"] = *c.LLM.Temperature
	}
	for name, e := range map[string]EmbedderConfig{"text": c.Embedding.Text, "image": c.Embedding.Image} {
		prefix := "embedding." + name + "."
		s[prefix+"provider"] = e.Provider
		s[prefix+"url"] = e.URL
		s[prefix+"api_key"] = e.APIKey
		s[prefix+"model"] = e.Model
		s[prefix+"dimensions"] = e.Dimensions
		s[prefix+"timeout"] = e.Timeout.String()
		s[prefix+"batch_size"] = e.BatchSize
		s[prefix+"concurrency"] = e.Concurrency
		s[prefix+"image_data_uri"] = e.ImageDataURI
	}
	return s
}

// nest turns flat dotted keys into nested maps for YAML output.
func nest(flat map[string]any) map[string]any {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := map[string]any{}
	for _, key := range keys {
		parts := strings.Split(key, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			child, ok := m[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				m[p] = child
			}
			m = child
		}
		m[parts[len(parts)-1]] = flat[key]
	}
	return out
}

// YAML renders the configuration with credentials masked.
func (c *Config) YAML() ([]byte, error) {
	s := c.settings()
	for k, v := range s {
		if strings.HasSuffix(k, "api_key") {
			if v == "" {
				s[k] = "[not set]"
			} else {
				s[k] = "[set]"
			}
		}
	}
	return yaml.Marshal(nest(s))
}

// WriteDefault writes c to path as YAML, leaving credentials out. An
// existing file is not overwritten; the returned bool reports whether the
// file was written.
func (c *Config) WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	s := c.settings()
	for k := range s {
		if strings.HasSuffix(k, "api_key") {
			delete(s, k)
		}
	}
	// Paths are resolved against the project on load
	s["data_dir"] = DefaultDataDir

	data, err := yaml.Marshal(nest(s))
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write config: %w", err)
	}
	return true, nil
}

// EnsureDataDir creates the data directory if it doesn't exist
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o755)
}

// FindProjectRoot searches upward from the working directory for a
// multivec.yaml file or a .multivec directory.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return FindProjectRootFrom(dir)
}

// FindProjectRootFrom searches for a project root starting from the given directory
func FindProjectRootFrom(startDir string) (string, error) {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ProjectConfigFile)); err == nil && info.Mode().IsRegular() {
			return dir, nil
		}
		if info, err := os.Stat(filepath.Join(dir, DefaultDataDir)); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a multivec project (no %s or %s directory found)", ProjectConfigFile, DefaultDataDir)
		}
		dir = parent
	}
}
