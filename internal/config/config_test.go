package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/multivec/internal/search"
	"github.com/abdul-hamid-achik/multivec/internal/store"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Store.Backend != "bolt" {
		t.Errorf("expected bolt backend, got %s", cfg.Store.Backend)
	}
	if cfg.Spaces.Description != cfg.Spaces.Text {
		t.Error("descriptions should share the text space by default")
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Sources()) != 0 {
		t.Errorf("expected no config files, got %v", cfg.Sources())
	}
	if cfg.DataDir != filepath.Join(dir, DefaultDataDir) {
		t.Errorf("DataDir = %s", cfg.DataDir)
	}
	if cfg.DBPath() != filepath.Join(dir, DefaultDataDir, DefaultDBFile) {
		t.Errorf("DBPath = %s", cfg.DBPath())
	}
	if cfg.Store.Timeout != 30*time.Second {
		t.Errorf("Store.Timeout = %v", cfg.Store.Timeout)
	}
	if cfg.Embedding.Text.Model != "nomic-embed-text" || cfg.Embedding.Image.Dimensions != 512 {
		t.Errorf("unexpected embedding defaults %+v", cfg.Embedding)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ProjectConfigFile), `
store:
  backend: qdrant
  url: http://qdrant:6333
query:
  limit: 5
  merge: sum
embedding:
  text:
    model: from-root
`)
	writeConfig(t, filepath.Join(dir, DefaultDataDir, DefaultConfigFile), `
query:
  limit: 7
embedding:
  text:
    timeout: 5s
`)
	t.Setenv("MULTIVEC_EMBEDDING_TEXT_MODEL", "from-env")
	t.Setenv("MULTIVEC_SERVER_PORT", "9090")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Sources()) != 2 {
		t.Errorf("expected both files loaded, got %v", cfg.Sources())
	}
	if cfg.Store.Backend != "qdrant" || cfg.Store.URL != "http://qdrant:6333" {
		t.Errorf("root file not applied: %+v", cfg.Store)
	}
	if cfg.Query.Limit != 7 {
		t.Errorf(".multivec/config.yaml should override multivec.yaml, got limit %d", cfg.Query.Limit)
	}
	if cfg.Query.Merge != "sum" {
		t.Errorf("expected merge sum, got %s", cfg.Query.Merge)
	}
	if cfg.Embedding.Text.Model != "from-env" {
		t.Errorf("environment should win, got %s", cfg.Embedding.Text.Model)
	}
	if cfg.Embedding.Text.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", cfg.Embedding.Text.Timeout)
	}
	if cfg.Embedding.Text.Dimensions != 768 {
		t.Errorf("unset keys keep defaults, got %d", cfg.Embedding.Text.Dimensions)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ProjectConfigFile), "store: [unclosed")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestApplyFallbacks(t *testing.T) {
	env := map[string]string{
		"OPENAI_API_KEY":    "sk-openai",
		"ANTHROPIC_API_KEY": "sk-ant",
		"OLLAMA_HOST":       "gpu-box:11434",
	}
	getenv := func(k string) string { return env[k] }

	cfg := DefaultConfig()
	cfg.Embedding.Image.Provider = ""
	cfg.applyFallbacks(getenv)
	if cfg.Embedding.Text.URL != "http://gpu-box:11434" {
		t.Errorf("ollama embedder URL = %s", cfg.Embedding.Text.URL)
	}
	if cfg.LLM.URL != "http://gpu-box:11434/v1" {
		t.Errorf("ollama llm URL = %s", cfg.LLM.URL)
	}

	cfg = DefaultConfig()
	cfg.Embedding.Text.Provider = "openai"
	cfg.LLM.Provider = "anthropic"
	cfg.applyFallbacks(getenv)
	if cfg.Embedding.Text.APIKey != "sk-openai" {
		t.Errorf("openai key = %q", cfg.Embedding.Text.APIKey)
	}
	if cfg.LLM.APIKey != "sk-ant" {
		t.Errorf("anthropic key = %q", cfg.LLM.APIKey)
	}

	cfg = DefaultConfig()
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "explicit"
	cfg.applyFallbacks(getenv)
	if cfg.LLM.APIKey != "explicit" {
		t.Error("configured keys should not be replaced")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "sqlite" }, "store.backend"},
		{"no embedders", func(c *Config) { c.Embedding.Text.Provider = ""; c.Embedding.Image.Provider = "" }, "at least one"},
		{"ollama images", func(c *Config) { c.Embedding.Image.Provider = "ollama" }, "does not embed images"},
		{"unknown llm", func(c *Config) { c.LLM.Provider = "bard" }, "llm.provider"},
		{"shared image space", func(c *Config) { c.Spaces.Image = "text" }, "spaces"},
		{"bad distance", func(c *Config) { c.Collection.Distance = "hamming" }, "collection.distance"},
		{"bad merge", func(c *Config) { c.Query.Merge = "median" }, "query.merge"},
		{"zero limit", func(c *Config) { c.Query.Limit = 0 }, "query.limit"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.LLM.Provider = ""
	cfg.Embedding.Image.Provider = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("text-only config without an LLM should be valid: %v", err)
	}
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Query.Merge = "weighted_average:image=2"
	cfg.LLM.Provider = ""

	rule, err := cfg.MergeRule()
	if err != nil {
		t.Fatalf("MergeRule failed: %v", err)
	}
	if rule.Kind != search.MergeWeightedAverage || rule.Weights["image"] != 2 {
		t.Errorf("unexpected rule %+v", rule)
	}
	if d, _ := cfg.Distance(); d != store.Cosine {
		t.Errorf("expected cosine, got %s", d)
	}
	if cfg.IndexerConfig().Describe {
		t.Error("descriptions need an LLM")
	}
	sc := cfg.StoreConfig()
	if sc.Backend != "bolt" || sc.Path != cfg.DBPath() {
		t.Errorf("unexpected store config %+v", sc)
	}
	ec := cfg.Embedding.Image.EmbedConfig("image")
	if ec.Model != "openai/clip-vit-base-patch32" || ec.Dimensions != 512 {
		t.Errorf("unexpected embed config %+v", ec)
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultDataDir, DefaultConfigFile)

	cfg := DefaultConfig()
	cfg.Embedding.Text.APIKey = "secret"
	cfg.Query.Limit = 3

	written, err := cfg.WriteDefault(path)
	if err != nil || !written {
		t.Fatalf("WriteDefault = %v, %v", written, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret") {
		t.Error("credentials must not be written")
	}
	if !strings.Contains(string(data), "timeout: 30s") {
		t.Errorf("durations should be written as strings:\n%s", data)
	}

	written, err = cfg.WriteDefault(path)
	if err != nil || written {
		t.Errorf("existing file should be kept, got %v, %v", written, err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Query.Limit != 3 {
		t.Errorf("expected limit 3 after round trip, got %d", loaded.Query.Limit)
	}
	if loaded.Embedding.Image.Timeout != 60*time.Second {
		t.Errorf("expected 60s image timeout, got %v", loaded.Embedding.Image.Timeout)
	}
}

func TestYAMLMasksCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-secret"
	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML failed: %v", err)
	}
	if strings.Contains(string(out), "sk-secret") {
		t.Error("credentials must be masked")
	}
	if !strings.Contains(string(out), "[set]") {
		t.Errorf("expected masked marker:\n%s", out)
	}
}

func TestFindProjectRootFrom(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := FindProjectRootFrom(nested); err == nil {
		t.Error("expected error outside a project")
	}

	writeConfig(t, filepath.Join(root, ProjectConfigFile), "query:\n  limit: 3\n")
	got, err := FindProjectRootFrom(nested)
	if err != nil {
		t.Fatalf("FindProjectRootFrom failed: %v", err)
	}
	if got != root {
		t.Errorf("root = %s, want %s", got, root)
	}
}
