package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/abdul-hamid-achik/multivec/internal/fault"
)

type openaiTestRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions"`
}

type openaiTestData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

func openaiServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/embeddings" {
			t.Errorf("expected /embeddings, got %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("expected 'Bearer test-key', got %s", auth)
		}

		var req openaiTestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		// Answer in reverse order; the provider must reorder by index.
		data := make([]openaiTestData, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			emb := make([]float64, dims)
			emb[0] = float64(len(req.Input[i]))
			data = append(data, openaiTestData{Object: "embedding", Index: i, Embedding: emb})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestNewOpenAIProvider(t *testing.T) {
	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key"})

	if provider.config.APIKey != "test-key" {
		t.Errorf("expected API key 'test-key', got %s", provider.config.APIKey)
	}
	if provider.config.Model != defaultOpenAIModel {
		t.Errorf("expected model %s, got %s", defaultOpenAIModel, provider.config.Model)
	}
	if provider.config.BaseURL != defaultOpenAIURL {
		t.Errorf("expected base URL %s, got %s", defaultOpenAIURL, provider.config.BaseURL)
	}
	if provider.Dimensions() != 1536 {
		t.Errorf("expected 1536 dimensions, got %d", provider.Dimensions())
	}

	large := NewOpenAIProvider(OpenAIConfig{APIKey: "k", Model: "text-embedding-3-large"})
	if large.Dimensions() != 3072 {
		t.Errorf("expected dimensions from model table, got %d", large.Dimensions())
	}
}

func TestOpenAIProvider_Embed(t *testing.T) {
	server := openaiServer(t, 8)
	defer server.Close()

	provider := NewOpenAIProvider(OpenAIConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Model:      "custom-model",
		Dimensions: 8,
	})

	vec, err := provider.Embed(context.Background(), TextRequest("hello"))
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 8 {
		t.Errorf("expected 8 dimensions, got %d", len(vec))
	}
	if vec[0] != 5 {
		t.Errorf("expected marker 5, got %v", vec[0])
	}
}

func TestOpenAIProvider_EmbedBatchOrder(t *testing.T) {
	server := openaiServer(t, 4)
	defer server.Close()

	provider := NewOpenAIProvider(OpenAIConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Model:      "custom-model",
		Dimensions: 4,
		BatchSize:  2,
	})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	reqs := make([]Request, len(texts))
	for i, s := range texts {
		reqs[i] = TextRequest(s)
	}

	vecs, err := provider.EmbedBatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}
	for i, s := range texts {
		if vecs[i][0] != float32(len(s)) {
			t.Errorf("vector %d: expected marker %d, got %v", i, len(s), vecs[i][0])
		}
	}
}

func TestOpenAIProvider_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   fault.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`, fault.RateLimited},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"too long","type":"invalid_request_error"}}`, fault.InvalidInput},
		{"outage", http.StatusServiceUnavailable, `{"error":{"message":"down","type":"server_error"}}`, fault.ProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			provider := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL, Dimensions: 4})
			_, err := provider.Embed(context.Background(), TextRequest("hello"))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := fault.KindOf(err); got != tt.want {
				t.Errorf("expected kind %v, got %v (%v)", tt.want, got, err)
			}
			if n := calls.Load(); n != 1 {
				t.Errorf("expected exactly one call, got %d", n)
			}
		})
	}
}

func TestOpenAIProvider_DimensionMismatch(t *testing.T) {
	server := openaiServer(t, 3)
	defer server.Close()

	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL, Model: "m", Dimensions: 4})
	_, err := provider.Embed(context.Background(), TextRequest("hello"))
	if !fault.Is(err, fault.UnexpectedResponse) {
		t.Errorf("expected unexpected response, got %v", err)
	}
}

func TestOpenAIProvider_RejectsImages(t *testing.T) {
	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: "http://127.0.0.1:1"})
	_, err := provider.Embed(context.Background(), ImageRequest(&Image{Data: []byte{0x89, 'P', 'N', 'G'}}))
	if !fault.Is(err, fault.InvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
}

func TestOpenAIProvider_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: url, Dimensions: 4})
	_, err := provider.Embed(context.Background(), TextRequest("hello"))
	if !fault.Is(err, fault.ProviderUnavailable) {
		t.Errorf("expected provider unavailable, got %v", err)
	}
}
