package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/multivec/internal/fault"
	"github.com/abdul-hamid-achik/multivec/internal/version"
)

const (
	defaultTEITextURL  = "http://localhost:8888"
	defaultTEIImageURL = "http://localhost:8000"
	defaultTEIDims     = 768
	defaultTEIImgDims  = 512
	maxErrorBody       = 4096
)

// TEIConfig configures a text-embeddings-inference style server. The same
// wire contract serves text models and image models; Modality picks which
// content the provider accepts.
type TEIConfig struct {
	URL        string
	Model      string
	Dimensions int
	Modality   Modality
	// ImageDataURI sends images as data: URIs instead of bare base64.
	ImageDataURI bool
	Timeout      time.Duration
	BatchSize    int
	Concurrency  int
}

// DefaultTEIConfig returns defaults for the given modality.
func DefaultTEIConfig(m Modality) TEIConfig {
	cfg := TEIConfig{
		URL:         defaultTEITextURL,
		Dimensions:  defaultTEIDims,
		Modality:    ModalityText,
		Timeout:     defaultTimeout,
		BatchSize:   defaultBatchSize,
		Concurrency: defaultConcurrency,
	}
	if m == ModalityImage {
		cfg.URL = defaultTEIImageURL
		cfg.Dimensions = defaultTEIImgDims
		cfg.Modality = ModalityImage
		cfg.BatchSize = 8
	}
	return cfg
}

// TEIProvider talks to POST /embed {"inputs": [...]} -> [[...], ...].
type TEIProvider struct {
	config TEIConfig
	client *http.Client
}

type teiRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate,omitempty"`
}

type teiErrorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// NewTEIProvider creates a new provider for an embedding inference server.
func NewTEIProvider(cfg TEIConfig) *TEIProvider {
	def := DefaultTEIConfig(cfg.Modality)
	if cfg.Modality == "" {
		cfg.Modality = def.Modality
	}
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = def.Dimensions
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}

	cfg.URL = strings.TrimRight(cfg.URL, "/")

	return &TEIProvider{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Embed generates an embedding for a single request.
func (p *TEIProvider) Embed(ctx context.Context, req Request) ([]float32, error) {
	return single(ctx, p, req)
}

// EmbedBatch generates embeddings for multiple requests.
func (p *TEIProvider) EmbedBatch(ctx context.Context, reqs []Request) ([][]float32, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if err := checkRequests(p, "embed", reqs); err != nil {
		return nil, err
	}

	inputs := make([]string, len(reqs))
	for i, r := range reqs {
		switch {
		case r.Image != nil && p.config.ImageDataURI:
			inputs[i] = r.Image.DataURI()
		case r.Image != nil:
			inputs[i] = r.Image.Base64()
		default:
			inputs[i] = r.Text
		}
	}

	return fanOut(ctx, len(inputs), p.config.BatchSize, p.config.Concurrency,
		func(ctx context.Context, lo, hi int) ([][]float32, error) {
			return p.doEmbed(ctx, inputs[lo:hi])
		})
}

func (p *TEIProvider) doEmbed(ctx context.Context, inputs []string) ([][]float32, error) {
	jsonBody, err := json.Marshal(teiRequest{Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL+"/embed", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fault.New(fault.InvalidInput, p.Name(), "embed", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fault.Transport(ctx, fault.ProviderUnavailable, p.Name(), "embed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Transport(ctx, fault.ProviderUnavailable, p.Name(), "embed", fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fault.New(fault.FromStatus(resp.StatusCode), p.Name(), "embed", statusError(resp.StatusCode, body))
	}

	var vecs [][]float32
	if err := json.Unmarshal(body, &vecs); err != nil {
		return nil, fault.New(fault.UnexpectedResponse, p.Name(), "embed", fmt.Errorf("unmarshal response: %w", err))
	}
	if err := checkVectors(p, "embed", len(inputs), vecs); err != nil {
		return nil, err
	}
	return vecs, nil
}

func statusError(code int, body []byte) error {
	var errResp teiErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("status %d: %s", code, errResp.Error)
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return fmt.Errorf("status %d: %s", code, strings.TrimSpace(string(body)))
}

// Name returns "tei" or "tei-image".
func (p *TEIProvider) Name() string {
	if p.config.Modality == ModalityImage {
		return "tei-image"
	}
	return "tei"
}

// Model returns the configured model label; the server decides what it runs.
func (p *TEIProvider) Model() string {
	return p.config.Model
}

// Dimensions returns the embedding vector dimensions.
func (p *TEIProvider) Dimensions() int {
	return p.config.Dimensions
}

// Modalities returns the single configured modality.
func (p *TEIProvider) Modalities() []Modality {
	return []Modality{p.config.Modality}
}

// Ping checks the server's health endpoint.
func (p *TEIProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.URL+"/health", nil)
	if err != nil {
		return fault.New(fault.InvalidInput, p.Name(), "ping", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fault.Transport(ctx, fault.ProviderUnavailable, p.Name(), "ping", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fault.Newf(fault.ProviderUnavailable, p.Name(), "ping", "unexpected status: %d", resp.StatusCode)
	}
	return nil
}
