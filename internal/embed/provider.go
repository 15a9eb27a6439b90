// Package embed turns text and images into embedding vectors.
package embed

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/abdul-hamid-achik/multivec/internal/fault"
)

// Modality is the kind of content a request carries.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

// ParseModality converts a configuration string to a Modality.
func ParseModality(s string) (Modality, error) {
	switch Modality(strings.ToLower(strings.TrimSpace(s))) {
	case ModalityText:
		return ModalityText, nil
	case ModalityImage:
		return ModalityImage, nil
	}
	return "", fmt.Errorf("unknown modality %q", s)
}

// Common input errors.
var (
	ErrEmptyText       = errors.New("cannot embed empty text")
	ErrEmptyImage      = errors.New("cannot embed empty image")
	ErrAmbiguousInput  = errors.New("request must carry exactly one of text or image")
	ErrUnsupportedKind = errors.New("modality not supported by provider")
	ErrModelMismatch   = errors.New("request model does not match provider model")
)

// Image is raw image bytes plus an optional media type.
type Image struct {
	Data      []byte
	MediaType string
}

// ContentType returns the declared media type, sniffing the bytes when unset.
func (img *Image) ContentType() string {
	if img.MediaType != "" {
		return img.MediaType
	}
	ct := http.DetectContentType(img.Data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

// Base64 returns the standard base64 encoding of the image bytes.
func (img *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// DataURI returns the image as a data: URI.
func (img *Image) DataURI() string {
	return "data:" + img.ContentType() + ";base64," + img.Base64()
}

// Request is a single unit of content to embed. Exactly one of Text or Image is set.
// Model optionally pins the request to a model; it must match the provider's.
type Request struct {
	Text  string
	Image *Image
	Model string
}

// TextRequest builds a text request.
func TextRequest(text string) Request {
	return Request{Text: text}
}

// ImageRequest builds an image request.
func ImageRequest(img *Image) Request {
	return Request{Image: img}
}

// Modality reports which modality the request carries.
func (r Request) Modality() Modality {
	if r.Image != nil {
		return ModalityImage
	}
	return ModalityText
}

// Validate checks the request shape.
func (r Request) Validate() error {
	switch {
	case r.Image != nil && r.Text != "":
		return ErrAmbiguousInput
	case r.Image != nil:
		if len(r.Image.Data) == 0 {
			return ErrEmptyImage
		}
	case strings.TrimSpace(r.Text) == "":
		return ErrEmptyText
	}
	return nil
}

// Provider defines the interface for embedding backends.
type Provider interface {
	// Embed generates an embedding vector for a single request.
	Embed(ctx context.Context, req Request) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple requests.
	// Returns embeddings in the same order as the input.
	EmbedBatch(ctx context.Context, reqs []Request) ([][]float32, error)

	// Name identifies the provider variant.
	Name() string

	// Model returns the name of the embedding model being used.
	Model() string

	// Dimensions returns the dimensionality of the embedding vectors.
	Dimensions() int

	// Modalities lists the content kinds the provider accepts.
	Modalities() []Modality

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// Supports reports whether p accepts content of modality m.
func Supports(p Provider, m Modality) bool {
	for _, have := range p.Modalities() {
		if have == m {
			return true
		}
	}
	return false
}

// checkRequests validates every request before anything is sent.
func checkRequests(p Provider, op string, reqs []Request) error {
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return fault.New(fault.InvalidInput, p.Name(), op, fmt.Errorf("request %d: %w", i, err))
		}
		if !Supports(p, req.Modality()) {
			return fault.New(fault.InvalidInput, p.Name(), op,
				fmt.Errorf("request %d: %w: %s", i, ErrUnsupportedKind, req.Modality()))
		}
		if req.Model != "" && req.Model != p.Model() {
			return fault.New(fault.InvalidInput, p.Name(), op,
				fmt.Errorf("request %d: %w: %s != %s", i, ErrModelMismatch, req.Model, p.Model()))
		}
	}
	return nil
}

// checkVectors verifies the provider returned one vector of the expected size per input.
func checkVectors(p Provider, op string, want int, vecs [][]float32) error {
	if len(vecs) != want {
		return fault.Newf(fault.UnexpectedResponse, p.Name(), op, "expected %d embeddings, got %d", want, len(vecs))
	}
	for i, v := range vecs {
		if len(v) != p.Dimensions() {
			return fault.Newf(fault.UnexpectedResponse, p.Name(), op,
				"embedding %d: expected %d dimensions, got %d", i, p.Dimensions(), len(v))
		}
	}
	return nil
}

func toFloat32(fs []float64) []float32 {
	out := make([]float32, len(fs))
	for i, f := range fs {
		out[i] = float32(f)
	}
	return out
}

// single embeds one request via the provider's batch path.
func single(ctx context.Context, p Provider, req Request) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []Request{req})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
