package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/fault"
	"github.com/abdul-hamid-achik/multivec/internal/ingest"
	"github.com/abdul-hamid-achik/multivec/internal/search"
	"github.com/abdul-hamid-achik/multivec/internal/store"
	"github.com/abdul-hamid-achik/multivec/internal/version"
)

// Handler handles API requests.
type Handler struct {
	config Config
	logger *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{config: cfg, logger: cfg.Logger}
}

// Health reports the server version and whether the store answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	resp := map[string]any{"version": version.Version}
	if err := h.config.Store.Health(r.Context()); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
		resp["error"] = err.Error()
	}
	resp["status"] = status
	h.jsonStatus(w, code, resp)
}

// ListCollections returns every collection name.
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	names, err := h.config.Store.ListCollections(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	h.jsonStatus(w, http.StatusOK, map[string]any{"collections": names})
}

type collectionRequest struct {
	// Spaces is optional; the configured embedders size the default layout.
	Spaces store.Schema `json:"spaces"`
	// Distance applies to the default layout.
	Distance string `json:"distance"`
}

type collectionResponse struct {
	Name   string       `json:"name"`
	Spaces store.Schema `json:"spaces"`
}

// CreateCollection declares a collection. Repeating the request with the
// same schema succeeds.
func (h *Handler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req collectionRequest
	if err := decodeOptional(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	schema := req.Spaces
	if len(schema) == 0 {
		distance := h.config.Distance
		if req.Distance != "" {
			d, err := store.ParseDistance(req.Distance)
			if err != nil {
				h.fail(w, r, fault.New(fault.InvalidInput, "api", "create collection", err))
				return
			}
			distance = d
		}
		schema = h.config.Pipeline.Layout().Schema(h.config.Text, h.config.Image, distance)
	}

	if err := h.config.Store.CreateCollection(r.Context(), name, schema); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.config.Store.DescribeCollection(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.jsonStatus(w, http.StatusCreated, collectionResponse{Name: name, Spaces: created})
}

// DescribeCollection returns a collection's vector spaces.
func (h *Handler) DescribeCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	schema, err := h.config.Store.DescribeCollection(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.jsonStatus(w, http.StatusOK, collectionResponse{Name: name, Spaces: schema})
}

// DeleteCollection drops a collection.
func (h *Handler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := h.config.Store.DeleteCollection(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// content is a text or base64 image carried in a request body.
type content struct {
	Text      string `json:"text,omitempty"`
	Image     string `json:"image,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

func (c content) image() (*embed.Image, error) {
	if c.Image == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(c.Image)
	if err != nil {
		return nil, fault.New(fault.InvalidInput, "api", "decode image", err)
	}
	return &embed.Image{Data: data, MediaType: c.MediaType}, nil
}

type itemRequest struct {
	content
	// Caption is stored and embedded alongside an image.
	Caption string         `json:"caption,omitempty"`
	ID      string         `json:"id,omitempty"`
	Source  string         `json:"source,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (it itemRequest) item() (ingest.Item, error) {
	img, err := it.image()
	if err != nil {
		return ingest.Item{}, err
	}
	text := it.Text
	if it.Caption != "" {
		if img == nil || it.Text != "" {
			return ingest.Item{}, fault.Newf(fault.InvalidInput, "api", "decode item", "caption needs an image and no text")
		}
		text = it.Caption
	}
	return ingest.Item{ID: it.ID, Text: text, Image: img, Source: it.Source, Payload: it.Payload}, nil
}

type ingestRequest struct {
	itemRequest
	// Items ingests a batch instead of the single inline item.
	Items    []itemRequest `json:"items,omitempty"`
	Describe *bool         `json:"describe,omitempty"`
	Prompt   string        `json:"prompt,omitempty"`
}

type itemResult struct {
	ID    string `json:"id,omitempty"`
	Stage string `json:"stage,omitempty"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// Ingest embeds and stores one item, or a batch under "items".
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "name")

	var req ingestRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	opts := ingest.Options{DescribeImages: h.config.DescribeImages, Prompt: req.Prompt}
	if req.Describe != nil {
		opts.DescribeImages = *req.Describe
	}

	if len(req.Items) == 0 {
		item, err := req.item()
		if err != nil {
			h.fail(w, r, err)
			return
		}
		id, err := h.config.Pipeline.Ingest(r.Context(), item, collection, opts)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.jsonStatus(w, http.StatusCreated, itemResult{ID: id, Stage: ingest.StageDone.String()})
		return
	}

	items := make([]ingest.Item, len(req.Items))
	for i, it := range req.Items {
		item, err := it.item()
		if err != nil {
			h.fail(w, r, fmt.Errorf("item %d: %w", i, err))
			return
		}
		items[i] = item
	}

	batch := h.config.Pipeline.IngestAll(r.Context(), items, collection, opts, nil)
	results := make([]itemResult, len(items))
	for i := range items {
		if err := batch.Errors[i]; err != nil {
			results[i] = itemResult{Error: err.Error(), Kind: fault.KindOf(err).String()}
			var ie *ingest.ItemError
			if errors.As(err, &ie) {
				results[i].Stage = ie.Stage.String()
			}
			continue
		}
		results[i] = itemResult{ID: batch.IDs[i], Stage: ingest.StageDone.String()}
	}

	code := http.StatusCreated
	if batch.Failed > 0 {
		code = http.StatusMultiStatus
	}
	h.jsonStatus(w, code, map[string]any{
		"stored":  batch.Stored,
		"failed":  batch.Failed,
		"results": results,
	})
}

type queryRequest struct {
	content
	Spaces        []string      `json:"spaces,omitempty"`
	Limit         int           `json:"limit,omitempty"`
	PerSpaceLimit int           `json:"per_space_limit,omitempty"`
	Filter        *store.Filter `json:"filter,omitempty"`
	Describe      *bool         `json:"describe,omitempty"`
	Prompt        string        `json:"prompt,omitempty"`
	Merge         string        `json:"merge,omitempty"`
}

// Query searches a collection with a text or image query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "name")

	var req queryRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	img, err := req.image()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := search.Query{Text: req.Text, Image: img}

	opts := search.Options{
		Filter:         req.Filter,
		PerSpaceLimit:  req.PerSpaceLimit,
		DescribeImages: h.config.DescribeImages,
		Prompt:         req.Prompt,
	}
	if req.Describe != nil {
		opts.DescribeImages = *req.Describe
	}
	if req.Merge != "" {
		rule, err := search.ParseMergeRule(req.Merge)
		if err != nil {
			h.fail(w, r, fault.New(fault.InvalidInput, "api", "query", err))
			return
		}
		opts.Merge = rule
	}
	limit := req.Limit
	if limit == 0 {
		limit = h.config.Limit
	}

	spaces := req.Spaces
	if len(spaces) == 0 {
		modality := embed.ModalityText
		if img != nil {
			modality = embed.ModalityImage
		}
		spaces, err = h.config.Searcher.Spaces(r.Context(), collection, modality, opts.DescribeImages)
		if err != nil {
			h.fail(w, r, err)
			return
		}
	}

	results, err := h.config.Searcher.SearchWithOptions(r.Context(), q, collection, spaces, limit, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	h.jsonStatus(w, http.StatusOK, map[string]any{
		"count":   len(results),
		"spaces":  spaces,
		"results": results,
	})
}

// decode reads a required JSON body.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return bodyError(err)
	}
	return nil
}

// decodeOptional reads a JSON body that may be empty.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return bodyError(err)
	}
	return nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return fault.New(fault.InvalidInput, "api", "decode body", err)
}

// statusFor maps an error to the HTTP status a client should see.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	switch fault.KindOf(err) {
	case fault.InvalidInput, fault.SchemaMismatch:
		return http.StatusBadRequest
	case fault.NotFound:
		return http.StatusNotFound
	case fault.CollectionAlreadyExists:
		return http.StatusConflict
	case fault.RateLimited:
		return http.StatusTooManyRequests
	case fault.ProviderUnavailable, fault.StoreUnavailable:
		return http.StatusServiceUnavailable
	case fault.UnexpectedResponse:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// fail writes an error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Warn("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	h.jsonStatus(w, code, map[string]string{
		"error": err.Error(),
		"kind":  fault.KindOf(err).String(),
	})
}

// jsonStatus writes a JSON response.
func (h *Handler) jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Debug("write response", zap.Error(err))
	}
}
