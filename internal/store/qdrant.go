package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abdul-hamid-achik/multivec/internal/fault"
	"github.com/abdul-hamid-achik/multivec/internal/version"
)

const (
	defaultQdrantURL     = "http://localhost:6333"
	defaultQdrantTimeout = 30 * time.Second

	// payloadIDKey keeps caller IDs that Qdrant cannot use as point IDs.
	payloadIDKey = ReservedPayloadKey
)

// idNamespace derives stable point UUIDs from arbitrary record IDs.
var idNamespace = uuid.MustParse("6f1c58a4-3b0e-4c1e-9a55-5d6f0b7b2c11")

// QdrantConfig configures the REST client.
type QdrantConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Qdrant implements Store using Qdrant's REST API with named vectors.
type Qdrant struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewQdrant creates a Qdrant-backed vector store.
func NewQdrant(cfg QdrantConfig) (*Qdrant, error) {
	if cfg.URL == "" {
		cfg.URL = defaultQdrantURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultQdrantTimeout
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parse qdrant url: %w", err)
	}
	return &Qdrant{
		endpoint: strings.TrimRight(cfg.URL, "/"),
		apiKey:   cfg.APIKey,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

// do sends one request and decodes the "result" field into out.
func (q *Qdrant) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fault.New(fault.InvalidInput, "qdrant", op, fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.endpoint+path, reader)
	if err != nil {
		return fault.New(fault.InvalidInput, "qdrant", op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return fault.Transport(ctx, fault.StoreUnavailable, "qdrant", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Transport(ctx, fault.StoreUnavailable, "qdrant", op, fmt.Errorf("read response: %w", err))
	}

	var env qdrantEnvelope
	jsonErr := json.Unmarshal(data, &env)

	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if jsonErr == nil {
			var status struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(env.Status, &status) == nil && status.Error != "" {
				msg = status.Error
			}
		}
		return fault.Newf(qdrantKind(resp.StatusCode, msg), "qdrant", op, "%s: %s", resp.Status, msg)
	}
	if jsonErr != nil {
		return fault.New(fault.UnexpectedResponse, "qdrant", op, fmt.Errorf("decode response: %w", jsonErr))
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fault.New(fault.UnexpectedResponse, "qdrant", op, fmt.Errorf("decode result: %w", err))
		}
	}
	return nil
}

func qdrantKind(code int, msg string) fault.Kind {
	lower := strings.ToLower(msg)
	switch {
	case code == http.StatusNotFound:
		return fault.NotFound
	case code == http.StatusConflict || strings.Contains(lower, "already exists"):
		return fault.CollectionAlreadyExists
	case code == http.StatusTooManyRequests:
		return fault.RateLimited
	case code >= 500:
		return fault.StoreUnavailable
	case strings.Contains(lower, "dimension") || strings.Contains(lower, "vector name"):
		return fault.SchemaMismatch
	case strings.Contains(lower, "not found") || strings.Contains(lower, "doesn't exist"):
		return fault.NotFound
	case code >= 400:
		return fault.InvalidInput
	}
	return fault.UnexpectedResponse
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

func (q *Qdrant) CreateCollection(ctx context.Context, name string, schema Schema) error {
	if err := ValidateCollectionName("qdrant", name); err != nil {
		return err
	}
	if err := ValidateSchema("qdrant", schema); err != nil {
		return err
	}
	schema = NormalizeSchema(schema)

	existing, err := q.DescribeCollection(ctx, name)
	switch {
	case err == nil:
		return compareExisting(name, existing, schema)
	case !fault.Is(err, fault.NotFound):
		return err
	}

	err = q.do(ctx, "create collection", http.MethodPut, collectionPath(name), map[string]any{"vectors": schema}, nil)
	if fault.Is(err, fault.CollectionAlreadyExists) {
		// Lost a race with another creator; compare with what won.
		if existing, derr := q.DescribeCollection(ctx, name); derr == nil {
			return compareExisting(name, existing, schema)
		}
	}
	return err
}

func compareExisting(name string, existing, want Schema) error {
	if existing.Equal(want) {
		return nil
	}
	return fault.Newf(fault.CollectionAlreadyExists, "qdrant", "create collection",
		"collection %q exists with a different schema", name)
}

func (q *Qdrant) DescribeCollection(ctx context.Context, name string) (Schema, error) {
	var info struct {
		Config struct {
			Params struct {
				Vectors map[string]json.RawMessage `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := q.do(ctx, "describe collection", http.MethodGet, collectionPath(name), nil, &info); err != nil {
		return nil, err
	}

	vectors := info.Config.Params.Vectors
	schema := make(Schema, len(vectors))
	// Single unnamed vector: {"size": 4, "distance": "Cosine"}.
	if _, unnamed := vectors["size"]; unnamed {
		var vs VectorSpace
		if err := json.Unmarshal(vectors["size"], &vs.Size); err != nil {
			return nil, fault.New(fault.UnexpectedResponse, "qdrant", "describe collection", err)
		}
		if err := json.Unmarshal(vectors["distance"], &vs.Distance); err != nil {
			return nil, fault.New(fault.UnexpectedResponse, "qdrant", "describe collection", err)
		}
		schema[""] = vs
		return NormalizeSchema(schema), nil
	}
	for space, raw := range vectors {
		var vs VectorSpace
		if err := json.Unmarshal(raw, &vs); err != nil {
			return nil, fault.New(fault.UnexpectedResponse, "qdrant", "describe collection", fmt.Errorf("space %q: %w", space, err))
		}
		schema[space] = vs
	}
	return NormalizeSchema(schema), nil
}

func (q *Qdrant) ListCollections(ctx context.Context) ([]string, error) {
	var result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := q.do(ctx, "list collections", http.MethodGet, "/collections", nil, &result); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.Collections))
	for _, c := range result.Collections {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (q *Qdrant) DeleteCollection(ctx context.Context, name string) error {
	var deleted bool
	if err := q.do(ctx, "delete collection", http.MethodDelete, collectionPath(name), nil, &deleted); err != nil {
		return err
	}
	if !deleted {
		return fault.Newf(fault.NotFound, "qdrant", "delete collection", "collection %q does not exist", name)
	}
	return nil
}

// pointID converts a record ID into something Qdrant accepts: an unsigned
// integer or a canonical UUID. Anything else is hashed into a UUID and the
// original is reported as mapped.
func pointID(id string) (pid any, mapped bool) {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil && strconv.FormatUint(n, 10) == id {
		return n, false
	}
	if u, err := uuid.Parse(id); err == nil && u.String() == id {
		return id, false
	}
	return uuid.NewSHA1(idNamespace, []byte(id)).String(), true
}

// recordID recovers the caller's ID from a point ID and payload, removing
// the bookkeeping key from the payload.
func recordID(raw json.RawMessage, payload map[string]any) string {
	if orig, ok := payload[payloadIDKey].(string); ok {
		delete(payload, payloadIDKey)
		return orig
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func vectorField(vectors map[string][]float32) any {
	if v, ok := vectors[""]; ok && len(vectors) == 1 {
		return v
	}
	return vectors
}

func (q *Qdrant) Upsert(ctx context.Context, collection string, rec Record) (string, error) {
	schema, err := q.DescribeCollection(ctx, collection)
	if err != nil {
		return "", err
	}
	if err := ValidateRecord("qdrant", schema, rec); err != nil {
		return "", err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	payload := make(map[string]any, len(rec.Payload)+1)
	for k, v := range rec.Payload {
		payload[k] = v
	}
	pid, mapped := pointID(rec.ID)
	if mapped {
		payload[payloadIDKey] = rec.ID
	}

	body := map[string]any{
		"points": []map[string]any{{
			"id":      pid,
			"vector":  vectorField(rec.Vectors),
			"payload": payload,
		}},
	}
	path := collectionPath(collection) + "/points?wait=true"
	if err := q.do(ctx, "upsert", http.MethodPut, path, body, nil); err != nil {
		return "", err
	}
	return rec.ID, nil
}

type qdrantCondition struct {
	Key   string         `json:"key"`
	Match map[string]any `json:"match"`
}

func qdrantFilter(f *Filter) map[string]any {
	if f == nil || (len(f.Must) == 0 && len(f.MustNot) == 0) {
		return nil
	}
	convert := func(conds []Condition) []qdrantCondition {
		out := make([]qdrantCondition, 0, len(conds))
		for _, c := range conds {
			match := map[string]any{"value": c.Value}
			if len(c.AnyOf) > 0 {
				match = map[string]any{"any": c.AnyOf}
			}
			out = append(out, qdrantCondition{Key: c.Key, Match: match})
		}
		return out
	}
	filter := map[string]any{}
	if len(f.Must) > 0 {
		filter["must"] = convert(f.Must)
	}
	if len(f.MustNot) > 0 {
		filter["must_not"] = convert(f.MustNot)
	}
	return filter
}

func (q *Qdrant) Query(ctx context.Context, collection, space string, vector []float32, limit int, filter *Filter) ([]Hit, error) {
	schema, err := q.DescribeCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	vs, err := ValidateQuery("qdrant", schema, space, vector, limit)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
	}
	if space == "" {
		body["vector"] = vector
	} else {
		body["vector"] = map[string]any{"name": space, "vector": vector}
	}
	if f := qdrantFilter(filter); f != nil {
		body["filter"] = f
	}

	var result []struct {
		ID      json.RawMessage `json:"id"`
		Score   float32         `json:"score"`
		Payload map[string]any  `json:"payload"`
	}
	if err := q.do(ctx, "query", http.MethodPost, collectionPath(collection)+"/points/search", body, &result); err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(result))
	for _, r := range result {
		score := r.Score
		// Qdrant reports raw distances for these metrics.
		if vs.Distance == Euclid || vs.Distance == Manhattan {
			score = -score
		}
		hits = append(hits, Hit{ID: recordID(r.ID, r.Payload), Score: score, Payload: r.Payload})
	}
	return hits, nil
}

func (q *Qdrant) Get(ctx context.Context, collection, id string) (*Record, error) {
	pid, _ := pointID(id)
	var result struct {
		ID      json.RawMessage `json:"id"`
		Payload map[string]any  `json:"payload"`
		Vector  json.RawMessage `json:"vector"`
	}
	path := fmt.Sprintf("%s/points/%v", collectionPath(collection), pid)
	if err := q.do(ctx, "get", http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}

	rec := &Record{Payload: result.Payload, Vectors: map[string][]float32{}}
	if rec.Payload == nil {
		rec.Payload = map[string]any{}
	}
	rec.ID = recordID(result.ID, rec.Payload)

	if len(result.Vector) > 0 && result.Vector[0] == '[' {
		var v []float32
		if err := json.Unmarshal(result.Vector, &v); err != nil {
			return nil, fault.New(fault.UnexpectedResponse, "qdrant", "get", err)
		}
		rec.Vectors[""] = v
	} else if len(result.Vector) > 0 && string(result.Vector) != "null" {
		if err := json.Unmarshal(result.Vector, &rec.Vectors); err != nil {
			return nil, fault.New(fault.UnexpectedResponse, "qdrant", "get", err)
		}
	}
	return rec, nil
}

func (q *Qdrant) Delete(ctx context.Context, collection, id string) error {
	pid, _ := pointID(id)
	body := map[string]any{"points": []any{pid}}
	return q.do(ctx, "delete", http.MethodPost, collectionPath(collection)+"/points/delete?wait=true", body, nil)
}

func (q *Qdrant) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.endpoint+"/healthz", nil)
	if err != nil {
		return fault.New(fault.InvalidInput, "qdrant", "health", err)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fault.Transport(ctx, fault.StoreUnavailable, "qdrant", "health", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fault.Newf(fault.StoreUnavailable, "qdrant", "health", "qdrant unhealthy: %s", resp.Status)
	}
	return nil
}

func (q *Qdrant) Close() error {
	q.client.CloseIdleConnections()
	return nil
}
