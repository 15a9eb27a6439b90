// Package store persists multi-vector records in named collections and
// answers nearest-neighbour queries against one vector space at a time.
package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Distance is the similarity metric of a vector space.
type Distance string

const (
	Cosine    Distance = "Cosine"
	Dot       Distance = "Dot"
	Euclid    Distance = "Euclid"
	Manhattan Distance = "Manhattan"
)

// ParseDistance accepts the metric names in any case plus a few aliases.
func ParseDistance(s string) (Distance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine", "cos":
		return Cosine, nil
	case "dot", "inner", "ip":
		return Dot, nil
	case "euclid", "euclidean", "l2":
		return Euclid, nil
	case "manhattan", "l1":
		return Manhattan, nil
	}
	return "", fmt.Errorf("unknown distance %q", s)
}

// VectorSpace declares one named vector of a collection.
type VectorSpace struct {
	Size     int      `json:"size" yaml:"size"`
	Distance Distance `json:"distance" yaml:"distance"`
}

// Schema maps vector-space names to their declarations.
type Schema map[string]VectorSpace

// Equal reports whether both schemas declare the same spaces.
func (s Schema) Equal(o Schema) bool {
	if len(s) != len(o) {
		return false
	}
	for name, a := range s {
		b, ok := o[name]
		if !ok || a.Size != b.Size || !strings.EqualFold(string(a.Distance), string(b.Distance)) {
			return false
		}
	}
	return true
}

// Names returns the space names in lexical order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Record is one stored item: its vectors by space name and a free-form payload.
type Record struct {
	ID      string               `json:"id"`
	Vectors map[string][]float32 `json:"vectors,omitempty"`
	Payload map[string]any       `json:"payload,omitempty"`
}

// Hit is a single query result. Higher scores are better for every metric;
// distance metrics report the negated distance.
type Hit struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Condition matches a payload key against a value or a set of values.
type Condition struct {
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
	AnyOf []any  `json:"any,omitempty"`
}

// Filter restricts a query to records whose payload satisfies every Must
// condition and none of the MustNot conditions.
type Filter struct {
	Must    []Condition `json:"must,omitempty"`
	MustNot []Condition `json:"must_not,omitempty"`
}

// Matches evaluates the filter against a payload.
func (f *Filter) Matches(payload map[string]any) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		if !c.matches(payload) {
			return false
		}
	}
	for _, c := range f.MustNot {
		if c.matches(payload) {
			return false
		}
	}
	return true
}

func (c Condition) matches(payload map[string]any) bool {
	v, ok := payload[c.Key]
	if !ok {
		return false
	}
	if len(c.AnyOf) > 0 {
		for _, want := range c.AnyOf {
			if equalValues(v, want) {
				return true
			}
		}
		return false
	}
	return equalValues(v, c.Value)
}

// equalValues compares payload values, treating all numeric types alike so
// that values survive a JSON round trip.
func equalValues(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Store is a vector database holding multi-vector collections.
type Store interface {
	// CreateCollection declares a collection. Creating an existing collection
	// with an identical schema is a no-op; a differing schema fails with
	// CollectionAlreadyExists.
	CreateCollection(ctx context.Context, name string, schema Schema) error

	// DescribeCollection returns a collection's schema or NotFound.
	DescribeCollection(ctx context.Context, name string) (Schema, error)

	// ListCollections returns collection names in lexical order.
	ListCollections(ctx context.Context) ([]string, error)

	// DeleteCollection drops a collection and all of its records.
	DeleteCollection(ctx context.Context, name string) error

	// Upsert writes all vectors and the payload of one record atomically.
	// An empty ID is replaced by a generated one; the effective ID is returned.
	Upsert(ctx context.Context, collection string, rec Record) (string, error)

	// Query returns up to limit hits from one vector space, best first.
	Query(ctx context.Context, collection, space string, vector []float32, limit int, filter *Filter) ([]Hit, error)

	// Get returns a stored record or NotFound.
	Get(ctx context.Context, collection, id string) (*Record, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Health checks that the store is reachable.
	Health(ctx context.Context) error

	Close() error
}
