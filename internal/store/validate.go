package store

import (
	"fmt"
	"math"
	"strings"

	"github.com/abdul-hamid-achik/multivec/internal/fault"
)

// ValidateSchema checks a schema before a collection is created.
func ValidateSchema(source string, schema Schema) error {
	if len(schema) == 0 {
		return fault.Newf(fault.InvalidInput, source, "create collection", "schema declares no vector spaces")
	}
	for name, space := range schema {
		if strings.TrimSpace(name) == "" {
			return fault.Newf(fault.InvalidInput, source, "create collection", "vector space name must not be empty")
		}
		if space.Size <= 0 {
			return fault.Newf(fault.InvalidInput, source, "create collection", "space %q: size must be positive", name)
		}
		if _, err := ParseDistance(string(space.Distance)); err != nil {
			return fault.New(fault.InvalidInput, source, "create collection", fmt.Errorf("space %q: %w", name, err))
		}
	}
	return nil
}

// NormalizeSchema rewrites distance names to their canonical spelling.
func NormalizeSchema(schema Schema) Schema {
	out := make(Schema, len(schema))
	for name, space := range schema {
		if d, err := ParseDistance(string(space.Distance)); err == nil {
			space.Distance = d
		}
		out[name] = space
	}
	return out
}

// ValidateCollectionName rejects names that cannot be used as path segments.
func ValidateCollectionName(source, name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "/?#") {
		return fault.Newf(fault.InvalidInput, source, "collection", "invalid collection name %q", name)
	}
	return nil
}

// ReservedPayloadKey is kept for backend bookkeeping and rejected in
// caller payloads on every backend.
const ReservedPayloadKey = "_id"

// ValidateRecord checks every vector of rec against the collection schema.
func ValidateRecord(source string, schema Schema, rec Record) error {
	if len(rec.Vectors) == 0 {
		return fault.Newf(fault.InvalidInput, source, "upsert", "record %q carries no vectors", rec.ID)
	}
	if _, ok := rec.Payload[ReservedPayloadKey]; ok {
		return fault.Newf(fault.InvalidInput, source, "upsert", "payload key %q is reserved", ReservedPayloadKey)
	}
	for name, vec := range rec.Vectors {
		space, ok := schema[name]
		if !ok {
			return fault.Newf(fault.SchemaMismatch, source, "upsert", "vector space %q is not declared", name)
		}
		if len(vec) != space.Size {
			return fault.Newf(fault.SchemaMismatch, source, "upsert",
				"vector space %q: expected %d dimensions, got %d", name, space.Size, len(vec))
		}
		if !finite(vec) {
			return fault.Newf(fault.InvalidInput, source, "upsert", "vector space %q contains NaN or Inf", name)
		}
	}
	return nil
}

// ValidateQuery checks a query vector against the collection schema.
func ValidateQuery(source string, schema Schema, space string, vector []float32, limit int) (VectorSpace, error) {
	if limit <= 0 {
		return VectorSpace{}, fault.Newf(fault.InvalidInput, source, "query", "limit must be positive, got %d", limit)
	}
	vs, ok := schema[space]
	if !ok {
		return VectorSpace{}, fault.Newf(fault.SchemaMismatch, source, "query", "vector space %q is not declared", space)
	}
	if len(vector) != vs.Size {
		return VectorSpace{}, fault.Newf(fault.SchemaMismatch, source, "query",
			"vector space %q: expected %d dimensions, got %d", space, vs.Size, len(vector))
	}
	if !finite(vector) {
		return VectorSpace{}, fault.Newf(fault.InvalidInput, source, "query", "query vector for %q contains NaN or Inf", space)
	}
	return vs, nil
}

func finite(vec []float32) bool {
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
