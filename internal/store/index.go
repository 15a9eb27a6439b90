package store

import (
	"maps"
	"sort"

	"github.com/google/uuid"

	"github.com/abdul-hamid-achik/multivec/internal/fault"
)

// index is the in-memory state shared by the local backends. It is not
// safe for concurrent use; callers hold their own lock.
type index struct {
	source      string
	collections map[string]*collectionIndex
}

type collectionIndex struct {
	schema Schema
	points map[string]*point
	seq    uint64
}

type point struct {
	rec Record
	seq uint64
}

func newIndex(source string) *index {
	return &index{source: source, collections: make(map[string]*collectionIndex)}
}

// checkCreate reports whether name already exists with the same schema.
func (ix *index) checkCreate(name string, schema Schema) (exists bool, err error) {
	if err := ValidateCollectionName(ix.source, name); err != nil {
		return false, err
	}
	if err := ValidateSchema(ix.source, schema); err != nil {
		return false, err
	}
	c, ok := ix.collections[name]
	if !ok {
		return false, nil
	}
	if !c.schema.Equal(NormalizeSchema(schema)) {
		return true, fault.Newf(fault.CollectionAlreadyExists, ix.source, "create collection",
			"collection %q exists with a different schema", name)
	}
	return true, nil
}

func (ix *index) create(name string, schema Schema) {
	ix.collections[name] = &collectionIndex{
		schema: NormalizeSchema(schema),
		points: make(map[string]*point),
	}
}

func (ix *index) collection(op, name string) (*collectionIndex, error) {
	c, ok := ix.collections[name]
	if !ok {
		return nil, fault.Newf(fault.NotFound, ix.source, op, "collection %q does not exist", name)
	}
	return c, nil
}

func (ix *index) names() []string {
	names := make([]string, 0, len(ix.collections))
	for name := range ix.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// prepare validates rec and returns a private copy with its ID assigned.
func (ix *index) prepare(collection string, rec Record) (Record, error) {
	c, err := ix.collection("upsert", collection)
	if err != nil {
		return Record{}, err
	}
	if err := ValidateRecord(ix.source, c.schema, rec); err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return copyRecord(rec), nil
}

// put stores a prepared record. An overwrite keeps the original insertion order.
func (ix *index) put(collection string, rec Record) {
	c := ix.collections[collection]
	if p, ok := c.points[rec.ID]; ok {
		p.rec = rec
		return
	}
	c.seq++
	c.points[rec.ID] = &point{rec: rec, seq: c.seq}
}

func (ix *index) search(collection, space string, vector []float32, limit int, filter *Filter) ([]Hit, error) {
	c, err := ix.collection("query", collection)
	if err != nil {
		return nil, err
	}
	vs, err := ValidateQuery(ix.source, c.schema, space, vector, limit)
	if err != nil {
		return nil, err
	}

	type scored struct {
		hit Hit
		seq uint64
	}
	candidates := make([]scored, 0, len(c.points))
	for id, p := range c.points {
		vec, ok := p.rec.Vectors[space]
		if !ok || !filter.Matches(p.rec.Payload) {
			continue
		}
		candidates = append(candidates, scored{
			hit: Hit{ID: id, Score: Score(vs.Distance, vector, vec), Payload: maps.Clone(p.rec.Payload)},
			seq: p.seq,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].hit.Score != candidates[j].hit.Score {
			return candidates[i].hit.Score > candidates[j].hit.Score
		}
		return candidates[i].seq < candidates[j].seq
	})

	if limit > len(candidates) {
		limit = len(candidates)
	}
	hits := make([]Hit, limit)
	for i := range hits {
		hits[i] = candidates[i].hit
	}
	return hits, nil
}

func (ix *index) get(collection, id string) (*Record, error) {
	c, err := ix.collection("get", collection)
	if err != nil {
		return nil, err
	}
	p, ok := c.points[id]
	if !ok {
		return nil, fault.Newf(fault.NotFound, ix.source, "get", "record %q not found in %q", id, collection)
	}
	rec := copyRecord(p.rec)
	return &rec, nil
}

func copyRecord(rec Record) Record {
	out := Record{ID: rec.ID, Vectors: make(map[string][]float32, len(rec.Vectors))}
	for name, vec := range rec.Vectors {
		out.Vectors[name] = append([]float32(nil), vec...)
	}
	if rec.Payload != nil {
		out.Payload = maps.Clone(rec.Payload)
	}
	return out
}
