package store

import (
	"context"
	"sync"

	"github.com/abdul-hamid-achik/multivec/internal/fault"
)

// Memory is an in-process Store. Nothing survives Close.
type Memory struct {
	mu     sync.RWMutex
	ix     *index
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{ix: newIndex("memory")}
}

func (m *Memory) begin(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed {
		return fault.Newf(fault.StoreUnavailable, "memory", op, "store is closed")
	}
	return nil
}

func (m *Memory) CreateCollection(ctx context.Context, name string, schema Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "create collection"); err != nil {
		return err
	}
	exists, err := m.ix.checkCreate(name, schema)
	if err != nil || exists {
		return err
	}
	m.ix.create(name, schema)
	return nil
}

func (m *Memory) DescribeCollection(ctx context.Context, name string) (Schema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.begin(ctx, "describe collection"); err != nil {
		return nil, err
	}
	c, err := m.ix.collection("describe collection", name)
	if err != nil {
		return nil, err
	}
	return NormalizeSchema(c.schema), nil
}

func (m *Memory) ListCollections(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.begin(ctx, "list collections"); err != nil {
		return nil, err
	}
	return m.ix.names(), nil
}

func (m *Memory) DeleteCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "delete collection"); err != nil {
		return err
	}
	if _, err := m.ix.collection("delete collection", name); err != nil {
		return err
	}
	delete(m.ix.collections, name)
	return nil
}

func (m *Memory) Upsert(ctx context.Context, collection string, rec Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "upsert"); err != nil {
		return "", err
	}
	prepared, err := m.ix.prepare(collection, rec)
	if err != nil {
		return "", err
	}
	m.ix.put(collection, prepared)
	return prepared.ID, nil
}

func (m *Memory) Query(ctx context.Context, collection, space string, vector []float32, limit int, filter *Filter) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.begin(ctx, "query"); err != nil {
		return nil, err
	}
	return m.ix.search(collection, space, vector, limit, filter)
}

func (m *Memory) Get(ctx context.Context, collection, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.begin(ctx, "get"); err != nil {
		return nil, err
	}
	return m.ix.get(collection, id)
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "delete"); err != nil {
		return err
	}
	c, err := m.ix.collection("delete", collection)
	if err != nil {
		return err
	}
	delete(c.points, id)
	return nil
}

func (m *Memory) Health(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.begin(ctx, "health")
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
