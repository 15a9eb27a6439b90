package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/abdul-hamid-achik/multivec/internal/fault"
)

var (
	bucketCollections = []byte("collections")
	bucketPoints      = []byte("points")
)

// Bolt is a persistent single-process Store backed by a bbolt file. Records
// are mirrored in memory and searched by brute force.
type Bolt struct {
	db *bbolt.DB
	mu sync.RWMutex
	ix *index
}

type storedPoint struct {
	Vectors map[string][]float32 `json:"v"`
	Payload map[string]any       `json:"p,omitempty"`
	Seq     uint64               `json:"s"`
}

// OpenBolt opens (or creates) the database at path and loads it into memory.
func OpenBolt(path string) (*Bolt, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fault.New(fault.StoreUnavailable, "bolt", "open", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketCollections, bucketPoints} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fault.New(fault.StoreUnavailable, "bolt", "open", err)
	}

	s := &Bolt{db: db, ix: newIndex("bolt")}
	if err := s.load(); err != nil {
		db.Close()
		return nil, fault.New(fault.StoreUnavailable, "bolt", "load", err)
	}
	return s, nil
}

func (s *Bolt) load() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		points := tx.Bucket(bucketPoints)
		return tx.Bucket(bucketCollections).ForEach(func(k, v []byte) error {
			var schema Schema
			if err := json.Unmarshal(v, &schema); err != nil {
				return fmt.Errorf("collection %s: %w", k, err)
			}
			name := string(k)
			s.ix.create(name, schema)
			c := s.ix.collections[name]

			b := points.Bucket(k)
			if b == nil {
				return nil
			}
			return b.ForEach(func(id, data []byte) error {
				var sp storedPoint
				if err := json.Unmarshal(data, &sp); err != nil {
					return fmt.Errorf("point %s/%s: %w", k, id, err)
				}
				c.points[string(id)] = &point{
					rec: Record{ID: string(id), Vectors: sp.Vectors, Payload: sp.Payload},
					seq: sp.Seq,
				}
				c.seq = max(c.seq, sp.Seq)
				return nil
			})
		})
	})
}

func (s *Bolt) update(op string, fn func(tx *bbolt.Tx) error) error {
	if err := s.db.Update(fn); err != nil {
		return fault.New(fault.StoreUnavailable, "bolt", op, err)
	}
	return nil
}

func (s *Bolt) CreateCollection(ctx context.Context, name string, schema Schema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.ix.checkCreate(name, schema)
	if err != nil || exists {
		return err
	}

	data, err := json.Marshal(NormalizeSchema(schema))
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	err = s.update("create collection", func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketCollections).Put([]byte(name), data); err != nil {
			return err
		}
		_, err := tx.Bucket(bucketPoints).CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return err
	}
	s.ix.create(name, schema)
	return nil
}

func (s *Bolt) DescribeCollection(ctx context.Context, name string) (Schema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.ix.collection("describe collection", name)
	if err != nil {
		return nil, err
	}
	return NormalizeSchema(c.schema), nil
}

func (s *Bolt) ListCollections(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix.names(), nil
}

func (s *Bolt) DeleteCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ix.collection("delete collection", name); err != nil {
		return err
	}
	err := s.update("delete collection", func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketCollections).Delete([]byte(name)); err != nil {
			return err
		}
		if tx.Bucket(bucketPoints).Bucket([]byte(name)) != nil {
			return tx.Bucket(bucketPoints).DeleteBucket([]byte(name))
		}
		return nil
	})
	if err != nil {
		return err
	}
	delete(s.ix.collections, name)
	return nil
}

// Upsert writes the record in a single transaction; the in-memory mirror is
// only touched after the commit succeeds.
func (s *Bolt) Upsert(ctx context.Context, collection string, rec Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prepared, err := s.ix.prepare(collection, rec)
	if err != nil {
		return "", err
	}

	c := s.ix.collections[collection]
	seq := c.seq + 1
	if p, ok := c.points[prepared.ID]; ok {
		seq = p.seq
	}

	data, err := json.Marshal(storedPoint{Vectors: prepared.Vectors, Payload: prepared.Payload, Seq: seq})
	if err != nil {
		return "", fault.New(fault.InvalidInput, "bolt", "upsert", fmt.Errorf("marshal record: %w", err))
	}
	err = s.update("upsert", func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPoints).Bucket([]byte(collection))
		if b == nil {
			return fmt.Errorf("points bucket for %q missing", collection)
		}
		return b.Put([]byte(prepared.ID), data)
	})
	if err != nil {
		return "", err
	}

	s.ix.put(collection, prepared)
	return prepared.ID, nil
}

func (s *Bolt) Query(ctx context.Context, collection, space string, vector []float32, limit int, filter *Filter) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix.search(collection, space, vector, limit, filter)
}

func (s *Bolt) Get(ctx context.Context, collection, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix.get(collection, id)
}

func (s *Bolt) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.ix.collection("delete", collection)
	if err != nil {
		return err
	}
	err = s.update("delete", func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketPoints).Bucket([]byte(collection)); b != nil {
			return b.Delete([]byte(id))
		}
		return nil
	})
	if err != nil {
		return err
	}
	delete(c.points, id)
	return nil
}

func (s *Bolt) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.View(func(*bbolt.Tx) error { return nil }); err != nil {
		return fault.New(fault.StoreUnavailable, "bolt", "health", err)
	}
	return nil
}

func (s *Bolt) Close() error {
	return s.db.Close()
}
