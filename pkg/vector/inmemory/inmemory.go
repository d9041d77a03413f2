// Package inmemory provides a brute-force vector.Driver held in process memory.
package inmemory

import (
	"context"
	"sync"

	"github.com/papercomputeco/chatty/pkg/vector"
)

// Driver keeps every document in a map guarded by a RWMutex.
type Driver struct {
	mu   sync.RWMutex
	docs map[string]vector.Document
}

func NewDriver() *Driver {
	return &Driver{
		docs: make(map[string]vector.Document),
	}
}

func (d *Driver) Add(_ context.Context, docs []vector.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, doc := range docs {
		d.docs[doc.ID] = clone(doc)
	}
	return nil
}

func (d *Driver) Replace(_ context.Context, filter vector.Filter, doc vector.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.deleteLocked(filter)
	d.docs[doc.ID] = clone(doc)
	return nil
}

func (d *Driver) Query(_ context.Context, q vector.Query) ([]vector.QueryResult, error) {
	if q.TopK <= 0 {
		return []vector.QueryResult{}, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	results := make([]vector.QueryResult, 0, len(d.docs))
	for _, doc := range d.docs {
		if !q.Filter.Matches(doc) {
			continue
		}
		results = append(results, vector.QueryResult{
			Document: clone(doc),
			Score:    vector.CosineSimilarity(q.Embedding, doc.Embedding),
		})
	}

	return vector.FinalizeResults(results, q.MinScore, q.TopK), nil
}

func (d *Driver) List(_ context.Context, filter vector.Filter, limit int) ([]vector.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	docs := []vector.Document{}
	for _, doc := range d.docs {
		if filter.Matches(doc) {
			docs = append(docs, clone(doc))
		}
	}

	vector.SortNewestFirst(docs)
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (d *Driver) Delete(_ context.Context, filter vector.Filter) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.deleteLocked(filter)
	return nil
}

func (d *Driver) deleteLocked(filter vector.Filter) {
	for id, doc := range d.docs {
		if filter.Matches(doc) {
			delete(d.docs, id)
		}
	}
}

func (d *Driver) Close() error {
	return nil
}

func clone(doc vector.Document) vector.Document {
	emb := make([]float32, len(doc.Embedding))
	copy(emb, doc.Embedding)
	doc.Embedding = emb
	return doc
}

var _ vector.Driver = (*Driver)(nil)
