// Package chromem provides an embedded vector.Driver backed by chromem-go.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/vector"
)

const (
	// DefaultCollection is the chromem collection holding chatty memory.
	DefaultCollection = "chatty_memory"

	metaUserID    = "user_id"
	metaPlatform  = "platform"
	metaKind      = "kind"
	metaRole      = "role"
	metaFactKey   = "fact_key"
	metaCreatedAt = "created_at"
	metaSeq       = "seq"
)

// Config holds configuration for the chromem driver.
type Config struct {
	// Path persists the database to a directory. Empty keeps it in memory.
	Path string

	// Collection defaults to DefaultCollection.
	Collection string

	// Dimensions is required to list documents, which chromem only exposes
	// through similarity queries.
	Dimensions uint
}

// Driver implements vector.Driver on a single chromem collection.
//
// chromem scores every filtered document on each query, so the driver asks
// for the whole collection and applies vector.FinalizeResults itself. This
// keeps tie-breaks exact.
type Driver struct {
	mu         sync.RWMutex
	db         *chromem.DB
	col        *chromem.Collection
	dimensions uint
	logger     *zap.Logger
}

func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	if c.Dimensions == 0 {
		return nil, errors.New("chromem embedding dimensions cannot be 0, must be configured")
	}

	name := c.Collection
	if name == "" {
		name = DefaultCollection
	}

	var (
		db  *chromem.DB
		err error
	)
	if c.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(c.Path, false)
		if err != nil {
			return nil, fmt.Errorf("%w: opening chromem db: %v", vector.ErrConnection, err)
		}
	}

	// Embeddings are always supplied by the memory store, never computed here.
	col, err := db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating collection: %v", vector.ErrConnection, err)
	}

	logger.Info("chromem vector driver initialized",
		zap.String("path", c.Path),
		zap.String("collection", name),
		zap.Int("documents", col.Count()),
	)

	return &Driver{
		db:         db,
		col:        col,
		dimensions: c.Dimensions,
		logger:     logger,
	}, nil
}

func toChromem(doc vector.Document) chromem.Document {
	return chromem.Document{
		ID:      doc.ID,
		Content: doc.Text,
		Metadata: map[string]string{
			metaUserID:    doc.UserID,
			metaPlatform:  doc.Platform,
			metaKind:      doc.Kind,
			metaRole:      doc.Role,
			metaFactKey:   doc.FactKey,
			metaCreatedAt: doc.CreatedAt.UTC().Format(time.RFC3339Nano),
			metaSeq:       strconv.FormatInt(doc.Seq, 10),
		},
		Embedding: vector.Normalize(doc.Embedding),
	}
}

func fromResult(r chromem.Result) vector.Document {
	createdAt, _ := time.Parse(time.RFC3339Nano, r.Metadata[metaCreatedAt])
	seq, _ := strconv.ParseInt(r.Metadata[metaSeq], 10, 64)

	return vector.Document{
		ID:        r.ID,
		Text:      r.Content,
		Kind:      r.Metadata[metaKind],
		Role:      r.Metadata[metaRole],
		UserID:    r.Metadata[metaUserID],
		Platform:  r.Metadata[metaPlatform],
		FactKey:   r.Metadata[metaFactKey],
		CreatedAt: createdAt,
		Seq:       seq,
		Embedding: r.Embedding,
	}
}

func where(f vector.Filter) map[string]string {
	w := map[string]string{}
	if f.UserID != "" {
		w[metaUserID] = f.UserID
	}
	if f.Platform != "" {
		w[metaPlatform] = f.Platform
	}
	if f.Kind != "" {
		w[metaKind] = f.Kind
	}
	if f.FactKey != "" {
		w[metaFactKey] = f.FactKey
	}
	if len(w) == 0 {
		return nil
	}
	return w
}

func (d *Driver) checkDimensions(v []float32) error {
	if uint(len(v)) != d.dimensions {
		return fmt.Errorf("%w: expected %d, got %d", vector.ErrDimension, d.dimensions, len(v))
	}
	return nil
}

func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	for _, doc := range docs {
		if err := d.checkDimensions(doc.Embedding); err != nil {
			return fmt.Errorf("doc %s: %w", doc.ID, err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, doc := range docs {
		if err := d.col.AddDocument(ctx, toChromem(doc)); err != nil {
			return fmt.Errorf("%w: adding document %s: %v", vector.ErrConnection, doc.ID, err)
		}
	}

	d.logger.Debug("added documents to chromem", zap.Int("count", len(docs)))
	return nil
}

func (d *Driver) Replace(ctx context.Context, filter vector.Filter, doc vector.Document) error {
	if err := d.checkDimensions(doc.Embedding); err != nil {
		return fmt.Errorf("doc %s: %w", doc.ID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.deleteLocked(ctx, filter); err != nil {
		return err
	}

	if err := d.col.AddDocument(ctx, toChromem(doc)); err != nil {
		return fmt.Errorf("%w: adding document %s: %v", vector.ErrConnection, doc.ID, err)
	}
	return nil
}

func (d *Driver) Query(ctx context.Context, q vector.Query) ([]vector.QueryResult, error) {
	if q.TopK <= 0 {
		return []vector.QueryResult{}, nil
	}
	if err := d.checkDimensions(q.Embedding); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	raw, err := d.queryAll(ctx, q.Embedding, q.Filter)
	if err != nil {
		return nil, err
	}

	results := make([]vector.QueryResult, 0, len(raw))
	for _, r := range raw {
		results = append(results, vector.QueryResult{
			Document: fromResult(r),
			Score:    r.Similarity,
		})
	}

	return vector.FinalizeResults(results, q.MinScore, q.TopK), nil
}

// queryAll scores every document matching the filter.
func (d *Driver) queryAll(ctx context.Context, embedding []float32, filter vector.Filter) ([]chromem.Result, error) {
	n := d.col.Count()
	if n == 0 {
		return nil, nil
	}

	raw, err := d.col.QueryEmbedding(ctx, vector.Normalize(embedding), n, where(filter), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: chromem query: %v", vector.ErrConnection, err)
	}
	return raw, nil
}

func (d *Driver) List(ctx context.Context, filter vector.Filter, limit int) ([]vector.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.listLocked(ctx, filter, limit)
}

func (d *Driver) listLocked(ctx context.Context, filter vector.Filter, limit int) ([]vector.Document, error) {
	// chromem has no scan API, so any unit vector reaches every document.
	unit := make([]float32, d.dimensions)
	unit[0] = 1

	raw, err := d.queryAll(ctx, unit, filter)
	if err != nil {
		return nil, err
	}

	docs := make([]vector.Document, 0, len(raw))
	for _, r := range raw {
		docs = append(docs, fromResult(r))
	}

	vector.SortNewestFirst(docs)
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (d *Driver) Delete(ctx context.Context, filter vector.Filter) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.deleteLocked(ctx, filter)
}

func (d *Driver) deleteLocked(ctx context.Context, filter vector.Filter) error {
	if w := where(filter); w != nil {
		if err := d.col.Delete(ctx, w, nil); err != nil {
			return fmt.Errorf("%w: deleting documents: %v", vector.ErrConnection, err)
		}
		return nil
	}

	// chromem refuses an unfiltered delete, so delete by ID.
	docs, err := d.listLocked(ctx, filter, 0)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	if err := d.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("%w: deleting documents: %v", vector.ErrConnection, err)
	}
	return nil
}

func (d *Driver) Close() error {
	return nil
}

var _ vector.Driver = (*Driver)(nil)
