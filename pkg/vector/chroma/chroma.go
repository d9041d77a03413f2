// Package chroma provides a Chroma vector database driver implementation.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection name for chatty memory.
	DefaultCollectionName = "chatty_memory"

	collectionsPath = "/api/v2/tenants/default_tenant/databases/default_database/collections"

	// queryHeadroom is fetched beyond TopK so documents tied on score can be
	// reordered by recency before the cut.
	queryHeadroom = 16

	metaUserID    = "user_id"
	metaPlatform  = "platform"
	metaKind      = "kind"
	metaRole      = "role"
	metaFactKey   = "fact_key"
	metaCreatedAt = "created_at"
	metaSeq       = "seq"
)

var (
	includeDocs  = []string{"metadatas", "documents", "embeddings"}
	includeQuery = []string{"metadatas", "documents", "embeddings", "distances"}
)

// ChromaDriver implements vector.Driver using Chroma's REST API.
type ChromaDriver struct {
	baseURL        string
	collectionName string
	collectionID   string
	dimensions     uint
	httpClient     *http.Client
	logger         *zap.Logger
}

// Config holds configuration for the Chroma driver.
type Config struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	// CollectionName is the name of the collection to use.
	// Defaults to DefaultCollectionName if empty.
	CollectionName string

	// Dimensions, when set, rejects embeddings of any other size before they
	// reach the server.
	Dimensions uint
}

// NewChromaDriver creates a new Chroma vector driver.
func NewChromaDriver(ctx context.Context, c Config, logger *zap.Logger) (*ChromaDriver, error) {
	if c.URL == "" {
		return nil, errors.New("chroma URL is required")
	}

	collectionName := c.CollectionName
	if collectionName == "" {
		collectionName = DefaultCollectionName
	}

	d := &ChromaDriver{
		baseURL:        strings.TrimRight(c.URL, "/"),
		collectionName: collectionName,
		dimensions:     c.Dimensions,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}

	collectionID, err := d.getOrCreateCollection(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: getting or creating collection %q: %v", vector.ErrConnection, collectionName, err)
	}
	d.collectionID = collectionID

	logger.Info("connected to Chroma",
		zap.String("url", c.URL),
		zap.String("collection", collectionName),
		zap.String("collection_id", collectionID),
	)

	return d, nil
}

// getOrCreateCollection gets an existing collection or creates a new one
// using cosine distance.
func (d *ChromaDriver) getOrCreateCollection(ctx context.Context) (string, error) {
	var collection chromaCollection
	err := d.do(ctx, http.MethodGet, collectionsPath+"/"+d.collectionName, nil, &collection)
	if err == nil {
		return collection.ID, nil
	}

	create := chromaCreateRequest{
		Name:        d.collectionName,
		Metadata:    map[string]any{"hnsw:space": "cosine"},
		GetOrCreate: true,
	}
	if err := d.do(ctx, http.MethodPost, collectionsPath, create, &collection); err != nil {
		return "", err
	}
	return collection.ID, nil
}

func (d *ChromaDriver) collectionURL(op string) string {
	return collectionsPath + "/" + d.collectionID + "/" + op
}

// do sends a JSON request and decodes the response into out when non-nil.
func (d *ChromaDriver) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (d *ChromaDriver) checkDimensions(emb []float32) error {
	if len(emb) == 0 {
		return fmt.Errorf("%w: empty embedding", vector.ErrDimension)
	}
	if d.dimensions != 0 && uint(len(emb)) != d.dimensions {
		return fmt.Errorf("%w: got %d, want %d", vector.ErrDimension, len(emb), d.dimensions)
	}
	return nil
}

// Add upserts documents with their embeddings.
func (d *ChromaDriver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	req := chromaUpsertRequest{
		IDs:        make([]string, len(docs)),
		Embeddings: make([][]float32, len(docs)),
		Metadatas:  make([]map[string]any, len(docs)),
		Documents:  make([]string, len(docs)),
	}

	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("%w: missing id", vector.ErrInvalidDocument)
		}
		if err := d.checkDimensions(doc.Embedding); err != nil {
			return err
		}
		req.IDs[i] = doc.ID
		req.Embeddings[i] = doc.Embedding
		req.Metadatas[i] = metadataOf(doc)
		req.Documents[i] = doc.Text
	}

	if err := d.do(ctx, http.MethodPost, d.collectionURL("upsert"), req, nil); err != nil {
		return fmt.Errorf("%w: upserting documents: %v", vector.ErrConnection, err)
	}

	d.logger.Debug("added documents to chroma",
		zap.Int("count", len(docs)),
	)

	return nil
}

// Replace deletes the documents matching filter and then adds doc. Chroma has
// no transactions, so a failure between the two calls leaves the delete applied.
func (d *ChromaDriver) Replace(ctx context.Context, filter vector.Filter, doc vector.Document) error {
	if err := d.checkDimensions(doc.Embedding); err != nil {
		return err
	}
	if err := d.Delete(ctx, filter); err != nil {
		return err
	}
	return d.Add(ctx, []vector.Document{doc})
}

// Query finds the TopK most similar documents matching the filter.
func (d *ChromaDriver) Query(ctx context.Context, q vector.Query) ([]vector.QueryResult, error) {
	if q.TopK <= 0 {
		return []vector.QueryResult{}, nil
	}
	if err := d.checkDimensions(q.Embedding); err != nil {
		return nil, err
	}

	req := chromaQueryRequest{
		QueryEmbeddings: [][]float32{q.Embedding},
		NResults:        q.TopK + queryHeadroom,
		Where:           whereOf(q.Filter),
		Include:         includeQuery,
	}

	var resp chromaQueryResponse
	if err := d.do(ctx, http.MethodPost, d.collectionURL("query"), req, &resp); err != nil {
		return nil, fmt.Errorf("%w: querying: %v", vector.ErrConnection, err)
	}

	results := []vector.QueryResult{}
	if len(resp.IDs) > 0 {
		for i, id := range resp.IDs[0] {
			doc := vector.Document{ID: id}
			if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
				applyMetadata(&doc, resp.Metadatas[0][i])
			}
			if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
				doc.Text = resp.Documents[0][i]
			}
			if len(resp.Embeddings) > 0 && i < len(resp.Embeddings[0]) {
				doc.Embedding = resp.Embeddings[0][i]
			}

			var score float32
			if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
				// cosine space reports 1 - similarity
				score = 1 - resp.Distances[0][i]
			}
			results = append(results, vector.QueryResult{Document: doc, Score: score})
		}
	}

	results = vector.FinalizeResults(results, q.MinScore, q.TopK)

	d.logger.Debug("queried chroma",
		zap.Int("top_k", q.TopK),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// List returns documents matching the filter, newest first. Chroma cannot
// order a get, so every match is fetched and sorted locally.
func (d *ChromaDriver) List(ctx context.Context, filter vector.Filter, limit int) ([]vector.Document, error) {
	resp, err := d.get(ctx, chromaGetRequest{Where: whereOf(filter), Include: includeDocs})
	if err != nil {
		return nil, err
	}

	docs := make([]vector.Document, 0, len(resp.IDs))
	for i, id := range resp.IDs {
		doc := vector.Document{ID: id}
		if i < len(resp.Metadatas) {
			applyMetadata(&doc, resp.Metadatas[i])
		}
		if i < len(resp.Documents) {
			doc.Text = resp.Documents[i]
		}
		if i < len(resp.Embeddings) {
			doc.Embedding = resp.Embeddings[i]
		}
		docs = append(docs, doc)
	}

	vector.SortNewestFirst(docs)
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (d *ChromaDriver) get(ctx context.Context, req chromaGetRequest) (*chromaGetResponse, error) {
	var resp chromaGetResponse
	if err := d.do(ctx, http.MethodPost, d.collectionURL("get"), req, &resp); err != nil {
		return nil, fmt.Errorf("%w: getting documents: %v", vector.ErrConnection, err)
	}
	return &resp, nil
}

// Delete removes every document matching the filter. Chroma rejects an empty
// where clause, so an unfiltered delete resolves the IDs first.
func (d *ChromaDriver) Delete(ctx context.Context, filter vector.Filter) error {
	req := chromaDeleteRequest{Where: whereOf(filter)}
	if filter.IsEmpty() {
		resp, err := d.get(ctx, chromaGetRequest{Include: []string{}})
		if err != nil {
			return err
		}
		if len(resp.IDs) == 0 {
			return nil
		}
		req.IDs = resp.IDs
	}

	if err := d.do(ctx, http.MethodPost, d.collectionURL("delete"), req, nil); err != nil {
		return fmt.Errorf("%w: deleting documents: %v", vector.ErrConnection, err)
	}

	d.logger.Debug("deleted documents from chroma",
		zap.String("user_id", filter.UserID),
		zap.String("kind", filter.Kind),
	)

	return nil
}

// Close closes the driver's idle connections.
func (d *ChromaDriver) Close() error {
	d.httpClient.CloseIdleConnections()
	return nil
}

// whereOf renders a filter as a Chroma where clause. Multiple conditions must
// be wrapped in $and.
func whereOf(f vector.Filter) map[string]any {
	var conds []map[string]any
	add := func(key, value string) {
		if value != "" {
			conds = append(conds, map[string]any{key: map[string]any{"$eq": value}})
		}
	}
	add(metaUserID, f.UserID)
	add(metaPlatform, f.Platform)
	add(metaKind, f.Kind)
	add(metaFactKey, f.FactKey)

	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	default:
		and := make([]any, len(conds))
		for i, c := range conds {
			and[i] = c
		}
		return map[string]any{"$and": and}
	}
}

// metadataOf stores timestamps as strings since JSON numbers lose precision
// past 2^53.
func metadataOf(doc vector.Document) map[string]any {
	return map[string]any{
		metaUserID:    doc.UserID,
		metaPlatform:  doc.Platform,
		metaKind:      doc.Kind,
		metaRole:      doc.Role,
		metaFactKey:   doc.FactKey,
		metaCreatedAt: doc.CreatedAt.UTC().Format(time.RFC3339Nano),
		metaSeq:       strconv.FormatInt(doc.Seq, 10),
	}
}

func applyMetadata(doc *vector.Document, meta map[string]any) {
	str := func(key string) string {
		s, _ := meta[key].(string)
		return s
	}
	doc.UserID = str(metaUserID)
	doc.Platform = str(metaPlatform)
	doc.Kind = str(metaKind)
	doc.Role = str(metaRole)
	doc.FactKey = str(metaFactKey)
	if t, err := time.Parse(time.RFC3339Nano, str(metaCreatedAt)); err == nil {
		doc.CreatedAt = t
	}
	if seq, err := strconv.ParseInt(str(metaSeq), 10, 64); err == nil {
		doc.Seq = seq
	}
}
