// Package qdrant provides a vector.Driver backed by a Qdrant server over gRPC.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/vector"
)

const (
	DefaultCollection = "chatty_memory"
	DefaultHost       = "localhost"
	DefaultPort       = 6334

	// listAllLimit caps List calls that ask for every match.
	listAllLimit = 10000

	fieldDocID     = "doc_id"
	fieldText      = "text"
	fieldKind      = "kind"
	fieldRole      = "role"
	fieldUserID    = "user_id"
	fieldPlatform  = "platform"
	fieldFactKey   = "fact_key"
	fieldCreatedAt = "created_at"
	fieldSeq       = "seq"
)

// pointNamespace derives stable point UUIDs for document IDs that are not UUIDs.
var pointNamespace = uuid.MustParse("6b0f4a52-3c1e-4d8e-9a57-2f1b7c9e0d43")

// Config holds configuration for the Qdrant driver.
type Config struct {
	// Target is "host:port" of the gRPC endpoint. Defaults to localhost:6334.
	Target string

	APIKey     string
	UseTLS     bool
	Collection string
	Dimensions uint
}

// Driver implements vector.Driver on a cosine Qdrant collection.
type Driver struct {
	client     *qdrant.Client
	collection string
	dimensions uint
	logger     *zap.Logger
}

func NewDriver(ctx context.Context, c Config, logger *zap.Logger) (*Driver, error) {
	if c.Dimensions == 0 {
		return nil, errors.New("qdrant embedding dimensions cannot be 0, must be configured")
	}

	host, port, err := splitTarget(c.Target)
	if err != nil {
		return nil, err
	}

	collection := c.Collection
	if collection == "" {
		collection = DefaultCollection
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating qdrant client: %v", vector.ErrConnection, err)
	}

	d := &Driver{
		client:     client,
		collection: collection,
		dimensions: c.Dimensions,
		logger:     logger,
	}

	if err := d.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}

	logger.Info("qdrant vector driver initialized",
		zap.String("target", net.JoinHostPort(host, strconv.Itoa(port))),
		zap.String("collection", collection),
		zap.Uint("dimensions", c.Dimensions),
	)

	return d, nil
}

func splitTarget(target string) (string, int, error) {
	if target == "" {
		return DefaultHost, DefaultPort, nil
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, fmt.Errorf("invalid qdrant target %q: %w", target, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid qdrant port %q: %w", portStr, err)
	}
	return host, port, nil
}

func (d *Driver) ensureCollection(ctx context.Context) error {
	exists, err := d.client.CollectionExists(ctx, d.collection)
	if err != nil {
		return fmt.Errorf("%w: checking collection: %v", vector.ErrConnection, err)
	}
	if exists {
		return nil
	}

	err = d.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: d.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(d.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: creating collection: %v", vector.ErrConnection, err)
	}

	indexes := map[string]qdrant.FieldType{
		fieldUserID:   qdrant.FieldType_FieldTypeKeyword,
		fieldPlatform: qdrant.FieldType_FieldTypeKeyword,
		fieldKind:     qdrant.FieldType_FieldTypeKeyword,
		fieldFactKey:  qdrant.FieldType_FieldTypeKeyword,
		fieldSeq:      qdrant.FieldType_FieldTypeInteger,
	}
	for field, fieldType := range indexes {
		_, err := d.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: d.collection,
			Wait:           qdrant.PtrOf(true),
			FieldName:      field,
			FieldType:      fieldType.Enum(),
		})
		if err != nil {
			return fmt.Errorf("%w: creating %s index: %v", vector.ErrConnection, field, err)
		}
	}

	return nil
}

// pointID maps a document ID onto a Qdrant UUID point ID.
func pointID(docID string) *qdrant.PointId {
	if id, err := uuid.Parse(docID); err == nil {
		return qdrant.NewID(id.String())
	}
	return qdrant.NewID(uuid.NewSHA1(pointNamespace, []byte(docID)).String())
}

func filterOf(f vector.Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	add := func(field, val string) {
		if val != "" {
			must = append(must, qdrant.NewMatch(field, val))
		}
	}
	add(fieldUserID, f.UserID)
	add(fieldPlatform, f.Platform)
	add(fieldKind, f.Kind)
	add(fieldFactKey, f.FactKey)

	return &qdrant.Filter{Must: must}
}

func toPoint(doc vector.Document) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id:      pointID(doc.ID),
		Vectors: qdrant.NewVectors(doc.Embedding...),
		Payload: qdrant.NewValueMap(map[string]any{
			fieldDocID:     doc.ID,
			fieldText:      doc.Text,
			fieldKind:      doc.Kind,
			fieldRole:      doc.Role,
			fieldUserID:    doc.UserID,
			fieldPlatform:  doc.Platform,
			fieldFactKey:   doc.FactKey,
			fieldCreatedAt: doc.CreatedAt.UnixNano(),
			fieldSeq:       doc.Seq,
		}),
	}
}

func fromPayload(payload map[string]*qdrant.Value, vectors *qdrant.VectorsOutput) vector.Document {
	doc := vector.Document{
		ID:        payload[fieldDocID].GetStringValue(),
		Text:      payload[fieldText].GetStringValue(),
		Kind:      payload[fieldKind].GetStringValue(),
		Role:      payload[fieldRole].GetStringValue(),
		UserID:    payload[fieldUserID].GetStringValue(),
		Platform:  payload[fieldPlatform].GetStringValue(),
		FactKey:   payload[fieldFactKey].GetStringValue(),
		CreatedAt: time.Unix(0, payload[fieldCreatedAt].GetIntegerValue()).UTC(),
		Seq:       payload[fieldSeq].GetIntegerValue(),
	}
	if v := vectors.GetVector(); v != nil {
		doc.Embedding = v.GetData()
	}
	return doc
}

func (d *Driver) checkDimensions(v []float32) error {
	if uint(len(v)) != d.dimensions {
		return fmt.Errorf("%w: expected %d, got %d", vector.ErrDimension, d.dimensions, len(v))
	}
	return nil
}

func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, doc := range docs {
		if err := d.checkDimensions(doc.Embedding); err != nil {
			return fmt.Errorf("doc %s: %w", doc.ID, err)
		}
		points = append(points, toPoint(doc))
	}

	_, err := d.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: d.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: upserting points: %v", vector.ErrConnection, err)
	}

	d.logger.Debug("added documents to qdrant", zap.Int("count", len(docs)))
	return nil
}

// Replace deletes matches then upserts doc. Qdrant has no multi-operation
// transactions; callers serialize replaces per key, and readers may briefly
// observe neither version.
func (d *Driver) Replace(ctx context.Context, filter vector.Filter, doc vector.Document) error {
	if err := d.checkDimensions(doc.Embedding); err != nil {
		return fmt.Errorf("doc %s: %w", doc.ID, err)
	}

	if err := d.Delete(ctx, filter); err != nil {
		return err
	}
	return d.Add(ctx, []vector.Document{doc})
}

func (d *Driver) Query(ctx context.Context, q vector.Query) ([]vector.QueryResult, error) {
	if q.TopK <= 0 {
		return []vector.QueryResult{}, nil
	}
	if err := d.checkDimensions(q.Embedding); err != nil {
		return nil, err
	}

	req := &qdrant.QueryPoints{
		CollectionName: d.collection,
		Query:          qdrant.NewQuery(q.Embedding...),
		Filter:         filterOf(q.Filter),
		Limit:          qdrant.PtrOf(uint64(q.TopK)), //nolint:gosec // TopK is positive
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if q.MinScore > 0 {
		req.ScoreThreshold = qdrant.PtrOf(q.MinScore)
	}

	points, err := d.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: querying points: %v", vector.ErrConnection, err)
	}

	results := make([]vector.QueryResult, 0, len(points))
	for _, p := range points {
		results = append(results, vector.QueryResult{
			Document: fromPayload(p.GetPayload(), p.GetVectors()),
			Score:    p.GetScore(),
		})
	}

	return vector.FinalizeResults(results, q.MinScore, q.TopK), nil
}

func (d *Driver) List(ctx context.Context, filter vector.Filter, limit int) ([]vector.Document, error) {
	if limit <= 0 || limit > listAllLimit {
		limit = listAllLimit
	}

	points, err := d.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: d.collection,
		Filter:         filterOf(filter),
		Limit:          qdrant.PtrOf(uint32(limit)), //nolint:gosec // bounded by listAllLimit
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
		OrderBy: &qdrant.OrderBy{
			Key:       fieldSeq,
			Direction: qdrant.Direction_Desc.Enum(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scrolling points: %v", vector.ErrConnection, err)
	}

	docs := make([]vector.Document, 0, len(points))
	for _, p := range points {
		docs = append(docs, fromPayload(p.GetPayload(), p.GetVectors()))
	}

	vector.SortNewestFirst(docs)
	return docs, nil
}

func (d *Driver) Delete(ctx context.Context, filter vector.Filter) error {
	_, err := d.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: d.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(filterOf(filter)),
	})
	if err != nil {
		return fmt.Errorf("%w: deleting points: %v", vector.ErrConnection, err)
	}
	return nil
}

func (d *Driver) Close() error {
	return d.client.Close()
}

var _ vector.Driver = (*Driver)(nil)
