package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/clock"
	"github.com/papercomputeco/chatty/pkg/embeddings"
	"github.com/papercomputeco/chatty/pkg/eventstream"
	"github.com/papercomputeco/chatty/pkg/vector"
)

// Config holds the Store's collaborators.
type Config struct {
	Embedder embeddings.Embedder
	Driver   vector.Driver

	// Dimensions rejects vectors of any other size. Zero accepts any size.
	Dimensions uint

	// Clock defaults to clock.Real.
	Clock clock.Clock

	// Publisher receives memory change events. Optional.
	Publisher eventstream.Publisher

	Logger *zap.Logger
}

// Store owns every memory record. It embeds text on write and enforces the
// fact supersede rule.
type Store struct {
	embedder   embeddings.Embedder
	driver     vector.Driver
	dimensions int
	clock      clock.Clock
	publisher  eventstream.Publisher
	logger     *zap.Logger

	seqMu   sync.Mutex
	lastSeq int64

	factLocks keyedMutex
}

// NewStore creates a Store.
func NewStore(c Config) (*Store, error) {
	if c.Embedder == nil {
		return nil, errors.New("memory store requires an embedder")
	}
	if c.Driver == nil {
		return nil, errors.New("memory store requires a vector driver")
	}

	clk := c.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		embedder:   c.Embedder,
		driver:     c.Driver,
		dimensions: int(c.Dimensions), //nolint:gosec // dimensions is a small config value
		clock:      clk,
		publisher:  c.Publisher,
		logger:     logger,
	}, nil
}

// nextSeq returns a strictly increasing sequence seeded from the wall clock so
// records written after a restart still sort after earlier ones.
func (s *Store) nextSeq() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	seq := s.clock.Now().UnixNano()
	if seq <= s.lastSeq {
		seq = s.lastSeq + 1
	}
	s.lastSeq = seq
	return seq
}

// Put embeds and stores rec, returning the stored record. Turns are always
// appended. A fact replaces any existing fact with the same user and key.
func (s *Store) Put(ctx context.Context, rec Record) (Record, error) {
	if rec.Kind == KindFact {
		rec.FactKey = NormalizeFactKey(rec.FactKey)
	}
	if err := rec.validate(); err != nil {
		return Record{}, err
	}

	if len(rec.Embedding) == 0 {
		emb, err := s.embedder.Embed(ctx, rec.Text)
		if err != nil {
			return Record{}, fmt.Errorf("embedding %s record: %w", rec.Kind, err)
		}
		rec.Embedding = emb
	}
	if err := embeddings.Validate(rec.Embedding, s.dimensions); err != nil {
		return Record{}, err
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock.Now()
	}
	rec.Seq = s.nextSeq()

	doc := toDocument(rec)
	switch rec.Kind {
	case KindTurn:
		if err := s.driver.Add(ctx, []vector.Document{doc}); err != nil {
			return Record{}, unavailable("adding turn", err)
		}
	case KindFact:
		unlock := s.factLocks.lock(rec.UserID + "\x00" + rec.FactKey)
		err := s.driver.Replace(ctx, vector.Filter{
			UserID:  rec.UserID,
			Kind:    string(KindFact),
			FactKey: rec.FactKey,
		}, doc)
		unlock()
		if err != nil {
			return Record{}, unavailable("replacing fact", err)
		}
	}

	s.logger.Debug("stored memory record",
		zap.String("id", rec.ID),
		zap.String("kind", string(rec.Kind)),
		zap.String("user_id", rec.UserID),
		zap.String("fact_key", rec.FactKey),
	)

	event := eventstream.NewEvent(eventstream.EventTypeRecordStored, rec.UserID, rec.Platform, s.clock.Now())
	event.Record = &eventstream.RecordMeta{
		ID:        rec.ID,
		Kind:      string(rec.Kind),
		Role:      string(rec.Role),
		FactKey:   rec.FactKey,
		CreatedAt: rec.CreatedAt,
		Seq:       rec.Seq,
	}
	s.publish(ctx, event)

	return rec, nil
}

// Search returns up to TopK records most similar to the query embedding among
// those matching the filters. Similarity ties go to the most recent record.
// No matches is an empty slice, not an error.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]Hit, error) {
	if q.UserID == "" {
		return nil, invalid("search requires a user id")
	}
	if q.TopK <= 0 {
		return []Hit{}, nil
	}

	results, err := s.driver.Query(ctx, vector.Query{
		Embedding: q.Embedding,
		Filter: vector.Filter{
			UserID:   q.UserID,
			Platform: q.Platform,
			Kind:     string(q.Kind),
			FactKey:  q.FactKey,
		},
		TopK:     q.TopK,
		MinScore: q.MinScore,
	})
	if err != nil {
		return nil, unavailable("searching", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{Record: fromDocument(r.Document), Similarity: r.Score})
	}
	return hits, nil
}

// Recent returns the newest limit records of kind for the user in
// chronological order. An empty platform spans every platform.
func (s *Store) Recent(ctx context.Context, userID, platform string, kind Kind, limit int) ([]Record, error) {
	if userID == "" {
		return nil, invalid("recent requires a user id")
	}
	if limit <= 0 {
		return []Record{}, nil
	}

	docs, err := s.driver.List(ctx, vector.Filter{
		UserID:   userID,
		Platform: platform,
		Kind:     string(kind),
	}, limit)
	if err != nil {
		return nil, unavailable("listing recent records", err)
	}

	out := make([]Record, len(docs))
	for i, d := range docs {
		out[len(docs)-1-i] = fromDocument(d)
	}
	return out, nil
}

// Facts returns every fact known about the user, newest first.
func (s *Store) Facts(ctx context.Context, userID string) ([]Record, error) {
	if userID == "" {
		return nil, invalid("facts requires a user id")
	}

	docs, err := s.driver.List(ctx, vector.Filter{UserID: userID, Kind: string(KindFact)}, 0)
	if err != nil {
		return nil, unavailable("listing facts", err)
	}

	out := make([]Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, fromDocument(d))
	}
	return out, nil
}

// Forget deletes a single fact. Forgetting an unknown key is not an error.
func (s *Store) Forget(ctx context.Context, userID, factKey string) error {
	key := NormalizeFactKey(factKey)
	if userID == "" || key == "" {
		return invalid("forget requires a user id and fact key")
	}

	unlock := s.factLocks.lock(userID + "\x00" + key)
	err := s.driver.Delete(ctx, vector.Filter{UserID: userID, Kind: string(KindFact), FactKey: key})
	unlock()
	if err != nil {
		return unavailable("forgetting fact", err)
	}

	s.logger.Info("forgot fact", zap.String("user_id", userID), zap.String("fact_key", key))

	event := eventstream.NewEvent(eventstream.EventTypeFactForgotten, userID, "", s.clock.Now())
	event.Record = &eventstream.RecordMeta{Kind: string(KindFact), FactKey: key}
	s.publish(ctx, event)
	return nil
}

// DeleteAll hard-deletes every record for the user. It is idempotent.
func (s *Store) DeleteAll(ctx context.Context, userID string) error {
	if userID == "" {
		return invalid("delete all requires a user id")
	}

	if err := s.driver.Delete(ctx, vector.Filter{UserID: userID}); err != nil {
		return unavailable("deleting user records", err)
	}

	s.logger.Info("deleted all memory for user", zap.String("user_id", userID))
	s.publish(ctx, eventstream.NewEvent(eventstream.EventTypeUserReset, userID, "", s.clock.Now()))
	return nil
}

// Close closes the underlying driver and embedder.
func (s *Store) Close() error {
	return errors.Join(s.driver.Close(), s.embedder.Close())
}

func (s *Store) publish(ctx context.Context, event *eventstream.MemoryEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish memory event",
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
