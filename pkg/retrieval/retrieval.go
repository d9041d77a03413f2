// Package retrieval selects the memories injected into the model context for
// a user message: similar past turns and facts, deduplicated and re-ranked by
// a blend of similarity and recency.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/clock"
	"github.com/papercomputeco/chatty/pkg/embeddings"
	"github.com/papercomputeco/chatty/pkg/memory"
	"github.com/papercomputeco/chatty/pkg/vector"
)

const (
	DefaultDedupThreshold   = 0.95
	DefaultWeightSimilarity = 0.8
	DefaultWeightRecency    = 0.2
	DefaultHalfLife         = 72 * time.Hour
	DefaultCandidateFactor  = 3
)

// Searcher is the read side of the memory store.
type Searcher interface {
	Search(ctx context.Context, q memory.SearchQuery) ([]memory.Hit, error)
}

// Config configures an Engine. Zero weights and thresholds take the defaults.
type Config struct {
	Embedder embeddings.Embedder
	Store    Searcher
	Clock    clock.Clock

	// MinScore drops candidates below this cosine similarity.
	MinScore float32

	// DedupThreshold is the similarity at or above which two turns are the
	// same memory.
	DedupThreshold float32

	WeightSimilarity float64
	WeightRecency    float64

	// HalfLife is the age at which the recency score halves.
	HalfLife time.Duration

	// CandidateFactor multiplies the turn budget when searching so dedup has
	// spare candidates.
	CandidateFactor int

	Logger *zap.Logger
}

// Request is a single retrieval.
type Request struct {
	Query    string
	UserID   string
	Platform string

	TurnBudget int
	FactBudget int
}

// Snippet is a ranked memory ready for prompt assembly.
type Snippet struct {
	Kind       memory.Kind
	Role       memory.Role
	Text       string
	FactKey    string
	Similarity float32
	Score      float64
	CreatedAt  time.Time
	Seq        int64
}

// Engine runs retrievals.
type Engine struct {
	embedder embeddings.Embedder
	store    Searcher
	clock    clock.Clock
	cfg      Config
	logger   *zap.Logger
}

// NewEngine creates a retrieval engine.
func NewEngine(c Config) (*Engine, error) {
	if c.Embedder == nil || c.Store == nil {
		return nil, errors.New("retrieval requires an embedder and a store")
	}

	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.DedupThreshold <= 0 {
		c.DedupThreshold = DefaultDedupThreshold
	}
	if c.WeightSimilarity == 0 && c.WeightRecency == 0 {
		c.WeightSimilarity = DefaultWeightSimilarity
		c.WeightRecency = DefaultWeightRecency
	}
	if c.HalfLife <= 0 {
		c.HalfLife = DefaultHalfLife
	}
	if c.CandidateFactor <= 0 {
		c.CandidateFactor = DefaultCandidateFactor
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return &Engine{
		embedder: c.Embedder,
		store:    c.Store,
		clock:    c.Clock,
		cfg:      c,
		logger:   c.Logger,
	}, nil
}

// Retrieve returns up to TurnBudget+FactBudget snippets ordered by combined
// score. A user with no memories gets an empty slice. Embedding failures are
// returned as embeddings.ErrUnavailable and store failures as
// memory.ErrStoreUnavailable.
func (e *Engine) Retrieve(ctx context.Context, req Request) ([]Snippet, error) {
	if req.TurnBudget <= 0 && req.FactBudget <= 0 {
		return []Snippet{}, nil
	}

	queryVec, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	var turns, facts []memory.Hit
	if req.TurnBudget > 0 {
		turns, err = e.search(ctx, req, queryVec, memory.KindTurn, req.TurnBudget*e.cfg.CandidateFactor)
		if err != nil {
			return nil, err
		}
		turns = e.dedup(turns, req.TurnBudget)
	}
	if req.FactBudget > 0 {
		facts, err = e.search(ctx, req, queryVec, memory.KindFact, req.FactBudget)
		if err != nil {
			return nil, err
		}
	}

	now := e.clock.Now()
	snippets := make([]Snippet, 0, len(turns)+len(facts))
	for _, h := range append(turns, facts...) {
		snippets = append(snippets, Snippet{
			Kind:       h.Kind,
			Role:       h.Role,
			Text:       h.Text,
			FactKey:    h.FactKey,
			Similarity: h.Similarity,
			Score:      e.score(h, now),
			CreatedAt:  h.CreatedAt,
			Seq:        h.Seq,
		})
	}

	SortSnippets(snippets)
	if limit := req.TurnBudget + req.FactBudget; len(snippets) > limit {
		snippets = snippets[:limit]
	}

	e.logger.Debug("retrieved memories",
		zap.String("user_id", req.UserID),
		zap.Int("turns", len(turns)),
		zap.Int("facts", len(facts)),
		zap.Int("snippets", len(snippets)),
	)

	return snippets, nil
}

func (e *Engine) search(ctx context.Context, req Request, vec []float32, kind memory.Kind, topK int) ([]memory.Hit, error) {
	return e.store.Search(ctx, memory.SearchQuery{
		Embedding: vec,
		UserID:    req.UserID,
		Platform:  req.Platform,
		Kind:      kind,
		TopK:      topK,
		MinScore:  e.cfg.MinScore,
	})
}

// dedup keeps turns greedily in similarity order, dropping any candidate that
// is a near-duplicate of one already kept.
func (e *Engine) dedup(hits []memory.Hit, budget int) []memory.Hit {
	kept := make([]memory.Hit, 0, budget)
	for _, h := range hits {
		if len(kept) == budget {
			break
		}

		dup := false
		for _, k := range kept {
			if sameText(h.Text, k.Text) ||
				(len(h.Embedding) > 0 && vector.CosineSimilarity(h.Embedding, k.Embedding) >= e.cfg.DedupThreshold) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, h)
		}
	}
	return kept
}

func (e *Engine) score(h memory.Hit, now time.Time) float64 {
	return float64(h.Similarity)*e.cfg.WeightSimilarity + Recency(now.Sub(h.CreatedAt), e.cfg.HalfLife)*e.cfg.WeightRecency
}

// Recency decays from 1 at age zero, halving every halfLife. Future
// timestamps count as age zero.
func Recency(age, halfLife time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	if halfLife <= 0 {
		return 0
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// SortSnippets orders snippets by score desc, then CreatedAt desc, then Seq desc.
func SortSnippets(s []Snippet) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.After(s[j].CreatedAt)
		}
		return s[i].Seq > s[j].Seq
	})
}

func sameText(a, b string) bool {
	return strings.Join(strings.Fields(strings.ToLower(a)), " ") ==
		strings.Join(strings.Fields(strings.ToLower(b)), " ")
}
