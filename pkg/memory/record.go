// Package memory is the long-term memory store: embedded conversation turns
// and keyed facts, scoped by user and platform, with similarity search.
//
// Turns are append-only. Facts are keyed by (user, fact key) and a new value
// supersedes the previous one, so contradicting values never coexist.
package memory

import (
	"strings"
	"time"
	"unicode"

	"github.com/papercomputeco/chatty/pkg/vector"
)

// Kind discriminates turns from facts.
type Kind string

const (
	KindTurn Kind = "turn"
	KindFact Kind = "fact"
)

// Role is the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Record is a single memory item.
type Record struct {
	ID        string
	Text      string
	Kind      Kind
	Role      Role
	UserID    string
	Platform  string
	FactKey   string
	CreatedAt time.Time
	Seq       int64
	Embedding []float32
}

// Hit is a search result.
type Hit struct {
	Record

	// Similarity is the cosine similarity to the query vector.
	Similarity float32
}

// SearchQuery selects records for Store.Search. Empty Platform, Kind and
// FactKey match everything.
type SearchQuery struct {
	Embedding []float32
	UserID    string
	Platform  string
	Kind      Kind
	FactKey   string
	TopK      int
	MinScore  float32
}

// NormalizeFactKey case-folds and trims key, collapses inner whitespace to
// underscores, and places keys without a namespace under "user.".
func NormalizeFactKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return ""
	}

	key = strings.Join(strings.FieldsFunc(key, unicode.IsSpace), "_")
	key = strings.Trim(key, ".")
	if key == "" {
		return ""
	}
	if !strings.Contains(key, ".") {
		key = "user." + key
	}
	return key
}

func (r Record) validate() error {
	if r.UserID == "" {
		return invalid("missing user id")
	}
	if strings.TrimSpace(r.Text) == "" {
		return invalid("missing text")
	}

	switch r.Kind {
	case KindTurn:
		if r.Role != RoleUser && r.Role != RoleAssistant {
			return invalid("turn role must be user or assistant, got %q", r.Role)
		}
		if r.FactKey != "" {
			return invalid("turns cannot carry a fact key")
		}
	case KindFact:
		if r.FactKey == "" {
			return invalid("fact is missing a fact key")
		}
		if r.Role != "" {
			return invalid("facts cannot carry a role")
		}
	default:
		return invalid("unknown kind %q", r.Kind)
	}
	return nil
}

func toDocument(r Record) vector.Document {
	return vector.Document{
		ID:        r.ID,
		Text:      r.Text,
		Kind:      string(r.Kind),
		Role:      string(r.Role),
		UserID:    r.UserID,
		Platform:  r.Platform,
		FactKey:   r.FactKey,
		CreatedAt: r.CreatedAt,
		Seq:       r.Seq,
		Embedding: r.Embedding,
	}
}

func fromDocument(d vector.Document) Record {
	return Record{
		ID:        d.ID,
		Text:      d.Text,
		Kind:      Kind(d.Kind),
		Role:      Role(d.Role),
		UserID:    d.UserID,
		Platform:  d.Platform,
		FactKey:   d.FactKey,
		CreatedAt: d.CreatedAt,
		Seq:       d.Seq,
		Embedding: d.Embedding,
	}
}
