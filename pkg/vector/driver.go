// Package vector provides interfaces and implementations for vector storage.
package vector

import (
	"context"
	"time"
)

// Document represents a stored memory item with its embedding and metadata.
type Document struct {
	// ID is a unique identifier for the document.
	ID string

	// Text is the turn content or fact statement.
	Text string

	// Kind is "turn" or "fact".
	Kind string

	// Role is "user" or "assistant" for turns, empty for facts.
	Role string

	UserID   string
	Platform string

	// FactKey is the normalized fact key, empty for turns.
	FactKey string

	CreatedAt time.Time

	// Seq is a strictly increasing insertion sequence used to break ties
	// between documents created at the same instant.
	Seq int64

	// Embedding is the vector representation of the document content.
	Embedding []float32
}

// Filter restricts an operation to matching documents.
// Empty fields match everything.
type Filter struct {
	UserID   string
	Platform string
	Kind     string
	FactKey  string
}

// Matches reports whether doc satisfies every non-empty field of f.
func (f Filter) Matches(doc Document) bool {
	if f.UserID != "" && doc.UserID != f.UserID {
		return false
	}
	if f.Platform != "" && doc.Platform != f.Platform {
		return false
	}
	if f.Kind != "" && doc.Kind != f.Kind {
		return false
	}
	if f.FactKey != "" && doc.FactKey != f.FactKey {
		return false
	}
	return true
}

// IsEmpty reports whether f matches every document.
func (f Filter) IsEmpty() bool {
	return f == Filter{}
}

// Query describes a similarity search.
type Query struct {
	Embedding []float32
	Filter    Filter

	// TopK caps the number of results. Zero or less returns nothing.
	TopK int

	// MinScore drops results with a cosine similarity below it. Zero or less
	// keeps every match.
	MinScore float32
}

// QueryResult represents a search result with similarity score.
type QueryResult struct {
	Document

	// Score is the cosine similarity (higher = more similar).
	Score float32
}

// Driver handles storage and retrieval of vector embeddings.
type Driver interface {
	// Add stores documents with their embeddings.
	// If a document with the same ID already exists, it is replaced.
	Add(ctx context.Context, docs []Document) error

	// Replace atomically deletes every document matching filter and adds doc.
	Replace(ctx context.Context, filter Filter, doc Document) error

	// Query returns up to TopK documents matching the filter, ordered by
	// SortResults.
	Query(ctx context.Context, q Query) ([]QueryResult, error)

	// List returns up to limit documents matching the filter, newest first.
	// A limit of zero or less returns every match.
	List(ctx context.Context, filter Filter, limit int) ([]Document, error)

	// Delete removes every document matching the filter.
	Delete(ctx context.Context, filter Filter) error

	// Close releases any resources held by the driver.
	Close() error
}
