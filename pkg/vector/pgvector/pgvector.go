// Package pgvector provides a PostgreSQL vector.Driver using the pgvector extension.
package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/vector"
)

// DefaultTable holds chatty memory when Config.Table is empty.
const DefaultTable = "chatty_memory"

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// Config holds configuration for the pgvector driver.
type Config struct {
	// DSN is a PostgreSQL connection string understood by pgx.
	DSN string

	Table string

	Dimensions uint
}

// Driver implements vector.Driver with cosine distance (<=>) queries.
type Driver struct {
	db         *sql.DB
	table      string
	dimensions uint
	logger     *zap.Logger
}

func NewDriver(ctx context.Context, c Config, logger *zap.Logger) (*Driver, error) {
	if c.DSN == "" {
		return nil, errors.New("postgres DSN is required")
	}
	if c.Dimensions == 0 {
		return nil, errors.New("pgvector embedding dimensions cannot be 0, must be configured")
	}

	table := c.Table
	if table == "" {
		table = DefaultTable
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	db, err := sql.Open("pgx", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: opening postgres: %v", vector.ErrConnection, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pinging postgres: %v", vector.ErrConnection, err)
	}

	schema := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			platform TEXT NOT NULL DEFAULT '',
			fact_key TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			seq BIGINT NOT NULL DEFAULT 0,
			embedding vector(%[2]d) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_scope_idx ON %[1]s (user_id, kind, fact_key);
	`, table, c.Dimensions)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating pgvector schema: %w", err)
	}

	logger.Info("pgvector driver initialized",
		zap.String("table", table),
		zap.Uint("dimensions", c.Dimensions),
	)

	return &Driver{
		db:         db,
		table:      table,
		dimensions: c.Dimensions,
		logger:     logger,
	}, nil
}

// formatVector renders v in pgvector's text input format.
func formatVector(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// parseVector reads pgvector's text output format.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("invalid vector literal %q", s)
	}

	body := s[1 : len(s)-1]
	if body == "" {
		return []float32{}, nil
	}

	parts := strings.Split(body, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		out = append(out, float32(f))
	}
	return out, nil
}

// whereClause renders the filter with positional parameters starting at next.
func whereClause(f vector.Filter, next int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col, val string) {
		if val != "" {
			conds = append(conds, fmt.Sprintf("%s = $%d", col, next+len(args)))
			args = append(args, val)
		}
	}
	add("user_id", f.UserID)
	add("platform", f.Platform)
	add("kind", f.Kind)
	add("fact_key", f.FactKey)

	if len(conds) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conds, " AND "), args
}

func (d *Driver) checkDimensions(v []float32) error {
	if uint(len(v)) != d.dimensions {
		return fmt.Errorf("%w: expected %d, got %d", vector.ErrDimension, d.dimensions, len(v))
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (d *Driver) upsert(ctx context.Context, ex execer, doc vector.Document) error {
	_, err := ex.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, text, kind, role, user_id, platform, fact_key, created_at, seq, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::vector)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			kind = EXCLUDED.kind,
			role = EXCLUDED.role,
			user_id = EXCLUDED.user_id,
			platform = EXCLUDED.platform,
			fact_key = EXCLUDED.fact_key,
			created_at = EXCLUDED.created_at,
			seq = EXCLUDED.seq,
			embedding = EXCLUDED.embedding`, d.table),
		doc.ID, doc.Text, doc.Kind, doc.Role, doc.UserID, doc.Platform, doc.FactKey,
		doc.CreatedAt.UTC(), doc.Seq, formatVector(doc.Embedding),
	)
	if err != nil {
		return fmt.Errorf("%w: upserting document %s: %v", vector.ErrConnection, doc.ID, err)
	}
	return nil
}

func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}
	for _, doc := range docs {
		if err := d.checkDimensions(doc.Embedding); err != nil {
			return fmt.Errorf("doc %s: %w", doc.ID, err)
		}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", vector.ErrConnection, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, doc := range docs {
		if err := d.upsert(ctx, tx, doc); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %v", vector.ErrConnection, err)
	}

	d.logger.Debug("added documents to pgvector", zap.Int("count", len(docs)))
	return nil
}

func (d *Driver) Replace(ctx context.Context, filter vector.Filter, doc vector.Document) error {
	if err := d.checkDimensions(doc.Embedding); err != nil {
		return fmt.Errorf("doc %s: %w", doc.ID, err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", vector.ErrConnection, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	where, args := whereClause(filter, 1)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s`, d.table, where), args...); err != nil {
		return fmt.Errorf("%w: deleting replaced documents: %v", vector.ErrConnection, err)
	}

	if err := d.upsert(ctx, tx, doc); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %v", vector.ErrConnection, err)
	}
	return nil
}

const selectColumns = `id, text, kind, role, user_id, platform, fact_key, created_at, seq, embedding::text`

func scanDocument(rows *sql.Rows, doc *vector.Document, extra ...any) error {
	var emb string
	dest := []any{
		&doc.ID, &doc.Text, &doc.Kind, &doc.Role, &doc.UserID, &doc.Platform, &doc.FactKey,
		&doc.CreatedAt, &doc.Seq, &emb,
	}
	dest = append(dest, extra...)

	if err := rows.Scan(dest...); err != nil {
		return fmt.Errorf("scanning document: %w", err)
	}

	v, err := parseVector(emb)
	if err != nil {
		return fmt.Errorf("decoding embedding for doc %s: %w", doc.ID, err)
	}
	doc.Embedding = v
	doc.CreatedAt = doc.CreatedAt.UTC()
	return nil
}

func (d *Driver) Query(ctx context.Context, q vector.Query) ([]vector.QueryResult, error) {
	if q.TopK <= 0 {
		return []vector.QueryResult{}, nil
	}
	if err := d.checkDimensions(q.Embedding); err != nil {
		return nil, err
	}

	where, args := whereClause(q.Filter, 2)
	args = append([]any{formatVector(q.Embedding)}, args...)
	args = append(args, q.TopK)

	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		WHERE %s
		ORDER BY score DESC, created_at DESC, seq DESC
		LIMIT $%d`, selectColumns, d.table, where, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying vectors: %v", vector.ErrConnection, err)
	}
	defer rows.Close()

	results := make([]vector.QueryResult, 0, q.TopK)
	for rows.Next() {
		var (
			doc   vector.Document
			score float64
		)
		if err := scanDocument(rows, &doc, &score); err != nil {
			return nil, err
		}
		results = append(results, vector.QueryResult{Document: doc, Score: float32(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query results: %w", err)
	}

	return vector.FinalizeResults(results, q.MinScore, q.TopK), nil
}

func (d *Driver) List(ctx context.Context, filter vector.Filter, limit int) ([]vector.Document, error) {
	where, args := whereClause(filter, 1)

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY created_at DESC, seq DESC`, selectColumns, d.table, where)
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing documents: %v", vector.ErrConnection, err)
	}
	defer rows.Close()

	docs := []vector.Document{}
	for rows.Next() {
		var doc vector.Document
		if err := scanDocument(rows, &doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

func (d *Driver) Delete(ctx context.Context, filter vector.Filter) error {
	where, args := whereClause(filter, 1)
	res, err := d.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s`, d.table, where), args...)
	if err != nil {
		return fmt.Errorf("%w: deleting documents: %v", vector.ErrConnection, err)
	}

	n, _ := res.RowsAffected()
	d.logger.Debug("deleted documents from pgvector", zap.Int64("count", n))
	return nil
}

func (d *Driver) Close() error {
	return d.db.Close()
}

var _ vector.Driver = (*Driver)(nil)
