// Package sqlitevec provides a SQLite-backed vector driver using sqlite-vec.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/vector"
)

// SQLiteVecDriver implements vector.Driver using SQLite with sqlite-vec.
//
// Metadata lives in vec_documents and embeddings in the vec0 table
// vec_embeddings, joined on rowid. Similarity search is an exact scan using
// vec_distance_cosine over the filtered rows, so the tie-break ordering is
// carried by the SQL itself.
type SQLiteVecDriver struct {
	db         *sql.DB
	dimensions uint
	logger     *zap.Logger
}

// Config holds configuration for the SQLite vec driver.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Dimensions is the number of dimensions for the embedding vectors.
	Dimensions uint
}

// NewSQLiteVecDriver creates a new SQLite vector driver backed by sqlite-vec.
func NewSQLiteVecDriver(c Config, logger *zap.Logger) (*SQLiteVecDriver, error) {
	// enable connection to have sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	if c.Dimensions == 0 {
		return nil, errors.New("sqlite-vec embedding dimensions cannot be 0, must be configured")
	}

	dsn := c.DBPath
	if dsn != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", c.DBPath)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", vector.ErrConnection, err)
	}

	// Every connection to ":memory:" is a separate database, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	// Verify sqlite-vec is loaded
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: sqlite-vec not available: %v", vector.ErrConnection, err)
	}

	// vec0 virtual tables use integer rowids, so vec_documents maps string
	// document IDs to rowids and carries the filterable metadata.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS vec_documents (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_id TEXT NOT NULL UNIQUE,
			text TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			platform TEXT NOT NULL DEFAULT '',
			fact_key TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL DEFAULT 0,
			seq INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_vec_documents_scope
			ON vec_documents(user_id, kind, fact_key);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating documents table: %w", err)
	}

	createVec := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(embedding float[%d])`,
		c.Dimensions,
	)
	if _, err := db.Exec(createVec); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vec0 table: %w", err)
	}

	logger.Info("sqlite-vec vector driver initialized",
		zap.String("db_path", c.DBPath),
		zap.Uint("dimensions", c.Dimensions),
		zap.String("vec_version", vecVersion),
	)

	return &SQLiteVecDriver{
		db:         db,
		dimensions: c.Dimensions,
		logger:     logger,
	}, nil
}

// serializeFloat32 converts a float32 slice to a little-endian byte slice
// suitable for sqlite-vec BLOB format.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 converts a little-endian byte slice back to a float32 slice.
func deserializeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d: must be divisible by 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func (d *SQLiteVecDriver) checkDimensions(v []float32) error {
	if uint(len(v)) != d.dimensions {
		return fmt.Errorf("%w: expected %d, got %d", vector.ErrDimension, d.dimensions, len(v))
	}
	return nil
}

// whereClause renders the non-empty filter fields against the d alias.
func whereClause(f vector.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col, val string) {
		if val != "" {
			conds = append(conds, "d."+col+" = ?")
			args = append(args, val)
		}
	}
	add("user_id", f.UserID)
	add("platform", f.Platform)
	add("kind", f.Kind)
	add("fact_key", f.FactKey)

	if len(conds) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(conds, " AND "), args
}

// Add stores documents with their embeddings.
// If a document with the same ID already exists, it is updated.
func (d *SQLiteVecDriver) Add(ctx context.Context, docs []vector.Document) error {
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
	defer tx.Rollback()

	for _, doc := range docs {
		if err := upsert(ctx, tx, doc); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %v", vector.ErrConnection, err)
	}

	d.logger.Debug("added documents to sqlite-vec",
		zap.Int("count", len(docs)),
	)

	return nil
}

func upsert(ctx context.Context, tx *sql.Tx, doc vector.Document) error {
	embBlob := serializeFloat32(doc.Embedding)

	var existingRowID int64
	err := tx.QueryRowContext(ctx,
		`SELECT rowid FROM vec_documents WHERE doc_id = ?`, doc.ID,
	).Scan(&existingRowID)

	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `
			UPDATE vec_documents
			SET text = ?, kind = ?, role = ?, user_id = ?, platform = ?, fact_key = ?, created_at = ?, seq = ?
			WHERE rowid = ?`,
			doc.Text, doc.Kind, doc.Role, doc.UserID, doc.Platform, doc.FactKey,
			doc.CreatedAt.UnixNano(), doc.Seq, existingRowID,
		); err != nil {
			return fmt.Errorf("updating document %s: %w", doc.ID, err)
		}

		// vec0 does not support UPDATE
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vec_embeddings WHERE rowid = ?`, existingRowID,
		); err != nil {
			return fmt.Errorf("deleting old embedding for doc %s: %w", doc.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_embeddings(rowid, embedding) VALUES (?, ?)`,
			existingRowID, embBlob,
		); err != nil {
			return fmt.Errorf("re-inserting embedding for doc %s: %w", doc.ID, err)
		}
	case errors.Is(err, sql.ErrNoRows):
		result, err := tx.ExecContext(ctx, `
			INSERT INTO vec_documents(doc_id, text, kind, role, user_id, platform, fact_key, created_at, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, doc.Text, doc.Kind, doc.Role, doc.UserID, doc.Platform, doc.FactKey,
			doc.CreatedAt.UnixNano(), doc.Seq,
		)
		if err != nil {
			return fmt.Errorf("inserting document %s: %w", doc.ID, err)
		}

		rowID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting rowid for doc %s: %w", doc.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_embeddings(rowid, embedding) VALUES (?, ?)`,
			rowID, embBlob,
		); err != nil {
			return fmt.Errorf("inserting embedding for doc %s: %w", doc.ID, err)
		}
	default:
		return fmt.Errorf("checking for existing document %s: %w", doc.ID, err)
	}

	return nil
}

// Replace deletes every document matching filter and inserts doc in one transaction.
func (d *SQLiteVecDriver) Replace(ctx context.Context, filter vector.Filter, doc vector.Document) error {
	if err := d.checkDimensions(doc.Embedding); err != nil {
		return fmt.Errorf("doc %s: %w", doc.ID, err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", vector.ErrConnection, err)
	}
	defer tx.Rollback()

	deleted, err := deleteWhere(ctx, tx, filter)
	if err != nil {
		return err
	}

	if err := upsert(ctx, tx, doc); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %v", vector.ErrConnection, err)
	}

	d.logger.Debug("replaced document in sqlite-vec",
		zap.String("doc_id", doc.ID),
		zap.Int("deleted", deleted),
	)

	return nil
}

// Query scores every filtered document against the query embedding.
func (d *SQLiteVecDriver) Query(ctx context.Context, q vector.Query) ([]vector.QueryResult, error) {
	if q.TopK <= 0 {
		return []vector.QueryResult{}, nil
	}
	if err := d.checkDimensions(q.Embedding); err != nil {
		return nil, err
	}

	where, args := whereClause(q.Filter)
	queryArgs := append([]any{serializeFloat32(q.Embedding)}, args...)
	queryArgs = append(queryArgs, q.TopK)

	rows, err := d.db.QueryContext(ctx, `
		SELECT
			d.doc_id, d.text, d.kind, d.role, d.user_id, d.platform, d.fact_key,
			d.created_at, d.seq, ve.embedding,
			1.0 - vec_distance_cosine(ve.embedding, ?) AS score
		FROM vec_documents d
		INNER JOIN vec_embeddings ve ON ve.rowid = d.rowid
		WHERE `+where+`
		ORDER BY score DESC, d.created_at DESC, d.seq DESC
		LIMIT ?
	`, queryArgs...)
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

	results = vector.FinalizeResults(results, q.MinScore, q.TopK)

	d.logger.Debug("queried sqlite-vec",
		zap.Int("results", len(results)),
	)

	return results, nil
}

// List returns matching documents newest first.
func (d *SQLiteVecDriver) List(ctx context.Context, filter vector.Filter, limit int) ([]vector.Document, error) {
	if limit <= 0 {
		limit = -1
	}

	where, args := whereClause(filter)
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, `
		SELECT
			d.doc_id, d.text, d.kind, d.role, d.user_id, d.platform, d.fact_key,
			d.created_at, d.seq, ve.embedding
		FROM vec_documents d
		INNER JOIN vec_embeddings ve ON ve.rowid = d.rowid
		WHERE `+where+`
		ORDER BY d.created_at DESC, d.seq DESC
		LIMIT ?
	`, args...)
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

func scanDocument(rows *sql.Rows, doc *vector.Document, extra ...any) error {
	var (
		createdAt int64
		embBlob   []byte
	)
	dest := []any{
		&doc.ID, &doc.Text, &doc.Kind, &doc.Role, &doc.UserID, &doc.Platform, &doc.FactKey,
		&createdAt, &doc.Seq, &embBlob,
	}
	dest = append(dest, extra...)

	if err := rows.Scan(dest...); err != nil {
		return fmt.Errorf("scanning document: %w", err)
	}

	doc.CreatedAt = time.Unix(0, createdAt).UTC()

	emb, err := deserializeFloat32(embBlob)
	if err != nil {
		return fmt.Errorf("decoding embedding for doc %s: %w", doc.ID, err)
	}
	doc.Embedding = emb

	return nil
}

// Delete removes every document matching the filter.
func (d *SQLiteVecDriver) Delete(ctx context.Context, filter vector.Filter) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", vector.ErrConnection, err)
	}
	defer tx.Rollback()

	deleted, err := deleteWhere(ctx, tx, filter)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %v", vector.ErrConnection, err)
	}

	d.logger.Debug("deleted documents from sqlite-vec",
		zap.Int("count", deleted),
	)

	return nil
}

func deleteWhere(ctx context.Context, tx *sql.Tx, filter vector.Filter) (int, error) {
	where, args := whereClause(filter)

	rows, err := tx.QueryContext(ctx, `SELECT d.rowid FROM vec_documents d WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("querying rowids for deletion: %w", err)
	}

	var rowIDs []int64
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning rowid: %w", err)
		}
		rowIDs = append(rowIDs, rowID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating rowids: %w", err)
	}

	for _, rowID := range rowIDs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vec_embeddings WHERE rowid = ?`, rowID,
		); err != nil {
			return 0, fmt.Errorf("deleting embedding rowid %d: %w", rowID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vec_documents WHERE rowid = ?`, rowID,
		); err != nil {
			return 0, fmt.Errorf("deleting document rowid %d: %w", rowID, err)
		}
	}

	return len(rowIDs), nil
}

// Close releases resources held by the driver.
func (d *SQLiteVecDriver) Close() error {
	return d.db.Close()
}

var _ vector.Driver = (*SQLiteVecDriver)(nil)
