package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// FileRecord is one manifest row: the per-file bookkeeping used to detect
// additions, changes and deletions between sync passes.
type FileRecord struct {
	Path  string
	Hash  string
	MTime int64
	Size  int64
}

// ChunkRecord is one indexed chunk together with its embedding.
type ChunkRecord struct {
	ID        string
	Path      string
	StartLine int
	EndLine   int
	Hash      string
	Model     string
	Text      string
	Embedding []float32
	UpdatedAt int64
}

// Store owns the SQLite database backing the memory index: the file manifest,
// chunk rows, the FTS5 keyword index, the sqlite-vec vector index and the
// embedding cache. FTS5 and vec are optional capabilities probed once at open
// time; when absent, the affected search path degrades to empty results while
// manifest, chunks and cache keep working.
type Store struct {
	db           *sql.DB
	dimension    int
	ftsAvailable bool
	vecAvailable bool
	logger       zerolog.Logger
}

// StoreConfig holds store configuration.
type StoreConfig struct {
	Path      string
	Dimension int
	Logger    zerolog.Logger
}

// OpenStore opens the memory database, creating it and its parent directory
// if needed, and ensures the schema exists. Safe to call repeatedly over the
// same file without data loss.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("store path is required")
	}
	if cfg.Dimension <= 0 {
		return nil, errors.New("embedding dimension must be positive")
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps readers live while a sync pass writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:        db,
		dimension: cfg.Dimension,
		logger:    cfg.Logger,
	}

	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// ensureSchema creates all tables idempotently and probes the optional
// FTS5/vec capabilities exactly once.
func (s *Store) ensureSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS files (
			path TEXT PRIMARY KEY,
			hash TEXT NOT NULL,
			mtime INTEGER NOT NULL,
			size INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			hash TEXT NOT NULL,
			model TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding BLOB,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);

		CREATE TABLE IF NOT EXISTS embedding_cache (
			hash TEXT NOT NULL,
			model TEXT NOT NULL,
			embedding BLOB NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (hash, model)
		);
		CREATE INDEX IF NOT EXISTS idx_embedding_cache_updated ON embedding_cache(updated_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	ftsSchema := `
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			text,
			id UNINDEXED,
			path UNINDEXED,
			start_line UNINDEXED,
			end_line UNINDEXED,
			tokenize='porter unicode61'
		)
	`
	if _, err := s.db.Exec(ftsSchema); err != nil {
		s.logger.Warn().Err(err).Msg("FTS5 unavailable, keyword search disabled")
	} else {
		s.ftsAvailable = true
	}

	vecSchema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_vec USING vec0(
			id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		)
	`, s.dimension)
	if _, err := s.db.Exec(vecSchema); err != nil {
		s.logger.Warn().Err(err).Msg("sqlite-vec unavailable, vector search disabled")
	} else {
		s.vecAvailable = true
	}

	return nil
}

// FTSAvailable reports whether the FTS5 keyword index is usable.
func (s *Store) FTSAvailable() bool { return s.ftsAvailable }

// VecAvailable reports whether the sqlite-vec vector index is usable.
func (s *Store) VecAvailable() bool { return s.vecAvailable }

// FileHashes returns the manifest as a path to content-hash map.
func (s *Store) FileHashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path, hash FROM files")
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		hashes[path] = hash
	}
	return hashes, rows.Err()
}

// ReplaceFile replaces a file's manifest row and entire chunk set in one
// transaction, so stale chunks never survive a content change and a failure
// leaves the previous state committed. Keyword and vector index rows are
// written best-effort: a degraded optional index never fails the transaction.
func (s *Store) ReplaceFile(ctx context.Context, file FileRecord, chunks []ChunkRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.deleteFileTx(tx, file.Path); err != nil {
		return err
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO files (path, hash, mtime, size) VALUES (?, ?, ?, ?)",
		file.Path, file.Hash, file.MTime, file.Size,
	); err != nil {
		return fmt.Errorf("failed to write manifest row: %w", err)
	}

	for _, c := range chunks {
		if _, err := tx.Exec(
			`INSERT INTO chunks (id, path, start_line, end_line, hash, model, text, embedding, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Path, c.StartLine, c.EndLine, c.Hash, c.Model, c.Text, encodeVector(c.Embedding), c.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}

		if s.ftsAvailable {
			if _, err := tx.Exec(
				"INSERT INTO chunks_fts (id, path, start_line, end_line, text) VALUES (?, ?, ?, ?, ?)",
				c.ID, c.Path, c.StartLine, c.EndLine, c.Text,
			); err != nil {
				s.logger.Warn().Err(err).Str("chunk", c.ID).Msg("Failed to write keyword index row")
			}
		}

		if s.vecAvailable && len(c.Embedding) > 0 {
			if _, err := tx.Exec(
				"INSERT INTO chunks_vec (id, embedding) VALUES (?, ?)",
				c.ID, encodeVector(c.Embedding),
			); err != nil {
				s.logger.Warn().Err(err).Str("chunk", c.ID).Msg("Failed to write vector index row")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// DeleteFile removes a file's manifest row and every trace of its chunks.
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.deleteFileTx(tx, path); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// deleteFileTx removes chunk, index and manifest rows for path inside tx.
func (s *Store) deleteFileTx(tx *sql.Tx, path string) error {
	rows, err := tx.Query("SELECT id FROM chunks WHERE path = ?", path)
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if s.ftsAvailable {
			if _, err := tx.Exec("DELETE FROM chunks_fts WHERE id = ?", id); err != nil {
				s.logger.Warn().Err(err).Str("chunk", id).Msg("Failed to delete keyword index row")
			}
		}
		if s.vecAvailable {
			if _, err := tx.Exec("DELETE FROM chunks_vec WHERE id = ?", id); err != nil {
				s.logger.Warn().Err(err).Str("chunk", id).Msg("Failed to delete vector index row")
			}
		}
	}

	if _, err := tx.Exec("DELETE FROM chunks WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM files WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to delete manifest row: %w", err)
	}
	return nil
}

// Counts returns the number of manifest rows and chunk rows.
func (s *Store) Counts(ctx context.Context) (files, chunks int, err error) {
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files").Scan(&files); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&chunks); err != nil {
		return 0, 0, err
	}
	return files, chunks, nil
}

// ChunkCountForPath returns the number of chunk rows owned by one path.
func (s *Store) ChunkCountForPath(ctx context.Context, path string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE path = ?", path).Scan(&n)
	return n, err
}

// CacheGet looks up a cached embedding by text hash and model id. A malformed
// blob is treated as a miss so the caller recomputes and overwrites it.
func (s *Store) CacheGet(ctx context.Context, hash, model string) ([]float32, bool) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM embedding_cache WHERE hash = ? AND model = ?",
		hash, model,
	).Scan(&blob)
	if err != nil {
		return nil, false
	}

	vec, err := decodeVector(blob)
	if err != nil {
		s.logger.Warn().Str("hash", hash).Msg("Corrupt embedding cache entry, treating as miss")
		return nil, false
	}
	return vec, true
}

// CachePut stores an embedding keyed by text hash and model id, overwriting
// any previous entry for the same key.
func (s *Store) CachePut(ctx context.Context, hash, model string, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO embedding_cache (hash, model, embedding, updated_at)
		 VALUES (?, ?, ?, ?)`,
		hash, model, encodeVector(embedding), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to cache embedding: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// encodeVector serializes an embedding as consecutive little-endian IEEE-754
// float32 values, four bytes per component, no header. The same layout is
// used for the embedding cache, the chunks table and the sqlite-vec index, so
// one blob round-trips everywhere at float32 precision.
func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector reverses encodeVector, rejecting blobs that are not a whole
// number of float32 values.
func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("malformed vector blob: %d bytes", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
