package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/nara/internal/observability"
	"github.com/harun/nara/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Defaults applied by NewManager when the corresponding Config field is zero.
const (
	DefaultChunkTokens  = 2000
	DefaultChunkOverlap = 200
	DefaultTopK         = 5
	DefaultVectorWeight = 0.7
	DefaultTextWeight   = 0.3
)

// SyncStats summarizes one sync pass over the memory directory.
type SyncStats struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

// Status reports the manager's current state.
type Status struct {
	TotalFiles   int        `json:"total_files"`
	TotalChunks  int        `json:"total_chunks"`
	IsSyncing    bool       `json:"is_syncing"`
	Watching     bool       `json:"watching"`
	FTSAvailable bool       `json:"fts_available"`
	VecAvailable bool       `json:"vec_available"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
}

// Manager orchestrates memory indexing and hybrid search over a directory of
// Markdown files. The Markdown files are the source of truth; the store is a
// derived index that Sync can rebuild from scratch at any time.
type Manager struct {
	store        *Store
	provider     *Provider
	memoryDir    string
	chunkTokens  int
	chunkOverlap int
	topK         int
	vectorWeight float64
	textWeight   float64
	logger       zerolog.Logger

	// syncMu serializes Sync passes; stateMu guards the fields below.
	syncMu  sync.Mutex
	stateMu sync.RWMutex

	isSyncing    bool
	lastSyncTime *time.Time
	watcher      *FileWatcher
}

// Config holds memory manager configuration. Zero values for chunk sizes,
// topK and the weight pair fall back to the package defaults; ChunkOverlap is
// taken as-is so an explicit zero disables overlap.
type Config struct {
	MemoryDir    string
	DBPath       string
	ModelID      string
	Dimension    int
	Loader       LoaderFunc
	ChunkTokens  int
	ChunkOverlap int
	TopK         int
	VectorWeight float64
	TextWeight   float64
	Logger       zerolog.Logger
}

// NewManager opens the store, wires the cache-backed embedding provider and
// returns a ready manager. Call Close to release the store handle.
func NewManager(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	if cfg.MemoryDir == "" {
		return nil, errors.New("memory directory is required")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	if cfg.ChunkTokens <= 0 {
		cfg.ChunkTokens = DefaultChunkTokens
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.VectorWeight == 0 && cfg.TextWeight == 0 {
		cfg.VectorWeight = DefaultVectorWeight
		cfg.TextWeight = DefaultTextWeight
	}

	store, err := OpenStore(StoreConfig{
		Path:      cfg.DBPath,
		Dimension: cfg.Dimension,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	provider, err := NewProvider(ProviderConfig{
		Store:     store,
		ModelID:   cfg.ModelID,
		Dimension: cfg.Dimension,
		Loader:    cfg.Loader,
		Logger:    cfg.Logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	m := &Manager{
		store:        store,
		provider:     provider,
		memoryDir:    cfg.MemoryDir,
		chunkTokens:  cfg.ChunkTokens,
		chunkOverlap: cfg.ChunkOverlap,
		topK:         cfg.TopK,
		vectorWeight: cfg.VectorWeight,
		textWeight:   cfg.TextWeight,
		logger:       cfg.Logger,
	}

	m.logger.Info().
		Str("memory_dir", cfg.MemoryDir).
		Str("model", cfg.ModelID).
		Msg("Memory manager initialized")
	return m, nil
}

// Sync scans the memory directory and reconciles the store with what is on
// disk: new files are indexed, changed files re-indexed wholesale, files gone
// from disk are pruned with all their chunks. Unreadable files are skipped
// with a warning and excluded from the counts; embedding or store failures
// abort the pass. Concurrent calls are serialized.
func (m *Manager) Sync(ctx context.Context) (SyncStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "nara.memory", "memory.sync")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	m.setSyncing(true)
	defer func() {
		now := time.Now()
		m.stateMu.Lock()
		m.isSyncing = false
		m.lastSyncTime = &now
		m.stateMu.Unlock()
	}()

	start := time.Now()
	defer func() { observability.RecordMemoryWrite(time.Since(start)) }()

	var stats SyncStats

	diskFiles, err := m.listMarkdownFiles()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stats, fmt.Errorf("failed to scan memory directory: %w", err)
	}

	manifest, err := m.store.FileHashes(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stats, err
	}

	onDisk := make(map[string]bool, len(diskFiles))
	for _, p := range diskFiles {
		onDisk[p] = true
	}

	var removed []string
	for path := range manifest {
		if !onDisk[path] {
			removed = append(removed, path)
		}
	}
	sort.Strings(removed)
	for _, path := range removed {
		if err := m.store.DeleteFile(ctx, path); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return stats, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		stats.Deleted++
	}

	for _, relPath := range diskFiles {
		content, err := os.ReadFile(filepath.Join(m.memoryDir, relPath))
		if err != nil {
			logger.Warn().Err(err).Str("file", relPath).Msg("Skipping unreadable file")
			continue
		}

		sum := sha256.Sum256(content)
		contentHash := hex.EncodeToString(sum[:])

		known, ok := manifest[relPath]
		switch {
		case !ok:
			if err := m.indexFile(ctx, relPath, string(content), contentHash); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return stats, err
			}
			stats.Added++
		case known != contentHash:
			if err := m.indexFile(ctx, relPath, string(content), contentHash); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return stats, err
			}
			stats.Updated++
		default:
			stats.Unchanged++
		}
	}

	logger.Info().
		Int("added", stats.Added).
		Int("updated", stats.Updated).
		Int("deleted", stats.Deleted).
		Int("unchanged", stats.Unchanged).
		Dur("duration", time.Since(start)).
		Msg("Sync completed")

	if _, chunks, err := m.store.Counts(ctx); err == nil {
		observability.SetMemoryEntries(chunks)
	}

	return stats, nil
}

// listMarkdownFiles returns relative paths of every .md file under the memory
// root, sorted for deterministic sync order. A missing root is an empty
// memory, not an error.
func (m *Manager) listMarkdownFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(m.memoryDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		rel, err := filepath.Rel(m.memoryDir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// indexFile chunks, embeds and persists one file. All chunk embeddings go
// through a single batch call, and the store write is one transaction so a
// failure leaves the previous manifest state intact.
func (m *Manager) indexFile(ctx context.Context, relPath, content, contentHash string) error {
	chunks := ChunkMarkdown(content, m.chunkTokens, m.chunkOverlap)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	var vectors [][]float32
	if len(texts) > 0 {
		var err error
		vectors, err = m.provider.GenerateEmbeddings(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed %s: %w", relPath, err)
		}
	}

	info, err := os.Stat(filepath.Join(m.memoryDir, relPath))
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", relPath, err)
	}

	now := time.Now().Unix()
	records := make([]ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = ChunkRecord{
			ID:        uuid.New().String(),
			Path:      relPath,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Hash:      c.Hash,
			Model:     m.provider.ModelID(),
			Text:      c.Text,
			Embedding: vectors[i],
			UpdatedAt: now,
		}
	}

	file := FileRecord{
		Path:  relPath,
		Hash:  contentHash,
		MTime: info.ModTime().Unix(),
		Size:  info.Size(),
	}
	if err := m.store.ReplaceFile(ctx, file, records); err != nil {
		return fmt.Errorf("failed to index %s: %w", relPath, err)
	}

	m.logger.Debug().Str("file", relPath).Int("chunks", len(records)).Msg("Indexed file")
	return nil
}

// Search embeds the query and runs hybrid search with the manager's
// configured weights. topK <= 0 falls back to the configured default.
func (m *Manager) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"nara.memory",
		"memory.search",
		attribute.String("query", query),
	)
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordMemorySearch(time.Since(start)) }()

	if query == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = m.topK
	}

	queryEmbedding, err := m.provider.GenerateEmbedding(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := m.store.SearchHybrid(ctx, query, queryEmbedding, topK, m.vectorWeight, m.textWeight)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Debug().
		Str("query", query).
		Int("results", len(results)).
		Msg("Search completed")
	return results, nil
}

// GetContext searches memory and renders the hits as a prompt section. An
// empty string means nothing matched; callers omit the section entirely
// rather than rendering an empty header.
func (m *Manager) GetContext(ctx context.Context, query string, topK int) (string, error) {
	results, err := m.Search(ctx, query, topK)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("## Relevant Memory\n")
	for _, r := range results {
		fmt.Fprintf(&b, "\n**%s** (lines %d-%d):\n%s\n", r.Path, r.StartLine, r.EndLine, r.Snippet)
	}
	return b.String(), nil
}

// GetFileContent reads a named file directly under the memory root, without
// going through the search index. Intended for identity documents with fixed
// names such as SOUL.md. Returns "" when the file does not exist.
func (m *Manager) GetFileContent(name string) (string, error) {
	path, err := GetMemoryFilePath(m.memoryDir, name)
	if err != nil {
		return "", err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(content), nil
}

// StartWatching begins watching the memory root and re-syncs after changes,
// coalesced by the debounce window (DefaultWatchDebounce when zero). Stop via
// StopWatching or Close.
func (m *Manager) StartWatching(debounce time.Duration) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.watcher != nil {
		return errors.New("watcher already running")
	}

	watcher, err := NewFileWatcher(WatcherConfig{
		Root:     m.memoryDir,
		Debounce: debounce,
		Logger:   m.logger,
		OnChange: func() {
			if _, err := m.Sync(context.Background()); err != nil {
				m.logger.Warn().Err(err).Msg("Watcher-triggered sync failed")
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	m.watcher = watcher
	m.logger.Info().Str("dir", m.memoryDir).Msg("Watching memory directory")
	return nil
}

// StopWatching stops the file watcher if one is running.
func (m *Manager) StopWatching() {
	m.stateMu.Lock()
	watcher := m.watcher
	m.watcher = nil
	m.stateMu.Unlock()

	if watcher != nil {
		watcher.Stop()
	}
}

// Status reports store counts, capability flags and manager state.
func (m *Manager) Status(ctx context.Context) Status {
	if ctx == nil {
		ctx = context.Background()
	}

	m.stateMu.RLock()
	st := Status{
		IsSyncing:    m.isSyncing,
		Watching:     m.watcher != nil,
		LastSyncTime: m.lastSyncTime,
	}
	m.stateMu.RUnlock()

	st.FTSAvailable = m.store.FTSAvailable()
	st.VecAvailable = m.store.VecAvailable()
	if files, chunks, err := m.store.Counts(ctx); err == nil {
		st.TotalFiles = files
		st.TotalChunks = chunks
	}
	return st
}

// Close stops watching and releases the store handle.
func (m *Manager) Close() error {
	m.logger.Info().Msg("Closing memory manager")
	m.StopWatching()
	return m.store.Close()
}

func (m *Manager) setSyncing(v bool) {
	m.stateMu.Lock()
	m.isSyncing = v
	m.stateMu.Unlock()
}
