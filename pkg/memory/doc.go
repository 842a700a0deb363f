// Package memory keeps a directory of Markdown files synchronized with a
// local hybrid search index: SQLite holds the file manifest and chunk rows,
// FTS5 ranks keyword matches, sqlite-vec answers vector similarity, and a
// persistent cache avoids re-embedding unchanged text.
//
// Invariants:
//   - A file's chunk set always matches its current on-disk content hash.
//   - The embedding cache holds at most one vector per (text hash, model id).
//   - A missing FTS5 or vec capability degrades that search path to empty
//     results instead of failing the system.
//
// Usage:
//
//	mgr, _ := memory.NewManager(memory.Config{
//		MemoryDir: "/workspace/memory",
//		DBPath:    "/data/memory.db",
//		ModelID:   "text-embedding-3-small",
//		Dimension: 1536,
//		Loader:    memory.OpenAILoader(memory.OpenAIEmbedderConfig{APIKey: key, Model: "text-embedding-3-small"}),
//	})
//	defer mgr.Close()
//	_, _ = mgr.Sync(ctx)
//	results, _ := mgr.Search(ctx, "query", 0)
//	_ = results
package memory
