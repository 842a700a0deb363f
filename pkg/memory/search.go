package memory

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// snippetMaxChars bounds snippet length so context blocks stay prompt-sized.
const snippetMaxChars = 700

// SearchResult is one ranked hit from vector, keyword or hybrid search.
type SearchResult struct {
	ChunkID   string  `json:"chunk_id"`
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
}

// SearchVector returns the chunks nearest to the query embedding by cosine
// distance, best first. Distance maps to a score via 1/(1+distance) so a
// perfect match scores 1 and far matches approach 0. Returns an empty result
// set when the vector index is unavailable.
func (s *Store) SearchVector(ctx context.Context, queryEmbedding []float32, topK int) ([]SearchResult, error) {
	if !s.vecAvailable || len(queryEmbedding) == 0 || topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.distance, c.path, c.start_line, c.end_line, c.text
		FROM chunks_vec v
		JOIN chunks c ON v.id = c.id
		WHERE v.embedding MATCH ?
		ORDER BY v.distance
		LIMIT ?`,
		encodeVector(queryEmbedding), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			r        SearchResult
			distance float64
			text     string
		)
		if err := rows.Scan(&r.ChunkID, &distance, &r.Path, &r.StartLine, &r.EndLine, &text); err != nil {
			return nil, err
		}
		r.Score = 1.0 / (1.0 + distance)
		r.Snippet = truncateSnippet(text)
		results = append(results, r)
	}
	return results, rows.Err()
}

// SearchKeyword returns chunks matching every token of the query, ranked by
// BM25. Returns an empty result set when FTS5 is unavailable or the query
// contains no indexable tokens.
func (s *Store) SearchKeyword(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if !s.ftsAvailable || topK <= 0 {
		return nil, nil
	}

	match := buildFTSQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, start_line, end_line, text, rank
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY rank
		LIMIT ?`,
		match, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run keyword search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			r    SearchResult
			text string
			rank float64
		)
		if err := rows.Scan(&r.ChunkID, &r.Path, &r.StartLine, &r.EndLine, &text, &rank); err != nil {
			return nil, err
		}
		r.Score = bm25RankToScore(rank)
		r.Snippet = truncateSnippet(text)
		results = append(results, r)
	}
	return results, rows.Err()
}

// SearchHybrid runs vector and keyword search concurrently and merges the
// rankings with weighted scoring. Each side is asked for twice topK so the
// merge has enough candidates; hybrid still works off whichever side produced
// results when the other is degraded.
func (s *Store) SearchHybrid(ctx context.Context, query string, queryEmbedding []float32, topK int, vectorWeight, textWeight float64) ([]SearchResult, error) {
	var (
		wg             sync.WaitGroup
		vectorResults  []SearchResult
		keywordResults []SearchResult
		vectorErr      error
		keywordErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorResults, vectorErr = s.SearchVector(ctx, queryEmbedding, topK*2)
	}()
	go func() {
		defer wg.Done()
		keywordResults, keywordErr = s.SearchKeyword(ctx, query, topK*2)
	}()
	wg.Wait()

	if vectorErr != nil {
		return nil, vectorErr
	}
	if keywordErr != nil {
		return nil, keywordErr
	}

	return mergeHybridResults(vectorResults, keywordResults, vectorWeight, textWeight, topK), nil
}

type hybridEntry struct {
	result      SearchResult
	vectorScore float64
	textScore   float64
}

// mergeHybridResults merges the two rankings by chunk id. A chunk present in
// both lists scores vectorWeight*vector + textWeight*text; a chunk seen by
// only one side scores 0 for the missing side rather than being excluded.
// The keyword snippet wins when both sides carry one, since it reflects the
// literal match. Ties keep input order, vector side first.
func mergeHybridResults(vectorResults, keywordResults []SearchResult, vectorWeight, textWeight float64, topK int) []SearchResult {
	byID := make(map[string]*hybridEntry, len(vectorResults)+len(keywordResults))
	order := make([]string, 0, len(vectorResults)+len(keywordResults))

	for _, r := range vectorResults {
		byID[r.ChunkID] = &hybridEntry{result: r, vectorScore: r.Score}
		order = append(order, r.ChunkID)
	}

	for _, r := range keywordResults {
		if entry, ok := byID[r.ChunkID]; ok {
			entry.textScore = r.Score
			if r.Snippet != "" {
				entry.result.Snippet = r.Snippet
			}
			continue
		}
		byID[r.ChunkID] = &hybridEntry{result: r, textScore: r.Score}
		order = append(order, r.ChunkID)
	}

	merged := make([]SearchResult, 0, len(order))
	for _, id := range order {
		entry := byID[id]
		entry.result.Score = vectorWeight*entry.vectorScore + textWeight*entry.textScore
		merged = append(merged, entry.result)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

var ftsTokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// buildFTSQuery converts free text into an FTS5 MATCH expression: runs of
// alphanumeric characters become quoted tokens combined with AND, so every
// token must match. Returns "" when the text yields no tokens.
func buildFTSQuery(raw string) string {
	tokens := ftsTokenPattern.FindAllString(raw, -1)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " AND ")
}

// bm25RankToScore converts an FTS5 rank, where more negative means a stronger
// match, to a score in (0, 1) that grows as the rank improves. Non-negative
// ranks normalize to zero before the formula is applied.
func bm25RankToScore(rank float64) float64 {
	normalized := 0.0
	if rank < 0 {
		normalized = -rank
	}
	return 1.0 / (1.0 + 1.0/(normalized+0.001))
}

func truncateSnippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetMaxChars {
		return text
	}
	return string(runes[:snippetMaxChars])
}
