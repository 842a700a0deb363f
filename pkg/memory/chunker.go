package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// charsPerToken approximates token counts without a tokenizer dependency.
	charsPerToken = 4
	// minChunkChars is the floor for the chunk character budget.
	minChunkChars = 32
)

// Chunk is a contiguous, line-addressed slice of a Markdown document. Lines
// are 1-indexed; Hash is the hex SHA-256 of Text, so identical content is
// identified by content, not position.
type Chunk struct {
	StartLine int
	EndLine   int
	Text      string
	Hash      string
}

// ChunkMarkdown splits Markdown content into overlapping line-based chunks.
// Sizes are given in tokens and converted to character budgets at four
// characters per token, with a minimum budget of 32 characters. Every input
// line appears in at least one chunk and chunks come out in document order.
// An overlap of zero produces disjoint, contiguous chunks.
func ChunkMarkdown(content string, chunkTokens, overlapTokens int) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	maxChars := chunkTokens * charsPerToken
	if maxChars < minChunkChars {
		maxChars = minChunkChars
	}
	overlapChars := overlapTokens * charsPerToken
	if overlapChars < 0 {
		overlapChars = 0
	}

	var chunks []Chunk
	var current []numberedLine
	currentChars := 0

	for i, line := range lines {
		lineChars := len(line) + 1 // trailing newline

		if currentChars+lineChars > maxChars && len(current) > 0 {
			chunks = append(chunks, flushChunk(current))
			current, currentChars = overlapTail(current, overlapChars)
		}

		current = append(current, numberedLine{number: i + 1, text: line})
		currentChars += lineChars
	}

	if len(current) > 0 {
		chunks = append(chunks, flushChunk(current))
	}

	return chunks
}

type numberedLine struct {
	number int
	text   string
}

// flushChunk joins accumulated lines into a Chunk and hashes the result.
func flushChunk(lines []numberedLine) Chunk {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.text
	}
	text := strings.Join(parts, "\n")
	sum := sha256.Sum256([]byte(text))

	return Chunk{
		StartLine: lines[0].number,
		EndLine:   lines[len(lines)-1].number,
		Text:      text,
		Hash:      hex.EncodeToString(sum[:]),
	}
}

// overlapTail keeps a suffix of the just-flushed lines to seed the next
// chunk. Walking backward, the line that would overflow the overlap budget is
// dropped unless nothing has been kept yet, which guarantees progress on
// oversized lines.
func overlapTail(lines []numberedLine, overlapChars int) ([]numberedLine, int) {
	if overlapChars <= 0 {
		return nil, 0
	}

	var kept []numberedLine
	chars := 0
	for i := len(lines) - 1; i >= 0; i-- {
		lineChars := len(lines[i].text) + 1
		if chars+lineChars > overlapChars && len(kept) > 0 {
			break
		}
		kept = append(kept, lines[i])
		chars += lineChars
	}

	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	return kept, chars
}
