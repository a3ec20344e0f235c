package query

import (
	"strings"

	"github.com/Aman-CERP/codescout/internal/store"
)

// snippet extracts the highest-scoring window of content not exceeding
// the configured token budget. Windows are line-aligned; a window's score
// is its count of query-term occurrences (by code tokenization), so the
// densest region of the chunk wins.
func (e *Engine) snippet(content string, terms []string) string {
	lines := strings.Split(content, "\n")
	budget := e.cfg.SnippetTokens

	// Cheap token estimate per line keeps this O(lines).
	lineTokens := make([]int, len(lines))
	lineScore := make([]int, len(lines))
	for i, line := range lines {
		lineTokens[i] = len(line)/4 + 1
		lineScore[i] = termOccurrences(line, terms)
	}

	bestStart, bestEnd, bestScore := 0, 0, -1
	start, tokens, score := 0, 0, 0
	for end := 0; end < len(lines); end++ {
		tokens += lineTokens[end]
		score += lineScore[end]
		for tokens > budget && start < end {
			tokens -= lineTokens[start]
			score -= lineScore[start]
			start++
		}
		if score > bestScore || (score == bestScore && end-start > bestEnd-bestStart) {
			bestStart, bestEnd, bestScore = start, end, score
		}
	}

	window := strings.Join(lines[bestStart:bestEnd+1], "\n")
	return strings.TrimRight(window, "\n")
}

// termOccurrences counts how many query terms appear in the line.
func termOccurrences(line string, terms []string) int {
	if len(terms) == 0 {
		return 0
	}
	tokens := store.Tokenize(line)
	n := 0
	for _, tok := range tokens {
		for _, term := range terms {
			if tok == term {
				n++
			}
		}
	}
	return n
}

// snippetAround returns a short context window centred on the first
// occurrence of needle. Used for reference listings.
func snippetAround(content, needle string) string {
	idx := strings.Index(content, needle)
	if idx < 0 {
		return firstLine(content)
	}
	lineStart := strings.LastIndexByte(content[:idx], '\n') + 1
	lineEnd := strings.IndexByte(content[idx:], '\n')
	if lineEnd < 0 {
		lineEnd = len(content)
	} else {
		lineEnd += idx
	}
	return strings.TrimSpace(content[lineStart:lineEnd])
}

// referenceLine returns the 1-based line of the first occurrence of
// needle within a chunk starting at startLine.
func referenceLine(content string, startLine int, needle string) int {
	idx := strings.Index(content, needle)
	if idx < 0 {
		return startLine
	}
	return startLine + strings.Count(content[:idx], "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
