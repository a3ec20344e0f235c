package chunk

import (
	"github.com/Aman-CERP/codescout/internal/ids"
	"github.com/Aman-CERP/codescout/internal/token"
)

// ChunkWhole produces a single chunk covering the entire file. Used for
// oversized files and the no-plugin raw fallback so lexical search still
// works on every byte the engine has seen.
func ChunkWhole(counter *token.Counter, language string, source []byte, fingerprint string, typ Type) *Chunk {
	content := string(source)
	return &Chunk{
		ChunkID:           ids.ChunkID(content),
		NodeID:            ids.NodeID([]string{"file"}, string(typ)),
		FileFingerprintID: fingerprint,
		Content:           content,
		StartLine:         1,
		EndLine:           countLines(source),
		StartByte:         0,
		EndByte:           len(source),
		Type:              typ,
		Language:          language,
		NodeType:          string(typ),
		TokenCount:        counter.Count(content),
		Tokenizer:         counter.Name(),
	}
}

// ChunkLines splits a file into budget-bounded chunks at line boundaries,
// without a parse tree. Plugins for grammarless and document formats build
// on this. A file that fits the budget yields one chunk of the requested
// type; an overflowing file yields mixed-type pieces.
func ChunkLines(counter *token.Counter, maxTokens int, language string, source []byte, fingerprint string, typ Type) []*Chunk {
	if len(source) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	c := New(counter, maxTokens)
	st := &treeState{
		src:         source,
		language:    language,
		fingerprint: fingerprint,
		lines:       newLineIndex(source),
	}
	chunks := c.splitRange(st, 0, len(source), typ, []string{"file"}, string(typ), 0, "", nil)
	c.finalize(chunks)
	for i, ch := range chunks {
		ch.Index = i
	}
	return chunks
}

// countLines returns the number of lines in source, at least 1.
func countLines(source []byte) int {
	if len(source) == 0 {
		return 1
	}
	n := 1
	for i, b := range source {
		if b == '\n' && i+1 < len(source) {
			n++
		}
	}
	return n
}
