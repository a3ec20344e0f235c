// Package ids computes the stable identifiers attached to every chunk.
//
// All identifiers are truncated hex SHA-256 digests of normalized inputs.
// Determinism guarantee: re-chunking identical bytes yields bit-identical
// identifiers, independent of host, path separator style, or indexing order.
//
// Normalization rule for ChunkID (documented here because it is part of the
// on-disk contract): each line has trailing whitespace removed, interior
// runs of spaces and tabs collapse to a single space, and lines are joined
// with "\n". Leading indentation is preserved so Python-style blocks with
// different nesting never collide.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// digestLen is the number of hex characters kept from each SHA-256 digest.
// 16 hex chars = 64 bits, enough to make collisions within one repository
// implausible while keeping identifiers readable in logs.
const digestLen = 16

// hash returns the truncated hex SHA-256 of its arguments joined by NUL.
// NUL never appears in the inputs, so the join is unambiguous.
func hash(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:digestLen]
}

// ChunkID is the content-addressed identifier of a chunk: a digest of the
// normalized chunk text and nothing else. Identical content produces the
// same ID wherever it lives, so renames and line-number shifts never
// invalidate embeddings; file scoping is the storage layer's job via the
// (file_id, chunk_id) key.
func ChunkID(content string) string {
	return hash("chunk", NormalizeContent(content))
}

// NodeID is the structural identifier of a chunk: the path of node types
// from the parse-tree root to the node, plus the node's own type. It is
// stable across edits that do not change tree shape, and across renames.
func NodeID(typePath []string, nodeType string) string {
	return hash("node", strings.Join(typePath, "/"), nodeType)
}

// FileFingerprint identifies the exact file version that produced a chunk.
// Input is the file's canonicalized bytes: CRLF and CR normalize to LF so
// the same logical content fingerprints identically across platforms.
func FileFingerprint(content []byte) string {
	canonical := strings.ReplaceAll(string(content), "\r\n", "\n")
	canonical = strings.ReplaceAll(canonical, "\r", "\n")
	return hash("fp", canonical)
}

// ContentHash is the digest of raw file bytes used for move detection and
// incremental skip. Unlike FileFingerprint it is byte-exact.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// SymbolHash identifies a declaration by qualified name and kind,
// independent of its body or location.
func SymbolHash(qualifiedName, kind string) string {
	return hash("sym", qualifiedName, kind)
}

// DefinitionID identifies a declaration by signature only (kind, name,
// parameter types). It is stable across body edits; only a signature
// change produces a new ID.
func DefinitionID(kind, name string, paramTypes []string) string {
	return hash("def", kind, name, strings.Join(paramTypes, ","))
}

// RepositoryID derives a repository identity from the canonical absolute
// path of its root.
func RepositoryID(absRoot string) string {
	clean := filepath.ToSlash(filepath.Clean(absRoot))
	return hash("repo", clean)
}

// FileID derives a file identity from its repository and relative path.
// The ID survives content changes; moves rewrite the path row instead.
func FileID(repositoryID, relPath string) string {
	return hash("file", repositoryID, filepath.ToSlash(relPath))
}

// NormalizeContent applies the ChunkID normalization rule.
func NormalizeContent(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = collapseInnerSpace(strings.TrimRight(line, " \t\r"))
	}
	return strings.Join(lines, "\n")
}

// collapseInnerSpace collapses runs of spaces and tabs after the leading
// indentation to a single space.
func collapseInnerSpace(line string) string {
	indentEnd := 0
	for indentEnd < len(line) && (line[indentEnd] == ' ' || line[indentEnd] == '\t') {
		indentEnd++
	}

	var b strings.Builder
	b.WriteString(line[:indentEnd])
	inRun := false
	for _, r := range line[indentEnd:] {
		if r == ' ' || r == '\t' {
			if !inRun {
				b.WriteByte(' ')
				inRun = true
			}
			continue
		}
		inRun = false
		b.WriteRune(r)
	}
	return b.String()
}
