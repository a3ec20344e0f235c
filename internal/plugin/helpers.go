package plugin

import (
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/codescout/internal/ids"
)

// buildFileMeta computes the per-file record every shard carries.
func buildFileMeta(path, language string, data []byte) FileMeta {
	return FileMeta{
		Path:        filepath.ToSlash(path),
		Language:    language,
		Size:        int64(len(data)),
		LineCount:   countLines(data),
		ContentHash: ids.ContentHash(data),
		Fingerprint: ids.FileFingerprint(data),
	}
}

// countLines counts lines the way editors do: at least one, and a trailing
// newline does not open a new line.
func countLines(data []byte) int {
	if len(data) == 0 {
		return 1
	}
	n := 1
	for i, b := range data {
		if b == '\n' && i+1 < len(data) {
			n++
		}
	}
	return n
}

// pathBase returns the final path element.
func pathBase(path string) string {
	return filepath.Base(path)
}

// matchExt reports whether the path's extension is in exts.
func matchExt(exts []string, path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "", false
	}
	for _, e := range exts {
		if e == ext {
			return e, true
		}
	}
	return "", false
}
