package dispatch

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/codescout/internal/gitignore"
)

// alwaysSkippedDirs never index regardless of ignore rules.
var alwaysSkippedDirs = map[string]bool{
	".git":       true,
	".hg":        true,
	".svn":       true,
	".mcp-index": true,
}

// ScannedFile is one file accepted by the scanner.
type ScannedFile struct {
	RelPath string
	Size    int64
}

// Scanner walks a repository tree applying ignore rules. Nested
// .gitignore files load as they are encountered, scoped to their
// directory, matching git's own layering.
type Scanner struct {
	ignore *gitignore.Matcher
}

// NewScanner creates a scanner with the given extra ignore patterns.
func NewScanner(extraPatterns []string) *Scanner {
	m := gitignore.NewWithPatterns(extraPatterns)
	return &Scanner{ignore: m}
}

// Matcher exposes the underlying matcher (shared with the watcher).
func (s *Scanner) Matcher() *gitignore.Matcher { return s.ignore }

// Scan returns the repository's indexable files in walk order.
func (s *Scanner) Scan(ctx context.Context, root string) ([]ScannedFile, error) {
	// Load the root .gitignore before walking so top-level rules apply
	// to everything.
	rootIgnore := filepath.Join(root, ".gitignore")
	_ = s.ignore.AddFromFile(rootIgnore, "")

	var files []ScannedFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries skip silently
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		rel, rerr := filepath.Rel(root, path)
		if rerr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if alwaysSkippedDirs[d.Name()] || s.ignore.Match(rel, true) {
				return filepath.SkipDir
			}
			// Nested ignore files scope to their directory.
			nested := filepath.Join(path, ".gitignore")
			_ = s.ignore.AddFromFile(nested, rel)
			return nil
		}

		if strings.HasSuffix(rel, ".gitignore") {
			return nil
		}
		if s.ignore.Match(rel, false) {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		files = append(files, ScannedFile{RelPath: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
