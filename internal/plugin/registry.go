package plugin

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/codescout/internal/token"
)

// RawPluginID is the identity of the no-structure fallback plugin. It is
// returned when nothing else claims a file so lexical search still works.
const RawPluginID = "raw"

// Descriptor is one row of the static plugin table.
type Descriptor struct {
	ID string

	// Extensions claimed by this plugin, with leading dot.
	Extensions []string

	// Filenames claimed regardless of extension (build manifests).
	Filenames []string

	// Sniff inspects leading bytes of extensionless files.
	Sniff func(head []byte) bool
}

// Registry selects plugins for files. Selection order: explicit extension
// mapping, filename rules, then a short content sniff. The plugin set is
// immutable after construction; lookups take no lock.
type Registry struct {
	table   []Descriptor
	plugins map[string]Plugin
}

// SniffLen is how many leading bytes Select inspects.
const SniffLen = 128

// NewRegistry builds the default plugin set.
func NewRegistry(counter *token.Counter, maxTokens int) *Registry {
	r := &Registry{
		plugins: make(map[string]Plugin),
	}

	for _, lang := range []string{"go", "python", "javascript", "jsx", "typescript", "tsx"} {
		r.add(NewTreeSitter(lang, counter, maxTokens))
	}
	r.add(NewMarkdown(counter, maxTokens))
	r.add(NewMarkdownCode(counter, maxTokens))
	r.add(NewRegex("asm", counter, maxTokens))
	r.add(NewRegex("shell", counter, maxTokens))
	r.add(NewPlaintext(counter, maxTokens))
	r.add(NewManifest(counter))
	r.add(NewRaw(counter))

	return r
}

// add registers a plugin and its descriptor row.
func (r *Registry) add(p DescribedPlugin) {
	r.table = append(r.table, p.Describe())
	r.plugins[p.ID()] = p
}

// DescribedPlugin couples a plugin with its registry row.
type DescribedPlugin interface {
	Plugin
	Describe() Descriptor
}

// Get returns a plugin by id.
func (r *Registry) Get(id string) (Plugin, bool) {
	p, ok := r.plugins[id]
	return p, ok
}

// Select returns the plugins claiming a file, in table order. Multiple
// plugins may claim the same file (markdown plus fenced-block languages).
// When nothing claims it, the raw plugin is returned.
func (r *Registry) Select(path string, sniff []byte) []string {
	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))

	var out []string
	for _, d := range r.table {
		if matchExtension(d, ext) || matchFilename(d, base) {
			out = append(out, d.ID)
		}
	}
	if len(out) > 0 {
		return out
	}

	if ext == "" && len(sniff) > 0 {
		head := sniff
		if len(head) > SniffLen {
			head = head[:SniffLen]
		}
		for _, d := range r.table {
			if d.Sniff != nil && d.Sniff(head) {
				out = append(out, d.ID)
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	return []string{RawPluginID}
}

func matchExtension(d Descriptor, ext string) bool {
	if ext == "" {
		return false
	}
	for _, e := range d.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func matchFilename(d Descriptor, base string) bool {
	for _, f := range d.Filenames {
		if f == base {
			return true
		}
	}
	return false
}

// shebangIs reports whether head starts with a shebang invoking one of the
// given interpreters.
func shebangIs(head []byte, interpreters ...string) bool {
	if !bytes.HasPrefix(head, []byte("#!")) {
		return false
	}
	line := head
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		line = head[:i]
	}
	for _, interp := range interpreters {
		if bytes.Contains(line, []byte(interp)) {
			return true
		}
	}
	return false
}
