package plugin

import (
	"context"

	"github.com/Aman-CERP/codescout/internal/chunk"
	"github.com/Aman-CERP/codescout/internal/token"
)

// Raw is the no-structure fallback. It is selected when nothing else
// claims a file and is what the dispatcher substitutes after a plugin
// timeout, so lexical search covers every file the engine has seen.
type Raw struct {
	counter *token.Counter
}

// NewRaw creates the raw fallback plugin.
func NewRaw(counter *token.Counter) *Raw {
	return &Raw{counter: counter}
}

func (p *Raw) ID() string { return RawPluginID }

func (p *Raw) Describe() Descriptor {
	// No extensions: the registry falls back to raw explicitly.
	return Descriptor{ID: p.ID()}
}

func (p *Raw) Supports(string) bool { return true }

// Index emits a minimal record: line count metadata and one raw chunk.
// Even an empty file gets its raw chunk so the index covers every file
// the engine has seen.
func (p *Raw) Index(ctx context.Context, path string, data []byte) (*Shard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := buildFileMeta(path, "", data)
	shard := &Shard{PluginID: p.ID(), File: meta, Quality: QualityFallback}
	shard.Chunks = []*chunk.Chunk{
		chunk.ChunkWhole(p.counter, "", data, meta.Fingerprint, chunk.TypeRaw),
	}
	return shard, nil
}

// Plaintext indexes .txt and similar prose as budget-split doc chunks.
type Plaintext struct {
	counter   *token.Counter
	maxTokens int
}

// NewPlaintext creates the plaintext document plugin.
func NewPlaintext(counter *token.Counter, maxTokens int) *Plaintext {
	if maxTokens <= 0 {
		maxTokens = chunk.DefaultMaxTokens
	}
	return &Plaintext{counter: counter, maxTokens: maxTokens}
}

func (p *Plaintext) ID() string { return "plaintext" }

func (p *Plaintext) Describe() Descriptor {
	return Descriptor{ID: p.ID(), Extensions: []string{".txt", ".text", ".rst"}}
}

func (p *Plaintext) Supports(path string) bool {
	_, ok := matchExt([]string{".txt", ".text", ".rst"}, path)
	return ok
}

func (p *Plaintext) Index(ctx context.Context, path string, data []byte) (*Shard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := buildFileMeta(path, "text", data)
	shard := &Shard{PluginID: p.ID(), File: meta, Quality: QualityFull}
	if len(data) == 0 {
		return shard, nil
	}

	shard.Chunks = chunk.ChunkLines(p.counter, p.maxTokens, "text", data, meta.Fingerprint, chunk.TypeDoc)
	return shard, nil
}

// Manifest indexes build manifests (Makefile, Dockerfile, go.mod, ...) as
// single data chunks so dependency and target names stay searchable.
type Manifest struct {
	counter *token.Counter
}

// manifestFilenames are the build-manifest filename rules.
var manifestFilenames = []string{
	"Makefile", "makefile", "GNUmakefile",
	"Dockerfile", "Containerfile",
	"go.mod", "go.work",
	"package.json", "pyproject.toml", "Cargo.toml",
}

// NewManifest creates the build-manifest plugin.
func NewManifest(counter *token.Counter) *Manifest {
	return &Manifest{counter: counter}
}

func (p *Manifest) ID() string { return "manifest" }

func (p *Manifest) Describe() Descriptor {
	return Descriptor{ID: p.ID(), Filenames: manifestFilenames}
}

func (p *Manifest) Supports(path string) bool {
	base := pathBase(path)
	for _, f := range manifestFilenames {
		if f == base {
			return true
		}
	}
	return false
}

func (p *Manifest) Index(ctx context.Context, path string, data []byte) (*Shard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := buildFileMeta(path, "manifest", data)
	shard := &Shard{PluginID: p.ID(), File: meta, Quality: QualityFull}
	if len(data) == 0 {
		return shard, nil
	}

	shard.Chunks = []*chunk.Chunk{
		chunk.ChunkWhole(p.counter, "manifest", data, meta.Fingerprint, chunk.TypeData),
	}
	return shard, nil
}
