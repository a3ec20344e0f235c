// Package dispatch orchestrates per-file indexing: it routes files to
// plugins, enforces wall-clock budgets, merges multi-plugin shards, and
// commits results to storage, the lexical index, and the vector index.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/codescout/internal/chunk"
	"github.com/Aman-CERP/codescout/internal/embed"
	"github.com/Aman-CERP/codescout/internal/errors"
	"github.com/Aman-CERP/codescout/internal/ids"
	"github.com/Aman-CERP/codescout/internal/plugin"
	"github.com/Aman-CERP/codescout/internal/store"
	"github.com/Aman-CERP/codescout/internal/token"
)

// Options tunes the dispatcher.
type Options struct {
	// Workers is the parse worker pool size. Default: NumCPU.
	Workers int
	// PluginTimeout is the wall-clock budget per plugin invocation.
	PluginTimeout time.Duration
	// MaxFileSize: larger files index as raw single chunks.
	MaxFileSize int64
}

// WithDefaults fills zero values.
func (o Options) WithDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.PluginTimeout <= 0 {
		o.PluginTimeout = 5 * time.Second
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = 2 * 1024 * 1024
	}
	return o
}

// Dispatcher coordinates indexing for one process. It is safe for
// concurrent use; per-file commits serialize in the storage layer.
type Dispatcher struct {
	registry *plugin.Registry
	db       *store.DB
	lexical  store.LexicalIndex
	vector   store.VectorIndex // nil when semantic search is disabled
	embedder embed.Embedder    // nil when semantic search is disabled
	counter  *token.Counter
	opts     Options
	status   *Status

	mu       sync.Mutex
	breakers map[string]*errors.CircuitBreaker // keyed repoID + "\x00" + pluginID
}

// New creates a dispatcher. vector and embedder may be nil together.
func New(registry *plugin.Registry, db *store.DB, lexical store.LexicalIndex,
	vector store.VectorIndex, embedder embed.Embedder, counter *token.Counter, opts Options) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		db:       db,
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
		counter:  counter,
		opts:     opts.WithDefaults(),
		status:   NewStatus(),
		breakers: make(map[string]*errors.CircuitBreaker),
	}
}

// Status exposes indexing progress for get_status.
func (d *Dispatcher) Status() *Status { return d.status }

// IndexRepo walks the repository and indexes every accepted file through
// the worker pool. The walk respects the ignore matcher and skips the
// index directory itself.
func (d *Dispatcher) IndexRepo(ctx context.Context, repoID, root string, sc *Scanner) (RepoStats, error) {
	files, err := sc.Scan(ctx, root)
	if err != nil {
		return RepoStats{}, err
	}

	d.status.BeginRepo(repoID, len(files))
	defer d.status.EndRepo(repoID)

	var stats RepoStats
	var statsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)

	for _, f := range files {
		f := f
		g.Go(func() error {
			err := d.IndexFile(gctx, repoID, root, f.RelPath)
			statsMu.Lock()
			defer statsMu.Unlock()
			stats.Files++
			if err != nil {
				if gctx.Err() != nil {
					return err // cancellation aborts the batch
				}
				stats.Failed++
				slog.Warn("index_file_failed",
					slog.String("repo", repoID),
					slog.String("path", f.RelPath),
					slog.String("error", err.Error()))
				return nil // one bad file never aborts the repo
			}
			d.status.FileDone(repoID)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

// RepoStats summarizes one IndexRepo pass.
type RepoStats struct {
	Files  int
	Failed int
}

// IndexFile reads and indexes a single file.
func (d *Dispatcher) IndexFile(ctx context.Context, repoID, root, relPath string) error {
	abs := filepath.Join(root, filepath.FromSlash(relPath))
	info, err := os.Stat(abs)
	if err != nil {
		return errors.Wrap(errors.CodeFileNotFound, err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return errors.Wrap(errors.CodeFileNotFound, err)
	}

	if info.Size() > d.opts.MaxFileSize {
		return d.commitRaw(ctx, repoID, relPath, data, plugin.QualityFallback)
	}
	return d.indexBytes(ctx, repoID, relPath, data)
}

// DeleteFile tombstones a file and purges its chunks from the lexical and
// vector indexes.
func (d *Dispatcher) DeleteFile(ctx context.Context, repoID, relPath string) error {
	removed, err := d.db.SoftDeleteFile(ctx, repoID, relPath)
	if err != nil {
		return err
	}
	return d.purgeChunks(ctx, removed)
}

// RenameFile rewrites the path preserving file identity; chunks, symbols,
// and embeddings are untouched.
func (d *Dispatcher) RenameFile(ctx context.Context, repoID, oldPath, newPath, moveType string) error {
	return d.db.RenameFile(ctx, repoID, oldPath, newPath, moveType)
}

// indexBytes runs every claiming plugin under its budget, merges the
// shards, and commits.
func (d *Dispatcher) indexBytes(ctx context.Context, repoID, relPath string, data []byte) error {
	sniff := data
	if len(sniff) > plugin.SniffLen {
		sniff = sniff[:plugin.SniffLen]
	}

	var shards []*plugin.Shard
	for _, pluginID := range d.registry.Select(relPath, sniff) {
		p, ok := d.registry.Get(pluginID)
		if !ok {
			continue
		}

		shard, err := d.runPlugin(ctx, repoID, p, relPath, data)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Timeout or tripped breaker: skip this plugin and keep going.
			// When no plugin produced a shard, the raw fallback below keeps
			// the file searchable.
			slog.Warn("plugin_degraded",
				slog.String("plugin", pluginID),
				slog.String("path", relPath),
				slog.String("error", err.Error()))
			continue
		}
		shards = append(shards, shard)
	}

	if len(shards) == 0 {
		return d.commitRaw(ctx, repoID, relPath, data, plugin.QualityFallback)
	}

	merged := MergeShards(shards)
	if len(merged.Chunks) == 0 {
		// Empty or structureless file: one raw chunk keeps it covered,
		// with the language the plugin detected from the extension.
		merged.Chunks = []*chunk.Chunk{
			chunk.ChunkWhole(d.counter, merged.File.Language, data, merged.File.Fingerprint, chunk.TypeRaw),
		}
	}
	return d.commit(ctx, repoID, merged)
}

// runPlugin executes one plugin under the wall-clock budget and its
// per-repo circuit breaker.
func (d *Dispatcher) runPlugin(ctx context.Context, repoID string, p plugin.Plugin, relPath string, data []byte) (*plugin.Shard, error) {
	cb := d.breakerFor(repoID, p.ID())
	if !cb.Allow() {
		return nil, errors.ErrCircuitOpen
	}

	pctx, cancel := context.WithTimeout(ctx, d.opts.PluginTimeout)
	defer cancel()

	type result struct {
		shard *plugin.Shard
		err   error
	}
	done := make(chan result, 1)
	go func() {
		shard, err := p.Index(pctx, relPath, data)
		done <- result{shard, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			cb.RecordFailure()
			return nil, r.err
		}
		cb.RecordSuccess()
		return r.shard, nil
	case <-pctx.Done():
		// The worker stops at its next cancellation check and discards
		// its in-memory shard; storage was never touched.
		cb.RecordFailure()
		return nil, errors.Timeout(fmt.Sprintf("plugin %s exceeded %s on %s", p.ID(), d.opts.PluginTimeout, relPath))
	}
}

func (d *Dispatcher) breakerFor(repoID, pluginID string) *errors.CircuitBreaker {
	key := repoID + "\x00" + pluginID
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.breakers[key]
	if !ok {
		cb = errors.NewCircuitBreaker(pluginID)
		d.breakers[key] = cb
	}
	return cb
}

// commitRaw indexes a file as a single raw chunk (oversized files, plugin
// timeouts, unclaimed files).
func (d *Dispatcher) commitRaw(ctx context.Context, repoID, relPath string, data []byte, quality plugin.Quality) error {
	raw, ok := d.registry.Get(plugin.RawPluginID)
	if !ok {
		return errors.New(errors.CodeInternal, "raw plugin missing from registry", nil)
	}
	shard, err := raw.Index(ctx, relPath, data)
	if err != nil {
		return err
	}
	shard.Quality = quality
	return d.commit(ctx, repoID, shard)
}

// commit persists a merged shard and keeps the secondary indexes in step.
func (d *Dispatcher) commit(ctx context.Context, repoID string, sh *plugin.Shard) error {
	rec := &store.ShardRecord{
		File: store.FileRecord{
			ID:           ids.FileID(repoID, sh.File.Path),
			RepositoryID: repoID,
			Path:         sh.File.Path,
			ContentHash:  sh.File.ContentHash,
			Fingerprint:  sh.File.Fingerprint,
			Language:     sh.File.Language,
			Size:         sh.File.Size,
			LineCount:    sh.File.LineCount,
			LastSeenAt:   time.Now().UTC(),
		},
		Symbols: sh.Symbols,
		Chunks:  sh.Chunks,
		Quality: string(sh.Quality),
	}

	diff, err := d.db.ApplyShard(ctx, rec)
	if err != nil {
		return err
	}

	if err := d.syncLexical(ctx, sh.Chunks, diff); err != nil {
		return err
	}
	d.syncVectors(ctx, rec.File.ID, sh.Chunks, diff)
	return nil
}

// syncLexical applies the shard diff to the lexical index.
func (d *Dispatcher) syncLexical(ctx context.Context, chunks []*chunk.Chunk, diff *store.ShardDiff) error {
	if len(diff.RemovedChunkIDs) > 0 {
		if err := d.lexical.Delete(ctx, diff.RemovedChunkIDs); err != nil {
			return err
		}
	}

	added := make(map[string]bool, len(diff.AddedChunkIDs))
	for _, id := range diff.AddedChunkIDs {
		added[id] = true
	}
	var docs []*store.Document
	for _, ch := range chunks {
		if added[ch.ChunkID] {
			docs = append(docs, &store.Document{ID: ch.ChunkID, Content: ch.Content})
		}
	}
	return d.lexical.Index(ctx, docs)
}

// syncVectors embeds added chunks and updates the vector index. Embedder
// trouble degrades semantic freshness, never indexing: failures log and
// move on.
func (d *Dispatcher) syncVectors(ctx context.Context, fileID string, chunks []*chunk.Chunk, diff *store.ShardDiff) {
	if d.embedder == nil || d.vector == nil {
		return
	}

	if len(diff.RemovedChunkIDs) > 0 {
		_ = d.vector.Delete(ctx, diff.RemovedChunkIDs)
	}
	if len(diff.AddedChunkIDs) == 0 {
		return
	}

	added := make(map[string]bool, len(diff.AddedChunkIDs))
	for _, id := range diff.AddedChunkIDs {
		added[id] = true
	}
	var batchIDs []string
	var texts []string
	for _, ch := range chunks {
		if added[ch.ChunkID] {
			batchIDs = append(batchIDs, ch.ChunkID)
			texts = append(texts, ch.Content)
		}
	}

	vecs, err := d.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		slog.Warn("embedding_failed",
			slog.String("file", fileID),
			slog.Int("chunks", len(texts)),
			slog.String("error", err.Error()))
		return
	}

	recs := make([]*store.EmbeddingRecord, len(batchIDs))
	for i := range batchIDs {
		recs[i] = &store.EmbeddingRecord{
			ChunkID:        batchIDs[i],
			FileID:         fileID,
			ModelName:      d.embedder.ModelName(),
			ModelDimension: d.embedder.Dimensions(),
			Vector:         vecs[i],
		}
	}
	if err := d.db.SaveEmbeddings(ctx, recs); err != nil {
		slog.Warn("embedding_persist_failed", slog.String("error", err.Error()))
		return
	}
	if err := d.vector.Add(ctx, batchIDs, vecs); err != nil {
		slog.Warn("vector_add_failed", slog.String("error", err.Error()))
	}
}

// purgeChunks removes chunk ids from the lexical and vector indexes.
func (d *Dispatcher) purgeChunks(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	if err := d.lexical.Delete(ctx, chunkIDs); err != nil {
		return err
	}
	if d.vector != nil {
		_ = d.vector.Delete(ctx, chunkIDs)
	}
	return nil
}
