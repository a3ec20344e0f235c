package handler

import (
	"context"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/codescout/internal/config"
	"github.com/Aman-CERP/codescout/internal/dispatch"
	"github.com/Aman-CERP/codescout/internal/embed"
	"github.com/Aman-CERP/codescout/internal/errors"
	"github.com/Aman-CERP/codescout/internal/ids"
	"github.com/Aman-CERP/codescout/internal/indexdir"
	"github.com/Aman-CERP/codescout/internal/plugin"
	"github.com/Aman-CERP/codescout/internal/query"
	"github.com/Aman-CERP/codescout/internal/store"
	"github.com/Aman-CERP/codescout/internal/token"
)

// session is one opened repository index: storage, lexical and vector
// indexes, dispatcher, and query engine over them.
type session struct {
	repoID string
	root   string
	layout *indexdir.Layout

	db       *store.DB
	lexical  store.LexicalIndex
	vector   store.VectorIndex
	embedder embed.Embedder

	dispatcher *dispatch.Dispatcher
	engine     *query.Engine
	counter    *token.Counter
	cfg        *config.Config
}

// openSession resolves the index directory, acquires the writer lock, and
// opens every layer. Startup order matters: migrations run before any
// index opens so a failed migration blocks cleanly.
func openSession(ctx context.Context, root string, cfg *config.Config, registry *plugin.Registry, counter *token.Counter) (*session, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidPath, "cannot resolve repository root", err)
	}

	layout, err := indexdir.Discover(abs, cfg.IndexPath)
	if err != nil {
		return nil, err
	}
	if err := layout.Acquire(); err != nil {
		return nil, err
	}

	db, err := store.Open(layout.DatabasePath())
	if err != nil {
		_ = layout.Release()
		return nil, err
	}

	lexical, err := store.NewLexicalIndex(cfg.Lexical.Backend, layout.Dir)
	if err != nil {
		_ = db.Close()
		_ = layout.Release()
		return nil, err
	}

	s := &session{
		repoID:  ids.RepositoryID(abs),
		root:    abs,
		layout:  layout,
		db:      db,
		lexical: lexical,
		counter: counter,
		cfg:     cfg,
	}

	if cfg.Semantic.Enabled {
		if err := s.openSemantic(ctx); err != nil {
			// Semantic trouble degrades to lexical-only; queries will
			// carry an EmbedderError warning.
			s.vector = nil
			s.embedder = nil
		}
	}

	s.dispatcher = dispatch.New(registry, db, lexical, s.vector, s.embedder, counter, dispatch.Options{
		Workers:       cfg.WorkerThreads,
		PluginTimeout: cfg.PluginTimeout(),
		MaxFileSize:   cfg.MaxFileSize,
	})

	engine, err := query.New(db, lexical, s.vector, s.embedder, query.Config{
		Alpha:         cfg.Rerank.Alpha,
		SnippetTokens: cfg.SnippetTokens,
	})
	if err != nil {
		_ = s.close()
		return nil, err
	}
	s.engine = engine

	if err := s.db.UpsertRepository(ctx, &store.Repository{
		ID:        s.repoID,
		RootPath:  abs,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		_ = s.close()
		return nil, err
	}

	return s, nil
}

// openSemantic builds the embedder and vector index, restoring the saved
// graph or rebuilding it from stored embeddings.
func (s *session) openSemantic(ctx context.Context) error {
	embedder, err := embed.New(s.cfg.Semantic)
	if err != nil || embedder == nil {
		return err
	}

	vector, err := store.NewHNSWIndex(store.DefaultHNSWConfig(embedder.Dimensions()))
	if err != nil {
		return err
	}

	if err := vector.Load(s.layout.VectorIndexPath()); err != nil {
		// Stale or corrupt graph: rebuild from the embeddings table.
		vector, err = store.NewHNSWIndex(store.DefaultHNSWConfig(embedder.Dimensions()))
		if err != nil {
			return err
		}
		all, err := s.db.AllEmbeddings(ctx, embedder.ModelName())
		if err != nil {
			return err
		}
		idList := make([]string, 0, len(all))
		vecs := make([][]float32, 0, len(all))
		for id, v := range all {
			idList = append(idList, id)
			vecs = append(vecs, v)
		}
		if err := vector.Add(ctx, idList, vecs); err != nil {
			return err
		}
	}

	s.embedder = embedder
	s.vector = vector
	return nil
}

// refreshMetadata rewrites metadata.json from current counts.
func (s *session) refreshMetadata(ctx context.Context) error {
	counts, err := s.db.Counts(ctx, s.repoID)
	if err != nil {
		return err
	}

	meta, readErr := s.layout.ReadMetadata()
	if readErr != nil {
		meta = &indexdir.Metadata{
			RepositoryID: s.repoID,
			RootPath:     s.root,
			CreatedAt:    time.Now().UTC(),
		}
	}
	meta.SchemaVersion = store.CurrentSchemaVersion
	meta.LastIndexedAt = time.Now().UTC()
	meta.FileCount = counts.Files
	meta.SymbolCount = counts.Symbols
	meta.ChunkCount = counts.Chunks
	meta.TokenizerName = s.counter.Name()
	if s.embedder != nil {
		meta.EmbeddingModel = s.embedder.ModelName()
	}
	return s.layout.WriteMetadata(meta)
}

// close flushes and releases every layer.
func (s *session) close() error {
	var firstErr error
	if s.vector != nil {
		if err := s.vector.Save(s.layout.VectorIndexPath()); err != nil && firstErr == nil {
			firstErr = err
		}
		_ = s.vector.Close()
	}
	if s.embedder != nil {
		_ = s.embedder.Close()
	}
	if s.lexical != nil {
		if err := s.lexical.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.layout != nil {
		_ = s.layout.Release()
	}
	return firstErr
}
