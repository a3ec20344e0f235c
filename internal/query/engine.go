package query

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/codescout/internal/embed"
	"github.com/Aman-CERP/codescout/internal/errors"
	"github.com/Aman-CERP/codescout/internal/store"
)

// DefaultAlpha is the lexical weight in the hybrid blend.
const DefaultAlpha = 0.5

// overfetch widens retrieval so post-filters and pagination still have
// material to work with.
const overfetch = 3

// Config tunes the engine.
type Config struct {
	// Alpha is the lexical weight: score = alpha*lex + (1-alpha)*sem.
	Alpha float64
	// SnippetTokens bounds snippet windows.
	SnippetTokens int
}

// Engine resolves lookups and searches against the storage layer.
type Engine struct {
	db       *store.DB
	lexical  store.LexicalIndex
	vector   store.VectorIndex // nil without semantic search
	embedder embed.Embedder    // nil without semantic search
	cfg      Config
}

// New creates a query engine. vector and embedder may be nil together.
func New(db *store.DB, lexical store.LexicalIndex, vector store.VectorIndex,
	embedder embed.Embedder, cfg Config) (*Engine, error) {
	if db == nil || lexical == nil {
		return nil, errors.New(errors.CodeInternal, "query engine requires storage and a lexical index", nil)
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = DefaultAlpha
	}
	if cfg.SnippetTokens <= 0 {
		cfg.SnippetTokens = 96
	}
	return &Engine{db: db, lexical: lexical, vector: vector, embedder: embedder, cfg: cfg}, nil
}

// LookupSymbol resolves a name to declaration locations.
func (e *Engine) LookupSymbol(ctx context.Context, repoID, name, kind string, limit int) ([]*store.SymbolLocation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New(errors.CodeInvalidQuery, "symbol name is required", nil)
	}
	return e.db.LookupSymbol(ctx, repoID, name, kind, limit)
}

// GetDefinition resolves a qualified name to its canonical declaration.
func (e *Engine) GetDefinition(ctx context.Context, repoID, qualifiedName string) (*Location, error) {
	loc, err := e.db.GetDefinition(ctx, repoID, qualifiedName)
	if err != nil {
		return nil, err
	}
	return &Location{
		FilePath:  loc.FilePath,
		Line:      loc.Line,
		Column:    loc.Column,
		Name:      loc.QualifiedName,
		Kind:      loc.Kind,
		Signature: loc.Signature,
	}, nil
}

// FindReferences returns chunks mentioning the symbol, via the lexical
// index: references live as index joins, not as an in-memory graph.
func (e *Engine) FindReferences(ctx context.Context, repoID, qualifiedName string, limit int) ([]*Location, error) {
	name := qualifiedName
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return nil, errors.New(errors.CodeInvalidQuery, "symbol name is required", nil)
	}
	if limit <= 0 {
		limit = 20
	}

	def, defErr := e.db.GetDefinition(ctx, repoID, qualifiedName)

	hits, err := e.lexical.Search(ctx, name, limit*overfetch)
	if err != nil {
		return nil, err
	}
	idList := make([]string, len(hits))
	for i, h := range hits {
		idList[i] = h.ChunkID
	}
	chunks, err := e.db.HydrateChunks(ctx, idList)
	if err != nil {
		return nil, err
	}

	var out []*Location
	for _, ch := range chunks {
		if !strings.Contains(ch.Content, name) {
			continue
		}
		// The declaration itself is not a reference.
		if defErr == nil && ch.FilePath == def.FilePath &&
			ch.StartLine <= def.Line && def.Line <= ch.EndLine {
			continue
		}
		out = append(out, &Location{
			FilePath: ch.FilePath,
			Line:     referenceLine(ch.Content, ch.StartLine, name),
			Snippet:  snippetAround(ch.Content, name),
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Search runs the lexical and (optionally) semantic legs in parallel,
// normalizes and blends their scores, and paginates statelessly.
//
// An embedder failure never fails the request: the response degrades to
// lexical-only with an EmbedderError warning, per the propagation policy.
func (e *Engine) Search(ctx context.Context, repoID, query string, opts Options) (*SearchOutput, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New(errors.CodeInvalidQuery, "query is required", nil)
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Offset < 0 {
		return nil, errors.InvalidArgument("offset must be non-negative")
	}

	alpha := e.cfg.Alpha
	if opts.Alpha > 0 && opts.Alpha <= 1 {
		alpha = opts.Alpha
	}

	fetch := (opts.Offset + opts.Limit) * overfetch
	wantSemantic := opts.Semantic && e.embedder != nil && e.vector != nil

	var (
		lexHits []*store.LexicalResult
		vecHits []*store.VectorResult
		warns   []Warning
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lexHits, err = e.lexical.Search(gctx, query, fetch)
		return err
	})
	if wantSemantic {
		g.Go(func() error {
			vec, err := e.embedder.Embed(gctx, query)
			if err == nil {
				vecHits, err = e.vector.Search(gctx, vec, fetch)
			}
			if err != nil {
				// Degrade, don't fail: the lexical leg still answers.
				warns = append(warns, Warning{
					Kind:   string(errors.KindEmbedder),
					Detail: err.Error(),
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if opts.Semantic && (e.embedder == nil || e.vector == nil) {
		warns = append(warns, Warning{
			Kind:   string(errors.KindEmbedder),
			Detail: "semantic search is not configured",
		})
	}

	results, err := e.blend(ctx, query, lexHits, vecHits, alpha)
	if err != nil {
		return nil, err
	}

	results, err = e.applyFilters(ctx, results, opts.Filters)
	if err != nil {
		return nil, err
	}

	// The pairwise rerank pass belongs to hybrid mode only: a
	// lexical-only request keeps its purely lexical ordering.
	if wantSemantic {
		e.rerankPairs(ctx, query, results)
	}

	snapshot, err := e.db.SnapshotID(ctx)
	if err != nil {
		return nil, err
	}

	out := &SearchOutput{
		Total:      len(results),
		SnapshotID: snapshot,
		Drifted:    opts.SnapshotID != 0 && opts.SnapshotID != snapshot,
		Warnings:   warns,
	}

	// Stateless pagination; an offset past the result count is a valid
	// empty page.
	if opts.Offset < len(results) {
		end := opts.Offset + opts.Limit
		if end > len(results) {
			end = len(results)
		}
		out.Results = results[opts.Offset:end]
	} else {
		out.Results = []*Result{}
	}
	return out, nil
}

// blend unions both hit lists, min-max normalizes each leg to [0,1], and
// combines as alpha*lex + (1-alpha)*sem. Score ties prefer chunks found by
// both legs, then break by chunk id so pagination is deterministic.
func (e *Engine) blend(ctx context.Context, query string, lexHits []*store.LexicalResult,
	vecHits []*store.VectorResult, alpha float64) ([]*Result, error) {

	type partial struct {
		lex, sem   float64
		inLex      bool
		inSem      bool
		matchTerms []string
	}
	merged := make(map[string]*partial)

	maxLex, minLex := 0.0, 0.0
	for i, h := range lexHits {
		if i == 0 {
			maxLex, minLex = h.Score, h.Score
		}
		if h.Score > maxLex {
			maxLex = h.Score
		}
		if h.Score < minLex {
			minLex = h.Score
		}
	}
	for _, h := range lexHits {
		p := &partial{inLex: true, matchTerms: h.MatchedTerms}
		if maxLex > minLex {
			p.lex = (h.Score - minLex) / (maxLex - minLex)
		} else {
			p.lex = 1
		}
		merged[h.ChunkID] = p
	}

	for _, h := range vecHits {
		p, ok := merged[h.ChunkID]
		if !ok {
			p = &partial{}
			merged[h.ChunkID] = p
		}
		p.inSem = true
		p.sem = float64(h.Score) // already in [0,1]
	}

	idList := make([]string, 0, len(merged))
	for id := range merged {
		idList = append(idList, id)
	}
	sort.Strings(idList)

	chunks, err := e.db.HydrateChunks(ctx, idList)
	if err != nil {
		return nil, err
	}

	terms := store.TokenizeQuery(query)
	results := make([]*Result, 0, len(chunks))
	for _, ch := range chunks {
		p := merged[ch.ChunkID]
		r := &Result{
			ChunkID:   ch.ChunkID,
			FilePath:  ch.FilePath,
			StartLine: ch.StartLine,
			EndLine:   ch.EndLine,
			Language:  ch.Language,
			ChunkType: string(ch.Type),
			LexScore:  p.lex,
			SemScore:  p.sem,
			InBoth:    p.inLex && p.inSem,
			Score:     alpha*p.lex + (1-alpha)*p.sem,
			Snippet:   e.snippet(ch.Content, terms),
			fileID:    ch.FileID,
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].InBoth != results[j].InBoth {
			return results[i].InBoth
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results, nil
}

// rerankPairs applies the optional pairwise rerank when the embedder
// exposes the capability, reordering in place.
func (e *Engine) rerankPairs(ctx context.Context, query string, results []*Result) {
	scorer, ok := e.embedder.(embed.PairScorer)
	if !ok || len(results) < 2 {
		return
	}

	candidates := make([]string, len(results))
	for i, r := range results {
		candidates[i] = r.Snippet
	}
	scores, err := scorer.ScorePairs(ctx, query, candidates)
	if err != nil || len(scores) != len(results) {
		return
	}

	// Blend the pair score in rather than replacing the fused score:
	// the pair pass refines ordering, the fused score keeps recall sane.
	for i, r := range results {
		r.Score = (r.Score + scores[i]) / 2
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}
