package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/Aman-CERP/codescout/internal/errors"
)

// codeAnalyzerName names the bleve analyzer for pre-tokenized content.
const codeAnalyzerName = "code_whitespace"

// BleveIndex implements LexicalIndex on bleve. It exists alongside the
// FTS5 backend for installations already carrying bleve indexes; both
// receive identically pre-tokenized content so scores are comparable.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ LexicalIndex = (*BleveIndex)(nil)

// bleveDoc is the indexed document shape.
type bleveDoc struct {
	Content string `json:"content"`
}

// NewBleveIndex opens a bleve lexical index at path. An empty path builds
// an in-memory index for tests. A corrupted index directory is cleared and
// rebuilt.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im, err := buildBleveMapping()
	if err != nil {
		return nil, errors.StorageError("failed to build index mapping", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if validErr := validateBleveDir(path); validErr != nil {
			_ = os.RemoveAll(path)
		}
		idx, err = bleve.Open(path)
		if err != nil {
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, errors.StorageError("failed to open bleve index", err)
	}

	return &BleveIndex{index: idx, path: path}, nil
}

// buildBleveMapping maps the content field through a whitespace analyzer:
// content arrives pre-tokenized by the shared code tokenizer.
func buildBleveMapping() (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()
	if err := im.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     whitespace.Name,
		"token_filters": []string{lowercase.Name},
	}); err != nil {
		return nil, err
	}

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = codeAnalyzerName
	contentField.Store = false
	contentField.IncludeTermVectors = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", contentField)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = codeAnalyzerName
	return im, nil
}

// validateBleveDir checks the index metadata before opening.
func validateBleveDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	metaPath := path + string(os.PathSeparator) + "index_meta.json"
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json corrupt: %w", err)
	}
	return nil
}

// Index adds or replaces documents in one batch.
func (s *BleveIndex) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StorageError("lexical index is closed", nil)
	}

	batch := s.index.NewBatch()
	stop := stopWordSet()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		tokens := filterStopWords(Tokenize(doc.Content), stop)
		if err := batch.Index(doc.ID, bleveDoc{Content: strings.Join(tokens, " ")}); err != nil {
			return errors.StorageError("failed to batch document "+doc.ID, err)
		}
	}
	if err := s.index.Batch(batch); err != nil {
		return errors.StorageError("failed to apply batch", err)
	}
	return nil
}

// Search returns scored matches for the query.
func (s *BleveIndex) Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.StorageError("lexical index is closed", nil)
	}

	tokens := TokenizeQuery(query)
	if len(tokens) == 0 {
		return []*LexicalResult{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	mq := bleve.NewMatchQuery(strings.Join(tokens, " "))
	mq.SetField("content")

	req := bleve.NewSearchRequestOptions(mq, limit, 0, false)
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.StorageError("lexical search failed", err)
	}

	results := make([]*LexicalResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, &LexicalResult{
			ChunkID:      hit.ID,
			Score:        hit.Score,
			MatchedTerms: tokens,
		})
	}
	return results, nil
}

// Delete removes documents in one batch.
func (s *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StorageError("lexical index is closed", nil)
	}

	batch := s.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := s.index.Batch(batch); err != nil {
		return errors.StorageError("failed to delete batch", err)
	}
	return nil
}

// AllIDs returns every indexed document id.
func (s *BleveIndex) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.StorageError("lexical index is closed", nil)
	}

	count, err := s.index.DocCount()
	if err != nil {
		return nil, errors.StorageError("failed to count documents", err)
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(count), 0, false)
	res, err := s.index.Search(req)
	if err != nil {
		return nil, errors.StorageError("failed to enumerate ids", err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Count returns the number of indexed documents.
func (s *BleveIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	n, err := s.index.DocCount()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close closes the index. Idempotent.
func (s *BleveIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.index.Close()
}

// NewLexicalIndex builds the configured lexical backend. FTS5 stores at
// <dir>/lexical.db, bleve under <dir>/lexical.bleve. An empty dir builds
// in-memory (tests).
func NewLexicalIndex(backend, dir string) (LexicalIndex, error) {
	switch backend {
	case "", "fts5":
		path := ""
		if dir != "" {
			path = dir + string(os.PathSeparator) + "lexical.db"
		}
		return NewFTS5Index(path)
	case "bleve":
		path := ""
		if dir != "" {
			path = dir + string(os.PathSeparator) + "lexical.bleve"
		}
		return NewBleveIndex(path)
	default:
		return nil, errors.New(errors.CodeConfigInvalid, "unknown lexical backend: "+backend, nil)
	}
}
