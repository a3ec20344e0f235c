package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/Aman-CERP/codescout/internal/errors"
)

// HNSWConfig tunes the vector index.
type HNSWConfig struct {
	Dimension int
	M         int    // max connections per layer
	EfSearch  int    // query-time search width
	Metric    string // "cos" or "l2"
}

// DefaultHNSWConfig returns the tuning used for code embeddings.
func DefaultHNSWConfig(dimension int) HNSWConfig {
	return HNSWConfig{
		Dimension: dimension,
		M:         16,
		EfSearch:  64,
		Metric:    "cos",
	}
}

// HNSWIndex implements VectorIndex on the coder/hnsw pure Go graph.
// String chunk ids map to uint64 graph keys; deletion is lazy (mappings
// drop, graph nodes stay) because removing the last graph node corrupts
// the structure upstream.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config HNSWConfig

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

var _ VectorIndex = (*HNSWIndex)(nil)

// hnswMeta is the persisted sidecar: mappings and config.
type hnswMeta struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  HNSWConfig
}

// NewHNSWIndex creates an empty vector index.
func NewHNSWIndex(cfg HNSWConfig) (*HNSWIndex, error) {
	if cfg.Dimension <= 0 {
		return nil, errors.New(errors.CodeConfigInvalid, "vector dimension must be positive", nil)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWIndex{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

// Add inserts vectors. Existing ids are lazily replaced.
func (s *HNSWIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return errors.InvalidArgument("ids and vectors length mismatch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StorageError("vector index is closed", nil)
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimension {
			return ErrDimensionMismatch{Expected: s.config.Dimension, Got: len(v)}
		}
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if oldKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, oldKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalizeInPlace(vec)
		}

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}
	return nil
}

// Search returns the k nearest live vectors. Lazily deleted nodes are
// filtered out after the graph search, so k is padded to compensate.
func (s *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.StorageError("vector index is closed", nil)
	}
	if len(query) != s.config.Dimension {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimension, Got: len(query)}
	}
	if s.graph.Len() == 0 || k <= 0 {
		return []*VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if s.config.Metric == "cos" {
		normalizeInPlace(q)
	}

	orphans := s.graph.Len() - len(s.idMap)
	nodes := s.graph.Search(q, k+orphans)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		id, live := s.keyMap[node.Key]
		if !live {
			continue
		}
		dist := s.graph.Distance(q, node.Value)
		results = append(results, &VectorResult{
			ChunkID:  id,
			Distance: dist,
			Score:    distanceToScore(dist, s.config.Metric),
		})
		if len(results) >= k {
			break
		}
	}
	return results, nil
}

// Delete removes ids via lazy deletion.
func (s *HNSWIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StorageError("vector index is closed", nil)
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}
	return nil
}

// Contains reports whether an id is live.
func (s *HNSWIndex) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.idMap[id]
	return ok
}

// Count returns the number of live vectors.
func (s *HNSWIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Save persists the graph and mappings atomically (temp file + rename).
func (s *HNSWIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.StorageError("vector index is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.StorageError("failed to create vector index directory", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.StorageError("failed to create vector index file", err)
	}
	if err := s.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.StorageError("failed to export graph", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.StorageError("failed to close vector index file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.StorageError("failed to finalize vector index file", err)
	}

	metaTmp := path + ".meta.tmp"
	mf, err := os.Create(metaTmp)
	if err != nil {
		return errors.StorageError("failed to create vector meta file", err)
	}
	meta := hnswMeta{IDMap: s.idMap, NextKey: s.nextKey, Config: s.config}
	if err := gob.NewEncoder(mf).Encode(meta); err != nil {
		_ = mf.Close()
		_ = os.Remove(metaTmp)
		return errors.StorageError("failed to encode vector meta", err)
	}
	if err := mf.Close(); err != nil {
		_ = os.Remove(metaTmp)
		return errors.StorageError("failed to close vector meta file", err)
	}
	if err := os.Rename(metaTmp, path+".meta"); err != nil {
		_ = os.Remove(metaTmp)
		return errors.StorageError("failed to finalize vector meta file", err)
	}
	return nil
}

// Load restores a saved index. A missing file leaves the index empty.
func (s *HNSWIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StorageError("vector index is closed", nil)
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.StorageError("failed to open vector index file", err)
	}
	defer f.Close()

	if err := s.graph.Import(bufio.NewReader(f)); err != nil {
		return errors.New(errors.CodeCorruptIndex, "failed to import vector graph", err)
	}

	mf, err := os.Open(path + ".meta")
	if err != nil {
		return errors.New(errors.CodeCorruptIndex, "vector meta file missing", err)
	}
	defer mf.Close()

	var meta hnswMeta
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return errors.New(errors.CodeCorruptIndex, "failed to decode vector meta", err)
	}
	if meta.Config.Dimension != s.config.Dimension {
		return ErrDimensionMismatch{Expected: s.config.Dimension, Got: meta.Config.Dimension}
	}

	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close marks the index closed.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// normalizeInPlace scales a vector to unit length.
func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	mag := math.Sqrt(sum)
	if mag == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / mag)
	}
}

// distanceToScore maps a distance to a [0,1] similarity.
func distanceToScore(dist float32, metric string) float32 {
	if dist != dist {
		// NaN: cosine distance against a zero vector.
		return 0
	}
	switch metric {
	case "l2":
		return 1 / (1 + dist)
	default: // cosine distance in [0,2]
		score := 1 - dist/2
		if score < 0 {
			return 0
		}
		return score
	}
}
