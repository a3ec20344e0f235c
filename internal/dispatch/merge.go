package dispatch

import (
	"sort"

	"github.com/Aman-CERP/codescout/internal/chunk"
	"github.com/Aman-CERP/codescout/internal/plugin"
)

// MergeShards combines the shards several plugins produced for one file
// into a single shard with disjoint chunk ranges.
//
// Chunk conflicts resolve by preferring the plugin with higher quality,
// then the larger contiguous span; a chunk overlapping an already-kept
// range is dropped. Symbols union with (symbol_hash, line) dedup, and
// file metadata comes from the highest-quality shard.
func MergeShards(shards []*plugin.Shard) *plugin.Shard {
	if len(shards) == 1 {
		return shards[0]
	}

	best := shards[0]
	for _, sh := range shards[1:] {
		if sh.Quality.Better(best.Quality) {
			best = sh
		}
	}

	out := &plugin.Shard{
		PluginID: best.PluginID,
		File:     best.File,
		Quality:  best.Quality,
	}

	// Rank every chunk with its source shard's quality.
	type candidate struct {
		ch      *chunk.Chunk
		quality plugin.Quality
		order   int // original shard order stabilizes ties
	}
	var candidates []candidate
	for i, sh := range shards {
		for _, ch := range sh.Chunks {
			candidates = append(candidates, candidate{ch: ch, quality: sh.Quality, order: i})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.quality != b.quality {
			return a.quality.Better(b.quality)
		}
		spanA := a.ch.EndByte - a.ch.StartByte
		spanB := b.ch.EndByte - b.ch.StartByte
		if spanA != spanB {
			return spanA > spanB
		}
		return a.order < b.order
	})

	var kept []*chunk.Chunk
	for _, c := range candidates {
		if overlapsAny(kept, c.ch) {
			continue
		}
		kept = append(kept, c.ch)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].StartByte < kept[j].StartByte })
	out.Chunks = kept

	// Union symbols and imports.
	seenSym := make(map[string]bool)
	for _, sh := range shards {
		for _, s := range sh.Symbols {
			key := s.SymbolHash + "\x00" + itoa(s.StartLine)
			if seenSym[key] {
				continue
			}
			seenSym[key] = true
			out.Symbols = append(out.Symbols, s)
		}
	}
	seenImp := make(map[string]bool)
	for _, sh := range shards {
		for _, imp := range sh.Imports {
			if !seenImp[imp] {
				seenImp[imp] = true
				out.Imports = append(out.Imports, imp)
			}
		}
	}

	return out
}

func overlapsAny(kept []*chunk.Chunk, c *chunk.Chunk) bool {
	for _, k := range kept {
		if c.StartByte < k.EndByte && k.StartByte < c.EndByte {
			return true
		}
	}
	return false
}

func itoa(n int) string {
	if n < 0 {
		return "-" + itoa(-n)
	}
	if n < 10 {
		return string(rune('0' + n))
	}
	return itoa(n/10) + string(rune('0'+n%10))
}
