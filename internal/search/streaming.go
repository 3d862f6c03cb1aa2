package search

import (
	"log/slog"
	"runtime"
	"unicode/utf8"
)

// Chunker defaults.
const (
	DefaultChunkSize = 10
	maxStreamedText  = 1000
	truncationMarker = "... [truncated]"
)

// essentialMetadataKeys is the allow-list applied to streamed result
// metadata. It mirrors the keys the service annotates results with.
var essentialMetadataKeys = map[string]struct{}{
	"search_path":      {},
	"total_time_ms":    {},
	"parallel_time_ms": {},
	"rank":             {},
}

// ResultChunker streams a result list as a lazy, finite, non-restartable
// sequence of fixed-size chunks. Each chunk carries copies with long text
// truncated and metadata pruned to the essential keys. On an internal
// transformation failure the chunker degrades to a single untransformed
// chunk holding everything that remains.
type ResultChunker struct {
	results   []*Candidate
	chunkSize int
	pos       int
	started   bool
	done      bool
}

// NewResultChunker creates a chunker over results. Non-positive sizes fall
// back to DefaultChunkSize.
func NewResultChunker(results []*Candidate, chunkSize int) *ResultChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ResultChunker{results: results, chunkSize: chunkSize}
}

// Next yields the next chunk. The second return is false once the sequence
// is exhausted; the sequence cannot be restarted.
func (c *ResultChunker) Next() ([]*Candidate, bool) {
	if c.done || c.pos >= len(c.results) {
		c.done = true
		return nil, false
	}

	if c.started {
		// Cooperative pause between chunks.
		runtime.Gosched()
	}
	c.started = true

	end := c.pos + c.chunkSize
	if end > len(c.results) {
		end = len(c.results)
	}

	chunk, err := transformChunk(c.results[c.pos:end])
	if err != nil {
		slog.Warn("result streaming degraded to single untransformed chunk",
			slog.String("error", err.Error()))
		rest := c.results[c.pos:]
		c.done = true
		return rest, true
	}

	c.pos = end
	return chunk, true
}

// transformChunk copies the slice applying truncation and metadata pruning.
// A panic during transformation is returned as an error.
func transformChunk(in []*Candidate) (out []*Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &chunkPanicError{value: r}
		}
	}()

	out = make([]*Candidate, len(in))
	for i, c := range in {
		t := c.Clone()
		if len(t.Text) > maxStreamedText {
			cut := maxStreamedText
			// Back up to a rune boundary so truncation never emits
			// invalid UTF-8.
			for cut > 0 && !utf8.RuneStart(t.Text[cut]) {
				cut--
			}
			t.Text = t.Text[:cut] + truncationMarker
		}
		for k := range t.Metadata {
			if _, keep := essentialMetadataKeys[k]; !keep {
				delete(t.Metadata, k)
			}
		}
		out[i] = t
	}
	return out, nil
}

type chunkPanicError struct {
	value any
}

func (e *chunkPanicError) Error() string {
	return "chunk transformation panicked"
}
