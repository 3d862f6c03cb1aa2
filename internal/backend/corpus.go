package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fathomsearch/fathom/internal/errors"
	"github.com/fathomsearch/fathom/internal/search"
)

// corpusScannerBuffer sizes the line buffer for large documents (4MB).
const corpusScannerBuffer = 4 * 1024 * 1024

// ReadCorpus parses a JSONL stream of documents. Blank lines are skipped;
// a malformed line fails the whole read with its line number.
func ReadCorpus(r io.Reader) ([]Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), corpusScannerBuffer)

	var docs []Document
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, errors.ValidationError(
				fmt.Sprintf("corpus line %d is not a valid document", line), err)
		}
		if doc.ID == "" {
			return nil, errors.ValidationError(
				fmt.Sprintf("corpus line %d is missing an id", line), nil)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.ValidationError("read corpus", err)
	}
	return docs, nil
}

// ReadCorpusFile reads a JSONL corpus from disk.
func ReadCorpusFile(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeConfigNotFound, "open corpus file", err).
			WithDetail("path", path)
	}
	defer f.Close()
	return ReadCorpus(f)
}

// IndexCorpus loads documents into both branches: lexical index first, then
// embeddings into the vector index in batches.
func IndexCorpus(ctx context.Context, docs []Document, lexical *LexicalIndex, vector *VectorIndex, embedder search.Embedder) error {
	if err := lexical.Index(ctx, docs); err != nil {
		return err
	}

	ids := make([]string, 0, len(docs))
	vectors := make([][]float32, 0, len(docs))
	for _, doc := range docs {
		vec, err := embedder.Embed(ctx, doc.Title+"\n"+doc.Text)
		if err != nil {
			return errors.EmbeddingError("embed corpus document", err).WithDetail("id", doc.ID)
		}
		if vec == nil {
			// Empty documents have no embedding; lexical search still
			// covers them.
			continue
		}
		ids = append(ids, doc.ID)
		vectors = append(vectors, vec)
	}
	return vector.Add(ctx, ids, vectors)
}
