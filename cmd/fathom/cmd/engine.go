package cmd

import (
	"context"

	"github.com/fathomsearch/fathom/internal/backend"
	"github.com/fathomsearch/fathom/internal/concurrency"
	"github.com/fathomsearch/fathom/internal/config"
	"github.com/fathomsearch/fathom/internal/errors"
	"github.com/fathomsearch/fathom/internal/search"
)

// engine is the composed retrieval stack. Commands build it once from the
// resolved configuration.
type engine struct {
	catalog  *backend.Catalog
	lexical  *backend.LexicalIndex
	vector   *backend.VectorIndex
	embedder search.Embedder
	service  *search.Service
}

// buildEngine is the composition root: it wires the catalog, both index
// branches, the embedder stack, the concurrency controller, and the
// search service.
func buildEngine(cfg *config.Config) (*engine, error) {
	catalog := backend.NewCatalog()

	lexical, err := backend.NewLexicalIndex(catalog)
	if err != nil {
		return nil, err
	}

	vector, err := backend.NewVectorIndex(catalog, cfg.Vector)
	if err != nil {
		_ = lexical.Close()
		return nil, err
	}

	retryCfg := errors.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.Embedding.MaxRetries
	embedder := backend.NewCachedEmbedder(
		backend.NewRetryEmbedder(backend.NewHashEmbedder(cfg.Embedding.Dimensions), retryCfg),
		cfg.Embedding.CacheSize,
	)

	controller := concurrency.NewController(cfg.Concurrency)

	service, err := search.NewService(lexical, vector, embedder, controller, cfg.Search)
	if err != nil {
		_ = lexical.Close()
		_ = vector.Close()
		return nil, err
	}

	return &engine{
		catalog:  catalog,
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
		service:  service,
	}, nil
}

// loadCorpus reads and indexes a JSONL corpus into both branches.
func (e *engine) loadCorpus(ctx context.Context, path string) (int, error) {
	docs, err := backend.ReadCorpusFile(path)
	if err != nil {
		return 0, err
	}
	if err := backend.IndexCorpus(ctx, docs, e.lexical, e.vector, e.embedder); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Close shuts the stack down in reverse build order.
func (e *engine) Close() error {
	err := e.service.Close()
	if cerr := e.vector.Close(); err == nil {
		err = cerr
	}
	if cerr := e.lexical.Close(); err == nil {
		err = cerr
	}
	return err
}
