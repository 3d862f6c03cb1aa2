package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fathomsearch/fathom/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	corpus   string
	limit    int
	taxonomy string
	source   string
	format   string // "text", "json"
	stream   bool
	stats    bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a document corpus",
		Long: `Search a JSONL corpus using hybrid retrieval.

Runs BM25 keyword search and vector similarity search concurrently, fuses
the branch scores, and reranks the merged candidates.

Examples:
  fathom search "connection pooling" --corpus docs.jsonl
  fathom search "error handling" --corpus docs.jsonl --taxonomy go/errors
  fathom search "worker pools" --corpus docs.jsonl --format json --stats`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().StringVar(&opts.corpus, "corpus", "", "Path to the JSONL document corpus (required)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVar(&opts.taxonomy, "taxonomy", "", "Filter by taxonomy path prefix")
	cmd.Flags().StringVar(&opts.source, "source", "", "Filter by exact source URL")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "Stream results in chunks")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "Print engine statistics after the search")
	_ = cmd.MarkFlagRequired("corpus")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, cleanup, err := loadConfig()
	if err != nil {
		return err
	}
	defer cleanup()

	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	count, err := eng.loadCorpus(ctx, opts.corpus)
	if err != nil {
		return err
	}
	slog.Info("corpus indexed",
		slog.Int("documents", count),
		slog.String("corpus", opts.corpus))

	filters := make(map[string]string)
	if opts.taxonomy != "" {
		filters["taxonomy_path"] = opts.taxonomy
	}
	if opts.source != "" {
		filters["source_url"] = opts.source
	}

	results, err := eng.service.HybridSearch(ctx, query, search.Options{
		TopK:    opts.limit,
		Filters: filters,
	})
	if err != nil {
		return err
	}

	if opts.stream {
		if err := printStreamed(cmd, eng, results, opts.format); err != nil {
			return err
		}
	} else if err := printResults(cmd, results, opts.format); err != nil {
		return err
	}

	if opts.stats {
		return printStats(cmd, eng)
	}
	return nil
}

// printResults writes the result list in the requested format.
func printResults(cmd *cobra.Command, results []*search.Candidate, format string) error {
	out := cmd.OutOrStdout()

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%2d. [%.4f] %s (%s)\n", i+1, r.CombinedScore, r.Title, r.Provenance)
		if r.SourceURL != "" {
			fmt.Fprintf(out, "    %s\n", r.SourceURL)
		}
		fmt.Fprintf(out, "    %s\n", snippet(r.Text, 160))
	}
	return nil
}

// printStreamed drains the result chunker, writing one chunk at a time.
func printStreamed(cmd *cobra.Command, eng *engine, results []*search.Candidate, format string) error {
	chunker := eng.service.StreamResults(results)
	for {
		chunk, ok := chunker.Next()
		if !ok {
			return nil
		}
		if err := printResults(cmd, chunk, format); err != nil {
			return err
		}
	}
}

// snippet trims text to one output line.
func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > max {
		return text[:max] + "..."
	}
	return text
}
