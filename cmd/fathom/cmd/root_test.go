package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomsearch/fathom/internal/search"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeTestCorpus(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	body := `{"id":"doc-1","title":"Connection pooling","text":"Reuse database connections through a bounded pool to avoid per-request setup cost.","taxonomy_path":"infra/db"}
{"id":"doc-2","title":"Worker pools","text":"A fixed set of goroutines consumes tasks from a channel, bounding concurrency.","taxonomy_path":"go/concurrency"}
{"id":"doc-3","title":"Request routing","text":"The router matches the request path against registered patterns.","taxonomy_path":"go/net"}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRootCmd_Help(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "fathom")
	assert.Contains(t, out, "search")
	assert.Contains(t, out, "stats")
}

func TestRootCmd_Version(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "fathom version")
}

func TestSearchCmd_RequiresCorpus(t *testing.T) {
	_, err := execute(t, "search", "some query")
	assert.Error(t, err)
}

func TestSearchCmd_EndToEnd(t *testing.T) {
	corpus := writeTestCorpus(t)

	out, err := execute(t, "search", "worker", "pools", "--corpus", corpus, "--limit", "2")

	require.NoError(t, err)
	assert.Contains(t, out, "Worker pools")
}

func TestSearchCmd_JSONFormat(t *testing.T) {
	corpus := writeTestCorpus(t)

	out, err := execute(t, "search", "connection", "pooling", "--corpus", corpus, "--format", "json")

	require.NoError(t, err)
	var results []*search.Candidate
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)
	assert.Equal(t, "doc-1", results[0].ID)
}

func TestSearchCmd_TaxonomyFilter(t *testing.T) {
	corpus := writeTestCorpus(t)

	out, err := execute(t, "search", "pool", "--corpus", corpus, "--taxonomy", "go/concurrency", "--format", "json")

	require.NoError(t, err)
	var results []*search.Candidate
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	for _, r := range results {
		assert.Equal(t, "go/concurrency", r.TaxonomyPath)
	}
}

func TestStatsCmd_PrintsEngineState(t *testing.T) {
	out, err := execute(t, "stats")

	require.NoError(t, err)
	var stats map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Contains(t, stats, "concurrency")
	assert.Contains(t, stats, "performance")
	assert.Contains(t, stats, "quantization")
}
