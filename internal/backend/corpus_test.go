package backend

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCorpus_ParsesDocuments(t *testing.T) {
	body := `{"id":"a","title":"First","text":"hello world","taxonomy_path":"go/runtime"}

{"id":"b","title":"Second","text":"more text"}
`

	docs, err := ReadCorpus(strings.NewReader(body))

	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "go/runtime", docs[0].TaxonomyPath)
	assert.Equal(t, "Second", docs[1].Title)
}

func TestReadCorpus_MalformedLine(t *testing.T) {
	body := `{"id":"a","text":"fine"}
{not json}
`
	_, err := ReadCorpus(strings.NewReader(body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadCorpus_MissingID(t *testing.T) {
	_, err := ReadCorpus(strings.NewReader(`{"text":"anonymous"}`))
	assert.Error(t, err)
}

func TestIndexCorpus_PopulatesBothBranches(t *testing.T) {
	catalog := NewCatalog()
	embedder := NewHashEmbedder(64)
	lexical, err := NewLexicalIndex(catalog)
	require.NoError(t, err)
	defer lexical.Close()
	vector, err := NewVectorIndex(catalog, DefaultVectorIndexConfig(64))
	require.NoError(t, err)
	defer vector.Close()

	docs := testDocs()
	require.NoError(t, IndexCorpus(context.Background(), docs, lexical, vector, embedder))

	n, err := lexical.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
	assert.Equal(t, 3, vector.Count())
	assert.Equal(t, 3, catalog.Len())

	// Both branches answer.
	lexResults, err := lexical.Search(context.Background(), "goroutines", 5, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, lexResults)

	queryVec, err := embedder.Embed(context.Background(), "channel communication")
	require.NoError(t, err)
	vecResults, err := vector.Search(context.Background(), queryVec, 5, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, vecResults)
}
