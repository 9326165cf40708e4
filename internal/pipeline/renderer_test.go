package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Cyb3rDudu/docstack/internal/models"
)

func testParams() *RenderParams {
	return &RenderParams{
		Slug:          "my-notes",
		IndexName:     "docstack-my-notes-1700000000",
		EmbedderModel: "BAAI/bge-large-en-v1.5",
		SplitBy:       models.ChunkBySentence,
		SplitLength:   55,
		SplitOverlap:  5,
	}
}

func TestRenderIndexing(t *testing.T) {
	r := NewRenderer("http://localhost:9200")
	out, err := r.RenderIndexing(testParams())
	require.NoError(t, err)

	var def struct {
		Components  map[string]map[string]interface{} `yaml:"components"`
		Connections []map[string]string               `yaml:"connections"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &def))

	for _, name := range []string{"converter", "splitter", "embedder", "writer"} {
		assert.Contains(t, def.Components, name)
	}
	assert.Len(t, def.Connections, 3)

	splitter := def.Components["splitter"]["init_parameters"].(map[string]interface{})
	assert.Equal(t, "sentence", splitter["split_by"])
	assert.Equal(t, 55, splitter["split_length"])
	assert.Equal(t, 5, splitter["split_overlap"])

	assert.Contains(t, out, "docstack-my-notes-1700000000")
	assert.Contains(t, out, "http://localhost:9200")
	// bge-large resolves to 1024 dimensions
	assert.Contains(t, out, "embedding_dim: 1024")
}

func TestRenderQuery(t *testing.T) {
	r := NewRenderer("http://localhost:9200")

	p := testParams()
	p.TopK = 7
	out, err := r.RenderQuery(p)
	require.NoError(t, err)
	assert.Contains(t, out, "top_k: 7")
	assert.Contains(t, out, "retriever.query_embedding")

	// TopK defaults when unset
	out, err = r.RenderQuery(testParams())
	require.NoError(t, err)
	assert.Contains(t, out, "top_k: 10")
}

func TestRenderDeterministic(t *testing.T) {
	r := NewRenderer("http://localhost:9200")
	first, err := r.RenderIndexing(testParams())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.RenderIndexing(testParams())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRenderComponentOrder(t *testing.T) {
	r := NewRenderer("http://localhost:9200")
	out, err := r.RenderIndexing(testParams())
	require.NoError(t, err)

	prev := -1
	for _, name := range []string{"converter:", "splitter:", "embedder:", "writer:"} {
		idx := strings.Index(out, name)
		require.Greater(t, idx, prev, "component %s out of order", name)
		prev = idx
	}
}

func TestRenderValidation(t *testing.T) {
	r := NewRenderer("http://localhost:9200")

	cases := []struct {
		name   string
		mutate func(*RenderParams)
	}{
		{"empty slug", func(p *RenderParams) { p.Slug = "" }},
		{"empty index name", func(p *RenderParams) { p.IndexName = "" }},
		{"empty model", func(p *RenderParams) { p.EmbedderModel = "" }},
		{"bad strategy", func(p *RenderParams) { p.SplitBy = "paragraph" }},
		{"zero length", func(p *RenderParams) { p.SplitLength = 0 }},
		{"negative overlap", func(p *RenderParams) { p.SplitOverlap = -1 }},
		{"overlap >= length", func(p *RenderParams) { p.SplitOverlap = 55 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := testParams()
			tc.mutate(p)
			_, err := r.RenderIndexing(p)
			assert.Error(t, err)
			_, err = r.RenderQuery(p)
			assert.Error(t, err)
		})
	}
}

func TestDimensionOf(t *testing.T) {
	assert.Equal(t, 1024, DimensionOf("BAAI/bge-large-en-v1.5"))
	assert.Equal(t, 384, DimensionOf("sentence-transformers/all-MiniLM-L6-v2"))
	assert.Equal(t, DefaultEmbeddingDim, DimensionOf("some/unknown-model"))
}
