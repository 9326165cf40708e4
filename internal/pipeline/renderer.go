// Package pipeline renders versioned pipeline configurations and enforces
// the single-active-pipeline invariant per (store, type).
package pipeline

import (
	"fmt"

	"github.com/Cyb3rDudu/docstack/internal/models"
	"gopkg.in/yaml.v3"
)

// RenderParams holds everything needed to render a store's pipelines.
type RenderParams struct {
	Slug          string
	IndexName     string
	IndexStoreURL string
	EmbedderModel string
	SplitBy       models.ChunkStrategy
	SplitLength   int
	SplitOverlap  int
	TopK          int
}

func (p *RenderParams) validate() error {
	if p.Slug == "" || p.IndexName == "" {
		return fmt.Errorf("slug and index name are required")
	}
	if p.EmbedderModel == "" {
		return fmt.Errorf("embedder model is required")
	}
	if !p.SplitBy.Valid() {
		return fmt.Errorf("invalid chunk strategy: %q", p.SplitBy)
	}
	if p.SplitLength <= 0 {
		return fmt.Errorf("split length must be positive, got %d", p.SplitLength)
	}
	if p.SplitOverlap < 0 || p.SplitOverlap >= p.SplitLength {
		return fmt.Errorf("split overlap %d must be in [0, %d)", p.SplitOverlap, p.SplitLength)
	}
	return nil
}

// Renderer produces pipeline configuration YAML for the runtime. Output is
// deterministic for a given parameter set.
type Renderer struct {
	// IndexStoreURL is the default document store URL when params omit one.
	IndexStoreURL string
}

// NewRenderer creates a renderer targeting the given index store URL.
func NewRenderer(indexStoreURL string) *Renderer {
	return &Renderer{IndexStoreURL: indexStoreURL}
}

type component struct {
	Type string         `yaml:"type"`
	Init map[string]any `yaml:"init_parameters,omitempty"`
}

type connection struct {
	Sender   string `yaml:"sender"`
	Receiver string `yaml:"receiver"`
}

// definition is marshaled via yaml.Node building to keep component order stable.
type definition struct {
	Components  *yaml.Node   `yaml:"components"`
	Connections []connection `yaml:"connections"`
}

// orderedComponents builds a mapping node preserving insertion order.
func orderedComponents(pairs []struct {
	name string
	comp component
}) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range pairs {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: p.name}
		valNode := &yaml.Node{}
		if err := valNode.Encode(p.comp); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

func (r *Renderer) documentStore(p *RenderParams) component {
	url := p.IndexStoreURL
	if url == "" {
		url = r.IndexStoreURL
	}
	return component{
		Type: "haystack_integrations.document_stores.opensearch.document_store.OpenSearchDocumentStore",
		Init: map[string]any{
			"hosts":         []string{url},
			"index":         p.IndexName,
			"embedding_dim": DimensionOf(p.EmbedderModel),
		},
	}
}

// RenderIndexing renders the indexing pipeline configuration for a store.
func (r *Renderer) RenderIndexing(p *RenderParams) (string, error) {
	if err := p.validate(); err != nil {
		return "", fmt.Errorf("failed to render indexing pipeline: %w", err)
	}
	pairs := []struct {
		name string
		comp component
	}{
		{"converter", component{
			Type: "haystack.components.converters.multi_file_converter.MultiFileConverter",
		}},
		{"splitter", component{
			Type: "haystack.components.preprocessors.document_splitter.DocumentSplitter",
			Init: map[string]any{
				"split_by":      string(p.SplitBy),
				"split_length":  p.SplitLength,
				"split_overlap": p.SplitOverlap,
			},
		}},
		{"embedder", component{
			Type: "haystack.components.embedders.sentence_transformers_document_embedder.SentenceTransformersDocumentEmbedder",
			Init: map[string]any{
				"model":                p.EmbedderModel,
				"normalize_embeddings": true,
				"batch_size":           32,
			},
		}},
		{"writer", component{
			Type: "haystack.components.writers.document_writer.DocumentWriter",
			Init: map[string]any{
				"document_store": r.documentStore(p),
			},
		}},
	}
	return marshalDefinition(pairs, []connection{
		{Sender: "converter.documents", Receiver: "splitter.documents"},
		{Sender: "splitter.documents", Receiver: "embedder.documents"},
		{Sender: "embedder.documents", Receiver: "writer.documents"},
	})
}

// RenderQuery renders the query pipeline configuration for a store.
func (r *Renderer) RenderQuery(p *RenderParams) (string, error) {
	if err := p.validate(); err != nil {
		return "", fmt.Errorf("failed to render query pipeline: %w", err)
	}
	topK := p.TopK
	if topK <= 0 {
		topK = 10
	}
	pairs := []struct {
		name string
		comp component
	}{
		{"text_embedder", component{
			Type: "haystack.components.embedders.sentence_transformers_text_embedder.SentenceTransformersTextEmbedder",
			Init: map[string]any{
				"model":                p.EmbedderModel,
				"normalize_embeddings": true,
			},
		}},
		{"retriever", component{
			Type: "haystack_integrations.components.retrievers.opensearch.embedding_retriever.OpenSearchEmbeddingRetriever",
			Init: map[string]any{
				"document_store": r.documentStore(p),
				"top_k":          topK,
			},
		}},
	}
	return marshalDefinition(pairs, []connection{
		{Sender: "text_embedder.embedding", Receiver: "retriever.query_embedding"},
	})
}

func marshalDefinition(pairs []struct {
	name string
	comp component
}, conns []connection) (string, error) {
	components, err := orderedComponents(pairs)
	if err != nil {
		return "", fmt.Errorf("failed to render pipeline: %w", err)
	}
	data, err := yaml.Marshal(definition{Components: components, Connections: conns})
	if err != nil {
		return "", fmt.Errorf("failed to render pipeline: %w", err)
	}
	return string(data), nil
}
