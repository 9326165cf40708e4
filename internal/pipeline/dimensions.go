package pipeline

// DefaultEmbeddingDim is used when the embedding model is not in the table.
// Unknown models never fail store creation on their own.
const DefaultEmbeddingDim = 768

var embeddingDims = map[string]int{
	"BAAI/bge-large-en-v1.5":                  1024,
	"BAAI/bge-base-en-v1.5":                   768,
	"BAAI/bge-small-en-v1.5":                  384,
	"sentence-transformers/all-MiniLM-L6-v2":  384,
	"sentence-transformers/all-mpnet-base-v2": 768,
	"intfloat/e5-large-v2":                    1024,
	"intfloat/e5-base-v2":                     768,
}

// DimensionOf returns the embedding dimensionality for a model ID,
// falling back to DefaultEmbeddingDim for unrecognized models.
func DimensionOf(modelID string) int {
	if dim, ok := embeddingDims[modelID]; ok {
		return dim
	}
	return DefaultEmbeddingDim
}
