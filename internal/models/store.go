// Package models defines core data structures for stores, documents,
// pipelines, and sessions.
package models

import "time"

// ChunkStrategy is the unit documents are split by during indexing.
type ChunkStrategy string

const (
	ChunkBySentence ChunkStrategy = "sentence"
	ChunkByWord     ChunkStrategy = "word"
	ChunkByPassage  ChunkStrategy = "passage"
)

// Valid reports whether s is a known chunk strategy.
func (s ChunkStrategy) Valid() bool {
	switch s {
	case ChunkBySentence, ChunkByWord, ChunkByPassage:
		return true
	}
	return false
}

// Store is a logical document collection with its own search index,
// chunking/embedding configuration, and deployed pipelines.
type Store struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Slug        string `json:"slug" db:"slug"`
	Description string `json:"description,omitempty" db:"description"`
	IndexName   string `json:"index_name" db:"index_name"`

	// Denormalized stats, maintained by the ingestion tracker.
	DocumentCount  int64 `json:"document_count" db:"document_count"`
	ChunkCount     int64 `json:"chunk_count" db:"chunk_count"`
	TotalSizeBytes int64 `json:"total_size_bytes" db:"total_size_bytes"`

	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedBy string    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ModelConfig holds the embedding and splitting configuration for a store.
// At most one config per store is active.
type ModelConfig struct {
	ID           string        `json:"id" db:"id"`
	StoreID      string        `json:"store_id" db:"store_id"`
	EmbedderModel string       `json:"embedder_model" db:"embedder_model"`
	EmbeddingDim int           `json:"embedding_dim" db:"embedding_dim"`
	SplitBy      ChunkStrategy `json:"split_by" db:"split_by"`
	SplitLength  int           `json:"split_length" db:"split_length"`
	SplitOverlap int           `json:"split_overlap" db:"split_overlap"`
	IsActive     bool          `json:"is_active" db:"is_active"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}
