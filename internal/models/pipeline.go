package models

import "time"

// PipelineType distinguishes indexing pipelines from query pipelines.
type PipelineType string

const (
	PipelineIndexing PipelineType = "indexing"
	PipelineQuery    PipelineType = "query"
)

// Valid reports whether t is a known pipeline type.
func (t PipelineType) Valid() bool {
	return t == PipelineIndexing || t == PipelineQuery
}

// PipelineRecord is a versioned pipeline configuration for a store.
// At most one record per (store, type) is active. Editing the content
// increments Version and clears Deployed: a changed configuration must be
// redeployed before the runtime reflects it.
type PipelineRecord struct {
	ID      string `json:"id" db:"id"`
	StoreID string `json:"store_id" db:"store_id"`

	Name    string       `json:"name" db:"name"`
	Type    PipelineType `json:"pipeline_type" db:"pipeline_type"`
	Content string       `json:"yaml_content" db:"yaml_content"`
	Version int          `json:"version" db:"version"`

	IsActive   bool       `json:"is_active" db:"is_active"`
	Deployed   bool       `json:"deployed" db:"deployed"`
	DeployedAt *time.Time `json:"deployed_at,omitempty" db:"deployed_at"`

	CreatedBy string    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RuntimeName is the name a store's pipeline is deployed under,
// e.g. "my-notes_indexing".
func RuntimeName(slug string, t PipelineType) string {
	return slug + "_" + string(t)
}
