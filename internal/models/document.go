package models

import "time"

// ProcessingStatus is the ingestion state of a document.
// Transitions: pending -> processing -> completed | failed. Terminal states
// never transition back; a failed document is deleted and re-uploaded.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document is an uploaded file tracked through ingestion. Content itself
// lives in the index store; this row holds metadata and processing state.
type Document struct {
	ID      string `json:"id" db:"id"`
	StoreID string `json:"store_id" db:"store_id"`

	Filename  string `json:"filename" db:"filename"`
	MimeType  string `json:"mime_type" db:"mime_type"`
	SizeBytes int64  `json:"size_bytes" db:"size_bytes"`
	// Checksum is the hex SHA-256 digest of the file content, unique per store.
	Checksum string `json:"checksum" db:"checksum"`

	Status          ProcessingStatus `json:"processing_status" db:"processing_status"`
	ProcessingError string           `json:"processing_error,omitempty" db:"processing_error"`
	ChunkCount      int64            `json:"chunk_count" db:"chunk_count"`
	PageCount       int64            `json:"page_count,omitempty" db:"page_count"`
	// SourceID references this document's chunks in the index store.
	SourceID string `json:"source_id,omitempty" db:"source_id"`

	UploadedBy  string     `json:"uploaded_by,omitempty" db:"uploaded_by"`
	UploadedAt  time.Time  `json:"uploaded_at" db:"uploaded_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// FileUpload is one file in an upload batch.
type FileUpload struct {
	Filename string
	MimeType string
	Content  []byte
}
