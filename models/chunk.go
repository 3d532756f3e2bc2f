package models

import (
	"github.com/google/uuid"
)

// DocumentChunk is a bounded, overlapping slice of extracted document text,
// the unit of embedding and retrieval. Chunks are never updated in place -
// only inserted, or replaced wholesale for a document.
type DocumentChunk struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	Content    string    `json:"content"`
	Embedding  []float64 `json:"embedding"`
	Metadata   JSONMap   `json:"metadata,omitempty"`
}

// RetrievedChunk is a chunk with its similarity score for a query.
type RetrievedChunk struct {
	Chunk DocumentChunk `json:"chunk"`
	Score float64       `json:"score"`
}
