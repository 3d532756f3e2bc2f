package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JSONValue is a JSONB payload of any shape. Scraped payloads may be a bare
// string, an object, or anything a spider emits.
type JSONValue struct {
	V interface{}
}

// Value implements driver.Valuer for JSONB
func (j JSONValue) Value() (driver.Value, error) {
	return json.Marshal(j.V)
}

// Scan implements sql.Scanner for JSONB
func (j *JSONValue) Scan(value interface{}) error {
	if value == nil {
		j.V = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		j.V = nil
		return nil
	}

	if len(bytes) == 0 {
		j.V = nil
		return nil
	}

	return json.Unmarshal(bytes, &j.V)
}

// MarshalJSON passes the wrapped value through.
func (j JSONValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.V)
}

// UnmarshalJSON passes the wrapped value through.
func (j *JSONValue) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &j.V)
}

// RawScrape is a document captured by a scraping spider. The ingestion
// engine consumes each scrape exactly once: either all chunks for it are
// stored and Processed flips to true, or nothing happens.
type RawScrape struct {
	ID          uuid.UUID  `json:"id"`
	SourceID    uuid.UUID  `json:"source_id"`
	URL         string     `json:"url"`
	ContentHash string     `json:"content_hash"`
	ContentType string     `json:"content_type"` // "html", "json", "pdf", "text"
	Data        JSONValue  `json:"data"`
	Processed   bool       `json:"processed"`
	DocumentID  *uuid.UUID `json:"document_id,omitempty"`
	StorageURI  *string    `json:"storage_uri,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
