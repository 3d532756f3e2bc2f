package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisStatus represents the analysis lifecycle of a bill
type AnalysisStatus string

const (
	AnalysisStatusPending   AnalysisStatus = "pending"
	AnalysisStatusCompleted AnalysisStatus = "completed"
)

// Jurisdiction is a legislative body we track (state or federal).
type Jurisdiction struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"` // "CA", "US", ...
	CreatedAt time.Time `json:"created_at"`
}

// Source is a scraped site registered for a jurisdiction.
type Source struct {
	ID             uuid.UUID `json:"id"`
	JurisdictionID uuid.UUID `json:"jurisdiction_id"`
	Name           string    `json:"name"`
	BaseURL        string    `json:"base_url"`
	CreatedAt      time.Time `json:"created_at"`
}

// Legislation is a tracked bill. (jurisdiction_id, bill_number) is unique;
// scrapers upsert on that key.
type Legislation struct {
	ID             uuid.UUID      `json:"id"`
	JurisdictionID uuid.UUID      `json:"jurisdiction_id"`
	BillNumber     string         `json:"bill_number"`
	Title          string         `json:"title"`
	FullText       *string        `json:"full_text,omitempty"`
	AnalysisStatus AnalysisStatus `json:"analysis_status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
