package database

import (
	"time"

	"gorm.io/gorm"
)

// Case is one court foreclosure filing. Status and the finalized flag are
// owned by the classifier; adapters only supply candidate field values.
type Case struct {
	gorm.Model
	CaseNumber        string     `json:"case_number" gorm:"uniqueIndex"`
	County            string     `json:"county"`
	Status            string     `json:"status" gorm:"index"`
	Finalized         bool       `json:"finalized" gorm:"index"`
	FinalizedAt       *time.Time `json:"finalized_at"`
	FinalizingEventID *uint      `json:"finalizing_event_id"`
	SaleDate          *time.Time `json:"sale_date"`
	CurrentBid        float64    `json:"current_bid"`
	MinimumNextBid    float64    `json:"minimum_next_bid"`
	BidDeadline       *time.Time `json:"bid_deadline"`
	PropertyAddress   string     `json:"property_address"`
	LastSyncedAt      *time.Time `json:"last_synced_at"`
	Events            []CaseEvent `json:"events" gorm:"foreignKey:CaseID"`
	Documents         []Document  `json:"documents" gorm:"foreignKey:CaseID"`
}

// CaseEvent is one dated docket entry. Immutable once created. EventIndex is
// the source-assigned ordinal; nil for rows captured before indexes existed.
type CaseEvent struct {
	gorm.Model
	CaseID        uint      `json:"case_id" gorm:"index"`
	EventDate     time.Time `json:"event_date"`
	EventIndex    *int      `json:"event_index"`
	EventType     string    `json:"event_type"`
	DocumentTitle string    `json:"document_title"`
	DocumentID    *uint     `json:"document_id"`
}

// Document holds the downloaded artifact text for an event. The text is
// written by the document pipeline, never by the classifier.
type Document struct {
	gorm.Model
	CaseID      uint       `json:"case_id" gorm:"index"`
	EventID     *uint      `json:"event_id"`
	Title       string     `json:"title"`
	SourceURL   string     `json:"source_url"`
	Text        string     `json:"text" gorm:"type:text"`
	ExtractedAt *time.Time `json:"extracted_at"`
}

// MonitorLog records one scheduler cycle for auditing.
type MonitorLog struct {
	gorm.Model
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	CasesChecked int       `json:"cases_checked"`
	CasesUpdated int       `json:"cases_updated"`
	CasesFailed  int       `json:"cases_failed"`
	EventsFound  int       `json:"events_found"`
	ErrorMessage string    `json:"error_message"`
}

func (Case) TableName() string {
	return "cases"
}

func (CaseEvent) TableName() string {
	return "case_events"
}

func (Document) TableName() string {
	return "documents"
}

func (MonitorLog) TableName() string {
	return "monitor_logs"
}
