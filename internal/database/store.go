package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrDuplicateEvent is returned when an event with the same source
	// ordinal or signature already exists for the case
	ErrDuplicateEvent = errors.New("duplicate case event")

	// ErrFinalizedImmutable is returned on an attempt to clear the
	// finalized flag through a normal write path
	ErrFinalizedImmutable = errors.New("finalized flag cannot be reverted")

	// ErrStickyField is returned on an attempt to overwrite a sticky field
	// that already holds a value
	ErrStickyField = errors.New("sticky field already set")
)

// Store is the persistence boundary for cases, events and documents. It
// enforces append-only events, one-way finalization and sticky fields.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetCase loads a case by its external case number with events and documents
func (s *Store) GetCase(caseNumber string) (*Case, error) {
	var c Case
	err := s.db.Preload("Events", func(db *gorm.DB) *gorm.DB {
		return db.Order("event_date ASC, event_index ASC")
	}).Preload("Documents").Where("case_number = ?", caseNumber).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCaseByID loads a case by primary key with events and documents
func (s *Store) GetCaseByID(id uint) (*Case, error) {
	var c Case
	err := s.db.Preload("Events", func(db *gorm.DB) *gorm.DB {
		return db.Order("event_date ASC, event_index ASC")
	}).Preload("Documents").First(&c, id).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCase inserts a newly sighted filing
func (s *Store) CreateCase(c *Case) error {
	return s.db.Create(c).Error
}

// ActiveCases returns every non-finalized case. Finalized cases are
// permanently excluded from monitoring.
func (s *Store) ActiveCases() ([]Case, error) {
	var cases []Case
	err := s.db.Where("finalized = ?", false).Order("case_number ASC").Find(&cases).Error
	return cases, err
}

// EventsForCase returns the case's events in chronological order, ties
// broken by source ordinal
func (s *Store) EventsForCase(caseID uint) ([]CaseEvent, error) {
	var events []CaseEvent
	err := s.db.Where("case_id = ?", caseID).
		Order("event_date ASC, event_index ASC").
		Find(&events).Error
	return events, err
}

// AppendEvent inserts a single event, rejecting duplicates by source
// ordinal or by (date, type) signature
func (s *Store) AppendEvent(ev *CaseEvent) error {
	var count int64
	q := s.db.Model(&CaseEvent{}).Where("case_id = ?", ev.CaseID)
	if ev.EventIndex != nil {
		q = q.Where("event_index = ?", *ev.EventIndex)
	} else {
		q = q.Where("event_index IS NULL AND event_date = ? AND event_type = ?", ev.EventDate, ev.EventType)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateEvent
	}

	if err := s.db.Create(ev).Error; err != nil {
		// The unique indexes back the pre-check under concurrent runs
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}

// AppendEvents inserts new events, skipping duplicates, and returns the
// rows that were actually written
func (s *Store) AppendEvents(events []CaseEvent) ([]CaseEvent, error) {
	inserted := make([]CaseEvent, 0, len(events))
	for i := range events {
		ev := events[i]
		if err := s.AppendEvent(&ev); err != nil {
			if errors.Is(err, ErrDuplicateEvent) {
				continue
			}
			return inserted, err
		}
		inserted = append(inserted, ev)
	}
	return inserted, nil
}

// SaveCase persists case field changes. It refuses to revert the finalized
// flag or to overwrite a non-empty property address with a different value.
func (s *Store) SaveCase(c *Case) error {
	var current Case
	if err := s.db.First(&current, c.ID).Error; err != nil {
		return fmt.Errorf("failed to load case %d: %w", c.ID, err)
	}

	if current.Finalized && !c.Finalized {
		return ErrFinalizedImmutable
	}
	if current.PropertyAddress != "" && c.PropertyAddress != current.PropertyAddress {
		return ErrStickyField
	}

	return s.db.Save(c).Error
}

// SetPropertyAddress sets the sticky address only when currently empty.
// Setting the same value again is a no-op.
func (s *Store) SetPropertyAddress(caseID uint, address string) error {
	if address == "" {
		return nil
	}
	var current Case
	if err := s.db.First(&current, caseID).Error; err != nil {
		return err
	}
	if current.PropertyAddress != "" {
		if current.PropertyAddress == address {
			return nil
		}
		return ErrStickyField
	}
	return s.db.Model(&Case{}).Where("id = ?", caseID).
		Update("property_address", address).Error
}

// ClearPropertyAddress is the explicit operator reset for the sticky
// address; no automated path calls it
func (s *Store) ClearPropertyAddress(caseID uint) error {
	return s.db.Model(&Case{}).Where("id = ?", caseID).
		Update("property_address", "").Error
}

// MarkFinalized sets the one-way finalized flag with its triggering event
func (s *Store) MarkFinalized(caseID uint, at time.Time, eventID uint) error {
	return s.db.Model(&Case{}).Where("id = ?", caseID).Updates(map[string]interface{}{
		"finalized":           true,
		"finalized_at":        at,
		"finalizing_event_id": eventID,
	}).Error
}

// TouchSynced records a completed synchronization
func (s *Store) TouchSynced(caseID uint, t time.Time) error {
	return s.db.Model(&Case{}).Where("id = ?", caseID).
		Update("last_synced_at", t).Error
}

// SetEventDocument links a freshly created document to the event that
// introduced it; the linkage is set once at discovery time
func (s *Store) SetEventDocument(eventID, docID uint) error {
	return s.db.Model(&CaseEvent{}).Where("id = ?", eventID).
		Update("document_id", docID).Error
}

// SaveDocument inserts or updates a document row
func (s *Store) SaveDocument(doc *Document) error {
	return s.db.Save(doc).Error
}

// DocumentsForEvents returns documents linked to the given events
func (s *Store) DocumentsForEvents(eventIDs []uint) ([]Document, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	var docs []Document
	err := s.db.Where("event_id IN ?", eventIDs).Find(&docs).Error
	return docs, err
}

// DocumentsForCase returns every document loosely associated with the case
func (s *Store) DocumentsForCase(caseID uint) ([]Document, error) {
	var docs []Document
	err := s.db.Where("case_id = ?", caseID).Find(&docs).Error
	return docs, err
}

// CreateMonitorLog records one scheduler cycle
func (s *Store) CreateMonitorLog(log *MonitorLog) error {
	return s.db.Create(log).Error
}
