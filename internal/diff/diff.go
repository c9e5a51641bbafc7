package diff

import (
	"strings"
	"time"

	"github.com/jmwalsh/foreclosure-monitor/internal/database"
)

// FetchedEvent is one docket row as reported by the source this scrape.
// Index is the source-assigned ordinal; nil when the source omits it.
type FetchedEvent struct {
	Date          time.Time `json:"date"`
	Index         *int      `json:"index"`
	Type          string    `json:"type"`
	DocumentTitle string    `json:"document_title"`
	DocumentURL   string    `json:"document_url"`
}

// Snapshot is a full fetch of one case from the source
type Snapshot struct {
	CaseNumber string         `json:"case_number"`
	RawStatus  string         `json:"raw_status"`
	Events     []FetchedEvent `json:"events"`
}

// NewEvents returns the fetched events not yet present in the store.
//
// Preferred path: the source ordinal is monotonically non-decreasing across
// a case's true event order, so anything above the highest stored ordinal is
// new, and an indexed snapshot with nothing above it is fully represented.
// Events predating indexed capture fall back to (date, normalized type)
// signature matching. Re-running against an unchanged snapshot always
// yields nothing.
func NewEvents(existing []database.CaseEvent, fetched []FetchedEvent) []FetchedEvent {
	maxIndex := -1
	for _, ev := range existing {
		if ev.EventIndex != nil && *ev.EventIndex > maxIndex {
			maxIndex = *ev.EventIndex
		}
	}

	seen := make(map[string]bool, len(existing))
	for _, ev := range existing {
		seen[signature(ev.EventDate, ev.EventType)] = true
	}

	var fresh []FetchedEvent
	for _, f := range fetched {
		if f.Index != nil && maxIndex >= 0 {
			if *f.Index > maxIndex {
				fresh = append(fresh, f)
			}
			continue
		}

		if f.Type == "" {
			continue
		}
		sig := signature(f.Date, f.Type)
		if seen[sig] {
			continue
		}
		seen[sig] = true
		fresh = append(fresh, f)
	}

	return fresh
}

// signature keys an event by day and normalized type for legacy matching
func signature(date time.Time, eventType string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(eventType), " "))
	return date.Format("2006-01-02") + "|" + norm
}
