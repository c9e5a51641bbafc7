package classify

import (
	"sort"
	"time"

	"github.com/jmwalsh/foreclosure-monitor/internal/database"
)

// Policy carries the statutory knobs for deadline arithmetic and the
// category tables
type Policy struct {
	WindowDays   int
	BusinessDays bool
	Tables       *Tables
}

// DefaultPolicy is the NC default: 10 calendar days
func DefaultPolicy() Policy {
	return Policy{
		WindowDays: 10,
		Tables:     DefaultTables(),
	}
}

// Outcome is the classifier's decision for one case
type Outcome struct {
	Status            string
	SaleDate          *time.Time
	Deadline          *time.Time
	ResetBids         bool
	Finalized         bool
	FinalizedAt       *time.Time
	FinalizingEventID uint
}

// Classify is a pure function of the case record, its full ordered event
// list and the evaluation time. It never mutates its inputs.
func Classify(c *database.Case, events []database.CaseEvent, now time.Time, p Policy) Outcome {
	if p.Tables == nil {
		p.Tables = DefaultTables()
	}
	sorted := SortEvents(events)

	outcome := Outcome{
		Status:   c.Status,
		SaleDate: c.SaleDate,
		Deadline: c.BidDeadline,
	}
	if outcome.Status == "" {
		outcome.Status = StatusUpcoming
	}

	// Resale reopening takes precedence for any non-finalized case: a
	// report of sale after the stored sale date voids prior bids and
	// restarts the upset window from the new date.
	if report := latestOf(sorted, p.Tables, CategoryReportOfSale); report != nil &&
		c.SaleDate != nil && report.EventDate.After(*c.SaleDate) {
		newSale := report.EventDate
		// Upset bids filed after the new sale restart the reopened
		// window just as in the ordinary branch
		ref := newSale
		if upset := latestOf(sorted, p.Tables, CategoryUpsetBid); upset != nil && upset.EventDate.After(ref) {
			ref = upset.EventDate
		}
		deadline := p.windowEnd(ref)
		outcome.SaleDate = &newSale
		outcome.Deadline = &deadline
		outcome.ResetBids = true
		// The window from the new sale date may itself have lapsed
		outcome.Status = p.resolveWindow(sorted, ref, deadline, now)
	} else if c.SaleDate == nil {
		// No sale baseline: no deadline arithmetic. Dismissals and
		// pre-sale blocks still move the status.
		outcome.Status = classifyWithoutSale(c.Status, sorted, p.Tables)
	} else {
		// Reference date is the later of the sale and the most recent
		// upset bid; each higher bid restarts the window.
		ref := *c.SaleDate
		if upset := latestOf(sorted, p.Tables, CategoryUpsetBid); upset != nil && upset.EventDate.After(ref) {
			ref = upset.EventDate
		}
		deadline := p.windowEnd(ref)
		outcome.Deadline = &deadline
		outcome.Status = p.resolveWindow(sorted, ref, deadline, now)
	}

	// Finalization runs last and independently of the computed status
	if fin := latestOf(sorted, p.Tables, CategoryFinalizing); fin != nil {
		finAt := fin.EventDate
		outcome.Finalized = true
		outcome.FinalizedAt = &finAt
		outcome.FinalizingEventID = fin.ID
	}

	return outcome
}

// resolveWindow decides the status of a case whose upset-bid window runs
// from ref to deadline
func (p Policy) resolveWindow(events []database.CaseEvent, ref, deadline time.Time, now time.Time) string {
	if !now.After(deadline) {
		return StatusUpsetBid
	}

	// The window has lapsed. Before closing, look for a block filed
	// strictly inside it; a stay mid-window defeats the sale.
	if block := latestBetween(events, p.Tables, CategoryBlocking, ref, deadline); block != nil {
		if liftedAfter(events, p.Tables, block.EventDate) {
			return StatusUpcoming
		}
		return StatusBlocked
	}

	if dismiss := latestOf(events, p.Tables, CategoryDismissal); dismiss != nil && dismiss.EventDate.After(ref) {
		return StatusClosedDismissed
	}

	return StatusClosedSold
}

// classifyWithoutSale handles cases with no sale baseline: dismissals close
// them, unlifted blocks park them, anything ambiguous keeps monitoring.
func classifyWithoutSale(current string, events []database.CaseEvent, tables *Tables) string {
	if current == "" {
		current = StatusUpcoming
	}
	if dismiss := latestOf(events, tables, CategoryDismissal); dismiss != nil {
		return StatusClosedDismissed
	}
	if block := latestOf(events, tables, CategoryBlocking); block != nil {
		if liftedAfter(events, tables, block.EventDate) {
			return StatusUpcoming
		}
		return StatusBlocked
	}
	if current == StatusBlocked {
		// Block no longer on the docket snapshot; resume monitoring
		return StatusUpcoming
	}
	return current
}

// windowEnd returns the last day a new upset bid can be filed
func (p Policy) windowEnd(ref time.Time) time.Time {
	if !p.BusinessDays {
		return ref.AddDate(0, 0, p.WindowDays)
	}
	d := ref
	for added := 0; added < p.WindowDays; {
		d = d.AddDate(0, 0, 1)
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			added++
		}
	}
	return d
}

// SortEvents returns the events in chronological order, ties broken by
// source ordinal; legacy events without an ordinal sort first within a day
func SortEvents(events []database.CaseEvent) []database.CaseEvent {
	sorted := make([]database.CaseEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].EventDate.Equal(sorted[j].EventDate) {
			return sorted[i].EventDate.Before(sorted[j].EventDate)
		}
		ii, ji := sorted[i].EventIndex, sorted[j].EventIndex
		if ii == nil || ji == nil {
			return ji != nil
		}
		return *ii < *ji
	})
	return sorted
}

// latestOf returns the most recent event in the category, or nil
func latestOf(sorted []database.CaseEvent, tables *Tables, cat Category) *database.CaseEvent {
	for i := len(sorted) - 1; i >= 0; i-- {
		if tables.Is(sorted[i].EventType, cat) {
			return &sorted[i]
		}
	}
	return nil
}

// latestBetween returns the most recent category event dated strictly
// inside (from, to), or nil
func latestBetween(sorted []database.CaseEvent, tables *Tables, cat Category, from, to time.Time) *database.CaseEvent {
	for i := len(sorted) - 1; i >= 0; i-- {
		ev := sorted[i]
		if !tables.Is(ev.EventType, cat) {
			continue
		}
		if ev.EventDate.After(from) && ev.EventDate.Before(to) {
			return &sorted[i]
		}
	}
	return nil
}

// liftedAfter reports whether any lift (or later resale notice) is dated
// after the block
func liftedAfter(sorted []database.CaseEvent, tables *Tables, blockDate time.Time) bool {
	for i := len(sorted) - 1; i >= 0; i-- {
		ev := sorted[i]
		if ev.EventDate.After(blockDate) && tables.Is(ev.EventType, CategoryBlockLifted) {
			return true
		}
	}
	return false
}
