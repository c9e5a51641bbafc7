package classify

import (
	"fmt"
	"strings"
)

// Category is a semantic bucket for a docket event type
type Category string

const (
	CategorySale         Category = "sale"
	CategoryUpsetBid     Category = "upset_bid"
	CategoryBlocking     Category = "blocking"
	CategoryBlockLifted  Category = "block_lifted"
	CategoryReportOfSale Category = "report_of_sale"
	CategoryFinalizing   Category = "finalizing"
	CategoryDismissal    Category = "dismissal"
)

// Case status values
const (
	StatusUpcoming        = "upcoming"
	StatusUpsetBid        = "upset_bid"
	StatusClosedSold      = "closed_sold"
	StatusClosedDismissed = "closed_dismissed"
	StatusBlocked         = "blocked"
)

// Tables maps event-type keywords to semantic categories. Membership is
// data, not control flow; the court's vocabulary grows without touching the
// state machine.
type Tables struct {
	keywords map[Category][]string
}

// DefaultTables returns the built-in event-type vocabulary observed on NC
// foreclosure dockets
func DefaultTables() *Tables {
	return &Tables{keywords: map[Category][]string{
		CategorySale: {
			"notice of sale",
			"notice of foreclosure sale",
			"notice of sale/resale",
			"amended notice of sale",
		},
		CategoryReportOfSale: {
			"report of sale",
			"report of foreclosure sale",
			"amended report of sale",
		},
		CategoryUpsetBid: {
			"upset bid",
			"notice of upset bid",
		},
		CategoryBlocking: {
			"stay of foreclosure",
			"order to stay",
			"motion to stay",
			"temporary restraining order",
			"preliminary injunction",
			"suggestion of bankruptcy",
			"notice of bankruptcy",
			"bankruptcy filing",
		},
		CategoryBlockLifted: {
			"stay lifted",
			"order lifting stay",
			"relief from stay",
			"bankruptcy dismissed",
			"bankruptcy discharged",
			"resale",
			"notice of resale",
		},
		CategoryFinalizing: {
			"final report",
			"final account",
			"final report and account",
			"order of disbursement",
			"disbursement of surplus",
			"trustee's deed",
			"case closed",
		},
		CategoryDismissal: {
			"voluntary dismissal",
			"dismissal of foreclosure",
			"notice of withdrawal",
			"order of dismissal",
		},
	}}
}

// Extend merges "category:keyword" pairs into the tables
func (t *Tables) Extend(pairs []string) error {
	for _, pair := range pairs {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("invalid keyword pair %q, want category:keyword", pair)
		}
		cat := Category(strings.TrimSpace(parts[0]))
		if _, ok := t.keywords[cat]; !ok {
			return fmt.Errorf("unknown category %q in keyword pair %q", cat, pair)
		}
		t.keywords[cat] = append(t.keywords[cat], strings.ToLower(strings.TrimSpace(parts[1])))
	}
	return nil
}

// Is reports whether an event type belongs to the category
func (t *Tables) Is(eventType string, cat Category) bool {
	lower := strings.ToLower(eventType)
	for _, kw := range t.keywords[cat] {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
