package scraper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/jmwalsh/foreclosure-monitor/internal/diff"
	"github.com/jmwalsh/foreclosure-monitor/pkg/logger"
)

// Parser extracts docket event rows from the portal's case detail page
type Parser struct {
	logger *logger.Logger
}

// NewParser creates a new parser instance
func NewParser(logger *logger.Logger) *Parser {
	return &Parser{logger: logger}
}

// ParseDocket parses the full event list from a case detail page
func (p *Parser) ParseDocket(page *rod.Page, caseNumber string) (*diff.Snapshot, error) {
	snapshot := &diff.Snapshot{CaseNumber: caseNumber}

	snapshot.RawStatus = p.parseRawStatus(page)

	// The docket appears under a handful of container ids across portal
	// versions
	docketSelectors := []string{
		"table#docketevents",
		"table.docket-events",
		"div#divCaseEvents table",
		"table[summary*='events']",
	}

	var docketTable *rod.Element
	for _, selector := range docketSelectors {
		table, err := page.Element(selector)
		if err == nil {
			docketTable = table
			break
		}
	}

	if docketTable == nil {
		// Fall back to any table mentioning docket entries
		tables := page.MustElements("table")
		for _, table := range tables {
			text := strings.ToLower(table.MustText())
			if strings.Contains(text, "docket") || strings.Contains(text, "filed") {
				docketTable = table
				break
			}
		}
	}

	if docketTable == nil {
		return nil, fmt.Errorf("docket table not found")
	}

	rows := docketTable.MustElements("tr")
	for i := 1; i < len(rows); i++ { // Skip header
		event, ok := p.parseEventRow(page, rows[i])
		if ok {
			snapshot.Events = append(snapshot.Events, event)
		}
	}

	return snapshot, nil
}

// parseEventRow turns one docket row into a fetched event. Expected cell
// layout: ordinal | date | event type | document.
func (p *Parser) parseEventRow(page *rod.Page, row *rod.Element) (diff.FetchedEvent, bool) {
	var event diff.FetchedEvent

	cells := row.MustElements("td")
	if len(cells) < 2 {
		return event, false
	}

	col := 0

	// Leading ordinal column is present on the current portal only
	first := strings.TrimSpace(cells[0].MustText())
	if index, err := strconv.Atoi(first); err == nil {
		event.Index = &index
		col = 1
	}

	if len(cells) <= col {
		return event, false
	}

	date, err := p.parseDate(strings.TrimSpace(cells[col].MustText()))
	if err != nil {
		return event, false
	}
	event.Date = date
	col++

	if len(cells) <= col {
		return event, false
	}
	event.Type = strings.TrimSpace(cells[col].MustText())
	if event.Type == "" {
		return event, false
	}
	col++

	// Remaining cells may carry the filed document and its link
	for ; col < len(cells); col++ {
		cell := cells[col]
		title := strings.TrimSpace(cell.MustText())
		if title != "" && event.DocumentTitle == "" {
			event.DocumentTitle = title
		}
		links := cell.MustElements("a")
		for _, link := range links {
			href, err := link.Attribute("href")
			if err == nil && href != nil && *href != "" {
				event.DocumentURL = p.makeAbsoluteURL(page, *href)
				break
			}
		}
	}

	return event, true
}

// parseRawStatus pulls the portal's own status banner when present
func (p *Parser) parseRawStatus(page *rod.Page) string {
	statusSelectors := []string{
		"span#caseStatus",
		"div.case-status",
		"td#statusCell",
	}
	for _, selector := range statusSelectors {
		elem, err := page.Element(selector)
		if err == nil && elem != nil {
			if text := strings.TrimSpace(elem.MustText()); text != "" {
				return text
			}
		}
	}
	return ""
}

// parseDate parses the date formats the portal renders
func (p *Parser) parseDate(dateStr string) (time.Time, error) {
	dateStr = strings.TrimSpace(dateStr)
	dateStr = regexp.MustCompile(`\s+`).ReplaceAllString(dateStr, " ")

	formats := []string{
		"01/02/2006",
		"1/2/2006",
		"01-02-2006",
		"2006-01-02",
		"Jan 02, 2006",
		"January 02, 2006",
		"02-Jan-2006",
	}

	for _, format := range formats {
		if date, err := time.Parse(format, dateStr); err == nil {
			return date, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}

// makeAbsoluteURL converts a relative URL to absolute
func (p *Parser) makeAbsoluteURL(page *rod.Page, relativeURL string) string {
	if strings.HasPrefix(relativeURL, "http://") || strings.HasPrefix(relativeURL, "https://") {
		return relativeURL
	}

	pageURL := page.MustInfo().URL

	parts := strings.Split(pageURL, "/")
	if len(parts) >= 3 {
		baseURL := strings.Join(parts[:3], "/")

		if strings.HasPrefix(relativeURL, "/") {
			return baseURL + relativeURL
		}
		dirParts := parts[:len(parts)-1]
		return strings.Join(dirParts, "/") + "/" + relativeURL
	}

	return relativeURL
}
