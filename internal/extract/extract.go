package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Fields holds candidate case field values pulled from one document's text.
// Nil/empty means the document did not yield that field.
type Fields struct {
	PropertyAddress string
	CurrentBid      *float64
	MinimumNextBid  *float64
	SaleDate        *time.Time
}

var (
	addressPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)property\s+address[:\s]+([^\n\r]+)`),
		regexp.MustCompile(`(?i)commonly\s+known\s+as[:\s]+([^\n\r]+)`),
		regexp.MustCompile(`(?i)premises\s+known\s+as[:\s]+([^\n\r]+)`),
		regexp.MustCompile(`(?i)real\s+property\s+located\s+at[:\s]+([^\n\r]+)`),
	}

	currentBidPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)upset\s+bid\s+in\s+the\s+amount\s+of\s*\$?\s*([\d,]+(?:\.\d{1,2})?)`),
		regexp.MustCompile(`(?i)amount\s+of\s+(?:the\s+)?bid[:\s]*\$?\s*([\d,]+(?:\.\d{1,2})?)`),
		regexp.MustCompile(`(?i)current\s+bid[:\s]*\$?\s*([\d,]+(?:\.\d{1,2})?)`),
		regexp.MustCompile(`(?i)highest\s+bid(?:der)?\s+(?:of|at|was)\s*\$?\s*([\d,]+(?:\.\d{1,2})?)`),
		regexp.MustCompile(`(?i)sale\s+price[:\s]*\$?\s*([\d,]+(?:\.\d{1,2})?)`),
	}

	minimumBidPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)minimum\s+(?:amount\s+of\s+(?:the\s+)?)?(?:next\s+)?upset\s+bid[:\s]*\$?\s*([\d,]+(?:\.\d{1,2})?)`),
		regexp.MustCompile(`(?i)next\s+upset\s+bid\s+must\s+(?:be\s+at\s+least|exceed)\s*\$?\s*([\d,]+(?:\.\d{1,2})?)`),
	}

	saleDatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)date\s+of\s+(?:the\s+)?sale[:\s]+([A-Za-z0-9,/\- ]+\d{4})`),
		regexp.MustCompile(`(?i)sale\s+(?:was\s+)?(?:held|conducted)\s+on\s+([A-Za-z0-9,/\- ]+\d{4})`),
		regexp.MustCompile(`(?i)foreclosure\s+sale\s+on\s+([A-Za-z0-9,/\- ]+\d{4})`),
	}
)

// FromText extracts candidate field values from document text
func FromText(text string) Fields {
	var f Fields

	for _, pattern := range addressPatterns {
		if m := pattern.FindStringSubmatch(text); len(m) > 1 {
			f.PropertyAddress = cleanAddress(m[1])
			break
		}
	}

	for _, pattern := range currentBidPatterns {
		if m := pattern.FindStringSubmatch(text); len(m) > 1 {
			if amount, err := parseAmount(m[1]); err == nil {
				f.CurrentBid = &amount
				break
			}
		}
	}

	for _, pattern := range minimumBidPatterns {
		if m := pattern.FindStringSubmatch(text); len(m) > 1 {
			if amount, err := parseAmount(m[1]); err == nil {
				f.MinimumNextBid = &amount
				break
			}
		}
	}

	for _, pattern := range saleDatePatterns {
		if m := pattern.FindStringSubmatch(text); len(m) > 1 {
			if date, err := parseDate(m[1]); err == nil {
				f.SaleDate = &date
				break
			}
		}
	}

	// The statute fixes the minimum raise when the notice doesn't state it
	if f.MinimumNextBid == nil && f.CurrentBid != nil {
		minimum := MinimumUpsetBid(*f.CurrentBid)
		f.MinimumNextBid = &minimum
	}

	return f
}

// MinimumUpsetBid computes the statutory minimum next bid: the current bid
// raised by the greater of five percent or $750 (N.C.G.S. 45-21.27)
func MinimumUpsetBid(currentBid float64) float64 {
	raise := currentBid * 0.05
	if raise < 750 {
		raise = 750
	}
	return currentBid + raise
}

// Merge fills empty dst fields from src; earlier extractions win
func Merge(dst *Fields, src Fields) {
	if dst.PropertyAddress == "" {
		dst.PropertyAddress = src.PropertyAddress
	}
	if dst.CurrentBid == nil {
		dst.CurrentBid = src.CurrentBid
	}
	if dst.MinimumNextBid == nil {
		dst.MinimumNextBid = src.MinimumNextBid
	}
	if dst.SaleDate == nil {
		dst.SaleDate = src.SaleDate
	}
}

func cleanAddress(raw string) string {
	addr := strings.TrimSpace(raw)
	addr = regexp.MustCompile(`\s+`).ReplaceAllString(addr, " ")
	addr = strings.TrimRight(addr, ".,;")
	return addr
}

func parseAmount(raw string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
}

// parseDate handles the date formats seen in foreclosure filings
func parseDate(raw string) (time.Time, error) {
	dateStr := strings.TrimSpace(raw)
	dateStr = regexp.MustCompile(`\s+`).ReplaceAllString(dateStr, " ")

	formats := []string{
		"January 2, 2006",
		"Jan 2, 2006",
		"01/02/2006",
		"1/2/2006",
		"01-02-2006",
		"2006-01-02",
		"02-Jan-2006",
		"2 January 2006",
	}

	var lastErr error
	for _, format := range formats {
		if date, err := time.Parse(format, dateStr); err == nil {
			return date, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
