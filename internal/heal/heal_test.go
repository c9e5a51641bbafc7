package heal

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jmwalsh/foreclosure-monitor/internal/classify"
	"github.com/jmwalsh/foreclosure-monitor/internal/database"
	"github.com/jmwalsh/foreclosure-monitor/pkg/logger"
)

const reportText = `REPORT OF FORECLOSURE SALE
Property Address: 118 Maple Hollow Rd, Huntersville, NC 28078
The sale was held on 07/30/2025. Highest bidder at $7,317.00.`

func setup(t *testing.T) (*database.Store, *logger.Logger) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	log, err := logger.NewLogger("error", "text")
	if err != nil {
		t.Fatalf("Failed to build logger: %v", err)
	}
	return database.NewStore(db), log
}

func soldCase(t *testing.T, s *database.Store) *database.Case {
	t.Helper()
	c := &database.Case{CaseNumber: "25SP001234-910", Status: classify.StatusClosedSold}
	if err := s.CreateCase(c); err != nil {
		t.Fatalf("Failed to create case: %v", err)
	}
	return c
}

func addDocument(t *testing.T, s *database.Store, caseID uint, title, text string) *database.Document {
	t.Helper()
	doc := &database.Document{CaseID: caseID, Title: title, Text: text}
	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("Failed to save document: %v", err)
	}
	return doc
}

// fakeFetcher serves document text by title and counts attempts
type fakeFetcher struct {
	texts map[string]string
	calls int
}

func (f *fakeFetcher) FetchDocumentText(_ context.Context, doc *database.Document) (string, error) {
	f.calls++
	if text, ok := f.texts[doc.Title]; ok {
		return text, nil
	}
	return "", errors.New("document unavailable")
}

// fakeSyncer simulates a full re-visit that discovers a document the
// earlier tiers never saw
type fakeSyncer struct {
	store *database.Store
	text  string
	calls int
}

func (f *fakeSyncer) Resync(_ context.Context, c *database.Case) ([]database.CaseEvent, error) {
	f.calls++
	ev := database.CaseEvent{CaseID: c.ID, EventDate: time.Date(2025, 7, 30, 0, 0, 0, 0, time.UTC), EventType: "Report Of Foreclosure Sale"}
	inserted, err := f.store.AppendEvents([]database.CaseEvent{ev})
	if err != nil {
		return nil, err
	}
	doc := &database.Document{CaseID: c.ID, Title: "Report Of Foreclosure Sale", Text: f.text}
	if err := f.store.SaveDocument(doc); err != nil {
		return nil, err
	}
	return inserted, nil
}

func TestCompleteCaseNeedsNoRepair(t *testing.T) {
	s, log := setup(t)
	c := soldCase(t, s)
	sale := time.Date(2025, 7, 30, 0, 0, 0, 0, time.UTC)
	c.PropertyAddress = "118 Maple Hollow Rd, Huntersville, NC 28078"
	c.SaleDate = &sale
	c.CurrentBid = 7317
	if err := s.SaveCase(c); err != nil {
		t.Fatal(err)
	}

	h := NewController(s, nil, nil, classify.DefaultPolicy(), log)
	res, err := h.Heal(context.Background(), c, nil)
	if err != nil {
		t.Fatalf("Heal failed: %v", err)
	}
	if !res.Healed || res.Tier != TierNone {
		t.Errorf("Expected no-op result, got %+v", res)
	}
}

func TestTierOneRepairsFromStoredText(t *testing.T) {
	s, log := setup(t)
	c := soldCase(t, s)
	addDocument(t, s, c.ID, "Report Of Foreclosure Sale", reportText)

	h := NewController(s, nil, nil, classify.DefaultPolicy(), log)
	res, err := h.Heal(context.Background(), c, nil)
	if err != nil {
		t.Fatalf("Heal failed: %v", err)
	}
	if !res.Healed || res.Tier != TierReExtract {
		t.Errorf("Expected tier 1 repair, got %+v", res)
	}
	if c.PropertyAddress == "" || c.SaleDate == nil || c.CurrentBid != 7317 {
		t.Errorf("Fields not repaired: %+v", c)
	}
	if c.MinimumNextBid != 8067 {
		t.Errorf("Expected statutory minimum 8067, got %v", c.MinimumNextBid)
	}
}

func TestTierTwoRefetchesMissingText(t *testing.T) {
	s, log := setup(t)
	c := soldCase(t, s)
	addDocument(t, s, c.ID, "Report Of Foreclosure Sale", "")

	fetcher := &fakeFetcher{texts: map[string]string{"Report Of Foreclosure Sale": reportText}}
	h := NewController(s, fetcher, nil, classify.DefaultPolicy(), log)
	res, err := h.Heal(context.Background(), c, nil)
	if err != nil {
		t.Fatalf("Heal failed: %v", err)
	}
	if !res.Healed || res.Tier != TierReFetch {
		t.Errorf("Expected tier 2 repair, got %+v", res)
	}
	if fetcher.calls != 1 {
		t.Errorf("Expected one fetch attempt, got %d", fetcher.calls)
	}

	// The recovered text is persisted so the next cycle stays at tier 1
	docs, err := s.DocumentsForCase(c.ID)
	if err != nil || len(docs) != 1 {
		t.Fatalf("Failed to reload documents: %v", err)
	}
	if docs[0].Text != reportText || docs[0].ExtractedAt == nil {
		t.Error("Fetched text was not saved with an extraction timestamp")
	}
}

func TestTierThreeRevisitsCase(t *testing.T) {
	s, log := setup(t)
	c := soldCase(t, s)

	// The only known document is unfetchable, forcing a full re-visit
	addDocument(t, s, c.ID, "Corrupt Scan", "")
	fetcher := &fakeFetcher{texts: map[string]string{}}
	syncer := &fakeSyncer{store: s, text: reportText}

	h := NewController(s, fetcher, syncer, classify.DefaultPolicy(), log)
	res, err := h.Heal(context.Background(), c, nil)
	if err != nil {
		t.Fatalf("Heal failed: %v", err)
	}
	if !res.Healed || res.Tier != TierRevisit {
		t.Errorf("Expected tier 3 repair, got %+v", res)
	}
	if syncer.calls != 1 {
		t.Errorf("Expected one revisit, got %d", syncer.calls)
	}
	if c.CurrentBid != 7317 || c.SaleDate == nil {
		t.Errorf("Fields not repaired after revisit: %+v", c)
	}
}

// The common chronology: an upcoming case already holds its address, so the
// checklist is satisfied, yet the report-of-sale document that just arrived
// carries the sale date the classifier needs.
func TestNewDocumentBootstrapsSaleDate(t *testing.T) {
	s, log := setup(t)
	c := &database.Case{CaseNumber: "25SP001234-910", Status: classify.StatusUpcoming}
	if err := s.CreateCase(c); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPropertyAddress(c.ID, "118 Maple Hollow Rd, Huntersville, NC 28078"); err != nil {
		t.Fatal(err)
	}
	c.PropertyAddress = "118 Maple Hollow Rd, Huntersville, NC 28078"
	addDocument(t, s, c.ID, "Report Of Foreclosure Sale", reportText)

	h := NewController(s, nil, nil, classify.DefaultPolicy(), log)
	res, err := h.Heal(context.Background(), c, nil)
	if err != nil {
		t.Fatalf("Heal failed: %v", err)
	}
	if !res.Healed {
		t.Errorf("Expected healed result, got %+v", res)
	}
	if c.SaleDate == nil || !c.SaleDate.Equal(time.Date(2025, 7, 30, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("Sale date not extracted from the new report of sale: %v", c.SaleDate)
	}
	if c.Status == classify.StatusUpcoming {
		t.Errorf("Classification not refreshed after the sale date was filled")
	}
	if c.CurrentBid != 7317 {
		t.Errorf("Bid not extracted alongside the sale date: %v", c.CurrentBid)
	}
}

// Same chronology, but the new document is still an unfetched stub; the
// re-fetch tier must run for it despite the satisfied checklist
func TestNewDocumentStubIsFetchedWhenComplete(t *testing.T) {
	s, log := setup(t)
	c := &database.Case{CaseNumber: "25SP001234-910", Status: classify.StatusUpcoming}
	if err := s.CreateCase(c); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPropertyAddress(c.ID, "118 Maple Hollow Rd, Huntersville, NC 28078"); err != nil {
		t.Fatal(err)
	}
	c.PropertyAddress = "118 Maple Hollow Rd, Huntersville, NC 28078"
	addDocument(t, s, c.ID, "Report Of Foreclosure Sale", "")

	fetcher := &fakeFetcher{texts: map[string]string{"Report Of Foreclosure Sale": reportText}}
	h := NewController(s, fetcher, nil, classify.DefaultPolicy(), log)
	res, err := h.Heal(context.Background(), c, nil)
	if err != nil {
		t.Fatalf("Heal failed: %v", err)
	}
	if !res.Healed {
		t.Errorf("Expected healed result, got %+v", res)
	}
	if fetcher.calls != 1 {
		t.Errorf("Expected one fetch attempt, got %d", fetcher.calls)
	}
	if c.SaleDate == nil {
		t.Error("Sale date not extracted from the fetched document")
	}
}

func TestExhaustedTiersReportMissing(t *testing.T) {
	s, log := setup(t)
	c := soldCase(t, s)

	h := NewController(s, nil, nil, classify.DefaultPolicy(), log)
	res, err := h.Heal(context.Background(), c, nil)
	if err != nil {
		t.Fatalf("Heal failed: %v", err)
	}
	if res.Healed {
		t.Fatal("Case with no documents cannot heal")
	}
	want := map[string]bool{"property_address": true, "sale_date": true, "current_bid": true}
	if len(res.Missing) != len(want) {
		t.Fatalf("Expected %d missing fields, got %v", len(want), res.Missing)
	}
	for _, field := range res.Missing {
		if !want[field] {
			t.Errorf("Unexpected missing field %q", field)
		}
	}
}

func TestHealNeverOverwritesAddress(t *testing.T) {
	s, log := setup(t)
	c := soldCase(t, s)
	if err := s.SetPropertyAddress(c.ID, "4512 Wilmore Drive, Charlotte, NC 28203"); err != nil {
		t.Fatal(err)
	}
	c.PropertyAddress = "4512 Wilmore Drive, Charlotte, NC 28203"
	addDocument(t, s, c.ID, "Report Of Foreclosure Sale", reportText)

	h := NewController(s, nil, nil, classify.DefaultPolicy(), log)
	res, err := h.Heal(context.Background(), c, nil)
	if err != nil {
		t.Fatalf("Heal failed: %v", err)
	}
	if !res.Healed {
		t.Errorf("Expected healed result, got %+v", res)
	}
	if c.PropertyAddress != "4512 Wilmore Drive, Charlotte, NC 28203" {
		t.Errorf("Sticky address was overwritten: %q", c.PropertyAddress)
	}
}

func TestReprocessRebuildsFromScratch(t *testing.T) {
	s, log := setup(t)
	c := soldCase(t, s)
	if err := s.SetPropertyAddress(c.ID, "999 Stale Entry Ln, Charlotte, NC"); err != nil {
		t.Fatal(err)
	}
	c.PropertyAddress = "999 Stale Entry Ln, Charlotte, NC"
	c.CurrentBid = 123456
	if err := s.SaveCase(c); err != nil {
		t.Fatal(err)
	}
	addDocument(t, s, c.ID, "Report Of Foreclosure Sale", reportText)

	h := NewController(s, nil, nil, classify.DefaultPolicy(), log)
	res, err := h.Reprocess(context.Background(), c)
	if err != nil {
		t.Fatalf("Reprocess failed: %v", err)
	}
	if !res.Healed {
		t.Errorf("Expected healed result, got %+v", res)
	}
	if c.PropertyAddress != "118 Maple Hollow Rd, Huntersville, NC 28078" {
		t.Errorf("Address not rebuilt from documents: %q", c.PropertyAddress)
	}
	if c.CurrentBid != 7317 {
		t.Errorf("Bid not rebuilt from documents: %v", c.CurrentBid)
	}
}

func TestRequiredFieldsPerStatus(t *testing.T) {
	tests := []struct {
		status string
		count  int
	}{
		{classify.StatusUpsetBid, 5},
		{classify.StatusClosedSold, 3},
		{classify.StatusUpcoming, 1},
		{classify.StatusBlocked, 1},
		{classify.StatusClosedDismissed, 0},
	}
	for _, tt := range tests {
		if got := len(RequiredFields(tt.status)); got != tt.count {
			t.Errorf("RequiredFields(%s) = %d fields, want %d", tt.status, got, tt.count)
		}
	}
}
