package heal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmwalsh/foreclosure-monitor/internal/classify"
	"github.com/jmwalsh/foreclosure-monitor/internal/database"
	"github.com/jmwalsh/foreclosure-monitor/internal/extract"
	"github.com/jmwalsh/foreclosure-monitor/pkg/logger"
)

// DocumentFetcher re-acquires a document's text from the source. Errors are
// non-fatal; the controller escalates instead.
type DocumentFetcher interface {
	FetchDocumentText(ctx context.Context, doc *database.Document) (string, error)
}

// CaseSyncer fully re-synchronizes a case against a fresh source snapshot
// and returns the events that were new
type CaseSyncer interface {
	Resync(ctx context.Context, c *database.Case) ([]database.CaseEvent, error)
}

// Repair tiers, cheapest first
const (
	TierNone      = 0
	TierReExtract = 1
	TierReFetch   = 2
	TierRevisit   = 3
)

// Result reports how far the controller had to escalate
type Result struct {
	Healed  bool     `json:"healed"`
	Tier    int      `json:"tier"`
	Missing []string `json:"missing"`
}

// Controller runs escalating repair tiers against an incomplete case
type Controller struct {
	store  *database.Store
	docs   DocumentFetcher
	syncer CaseSyncer
	policy classify.Policy
	logger *logger.Logger
}

func NewController(store *database.Store, docs DocumentFetcher, syncer CaseSyncer, policy classify.Policy, logger *logger.Logger) *Controller {
	return &Controller{
		store:  store,
		docs:   docs,
		syncer: syncer,
		policy: policy,
		logger: logger,
	}
}

// RequiredFields is the completeness checklist for a status
func RequiredFields(status string) []string {
	switch status {
	case classify.StatusUpsetBid:
		return []string{"property_address", "sale_date", "current_bid", "minimum_next_bid", "bid_deadline"}
	case classify.StatusClosedSold:
		return []string{"property_address", "sale_date", "current_bid"}
	case classify.StatusUpcoming, classify.StatusBlocked:
		return []string{"property_address"}
	default:
		return nil
	}
}

// MissingFields returns the required fields the case does not yet hold
func MissingFields(c *database.Case) []string {
	var missing []string
	for _, field := range RequiredFields(c.Status) {
		switch field {
		case "property_address":
			if c.PropertyAddress == "" {
				missing = append(missing, field)
			}
		case "sale_date":
			if c.SaleDate == nil {
				missing = append(missing, field)
			}
		case "current_bid":
			if c.CurrentBid == 0 {
				missing = append(missing, field)
			}
		case "minimum_next_bid":
			if c.MinimumNextBid == 0 {
				missing = append(missing, field)
			}
		case "bid_deadline":
			if c.BidDeadline == nil {
				missing = append(missing, field)
			}
		}
	}
	return missing
}

// Heal escalates through repair tiers until the case is complete or the
// tiers are exhausted. scopeEventIDs bounds tiers 1-2 to the documents of
// this cycle's new events; nil means every document the case has. Scoped
// documents get the cheap tiers even when the case is already complete for
// its current status.
func (h *Controller) Heal(ctx context.Context, c *database.Case, scopeEventIDs []uint) (Result, error) {
	docs, err := h.scopedDocuments(c, scopeEventIDs)
	if err != nil {
		return Result{Missing: MissingFields(c)}, fmt.Errorf("failed to load documents: %w", err)
	}

	missing := MissingFields(c)
	if len(missing) == 0 {
		// Complete for the current status, but a fresh document can
		// carry fields the checklist does not yet demand: the sale date
		// in a just-filed report of sale moves the status and reopens
		// the checklist.
		h.reExtract(c, docs)
		h.reFetch(ctx, c, docs)
		if missing = MissingFields(c); len(missing) == 0 {
			return Result{Healed: true, Tier: TierNone}, nil
		}
	}

	// Tier 1: recompute from text already on hand
	h.reExtract(c, docs)
	if missing = MissingFields(c); len(missing) == 0 {
		return Result{Healed: true, Tier: TierReExtract}, nil
	}

	// Tier 2: re-acquire documents that never yielded text, then retry
	h.reFetch(ctx, c, docs)
	if missing = MissingFields(c); len(missing) == 0 {
		return Result{Healed: true, Tier: TierReFetch}, nil
	}

	// Tier 3: full re-visit against a fresh snapshot, then the cheap
	// tiers again over everything the case has
	if h.syncer != nil {
		if _, err := h.syncer.Resync(ctx, c); err != nil {
			h.logger.Warn("Case revisit failed during healing",
				"case", c.CaseNumber, "error", err)
		} else {
			allDocs, err := h.store.DocumentsForCase(c.ID)
			if err == nil {
				h.reExtract(c, allDocs)
				h.reFetch(ctx, c, allDocs)
			}
		}
	}

	if missing = MissingFields(c); len(missing) == 0 {
		return Result{Healed: true, Tier: TierRevisit}, nil
	}

	// Exhausted: surface for manual handling, never drop
	h.logger.Warn("Case incomplete after all repair tiers",
		"case", c.CaseNumber, "missing", missing)
	return Result{Healed: false, Tier: TierRevisit, Missing: missing}, nil
}

// Reprocess is the explicit operator operation: clear the sticky address,
// void the bid fields and rebuild everything from every stored document.
// Routine monitoring never calls this.
func (h *Controller) Reprocess(ctx context.Context, c *database.Case) (Result, error) {
	if err := h.store.ClearPropertyAddress(c.ID); err != nil {
		return Result{}, fmt.Errorf("failed to clear property address: %w", err)
	}
	c.PropertyAddress = ""
	c.CurrentBid = 0
	c.MinimumNextBid = 0
	if err := h.store.SaveCase(c); err != nil {
		return Result{}, fmt.Errorf("failed to reset case fields: %w", err)
	}
	return h.Heal(ctx, c, nil)
}

func (h *Controller) scopedDocuments(c *database.Case, scopeEventIDs []uint) ([]database.Document, error) {
	if scopeEventIDs == nil {
		return h.store.DocumentsForCase(c.ID)
	}
	return h.store.DocumentsForEvents(scopeEventIDs)
}

// reExtract applies candidate fields from documents whose text is already
// stored
func (h *Controller) reExtract(c *database.Case, docs []database.Document) {
	for i := range docs {
		if docs[i].Text == "" {
			continue
		}
		h.applyCandidates(c, extract.FromText(docs[i].Text))
	}
	h.persist(c)
}

// reFetch downloads text for documents without a successful extraction and
// re-extracts
func (h *Controller) reFetch(ctx context.Context, c *database.Case, docs []database.Document) {
	if h.docs == nil {
		return
	}
	changed := false
	for i := range docs {
		doc := &docs[i]
		if doc.Text != "" {
			continue
		}
		text, err := h.docs.FetchDocumentText(ctx, doc)
		now := time.Now()
		doc.ExtractedAt = &now
		if err != nil {
			h.logger.Warn("Document fetch failed",
				"case", c.CaseNumber, "document", doc.Title, "error", err)
			if saveErr := h.store.SaveDocument(doc); saveErr != nil {
				h.logger.Error("Failed to record extraction attempt", "error", saveErr)
			}
			continue
		}
		doc.Text = text
		if err := h.store.SaveDocument(doc); err != nil {
			h.logger.Error("Failed to save document text", "error", err)
			continue
		}
		h.applyCandidates(c, extract.FromText(text))
		changed = true
	}
	if changed {
		h.persist(c)
	}
}

// applyCandidates folds extracted values into the case. The address is
// sticky: set only when empty, via the store so the invariant holds even
// under concurrent writers. Bids only move upward inside a window; resets
// are the classifier's call.
func (h *Controller) applyCandidates(c *database.Case, f extract.Fields) {
	if f.PropertyAddress != "" && c.PropertyAddress == "" {
		if err := h.store.SetPropertyAddress(c.ID, f.PropertyAddress); err != nil {
			if !errors.Is(err, database.ErrStickyField) {
				h.logger.Error("Failed to set property address",
					"case", c.CaseNumber, "error", err)
			}
		} else {
			c.PropertyAddress = f.PropertyAddress
		}
	}

	if f.CurrentBid != nil && *f.CurrentBid > c.CurrentBid {
		c.CurrentBid = *f.CurrentBid
		c.MinimumNextBid = extract.MinimumUpsetBid(c.CurrentBid)
	}
	if f.MinimumNextBid != nil && *f.MinimumNextBid > c.MinimumNextBid {
		c.MinimumNextBid = *f.MinimumNextBid
	}

	if f.SaleDate != nil && c.SaleDate == nil {
		c.SaleDate = f.SaleDate
		// A fresh sale baseline changes the deadline arithmetic
		events, err := h.store.EventsForCase(c.ID)
		if err == nil {
			outcome := classify.Classify(c, events, time.Now(), h.policy)
			c.Status = outcome.Status
			c.BidDeadline = outcome.Deadline
		}
	}
}

func (h *Controller) persist(c *database.Case) {
	if err := h.store.SaveCase(c); err != nil {
		if errors.Is(err, database.ErrStickyField) || errors.Is(err, database.ErrFinalizedImmutable) {
			h.logger.Warn("Persistence guard rejected case write",
				"case", c.CaseNumber, "error", err)
			return
		}
		h.logger.Error("Failed to persist case", "case", c.CaseNumber, "error", err)
	}
}
