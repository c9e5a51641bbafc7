package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jmwalsh/foreclosure-monitor/internal/cache"
	"github.com/jmwalsh/foreclosure-monitor/internal/classify"
	"github.com/jmwalsh/foreclosure-monitor/internal/config"
	"github.com/jmwalsh/foreclosure-monitor/internal/database"
	"github.com/jmwalsh/foreclosure-monitor/internal/diff"
	"github.com/jmwalsh/foreclosure-monitor/internal/heal"
	"github.com/jmwalsh/foreclosure-monitor/pkg/logger"
)

// Source fetches one case's full docket snapshot from the court site
type Source interface {
	FetchCaseSnapshot(ctx context.Context, caseNumber string) (*diff.Snapshot, error)
}

// Scheduler runs the daily cycle: for every non-finalized case, fetch a
// snapshot, diff it against the store, and only when genuinely new events
// appear, classify and heal.
type Scheduler struct {
	cfg    *config.Config
	store  *database.Store
	source Source
	healer *heal.Controller
	cache  cache.Cache
	policy classify.Policy
	logger *logger.Logger

	// One outbound network identity shared by all workers
	limiter *rate.Limiter

	mu        sync.Mutex
	caseLocks map[uint]*sync.Mutex
}

func NewScheduler(cfg *config.Config, store *database.Store, source Source, policy classify.Policy, log *logger.Logger) *Scheduler {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 0.5
	}
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		source:    source,
		policy:    policy,
		logger:    log,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		caseLocks: make(map[uint]*sync.Mutex),
	}
}

// SetHealer wires the healing controller after construction; the healer's
// tier-3 revisit points back at this scheduler
func (m *Scheduler) SetHealer(h *heal.Controller) {
	m.healer = h
}

// SetCache wires the read cache so processed cases are invalidated as soon
// as a cycle changes them
func (m *Scheduler) SetCache(c cache.Cache) {
	m.cache = c
}

// CycleResult summarizes one processed case
type CycleResult struct {
	CaseNumber string
	NewEvents  int
	Err        error
}

// Run executes one monitoring cycle over every non-finalized case. A case
// failure never aborts the batch.
func (m *Scheduler) Run(ctx context.Context) (*database.MonitorLog, error) {
	started := time.Now()

	cases, err := m.store.ActiveCases()
	if err != nil {
		return nil, err
	}

	m.logger.Info("Monitor cycle started", "candidates", len(cases))

	workers := m.cfg.MaxConcurrentCases
	if workers <= 0 {
		workers = 1
	}

	results := make([]CycleResult, len(cases))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, workers)

	for i := range cases {
		wg.Add(1)
		go func(index int, c database.Case) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			count, err := m.ProcessCase(ctx, c.ID)
			results[index] = CycleResult{
				CaseNumber: c.CaseNumber,
				NewEvents:  count,
				Err:        err,
			}
		}(i, cases[i])
	}

	wg.Wait()

	cycleLog := &database.MonitorLog{
		StartedAt:    started,
		FinishedAt:   time.Now(),
		CasesChecked: len(cases),
	}
	for _, r := range results {
		if r.Err != nil {
			cycleLog.CasesFailed++
			m.logger.Warn("Case cycle failed, will retry next run",
				"case", r.CaseNumber, "error", r.Err)
			continue
		}
		if r.NewEvents > 0 {
			cycleLog.CasesUpdated++
			cycleLog.EventsFound += r.NewEvents
		}
	}
	if err := m.store.CreateMonitorLog(cycleLog); err != nil {
		m.logger.Error("Failed to record monitor cycle", "error", err)
	}

	m.logger.Info("Monitor cycle finished",
		"checked", cycleLog.CasesChecked,
		"updated", cycleLog.CasesUpdated,
		"failed", cycleLog.CasesFailed,
		"new_events", cycleLog.EventsFound,
		"duration", cycleLog.FinishedAt.Sub(started).String(),
	)

	return cycleLog, nil
}

// ProcessCase runs one case's full cycle: fetch, diff, persist, classify,
// heal. Returns the number of genuinely new events.
func (m *Scheduler) ProcessCase(ctx context.Context, caseID uint) (int, error) {
	lock := m.lockFor(caseID)
	lock.Lock()
	defer lock.Unlock()

	c, err := m.store.GetCaseByID(caseID)
	if err != nil {
		return 0, err
	}
	if c.Finalized {
		// Finalized cases are out of monitoring for good
		return 0, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.ScraperTimeout)
	defer cancel()

	snapshot, err := m.fetchWithRetry(fetchCtx, c.CaseNumber)
	if err != nil {
		return 0, err
	}

	inserted, err := m.persistNewEvents(c, snapshot)
	if err != nil {
		return 0, err
	}

	if err := m.store.TouchSynced(c.ID, time.Now()); err != nil {
		m.logger.Error("Failed to record sync time", "case", c.CaseNumber, "error", err)
	}

	if len(inserted) == 0 {
		// Unchanged snapshot: skip classification and healing entirely
		m.logger.Debug("No new events", "case", c.CaseNumber)
		return 0, nil
	}

	m.logger.Info("New events found", "case", c.CaseNumber, "count", len(inserted))

	if err := m.reclassify(c); err != nil {
		return len(inserted), err
	}

	if !c.Finalized && m.healer != nil {
		eventIDs := make([]uint, len(inserted))
		for i, ev := range inserted {
			eventIDs[i] = ev.ID
		}
		result, err := m.healer.Heal(ctx, c, eventIDs)
		if err != nil {
			m.logger.Warn("Healing failed", "case", c.CaseNumber, "error", err)
		} else if !result.Healed {
			m.logger.Info("Case needs manual review",
				"case", c.CaseNumber, "missing", result.Missing, "tier", result.Tier)
		}
	}

	// Readers must not see the pre-cycle state after a change
	if m.cache != nil {
		m.cache.Delete(cache.GenerateCacheKey(c.CaseNumber))
	}

	return len(inserted), nil
}

// Resync re-fetches and persists a case's events without classification or
// healing; the healing controller's tier-3 revisit calls this.
func (m *Scheduler) Resync(ctx context.Context, c *database.Case) ([]database.CaseEvent, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.ScraperTimeout)
	defer cancel()

	snapshot, err := m.fetchWithRetry(fetchCtx, c.CaseNumber)
	if err != nil {
		return nil, err
	}
	return m.persistNewEvents(c, snapshot)
}

// RegisterCase creates a case on first sighting of a qualifying filing
func (m *Scheduler) RegisterCase(caseNumber string) (*database.Case, error) {
	c := &database.Case{
		CaseNumber: caseNumber,
		County:     m.cfg.CountyName,
		Status:     classify.StatusUpcoming,
	}
	if err := m.store.CreateCase(c); err != nil {
		return nil, err
	}
	m.logger.Info("Case registered", "case", caseNumber)
	return c, nil
}

// persistNewEvents diffs the snapshot against stored events, appends the
// new ones and creates document stubs for events carrying an artifact
func (m *Scheduler) persistNewEvents(c *database.Case, snapshot *diff.Snapshot) ([]database.CaseEvent, error) {
	existing, err := m.store.EventsForCase(c.ID)
	if err != nil {
		return nil, err
	}

	fresh := diff.NewEvents(existing, snapshot.Events)
	if len(fresh) == 0 {
		return nil, nil
	}

	rows := make([]database.CaseEvent, len(fresh))
	for i, f := range fresh {
		rows[i] = database.CaseEvent{
			CaseID:        c.ID,
			EventDate:     f.Date,
			EventIndex:    f.Index,
			EventType:     f.Type,
			DocumentTitle: f.DocumentTitle,
		}
	}

	inserted, err := m.store.AppendEvents(rows)
	if err != nil {
		return inserted, err
	}

	for i := range inserted {
		ev := &inserted[i]
		f := matchFetched(fresh, ev)
		if f == nil || (f.DocumentTitle == "" && f.DocumentURL == "") {
			continue
		}
		doc := database.Document{
			CaseID:    c.ID,
			EventID:   &ev.ID,
			Title:     f.DocumentTitle,
			SourceURL: f.DocumentURL,
		}
		if err := m.store.SaveDocument(&doc); err != nil {
			m.logger.Error("Failed to create document stub",
				"case", c.CaseNumber, "event", ev.EventType, "error", err)
			continue
		}
		if err := m.store.SetEventDocument(ev.ID, doc.ID); err != nil {
			m.logger.Error("Failed to link document",
				"case", c.CaseNumber, "event", ev.EventType, "error", err)
		}
	}

	return inserted, nil
}

// reclassify runs the classifier over the case's full event list and
// persists the outcome, honoring the one-way finalized flag
func (m *Scheduler) reclassify(c *database.Case) error {
	events, err := m.store.EventsForCase(c.ID)
	if err != nil {
		return err
	}

	outcome := classify.Classify(c, events, time.Now(), m.policy)

	c.Status = outcome.Status
	c.SaleDate = outcome.SaleDate
	c.BidDeadline = outcome.Deadline
	if outcome.ResetBids {
		// Prior bids are legally void after a resale
		c.CurrentBid = 0
		c.MinimumNextBid = 0
	}

	if err := m.store.SaveCase(c); err != nil {
		if errors.Is(err, database.ErrFinalizedImmutable) || errors.Is(err, database.ErrStickyField) {
			m.logger.Warn("Persistence guard rejected classification write",
				"case", c.CaseNumber, "error", err)
			return nil
		}
		return err
	}

	if outcome.Finalized && !c.Finalized {
		if err := m.store.MarkFinalized(c.ID, *outcome.FinalizedAt, outcome.FinalizingEventID); err != nil {
			return err
		}
		c.Finalized = true
		c.FinalizedAt = outcome.FinalizedAt
		m.logger.Info("Case finalized, leaving monitoring",
			"case", c.CaseNumber, "finalized_at", outcome.FinalizedAt.Format("2006-01-02"))
	}

	return nil
}

// fetchWithRetry paces fetches through the shared network identity and
// retries transient failures with backoff
func (m *Scheduler) fetchWithRetry(ctx context.Context, caseNumber string) (*diff.Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt <= m.cfg.FetchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.cfg.FetchRetryBackoff * time.Duration(attempt)):
			}
		}
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		snapshot, err := m.source.FetchCaseSnapshot(ctx, caseNumber)
		if err == nil {
			return snapshot, nil
		}
		lastErr = err
		m.logger.Warn("Snapshot fetch failed",
			"case", caseNumber, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// lockFor returns the per-case mutex; no case is processed by two workers
// at once
func (m *Scheduler) lockFor(caseID uint) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.caseLocks[caseID]
	if !ok {
		lock = &sync.Mutex{}
		m.caseLocks[caseID] = lock
	}
	return lock
}

func matchFetched(fresh []diff.FetchedEvent, ev *database.CaseEvent) *diff.FetchedEvent {
	for i := range fresh {
		f := &fresh[i]
		if ev.EventIndex != nil && f.Index != nil {
			if *ev.EventIndex == *f.Index {
				return f
			}
			continue
		}
		if f.Type == ev.EventType && f.Date.Equal(ev.EventDate) {
			return f
		}
	}
	return nil
}
