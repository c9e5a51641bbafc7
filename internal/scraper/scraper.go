package scraper

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/jmwalsh/foreclosure-monitor/internal/config"
	"github.com/jmwalsh/foreclosure-monitor/internal/diff"
	"github.com/jmwalsh/foreclosure-monitor/pkg/logger"
)

// Scraper fetches case docket snapshots from the court portal. It is the
// only component that touches the network identity; callers serialize
// access through the scheduler's rate limiter.
type Scraper struct {
	cfg     *config.Config
	Browser *rod.Browser // Made public for testing
	mu      sync.Mutex
	logger  *logger.Logger
	page    *rod.Page
}

// NewScraper creates a new scraper instance
func NewScraper(cfg *config.Config, logger *logger.Logger) (*Scraper, error) {
	// Configure launcher with proper options
	l := launcher.New().
		Headless(cfg.HeadlessMode).
		Set("user-agent", cfg.UserAgent).
		Set("disable-blink-features", "AutomationControlled").
		Delete("enable-automation")

	// Set browser path if specified
	if cfg.BrowserPath != "" {
		l = l.Bin(cfg.BrowserPath)
	}

	// For debugging
	if cfg.LogLevel == "debug" {
		l = l.Devtools(true)
	}

	// Launch browser
	browserURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(browserURL).MustConnect()

	return &Scraper{
		cfg:     cfg,
		Browser: browser,
		logger:  logger,
	}, nil
}

// Close closes the browser and all pages
func (s *Scraper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page != nil {
		s.page.MustClose()
		s.page = nil
	}

	return s.Browser.Close()
}

// FetchCaseSnapshot loads the case's docket page and returns every event
// row the source currently shows, with the source ordinal when present
func (s *Scraper) FetchCaseSnapshot(ctx context.Context, caseNumber string) (*diff.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := s.getOrCreatePage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.cfg.ScraperTimeout)
	defer cancel()

	searchURL := s.cfg.CourtBaseURL + "/Home/Dashboard/29"
	s.logger.Debug("Navigating to court portal", "url", searchURL)

	if err := page.Context(searchCtx).Navigate(searchURL); err != nil {
		return nil, fmt.Errorf("failed to navigate: %w", err)
	}
	if err := page.Context(searchCtx).WaitLoad(); err != nil {
		s.logger.Warn("Page load timeout, continuing", "error", err)
	}

	// Case number search form
	searchInput, err := page.Element("#caseCriteria_SearchCriteria, input[name='caseCriteria.SearchCriteria']")
	if err != nil {
		return nil, fmt.Errorf("search input not found: %w", err)
	}
	searchInput.MustSelectAllText().MustInput(caseNumber)

	// The portal challenges unattended sessions
	if err := s.handleCaptcha(page); err != nil {
		return nil, fmt.Errorf("captcha handling failed: %w", err)
	}

	submitBtn, err := page.Element("#btnSSSubmit, input[type='submit']")
	if err != nil {
		return nil, fmt.Errorf("submit button not found: %w", err)
	}
	submitBtn.MustClick()
	page.MustWaitNavigation()

	// Open the case detail from the result list
	caseLink, err := page.Element("a.caseLink, td a[href*='CaseDetail']")
	if err != nil {
		return nil, fmt.Errorf("case %s not found in results: %w", caseNumber, err)
	}
	caseLink.MustClick()
	page.MustWaitNavigation()

	parser := NewParser(s.logger)
	snapshot, err := parser.ParseDocket(page, caseNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to parse docket: %w", err)
	}

	s.logger.Debug("Snapshot fetched",
		"case", caseNumber, "events", len(snapshot.Events), "status", snapshot.RawStatus)

	return snapshot, nil
}

// getOrCreatePage reuses one page per browser session
func (s *Scraper) getOrCreatePage() (*rod.Page, error) {
	if s.page != nil {
		return s.page, nil
	}

	page, err := s.Browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}

	// Set viewport
	page.MustSetViewport(1920, 1080, 1, false)

	// Set extra headers to appear more human-like
	page.MustSetExtraHeaders("Accept-Language", "en-US,en;q=0.9")

	s.page = page
	return page, nil
}

// CookieHeader returns the current session cookies for direct HTTP
// downloads that must share the browser's identity
func (s *Scraper) CookieHeader() []*proto.NetworkCookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil
	}
	return s.page.MustCookies()
}
