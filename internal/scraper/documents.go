package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmwalsh/foreclosure-monitor/internal/database"
	"github.com/jmwalsh/foreclosure-monitor/pkg/logger"
)

// TextRecognizer turns downloaded artifact bytes into text. Optical
// recognition of scanned filings is an external capability behind this
// interface.
type TextRecognizer interface {
	Recognize(ctx context.Context, data []byte, contentType string) (string, error)
}

// DocumentFetcher downloads event artifacts over plain HTTP, sharing the
// scraper's session identity, and runs them through a recognizer
type DocumentFetcher struct {
	scraper    *Scraper
	recognizer TextRecognizer
	logger     *logger.Logger
	client     *http.Client
	userAgent  string
}

func NewDocumentFetcher(s *Scraper, recognizer TextRecognizer, logger *logger.Logger, userAgent string) *DocumentFetcher {
	return &DocumentFetcher{
		scraper:    s,
		recognizer: recognizer,
		logger:     logger,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		userAgent: userAgent,
	}
}

// FetchDocumentText downloads the document and returns its recognized text
func (d *DocumentFetcher) FetchDocumentText(ctx context.Context, doc *database.Document) (string, error) {
	if doc.SourceURL == "" {
		return "", fmt.Errorf("document %q has no source URL", doc.Title)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.SourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	// Court portals gate downloads behind the browser session
	if d.scraper != nil {
		for _, cookie := range d.scraper.CookieHeader() {
			req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status downloading document: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read document body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	text, err := d.recognizer.Recognize(ctx, data, contentType)
	if err != nil {
		return "", fmt.Errorf("text recognition failed for %q: %w", doc.Title, err)
	}

	d.logger.Debug("Document text recognized",
		"title", doc.Title, "bytes", len(data), "chars", len(text))

	return text, nil
}

// PlainTextRecognizer handles documents the portal serves as text or HTML;
// scanned PDFs need a real OCR implementation plugged in instead
type PlainTextRecognizer struct{}

func (PlainTextRecognizer) Recognize(_ context.Context, data []byte, contentType string) (string, error) {
	switch {
	case strings.Contains(contentType, "text/plain"):
		return string(data), nil
	case strings.Contains(contentType, "text/html"):
		return stripTags(data), nil
	default:
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}
}

// stripTags reduces an HTML body to its visible text
func stripTags(data []byte) string {
	var out bytes.Buffer
	inTag := false
	for _, b := range data {
		switch {
		case b == '<':
			inTag = true
		case b == '>':
			inTag = false
			out.WriteByte(' ')
		case !inTag:
			out.WriteByte(b)
		}
	}
	return strings.Join(strings.Fields(out.String()), " ")
}
