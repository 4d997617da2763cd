package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"sleepwatch/internal/domain"
)

// HTTPScraper fetches the listings page with a plain GET request.
type HTTPScraper struct {
	client    *http.Client
	base      *url.URL
	userAgent string
	log       logrus.FieldLogger
}

// NewHTTPScraper creates a scraper for the page at sourceURL.
func NewHTTPScraper(sourceURL, userAgent string, timeout time.Duration, logger logrus.FieldLogger) (*HTTPScraper, error) {
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url %q: %w", sourceURL, err)
	}
	return &HTTPScraper{
		client:    &http.Client{Timeout: timeout},
		base:      base,
		userAgent: userAgent,
		log:       logger.WithField("component", "scraper"),
	}, nil
}

// FetchItems downloads the page and parses its listing tiles.
func (s *HTTPScraper) FetchItems(ctx context.Context) ([]domain.Item, error) {
	log := s.log.WithField("url", s.base.String())
	log.Info("Fetching items")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status code %d", ErrFetchFailed, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("%w: unexpected content type %q", ErrFetchFailed, ct)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrFetchFailed, err)
	}

	items := ParseDocument(doc, s.base, log)
	log.WithField("count", len(items)).Info("Fetched items")
	return items, nil
}
