package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"sleepwatch/internal/domain"
)

// RodScraper renders the listings page in a headless browser before parsing it.
// Use it when the grid is built client-side.
type RodScraper struct {
	base    *url.URL
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewRodScraper creates a browser-backed scraper for the page at sourceURL.
func NewRodScraper(sourceURL string, timeout time.Duration, logger logrus.FieldLogger) (*RodScraper, error) {
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url %q: %w", sourceURL, err)
	}
	return &RodScraper{
		base:    base,
		timeout: timeout,
		log:     logger.WithField("component", "scraper"),
	}, nil
}

// FetchItems launches a browser, waits for the page to load and parses the rendered HTML.
func (s *RodScraper) FetchItems(ctx context.Context) ([]domain.Item, error) {
	log := s.log.WithField("url", s.base.String())
	log.Info("Fetching items with browser")

	path, exists := launcher.LookPath()
	if !exists {
		return nil, fmt.Errorf("%w: browser executable not found", ErrFetchFailed)
	}
	l := launcher.New().Bin(path)
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: launch browser: %v", ErrFetchFailed, err)
	}
	// Runs last: waits for the browser process to exit and removes its profile dir.
	defer l.Cleanup()

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("%w: connect browser: %v", ErrFetchFailed, err)
	}
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			log.WithError(closeErr).Error("Error closing rod browser instance")
			l.Kill()
		}
	}()

	page, err := browser.Page(proto.TargetCreateTarget{URL: s.base.String()})
	if err != nil {
		return nil, fmt.Errorf("%w: create page: %v", ErrFetchFailed, err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Error closing rod page")
		}
	}()

	pageCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	loading := page.Context(pageCtx)

	if err := loading.WaitLoad(); err != nil {
		if errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: page load timed out after %s", ErrFetchFailed, s.timeout)
		}
		return nil, fmt.Errorf("%w: wait for page load: %v", ErrFetchFailed, err)
	}

	html, err := loading.HTML()
	if err != nil {
		return nil, fmt.Errorf("%w: read rendered html: %v", ErrFetchFailed, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrFetchFailed, err)
	}

	items := ParseDocument(doc, s.base, log)
	log.WithField("count", len(items)).Info("Fetched items")
	return items, nil
}
