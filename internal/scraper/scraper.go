package scraper

import (
	"context"
	"errors"

	"sleepwatch/internal/domain"
)

var (
	// ErrFetchFailed marks a page that could not be fetched or is not HTML.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrMalformedRecord marks a listing tile that does not have the expected structure.
	ErrMalformedRecord = errors.New("malformed record")
)

// Scraper fetches the listings page and returns its items in page order.
type Scraper interface {
	// FetchItems returns every well-formed item on the page.
	// Malformed tiles are skipped; any transport failure aborts the whole fetch.
	FetchItems(ctx context.Context) ([]domain.Item, error)
}
