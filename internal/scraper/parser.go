package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"sleepwatch/internal/domain"
)

// CSS selectors of the listings grid.
const (
	tileSelector  = ".home-fluid-thumbnail-grid-item"
	linkSelector  = ".fluid-thumbnail-grid-image-item-link"
	titleSelector = ".fluid-thumbnail-grid-image-title"
	priceSelector = ".fluid-thumbnail-grid-image-price"
	imageSelector = ".fluid-thumbnail-grid-image-image"
)

var (
	idPattern    = regexp.MustCompile(`/listings/(\d+)`)
	titlePattern = regexp.MustCompile(`^(.*) \(([0-9]+(?:,[0-9]+)?)€\)$`)
	pricePattern = regexp.MustCompile(`^([0-9]+(?:,[0-9]+)?)\s*€$`)
)

// ParseTile turns one listing tile into an Item. It performs no I/O.
func ParseTile(tile *goquery.Selection, base *url.URL) (domain.Item, error) {
	href, ok := tile.Find(linkSelector).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return domain.Item{}, fmt.Errorf("%w: missing detail link", ErrMalformedRecord)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return domain.Item{}, fmt.Errorf("%w: bad detail link %q: %v", ErrMalformedRecord, href, err)
	}
	link := base.ResolveReference(ref).String()

	m := idPattern.FindStringSubmatch(link)
	if m == nil {
		return domain.Item{}, fmt.Errorf("%w: no listing id in %q", ErrMalformedRecord, link)
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return domain.Item{}, fmt.Errorf("%w: listing id %q: %v", ErrMalformedRecord, m[1], err)
	}

	rawTitle := strings.TrimSpace(tile.Find(titleSelector).First().Text())
	tm := titlePattern.FindStringSubmatch(rawTitle)
	if tm == nil {
		return domain.Item{}, fmt.Errorf("%w: title %q does not match", ErrMalformedRecord, rawTitle)
	}
	original, err := parsePrice(tm[2])
	if err != nil {
		return domain.Item{}, err
	}

	rawPrice := strings.TrimSpace(tile.Find(priceSelector).First().Text())
	pm := pricePattern.FindStringSubmatch(rawPrice)
	if pm == nil {
		return domain.Item{}, fmt.Errorf("%w: price %q does not match", ErrMalformedRecord, rawPrice)
	}
	sold, err := parsePrice(pm[1])
	if err != nil {
		return domain.Item{}, err
	}

	image, _ := tile.Find(imageSelector).First().Attr("src")

	return domain.Item{
		ID:            id,
		Link:          link,
		Title:         strings.TrimSpace(tm[1]),
		OriginalPrice: original,
		SoldPrice:     sold,
		ImageURL:      strings.TrimSpace(image),
	}, nil
}

// parsePrice reads a comma-decimal amount such as "45,50".
func parsePrice(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.Replace(raw, ",", ".", 1))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: price %q: %v", ErrMalformedRecord, raw, err)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: negative price %q", ErrMalformedRecord, raw)
	}
	return d, nil
}

// ParseDocument parses every tile of doc in page order.
// A malformed tile is logged and skipped.
func ParseDocument(doc *goquery.Document, base *url.URL, log logrus.FieldLogger) []domain.Item {
	tiles := doc.Find(tileSelector)
	items := make([]domain.Item, 0, tiles.Length())

	tiles.Each(func(i int, tile *goquery.Selection) {
		item, err := ParseTile(tile, base)
		if err != nil {
			log.WithError(err).WithField("tile", i).Warn("Skipping malformed listing tile")
			return
		}
		items = append(items, item)
	})

	return items
}
