package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is one listing scraped from the source page.
// Items are rebuilt from the live page on every cycle and never mutated.
type Item struct {
	// ID is extracted from the listing URL and is the only field used for deduplication.
	ID int64 `json:"id"`

	// Link is the absolute URL of the listing detail page.
	Link string `json:"link"`

	// Title is the listing label without the trailing "(price€)" suffix.
	Title string `json:"title"`

	// OriginalPrice is the face value announced in the title.
	OriginalPrice decimal.Decimal `json:"original_price"`

	// SoldPrice is the asking price of the listing.
	SoldPrice decimal.Decimal `json:"sold_price"`

	// ImageURL may be empty, relative or absolute.
	ImageURL string `json:"image_url,omitempty"`
}

// SeenRecord is the persisted form of an Item whose notification was delivered.
type SeenRecord struct {
	Item
	NotifiedAt time.Time `json:"notified_at"`
}

// NewSeenRecord stamps item with the delivery time.
func NewSeenRecord(item Item, at time.Time) SeenRecord {
	return SeenRecord{Item: item, NotifiedAt: at.UTC()}
}

// IDs returns the identities of items in the order given.
func IDs(items []Item) []int64 {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return ids
}
