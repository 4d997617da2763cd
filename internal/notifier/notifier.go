package notifier

import (
	"context"
	"errors"
	"fmt"

	"sleepwatch/internal/domain"
)

// ErrDeliveryFailed marks a notification that was not accepted by the transport.
var ErrDeliveryFailed = errors.New("delivery failed")

// Notification is the transport-neutral payload for one new item.
type Notification struct {
	Title    string
	Message  string
	URL      string
	Priority domain.Priority
}

// Notifier delivers a Notification. A nil error means the transport confirmed delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Build formats the notification for item from its valuation.
func Build(item domain.Item, v domain.Valuation) Notification {
	return Notification{
		Title: fmt.Sprintf("(Δ%d€) %s", v.Profit, item.Title),
		Message: fmt.Sprintf("Coût: %s€\nUtilisable: %s€",
			item.SoldPrice.StringFixed(2), item.OriginalPrice.StringFixed(2)),
		URL:      item.Link,
		Priority: v.Priority,
	}
}
