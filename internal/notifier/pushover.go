package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPushoverURL is the Pushover messages endpoint.
const DefaultPushoverURL = "https://api.pushover.net/1/messages.json"

// Pushover sends notifications to a Pushover delivery group.
type Pushover struct {
	endpoint   string
	appToken   string
	groupToken string
	client     *http.Client
	log        logrus.FieldLogger
}

var _ Notifier = (*Pushover)(nil)

// NewPushover creates a Pushover notifier. An empty endpoint selects DefaultPushoverURL.
func NewPushover(endpoint, appToken, groupToken string, timeout time.Duration, logger logrus.FieldLogger) *Pushover {
	if endpoint == "" {
		endpoint = DefaultPushoverURL
	}
	return &Pushover{
		endpoint:   endpoint,
		appToken:   appToken,
		groupToken: groupToken,
		client:     &http.Client{Timeout: timeout},
		log:        logger.WithField("component", "pushover"),
	}
}

type pushoverRequest struct {
	Token    string `json:"token"`
	User     string `json:"user"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	URL      string `json:"url"`
	Priority int    `json:"priority"`
}

type pushoverResponse struct {
	Status  int      `json:"status"`
	Request string   `json:"request"`
	Errors  []string `json:"errors"`
}

// Notify posts n and succeeds only when the API answers status 1.
func (p *Pushover) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(pushoverRequest{
		Token:    p.appToken,
		User:     p.groupToken,
		Title:    n.Title,
		Message:  n.Message,
		URL:      n.URL,
		Priority: int(n.Priority),
	})
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrDeliveryFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrDeliveryFailed, err)
	}

	var out pushoverResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("%w: http %d, unparseable response: %v", ErrDeliveryFailed, resp.StatusCode, err)
	}

	log := p.log.WithFields(logrus.Fields{
		"http_status": resp.StatusCode,
		"status":      out.Status,
		"request":     out.Request,
	})
	if out.Status != 1 {
		log.WithField("errors", out.Errors).Warn("Pushover rejected notification")
		if len(out.Errors) > 0 {
			return fmt.Errorf("%w: pushover status %d: %s", ErrDeliveryFailed, out.Status, strings.Join(out.Errors, "; "))
		}
		return fmt.Errorf("%w: pushover status %d", ErrDeliveryFailed, out.Status)
	}

	log.Debug("Pushover accepted notification")
	return nil
}
