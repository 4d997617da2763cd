package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepwatch/internal/domain"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestBuild(t *testing.T) {
	item := domain.Item{
		ID:            1234,
		Link:          "https://annonces.sleepingmoney.com/fr/listings/1234",
		Title:         "Vintage Lamp",
		OriginalPrice: decimal.RequireFromString("150"),
		SoldPrice:     decimal.RequireFromString("100"),
	}

	n := Build(item, domain.Evaluate(item))

	assert.Equal(t, "(Δ47€) Vintage Lamp", n.Title)
	assert.Equal(t, "Coût: 100.00€\nUtilisable: 150.00€", n.Message)
	assert.Equal(t, item.Link, n.URL)
	assert.Equal(t, domain.PriorityHigh, n.Priority)
}

func TestBuild_NegativeProfit(t *testing.T) {
	item := domain.Item{
		Title:         "Bon",
		OriginalPrice: decimal.RequireFromString("10"),
		SoldPrice:     decimal.RequireFromString("10.5"),
	}

	n := Build(item, domain.Evaluate(item))

	assert.Equal(t, "(Δ-3€) Bon", n.Title)
	assert.Equal(t, "Coût: 10.50€\nUtilisable: 10.00€", n.Message)
	assert.Equal(t, domain.PriorityLow, n.Priority)
}

func TestPushover_Notify(t *testing.T) {
	requests := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		requests <- body
		_, _ = w.Write([]byte(`{"status":1,"request":"abc-123"}`))
	}))
	defer srv.Close()

	p := NewPushover(srv.URL, "app-token", "group-token", time.Second, quietLogger())
	err := p.Notify(context.Background(), Notification{
		Title:    "(Δ47€) Vintage Lamp",
		Message:  "Coût: 100.00€\nUtilisable: 150.00€",
		URL:      "https://example.com/fr/listings/1",
		Priority: domain.PriorityLow,
	})
	require.NoError(t, err)

	got := <-requests
	assert.Equal(t, "app-token", got["token"])
	assert.Equal(t, "group-token", got["user"])
	assert.Equal(t, "(Δ47€) Vintage Lamp", got["title"])
	assert.Equal(t, "Coût: 100.00€\nUtilisable: 150.00€", got["message"])
	assert.Equal(t, "https://example.com/fr/listings/1", got["url"])
	assert.Equal(t, float64(-1), got["priority"])
}

func TestPushover_DeliveryFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		contains string
	}{
		{name: "api rejection", status: http.StatusBadRequest, body: `{"status":0,"errors":["user identifier is invalid"]}`, contains: "user identifier is invalid"},
		{name: "unexpected status value", status: http.StatusOK, body: `{"status":2}`, contains: "status 2"},
		{name: "not json", status: http.StatusBadGateway, body: `<html>bad gateway</html>`, contains: "unparseable"},
		{name: "empty body", status: http.StatusOK, body: ``, contains: "unparseable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewPushover(srv.URL, "a", "g", time.Second, quietLogger())
			err := p.Notify(context.Background(), Notification{Title: "t"})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDeliveryFailed)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestPushover_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewPushover(url, "a", "g", time.Second, quietLogger())
	err := p.Notify(context.Background(), Notification{Title: "t"})
	assert.ErrorIs(t, err, ErrDeliveryFailed)
}

func TestNewPushover_DefaultEndpoint(t *testing.T) {
	p := NewPushover("", "a", "g", time.Second, quietLogger())
	assert.Equal(t, DefaultPushoverURL, p.endpoint)
}

func TestTelegram_Notify(t *testing.T) {
	type sent struct{ path, text, silent string }
	requests := make(chan sent, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		requests <- sent{
			path:   r.URL.Path,
			text:   r.FormValue("text"),
			silent: r.FormValue("disable_notification"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram("123:abc", "42", srv.URL, time.Second, quietLogger())
	require.NoError(t, err)

	err = tg.Notify(context.Background(), Notification{
		Title:    "(Δ3€) Bon",
		Message:  "Coût: 10.00€\nUtilisable: 15.00€",
		URL:      "https://example.com/fr/listings/9",
		Priority: domain.PriorityLow,
	})
	require.NoError(t, err)

	req := <-requests
	assert.True(t, strings.HasSuffix(req.path, "/sendMessage"), "path %q", req.path)
	assert.Equal(t, "(Δ3€) Bon\nCoût: 10.00€\nUtilisable: 15.00€\nhttps://example.com/fr/listings/9", req.text)
	assert.Equal(t, "true", req.silent)
}

func TestTelegram_NotifyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram("123:abc", "42", srv.URL, time.Second, quietLogger())
	require.NoError(t, err)

	err = tg.Notify(context.Background(), Notification{Title: "t", Priority: domain.PriorityHigh})
	assert.ErrorIs(t, err, ErrDeliveryFailed)
}
