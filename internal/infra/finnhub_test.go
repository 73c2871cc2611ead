package infra

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"paper_trade/internal/domain"

	"github.com/shopspring/decimal"
)

func TestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("token") != "test-token" {
			t.Error("token not appended to request")
		}
		if r.URL.Query().Get("symbol") != "AAPL" {
			t.Errorf("unexpected symbol %s", r.URL.Query().Get("symbol"))
		}
		w.Write([]byte(`{"c":150.25,"h":151,"l":149,"o":150,"pc":148.5,"t":1700000000}`))
	}))
	defer srv.Close()

	c := NewFinnhubClient(srv.URL, "test-token")
	price, err := c.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if !price.Equal(decimal.NewFromFloat(150.25)) {
		t.Errorf("expected 150.25, got %s", price)
	}
}

func TestQuoteUnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Finnhub answers all zeros for unknown symbols
		w.Write([]byte(`{"c":0,"h":0,"l":0,"o":0,"pc":0,"t":0}`))
	}))
	defer srv.Close()

	c := NewFinnhubClient(srv.URL, "test-token")
	_, err := c.Quote(context.Background(), "NOPE")
	if !errors.Is(err, domain.ErrQuoteUnavailable) {
		t.Errorf("expected ErrQuoteUnavailable, got %v", err)
	}
	if !domain.IsRecoverable(err) {
		t.Error("quote failures must be recoverable")
	}
}

func TestQuoteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewFinnhubClient(srv.URL, "test-token")
	_, err := c.Quote(context.Background(), "AAPL")
	if !errors.Is(err, domain.ErrQuoteUnavailable) {
		t.Errorf("expected ErrQuoteUnavailable, got %v", err)
	}
}

func TestProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stock/profile2" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"name":"Apple Inc","ticker":"AAPL","exchange":"NASDAQ","currency":"USD","logo":"https://example.com/aapl.png"}`))
	}))
	defer srv.Close()

	c := NewFinnhubClient(srv.URL, "test-token")
	profile, err := c.Profile(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if profile.Name != "Apple Inc" {
		t.Errorf("expected Apple Inc, got %s", profile.Name)
	}
	if profile.LogoURL != "https://example.com/aapl.png" {
		t.Errorf("unexpected logo URL %s", profile.LogoURL)
	}
}

func TestProfileEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewFinnhubClient(srv.URL, "test-token")
	_, err := c.Profile(context.Background(), "NOPE")
	if !errors.Is(err, domain.ErrQuoteUnavailable) {
		t.Errorf("expected ErrQuoteUnavailable, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "apple" {
			t.Errorf("unexpected query %s", r.URL.Query().Get("q"))
		}
		w.Write([]byte(`{"count":1,"result":[{"description":"APPLE INC","displaySymbol":"AAPL","symbol":"AAPL","type":"Common Stock"}]}`))
	}))
	defer srv.Close()

	c := NewFinnhubClient(srv.URL, "test-token")
	matches, err := c.Search(context.Background(), "apple")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].Symbol != "AAPL" {
		t.Errorf("unexpected matches %v", matches)
	}
}
