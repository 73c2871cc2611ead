package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"paper_trade/internal/domain"
	"paper_trade/internal/execution"
	"paper_trade/internal/infra"
	"paper_trade/internal/infra/storage"
	"paper_trade/internal/service"

	"github.com/shopspring/decimal"
)

// stubConn blocks reads until closed so the feed stays connected
type stubConn struct {
	done chan struct{}
}

func (c *stubConn) WriteJSON(v any) error { return nil }

func (c *stubConn) ReadMessage() ([]byte, error) {
	<-c.done
	return nil, errors.New("connection closed")
}

func (c *stubConn) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return nil
}

type stubDialer struct{}

func (d *stubDialer) Dial(ctx context.Context) (domain.FeedConn, error) {
	return &stubConn{done: make(chan struct{})}, nil
}

// newFinnhubStub serves canned quote, profile and search payloads
func newFinnhubStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			w.Write([]byte(`{"c":130,"h":131,"l":129,"o":130,"pc":128,"t":1700000000}`))
		case "/stock/profile2":
			w.Write([]byte(`{"name":"Apple Inc","ticker":"AAPL","exchange":"NASDAQ","currency":"USD"}`))
		case "/search":
			w.Write([]byte(`{"count":1,"result":[{"description":"APPLE INC","displaySymbol":"AAPL","symbol":"AAPL","type":"Common Stock"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupServer(t *testing.T) *Server {
	t.Helper()

	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	finnhub := newFinnhubStub(t)
	quotes := infra.NewFinnhubClient(finnhub.URL, "test-token")

	metrics := &infra.Metrics{}
	feed := service.NewMarketFeed(&stubDialer{}, 5, time.Millisecond, metrics)
	ctx, cancel := context.WithCancel(context.Background())
	feed.Start(ctx)
	t.Cleanup(func() {
		cancel()
		feed.Shutdown()
	})

	locks := execution.NewKeyLock(5 * time.Second)
	ledger := execution.NewLedger(store, quotes, locks, nil, decimal.NewFromInt(1000), time.Second, metrics)

	return NewServer(ledger, feed, quotes, store, nil, metrics)
}

func doJSON(t *testing.T, srv *Server, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestMissingUserRejected(t *testing.T) {
	srv := setupServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/portfolio", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestBuySellRoundTrip(t *testing.T) {
	srv := setupServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/portfolio", "user1", `{"symbol":"AAPL","shares":"5","price":"100"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("buy: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var buyResult execution.TradeResult
	if err := json.Unmarshal(rec.Body.Bytes(), &buyResult); err != nil {
		t.Fatalf("failed to decode buy result: %v", err)
	}
	if buyResult.NewBalance.String() != "500" {
		t.Errorf("expected balance 500, got %s", buyResult.NewBalance)
	}
	if buyResult.Position == nil || buyResult.Position.Name != "Apple Inc" {
		t.Errorf("expected profile-resolved name, got %+v", buyResult.Position)
	}

	// Sell everything at the stubbed quote of 130
	rec = doJSON(t, srv, http.MethodPost, "/api/portfolio/sell", "user1", `{"symbol":"AAPL","shares":"5"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("sell: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var sellResult execution.TradeResult
	json.Unmarshal(rec.Body.Bytes(), &sellResult)
	if !sellResult.Closed {
		t.Error("expected the position to close")
	}
	if sellResult.NewBalance.String() != "1150" {
		t.Errorf("expected balance 1150, got %s", sellResult.NewBalance)
	}

	// Portfolio is empty again
	rec = doJSON(t, srv, http.MethodGet, "/api/portfolio", "user1", "")
	var positions []domain.Position
	json.Unmarshal(rec.Body.Bytes(), &positions)
	if len(positions) != 0 {
		t.Errorf("expected empty portfolio, got %d positions", len(positions))
	}

	// History survives the close
	rec = doJSON(t, srv, http.MethodGet, "/api/transactions", "user1", "")
	var page transactionPage
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 2 {
		t.Errorf("expected 2 transactions, got %d", page.Total)
	}
}

func TestBuyErrorMapping(t *testing.T) {
	srv := setupServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/portfolio", "user1", `{"symbol":"AAPL","shares":"50","price":"100"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("insufficient funds: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/portfolio", "user1", `{"symbol":"","shares":"1","price":"100"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("validation: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/portfolio", "user1", `{bad json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/portfolio/sell", "user1", `{"symbol":"TSLA","shares":"1"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown position: expected 404, got %d", rec.Code)
	}
}

func TestBalanceAndTopUp(t *testing.T) {
	srv := setupServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/account/balance", "user1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["balance"] != "1000" {
		t.Errorf("expected opening balance 1000, got %s", body["balance"])
	}

	rec = doJSON(t, srv, http.MethodPut, "/api/account/balance", "user1", `{"amount":"250"}`)
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["balance"] != "1250" {
		t.Errorf("expected balance 1250, got %s", body["balance"])
	}
}

func TestWatchlistEndpoints(t *testing.T) {
	srv := setupServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/watchlist", "user1", `{"symbol":"aapl"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/watchlist", "user1", `{"symbol":"AAPL"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate: expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/watchlist", "user1", "")
	var wl watchlistResponse
	json.Unmarshal(rec.Body.Bytes(), &wl)
	if len(wl.Symbols) != 1 || wl.Symbols[0] != "AAPL" {
		t.Errorf("expected [AAPL], got %v", wl.Symbols)
	}

	rec = doJSON(t, srv, http.MethodDelete, "/api/watchlist/AAPL", "user1", "")
	if rec.Code != http.StatusOK {
		t.Errorf("remove: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodDelete, "/api/watchlist/TSLA", "user1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("remove missing: expected 404, got %d", rec.Code)
	}
}

func TestStockEndpoints(t *testing.T) {
	srv := setupServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/stocks/quote/AAPL", "user1", "")
	if rec.Code != http.StatusOK {
		t.Errorf("quote: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/stocks/company/AAPL", "user1", "")
	if rec.Code != http.StatusOK {
		t.Errorf("company: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/stocks/search/apple", "user1", "")
	if rec.Code != http.StatusOK {
		t.Errorf("search: expected 200, got %d", rec.Code)
	}
}

func TestSubscribeAndTick(t *testing.T) {
	srv := setupServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/stocks/subscribe", "user1", `{"symbol":"AAPL"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("subscribe: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	// No tick has arrived yet
	rec = doJSON(t, srv, http.MethodGet, "/api/stocks/tick/AAPL", "user1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before first tick, got %d", rec.Code)
	}

	// Feed one tick through the listener path
	srv.OnTick(domain.TradeTick{Symbol: "AAPL", Price: decimal.NewFromFloat(150.5), Timestamp: 1700000000000})

	rec = doJSON(t, srv, http.MethodGet, "/api/stocks/tick/AAPL", "user1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var tick domain.TradeTick
	json.Unmarshal(rec.Body.Bytes(), &tick)
	if tick.Symbol != "AAPL" {
		t.Errorf("unexpected tick %+v", tick)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/stocks/unsubscribe", "user1", `{"symbol":"AAPL"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("unsubscribe: expected 200, got %d", rec.Code)
	}
}

func TestLogoEndpoint(t *testing.T) {
	srv := setupServer(t)

	// Logo cache disabled
	rec := doJSON(t, srv, http.MethodGet, "/api/stocks/logo/AAPL", "user1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 with no cache, got %d", rec.Code)
	}

	logos, err := infra.NewLogoDownloader(t.TempDir())
	if err != nil {
		t.Fatalf("NewLogoDownloader failed: %v", err)
	}
	if err := os.WriteFile(logos.Path("AAPL"), []byte("png-bytes"), 0644); err != nil {
		t.Fatalf("failed to seed logo file: %v", err)
	}
	srv.logos = logos

	rec = doJSON(t, srv, http.MethodGet, "/api/stocks/logo/aapl", "user1", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for cached logo, got %d", rec.Code)
	}
	if rec.Body.String() != "png-bytes" {
		t.Error("expected the cached file contents to be served")
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/stocks/logo/MSFT", "user1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for uncached symbol, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/metrics", "user1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap infra.MetricsSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Errorf("metrics payload not decodable: %v", err)
	}
}
