package web

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"paper_trade/internal/domain"
	"paper_trade/internal/infra/storage"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type buyRequest struct {
	Symbol string          `json:"symbol"`
	Shares decimal.Decimal `json:"shares"`
	Price  decimal.Decimal `json:"price"`
}

type sellRequest struct {
	Symbol string          `json:"symbol"`
	Shares decimal.Decimal `json:"shares"`
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

type correctionRequest struct {
	Status *domain.TransactionStatus `json:"status,omitempty"`
	Notes  *string                   `json:"notes,omitempty"`
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	positions, err := s.ledger.Portfolio(userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "malformed request body"})
		return
	}

	result, err := s.ledger.Buy(r.Context(), userID(r), req.Symbol, req.Shares, req.Price)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "malformed request body"})
		return
	}

	result, err := s.ledger.Sell(r.Context(), userID(r), req.Symbol, req.Shares)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.Summary(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePositionFills(w http.ResponseWriter, r *http.Request) {
	fills, err := s.ledger.PositionFills(userID(r), mux.Vars(r)["symbol"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fills)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.ledger.Balance(userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "malformed request body"})
		return
	}

	balance, err := s.ledger.TopUp(r.Context(), userID(r), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

type transactionPage struct {
	Transactions []domain.Transaction `json:"transactions"`
	CurrentPage  int                  `json:"current_page"`
	TotalPages   int64                `json:"total_pages"`
	Total        int64                `json:"total"`
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.TransactionFilter{
		Symbol: strings.ToUpper(q.Get("symbol")),
		Kind:   q.Get("type"),
		Status: q.Get("status"),
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if from, err := time.Parse(time.RFC3339, q.Get("start_date")); err == nil {
		filter.From = &from
	}
	if to, err := time.Parse(time.RFC3339, q.Get("end_date")); err == nil {
		filter.To = &to
	}

	txns, total, err := s.ledger.Transactions(userID(r), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 10
	}
	writeJSON(w, http.StatusOK, transactionPage{
		Transactions: txns,
		CurrentPage:  page,
		TotalPages:   (total + int64(limit) - 1) / int64(limit),
		Total:        total,
	})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := s.ledger.Transaction(userID(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (s *Server) handleCorrectTransaction(w http.ResponseWriter, r *http.Request) {
	var req correctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "malformed request body"})
		return
	}
	if req.Status == nil && req.Notes == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "only status and notes can be updated"})
		return
	}

	txn, err := s.ledger.CorrectTransaction(userID(r), mux.Vars(r)["id"], req.Status, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := s.quotes.FullQuote(r.Context(), strings.ToUpper(mux.Vars(r)["symbol"]))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleCompany(w http.ResponseWriter, r *http.Request) {
	profile, err := s.quotes.Profile(r.Context(), strings.ToUpper(mux.Vars(r)["symbol"]))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	matches, err := s.quotes.Search(r.Context(), mux.Vars(r)["query"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleLogo serves a cached company logo from the local store
func (s *Server) handleLogo(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	if s.logos == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "logo cache disabled"})
		return
	}

	path := s.logos.Path(symbol)
	if _, err := os.Stat(path); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "no logo cached for " + symbol})
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleLastTick(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	s.tickMu.RLock()
	tick, ok := s.lastTicks[symbol]
	s.tickMu.RUnlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "no tick received for " + symbol})
		return
	}
	writeJSON(w, http.StatusOK, tick)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req symbolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "symbol is required"})
		return
	}

	if err := s.feed.Subscribe(req.Symbol, s); err != nil {
		// The intent is registered; the feed itself is degraded.
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "subscribed to " + strings.ToUpper(req.Symbol)})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req symbolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "symbol is required"})
		return
	}

	s.feed.Unsubscribe(req.Symbol, s)
	writeJSON(w, http.StatusOK, map[string]string{"message": "unsubscribed from " + strings.ToUpper(req.Symbol)})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	s.feed.ForceReconnect()
	writeJSON(w, http.StatusOK, map[string]string{"state": s.feed.State().String()})
}

type watchlistResponse struct {
	UserID  string   `json:"user_id"`
	Symbols []string `json:"symbols"`
}

func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListWatchlist(userID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	symbols := make([]string, 0, len(entries))
	for _, e := range entries {
		symbols = append(symbols, e.Symbol)
	}
	writeJSON(w, http.StatusOK, watchlistResponse{UserID: userID(r), Symbols: symbols})
}

func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	var req symbolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Symbol) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "valid stock symbol is required"})
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if err := s.store.AddWatchlistEntry(userID(r), symbol); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": symbol + " added to watchlist"})
}

func (s *Server) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(mux.Vars(r)["symbol"]))
	if err := s.store.RemoveWatchlistEntry(userID(r), symbol); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": symbol + " removed from watchlist"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
