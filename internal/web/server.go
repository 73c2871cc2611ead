package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"paper_trade/internal/domain"
	"paper_trade/internal/execution"
	"paper_trade/internal/infra"
	"paper_trade/internal/infra/storage"
	"paper_trade/internal/service"

	"github.com/gorilla/mux"
)

type ctxKey int

const userIDKey ctxKey = iota

// Server exposes the ledger and the market feed over HTTP. Authentication
// is an upstream concern: identity arrives resolved in the X-User-ID header
// and the middleware only rejects its absence.
type Server struct {
	router  *mux.Router
	ledger  *execution.Ledger
	feed    *service.MarketFeed
	quotes  *infra.FinnhubClient
	store   *storage.Storage
	logos   *infra.LogoDownloader
	metrics *infra.Metrics

	// last tick per symbol, fed by HTTP-driven subscriptions
	tickMu    sync.RWMutex
	lastTicks map[string]domain.TradeTick
}

// NewServer wires the HTTP routes. logos may be nil; the logo endpoint then
// always answers not found.
func NewServer(ledger *execution.Ledger, feed *service.MarketFeed, quotes *infra.FinnhubClient, store *storage.Storage, logos *infra.LogoDownloader, metrics *infra.Metrics) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		ledger:    ledger,
		feed:      feed,
		quotes:    quotes,
		store:     store,
		logos:     logos,
		metrics:   metrics,
		lastTicks: make(map[string]domain.TradeTick),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.withUser)

	portfolio := api.PathPrefix("/portfolio").Subrouter()
	portfolio.HandleFunc("", s.handleGetPortfolio).Methods(http.MethodGet)
	portfolio.HandleFunc("", s.handleBuy).Methods(http.MethodPost)
	portfolio.HandleFunc("/sell", s.handleSell).Methods(http.MethodPost)
	portfolio.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	portfolio.HandleFunc("/transactions/{symbol}", s.handlePositionFills).Methods(http.MethodGet)

	account := api.PathPrefix("/account").Subrouter()
	account.HandleFunc("/balance", s.handleGetBalance).Methods(http.MethodGet)
	account.HandleFunc("/balance", s.handleTopUp).Methods(http.MethodPut)

	transactions := api.PathPrefix("/transactions").Subrouter()
	transactions.HandleFunc("", s.handleListTransactions).Methods(http.MethodGet)
	transactions.HandleFunc("/{id}", s.handleGetTransaction).Methods(http.MethodGet)
	transactions.HandleFunc("/{id}", s.handleCorrectTransaction).Methods(http.MethodPatch)

	stocks := api.PathPrefix("/stocks").Subrouter()
	stocks.HandleFunc("/quote/{symbol}", s.handleQuote).Methods(http.MethodGet)
	stocks.HandleFunc("/company/{symbol}", s.handleCompany).Methods(http.MethodGet)
	stocks.HandleFunc("/search/{query}", s.handleSearch).Methods(http.MethodGet)
	stocks.HandleFunc("/logo/{symbol}", s.handleLogo).Methods(http.MethodGet)
	stocks.HandleFunc("/tick/{symbol}", s.handleLastTick).Methods(http.MethodGet)
	stocks.HandleFunc("/subscribe", s.handleSubscribe).Methods(http.MethodPost)
	stocks.HandleFunc("/unsubscribe", s.handleUnsubscribe).Methods(http.MethodPost)
	stocks.HandleFunc("/reconnect", s.handleReconnect).Methods(http.MethodPost)

	watchlist := api.PathPrefix("/watchlist").Subrouter()
	watchlist.HandleFunc("", s.handleGetWatchlist).Methods(http.MethodGet)
	watchlist.HandleFunc("", s.handleAddWatchlist).Methods(http.MethodPost)
	watchlist.HandleFunc("/{symbol}", s.handleRemoveWatchlist).Methods(http.MethodDelete)

	api.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// OnTick caches the newest tick per symbol for HTTP polling
func (s *Server) OnTick(tick domain.TradeTick) {
	s.tickMu.Lock()
	s.lastTicks[tick.Symbol] = tick
	s.tickMu.Unlock()
}

// withUser requires a resolved identity on every API call
func (s *Server) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "missing user identity"})
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

type errorResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encoding failed", slog.Any("error", err))
	}
}

// writeError maps the failure taxonomy onto HTTP status categories
func writeError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: ve.Error()})
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientShares):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
	case errors.Is(err, domain.ErrPositionNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrWatchlistEntryNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Message: err.Error()})
	case errors.Is(err, domain.ErrDuplicateWatchlistEntry),
		errors.Is(err, domain.ErrLockTimeout):
		writeJSON(w, http.StatusConflict, errorResponse{Message: err.Error()})
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Message: err.Error()})
	case errors.Is(err, domain.ErrQuoteUnavailable):
		writeJSON(w, http.StatusBadGateway, errorResponse{Message: err.Error()})
	default:
		slog.Error("request failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
	}
}
