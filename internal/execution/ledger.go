package execution

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"paper_trade/internal/domain"
	"paper_trade/internal/infra"
	"paper_trade/internal/infra/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger applies buy and sell orders to a user's cash balance and per-symbol
// position as one logical unit of work. All mutations run under the keyed
// lock, and the three record writes (position, balance, transaction) go
// through the store's native transaction.
type Ledger struct {
	store   *storage.Storage
	quotes  domain.QuoteSource
	locks   *KeyLock
	logos   *infra.LogoDownloader
	metrics *infra.Metrics

	openingBalance decimal.Decimal
	quoteTimeout   time.Duration
}

// NewLedger creates a position ledger. logos may be nil; logo caching is
// best-effort enrichment only.
func NewLedger(store *storage.Storage, quotes domain.QuoteSource, locks *KeyLock, logos *infra.LogoDownloader, openingBalance decimal.Decimal, quoteTimeout time.Duration, metrics *infra.Metrics) *Ledger {
	return &Ledger{
		store:          store,
		quotes:         quotes,
		locks:          locks,
		logos:          logos,
		metrics:        metrics,
		openingBalance: openingBalance,
		quoteTimeout:   quoteTimeout,
	}
}

// TradeResult is the outcome of a completed buy or sell
type TradeResult struct {
	Position    *domain.Position    `json:"position,omitempty"`
	Closed      bool                `json:"closed,omitempty"`
	NewBalance  decimal.Decimal     `json:"new_balance"`
	Transaction *domain.Transaction `json:"transaction"`
}

// Buy purchases shares at the client-quoted price, debiting the cash
// balance. A buy whose cost exceeds the balance is rejected before any
// write. A failing profile lookup never fails the trade: the symbol itself
// becomes the display name.
func (l *Ledger) Buy(ctx context.Context, userID, symbol string, shares, price decimal.Decimal) (*TradeResult, error) {
	symbol = normalizeTradeSymbol(symbol)
	if symbol == "" {
		return nil, &domain.ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if !shares.IsPositive() {
		return nil, &domain.ValidationError{Field: "shares", Reason: "must be greater than zero"}
	}
	if !price.IsPositive() {
		return nil, &domain.ValidationError{Field: "price", Reason: "must be greater than zero"}
	}

	var result *TradeResult
	err := l.locks.WithLock(ctx, userID, symbol, func() error {
		acct, err := l.loadAccount(userID)
		if err != nil {
			return err
		}

		cost := shares.Mul(price)
		if cost.GreaterThan(acct.Balance) {
			l.metrics.RecordTradeRejected()
			return domain.ErrInsufficientFunds
		}

		pos, err := l.store.GetPosition(userID, symbol)
		if err != nil {
			return domain.NewPersistenceError("read position", err)
		}

		now := time.Now()
		if pos == nil {
			// The external lookup is the most failure-prone step; it runs
			// before any write so a partial application window never opens.
			name, logoPath := l.resolveCompany(ctx, symbol)
			pos = &domain.Position{
				UserID:   userID,
				Symbol:   symbol,
				Name:     name,
				Shares:   shares,
				AvgCost:  price,
				LogoPath: logoPath,
			}
		} else {
			pos.ApplyBuy(shares, price)
		}

		fill := &domain.Fill{
			Kind:     domain.TradeBuy,
			Symbol:   symbol,
			Quantity: shares,
			Price:    price,
			Total:    cost,
			Date:     now,
		}
		txn := &domain.Transaction{
			ID:       uuid.NewString(),
			UserID:   userID,
			Symbol:   symbol,
			Kind:     domain.TradeBuy,
			Quantity: shares,
			Price:    price,
			Total:    cost,
			Date:     now,
			Status:   domain.StatusCompleted,
		}
		acct.Balance = acct.Balance.Sub(cost)

		if err := l.store.ApplyTrade(pos, fill, false, acct, txn); err != nil {
			return domain.NewPersistenceError("apply buy", err)
		}

		l.metrics.RecordTradeExecuted()
		slog.Info("buy executed",
			slog.String("user", userID),
			slog.String("symbol", symbol),
			slog.String("shares", shares.String()),
			slog.String("price", price.String()),
		)
		result = &TradeResult{Position: pos, NewBalance: acct.Balance, Transaction: txn}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Sell disposes shares at the current market price, crediting the cash
// balance. When the quote source is unavailable the position's average cost
// is used instead (documented degraded pricing, not a failure). Selling the
// entire holding deletes the position record.
func (l *Ledger) Sell(ctx context.Context, userID, symbol string, shares decimal.Decimal) (*TradeResult, error) {
	symbol = normalizeTradeSymbol(symbol)
	if symbol == "" {
		return nil, &domain.ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if !shares.IsPositive() {
		return nil, &domain.ValidationError{Field: "shares", Reason: "must be greater than zero"}
	}

	var result *TradeResult
	err := l.locks.WithLock(ctx, userID, symbol, func() error {
		pos, err := l.store.GetPosition(userID, symbol)
		if err != nil {
			return domain.NewPersistenceError("read position", err)
		}
		if pos == nil {
			l.metrics.RecordTradeRejected()
			return domain.ErrPositionNotFound
		}
		if shares.GreaterThan(pos.Shares) {
			l.metrics.RecordTradeRejected()
			return domain.ErrInsufficientShares
		}

		acct, err := l.loadAccount(userID)
		if err != nil {
			return err
		}

		price := l.resolveSellPrice(ctx, pos)
		proceeds := shares.Mul(price)

		pos.ApplySell(shares)
		closed := pos.Shares.IsZero()

		now := time.Now()
		fill := &domain.Fill{
			Kind:     domain.TradeSell,
			Symbol:   symbol,
			Quantity: shares,
			Price:    price,
			Total:    proceeds,
			Date:     now,
		}
		txn := &domain.Transaction{
			ID:       uuid.NewString(),
			UserID:   userID,
			Symbol:   symbol,
			Kind:     domain.TradeSell,
			Quantity: shares,
			Price:    price,
			Total:    proceeds,
			Date:     now,
			Status:   domain.StatusCompleted,
		}
		acct.Balance = acct.Balance.Add(proceeds)

		if err := l.store.ApplyTrade(pos, fill, closed, acct, txn); err != nil {
			return domain.NewPersistenceError("apply sell", err)
		}

		l.metrics.RecordTradeExecuted()
		slog.Info("sell executed",
			slog.String("user", userID),
			slog.String("symbol", symbol),
			slog.String("shares", shares.String()),
			slog.String("price", price.String()),
			slog.Bool("closed", closed),
		)
		result = &TradeResult{NewBalance: acct.Balance, Transaction: txn, Closed: closed}
		if !closed {
			result.Position = pos
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Portfolio returns all of a user's positions
func (l *Ledger) Portfolio(userID string) ([]domain.Position, error) {
	positions, err := l.store.ListPositions(userID)
	if err != nil {
		return nil, domain.NewPersistenceError("list positions", err)
	}
	return positions, nil
}

// PositionFills returns the fill history embedded in one position
func (l *Ledger) PositionFills(userID, symbol string) ([]domain.Fill, error) {
	pos, err := l.store.GetPosition(userID, normalizeTradeSymbol(symbol))
	if err != nil {
		return nil, domain.NewPersistenceError("read position", err)
	}
	if pos == nil {
		return nil, domain.ErrPositionNotFound
	}
	return pos.Fills, nil
}

// Summary aggregates a user's portfolio. Market value uses the live quote
// per position, falling back to average cost when unavailable.
func (l *Ledger) Summary(ctx context.Context, userID string) (*domain.PortfolioSummary, error) {
	positions, err := l.store.ListPositions(userID)
	if err != nil {
		return nil, domain.NewPersistenceError("list positions", err)
	}

	summary := &domain.PortfolioSummary{TotalPositions: len(positions)}
	for i := range positions {
		pos := &positions[i]
		price := l.resolveSellPrice(ctx, pos)
		summary.TotalValue = summary.TotalValue.Add(pos.MarketValue(price))
		summary.TotalCost = summary.TotalCost.Add(pos.TotalCost())
	}
	summary.TotalGainLoss = summary.TotalValue.Sub(summary.TotalCost)
	if summary.TotalCost.IsPositive() {
		summary.GainLossPct = summary.TotalGainLoss.Div(summary.TotalCost).Mul(decimal.NewFromInt(100))
	}
	return summary, nil
}

// Balance returns a user's cash balance, creating the account with the
// opening balance on first access
func (l *Ledger) Balance(userID string) (decimal.Decimal, error) {
	acct, err := l.store.GetAccount(userID)
	if err != nil {
		return decimal.Zero, domain.NewPersistenceError("read account", err)
	}
	if acct == nil {
		acct = &domain.Account{UserID: userID, Balance: l.openingBalance}
		if err := l.store.SaveAccount(acct); err != nil {
			return decimal.Zero, domain.NewPersistenceError("create account", err)
		}
	}
	return acct.Balance, nil
}

// TopUp adds simulated cash to a user's balance
func (l *Ledger) TopUp(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, &domain.ValidationError{Field: "amount", Reason: "must not be negative"}
	}

	var balance decimal.Decimal
	err := l.locks.WithLock(ctx, userID, "", func() error {
		acct, err := l.loadAccount(userID)
		if err != nil {
			return err
		}
		acct.Balance = acct.Balance.Add(amount)
		if err := l.store.SaveAccount(acct); err != nil {
			return domain.NewPersistenceError("save account", err)
		}
		balance = acct.Balance
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// Transactions returns a filtered, paginated transaction history
func (l *Ledger) Transactions(userID string, filter storage.TransactionFilter) ([]domain.Transaction, int64, error) {
	txns, total, err := l.store.ListTransactions(userID, filter)
	if err != nil {
		return nil, 0, domain.NewPersistenceError("list transactions", err)
	}
	return txns, total, nil
}

// Transaction returns one transaction scoped to a user
func (l *Ledger) Transaction(userID, id string) (*domain.Transaction, error) {
	txn, err := l.store.GetTransaction(userID, id)
	if err != nil {
		return nil, domain.NewPersistenceError("read transaction", err)
	}
	if txn == nil {
		return nil, domain.ErrTransactionNotFound
	}
	return txn, nil
}

// CorrectTransaction updates the status and/or notes of a transaction.
// Quantity, price and total are append-only and never change.
func (l *Ledger) CorrectTransaction(userID, id string, status *domain.TransactionStatus, notes *string) (*domain.Transaction, error) {
	txn, err := l.Transaction(userID, id)
	if err != nil {
		return nil, err
	}

	if status != nil {
		switch *status {
		case domain.StatusPending, domain.StatusCompleted, domain.StatusFailed:
			txn.Status = *status
		default:
			return nil, &domain.ValidationError{Field: "status", Reason: "unknown status"}
		}
	}
	if notes != nil {
		txn.Notes = *notes
	}

	if err := l.store.SaveTransaction(txn); err != nil {
		return nil, domain.NewPersistenceError("save transaction", err)
	}
	return txn, nil
}

// loadAccount reads the account, materializing it with the opening balance
// on first use
func (l *Ledger) loadAccount(userID string) (*domain.Account, error) {
	acct, err := l.store.GetAccount(userID)
	if err != nil {
		return nil, domain.NewPersistenceError("read account", err)
	}
	if acct == nil {
		acct = &domain.Account{UserID: userID, Balance: l.openingBalance}
	}
	return acct, nil
}

// resolveCompany fetches the display name and logo for a new position.
// Quote source failures fall back to the symbol string; a trade never fails
// because enrichment data is unavailable.
func (l *Ledger) resolveCompany(ctx context.Context, symbol string) (string, string) {
	qctx, cancel := context.WithTimeout(ctx, l.quoteTimeout)
	defer cancel()

	profile, err := l.quotes.Profile(qctx, symbol)
	if err != nil {
		slog.Warn("profile lookup failed, using symbol as name",
			slog.String("symbol", symbol),
			slog.Any("error", err),
		)
		return symbol, ""
	}

	logoPath := ""
	if l.logos != nil && profile.LogoURL != "" {
		if path, err := l.logos.Download(symbol, profile.LogoURL); err == nil {
			logoPath = path
		}
	}
	return profile.Name, logoPath
}

// resolveSellPrice fetches the live price, falling back to the position's
// average cost when the quote source is unavailable
func (l *Ledger) resolveSellPrice(ctx context.Context, pos *domain.Position) decimal.Decimal {
	qctx, cancel := context.WithTimeout(ctx, l.quoteTimeout)
	defer cancel()

	price, err := l.quotes.Quote(qctx, pos.Symbol)
	if err != nil {
		slog.Warn("quote lookup failed, using average cost",
			slog.String("symbol", pos.Symbol),
			slog.Any("error", err),
		)
		return pos.AvgCost
	}
	return price
}

func normalizeTradeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
