package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeKind distinguishes buy and sell fills
type TradeKind string

const (
	TradeBuy  TradeKind = "BUY"
	TradeSell TradeKind = "SELL"
)

// TransactionStatus represents the lifecycle state of a transaction record
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

// Position represents a user's holding in one symbol.
// Unique per (user, symbol); created on first buy, deleted when shares
// reach exactly zero after a sell.
type Position struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    string          `gorm:"uniqueIndex:idx_user_symbol" json:"user_id"`
	Symbol    string          `gorm:"uniqueIndex:idx_user_symbol" json:"symbol"`
	Name      string          `json:"name"`
	Shares    decimal.Decimal `gorm:"type:numeric" json:"shares"`
	AvgCost   decimal.Decimal `gorm:"type:numeric" json:"avg_cost"`
	LogoPath  string          `json:"logo_path,omitempty"`
	Fills     []Fill          `gorm:"foreignKey:PositionID" json:"fills,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Fill is one executed buy or sell event embedded in a position.
// Append-only; deleted only together with its position.
type Fill struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	PositionID uint            `gorm:"index" json:"-"`
	Kind       TradeKind       `json:"kind"`
	Symbol     string          `json:"symbol"`
	Quantity   decimal.Decimal `gorm:"type:numeric" json:"quantity"`
	Price      decimal.Decimal `gorm:"type:numeric" json:"price"`
	Total      decimal.Decimal `gorm:"type:numeric" json:"total"`
	Date       time.Time       `json:"date"`
}

// Transaction is the standalone, append-only record of a fill.
// It survives position deletion. Only Status and Notes are mutable,
// through the explicit correction path.
type Transaction struct {
	ID        string            `gorm:"primaryKey" json:"id"`
	UserID    string            `gorm:"index:idx_txn_user_date;index:idx_txn_user_symbol" json:"user_id"`
	Symbol    string            `gorm:"index:idx_txn_user_symbol" json:"symbol"`
	Kind      TradeKind         `json:"kind"`
	Quantity  decimal.Decimal   `gorm:"type:numeric" json:"quantity"`
	Price     decimal.Decimal   `gorm:"type:numeric" json:"price"`
	Total     decimal.Decimal   `gorm:"type:numeric" json:"total"`
	Date      time.Time         `gorm:"index:idx_txn_user_date" json:"date"`
	Status    TransactionStatus `json:"status"`
	Notes     string            `json:"notes,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Account holds a user's simulated cash balance.
// Mutated only by the ledger, in lockstep with a fill.
type Account struct {
	UserID    string          `gorm:"primaryKey" json:"user_id"`
	Balance   decimal.Decimal `gorm:"type:numeric" json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WatchlistEntry is one symbol on a user's watchlist
type WatchlistEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"uniqueIndex:idx_watch_user_symbol" json:"user_id"`
	Symbol    string    `gorm:"uniqueIndex:idx_watch_user_symbol" json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
}

// ApplyBuy accumulates shares and recomputes the volume-weighted average
// cost: (priorShares*priorAvg + qty*price) / (priorShares + qty).
func (p *Position) ApplyBuy(shares, price decimal.Decimal) {
	priorCost := p.Shares.Mul(p.AvgCost)
	newShares := p.Shares.Add(shares)
	p.AvgCost = priorCost.Add(shares.Mul(price)).Div(newShares)
	p.Shares = newShares
}

// ApplySell decrements shares. Average cost never changes on a sell.
func (p *Position) ApplySell(shares decimal.Decimal) {
	p.Shares = p.Shares.Sub(shares)
}

// TotalCost returns shares * average cost
func (p *Position) TotalCost() decimal.Decimal {
	return p.Shares.Mul(p.AvgCost)
}

// MarketValue returns shares * current price
func (p *Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return p.Shares.Mul(price)
}

// GainLoss returns market value minus total cost at the given price
func (p *Position) GainLoss(price decimal.Decimal) decimal.Decimal {
	return p.MarketValue(price).Sub(p.TotalCost())
}

// GainLossPct returns the gain/loss as a percentage of total cost.
// Returns zero when total cost is zero to avoid division by zero.
func (p *Position) GainLossPct(price decimal.Decimal) decimal.Decimal {
	cost := p.TotalCost()
	if cost.IsZero() {
		return decimal.Zero
	}
	return p.GainLoss(price).Div(cost).Mul(decimal.NewFromInt(100))
}

// PortfolioSummary aggregates a user's positions
type PortfolioSummary struct {
	TotalPositions int             `json:"total_positions"`
	TotalValue     decimal.Decimal `json:"total_value"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	TotalGainLoss  decimal.Decimal `json:"total_gain_loss"`
	GainLossPct    decimal.Decimal `json:"gain_loss_percentage"`
}
