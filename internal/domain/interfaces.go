package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// QuoteSource is the boundary to the external quote/profile provider.
// All failures are recoverable (ErrQuoteUnavailable); callers define a
// fallback value at the call site.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (decimal.Decimal, error)
	Profile(ctx context.Context, symbol string) (*CompanyProfile, error)
}

// TickListener receives real-time trade ticks for subscribed symbols.
// Implementations must be comparable (pointer receivers) so the registry
// can treat re-subscription of the same listener as a no-op.
type TickListener interface {
	OnTick(tick TradeTick)
}

// FeedConn is one established upstream streaming connection
type FeedConn interface {
	WriteJSON(v any) error
	ReadMessage() ([]byte, error)
	Close() error
}

// FeedDialer establishes upstream streaming connections. The connection
// object is replaceable without touching the subscriber registry.
type FeedDialer interface {
	Dial(ctx context.Context) (FeedConn, error)
}
