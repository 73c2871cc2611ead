package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"paper_trade/internal/domain"
	"paper_trade/internal/infra"

	"github.com/shopspring/decimal"
)

// FeedState is the upstream connection state
type FeedState int

const (
	StateDisconnected FeedState = iota
	StateConnecting
	StateConnected
)

func (s FeedState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// subscribeMessage is the upstream subscribe/unsubscribe frame
type subscribeMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// tradeFrame is the upstream trade tick frame
type tradeFrame struct {
	Type string `json:"type"`
	Data []struct {
		Symbol    string  `json:"s"`
		Price     float64 `json:"p"`
		Timestamp int64   `json:"t"`
	} `json:"data"`
}

// MarketFeed multiplexes per-symbol subscriptions from many listeners onto
// one upstream streaming connection. The registry is keyed by symbol and
// decoupled from connection identity: it survives reconnects unchanged, and
// resubscription after a reconnect is driven purely from registry contents.
type MarketFeed struct {
	dialer  domain.FeedDialer
	metrics *infra.Metrics

	maxAttempts int
	baseDelay   time.Duration

	mu       sync.RWMutex
	registry map[string]map[domain.TickListener]struct{}
	order    []string // symbols in first-subscribe order, drives resubscription
	state    FeedState
	conn     domain.FeedConn
	attempts int
	degraded bool
	looping  bool // a connectLoop goroutine is alive; at most one ever runs
	ctx      context.Context
	wg       sync.WaitGroup
}

// NewMarketFeed creates a new multiplexer over the given upstream dialer
func NewMarketFeed(dialer domain.FeedDialer, maxAttempts int, baseDelay time.Duration, metrics *infra.Metrics) *MarketFeed {
	return &MarketFeed{
		dialer:      dialer,
		metrics:     metrics,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		registry:    make(map[string]map[domain.TickListener]struct{}),
		state:       StateDisconnected,
		ctx:         context.Background(),
	}
}

// Start binds the feed to a lifecycle context. The upstream connection is
// established lazily on the first subscribe.
func (f *MarketFeed) Start(ctx context.Context) {
	f.mu.Lock()
	f.ctx = ctx
	f.mu.Unlock()
}

// Subscribe registers a listener for a symbol. Re-subscribing the same
// listener is a no-op. The first listener for a symbol triggers an upstream
// subscribe (or connection establishment if not yet connected — the registry
// itself queues the intent until the connection is up).
//
// Returns ErrUpstreamUnavailable when the reconnect ceiling has been
// exhausted; the listener is still registered and will receive ticks once
// ForceReconnect restores the connection.
func (f *MarketFeed) Subscribe(symbol string, listener domain.TickListener) error {
	symbol = normalizeSymbol(symbol)

	f.mu.Lock()
	set, exists := f.registry[symbol]
	if exists {
		if _, dup := set[listener]; dup {
			f.mu.Unlock()
			return nil
		}
	} else {
		set = make(map[domain.TickListener]struct{})
		f.registry[symbol] = set
		f.order = append(f.order, symbol)
	}
	set[listener] = struct{}{}
	f.metrics.SetActiveSubscriptions(int32(len(f.registry)))

	first := !exists
	conn := f.conn
	connected := f.state == StateConnected
	degraded := f.degraded
	if f.state == StateDisconnected && !degraded {
		f.startConnectLocked()
	}
	f.mu.Unlock()

	if first && connected && conn != nil {
		// A send failure here is not surfaced: the registry already holds
		// the intent and the next reconnect resubscribes everything.
		if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", Symbol: symbol}); err != nil {
			slog.Warn("upstream subscribe send failed",
				slog.String("symbol", symbol),
				slog.Any("error", err),
			)
		}
	}

	if degraded {
		return domain.ErrUpstreamUnavailable
	}
	return nil
}

// Unsubscribe removes a listener from a symbol. Removing the last listener
// deletes the registry entry and sends an upstream unsubscribe. Unknown
// symbols or listeners are a no-op.
func (f *MarketFeed) Unsubscribe(symbol string, listener domain.TickListener) {
	symbol = normalizeSymbol(symbol)

	f.mu.Lock()
	set, exists := f.registry[symbol]
	if !exists {
		f.mu.Unlock()
		return
	}
	delete(set, listener)

	last := len(set) == 0
	if last {
		delete(f.registry, symbol)
		for i, s := range f.order {
			if s == symbol {
				f.order = append(f.order[:i], f.order[i+1:]...)
				break
			}
		}
	}
	f.metrics.SetActiveSubscriptions(int32(len(f.registry)))
	conn := f.conn
	connected := f.state == StateConnected
	f.mu.Unlock()

	if last && connected && conn != nil {
		if err := conn.WriteJSON(subscribeMessage{Type: "unsubscribe", Symbol: symbol}); err != nil {
			slog.Warn("upstream unsubscribe send failed",
				slog.String("symbol", symbol),
				slog.Any("error", err),
			)
		}
	}
}

// Dispatch parses an upstream frame and fans a valid trade tick out to every
// listener currently registered for its symbol. Unparseable or irrelevant
// frames are dropped, not raised. A panicking listener never blocks or drops
// delivery to the others.
func (f *MarketFeed) Dispatch(raw []byte) {
	var frame tradeFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		f.metrics.RecordFrameDropped()
		slog.Debug("dropping unparseable feed frame", slog.Any("error", err))
		return
	}
	if frame.Type != "trade" {
		f.metrics.RecordFrameDropped()
		return
	}

	for _, d := range frame.Data {
		tick := domain.TradeTick{
			Symbol:    d.Symbol,
			Price:     decimal.NewFromFloat(d.Price),
			Timestamp: d.Timestamp,
		}

		f.mu.RLock()
		set := f.registry[tick.Symbol]
		listeners := make([]domain.TickListener, 0, len(set))
		for l := range set {
			listeners = append(listeners, l)
		}
		f.mu.RUnlock()

		for _, l := range listeners {
			f.deliver(l, tick)
		}
		f.metrics.RecordTickDispatched()
	}
}

func (f *MarketFeed) deliver(l domain.TickListener, tick domain.TradeTick) {
	defer func() {
		if r := recover(); r != nil {
			f.metrics.RecordError()
			slog.Error("tick listener panic recovered",
				slog.String("symbol", tick.Symbol),
				slog.Any("panic", r),
			)
		}
	}()
	l.OnTick(tick)
}

// State returns the current connection state
func (f *MarketFeed) State() FeedState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Degraded reports whether the reconnect ceiling has been exhausted
func (f *MarketFeed) Degraded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.degraded
}

// Symbols returns the registered symbols in first-subscribe order
func (f *MarketFeed) Symbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.order...)
}

// ForceReconnect resets the attempt counter and redials. This is the only
// way out of the degraded state once the reconnect ceiling is reached.
func (f *MarketFeed) ForceReconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.degraded = false
	f.attempts = 0
	if f.state == StateDisconnected {
		f.startConnectLocked()
	}
}

// Shutdown closes the upstream connection and waits for the connection
// goroutines to stop. The lifecycle context must already be cancelled.
func (f *MarketFeed) Shutdown() {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	f.wg.Wait()
}

// startConnectLocked transitions DISCONNECTED -> CONNECTING and launches the
// connection loop, unless one is already running. Caller must hold f.mu.
func (f *MarketFeed) startConnectLocked() {
	if f.looping {
		return
	}
	f.looping = true
	f.state = StateConnecting
	f.wg.Add(1)
	go f.connectLoop()
}

// connectLoop dials, resubscribes and reads until the connection drops, then
// schedules a reconnect with a linearly growing delay (attempt x baseDelay)
// up to the attempt ceiling. After the ceiling the feed stays DISCONNECTED
// until ForceReconnect.
func (f *MarketFeed) connectLoop() {
	defer f.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("market feed panic recovered", slog.Any("panic", r))
			f.mu.Lock()
			f.state = StateDisconnected
			f.looping = false
			f.mu.Unlock()
		}
	}()

	initial := true
	for {
		f.mu.Lock()
		ctx := f.ctx
		if ctx.Err() != nil {
			f.state = StateDisconnected
			f.looping = false
			f.mu.Unlock()
			return
		}
		if f.attempts >= f.maxAttempts {
			f.degraded = true
			f.state = StateDisconnected
			f.looping = false
			f.mu.Unlock()
			slog.Error("market feed reconnect ceiling reached",
				slog.Int("attempts", f.maxAttempts),
			)
			return
		}
		f.attempts++
		attempt := f.attempts
		f.state = StateConnecting
		f.mu.Unlock()

		if !initial || attempt > 1 {
			f.metrics.RecordReconnect()
			delay := time.Duration(attempt) * f.baseDelay
			slog.Info("market feed reconnecting",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				f.mu.Lock()
				f.state = StateDisconnected
				f.looping = false
				f.mu.Unlock()
				return
			case <-time.After(delay):
			}
		}

		conn, err := f.dialer.Dial(ctx)
		if err != nil {
			slog.Warn("market feed connection failed",
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			continue
		}

		f.mu.Lock()
		f.conn = conn
		f.state = StateConnected
		f.attempts = 0
		symbols := append([]string(nil), f.order...)
		f.mu.Unlock()
		f.metrics.SetFeedConnected(true)
		initial = false

		// The upstream feed has no subscription memory across connections:
		// resubscribe every registered symbol, in registration order.
		for _, sym := range symbols {
			if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", Symbol: sym}); err != nil {
				slog.Warn("resubscribe send failed",
					slog.String("symbol", sym),
					slog.Any("error", err),
				)
				break
			}
		}
		slog.Info("market feed connected", slog.Int("symbols", len(symbols)))

		f.readLoop(ctx, conn)

		f.mu.Lock()
		if f.conn == conn {
			f.conn = nil
		}
		if ctx.Err() != nil {
			f.state = StateDisconnected
			f.looping = false
			f.mu.Unlock()
			f.metrics.SetFeedConnected(false)
			return
		}
		// Stay CONNECTING between iterations: a DISCONNECTED window here
		// would let a concurrent Subscribe spawn a second loop.
		f.state = StateConnecting
		f.mu.Unlock()
		f.metrics.SetFeedConnected(false)
	}
}

func (f *MarketFeed) readLoop(ctx context.Context, conn domain.FeedConn) {
	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		default:
		}

		message, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("market feed read error", slog.Any("error", err))
			conn.Close()
			return
		}

		f.Dispatch(message)
	}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
