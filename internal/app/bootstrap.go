package app

import (
	"log/slog"
	"time"

	"paper_trade/internal/execution"
	"paper_trade/internal/infra"
	"paper_trade/internal/infra/storage"
	"paper_trade/internal/service"
	"paper_trade/internal/web"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Quotes  *infra.FinnhubClient
	Feed    *service.MarketFeed
	Ledger  *execution.Ledger
	Server  *web.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("database initialized", slog.String("path", cfg.Storage.Path))

	// 4. Quote source adapter
	b.Quotes = infra.NewFinnhubClient(cfg.Finnhub.RestURL, cfg.Finnhub.Token)

	// 5. Market data multiplexer over the upstream trade stream
	dialer := infra.NewFinnhubStream(cfg.Finnhub.WSURL, cfg.Finnhub.Token)
	b.Feed = service.NewMarketFeed(
		dialer,
		cfg.Feed.MaxReconnectAttempts,
		time.Duration(cfg.Feed.BaseDelaySec)*time.Second,
		infra.GlobalMetrics,
	)

	// 6. Position ledger under the keyed lock coordinator
	logos, err := infra.NewLogoDownloader("assets")
	if err != nil {
		slog.Warn("logo cache unavailable", slog.Any("error", err))
		logos = nil
	}
	locks := execution.NewKeyLock(time.Duration(cfg.Trading.LockTimeoutSec) * time.Second)
	b.Ledger = execution.NewLedger(
		store,
		b.Quotes,
		locks,
		logos,
		cfg.Trading.OpeningBalance,
		time.Duration(cfg.Trading.QuoteTimeoutSec)*time.Second,
		infra.GlobalMetrics,
	)

	// 7. HTTP transport
	b.Server = web.NewServer(b.Ledger, b.Feed, b.Quotes, store, logos, infra.GlobalMetrics)

	return nil
}
