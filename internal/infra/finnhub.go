package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"paper_trade/internal/domain"

	"github.com/shopspring/decimal"
)

// finnhubQuoteResponse is the /quote payload.
// Reference: https://finnhub.io/docs/api/quote
type finnhubQuoteResponse struct {
	Current       float64 `json:"c"`  // Current price
	Change        float64 `json:"d"`  // Change
	PercentChange float64 `json:"dp"` // Percent change
	High          float64 `json:"h"`  // High price of the day
	Low           float64 `json:"l"`  // Low price of the day
	Open          float64 `json:"o"`  // Open price of the day
	PrevClose     float64 `json:"pc"` // Previous close price
	Timestamp     int64   `json:"t"`
}

// finnhubProfileResponse is the /stock/profile2 payload
type finnhubProfileResponse struct {
	Name     string `json:"name"`
	Ticker   string `json:"ticker"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
	Logo     string `json:"logo"`
}

// finnhubSearchResponse is the /search payload
type finnhubSearchResponse struct {
	Count  int `json:"count"`
	Result []struct {
		Description   string `json:"description"`
		DisplaySymbol string `json:"displaySymbol"`
		Symbol        string `json:"symbol"`
		Type          string `json:"type"`
	} `json:"result"`
}

// FinnhubClient is the quote source adapter over the Finnhub REST API.
// Every failure maps to domain.ErrQuoteUnavailable so callers treat it
// as recoverable.
type FinnhubClient struct {
	restURL    string
	token      string
	httpClient *http.Client
}

// NewFinnhubClient creates a new Finnhub REST client
func NewFinnhubClient(restURL, token string) *FinnhubClient {
	return &FinnhubClient{
		restURL: restURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Quote returns the current market price for a symbol
func (c *FinnhubClient) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q, err := c.FullQuote(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Current, nil
}

// FullQuote returns the full quote payload for a symbol
func (c *FinnhubClient) FullQuote(ctx context.Context, symbol string) (*domain.StockQuote, error) {
	var resp finnhubQuoteResponse
	if err := c.get(ctx, "/quote", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return nil, domain.NewQuoteError("quote", err)
	}
	if resp.Current == 0 && resp.Timestamp == 0 {
		// Finnhub returns all zeros for unknown symbols
		return nil, domain.NewQuoteError("quote", fmt.Errorf("no quote data for %s", symbol))
	}

	return &domain.StockQuote{
		Symbol:    symbol,
		Current:   decimal.NewFromFloat(resp.Current),
		High:      decimal.NewFromFloat(resp.High),
		Low:       decimal.NewFromFloat(resp.Low),
		Open:      decimal.NewFromFloat(resp.Open),
		PrevClose: decimal.NewFromFloat(resp.PrevClose),
		Timestamp: resp.Timestamp,
	}, nil
}

// Profile returns company metadata for a symbol
func (c *FinnhubClient) Profile(ctx context.Context, symbol string) (*domain.CompanyProfile, error) {
	var resp finnhubProfileResponse
	if err := c.get(ctx, "/stock/profile2", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return nil, domain.NewQuoteError("profile", err)
	}
	if resp.Name == "" {
		return nil, domain.NewQuoteError("profile", fmt.Errorf("no profile data for %s", symbol))
	}

	return &domain.CompanyProfile{
		Symbol:   symbol,
		Name:     resp.Name,
		Exchange: resp.Exchange,
		Currency: resp.Currency,
		LogoURL:  resp.Logo,
	}, nil
}

// Search looks up symbols matching a free-text query
func (c *FinnhubClient) Search(ctx context.Context, query string) ([]domain.SymbolMatch, error) {
	var resp finnhubSearchResponse
	if err := c.get(ctx, "/search", url.Values{"q": {query}}, &resp); err != nil {
		return nil, domain.NewQuoteError("search", err)
	}

	matches := make([]domain.SymbolMatch, 0, len(resp.Result))
	for _, r := range resp.Result {
		matches = append(matches, domain.SymbolMatch{
			Symbol:        r.Symbol,
			DisplaySymbol: r.DisplaySymbol,
			Description:   r.Description,
			Type:          r.Type,
		})
	}
	return matches, nil
}

func (c *FinnhubClient) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("token", c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.restURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	return json.Unmarshal(body, out)
}
