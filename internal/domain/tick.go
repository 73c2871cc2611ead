package domain

import "github.com/shopspring/decimal"

// TradeTick is one real-time trade price update from the upstream feed
type TradeTick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
}

// StockQuote is a point-in-time quote from the quote source
type StockQuote struct {
	Symbol    string          `json:"symbol"`
	Current   decimal.Decimal `json:"current"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Open      decimal.Decimal `json:"open"`
	PrevClose decimal.Decimal `json:"prev_close"`
	Timestamp int64           `json:"timestamp"`
}

// CompanyProfile is company metadata from the quote source
type CompanyProfile struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange,omitempty"`
	Currency string `json:"currency,omitempty"`
	LogoURL  string `json:"logo_url,omitempty"`
}

// SymbolMatch is one result from a symbol search
type SymbolMatch struct {
	Symbol        string `json:"symbol"`
	DisplaySymbol string `json:"display_symbol"`
	Description   string `json:"description"`
	Type          string `json:"type"`
}
