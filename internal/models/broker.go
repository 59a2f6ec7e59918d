package models

import "time"

// BrokerAccount is an account as listed by the broker's /v1/accounts.
type BrokerAccount struct {
	Number      string `json:"number"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	IsPrimary   bool   `json:"isPrimary"`
	ClientAccountType string `json:"clientAccountType,omitempty"`
}

// CurrencyBalance is a single-currency balance slice.
type CurrencyBalance struct {
	Currency          string  `json:"currency"`
	Cash              float64 `json:"cash"`
	MarketValue       float64 `json:"marketValue"`
	TotalEquity       float64 `json:"totalEquity"`
	BuyingPower       float64 `json:"buyingPower,omitempty"`
	MaintenanceExcess float64 `json:"maintenanceExcess,omitempty"`
}

// Balances holds per-currency and combined balances for one account.
// CombinedBalances carries the broker's CAD-combined view.
type Balances struct {
	PerCurrencyBalances []CurrencyBalance `json:"perCurrencyBalances"`
	CombinedBalances    []CurrencyBalance `json:"combinedBalances"`
}

// CombinedCadEquity returns the combined total equity in CAD, or 0 when the
// broker did not return a combined CAD slice.
func (b *Balances) CombinedCadEquity() float64 {
	for _, cb := range b.CombinedBalances {
		if cb.Currency == "CAD" {
			return cb.TotalEquity
		}
	}
	return 0
}

// Cash returns the per-currency cash balance for the given currency.
func (b *Balances) Cash(currency string) float64 {
	for _, cb := range b.PerCurrencyBalances {
		if cb.Currency == currency {
			return cb.Cash
		}
	}
	return 0
}

// Position is an open position in a brokerage account.
type Position struct {
	Symbol             string  `json:"symbol"`
	SymbolID           int64   `json:"symbolId,omitempty"`
	OpenQuantity       float64 `json:"openQuantity"`
	CurrentMarketValue float64 `json:"currentMarketValue"`
	CurrentPrice       float64 `json:"currentPrice"`
	AverageEntryPrice  float64 `json:"averageEntryPrice,omitempty"`
	TotalCost          float64 `json:"totalCost,omitempty"`
	Currency           string  `json:"currency"`
	OpenPnl            float64 `json:"openPnl,omitempty"`
}

// Investable reports whether the position can participate in planning:
// positive market value in CAD or USD and a positive live price.
func (p *Position) Investable() bool {
	if p.Currency != "CAD" && p.Currency != "USD" {
		return false
	}
	return p.CurrentMarketValue > 0 && p.CurrentPrice > 0
}

// Order is an open or recent order on a brokerage account.
type Order struct {
	ID             int64     `json:"id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	State          string    `json:"state"`
	TotalQuantity  float64   `json:"totalQuantity"`
	FilledQuantity float64   `json:"filledQuantity"`
	LimitPrice     float64   `json:"limitPrice,omitempty"`
	CreationTime   time.Time `json:"creationTime"`
}

// Candle is a single OHLC bar from the broker's market endpoint.
type Candle struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// AccessCredentials pairs a short-lived access token with its API host.
type AccessCredentials struct {
	AccessToken       string    `json:"accessToken"`
	APIServer         string    `json:"apiServer"`
	AccessTokenExpiry time.Time `json:"accessTokenExpiry"`
}
