package questrade

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bobmcallan/tally/internal/models"
)

// FetchAccounts lists the brokerage accounts visible to the login.
func (c *Client) FetchAccounts(ctx context.Context) ([]models.BrokerAccount, error) {
	var resp struct {
		Accounts []models.BrokerAccount `json:"accounts"`
	}
	if err := c.get(ctx, "v1/accounts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// FetchBalances retrieves per-currency and combined balances for an account.
func (c *Client) FetchBalances(ctx context.Context, accountNumber string) (*models.Balances, error) {
	var resp models.Balances
	path := fmt.Sprintf("v1/accounts/%s/balances", accountNumber)
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchPositions retrieves open positions for an account. The broker omits
// position currency; it is inferred from the listing exchange suffix.
func (c *Client) FetchPositions(ctx context.Context, accountNumber string) ([]models.Position, error) {
	var resp struct {
		Positions []models.Position `json:"positions"`
	}
	path := fmt.Sprintf("v1/accounts/%s/positions", accountNumber)
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Positions {
		if resp.Positions[i].Currency == "" {
			resp.Positions[i].Currency = SymbolCurrency(resp.Positions[i].Symbol)
		}
	}
	return resp.Positions, nil
}

// FetchOrders retrieves orders for an account in a time window.
func (c *Client) FetchOrders(ctx context.Context, accountNumber string, start, end time.Time) ([]models.Order, error) {
	params := url.Values{}
	params.Set("startTime", start.Format(time.RFC3339))
	params.Set("endTime", end.Format(time.RFC3339))

	var resp struct {
		Orders []models.Order `json:"orders"`
	}
	path := fmt.Sprintf("v1/accounts/%s/orders", accountNumber)
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// activityRecord is the broker's raw activity shape.
type activityRecord struct {
	TradeDate       string  `json:"tradeDate"`
	TransactionDate string  `json:"transactionDate"`
	SettlementDate  string  `json:"settlementDate"`
	Action          string  `json:"action"`
	Symbol          string  `json:"symbol"`
	Description     string  `json:"description"`
	Currency        string  `json:"currency"`
	Quantity        float64 `json:"quantity"`
	Price           float64 `json:"price"`
	GrossAmount     float64 `json:"grossAmount"`
	NetAmount       float64 `json:"netAmount"`
	Type            string  `json:"type"`
}

// FetchActivities retrieves raw activities for an account in a window of at
// most ActivityWindowDays days. Wider windows return WindowTooWideError —
// the activity crawler owns slicing.
func (c *Client) FetchActivities(ctx context.Context, accountNumber string, start, end time.Time) ([]models.Activity, error) {
	days := int(end.Sub(start).Hours()/24) + 1
	if days > ActivityWindowDays {
		return nil, &models.WindowTooWideError{RequestedDays: days, MaxDays: ActivityWindowDays}
	}

	params := url.Values{}
	params.Set("startTime", start.Format(time.RFC3339))
	params.Set("endTime", end.Format(time.RFC3339))

	var resp struct {
		Activities []activityRecord `json:"activities"`
	}
	path := fmt.Sprintf("v1/accounts/%s/activities", accountNumber)
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, err
	}

	out := make([]models.Activity, 0, len(resp.Activities))
	for _, rec := range resp.Activities {
		out = append(out, models.Activity{
			TradeDate:       parseBrokerTime(rec.TradeDate),
			TransactionDate: parseBrokerTime(rec.TransactionDate),
			SettlementDate:  parseBrokerTime(rec.SettlementDate),
			Type:            normalizeActivityType(rec.Type),
			Action:          rec.Action,
			Currency:        rec.Currency,
			Symbol:          rec.Symbol,
			Description:     rec.Description,
			Quantity:        rec.Quantity,
			Price:           rec.Price,
			GrossAmount:     rec.GrossAmount,
			NetAmount:       rec.NetAmount,
		})
	}
	return out, nil
}

// FetchSymbolCandles retrieves OHLC bars for a symbol, resolving the broker
// symbolId through the search endpoint on first use.
func (c *Client) FetchSymbolCandles(ctx context.Context, symbol string, interval string, start, end time.Time) ([]models.Candle, error) {
	id, err := c.resolveSymbolID(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if interval == "" {
		interval = "OneDay"
	}
	params := url.Values{}
	params.Set("startTime", start.Format(time.RFC3339))
	params.Set("endTime", end.Format(time.RFC3339))
	params.Set("interval", interval)

	var resp struct {
		Candles []struct {
			Start  string  `json:"start"`
			End    string  `json:"end"`
			Open   float64 `json:"open"`
			High   float64 `json:"high"`
			Low    float64 `json:"low"`
			Close  float64 `json:"close"`
			Volume int64   `json:"volume"`
		} `json:"candles"`
	}
	path := fmt.Sprintf("v1/markets/candles/%d", id)
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, err
	}

	out := make([]models.Candle, 0, len(resp.Candles))
	for _, cd := range resp.Candles {
		out = append(out, models.Candle{
			Start:  parseBrokerTime(cd.Start),
			End:    parseBrokerTime(cd.End),
			Open:   cd.Open,
			High:   cd.High,
			Low:    cd.Low,
			Close:  cd.Close,
			Volume: cd.Volume,
		})
	}
	return out, nil
}

// resolveSymbolID looks up (and memoizes) the broker's numeric symbol id.
func (c *Client) resolveSymbolID(ctx context.Context, symbol string) (int64, error) {
	c.mu.Lock()
	if id, ok := c.symbolIDs[symbol]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	params := url.Values{}
	params.Set("prefix", symbol)

	var resp struct {
		Symbols []struct {
			Symbol   string `json:"symbol"`
			SymbolID int64  `json:"symbolId"`
		} `json:"symbols"`
	}
	if err := c.get(ctx, "v1/symbols/search", params, &resp); err != nil {
		return 0, err
	}

	for _, s := range resp.Symbols {
		if strings.EqualFold(s.Symbol, symbol) {
			c.mu.Lock()
			c.symbolIDs[symbol] = s.SymbolID
			c.mu.Unlock()
			return s.SymbolID, nil
		}
	}
	return 0, &models.BrokerError{Kind: models.ErrKindPermanent, Payload: fmt.Sprintf("symbol '%s' not found", symbol)}
}

// parseBrokerTime parses the broker's RFC3339 timestamps, tolerating the
// date-only form that appears on some older activity records.
func parseBrokerTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}

// normalizeActivityType maps the broker's type strings onto the tagged set.
func normalizeActivityType(s string) models.ActivityType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deposits":
		return models.ActivityDeposits
	case "withdrawals":
		return models.ActivityWithdrawals
	case "transfers":
		return models.ActivityTransfers
	case "trades":
		return models.ActivityTrades
	case "dividends":
		return models.ActivityDividends
	case "interest":
		return models.ActivityInterest
	case "fx conversion":
		return models.ActivityFX
	default:
		return models.ActivityOther
	}
}

// SymbolCurrency infers the trading currency from a symbol's exchange suffix.
// TSX and TSX-V listings trade in CAD; everything else is treated as USD.
func SymbolCurrency(symbol string) string {
	if strings.HasSuffix(symbol, ".TO") || strings.HasSuffix(symbol, ".VN") || strings.HasSuffix(symbol, ".CN") {
		return "CAD"
	}
	return "USD"
}
