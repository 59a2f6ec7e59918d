// Package interfaces defines service contracts for Tally
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/tally/internal/models"
)

// BrokerClient provides typed access to the upstream brokerage API for one
// login. Implementations apply per-login rate limiting, a single forced
// token refresh on 401, and bounded backoff for transient failures.
type BrokerClient interface {
	// FetchAccounts lists the brokerage accounts visible to the login
	FetchAccounts(ctx context.Context) ([]models.BrokerAccount, error)

	// FetchBalances retrieves per-currency and combined balances
	FetchBalances(ctx context.Context, accountNumber string) (*models.Balances, error)

	// FetchPositions retrieves open positions
	FetchPositions(ctx context.Context, accountNumber string) ([]models.Position, error)

	// FetchOrders retrieves orders in a time window
	FetchOrders(ctx context.Context, accountNumber string, start, end time.Time) ([]models.Order, error)

	// FetchActivities retrieves raw activities in a window of at most 31 days.
	// Wider windows are rejected with WindowTooWideError; callers slice.
	FetchActivities(ctx context.Context, accountNumber string, start, end time.Time) ([]models.Activity, error)

	// FetchSymbolCandles retrieves OHLC bars for a symbol
	FetchSymbolCandles(ctx context.Context, symbol string, interval string, start, end time.Time) ([]models.Candle, error)
}

// BrokerClientFactory hands out a BrokerClient bound to one login.
type BrokerClientFactory interface {
	// ClientFor returns the client for the given login id
	ClientFor(loginID string) (BrokerClient, error)
}

// NewsClient generates portfolio news summaries via an external LLM.
type NewsClient interface {
	// Summarize generates a news summary for the given symbols
	Summarize(ctx context.Context, symbols []string) (string, error)
}
