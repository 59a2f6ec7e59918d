// Package models defines the domain types for Tally
package models

import (
	"fmt"
	"time"
)

// ActivityType categorizes a normalized broker transaction.
type ActivityType string

const (
	ActivityDeposits    ActivityType = "Deposits"
	ActivityWithdrawals ActivityType = "Withdrawals"
	ActivityTransfers   ActivityType = "Transfers"
	ActivityTrades      ActivityType = "Trades"
	ActivityDividends   ActivityType = "Dividends"
	ActivityInterest    ActivityType = "Interest"
	ActivityFX          ActivityType = "FX conversion"
	ActivityOther       ActivityType = "Other"
)

// fundingActions lists broker action codes that mark an activity as a
// funding flow regardless of its type. Confirmed against Questrade activity
// documentation; do not admit new strings without checking the upstream docs.
var fundingActions = map[string]bool{
	"CON": true, // contribution
	"WDR": true, // withdrawal
	"TFI": true, // transfer in
	"TFO": true, // transfer out
}

// Activity is a normalized broker transaction.
type Activity struct {
	TradeDate       time.Time    `json:"tradeDate"`
	TransactionDate time.Time    `json:"transactionDate"`
	SettlementDate  time.Time    `json:"settlementDate"`
	Type            ActivityType `json:"type"`
	Action          string       `json:"action"`
	Currency        string       `json:"currency"`
	Symbol          string       `json:"symbol,omitempty"`
	Description     string       `json:"description,omitempty"`
	Quantity        float64      `json:"quantity"`
	Price           float64      `json:"price"`
	GrossAmount     float64      `json:"grossAmount"`
	NetAmount       float64      `json:"netAmount"`
}

// IsFundingFlow reports whether the activity moves money into or out of the
// account (deposits, withdrawals, transfers) as opposed to a P&L event.
// Trades are never funding flows.
func (a *Activity) IsFundingFlow() bool {
	if a.Type == ActivityTrades {
		return false
	}
	switch a.Type {
	case ActivityDeposits, ActivityWithdrawals, ActivityTransfers:
		return true
	}
	return fundingActions[a.Action]
}

// DedupKey is the content address used to de-duplicate activities across
// overlapping crawl windows.
func (a *Activity) DedupKey() string {
	return fmt.Sprintf("%s|%s|%.4f|%s|%s",
		a.TransactionDate.UTC().Format("2006-01-02"),
		a.Action, a.NetAmount, a.Symbol, a.Currency)
}

// EffectiveSettlementDate returns the settlement date, falling back to the
// transaction date and then the trade date when components are missing.
func (a *Activity) EffectiveSettlementDate() time.Time {
	if !a.SettlementDate.IsZero() {
		return a.SettlementDate
	}
	if !a.TransactionDate.IsZero() {
		return a.TransactionDate
	}
	return a.TradeDate
}
