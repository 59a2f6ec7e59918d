package models

import (
	"strings"
	"time"
)

// Login is an authorization principal holding a single live refresh token.
type Login struct {
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	Email        string    `json:"email,omitempty"`
	RefreshToken string    `json:"refreshToken"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SymbolSettings carries per-symbol user configuration for an account.
type SymbolSettings struct {
	TargetProportion float64 `json:"targetProportion,omitempty"`
	Notes            string  `json:"notes,omitempty"`
}

// Account is a brokerage account owned by a login, merged with user
// configuration from the accounts file.
type Account struct {
	LoginID              string                    `json:"loginId"`
	Number               string                    `json:"number"`
	Type                 string                    `json:"type,omitempty"`
	Beneficiary          string                    `json:"beneficiary,omitempty"`
	DisplayName          string                    `json:"displayName,omitempty"`
	AccountGroup         string                    `json:"accountGroup,omitempty"`
	CagrStartDate        string                    `json:"cagrStartDate,omitempty"` // YYYY-MM-DD
	NetDepositAdjustment float64                   `json:"netDepositAdjustment,omitempty"`
	IgnoreSittingCash    float64                   `json:"ignoreSittingCash,omitempty"`
	RebalancePeriod      int                       `json:"rebalancePeriod,omitempty"` // days
	InvestmentModels     []InvestmentModelConfig   `json:"investmentModels,omitempty"`
	Symbols              map[string]SymbolSettings `json:"symbols,omitempty"`
	PlanningContext      string                    `json:"planningContext,omitempty"`
}

// ID returns the canonical account identifier, "loginId:number".
func (a *Account) ID() string {
	if a.LoginID == "" {
		return a.Number
	}
	return a.LoginID + ":" + a.Number
}

// MatchesID reports whether the given selector identifies this account.
// Selectors may be the full "loginId:number" form, the bare number, or any
// id whose suffix after the last ':' equals the account number.
func (a *Account) MatchesID(selector string) bool {
	if selector == a.ID() || selector == a.Number {
		return true
	}
	if idx := strings.LastIndex(selector, ":"); idx >= 0 {
		return selector[idx+1:] == a.Number
	}
	return false
}

// AccountGroup is a named collection of accounts used for aggregation.
// Groups form a tree via Parent; cycles are broken at load time.
type AccountGroup struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Parent   string   `json:"parent,omitempty"`
	Accounts []string `json:"accounts,omitempty"` // account IDs
}
