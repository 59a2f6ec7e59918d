package models

import "time"

// Summary is the composite document returned by /api/summary: one consistent
// snapshot of the selected accounts with merged positions and balances plus
// the per-account analytics.
type Summary struct {
	Accounts                   []Account                    `json:"accounts"`
	AccountGroups              []AccountGroup               `json:"accountGroups"`
	GroupRelations             map[string]string            `json:"groupRelations"` // group id -> parent id
	FilteredAccountIds         []string                     `json:"filteredAccountIds"`
	Positions                  []Position                   `json:"positions"`
	Orders                     []Order                      `json:"orders"`
	Balances                   *Balances                    `json:"balances"`
	AccountBalances            map[string]*Balances         `json:"accountBalances"`
	AccountFunding             map[string]FundingSummary    `json:"accountFunding"`
	AccountDividends           map[string][]Activity        `json:"accountDividends"`
	InvestmentModelEvaluations map[string][]ModelEvaluation `json:"investmentModelEvaluations"`
	AccountTotalPnlSeries      map[string]TotalPnlSeries    `json:"accountTotalPnlSeries"`
	UsdToCadRate               float64                      `json:"usdToCadRate"`
	AsOf                       time.Time                    `json:"asOf"`
}

// TemperatureReport is the response of the benchmark temperature endpoint.
type TemperatureReport struct {
	Series     []TemperaturePoint `json:"series"`
	Latest     float64            `json:"latest"`
	Allocation map[string]float64 `json:"allocation"`
	Updated    time.Time          `json:"updated"`
	RangeStart string             `json:"rangeStart"`
	RangeEnd   string             `json:"rangeEnd"`
}

// BenchmarkReturn is one benchmark's annualized price return over a window.
type BenchmarkReturn struct {
	Symbol         string   `json:"symbol"`
	StartDate      string   `json:"startDate"`
	EndDate        string   `json:"endDate"`
	AnnualizedRate *float64 `json:"annualizedRate"`
	TotalReturn    *float64 `json:"totalReturn"`
	Error          string   `json:"error,omitempty"`
}
