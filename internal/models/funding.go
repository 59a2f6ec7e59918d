package models

// NetDeposits holds cumulative signed funding flows in CAD.
type NetDeposits struct {
	AllTimeCad  float64 `json:"allTimeCad"`
	CombinedCad float64 `json:"combinedCad"` // since display start
}

// TotalPnl holds total profit-and-loss (equity minus net deposits) in CAD.
type TotalPnl struct {
	AllTimeCad  float64 `json:"allTimeCad"`
	CombinedCad float64 `json:"combinedCad"` // since display start
}

// AnnualizedReturn is an XIRR result over a window. Rate is nil when the
// solver found no sign change in the bracket.
type AnnualizedReturn struct {
	Rate       *float64 `json:"rate"`
	AsOf       string   `json:"asOf"`
	StartDate  string   `json:"startDate"`
	Incomplete bool     `json:"incomplete"`
}

// ReturnPeriod is one entry of the trailing return breakdown.
type ReturnPeriod struct {
	Period         string   `json:"period"` // 1m, 6m, 12m, 5y, 10y
	Months         int      `json:"months"`
	StartDate      string   `json:"startDate"`
	TotalReturnCad float64  `json:"totalReturnCad"`
	AnnualizedRate *float64 `json:"annualizedRate"`
	Incomplete     bool     `json:"incomplete"`
}

// FundingSummary is the per-account funding and P&L rollup.
type FundingSummary struct {
	NetDeposits             NetDeposits      `json:"netDeposits"`
	TotalPnl                TotalPnl         `json:"totalPnl"`
	TotalEquityCad          float64          `json:"totalEquityCad"`
	AnnualizedReturn        AnnualizedReturn `json:"annualizedReturn"`
	AnnualizedReturnAllTime AnnualizedReturn `json:"annualizedReturnAllTime"`
	ReturnBreakdown         []ReturnPeriod   `json:"returnBreakdown"`
	CagrStartDate           string           `json:"cagrStartDate,omitempty"`
	ConversionIncomplete    bool             `json:"conversionIncomplete,omitempty"`
	Error                   string           `json:"error,omitempty"`
}

// TotalPnlPoint is one day of the total-P&L time series.
type TotalPnlPoint struct {
	Date                     string  `json:"date"` // YYYY-MM-DD
	CumulativeNetDepositsCad float64 `json:"cumulativeNetDepositsCad"`
	EquityCad                float64 `json:"equityCad"`
	TotalPnlCad              float64 `json:"totalPnlCad"`
}

// TotalPnlSeries is the ordered daily total-P&L series for an account.
type TotalPnlSeries struct {
	Points              []TotalPnlPoint `json:"points"`
	Summary             FundingSummary  `json:"summary"`
	PeriodStartDate     string          `json:"periodStartDate"`
	PeriodEndDate       string          `json:"periodEndDate"`
	Issues              []string        `json:"issues"`
	MissingPriceSymbols []string        `json:"missingPriceSymbols"`
}
