package models

// ConversionType tags the direction of a Norbert's-gambit currency conversion.
type ConversionType string

const (
	ConversionCADToUSD ConversionType = "CAD→USD"
	ConversionUSDToCAD ConversionType = "USD→CAD"
)

// Conversion is a planned CAD↔USD conversion via DLR.TO / DLR.U.TO.
type Conversion struct {
	Type          ConversionType `json:"type"`
	Symbol        string         `json:"symbol"` // instrument bought to journal
	Shares        int            `json:"shares"`
	SpendAmount   float64        `json:"spendAmount"`
	ReceiveAmount float64        `json:"receiveAmount"`
}

// Purchase is one planned buy in an invest-evenly plan.
type Purchase struct {
	Symbol        string  `json:"symbol"`
	Currency      string  `json:"currency"`
	Amount        float64 `json:"amount"`
	Shares        float64 `json:"shares"`
	Price         float64 `json:"price"`
	Note          string  `json:"note,omitempty"`
	TargetPercent float64 `json:"targetPercent,omitempty"`
}

// PlanTotals summarizes the cash requirements of a plan.
type PlanTotals struct {
	CadNeeded    float64 `json:"cadNeeded"`
	UsdNeeded    float64 `json:"usdNeeded"`
	CadRemaining float64 `json:"cadRemaining"`
	UsdRemaining float64 `json:"usdRemaining"`
}

// InvestEvenlyPlan distributes available cash across investable positions.
type InvestEvenlyPlan struct {
	Purchases   []Purchase   `json:"purchases"`
	Conversions []Conversion `json:"conversions"`
	Totals      PlanTotals   `json:"totals"`
	SummaryText string       `json:"summaryText"`
}

// TransactionSide tags a deployment-adjustment trade as a buy or sell.
type TransactionSide string

const (
	SideBuy  TransactionSide = "BUY"
	SideSell TransactionSide = "SELL"
)

// TransactionScope tags which sleeve a deployment trade acts on.
type TransactionScope string

const (
	ScopeDeployed TransactionScope = "DEPLOYED"
	ScopeReserve  TransactionScope = "RESERVE"
)

// DeploymentTransaction is one trade of a deployment-adjustment plan.
type DeploymentTransaction struct {
	Side     TransactionSide  `json:"side"`
	Scope    TransactionScope `json:"scope"`
	Symbol   string           `json:"symbol"`
	Currency string           `json:"currency"`
	Amount   float64          `json:"amount"`
	Shares   float64          `json:"shares"`
	Price    float64          `json:"price"`
}

// DeploymentPlan moves the portfolio toward a target deployed percentage.
type DeploymentPlan struct {
	Transactions []DeploymentTransaction `json:"transactions"`
	Conversions  []Conversion            `json:"conversions"`
	Totals       PlanTotals              `json:"totals"`
	SummaryText  string                  `json:"summaryText"`
}
