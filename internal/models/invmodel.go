package models

// ModelAction is the outcome of an investment-model evaluation.
type ModelAction string

const (
	ActionHold      ModelAction = "hold"
	ActionRebalance ModelAction = "rebalance"
	ActionError     ModelAction = "error"
)

// InvestmentModelConfig configures one investment model on an account.
type InvestmentModelConfig struct {
	Model           string `json:"model"`
	Symbol          string `json:"symbol,omitempty"`
	LeveragedSymbol string `json:"leveragedSymbol,omitempty"`
	ReserveSymbol   string `json:"reserveSymbol,omitempty"`
	LastRebalance   string `json:"lastRebalance,omitempty"` // YYYY-MM-DD
	RebalancePeriod int    `json:"rebalancePeriod,omitempty"`
}

// ModelDecision is the action plus the target allocation it implies.
// TargetAllocation maps each role symbol to a fraction; the fractions sum
// to 1 within 1e-6.
type ModelDecision struct {
	Action           ModelAction        `json:"action"`
	TargetAllocation map[string]float64 `json:"targetAllocation"`
}

// ModelEvaluation is the full result of evaluating one model on an account.
type ModelEvaluation struct {
	Model    string        `json:"model"`
	Decision ModelDecision `json:"decision"`
	Status   string        `json:"status"`
}

// TemperaturePoint is one day of a benchmark temperature series.
type TemperaturePoint struct {
	Date        string  `json:"date"`
	Temperature float64 `json:"temperature"`
}
