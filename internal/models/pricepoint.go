package models

// PricePoint is a single daily closing price for a symbol.
// Date is a date-only key in UTC; Close is in the symbol's native currency.
type PricePoint struct {
	Symbol string  `json:"symbol"`
	Date   string  `json:"date"` // YYYY-MM-DD
	Close  float64 `json:"close"`
}

// DateRange is an inclusive range of date keys.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Contains reports whether the range fully contains [start, end].
func (r DateRange) Contains(start, end string) bool {
	return r.Start <= start && end <= r.End
}

// Overlaps reports whether two ranges overlap or touch on adjacent days.
func (r DateRange) Overlaps(other DateRange) bool {
	return r.Start <= other.End && other.Start <= r.End
}
