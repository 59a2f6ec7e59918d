// Package funding computes net deposits, reconstructed equity, total-P&L
// series, and annualized-return breakdowns from normalized activity history.
package funding

import (
	"fmt"
	"sort"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
)

// UsdCadSymbol is the synthetic cache symbol for the USD→CAD rate.
const UsdCadSymbol = "USDCAD=X"

// RateSource resolves the CAD conversion rate for one unit of a currency on
// a given date. exact is false when the rate came from an earlier date;
// ok is false when no rate at or before the date is known at all.
type RateSource interface {
	RateToCad(currency, dateKey string) (rate float64, exact bool, ok bool)
}

// Inputs is everything the engine needs for one account. The engine is pure:
// it never fetches, so the same inputs always produce the same outputs.
type Inputs struct {
	Activities           []models.Activity // normalized, de-duplicated, date-ordered
	CurrentEquityCad     float64
	CagrStartDate        string // optional YYYY-MM-DD display start
	NetDepositAdjustment float64
	Today                time.Time
}

// Engine derives funding and P&L metrics for a single account.
type Engine struct {
	fx     RateSource
	logger *common.Logger
}

// Option configures the engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates a funding engine backed by the given FX rate source.
func New(fx RateSource, opts ...Option) *Engine {
	e := &Engine{fx: fx, logger: common.NewSilentLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// timeline is the per-day reconstruction for one account: end-of-day equity
// and cumulative net deposits for every calendar day in the window.
type timeline struct {
	startKey string // earliest funding date (or today when never funded)
	endKey   string // today
	days     []string
	equity   map[string]float64
	cumDep   map[string]float64

	earliestActivity     string
	conversionIncomplete bool
	missingPairs         []string
}

// pnlAt returns total P&L (equity minus cumulative net deposits) at the
// given day, clamped to the timeline's bounds.
func (t *timeline) pnlAt(dateKey string) float64 {
	dateKey = t.clamp(dateKey)
	return t.equity[dateKey] - t.cumDep[dateKey]
}

func (t *timeline) clamp(dateKey string) string {
	if dateKey < t.startKey {
		return t.startKey
	}
	if dateKey > t.endKey {
		return t.endKey
	}
	return dateKey
}

// cadAmount converts an activity's net amount to CAD at its settlement-date
// rate. exact is false when the conversion used a stale or missing rate.
func (e *Engine) cadAmount(a *models.Activity) (float64, bool) {
	cur := a.Currency
	if cur == "" || cur == "CAD" {
		return a.NetAmount, true
	}
	dateKey := common.DateKey(a.EffectiveSettlementDate())
	rate, exact, ok := e.fx.RateToCad(cur, dateKey)
	if !ok {
		return a.NetAmount, false // counted 1:1, flagged by the caller
	}
	return a.NetAmount * rate, exact
}

// buildTimeline reconstructs daily equity backward from today's balance and
// accumulates net deposits forward, one point per calendar day.
func (e *Engine) buildTimeline(in Inputs) *timeline {
	todayKey := common.DateKey(in.Today)
	t := &timeline{
		endKey: todayKey,
		equity: map[string]float64{},
		cumDep: map[string]float64{},
	}

	fundingByDay := map[string]float64{}
	effectByDay := map[string]float64{}
	missing := map[string]bool{}

	for i := range in.Activities {
		a := &in.Activities[i]
		settled := a.EffectiveSettlementDate()
		if settled.IsZero() {
			continue
		}
		dayKey := common.DateKey(settled)
		if dayKey > todayKey {
			dayKey = todayKey
		}

		cad, exact := e.cadAmount(a)
		if !exact {
			t.conversionIncomplete = true
			missing[pairSymbol(a.Currency)] = true
		}

		if t.earliestActivity == "" || dayKey < t.earliestActivity {
			t.earliestActivity = dayKey
		}

		switch {
		case a.IsFundingFlow():
			fundingByDay[dayKey] += cad
			effectByDay[dayKey] += cad
			if t.startKey == "" || dayKey < t.startKey {
				t.startKey = dayKey
			}
		case a.Type == models.ActivityTrades:
			// A trade swaps cash for an equal-value position: no equity effect.
		default:
			effectByDay[dayKey] += cad
		}
	}

	for pair := range missing {
		t.missingPairs = append(t.missingPairs, pair)
	}
	sort.Strings(t.missingPairs)

	if t.startKey == "" {
		t.startKey = todayKey
	}
	t.days = dayKeys(t.startKey, t.endKey)

	// Equity walks backward from the live balance; days without activity
	// (weekends included) inherit the next day's value unchanged.
	t.equity[todayKey] = in.CurrentEquityCad
	for i := len(t.days) - 2; i >= 0; i-- {
		next := t.days[i+1]
		t.equity[t.days[i]] = t.equity[next] - effectByDay[next]
	}

	running := in.NetDepositAdjustment
	for _, day := range t.days {
		running += fundingByDay[day]
		t.cumDep[day] = running
	}
	return t
}

// displayStart is the start of the since-start view: the later of the
// earliest funding date and the configured CAGR start date.
func (t *timeline) displayStart(cagrStartDate string) string {
	if cagrStartDate != "" && cagrStartDate > t.startKey {
		return t.clamp(cagrStartDate)
	}
	return t.startKey
}

// Summarize computes the funding summary for one account.
func (e *Engine) Summarize(in Inputs) models.FundingSummary {
	t := e.buildTimeline(in)
	return e.summarize(in, t)
}

func (e *Engine) summarize(in Inputs, t *timeline) models.FundingSummary {
	todayKey := t.endKey
	startDisplay := t.displayStart(in.CagrStartDate)

	// Pre-start P&L is folded into the since-start deposit baseline, so the
	// identity totalPnl = equity - netDeposits holds point-wise in both views.
	baseline := t.pnlAt(startDisplay)

	allTimeDeposits := t.cumDep[todayKey]
	allTimePnl := in.CurrentEquityCad - allTimeDeposits

	s := models.FundingSummary{
		NetDeposits: models.NetDeposits{
			AllTimeCad:  allTimeDeposits,
			CombinedCad: allTimeDeposits + baseline,
		},
		TotalPnl: models.TotalPnl{
			AllTimeCad:  allTimePnl,
			CombinedCad: allTimePnl - baseline,
		},
		TotalEquityCad:       in.CurrentEquityCad,
		CagrStartDate:        in.CagrStartDate,
		ConversionIncomplete: t.conversionIncomplete,
	}

	s.AnnualizedReturnAllTime = e.annualizedAllTime(in, t)
	s.AnnualizedReturn = e.annualizedSince(in, t, startDisplay)
	s.ReturnBreakdown = e.returnBreakdown(in, t)
	return s
}

// annualizedAllTime solves XIRR over every funding flow plus the terminal
// equity. The net-deposit adjustment is treated as a flow on the first day.
func (e *Engine) annualizedAllTime(in Inputs, t *timeline) models.AnnualizedReturn {
	var flows []cashFlow
	for i := range in.Activities {
		a := &in.Activities[i]
		if !a.IsFundingFlow() {
			continue
		}
		cad, _ := e.cadAmount(a)
		flows = append(flows, cashFlow{date: a.EffectiveSettlementDate(), amount: -cad})
	}
	start, _ := common.ParseDateKey(t.startKey)
	if in.NetDepositAdjustment != 0 {
		flows = append(flows, cashFlow{date: start, amount: -in.NetDepositAdjustment})
	}
	flows = append(flows, cashFlow{date: in.Today, amount: in.CurrentEquityCad})

	out := models.AnnualizedReturn{AsOf: t.endKey, StartDate: t.startKey}
	rate, ok := solveXIRR(flows)
	if !ok {
		out.Incomplete = true
		return out
	}
	out.Rate = &rate
	return out
}

// annualizedSince solves XIRR over [startKey, today]: the opening equity is
// a synthetic outflow at the start, followed by in-window funding flows and
// the terminal equity.
func (e *Engine) annualizedSince(in Inputs, t *timeline, startKey string) models.AnnualizedReturn {
	out := models.AnnualizedReturn{AsOf: t.endKey, StartDate: startKey}
	out.Incomplete = !e.periodCovered(in, t, startKey)

	start, err := common.ParseDateKey(startKey)
	if err != nil {
		out.Incomplete = true
		return out
	}

	flows := []cashFlow{{date: start, amount: -t.equity[t.clamp(startKey)]}}
	for i := range in.Activities {
		a := &in.Activities[i]
		if !a.IsFundingFlow() {
			continue
		}
		dayKey := common.DateKey(a.EffectiveSettlementDate())
		if dayKey <= startKey || dayKey > t.endKey {
			continue // flows on or before the start day are inside the opening equity
		}
		cad, _ := e.cadAmount(a)
		flows = append(flows, cashFlow{date: a.EffectiveSettlementDate(), amount: -cad})
	}
	flows = append(flows, cashFlow{date: in.Today, amount: in.CurrentEquityCad})

	rate, ok := solveXIRR(flows)
	if !ok {
		out.Incomplete = true
		return out
	}
	out.Rate = &rate
	return out
}

// periodCovered reports whether at least 95% of [startKey, today] lies
// within the known activity window.
func (e *Engine) periodCovered(in Inputs, t *timeline, startKey string) bool {
	if t.earliestActivity == "" {
		return false
	}
	if t.earliestActivity <= startKey {
		return true
	}
	start, err := common.ParseDateKey(startKey)
	if err != nil {
		return false
	}
	known, err := common.ParseDateKey(t.earliestActivity)
	if err != nil {
		return false
	}
	total := in.Today.Sub(start)
	if total <= 0 {
		return true
	}
	covered := in.Today.Sub(known)
	return float64(covered)/float64(total) >= 0.95
}

// BuildSeries produces the daily total-P&L series. With applyCagrStart the
// window begins at the display start and the series is re-based so the first
// point's P&L is exactly zero; pre-start P&L never leaks into the view.
func (e *Engine) BuildSeries(in Inputs, applyCagrStart bool) models.TotalPnlSeries {
	t := e.buildTimeline(in)

	startKey := t.startKey
	if applyCagrStart {
		startKey = t.displayStart(in.CagrStartDate)
	}
	baseline := 0.0
	if applyCagrStart {
		baseline = t.pnlAt(startKey)
	}

	series := models.TotalPnlSeries{
		Summary:             e.summarize(in, t),
		PeriodStartDate:     startKey,
		PeriodEndDate:       t.endKey,
		Issues:              []string{},
		MissingPriceSymbols: t.missingPairs,
	}
	if t.conversionIncomplete {
		series.Issues = append(series.Issues,
			"one or more non-CAD flows converted with a stale or missing exchange rate")
	}
	if t.startKey == t.endKey && t.cumDep[t.endKey] == in.NetDepositAdjustment {
		series.Issues = append(series.Issues, "no funding history found for account")
	}

	for _, day := range t.days {
		if day < startKey {
			continue
		}
		series.Points = append(series.Points, models.TotalPnlPoint{
			Date:                     day,
			CumulativeNetDepositsCad: t.cumDep[day] + baseline,
			EquityCad:                t.equity[day],
			TotalPnlCad:              t.equity[day] - t.cumDep[day] - baseline,
		})
	}
	return series
}

// pairSymbol is the synthetic cache symbol for a currency's CAD rate.
func pairSymbol(currency string) string {
	return fmt.Sprintf("%sCAD=X", currency)
}

// dayKeys enumerates every calendar day key in [startKey, endKey].
func dayKeys(startKey, endKey string) []string {
	start, err := common.ParseDateKey(startKey)
	if err != nil {
		return []string{endKey}
	}
	end, err := common.ParseDateKey(endKey)
	if err != nil {
		return []string{startKey}
	}
	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, common.DateKey(d))
	}
	return out
}
