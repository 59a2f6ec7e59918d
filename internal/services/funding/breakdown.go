package funding

import (
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
)

// breakdownPeriods are the canonical trailing windows, in calendar months.
var breakdownPeriods = []struct {
	label  string
	months int
}{
	{"1m", 1},
	{"6m", 6},
	{"12m", 12},
	{"5y", 60},
	{"10y", 120},
}

// returnBreakdown computes the trailing-period returns. Periods that start
// before the account's history are omitted rather than reported as zero.
func (e *Engine) returnBreakdown(in Inputs, t *timeline) []models.ReturnPeriod {
	var out []models.ReturnPeriod
	for _, p := range breakdownPeriods {
		start := in.Today.AddDate(0, -p.months, 0)
		startKey := common.DateKey(start)
		if startKey < t.startKey {
			continue // insufficient history
		}
		out = append(out, e.periodReturn(in, t, p.label, p.months, start))
	}
	return out
}

func (e *Engine) periodReturn(in Inputs, t *timeline, label string, months int, start time.Time) models.ReturnPeriod {
	startKey := t.clamp(common.DateKey(start))
	todayKey := t.endKey

	totalReturn := (t.equity[todayKey] - t.equity[startKey]) -
		(t.cumDep[todayKey] - t.cumDep[startKey])

	rp := models.ReturnPeriod{
		Period:         label,
		Months:         months,
		StartDate:      startKey,
		TotalReturnCad: totalReturn,
		Incomplete:     !e.periodCovered(in, t, startKey),
	}

	flows := []cashFlow{{date: start, amount: -t.equity[startKey]}}
	for i := range in.Activities {
		a := &in.Activities[i]
		if !a.IsFundingFlow() {
			continue
		}
		dayKey := common.DateKey(a.EffectiveSettlementDate())
		if dayKey <= startKey || dayKey > todayKey {
			continue
		}
		cad, _ := e.cadAmount(a)
		flows = append(flows, cashFlow{date: a.EffectiveSettlementDate(), amount: -cad})
	}
	flows = append(flows, cashFlow{date: in.Today, amount: in.CurrentEquityCad})

	if rate, ok := solveXIRR(flows); ok {
		rp.AnnualizedRate = &rate
	} else {
		rp.Incomplete = true
	}
	return rp
}
