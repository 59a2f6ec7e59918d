package funding

import (
	"math"
	"sort"
	"time"
)

// cashFlow is a single dated flow for XIRR. Negative = money into the
// account (deposits), positive = money out (withdrawals, terminal equity).
type cashFlow struct {
	date   time.Time
	amount float64
}

const (
	xirrTol     = 1e-7
	xirrMinRate = -0.999
	xirrMaxRate = 10.0
)

// solveXIRR finds the annualized rate r such that NPV(r) = 0 using
// Newton-Raphson with a bisection fallback on [-0.999, 10]. Year fractions
// use a 365-day year. Returns (rate, true), or (0, false) when the flows
// admit no root — all same sign, or no sign change in the bracket.
func solveXIRR(flows []cashFlow) (float64, bool) {
	if len(flows) < 2 {
		return 0, false
	}

	sorted := make([]cashFlow, len(flows))
	copy(sorted, flows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].date.Before(sorted[j].date) })

	hasNeg, hasPos := false, false
	for _, f := range sorted {
		if f.amount < 0 {
			hasNeg = true
		}
		if f.amount > 0 {
			hasPos = true
		}
	}
	if !hasNeg || !hasPos {
		return 0, false
	}

	base := sorted[0].date
	years := make([]float64, len(sorted))
	for i, f := range sorted {
		years[i] = f.date.Sub(base).Hours() / 24 / 365
	}

	npvAt := func(rate float64) float64 {
		sum := 0.0
		for i, f := range sorted {
			sum += f.amount / math.Pow(1+rate, years[i])
		}
		return sum
	}

	// Newton-Raphson from a simple-return guess.
	totalIn, totalOut := 0.0, 0.0
	for _, f := range sorted {
		if f.amount < 0 {
			totalIn -= f.amount
		} else {
			totalOut += f.amount
		}
	}
	guess := 0.1
	if totalIn > 0 {
		simple := totalOut/totalIn - 1
		if simple > -0.9 && simple < xirrMaxRate {
			guess = simple
		}
	}

	rate := guess
	for iter := 0; iter < 100; iter++ {
		npv := 0.0
		dnpv := 0.0
		for i, f := range sorted {
			y := years[i]
			b := 1 + rate
			if b <= 0 {
				rate = xirrMinRate
				b = 1 + rate
			}
			discount := math.Pow(b, y)
			if discount == 0 {
				continue
			}
			npv += f.amount / discount
			if y != 0 {
				dnpv -= y * f.amount / (discount * b)
			}
		}

		if math.Abs(npv) < xirrTol {
			if rate < xirrMinRate || rate > xirrMaxRate {
				break
			}
			return rate, true
		}
		if dnpv == 0 {
			break
		}
		next := rate - npv/dnpv
		if next < xirrMinRate {
			next = xirrMinRate
		}
		if next > xirrMaxRate {
			next = xirrMaxRate
		}
		rate = next
	}

	// Bisection fallback on the full bracket.
	lo, hi := xirrMinRate, xirrMaxRate
	npvLo := npvAt(lo)
	npvHi := npvAt(hi)
	if math.IsNaN(npvLo) || math.IsNaN(npvHi) || npvLo*npvHi > 0 {
		return 0, false
	}

	for iter := 0; iter < 200; iter++ {
		mid := (lo + hi) / 2
		npvMid := npvAt(mid)
		if math.IsNaN(npvMid) {
			return 0, false
		}
		if math.Abs(npvMid) < xirrTol {
			return mid, true
		}
		if npvMid*npvLo < 0 {
			hi = mid
		} else {
			lo = mid
			npvLo = npvMid
		}
	}
	return (lo + hi) / 2, true
}
