package planner

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bobmcallan/tally/internal/models"
)

// InvestEvenlyInputs is the snapshot an invest-evenly plan is built from.
// TargetPercents maps symbol to target percent (0..100) and is honored only
// when UseTargetProportions is set; otherwise weights follow current
// market value.
type InvestEvenlyInputs struct {
	Positions            []models.Position
	AvailableCad         float64
	AvailableUsd         float64
	UsdToCadRate         float64
	TargetPercents       map[string]float64
	UseTargetProportions bool
	SkipCadPurchases     bool
	SkipUsdPurchases     bool
	DlrCadPrice          float64
	DlrUsdPrice          float64
}

// draft is one purchase being sized, carrying the unrounded share target so
// residual redistribution can rank by remainder.
type draft struct {
	pos          models.Position
	weight       float64
	targetNative float64 // target amount in the position's currency
	shares       float64
	amount       float64
}

// InvestEvenly distributes the available cash across investable positions,
// planning DLR conversions when one currency's cash cannot cover its
// purchases.
func InvestEvenly(in InvestEvenlyInputs) models.InvestEvenlyPlan {
	rate := in.UsdToCadRate
	if rate <= 0 && in.DlrCadPrice > 0 && in.DlrUsdPrice > 0 {
		rate = in.DlrCadPrice / in.DlrUsdPrice
	}
	if rate <= 0 {
		rate = 1
	}

	var investable []models.Position
	for _, p := range in.Positions {
		if !p.Investable() {
			continue
		}
		if p.Currency == "CAD" && in.SkipCadPurchases {
			continue
		}
		if p.Currency == "USD" && in.SkipUsdPurchases {
			continue
		}
		investable = append(investable, p)
	}

	base := 0.0
	if !in.SkipCadPurchases {
		base += in.AvailableCad
	}
	if !in.SkipUsdPurchases {
		base += in.AvailableUsd * rate
	}

	plan := models.InvestEvenlyPlan{}
	if base <= 0 || len(investable) == 0 {
		plan.SummaryText = "nothing to invest"
		plan.Totals = models.PlanTotals{CadRemaining: in.AvailableCad, UsdRemaining: in.AvailableUsd}
		return plan
	}

	drafts := sizeDrafts(investable, in, base, rate)

	cadPool, usdPool := in.AvailableCad, in.AvailableUsd
	cadSized, usdSized := currencyTotals(drafts)

	var conversions []models.Conversion
	if usdSized > usdPool+epsilon {
		budget := math.Min((usdSized-usdPool)*rate, cadPool-cadSized)
		if conv, ok := sizeCadToUsd(budget, in.DlrCadPrice, in.DlrUsdPrice); ok {
			conversions = append(conversions, conv)
			cadPool -= conv.SpendAmount
			usdPool += conv.ReceiveAmount
		}
	}
	if cadSized > cadPool+epsilon {
		budget := math.Min((cadSized-cadPool)/rate, usdPool-usdSized)
		if conv, ok := sizeUsdToCad(budget, in.DlrCadPrice, in.DlrUsdPrice); ok {
			conversions = append(conversions, conv)
			usdPool -= conv.SpendAmount
			cadPool += conv.ReceiveAmount
		}
	}

	// Post-conversion cash may still fall short; scale down proportionally
	// before the final rounding.
	rescale(drafts, "CAD", cadPool)
	rescale(drafts, "USD", usdPool)

	redistributeCad(drafts, cadPool)
	redistributeUsd(drafts, usdPool)

	cadNeeded, usdNeeded := currencyTotals(drafts)
	for _, c := range conversions {
		if c.Type == models.ConversionCADToUSD {
			cadNeeded += c.SpendAmount
		} else {
			usdNeeded += c.SpendAmount
		}
	}

	for _, d := range drafts {
		if d.shares <= 0 || d.amount < epsilon {
			continue
		}
		plan.Purchases = append(plan.Purchases, models.Purchase{
			Symbol:        d.pos.Symbol,
			Currency:      d.pos.Currency,
			Amount:        d.amount,
			Shares:        d.shares,
			Price:         d.pos.CurrentPrice,
			TargetPercent: d.weight * 100,
		})
	}
	plan.Conversions = conversions
	plan.Totals = models.PlanTotals{
		CadNeeded:    cadNeeded,
		UsdNeeded:    usdNeeded,
		CadRemaining: in.AvailableCad - cadNeeded + receivedCad(conversions),
		UsdRemaining: in.AvailableUsd - usdNeeded + receivedUsd(conversions),
	}
	plan.SummaryText = summarize(plan)
	return plan
}

// sizeDrafts computes per-position weights and the first rounding pass.
func sizeDrafts(investable []models.Position, in InvestEvenlyInputs, base, rate float64) []*draft {
	useTargets := in.UseTargetProportions && len(in.TargetPercents) > 0

	weightOf := func(models.Position) float64 { return 0 }
	if useTargets {
		sum := 0.0
		for _, p := range investable {
			sum += in.TargetPercents[p.Symbol]
		}
		if sum > 0 {
			weightOf = func(p models.Position) float64 { return in.TargetPercents[p.Symbol] / sum }
		}
	} else {
		total := 0.0
		for _, p := range investable {
			total += marketValueCad(p, rate)
		}
		if total > 0 {
			weightOf = func(p models.Position) float64 { return marketValueCad(p, rate) / total }
		}
	}

	drafts := make([]*draft, 0, len(investable))
	for _, p := range investable {
		d := &draft{pos: p, weight: weightOf(p)}
		targetCad := d.weight * base
		if p.Currency == "USD" {
			d.targetNative = targetCad / rate
			d.shares = floorSharesUsd(d.targetNative, p.CurrentPrice)
		} else {
			d.targetNative = targetCad
			d.shares = floorShares(d.targetNative, p.CurrentPrice)
		}
		d.amount = d.shares * p.CurrentPrice
		drafts = append(drafts, d)
	}
	return drafts
}

func marketValueCad(p models.Position, rate float64) float64 {
	if p.Currency == "USD" {
		return p.CurrentMarketValue * rate
	}
	return p.CurrentMarketValue
}

func currencyTotals(drafts []*draft) (cad, usd float64) {
	for _, d := range drafts {
		if d.pos.Currency == "USD" {
			usd += d.amount
		} else {
			cad += d.amount
		}
	}
	return
}

// rescale shrinks one currency's purchases proportionally when the pool
// cannot cover them, then re-floors the shares.
func rescale(drafts []*draft, currency string, pool float64) {
	total := 0.0
	for _, d := range drafts {
		if d.pos.Currency == currency {
			total += d.amount
		}
	}
	if total <= pool+epsilon || total == 0 {
		return
	}
	scale := pool / total
	if scale < 0 {
		scale = 0
	}
	for _, d := range drafts {
		if d.pos.Currency != currency {
			continue
		}
		d.targetNative *= scale
		if currency == "USD" {
			d.shares = floorSharesUsd(d.targetNative, d.pos.CurrentPrice)
		} else {
			d.shares = floorShares(d.targetNative, d.pos.CurrentPrice)
		}
		d.amount = d.shares * d.pos.CurrentPrice
	}
}

// redistributeCad spends leftover CAD on extra whole shares, largest
// fractional remainder first, never exceeding the pool.
func redistributeCad(drafts []*draft, pool float64) {
	var cad []*draft
	spent := 0.0
	for _, d := range drafts {
		if d.pos.Currency == "CAD" {
			cad = append(cad, d)
			spent += d.amount
		}
	}
	if len(cad) == 0 {
		return
	}
	sort.SliceStable(cad, func(i, j int) bool {
		ri := cad[i].targetNative/cad[i].pos.CurrentPrice - cad[i].shares
		rj := cad[j].targetNative/cad[j].pos.CurrentPrice - cad[j].shares
		return ri > rj
	})
	leftover := pool - spent
	for _, d := range cad {
		for leftover >= d.pos.CurrentPrice-1e-9 && d.targetNative/d.pos.CurrentPrice > d.shares {
			d.shares++
			d.amount += d.pos.CurrentPrice
			leftover -= d.pos.CurrentPrice
		}
	}
}

// redistributeUsd tops up the largest-remainder USD purchase so the rounded
// total matches the unrounded total within a cent.
func redistributeUsd(drafts []*draft, pool float64) {
	var best *draft
	bestRem := 0.0
	spent := 0.0
	for _, d := range drafts {
		if d.pos.Currency != "USD" {
			continue
		}
		spent += d.amount
		rem := d.targetNative - d.amount
		if rem > bestRem {
			best, bestRem = d, rem
		}
	}
	if best == nil {
		return
	}
	leftover := math.Min(pool-spent, bestRem)
	extra := floorSharesUsd(leftover, best.pos.CurrentPrice)
	if extra <= 0 {
		return
	}
	best.shares += extra
	best.amount += extra * best.pos.CurrentPrice
}

func receivedCad(conversions []models.Conversion) float64 {
	out := 0.0
	for _, c := range conversions {
		if c.Type == models.ConversionUSDToCAD {
			out += c.ReceiveAmount
		}
	}
	return out
}

func receivedUsd(conversions []models.Conversion) float64 {
	out := 0.0
	for _, c := range conversions {
		if c.Type == models.ConversionCADToUSD {
			out += c.ReceiveAmount
		}
	}
	return out
}

func summarize(plan models.InvestEvenlyPlan) string {
	if len(plan.Purchases) == 0 && len(plan.Conversions) == 0 {
		return "nothing to invest"
	}
	var b strings.Builder
	for _, c := range plan.Conversions {
		fmt.Fprintf(&b, "convert %s: %d × %s ($%.2f → $%.2f)\n",
			c.Type, c.Shares, c.Symbol, c.SpendAmount, c.ReceiveAmount)
	}
	for _, p := range plan.Purchases {
		fmt.Fprintf(&b, "buy %v × %s @ $%.2f %s ($%.2f)\n",
			p.Shares, p.Symbol, p.Price, p.Currency, p.Amount)
	}
	fmt.Fprintf(&b, "needs $%.2f CAD and $%.2f USD; leaves $%.2f CAD and $%.2f USD",
		plan.Totals.CadNeeded, plan.Totals.UsdNeeded,
		plan.Totals.CadRemaining, plan.Totals.UsdRemaining)
	return b.String()
}
