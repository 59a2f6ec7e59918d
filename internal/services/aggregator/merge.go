package aggregator

import (
	"sort"

	"github.com/bobmcallan/tally/internal/models"
)

// mergePositions folds positions across accounts by symbol, summing
// quantities and CAD-normalized market values. The merged position keeps the
// native currency and price of the symbol.
func mergePositions(snapshots []*snapshot, usdToCad float64) []models.Position {
	bySymbol := map[string]*models.Position{}
	for _, snap := range snapshots {
		if snap.err != nil {
			continue
		}
		for _, p := range snap.positions {
			merged, ok := bySymbol[p.Symbol]
			if !ok {
				clone := p
				bySymbol[p.Symbol] = &clone
				continue
			}
			merged.OpenQuantity += p.OpenQuantity
			merged.CurrentMarketValue += p.CurrentMarketValue
			merged.TotalCost += p.TotalCost
			merged.OpenPnl += p.OpenPnl
			if merged.CurrentPrice == 0 {
				merged.CurrentPrice = p.CurrentPrice
			}
		}
	}

	out := make([]models.Position, 0, len(bySymbol))
	for _, p := range bySymbol {
		out = append(out, *p)
	}
	// Largest CAD value first.
	sort.Slice(out, func(i, j int) bool {
		return cadValue(out[i], usdToCad) > cadValue(out[j], usdToCad)
	})
	return out
}

func cadValue(p models.Position, usdToCad float64) float64 {
	if p.Currency == "USD" {
		return p.CurrentMarketValue * usdToCad
	}
	return p.CurrentMarketValue
}

// mergeBalances aggregates per-currency and combined balances across the
// selected accounts.
func mergeBalances(snapshots []*snapshot) *models.Balances {
	perCurrency := map[string]*models.CurrencyBalance{}
	combined := map[string]*models.CurrencyBalance{}

	add := func(into map[string]*models.CurrencyBalance, b models.CurrencyBalance) {
		agg, ok := into[b.Currency]
		if !ok {
			clone := b
			into[b.Currency] = &clone
			return
		}
		agg.Cash += b.Cash
		agg.MarketValue += b.MarketValue
		agg.TotalEquity += b.TotalEquity
		agg.BuyingPower += b.BuyingPower
		agg.MaintenanceExcess += b.MaintenanceExcess
	}

	for _, snap := range snapshots {
		if snap.err != nil || snap.balances == nil {
			continue
		}
		for _, b := range snap.balances.PerCurrencyBalances {
			add(perCurrency, b)
		}
		for _, b := range snap.balances.CombinedBalances {
			add(combined, b)
		}
	}

	out := &models.Balances{}
	for _, b := range perCurrency {
		out.PerCurrencyBalances = append(out.PerCurrencyBalances, *b)
	}
	for _, b := range combined {
		out.CombinedBalances = append(out.CombinedBalances, *b)
	}
	sort.Slice(out.PerCurrencyBalances, func(i, j int) bool {
		return out.PerCurrencyBalances[i].Currency < out.PerCurrencyBalances[j].Currency
	})
	sort.Slice(out.CombinedBalances, func(i, j int) bool {
		return out.CombinedBalances[i].Currency < out.CombinedBalances[j].Currency
	})
	return out
}

// mergeOrders concatenates orders across accounts, newest first.
func mergeOrders(snapshots []*snapshot) []models.Order {
	var out []models.Order
	for _, snap := range snapshots {
		if snap.err != nil {
			continue
		}
		out = append(out, snap.orders...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreationTime.After(out[j].CreationTime) })
	return out
}
