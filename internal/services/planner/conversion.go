// Package planner builds invest-evenly and deployment-adjustment plans from
// a snapshot of positions and cash. Planners are pure: no I/O, no clock.
package planner

import (
	"math"

	"github.com/bobmcallan/tally/internal/models"
)

// DLR instrument symbols used to journal CAD↔USD conversions
// (Norbert's gambit).
const (
	DlrCadSymbol = "DLR.TO"
	DlrUsdSymbol = "DLR.U.TO"
)

// epsilon below which a planned trade or conversion is dropped (0.5 cents).
const epsilon = 0.005

// sizeCadToUsd plans buying whole DLR.TO shares with at most cadBudget CAD,
// journalled out as DLR.U.TO for USD. ok is false when the budget does not
// cover a single share.
func sizeCadToUsd(cadBudget, dlrCadPrice, dlrUsdPrice float64) (models.Conversion, bool) {
	if dlrCadPrice <= 0 || dlrUsdPrice <= 0 || cadBudget < dlrCadPrice {
		return models.Conversion{}, false
	}
	shares := int(math.Floor(cadBudget / dlrCadPrice))
	conv := models.Conversion{
		Type:          models.ConversionCADToUSD,
		Symbol:        DlrCadSymbol,
		Shares:        shares,
		SpendAmount:   float64(shares) * dlrCadPrice,
		ReceiveAmount: float64(shares) * dlrUsdPrice,
	}
	return conv, conv.SpendAmount >= epsilon
}

// sizeUsdToCad is the symmetric conversion: buy DLR.U.TO with USD, journal
// out as DLR.TO for CAD.
func sizeUsdToCad(usdBudget, dlrCadPrice, dlrUsdPrice float64) (models.Conversion, bool) {
	if dlrCadPrice <= 0 || dlrUsdPrice <= 0 || usdBudget < dlrUsdPrice {
		return models.Conversion{}, false
	}
	shares := int(math.Floor(usdBudget / dlrUsdPrice))
	conv := models.Conversion{
		Type:          models.ConversionUSDToCAD,
		Symbol:        DlrUsdSymbol,
		Shares:        shares,
		SpendAmount:   float64(shares) * dlrUsdPrice,
		ReceiveAmount: float64(shares) * dlrCadPrice,
	}
	return conv, conv.SpendAmount >= epsilon
}

// floorShares floors a CAD purchase to whole shares.
func floorShares(amount, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return math.Floor(amount / price)
}

// floorSharesUsd floors a USD purchase to four decimal places of shares.
func floorSharesUsd(amount, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return math.Floor(amount/price*1e4) / 1e4
}
