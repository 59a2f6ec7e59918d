package planner

import (
	"fmt"
	"math"
	"strings"

	"github.com/bobmcallan/tally/internal/models"
)

// DeploymentInputs drive a deployment-adjustment plan: move the portfolio to
// the target deployed percentage, treating cash plus ReserveSymbols holdings
// as the reserve sleeve.
type DeploymentInputs struct {
	Positions             []models.Position
	AvailableCad          float64
	AvailableUsd          float64
	UsdToCadRate          float64
	ReserveSymbols        map[string]bool
	FallbackReserveSymbol string
	FallbackReservePrice  float64
	TargetDeployedPercent float64
	DlrCadPrice           float64
	DlrUsdPrice           float64
}

// AdjustDeployment scales the deployed and reserve sleeves toward the target
// split, emitting per-symbol buys and sells plus any currency conversions
// needed to fund them. Trades below half a cent are dropped.
func AdjustDeployment(in DeploymentInputs) models.DeploymentPlan {
	rate := in.UsdToCadRate
	if rate <= 0 && in.DlrCadPrice > 0 && in.DlrUsdPrice > 0 {
		rate = in.DlrCadPrice / in.DlrUsdPrice
	}
	if rate <= 0 {
		rate = 1
	}

	targetPct := math.Max(0, math.Min(100, in.TargetDeployedPercent))

	var deployed, reserve []models.Position
	deployedCad, reserveCad := 0.0, 0.0
	for _, p := range in.Positions {
		if !p.Investable() {
			continue
		}
		v := marketValueCad(p, rate)
		if in.ReserveSymbols[p.Symbol] {
			reserve = append(reserve, p)
			reserveCad += v
		} else {
			deployed = append(deployed, p)
			deployedCad += v
		}
	}
	cashCad := in.AvailableCad + in.AvailableUsd*rate
	totalBase := deployedCad + reserveCad + cashCad

	plan := models.DeploymentPlan{}
	if totalBase <= 0 {
		plan.SummaryText = "nothing to adjust"
		return plan
	}

	targetDeployedCad := targetPct / 100 * totalBase
	targetReserveCad := totalBase - targetDeployedCad

	var txs []models.DeploymentTransaction
	txs = append(txs, scaleSleeve(deployed, deployedCad, targetDeployedCad, rate, models.ScopeDeployed)...)

	// Cash absorbs reserve first; only the excess is held in reserve symbols.
	reservePositionsTarget := math.Max(0, targetReserveCad-cashCad)
	if len(reserve) > 0 {
		txs = append(txs, scaleSleeve(reserve, reserveCad, reservePositionsTarget, rate, models.ScopeReserve)...)
	} else if reservePositionsTarget > epsilon && in.FallbackReserveSymbol != "" && in.FallbackReservePrice > 0 {
		shares := floorShares(reservePositionsTarget, in.FallbackReservePrice)
		if shares > 0 {
			txs = append(txs, models.DeploymentTransaction{
				Side:     models.SideBuy,
				Scope:    models.ScopeReserve,
				Symbol:   in.FallbackReserveSymbol,
				Currency: "CAD",
				Amount:   shares * in.FallbackReservePrice,
				Shares:   shares,
				Price:    in.FallbackReservePrice,
			})
		}
	}

	txs = dropBelowEpsilon(txs)

	// Net per-currency cash flow after all trades settles any shortfall
	// through a DLR conversion.
	cadPool, usdPool := in.AvailableCad, in.AvailableUsd
	for _, tx := range txs {
		delta := tx.Amount
		if tx.Side == models.SideBuy {
			delta = -delta
		}
		if tx.Currency == "USD" {
			usdPool += delta
		} else {
			cadPool += delta
		}
	}

	var conversions []models.Conversion
	if usdPool < -epsilon {
		if conv, ok := sizeCadToUsd(-usdPool*rate, in.DlrCadPrice, in.DlrUsdPrice); ok {
			conversions = append(conversions, conv)
			cadPool -= conv.SpendAmount
			usdPool += conv.ReceiveAmount
		}
	} else if cadPool < -epsilon {
		if conv, ok := sizeUsdToCad(-cadPool/rate, in.DlrCadPrice, in.DlrUsdPrice); ok {
			conversions = append(conversions, conv)
			usdPool -= conv.SpendAmount
			cadPool += conv.ReceiveAmount
		}
	}

	plan.Transactions = txs
	plan.Conversions = conversions
	plan.Totals = deploymentTotals(in, txs, conversions, cadPool, usdPool)
	plan.SummaryText = summarizeDeployment(plan, targetPct)
	return plan
}

// scaleSleeve emits the buy/sell needed to move each position to its scaled
// share of the sleeve target.
func scaleSleeve(positions []models.Position, currentCad, targetCad, rate float64, scope models.TransactionScope) []models.DeploymentTransaction {
	if currentCad <= 0 {
		return nil
	}
	scale := targetCad / currentCad

	var out []models.DeploymentTransaction
	for _, p := range positions {
		deltaCad := marketValueCad(p, rate)*scale - marketValueCad(p, rate)
		deltaNative := deltaCad
		if p.Currency == "USD" {
			deltaNative = deltaCad / rate
		}

		side := models.SideBuy
		if deltaNative < 0 {
			side = models.SideSell
			deltaNative = -deltaNative
		}

		var shares float64
		if p.Currency == "USD" {
			shares = floorSharesUsd(deltaNative, p.CurrentPrice)
		} else {
			shares = floorShares(deltaNative, p.CurrentPrice)
		}
		if shares <= 0 {
			continue
		}
		// Never sell more than is held.
		if side == models.SideSell && shares > p.OpenQuantity {
			shares = p.OpenQuantity
		}
		out = append(out, models.DeploymentTransaction{
			Side:     side,
			Scope:    scope,
			Symbol:   p.Symbol,
			Currency: p.Currency,
			Amount:   shares * p.CurrentPrice,
			Shares:   shares,
			Price:    p.CurrentPrice,
		})
	}
	return out
}

func dropBelowEpsilon(txs []models.DeploymentTransaction) []models.DeploymentTransaction {
	out := txs[:0]
	for _, tx := range txs {
		if math.Abs(tx.Amount) < epsilon {
			continue
		}
		out = append(out, tx)
	}
	return out
}

func deploymentTotals(in DeploymentInputs, txs []models.DeploymentTransaction, conversions []models.Conversion, cadPool, usdPool float64) models.PlanTotals {
	t := models.PlanTotals{CadRemaining: cadPool, UsdRemaining: usdPool}
	for _, tx := range txs {
		if tx.Side != models.SideBuy {
			continue
		}
		if tx.Currency == "USD" {
			t.UsdNeeded += tx.Amount
		} else {
			t.CadNeeded += tx.Amount
		}
	}
	for _, c := range conversions {
		if c.Type == models.ConversionCADToUSD {
			t.CadNeeded += c.SpendAmount
		} else {
			t.UsdNeeded += c.SpendAmount
		}
	}
	return t
}

func summarizeDeployment(plan models.DeploymentPlan, targetPct float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "adjust to %.0f%% deployed\n", targetPct)
	for _, c := range plan.Conversions {
		fmt.Fprintf(&b, "convert %s: %d × %s ($%.2f → $%.2f)\n",
			c.Type, c.Shares, c.Symbol, c.SpendAmount, c.ReceiveAmount)
	}
	for _, tx := range plan.Transactions {
		fmt.Fprintf(&b, "%s %v × %s @ $%.2f %s ($%.2f, %s)\n",
			strings.ToLower(string(tx.Side)), tx.Shares, tx.Symbol,
			tx.Price, tx.Currency, tx.Amount, strings.ToLower(string(tx.Scope)))
	}
	return strings.TrimRight(b.String(), "\n")
}
