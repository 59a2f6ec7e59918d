package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/tally/internal/models"
)

func TestAdjustDeploymentDlrConversionExactSizing(t *testing.T) {
	// No cash in either currency beyond the CAD earmarked for deployment;
	// growing the USD sleeve by $100 USD needs $137 CAD through DLR.
	plan := AdjustDeployment(DeploymentInputs{
		Positions: []models.Position{
			{Symbol: "VTI", Currency: "USD", OpenQuantity: 10, CurrentPrice: 10, CurrentMarketValue: 100},
		},
		AvailableCad:          137,
		AvailableUsd:          0,
		UsdToCadRate:          1.37,
		TargetDeployedPercent: 100,
		DlrCadPrice:           13.70,
		DlrUsdPrice:           10.00,
	})

	require.Len(t, plan.Conversions, 1)
	conv := plan.Conversions[0]
	assert.Equal(t, models.ConversionCADToUSD, conv.Type)
	assert.Equal(t, 10, conv.Shares)
	assert.InDelta(t, 137.00, conv.SpendAmount, 0.001)
	assert.InDelta(t, 100.00, conv.ReceiveAmount, 0.001)

	require.Len(t, plan.Transactions, 1)
	tx := plan.Transactions[0]
	assert.Equal(t, models.SideBuy, tx.Side)
	assert.Equal(t, "VTI", tx.Symbol)
	assert.InDelta(t, 100.0, tx.Amount, 0.001)
}

func TestAdjustDeploymentSellsDownToTarget(t *testing.T) {
	plan := AdjustDeployment(DeploymentInputs{
		Positions: []models.Position{
			cadPosition("XEQT.TO", 10, 8000),
			cadPosition("CASH.TO", 50, 2000),
		},
		ReserveSymbols:        map[string]bool{"CASH.TO": true},
		TargetDeployedPercent: 50,
	})

	require.NotEmpty(t, plan.Transactions)
	var sell, buy *models.DeploymentTransaction
	for i := range plan.Transactions {
		tx := &plan.Transactions[i]
		switch tx.Scope {
		case models.ScopeDeployed:
			sell = tx
		case models.ScopeReserve:
			buy = tx
		}
	}

	require.NotNil(t, sell)
	assert.Equal(t, models.SideSell, sell.Side)
	assert.InDelta(t, 3000.0, sell.Amount, 10)

	require.NotNil(t, buy)
	assert.Equal(t, models.SideBuy, buy.Side)
	assert.InDelta(t, 3000.0, buy.Amount, 50)
}

func TestAdjustDeploymentFallbackReserveSymbol(t *testing.T) {
	plan := AdjustDeployment(DeploymentInputs{
		Positions: []models.Position{
			cadPosition("XEQT.TO", 10, 10000),
		},
		TargetDeployedPercent: 60,
		FallbackReserveSymbol: "CASH.TO",
		FallbackReservePrice:  50,
	})

	var reserveBuy *models.DeploymentTransaction
	for i := range plan.Transactions {
		if plan.Transactions[i].Scope == models.ScopeReserve {
			reserveBuy = &plan.Transactions[i]
		}
	}
	require.NotNil(t, reserveBuy)
	assert.Equal(t, models.SideBuy, reserveBuy.Side)
	assert.Equal(t, "CASH.TO", reserveBuy.Symbol)
	assert.InDelta(t, 4000.0, reserveBuy.Amount, 50)
}

func TestAdjustDeploymentCashCountsAsReserve(t *testing.T) {
	// 60% deployed, 40% reserve: the $4000 cash already covers the reserve,
	// so no reserve purchases are needed.
	plan := AdjustDeployment(DeploymentInputs{
		Positions: []models.Position{
			cadPosition("XEQT.TO", 10, 6000),
		},
		AvailableCad:          4000,
		TargetDeployedPercent: 60,
		FallbackReserveSymbol: "CASH.TO",
		FallbackReservePrice:  50,
	})
	assert.Empty(t, plan.Transactions)
	assert.Empty(t, plan.Conversions)
}

func TestAdjustDeploymentNeverSellsMoreThanHeld(t *testing.T) {
	plan := AdjustDeployment(DeploymentInputs{
		Positions: []models.Position{
			{Symbol: "XEQT.TO", Currency: "CAD", OpenQuantity: 5, CurrentPrice: 10, CurrentMarketValue: 50},
		},
		TargetDeployedPercent: 0,
	})

	require.Len(t, plan.Transactions, 1)
	assert.Equal(t, models.SideSell, plan.Transactions[0].Side)
	assert.LessOrEqual(t, plan.Transactions[0].Shares, 5.0)
}

func TestAdjustDeploymentEmptyPortfolio(t *testing.T) {
	plan := AdjustDeployment(DeploymentInputs{TargetDeployedPercent: 80})
	assert.Empty(t, plan.Transactions)
	assert.Equal(t, "nothing to adjust", plan.SummaryText)
}

func TestSizeCadToUsdBudgetTooSmall(t *testing.T) {
	_, ok := sizeCadToUsd(10, 13.70, 10.00)
	assert.False(t, ok)
}

func TestSizeUsdToCad(t *testing.T) {
	conv, ok := sizeUsdToCad(100, 13.70, 10.00)
	require.True(t, ok)
	assert.Equal(t, models.ConversionUSDToCAD, conv.Type)
	assert.Equal(t, 10, conv.Shares)
	assert.InDelta(t, 100.0, conv.SpendAmount, 0.001)
	assert.InDelta(t, 137.0, conv.ReceiveAmount, 0.001)
}
