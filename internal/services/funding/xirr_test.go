package funding

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolveXIRROneYearTenPercent(t *testing.T) {
	flows := []cashFlow{
		{date: day("2024-01-01"), amount: -1000},
		{date: day("2024-12-31"), amount: 1100},
	}
	rate, ok := solveXIRR(flows)
	require.True(t, ok)
	assert.InDelta(t, 0.10, rate, 0.001)
}

func TestSolveXIRRMultipleFlows(t *testing.T) {
	flows := []cashFlow{
		{date: day("2024-01-01"), amount: -1000},
		{date: day("2024-07-01"), amount: -500},
		{date: day("2025-01-01"), amount: 1650},
	}
	rate, ok := solveXIRR(flows)
	require.True(t, ok)

	// The returned rate must zero the NPV at 365-day year fractions.
	npv := 0.0
	base := day("2024-01-01")
	for _, f := range flows {
		years := f.date.Sub(base).Hours() / 24 / 365
		npv += f.amount / math.Pow(1+rate, years)
	}
	assert.InDelta(t, 0.0, npv, 0.01)
	assert.Greater(t, rate, 0.0)
}

func TestSolveXIRRNegativeReturn(t *testing.T) {
	flows := []cashFlow{
		{date: day("2024-01-01"), amount: -1000},
		{date: day("2025-01-01"), amount: 800},
	}
	rate, ok := solveXIRR(flows)
	require.True(t, ok)
	assert.InDelta(t, -0.20, rate, 0.005)
}

func TestSolveXIRRNoSignChange(t *testing.T) {
	flows := []cashFlow{
		{date: day("2024-01-01"), amount: -1000},
		{date: day("2025-01-01"), amount: -500},
	}
	_, ok := solveXIRR(flows)
	assert.False(t, ok)
}

func TestSolveXIRRSingleFlow(t *testing.T) {
	_, ok := solveXIRR([]cashFlow{{date: time.Now(), amount: 100}})
	assert.False(t, ok)
}
