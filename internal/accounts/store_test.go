package accounts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/tally/internal/models"
)

func newTestStore(t *testing.T, content string) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.json")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return NewStore(path, nil), path
}

const fixture = `{
  "accounts": [
    {
      "loginId": "alpha",
      "number": "111",
      "displayName": "Core TFSA",
      "cagrStartDate": "2023-01-01",
      "netDepositAdjustment": -500,
      "symbols": {
        "QQQ": {"targetProportion": 60, "notes": "core holding"},
        "VFV.TO": {"targetProportion": 40}
      },
      "investmentModels": [
        {"model": "qqq-temperature", "lastRebalance": "2026-01-15"}
      ]
    },
    {"loginId": "beta", "number": 222, "accountGroup": "retirement"}
  ],
  "groups": [
    {"id": "family", "name": "Family", "accounts": ["alpha:111"]},
    {"id": "kids", "name": "Kids", "parent": "family", "accounts": ["beta:222"]}
  ]
}`

func TestAccountsProjection(t *testing.T) {
	store, _ := newTestStore(t, fixture)

	accts, err := store.Accounts()
	require.NoError(t, err)

	// Keyed by bare number and by full id.
	core := accts["111"]
	require.NotNil(t, core)
	assert.Same(t, core, accts["alpha:111"])
	assert.Equal(t, "Core TFSA", core.DisplayName)
	assert.Equal(t, "2023-01-01", core.CagrStartDate)
	assert.Equal(t, -500.0, core.NetDepositAdjustment)
	assert.Equal(t, 60.0, core.Symbols["QQQ"].TargetProportion)
	assert.Equal(t, "core holding", core.Symbols["QQQ"].Notes)

	// Numeric account numbers are accepted.
	other := accts["222"]
	require.NotNil(t, other)
	assert.Equal(t, "beta", other.LoginID)
	assert.Equal(t, "retirement", other.AccountGroup)
}

func TestGroupsIncludeInferred(t *testing.T) {
	store, _ := newTestStore(t, fixture)

	groups, err := store.Groups()
	require.NoError(t, err)

	byID := map[string]models.AccountGroup{}
	for _, g := range groups {
		byID[g.ID] = g
	}

	require.Contains(t, byID, "family")
	require.Contains(t, byID, "kids")
	assert.Equal(t, "family", byID["kids"].Parent)

	// accountGroup attributes create groups implicitly.
	require.Contains(t, byID, "retirement")
	assert.Contains(t, byID["retirement"].Accounts, "beta:222")
}

func TestGroupCyclesAreBroken(t *testing.T) {
	store, _ := newTestStore(t, `{
	  "groups": [
	    {"id": "a", "name": "A", "parent": "b", "accounts": []},
	    {"id": "b", "name": "B", "parent": "a", "accounts": []}
	  ]
	}`)

	groups, err := store.Groups()
	require.NoError(t, err)

	roots := 0
	for _, g := range groups {
		if g.Parent == "" {
			roots++
		}
	}
	assert.GreaterOrEqual(t, roots, 1, "at least one cycle participant becomes a root")
}

func TestMissingFileIsEmptyOverlay(t *testing.T) {
	store, _ := newTestStore(t, "")

	accts, err := store.Accounts()
	require.NoError(t, err)
	assert.Empty(t, accts)
}

func TestInvalidJSONIsParseError(t *testing.T) {
	store, _ := newTestStore(t, "{broken")

	_, err := store.Accounts()
	require.Error(t, err)

	var ce *models.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, models.CodeParseError, ce.Code)
}

func TestSetTargetProportionsValidation(t *testing.T) {
	store, _ := newTestStore(t, fixture)

	err := store.SetTargetProportions("111", nil)
	var ce *models.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, models.CodeInvalidProportions, ce.Code)

	err = store.SetTargetProportions("111", map[string]float64{"QQQ": -5})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, models.CodeInvalidProportions, ce.Code)

	err = store.SetTargetProportions("111", map[string]float64{" ": 100})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, models.CodeInvalidSymbol, ce.Code)
}

func TestSetTargetProportionsReplacesButKeepsNotes(t *testing.T) {
	store, _ := newTestStore(t, fixture)

	require.NoError(t, store.SetTargetProportions("alpha:111", map[string]float64{
		"QQQ": 70,
		"SPY": 30,
	}))

	accts, err := store.Accounts()
	require.NoError(t, err)
	core := accts["111"]
	require.NotNil(t, core)

	assert.Equal(t, 70.0, core.Symbols["QQQ"].TargetProportion)
	assert.Equal(t, "core holding", core.Symbols["QQQ"].Notes, "notes survive a replace")
	assert.Equal(t, 30.0, core.Symbols["SPY"].TargetProportion)

	// VFV.TO had only a proportion; the replace removes it entirely.
	_, ok := core.Symbols["VFV.TO"]
	assert.False(t, ok)
}

func TestSetSymbolNotes(t *testing.T) {
	store, _ := newTestStore(t, fixture)

	require.NoError(t, store.SetSymbolNotes("111", "SPY", "benchmark sleeve"))

	accts, err := store.Accounts()
	require.NoError(t, err)
	assert.Equal(t, "benchmark sleeve", accts["111"].Symbols["SPY"].Notes)

	// Empty note removes the entry.
	require.NoError(t, store.SetSymbolNotes("111", "SPY", ""))
	accts, err = store.Accounts()
	require.NoError(t, err)
	_, ok := accts["111"].Symbols["SPY"]
	assert.False(t, ok)

	err = store.SetSymbolNotes("111", "  ", "x")
	var ce *models.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, models.CodeInvalidSymbol, ce.Code)
}

func TestSetPlanningContext(t *testing.T) {
	store, _ := newTestStore(t, fixture)

	require.NoError(t, store.SetPlanningContext("111", "deploy cash over 3 months"))
	accts, err := store.Accounts()
	require.NoError(t, err)
	assert.Equal(t, "deploy cash over 3 months", accts["111"].PlanningContext)

	require.NoError(t, store.SetPlanningContext("111", ""))
	accts, err = store.Accounts()
	require.NoError(t, err)
	assert.Empty(t, accts["111"].PlanningContext)
}

func TestMutationCreatesOverrideForUnknownAccount(t *testing.T) {
	store, path := newTestStore(t, fixture)

	require.NoError(t, store.SetPlanningContext("alpha:999", "new account"))

	accts, err := store.Accounts()
	require.NoError(t, err)
	created := accts["999"]
	require.NotNil(t, created)
	assert.Equal(t, "alpha", created.LoginID)
	assert.Equal(t, "new account", created.PlanningContext)

	// The rewrite is well-formed JSON.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
}

func TestMarkAccountRebalanced(t *testing.T) {
	store, _ := newTestStore(t, fixture)
	today := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)

	require.NoError(t, store.MarkAccountRebalanced("111", "qqq-temperature", today))

	accts, err := store.Accounts()
	require.NoError(t, err)
	require.Len(t, accts["111"].InvestmentModels, 1)
	assert.Equal(t, "2026-08-24", accts["111"].InvestmentModels[0].LastRebalance)
}

func TestMarkAccountRebalancedUnknownModel(t *testing.T) {
	store, _ := newTestStore(t, fixture)

	err := store.MarkAccountRebalanced("111", "no-such-model", time.Now())
	var ce *models.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, models.CodeNotFound, ce.Code)
}

func TestMarkAccountRebalancedAllModels(t *testing.T) {
	store, _ := newTestStore(t, fixture)
	today := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	// Empty model stamps every configured model.
	require.NoError(t, store.MarkAccountRebalanced("111", "", today))

	accts, err := store.Accounts()
	require.NoError(t, err)
	assert.Equal(t, "2026-08-24", accts["111"].InvestmentModels[0].LastRebalance)
}
