package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/crawler"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/services/invmodel"
)

// --- fakes ---

type fakeTokens struct {
	logins []models.Login
}

func (f *fakeTokens) ListLogins() ([]models.Login, error) { return f.logins, nil }

func (f *fakeTokens) GetLogin(id string) (*models.Login, error) {
	for i := range f.logins {
		if f.logins[i].ID == id {
			return &f.logins[i], nil
		}
	}
	return nil, fmt.Errorf("unknown login %q", id)
}

func (f *fakeTokens) RefreshAccessToken(ctx context.Context, loginID string) (*models.AccessCredentials, error) {
	return &models.AccessCredentials{AccessToken: "tok", APIServer: "https://api"}, nil
}

type fakeConfig struct {
	accounts map[string]*models.Account
	groups   []models.AccountGroup

	mu          sync.Mutex
	rebalanced  []string
	proportions map[string]map[string]float64
}

func (f *fakeConfig) Accounts() (map[string]*models.Account, error) { return f.accounts, nil }
func (f *fakeConfig) Groups() ([]models.AccountGroup, error)        { return f.groups, nil }

func (f *fakeConfig) SetTargetProportions(accountID string, percents map[string]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.proportions == nil {
		f.proportions = map[string]map[string]float64{}
	}
	f.proportions[accountID] = percents
	return nil
}

func (f *fakeConfig) SetSymbolNotes(accountID, symbol, note string) error { return nil }
func (f *fakeConfig) SetPlanningContext(accountID, text string) error     { return nil }

func (f *fakeConfig) MarkAccountRebalanced(accountID, model string, today time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebalanced = append(f.rebalanced, accountID+"/"+model)
	return nil
}

// fakeClient is a canned broker for one login. Counters are atomic because
// snapshot fetches run in parallel.
type fakeClient struct {
	mu            sync.Mutex
	accounts      []models.BrokerAccount
	balances      map[string]*models.Balances
	positions     map[string][]models.Position
	orders        map[string][]models.Order
	activities    map[string][]models.Activity
	candles       map[string][]models.Candle
	failBalances  map[string]error
	balancesCalls int
}

func (f *fakeClient) FetchAccounts(ctx context.Context) ([]models.BrokerAccount, error) {
	return f.accounts, nil
}

func (f *fakeClient) FetchBalances(ctx context.Context, number string) (*models.Balances, error) {
	f.mu.Lock()
	f.balancesCalls++
	f.mu.Unlock()
	if err := f.failBalances[number]; err != nil {
		return nil, err
	}
	if b, ok := f.balances[number]; ok {
		return b, nil
	}
	return &models.Balances{}, nil
}

func (f *fakeClient) FetchPositions(ctx context.Context, number string) ([]models.Position, error) {
	return f.positions[number], nil
}

func (f *fakeClient) FetchOrders(ctx context.Context, number string, start, end time.Time) ([]models.Order, error) {
	return f.orders[number], nil
}

func (f *fakeClient) FetchActivities(ctx context.Context, number string, start, end time.Time) ([]models.Activity, error) {
	var out []models.Activity
	for _, a := range f.activities[number] {
		d := a.EffectiveSettlementDate()
		if !d.Before(start) && !d.After(end.AddDate(0, 0, 1)) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeClient) FetchSymbolCandles(ctx context.Context, symbol, interval string, start, end time.Time) ([]models.Candle, error) {
	return f.candles[symbol], nil
}

type fakeFactory struct {
	clients map[string]*fakeClient
}

func (f *fakeFactory) ClientFor(loginID string) (interfaces.BrokerClient, error) {
	if c, ok := f.clients[loginID]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("unknown login %q", loginID)
}

// fakePrices is an in-memory PriceCache with recorded-range semantics.
type fakePrices struct {
	mu     sync.Mutex
	ranges map[string][]models.DateRange
	points map[string]map[string]float64
}

func newFakePrices() *fakePrices {
	return &fakePrices{
		ranges: map[string][]models.DateRange{},
		points: map[string]map[string]float64{},
	}
}

func (f *fakePrices) seed(symbol, dateKey string, close float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.points[symbol] == nil {
		f.points[symbol] = map[string]float64{}
	}
	f.points[symbol][dateKey] = close
	f.ranges[symbol] = append(f.ranges[symbol], models.DateRange{Start: dateKey, End: dateKey})
}

func (f *fakePrices) GetDailyCloses(symbol, startKey, endKey string) ([]models.PricePoint, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	covered := false
	for _, r := range f.ranges[symbol] {
		if r.Contains(startKey, endKey) {
			covered = true
			break
		}
	}
	if !covered {
		return nil, false
	}
	var out []models.PricePoint
	for key, close := range f.points[symbol] {
		if key >= startKey && key <= endKey {
			out = append(out, models.PricePoint{Symbol: symbol, Date: key, Close: close})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, true
}

func (f *fakePrices) Record(symbol string, fetched models.DateRange, points []models.PricePoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.points[symbol] == nil {
		f.points[symbol] = map[string]float64{}
	}
	for _, p := range points {
		f.points[symbol][p.Date] = p.Close
	}
	f.ranges[symbol] = append(f.ranges[symbol], fetched)
	return nil
}

func (f *fakePrices) LatestCloseAtOrBefore(symbol, dateKey string) (models.PricePoint, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	best := ""
	for key := range f.points[symbol] {
		if key <= dateKey && key > best {
			best = key
		}
	}
	if best == "" {
		return models.PricePoint{}, false
	}
	return models.PricePoint{Symbol: symbol, Date: best, Close: f.points[symbol][best]}, true
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// --- harness ---

func day(key string) time.Time {
	t, err := common.ParseDateKey(key)
	if err != nil {
		panic(err)
	}
	return t
}

func cadBalances(cash, equity float64) *models.Balances {
	return &models.Balances{
		PerCurrencyBalances: []models.CurrencyBalance{{Currency: "CAD", Cash: cash}},
		CombinedBalances:    []models.CurrencyBalance{{Currency: "CAD", Cash: cash, TotalEquity: equity}},
	}
}

func deposit(key string, amount float64) models.Activity {
	return models.Activity{
		TransactionDate: day(key),
		SettlementDate:  day(key),
		Type:            models.ActivityDeposits,
		Action:          "CON",
		Currency:        "CAD",
		NetAmount:       amount,
	}
}

func newTestService(t *testing.T) (*Service, *fakeClient, *stepClock) {
	t.Helper()

	client := &fakeClient{
		accounts: []models.BrokerAccount{
			{Number: "111", Type: "TFSA"},
			{Number: "222", Type: "Margin"},
		},
		balances: map[string]*models.Balances{
			"111": cadBalances(100, 1000),
			"222": cadBalances(50, 500),
		},
		positions: map[string][]models.Position{
			"111": {{Symbol: "QQQ", Currency: "USD", OpenQuantity: 2, CurrentMarketValue: 900, CurrentPrice: 450}},
			"222": {{Symbol: "QQQ", Currency: "USD", OpenQuantity: 1, CurrentMarketValue: 450, CurrentPrice: 450}},
		},
		activities: map[string][]models.Activity{
			"111": {deposit("2026-01-05", 800)},
			"222": {deposit("2026-02-10", 400)},
		},
		failBalances: map[string]error{},
	}

	clock := &stepClock{t: day("2026-08-24")}
	svc := New(
		&fakeFactory{clients: map[string]*fakeClient{"alpha": client}},
		&fakeTokens{logins: []models.Login{{ID: "alpha", Label: "Alpha"}}},
		&fakeConfig{
			accounts: map[string]*models.Account{
				"111": {DisplayName: "Growth", AccountGroup: "family"},
			},
			groups: []models.AccountGroup{
				{ID: "family", Name: "Family", Accounts: []string{"alpha:111", "alpha:222"}},
				{ID: "kids", Name: "Kids", Parent: "family", Accounts: []string{"alpha:222"}},
			},
		},
		newFakePrices(),
		crawler.New(common.NewSilentLogger(), 31),
		invmodel.NewRegistry(common.NewSilentLogger()),
		WithClock(clock),
		WithHistoryYears(1),
	)
	return svc, client, clock
}

// --- tests ---

func TestDiscoverAccountsAppliesOverlay(t *testing.T) {
	svc, _, _ := newTestService(t)

	accounts, err := svc.DiscoverAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	assert.Equal(t, "alpha:111", accounts[0].ID())
	assert.Equal(t, "Growth", accounts[0].DisplayName)
	assert.Equal(t, "family", accounts[0].AccountGroup)
	assert.Empty(t, accounts[1].DisplayName)
}

func TestSummaryComposesAllAccounts(t *testing.T) {
	svc, _, _ := newTestService(t)

	summary, err := svc.Summary(context.Background(), "", "")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"alpha:111", "alpha:222"}, summary.FilteredAccountIds)
	require.Contains(t, summary.AccountFunding, "alpha:111")
	require.Contains(t, summary.AccountFunding, "alpha:222")

	f111 := summary.AccountFunding["alpha:111"]
	assert.InDelta(t, 800, f111.NetDeposits.AllTimeCad, 1e-9)
	assert.InDelta(t, 200, f111.TotalPnl.AllTimeCad, 1e-9)

	// Positions merge by symbol across accounts.
	require.Len(t, summary.Positions, 1)
	assert.Equal(t, "QQQ", summary.Positions[0].Symbol)
	assert.InDelta(t, 3, summary.Positions[0].OpenQuantity, 1e-9)
	assert.InDelta(t, 1350, summary.Positions[0].CurrentMarketValue, 1e-9)

	// Combined balances aggregate equity.
	require.NotNil(t, summary.Balances)
	assert.InDelta(t, 1500, summary.Balances.CombinedBalances[0].TotalEquity, 1e-9)
}

func TestSummarySingleAccountSelector(t *testing.T) {
	svc, _, _ := newTestService(t)

	summary, err := svc.Summary(context.Background(), "222", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha:222"}, summary.FilteredAccountIds)
	assert.NotContains(t, summary.AccountFunding, "alpha:111")
	// The full account list is still reported for navigation.
	assert.Len(t, summary.Accounts, 2)
}

func TestSummaryGroupSelectorIncludesDescendants(t *testing.T) {
	svc, _, _ := newTestService(t)

	summary, err := svc.Summary(context.Background(), "group:family", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha:111", "alpha:222"}, summary.FilteredAccountIds)

	summary, err = svc.Summary(context.Background(), "group:kids", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha:222"}, summary.FilteredAccountIds)
}

func TestSummaryCachedUntilRefreshKeyChanges(t *testing.T) {
	svc, client, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.Summary(ctx, "", "k1")
	require.NoError(t, err)
	first := client.balancesCalls

	_, err = svc.Summary(ctx, "", "k1")
	require.NoError(t, err)
	assert.Equal(t, first, client.balancesCalls, "matching refreshKey must serve the cached summary")

	_, err = svc.Summary(ctx, "", "k2")
	require.NoError(t, err)
	assert.Greater(t, client.balancesCalls, first, "changed refreshKey must recompose")

	// Fresh-for-TTL, stale afterwards.
	before := client.balancesCalls
	clock.advance(6 * time.Minute)
	_, err = svc.Summary(ctx, "", "k2")
	require.NoError(t, err)
	assert.Greater(t, client.balancesCalls, before, "an expired cache entry must recompose")
}

func TestSummaryDegradesBrokenAccount(t *testing.T) {
	svc, client, _ := newTestService(t)
	client.failBalances["222"] = errors.New("balances unavailable")

	summary, err := svc.Summary(context.Background(), "", "")
	require.NoError(t, err)

	assert.NotEmpty(t, summary.AccountFunding["alpha:222"].Error)
	assert.Empty(t, summary.AccountFunding["alpha:111"].Error)
	assert.InDelta(t, 800, summary.AccountFunding["alpha:111"].NetDeposits.AllTimeCad, 1e-9)
}

func TestTotalPnlSeriesUnknownAccount(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.TotalPnlSeries(context.Background(), "999", true)
	require.Error(t, err)

	var ce *models.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, models.CodeInvalidAccount, ce.Code)
}

func TestTotalPnlSeriesStartsAtFirstDeposit(t *testing.T) {
	svc, _, _ := newTestService(t)

	series, err := svc.TotalPnlSeries(context.Background(), "111", false)
	require.NoError(t, err)

	require.NotEmpty(t, series.Points)
	assert.Equal(t, "2026-01-05", series.PeriodStartDate)
	last := series.Points[len(series.Points)-1]
	assert.InDelta(t, 200, last.TotalPnlCad, 1e-9)
	assert.InDelta(t, 800, last.CumulativeNetDepositsCad, 1e-9)
}

func TestBenchmarkReturnsBadDates(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.BenchmarkReturns(context.Background(), nil, "not-a-date", "")
	require.Error(t, err)

	var ce *models.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, models.CodeParseError, ce.Code)
}

func TestBenchmarkReturnsAnnualized(t *testing.T) {
	svc, client, _ := newTestService(t)
	client.candles = map[string][]models.Candle{
		"SPY": {
			{End: day("2025-08-24"), Close: 100},
			{End: day("2026-08-23"), Close: 110},
		},
	}

	returns, err := svc.BenchmarkReturns(context.Background(), []string{"SPY"}, "2025-08-24", "2026-08-24")
	require.NoError(t, err)
	require.Len(t, returns, 1)

	require.NotNil(t, returns[0].TotalReturn)
	assert.InDelta(t, 0.10, *returns[0].TotalReturn, 1e-9)
	require.NotNil(t, returns[0].AnnualizedRate)
	assert.InDelta(t, 0.10, *returns[0].AnnualizedRate, 0.001)
}

func TestHeldSymbolsDistinctAcrossAccounts(t *testing.T) {
	svc, client, _ := newTestService(t)
	client.positions["222"] = append(client.positions["222"],
		models.Position{Symbol: "VTI", Currency: "USD", OpenQuantity: 1, CurrentMarketValue: 300, CurrentPrice: 300})

	symbols, err := svc.HeldSymbols(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"QQQ", "VTI"}, symbols)
}
