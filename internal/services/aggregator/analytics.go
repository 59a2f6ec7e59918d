package aggregator

import (
	"context"
	"fmt"
	"math"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/services/funding"
	"github.com/bobmcallan/tally/internal/services/invmodel"
	"github.com/bobmcallan/tally/internal/services/planner"
)

// DefaultBenchmarks are the symbols reported by the benchmark-returns
// endpoint when the caller names none.
var DefaultBenchmarks = []string{"QQQ", "SPY", "XEQT.TO"}

// temperatureRangeDays is how much history the temperature endpoint returns
// beyond the moving-average warmup.
const temperatureRangeDays = 365

// findAccount resolves a single-account selector against the discovered
// accounts.
func (s *Service) findAccount(ctx context.Context, selector string) (models.Account, error) {
	accounts, err := s.DiscoverAccounts(ctx)
	if err != nil {
		return models.Account{}, err
	}
	for i := range accounts {
		if accounts[i].MatchesID(selector) {
			return accounts[i], nil
		}
	}
	return models.Account{}, models.NewConfigError(models.CodeInvalidAccount,
		"unknown account %q", selector)
}

// TotalPnlSeries builds the daily total-P&L series for one account.
func (s *Service) TotalPnlSeries(ctx context.Context, selector string, applyCagrStart bool) (*models.TotalPnlSeries, error) {
	account, err := s.findAccount(ctx, selector)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	snap := &snapshot{account: account}
	if err := s.fillSnapshot(ctx, snap, now.AddDate(-s.historyYears, 0, 0), now); err != nil {
		return nil, err
	}
	s.warmRates(ctx, []*snapshot{snap})

	engine := funding.New(rateSource{prices: s.prices}, funding.WithLogger(s.logger))
	series := engine.BuildSeries(funding.Inputs{
		Activities:           snap.activities,
		CurrentEquityCad:     snap.balances.CombinedCadEquity(),
		CagrStartDate:        account.CagrStartDate,
		NetDepositAdjustment: account.NetDepositAdjustment,
		Today:                now,
	}, applyCagrStart)
	return &series, nil
}

// TemperatureReport serves the benchmark temperature series and the current
// three-way allocation it implies.
func (s *Service) TemperatureReport(ctx context.Context, benchmark string) (*models.TemperatureReport, error) {
	if benchmark == "" {
		benchmark = "QQQ"
	}
	client, err := s.anyClient()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	startKey := common.DateKey(now.AddDate(0, 0, -(temperatureRangeDays + invmodel.MovingAverageDays)))
	endKey := common.DateKey(now)

	history, err := s.ensureDailyCloses(ctx, client, benchmark, startKey, endKey)
	if err != nil {
		return nil, err
	}

	series := invmodel.TemperatureSeries(history, invmodel.MovingAverageDays)
	if len(series) == 0 {
		return nil, fmt.Errorf("not enough %s history for a %d-day moving average", benchmark, invmodel.MovingAverageDays)
	}

	latest := series[len(series)-1].Temperature
	leveraged, base, reserve := invmodel.Allocation(latest)
	return &models.TemperatureReport{
		Series: series,
		Latest: latest,
		Allocation: map[string]float64{
			"tqqq":   leveraged,
			"qqq":    base,
			"tBills": reserve,
		},
		Updated:    now,
		RangeStart: series[0].Date,
		RangeEnd:   series[len(series)-1].Date,
	}, nil
}

// BenchmarkReturns computes each benchmark's annualized price return over
// [startKey, endKey] from cached closes.
func (s *Service) BenchmarkReturns(ctx context.Context, symbols []string, startKey, endKey string) ([]models.BenchmarkReturn, error) {
	if len(symbols) == 0 {
		symbols = DefaultBenchmarks
	}
	if endKey == "" {
		endKey = common.DateKey(s.clock.Now())
	}
	start, err := common.ParseDateKey(startKey)
	if err != nil {
		return nil, models.NewConfigError(models.CodeParseError, "bad startDate %q", startKey)
	}
	end, err := common.ParseDateKey(endKey)
	if err != nil {
		return nil, models.NewConfigError(models.CodeParseError, "bad endDate %q", endKey)
	}
	days := end.Sub(start).Hours() / 24
	if days <= 0 {
		return nil, models.NewConfigError(models.CodeParseError, "endDate must be after startDate")
	}

	client, err := s.anyClient()
	if err != nil {
		return nil, err
	}

	out := make([]models.BenchmarkReturn, 0, len(symbols))
	for _, symbol := range symbols {
		br := models.BenchmarkReturn{Symbol: symbol, StartDate: startKey, EndDate: endKey}
		history, err := s.ensureDailyCloses(ctx, client, symbol, startKey, endKey)
		if err != nil || len(history) < 2 {
			br.Error = "insufficient price history"
			out = append(out, br)
			continue
		}
		first, last := history[0].Close, history[len(history)-1].Close
		if first <= 0 {
			br.Error = "bad opening price"
			out = append(out, br)
			continue
		}
		total := last/first - 1
		annualized := math.Pow(last/first, 365/days) - 1
		br.TotalReturn = &total
		br.AnnualizedRate = &annualized
		out = append(out, br)
	}
	return out, nil
}

// InvestEvenlyRequest carries the caller's overrides for an invest-evenly
// plan.
type InvestEvenlyRequest struct {
	CadOverride          *float64 `json:"cadOverride,omitempty"`
	UsdOverride          *float64 `json:"usdOverride,omitempty"`
	UseTargetProportions bool     `json:"useTargetProportions"`
	SkipCadPurchases     bool     `json:"skipCadPurchases"`
	SkipUsdPurchases     bool     `json:"skipUsdPurchases"`
}

// InvestEvenly plans distributing an account's free cash across its
// holdings.
func (s *Service) InvestEvenly(ctx context.Context, selector string, req InvestEvenlyRequest) (*models.InvestEvenlyPlan, error) {
	account, err := s.findAccount(ctx, selector)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	snap := &snapshot{account: account}
	if err := s.fillSnapshot(ctx, snap, now.AddDate(0, 0, -ordersWindowDays), now); err != nil {
		return nil, err
	}

	cad := snap.balances.Cash("CAD")
	usd := snap.balances.Cash("USD")
	if req.CadOverride != nil {
		cad = *req.CadOverride
	}
	if req.UsdOverride != nil {
		usd = *req.UsdOverride
	}
	if account.IgnoreSittingCash > 0 {
		cad = math.Max(0, cad-account.IgnoreSittingCash)
	}

	targets := map[string]float64{}
	for symbol, settings := range account.Symbols {
		if settings.TargetProportion > 0 {
			targets[symbol] = settings.TargetProportion
		}
	}

	dlrCad, dlrUsd := s.dlrPrices(ctx, snap)
	plan := planner.InvestEvenly(planner.InvestEvenlyInputs{
		Positions:            snap.positions,
		AvailableCad:         cad,
		AvailableUsd:         usd,
		UsdToCadRate:         s.usdToCadRate(),
		TargetPercents:       targets,
		UseTargetProportions: req.UseTargetProportions,
		SkipCadPurchases:     req.SkipCadPurchases,
		SkipUsdPurchases:     req.SkipUsdPurchases,
		DlrCadPrice:          dlrCad,
		DlrUsdPrice:          dlrUsd,
	})
	return &plan, nil
}

// DeploymentRequest is the target split for a deployment-adjustment plan.
type DeploymentRequest struct {
	TargetDeployedPercent float64  `json:"targetDeployedPercent"`
	ReserveSymbols        []string `json:"reserveSymbols,omitempty"`
	FallbackReserveSymbol string   `json:"fallbackReserveSymbol,omitempty"`
}

// AdjustDeployment plans moving an account toward a target deployed
// percentage.
func (s *Service) AdjustDeployment(ctx context.Context, selector string, req DeploymentRequest) (*models.DeploymentPlan, error) {
	account, err := s.findAccount(ctx, selector)
	if err != nil {
		return nil, err
	}
	if req.TargetDeployedPercent < 0 || req.TargetDeployedPercent > 100 {
		return nil, models.NewConfigError(models.CodeParseError, "targetDeployedPercent must be 0..100")
	}

	now := s.clock.Now().UTC()
	snap := &snapshot{account: account}
	if err := s.fillSnapshot(ctx, snap, now.AddDate(0, 0, -ordersWindowDays), now); err != nil {
		return nil, err
	}

	reserve := map[string]bool{}
	for _, symbol := range req.ReserveSymbols {
		reserve[symbol] = true
	}
	fallbackPrice := 0.0
	if req.FallbackReserveSymbol != "" {
		for _, p := range snap.positions {
			if p.Symbol == req.FallbackReserveSymbol {
				fallbackPrice = p.CurrentPrice
			}
		}
		if fallbackPrice == 0 {
			if pt, ok := s.prices.LatestCloseAtOrBefore(req.FallbackReserveSymbol, common.DateKey(now)); ok {
				fallbackPrice = pt.Close
			}
		}
	}

	dlrCad, dlrUsd := s.dlrPrices(ctx, snap)
	plan := planner.AdjustDeployment(planner.DeploymentInputs{
		Positions:             snap.positions,
		AvailableCad:          snap.balances.Cash("CAD"),
		AvailableUsd:          snap.balances.Cash("USD"),
		UsdToCadRate:          s.usdToCadRate(),
		ReserveSymbols:        reserve,
		FallbackReserveSymbol: req.FallbackReserveSymbol,
		FallbackReservePrice:  fallbackPrice,
		TargetDeployedPercent: req.TargetDeployedPercent,
		DlrCadPrice:           dlrCad,
		DlrUsdPrice:           dlrUsd,
	})
	return &plan, nil
}

// dlrPrices finds the DLR pair prices from held positions first, then the
// price cache.
func (s *Service) dlrPrices(ctx context.Context, snap *snapshot) (dlrCad, dlrUsd float64) {
	for _, p := range snap.positions {
		switch p.Symbol {
		case planner.DlrCadSymbol:
			dlrCad = p.CurrentPrice
		case planner.DlrUsdSymbol:
			dlrUsd = p.CurrentPrice
		}
	}
	today := common.DateKey(s.clock.Now())
	client, clientErr := s.factory.ClientFor(snap.account.LoginID)
	for symbol, dst := range map[string]*float64{
		planner.DlrCadSymbol: &dlrCad,
		planner.DlrUsdSymbol: &dlrUsd,
	} {
		if *dst != 0 {
			continue
		}
		if p, ok := s.prices.LatestCloseAtOrBefore(symbol, today); ok {
			*dst = p.Close
			continue
		}
		if clientErr == nil {
			yesterday := common.DateKey(s.clock.Now().AddDate(0, 0, -7))
			if points, err := s.ensureDailyCloses(ctx, client, symbol, yesterday, today); err == nil && len(points) > 0 {
				*dst = points[len(points)-1].Close
			}
		}
	}
	return
}

// HeldSymbols lists the distinct symbols across every account, for the
// portfolio-news endpoint.
func (s *Service) HeldSymbols(ctx context.Context) ([]string, error) {
	accounts, err := s.DiscoverAccounts(ctx)
	if err != nil {
		return nil, err
	}
	snapshots := s.fetchSnapshots(ctx, accounts)

	seen := map[string]bool{}
	var out []string
	for _, snap := range snapshots {
		if snap.err != nil {
			continue
		}
		for _, p := range snap.positions {
			if !seen[p.Symbol] {
				seen[p.Symbol] = true
				out = append(out, p.Symbol)
			}
		}
	}
	return out, nil
}

// anyClient returns a broker client for the first known login.
func (s *Service) anyClient() (interfaces.BrokerClient, error) {
	logins, err := s.tokens.ListLogins()
	if err != nil {
		return nil, err
	}
	if len(logins) == 0 {
		return nil, fmt.Errorf("no logins configured")
	}
	return s.factory.ClientFor(logins[0].ID)
}
