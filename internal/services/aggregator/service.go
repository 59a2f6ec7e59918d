// Package aggregator composes the unified portfolio view: it fans out to the
// broker per selected account, joins one consistent snapshot, and layers the
// funding, model, and planning analytics on top.
package aggregator

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/crawler"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/services/funding"
	"github.com/bobmcallan/tally/internal/services/invmodel"
)

// PriceCache is the price store the aggregator reads and warms on misses.
type PriceCache interface {
	interfaces.PriceSource
	LatestCloseAtOrBefore(symbol, dateKey string) (models.PricePoint, bool)
}

// DefaultHistoryYears bounds how far back activity crawls reach.
const DefaultHistoryYears = 10

// ordersWindowDays is how far back the summary's order list reaches.
const ordersWindowDays = 30

// summaryTTL is how long a composed summary may be served from memory.
const summaryTTL = 5 * time.Minute

// Service composes summaries across logins and accounts.
type Service struct {
	factory      interfaces.BrokerClientFactory
	tokens       interfaces.TokenStore
	config       interfaces.ConfigStore
	prices       PriceCache
	crawler      *crawler.Crawler
	registry     *invmodel.Registry
	logger       *common.Logger
	clock        common.Clock
	historyYears int

	mu    sync.Mutex
	cache map[string]*cachedSummary
}

type cachedSummary struct {
	summary    *models.Summary
	refreshKey string
	at         time.Time
}

// Option configures the service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock sets the clock
func WithClock(clock common.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithHistoryYears bounds the activity crawl horizon.
func WithHistoryYears(years int) Option {
	return func(s *Service) {
		if years > 0 {
			s.historyYears = years
		}
	}
}

// New creates the aggregator service.
func New(factory interfaces.BrokerClientFactory, tokens interfaces.TokenStore, config interfaces.ConfigStore, prices PriceCache, cr *crawler.Crawler, registry *invmodel.Registry, opts ...Option) *Service {
	s := &Service{
		factory:      factory,
		tokens:       tokens,
		config:       config,
		prices:       prices,
		crawler:      cr,
		registry:     registry,
		logger:       common.NewSilentLogger(),
		clock:        common.SystemClock{},
		historyYears: DefaultHistoryYears,
		cache:        map[string]*cachedSummary{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// snapshot is one account's joined broker state, fetched in parallel and
// composed only after every fetch has returned.
type snapshot struct {
	account    models.Account
	balances   *models.Balances
	positions  []models.Position
	orders     []models.Order
	activities []models.Activity
	err        error
}

// Summary composes the unified document for a selection. A matching
// refreshKey serves the cached copy while it is fresh; a changed key forces
// recomposition.
func (s *Service) Summary(ctx context.Context, selector, refreshKey string) (*models.Summary, error) {
	if cached := s.cachedFor(selector, refreshKey); cached != nil {
		return cached, nil
	}

	accounts, err := s.DiscoverAccounts(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := s.config.Groups()
	if err != nil {
		return nil, err
	}

	selected := resolveSelection(selector, accounts, groups)
	snapshots := s.fetchSnapshots(ctx, selected)

	s.warmRates(ctx, snapshots)

	summary := &models.Summary{
		Accounts:                   accounts,
		AccountGroups:              groups,
		GroupRelations:             groupRelations(groups),
		FilteredAccountIds:         accountIDs(selected),
		AccountBalances:            map[string]*models.Balances{},
		AccountFunding:             map[string]models.FundingSummary{},
		AccountDividends:           map[string][]models.Activity{},
		InvestmentModelEvaluations: map[string][]models.ModelEvaluation{},
		AccountTotalPnlSeries:      map[string]models.TotalPnlSeries{},
		AsOf:                       s.clock.Now().UTC(),
	}

	engine := funding.New(rateSource{prices: s.prices}, funding.WithLogger(s.logger))
	for _, snap := range snapshots {
		id := snap.account.ID()
		if snap.err != nil {
			// A broken account degrades to an error entry; the rest of the
			// summary is still served.
			s.logger.Warn().Str("account", id).Err(snap.err).Msg("Account snapshot failed")
			summary.AccountFunding[id] = models.FundingSummary{Error: snap.err.Error()}
			continue
		}

		summary.AccountBalances[id] = snap.balances
		summary.AccountDividends[id] = dividends(snap.activities)

		in := funding.Inputs{
			Activities:           snap.activities,
			CurrentEquityCad:     snap.balances.CombinedCadEquity(),
			CagrStartDate:        snap.account.CagrStartDate,
			NetDepositAdjustment: snap.account.NetDepositAdjustment,
			Today:                s.clock.Now().UTC(),
		}
		summary.AccountFunding[id] = engine.Summarize(in)
		summary.AccountTotalPnlSeries[id] = engine.BuildSeries(in, true)
		summary.InvestmentModelEvaluations[id] = s.evaluateModels(ctx, snap)
	}

	summary.Positions = mergePositions(snapshots, s.usdToCadRate())
	summary.Orders = mergeOrders(snapshots)
	summary.Balances = mergeBalances(snapshots)
	summary.UsdToCadRate = s.usdToCadRate()

	s.storeCache(selector, refreshKey, summary)
	return summary, nil
}

// DiscoverAccounts lists every account visible to any login, merged with the
// user's configuration overlay.
func (s *Service) DiscoverAccounts(ctx context.Context) ([]models.Account, error) {
	logins, err := s.tokens.ListLogins()
	if err != nil {
		return nil, err
	}
	overlay, err := s.config.Accounts()
	if err != nil {
		return nil, err
	}

	results := make([][]models.Account, len(logins))
	g, gctx := errgroup.WithContext(ctx)
	for i, login := range logins {
		g.Go(func() error {
			client, err := s.factory.ClientFor(login.ID)
			if err != nil {
				return err
			}
			brokerAccounts, err := client.FetchAccounts(gctx)
			if err != nil {
				return err
			}
			accounts := make([]models.Account, 0, len(brokerAccounts))
			for _, ba := range brokerAccounts {
				acc := models.Account{
					LoginID: login.ID,
					Number:  ba.Number,
					Type:    ba.Type,
				}
				applyOverlay(&acc, overlay)
				accounts = append(accounts, acc)
			}
			results[i] = accounts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []models.Account
	for _, batch := range results {
		out = append(out, batch...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// applyOverlay copies the user's per-account settings onto a discovered
// account, matching by full id or bare number.
func applyOverlay(acc *models.Account, overlay map[string]*models.Account) {
	cfg, ok := overlay[acc.ID()]
	if !ok {
		cfg, ok = overlay[acc.Number]
	}
	if !ok || cfg == nil {
		return
	}
	acc.Beneficiary = cfg.Beneficiary
	acc.DisplayName = cfg.DisplayName
	acc.AccountGroup = cfg.AccountGroup
	acc.CagrStartDate = cfg.CagrStartDate
	acc.NetDepositAdjustment = cfg.NetDepositAdjustment
	acc.IgnoreSittingCash = cfg.IgnoreSittingCash
	acc.RebalancePeriod = cfg.RebalancePeriod
	acc.InvestmentModels = cfg.InvestmentModels
	acc.Symbols = cfg.Symbols
	acc.PlanningContext = cfg.PlanningContext
}

// fetchSnapshots joins balances, positions, orders, and the full activity
// crawl for each selected account. Fetches run in parallel across accounts;
// a failure degrades that account only.
func (s *Service) fetchSnapshots(ctx context.Context, selected []models.Account) []*snapshot {
	now := s.clock.Now().UTC()
	crawlFrom := now.AddDate(-s.historyYears, 0, 0)

	snapshots := make([]*snapshot, len(selected))
	var wg sync.WaitGroup
	for i, acc := range selected {
		snapshots[i] = &snapshot{account: acc}
		wg.Add(1)
		go func(snap *snapshot) {
			defer wg.Done()
			snap.err = s.fillSnapshot(ctx, snap, crawlFrom, now)
		}(snapshots[i])
	}
	wg.Wait()
	return snapshots
}

func (s *Service) fillSnapshot(ctx context.Context, snap *snapshot, crawlFrom, now time.Time) error {
	client, err := s.factory.ClientFor(snap.account.LoginID)
	if err != nil {
		return err
	}
	number := snap.account.Number

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		balances, err := client.FetchBalances(gctx, number)
		if err != nil {
			return err
		}
		snap.balances = balances
		return nil
	})
	g.Go(func() error {
		positions, err := client.FetchPositions(gctx, number)
		if err != nil {
			return err
		}
		snap.positions = positions
		return nil
	})
	g.Go(func() error {
		orders, err := client.FetchOrders(gctx, number, now.AddDate(0, 0, -ordersWindowDays), now)
		if err != nil {
			return err
		}
		snap.orders = orders
		return nil
	})
	g.Go(func() error {
		activities, err := s.crawler.Crawl(gctx, client, number, crawlFrom, now)
		if err != nil {
			return err
		}
		snap.activities = activities
		return nil
	})
	return g.Wait()
}

// evaluateModels runs each configured investment model on the account's
// current holdings.
func (s *Service) evaluateModels(ctx context.Context, snap *snapshot) []models.ModelEvaluation {
	if len(snap.account.InvestmentModels) == 0 {
		return nil
	}
	client, err := s.factory.ClientFor(snap.account.LoginID)
	if err != nil {
		return nil
	}

	now := s.clock.Now().UTC()
	evals := make([]models.ModelEvaluation, 0, len(snap.account.InvestmentModels))
	for _, cfg := range snap.account.InvestmentModels {
		benchmark := cfg.Symbol
		if benchmark == "" {
			benchmark = "QQQ"
		}
		history, err := s.ensureDailyCloses(ctx, client, benchmark,
			common.DateKey(now.AddDate(0, 0, -invmodel.MovingAverageDays-60)),
			common.DateKey(now))
		if err != nil {
			evals = append(evals, models.ModelEvaluation{
				Model:    cfg.Model,
				Decision: models.ModelDecision{Action: models.ActionError},
				Status:   err.Error(),
			})
			continue
		}
		evals = append(evals, s.registry.Evaluate(interfaces.ModelInputs{
			Positions:    snap.positions,
			Balances:     snap.balances,
			PriceHistory: history,
			Config:       cfg,
			Today:        now,
		}))
	}
	return evals
}

// warmRates makes sure USDCAD=X covers every non-CAD flow before the funding
// engine runs, using the first account whose client is reachable.
func (s *Service) warmRates(ctx context.Context, snapshots []*snapshot) {
	earliest := ""
	for _, snap := range snapshots {
		for i := range snap.activities {
			a := &snap.activities[i]
			if a.Currency == "" || a.Currency == "CAD" {
				continue
			}
			key := common.DateKey(a.EffectiveSettlementDate())
			if earliest == "" || key < earliest {
				earliest = key
			}
		}
	}
	if earliest == "" {
		return
	}

	today := common.DateKey(s.clock.Now())
	for _, snap := range snapshots {
		if snap.err != nil {
			continue
		}
		client, err := s.factory.ClientFor(snap.account.LoginID)
		if err != nil {
			continue
		}
		if _, err := s.ensureDailyCloses(ctx, client, funding.UsdCadSymbol, earliest, today); err != nil {
			s.logger.Warn().Err(err).Msg("Exchange-rate warmup failed")
		}
		return
	}
}

func (s *Service) cachedFor(selector, refreshKey string) *models.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[selector]
	if !ok {
		return nil
	}
	if refreshKey != entry.refreshKey {
		return nil
	}
	if s.clock.Now().Sub(entry.at) > summaryTTL {
		return nil
	}
	return entry.summary
}

func (s *Service) storeCache(selector, refreshKey string, summary *models.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[selector] = &cachedSummary{summary: summary, refreshKey: refreshKey, at: s.clock.Now()}
}

// dividends filters the dividend activities out of a stream.
func dividends(activities []models.Activity) []models.Activity {
	var out []models.Activity
	for _, a := range activities {
		if a.Type == models.ActivityDividends {
			out = append(out, a)
		}
	}
	return out
}

func accountIDs(accounts []models.Account) []string {
	out := make([]string, 0, len(accounts))
	for i := range accounts {
		out = append(out, accounts[i].ID())
	}
	return out
}

func groupRelations(groups []models.AccountGroup) map[string]string {
	out := map[string]string{}
	for _, g := range groups {
		if g.Parent != "" {
			out[g.ID] = g.Parent
		}
	}
	return out
}
