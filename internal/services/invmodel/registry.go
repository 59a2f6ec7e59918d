// Package invmodel evaluates configured investment models against current
// holdings and decides hold versus rebalance.
package invmodel

import (
	"fmt"
	"math"
	"sort"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// DefaultDriftBand is the allocation drift, in fraction points, beyond which
// a rebalance is signalled on any component.
const DefaultDriftBand = 0.05

// Registry maps model names to implementations.
type Registry struct {
	models map[string]interfaces.InvestmentModel
	logger *common.Logger
}

// NewRegistry creates a registry with the built-in models registered.
func NewRegistry(logger *common.Logger) *Registry {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	r := &Registry{models: map[string]interfaces.InvestmentModel{}, logger: logger}
	r.Register(NewQQQTemperature())
	return r
}

// Register adds a model implementation, replacing any previous one.
func (r *Registry) Register(m interfaces.InvestmentModel) {
	r.models[m.Name()] = m
}

// Lookup returns the named model.
func (r *Registry) Lookup(name string) (interfaces.InvestmentModel, bool) {
	m, ok := r.models[name]
	return m, ok
}

// Evaluate runs one configured model. Unknown model names produce an error
// evaluation rather than a Go error so one bad config cannot sink a summary.
func (r *Registry) Evaluate(in interfaces.ModelInputs) models.ModelEvaluation {
	m, ok := r.models[in.Config.Model]
	if !ok {
		return models.ModelEvaluation{
			Model:    in.Config.Model,
			Decision: models.ModelDecision{Action: models.ActionError},
			Status:   fmt.Sprintf("unknown investment model %q", in.Config.Model),
		}
	}
	return m.Evaluate(in)
}

// decide applies the shared hold/rebalance rule: rebalance when any observed
// component drifts more than the band from its target, or when the
// configured rebalance period has elapsed since the last rebalance.
func decide(in interfaces.ModelInputs, target map[string]float64) (models.ModelAction, string) {
	observed := observedWeights(in.Positions, target)

	maxDrift := 0.0
	driftSymbol := ""
	for symbol, want := range target {
		drift := math.Abs(observed[symbol] - want)
		if drift > maxDrift {
			maxDrift = drift
			driftSymbol = symbol
		}
	}
	if maxDrift > DefaultDriftBand {
		return models.ActionRebalance,
			fmt.Sprintf("%s drifted %.1fpp from target", driftSymbol, maxDrift*100)
	}

	if in.Config.RebalancePeriod > 0 {
		if in.Config.LastRebalance == "" {
			return models.ActionRebalance, "never rebalanced"
		}
		last, err := common.ParseDateKey(in.Config.LastRebalance)
		if err != nil {
			return models.ActionError,
				fmt.Sprintf("unparseable lastRebalance %q", in.Config.LastRebalance)
		}
		elapsed := int(in.Today.Sub(last).Hours() / 24)
		if elapsed >= in.Config.RebalancePeriod {
			return models.ActionRebalance,
				fmt.Sprintf("%d days since last rebalance (period %d)", elapsed, in.Config.RebalancePeriod)
		}
	}

	return models.ActionHold, fmt.Sprintf("max drift %.1fpp within band", maxDrift*100)
}

// observedWeights computes the portfolio weight of each target symbol over
// the market value held in the target symbols only.
func observedWeights(positions []models.Position, target map[string]float64) map[string]float64 {
	total := 0.0
	value := map[string]float64{}
	for _, p := range positions {
		if _, ok := target[p.Symbol]; !ok {
			continue
		}
		value[p.Symbol] += p.CurrentMarketValue
		total += p.CurrentMarketValue
	}

	out := map[string]float64{}
	if total <= 0 {
		return out
	}
	for symbol := range target {
		out[symbol] = value[symbol] / total
	}
	return out
}

// normalizeAllocation scales the allocation so its values sum to exactly 1,
// guarding the summation invariant against float drift.
func normalizeAllocation(alloc map[string]float64) map[string]float64 {
	sum := 0.0
	for _, v := range alloc {
		sum += v
	}
	if sum == 0 {
		return alloc
	}
	keys := make([]string, 0, len(alloc))
	for k := range alloc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]float64, len(alloc))
	for _, k := range keys {
		out[k] = alloc[k] / sum
	}
	return out
}
