package invmodel

import (
	"fmt"

	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// QQQTemperatureName is the config identifier for the reference model.
const QQQTemperatureName = "qqq-temperature"

// MovingAverageDays is the trailing window used to compute the benchmark
// temperature.
const MovingAverageDays = 200

// Temperature curve anchors. Below coldTemp the model holds maximum
// leverage; above hotTemp it holds maximum reserves; between the anchors
// the leveraged and reserve fractions interpolate linearly.
const (
	coldTemp     = 0.90
	leverageZero = 1.10 // leveraged fraction reaches 0 here
	reserveStart = 1.00 // reserve fraction starts growing here
	hotTemp      = 1.20

	maxLeveraged = 0.60
	maxReserve   = 0.60
)

// QQQTemperature sizes a leveraged/base/reserve split off how far the
// benchmark trades above or below its trailing moving average.
type QQQTemperature struct{}

// NewQQQTemperature creates the reference temperature model.
func NewQQQTemperature() *QQQTemperature {
	return &QQQTemperature{}
}

// Name implements interfaces.InvestmentModel.
func (m *QQQTemperature) Name() string { return QQQTemperatureName }

// roleSymbols resolves the three role symbols, applying defaults.
func roleSymbols(cfg models.InvestmentModelConfig) (base, leveraged, reserve string) {
	base, leveraged, reserve = cfg.Symbol, cfg.LeveragedSymbol, cfg.ReserveSymbol
	if base == "" {
		base = "QQQ"
	}
	if leveraged == "" {
		leveraged = "TQQQ"
	}
	if reserve == "" {
		reserve = "BIL"
	}
	return
}

// Evaluate implements interfaces.InvestmentModel.
func (m *QQQTemperature) Evaluate(in interfaces.ModelInputs) models.ModelEvaluation {
	eval := models.ModelEvaluation{Model: QQQTemperatureName}

	temp, ok := Temperature(in.PriceHistory, MovingAverageDays)
	if !ok {
		eval.Decision = models.ModelDecision{Action: models.ActionError}
		eval.Status = fmt.Sprintf("need %d daily closes for the moving average, have %d",
			MovingAverageDays, len(in.PriceHistory))
		return eval
	}

	base, leveraged, reserve := roleSymbols(in.Config)
	lev, bas, res := Allocation(temp)
	target := normalizeAllocation(map[string]float64{
		base:      bas,
		leveraged: lev,
		reserve:   res,
	})

	action, reason := decide(in, target)
	eval.Decision = models.ModelDecision{Action: action, TargetAllocation: target}
	eval.Status = fmt.Sprintf("temperature %.3f: %s", temp, reason)
	return eval
}

// Temperature is the latest close divided by the trailing moving average
// over the given window. ok is false with fewer than window points.
func Temperature(history []models.PricePoint, window int) (float64, bool) {
	if window <= 0 || len(history) < window {
		return 0, false
	}
	tail := history[len(history)-window:]
	sum := 0.0
	for _, p := range tail {
		sum += p.Close
	}
	avg := sum / float64(window)
	if avg <= 0 {
		return 0, false
	}
	return tail[len(tail)-1].Close / avg, true
}

// TemperatureSeries computes one temperature point per day once the window
// has filled.
func TemperatureSeries(history []models.PricePoint, window int) []models.TemperaturePoint {
	if window <= 0 || len(history) < window {
		return nil
	}
	out := make([]models.TemperaturePoint, 0, len(history)-window+1)
	sum := 0.0
	for i, p := range history {
		sum += p.Close
		if i >= window {
			sum -= history[i-window].Close
		}
		if i >= window-1 {
			avg := sum / float64(window)
			if avg <= 0 {
				continue
			}
			out = append(out, models.TemperaturePoint{
				Date:        p.Date,
				Temperature: p.Close / avg,
			})
		}
	}
	return out
}

// Allocation maps a temperature to the (leveraged, base, reserve) split.
// Cold markets carry more leverage, hot markets more reserves; the base
// fraction absorbs the remainder so the three always sum to 1.
func Allocation(temp float64) (leveraged, base, reserve float64) {
	leveraged = rampDown(temp, coldTemp, leverageZero) * maxLeveraged
	reserve = rampUp(temp, reserveStart, hotTemp) * maxReserve
	base = 1 - leveraged - reserve
	return
}

// rampDown is 1 at or below lo, 0 at or above hi, linear between.
func rampDown(x, lo, hi float64) float64 {
	if x <= lo {
		return 1
	}
	if x >= hi {
		return 0
	}
	return (hi - x) / (hi - lo)
}

// rampUp is 0 at or below lo, 1 at or above hi, linear between.
func rampUp(x, lo, hi float64) float64 {
	if x <= lo {
		return 0
	}
	if x >= hi {
		return 1
	}
	return (x - lo) / (hi - lo)
}
