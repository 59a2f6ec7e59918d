package aggregator

import (
	"context"
	"fmt"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/services/funding"
)

// candleInterval is the broker granularity backing the daily price cache.
const candleInterval = "OneDay"

// ensureDailyCloses serves [startKey, endKey] from the cache, fetching and
// recording the window on a miss.
func (s *Service) ensureDailyCloses(ctx context.Context, client interfaces.BrokerClient, symbol, startKey, endKey string) ([]models.PricePoint, error) {
	if points, ok := s.prices.GetDailyCloses(symbol, startKey, endKey); ok {
		return points, nil
	}

	start, err := common.ParseDateKey(startKey)
	if err != nil {
		return nil, fmt.Errorf("bad start date %q: %w", startKey, err)
	}
	end, err := common.ParseDateKey(endKey)
	if err != nil {
		return nil, fmt.Errorf("bad end date %q: %w", endKey, err)
	}

	candles, err := client.FetchSymbolCandles(ctx, symbol, candleInterval, start, end.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("price fetch for %s failed: %w", symbol, err)
	}

	points := make([]models.PricePoint, 0, len(candles))
	for _, c := range candles {
		points = append(points, models.PricePoint{
			Symbol: symbol,
			Date:   common.DateKey(c.End),
			Close:  c.Close,
		})
	}
	if err := s.prices.Record(symbol, models.DateRange{Start: startKey, End: endKey}, points); err != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Price cache write failed")
	}

	cached, _ := s.prices.GetDailyCloses(symbol, startKey, endKey)
	if cached != nil {
		return cached, nil
	}
	return points, nil
}

// usdToCadRate is the most recent cached USD→CAD close, or 1 when the rate
// was never cached.
func (s *Service) usdToCadRate() float64 {
	today := common.DateKey(s.clock.Now())
	if p, ok := s.prices.LatestCloseAtOrBefore(funding.UsdCadSymbol, today); ok && p.Close > 0 {
		return p.Close
	}
	return 1
}

// rateSource adapts the price cache to the funding engine's FX lookup.
type rateSource struct {
	prices PriceCache
}

func (r rateSource) RateToCad(currency, dateKey string) (float64, bool, bool) {
	symbol := fmt.Sprintf("%sCAD=X", currency)
	if points, ok := r.prices.GetDailyCloses(symbol, dateKey, dateKey); ok && len(points) > 0 {
		return points[0].Close, true, true
	}
	if p, ok := r.prices.LatestCloseAtOrBefore(symbol, dateKey); ok && p.Close > 0 {
		return p.Close, false, true
	}
	return 0, false, false
}
