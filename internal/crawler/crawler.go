// Package crawler fetches and normalizes paged activity history, hiding the
// broker's 31-day window cap from callers.
package crawler

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// Crawler stitches windowed activity fetches into one normalized stream.
type Crawler struct {
	logger     *common.Logger
	windowDays int
}

// New creates a crawler. windowDays is the broker's per-request cap.
func New(logger *common.Logger, windowDays int) *Crawler {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	if windowDays <= 0 {
		windowDays = 31
	}
	return &Crawler{logger: logger, windowDays: windowDays}
}

// window is one sub-range of a crawl.
type window struct {
	start, end time.Time
}

// sliceWindows splits [from, to] into consecutive non-overlapping sub-ranges
// of at most windowDays days whose union equals the request.
func (c *Crawler) sliceWindows(from, to time.Time) []window {
	var out []window
	cur := from
	for !cur.After(to) {
		end := cur.AddDate(0, 0, c.windowDays-1)
		if end.After(to) {
			end = to
		}
		out = append(out, window{start: cur, end: end})
		cur = end.AddDate(0, 0, 1)
	}
	return out
}

// Crawl fetches activities for one account over [from, to], slicing the
// range, de-duplicating across windows, and sorting by transaction date.
func (c *Crawler) Crawl(ctx context.Context, client interfaces.BrokerClient, accountNumber string, from, to time.Time) ([]models.Activity, error) {
	windows := c.sliceWindows(from, to)
	if len(windows) == 0 {
		return nil, nil
	}

	c.logger.Debug().
		Str("account", accountNumber).
		Str("from", common.DateKey(from)).
		Str("to", common.DateKey(to)).
		Int("windows", len(windows)).
		Msg("Crawling activities")

	results := make([][]models.Activity, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range windows {
		g.Go(func() error {
			acts, err := client.FetchActivities(gctx, accountNumber, w.start, w.end)
			if err != nil {
				return err
			}
			results[i] = acts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var out []models.Activity
	for _, batch := range results {
		for _, a := range batch {
			key := a.DedupKey()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, a)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TransactionDate.Before(out[j].TransactionDate)
	})
	return out, nil
}

// EarliestFundingDate returns the settlement date of the first funding flow
// in the stream, or the zero time when the account was never funded. This is
// the default start of an account's total-P&L series.
func EarliestFundingDate(activities []models.Activity) time.Time {
	var earliest time.Time
	for _, a := range activities {
		if !a.IsFundingFlow() {
			continue
		}
		d := a.EffectiveSettlementDate()
		if d.IsZero() {
			continue
		}
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
		}
	}
	return earliest
}
