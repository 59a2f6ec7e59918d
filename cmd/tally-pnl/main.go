// Command tally-pnl prints the total-P&L series for one account as JSON.
// Exit code 0 on success, 1 on any failure with the error on stderr.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bobmcallan/tally/internal/app"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to tally.toml (default: TALLY_CONFIG or binary dir)")
		account    = flag.String("account", "", "account selector: loginId:number, number, or account id")
		sinceStart = flag.Bool("since-start", true, "apply the account's configured CAGR start date")
		timeout    = flag.Duration("timeout", 5*time.Minute, "overall request timeout")
	)
	flag.Parse()

	if *account == "" {
		fmt.Fprintln(os.Stderr, "tally-pnl: -account is required")
		os.Exit(1)
	}

	a, err := app.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tally-pnl: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	series, err := a.Aggregator.TotalPnlSeries(ctx, *account, *sinceStart)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tally-pnl: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(series); err != nil {
		fmt.Fprintf(os.Stderr, "tally-pnl: %v\n", err)
		os.Exit(1)
	}
}
