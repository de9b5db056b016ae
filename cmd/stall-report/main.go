package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mmdatafocus/goods_grouper/config"
	"github.com/mmdatafocus/goods_grouper/models"
	"github.com/shopspring/decimal"
)

// stall-report prints pending units that can never be grouped because each is
// priced above the ceiling on its own.
func main() {
	ceiling := flag.String("ceiling", "", "Optional: ceiling to check against. Defaults to GROUP_PRICE_CEILING.")
	flag.Parse()

	limit := config.GroupPriceCeiling()
	if s := strings.TrimSpace(*ceiling); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil || !d.IsPositive() {
			fmt.Fprintf(os.Stderr, "invalid -ceiling %q\n", s)
			os.Exit(2)
		}
		limit = d
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	units, err := models.ListUnitsAboveCeiling(context.Background(), limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list units: %v\n", err)
		os.Exit(1)
	}
	if len(units) == 0 {
		fmt.Printf("no pending units above %s\n", limit.String())
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BATCH\tUNIT\tNAME\tPRICE\tREMAINING")
	batches := map[string]bool{}
	for _, u := range units {
		batches[u.BatchId.String()] = true
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\n", u.BatchId, u.ID, u.Name, u.UnitPrice.StringFixed(2), u.QuantityRemaining)
	}
	_ = w.Flush()
	fmt.Printf("%d unit(s) across %d batch(es) exceed the ceiling %s\n", len(units), len(batches), limit.String())
}
