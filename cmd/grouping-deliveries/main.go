package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mmdatafocus/goods_grouper/config"
	"github.com/mmdatafocus/goods_grouper/models"
	"github.com/mmdatafocus/goods_grouper/utils"
)

// grouping-deliveries lists trigger deliveries by status; DEAD rows are the
// messages the worker gave up on.
func main() {
	statuses := flag.String("status", "DEAD,FAILED", "Comma-separated statuses (RECEIVED,SUCCEEDED,FAILED,DEAD). Empty lists all.")
	limit := flag.Int("limit", 50, "Maximum rows.")
	asJSON := flag.Bool("json", false, "Print JSON instead of a table.")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	var filter []models.DeliveryStatus
	for _, s := range strings.Split(*statuses, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			filter = append(filter, models.DeliveryStatus(s))
		}
	}
	filter = utils.UniqueSlice(filter)

	rows, err := models.ListDeliveries(context.Background(), filter, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list deliveries: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			os.Exit(1)
		}
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MESSAGE\tBATCH\tSTATUS\tATTEMPTS\tUPDATED\tLAST ERROR")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.MessageId,
			utils.DereferencePtr(r.BatchId, "-"),
			r.Status,
			r.Attempts,
			r.UpdatedAt.Format("2006-01-02 15:04:05"),
			utils.DereferencePtr(r.LastError),
		)
	}
	_ = w.Flush()
}
