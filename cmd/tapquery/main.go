// Command tapquery runs one ADQL query through the async TAP client and prints
// the resulting table as tab-separated text.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/cankoe/obs-schedule-ingest/internal/helpers"
	"github.com/cankoe/obs-schedule-ingest/internal/tap"
	"github.com/cankoe/obs-schedule-ingest/internal/transport"

	"github.com/rs/zerolog/log"
)

func main() {
	tapURL := flag.String("tap", "", "TAP service base URL")
	query := flag.String("query", "", "ADQL query")
	wait := flag.Duration("wait", tap.DefaultWait, "UWS job wait")
	timeout := flag.Duration("timeout", transport.DefaultTimeout, "HTTP timeout")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	helpers.ConfigureLogging(*logLevel, "console")
	if *tapURL == "" || *query == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := tap.NewClient(*tapURL, transport.NewHTTPClient(*timeout, "")).WithWait(*wait)
	start := time.Now()
	table, err := client.Query(ctx, *query)
	if err != nil {
		log.Fatal().Err(err).Msg("Query failed")
	}
	if table == nil {
		log.Warn().Dur("elapsed", time.Since(start)).Msg("Job did not complete within the wait window, no rows")
		return
	}

	names := make([]string, len(table.Fields))
	for i, f := range table.Fields {
		names[i] = f.Name
	}
	fmt.Println(strings.Join(names, "\t"))
	for _, row := range table.Rows {
		fmt.Println(strings.Join(row, "\t"))
	}
	log.Info().Int("rows", table.Len()).Dur("elapsed", time.Since(start)).Msg("Query completed")
}
