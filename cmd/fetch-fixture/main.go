package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/devicelist/internal/app"
	"github.com/hyperifyio/devicelist/internal/report"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run saves the live device list page as an HTML fixture. The cache is
// bypassed so the fixture reflects the current page.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, opts, err := app.LoadConfig("fetch-fixture", args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 2
	}
	if opts.ShowVersion {
		fmt.Fprintln(stdout, "fetch-fixture", app.VersionString())
		return 0
	}
	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	cfg.BypassCache = true

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("init app")
		return 2
	}
	fmt.Fprintf(stdout, "Fetching %s...\n", cfg.SourceURL)
	n, err := a.FetchFixture(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch fixture")
		return 1
	}
	fmt.Fprintf(stdout, "Saved %s to %s\n", report.Bytes(n), cfg.FixturePath)
	return 0
}
