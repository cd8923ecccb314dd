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
	"github.com/hyperifyio/devicelist/internal/scrape"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run scrapes once and prints the summary. Exit codes: 0 success, 1 scrape
// failure, 2 usage or configuration error.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, opts, err := app.LoadConfig("devicelist", args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 2
	}
	if opts.ShowVersion {
		fmt.Fprintln(stdout, "devicelist", app.VersionString())
		return 0
	}
	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("init app")
		return 2
	}
	fmt.Fprintln(stdout, "Scraping devices from Neural DSP...")
	res, err := a.Scrape(ctx)
	switch {
	case errors.Is(err, scrape.ErrNoDevices):
		log.Error().Msg("no devices found on the page; snapshot left unchanged")
		return 1
	case err != nil:
		log.Error().Err(err).Msg("failed to scrape devices")
		return 1
	}
	fmt.Fprintln(stdout, "\nDevices scraped successfully!")
	if err := a.Report(stdout, res); err != nil {
		log.Error().Err(err).Msg("report failed")
		return 1
	}
	return 0
}
