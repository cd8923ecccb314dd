package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/devicelist/internal/cache"
	"github.com/hyperifyio/devicelist/internal/extract"
	"github.com/hyperifyio/devicelist/internal/fetch"
	"github.com/hyperifyio/devicelist/internal/metrics"
	"github.com/hyperifyio/devicelist/internal/report"
	"github.com/hyperifyio/devicelist/internal/schema"
	"github.com/hyperifyio/devicelist/internal/scrape"
	"github.com/hyperifyio/devicelist/internal/server"
	"github.com/hyperifyio/devicelist/internal/store"
)

// App wires configuration into the fetch, extract, store and serve pipeline.
type App struct {
	cfg     Config
	client  *fetch.Client
	schemas *schema.Table
	store   *store.Store
	cached  *store.Cached
	scraper *scrape.Scraper
	metrics *metrics.Metrics
}

func New(ctx context.Context, cfg Config) (*App, error) {
	a := &App{cfg: cfg, metrics: metrics.New()}

	var httpCache *cache.HTTPCache
	if dir := strings.TrimSpace(cfg.CacheDir); dir != "" {
		if cfg.CacheClear {
			if err := cache.ClearDir(dir); err != nil {
				log.Warn().Err(err).Str("dir", dir).Msg("cache clear failed")
			}
		}
		if cfg.CacheMaxAge > 0 {
			n, err := cache.PurgeHTTPCacheByAge(dir, cfg.CacheMaxAge)
			if err != nil {
				log.Warn().Err(err).Msg("cache purge failed")
			} else if n > 0 {
				log.Debug().Int("removed", n).Msg("purged stale cache entries")
			}
		}
		httpCache = &cache.HTTPCache{Dir: dir, StrictPerms: cfg.CacheStrictPerms}
	}

	a.client = &fetch.Client{
		HTTPClient:        newHTTPClient(),
		UserAgent:         cfg.UserAgent,
		MaxAttempts:       cfg.MaxAttempts,
		PerRequestTimeout: cfg.FetchTimeout,
		Cache:             httpCache,
		BypassCache:       cfg.BypassCache,
		MaxConcurrent:     1,
	}
	if cfg.RequestsPerSecond > 0 {
		a.client.Limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	a.schemas = schema.Default()
	if cfg.SchemaFile != "" {
		t, err := schema.LoadFile(cfg.SchemaFile)
		if err != nil {
			return nil, fmt.Errorf("load schema file: %w", err)
		}
		a.schemas = t
		log.Debug().Str("path", cfg.SchemaFile).Int("categories", t.Len()).Msg("schema overrides loaded")
	}

	a.store = &store.Store{Path: cfg.SnapshotPath}
	a.cached = &store.Cached{Source: a.store, TTL: cfg.SnapshotTTL}
	a.scraper = &scrape.Scraper{
		URL:       cfg.SourceURL,
		Fetcher:   a.client,
		Extractor: extract.SchemaExtractor{Schemas: a.schemas},
		Store:     a.store,
		Schemas:   a.schemas,
		Metrics:   a.metrics,
		OnPublish: a.cached.Invalidate,
		// Every attempt may use its full timeout, plus room for backoff.
		Timeout: time.Duration(max(cfg.MaxAttempts, 1)+1) * cfg.FetchTimeout,
	}
	return a, nil
}

// Scrape refreshes the snapshot from the configured source, or from
// InputHTML when set.
func (a *App) Scrape(ctx context.Context) (scrape.Result, error) {
	if a.cfg.InputHTML != "" {
		return a.ScrapeFile(ctx, a.cfg.InputHTML)
	}
	return a.scraper.Run(ctx)
}

// ScrapeFile publishes the devices found in a saved HTML page.
func (a *App) ScrapeFile(ctx context.Context, path string) (scrape.Result, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return scrape.Result{}, fmt.Errorf("read input: %w", err)
	}
	log.Info().Str("path", path).Msg("extracting from file")
	return a.scraper.RunHTML(ctx, b)
}

// FetchFixture saves the live page to the configured fixture path.
func (a *App) FetchFixture(ctx context.Context) (int, error) {
	return scrape.FetchFixture(ctx, a.client, a.cfg.SourceURL, a.cfg.FixturePath)
}

// Report prints the per-category summary of res and writes the PDF when
// configured.
func (a *App) Report(w io.Writer, res scrape.Result) error {
	if err := report.Summary(w, res.Counts); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nSaved to: %s\n", a.cfg.SnapshotPath)
	if a.cfg.OutputPDFPath == "" {
		return nil
	}
	if err := report.WritePDF(res.Devices, "Neural DSP device list", a.cfg.OutputPDFPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	fmt.Fprintf(w, "PDF written to: %s\n", a.cfg.OutputPDFPath)
	return nil
}

// Server builds the API server over the cached snapshot.
func (a *App) Server() *server.Server {
	return server.New(server.Config{
		Addr:         a.cfg.ListenAddr,
		Version:      BuildVersion,
		CORSOrigins:  a.cfg.CORSOrigins,
		ScrapeOnMiss: a.cfg.ScrapeOnMiss,
	}, a.cached, a.scraper, a.metrics)
}

// Serve runs the API until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	return a.Server().ListenAndServe(ctx)
}
