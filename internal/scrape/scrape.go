package scrape

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/hyperifyio/devicelist/internal/device"
	"github.com/hyperifyio/devicelist/internal/extract"
	"github.com/hyperifyio/devicelist/internal/fsutil"
	"github.com/hyperifyio/devicelist/internal/metrics"
	"github.com/hyperifyio/devicelist/internal/schema"
)

// ErrNoDevices is returned when a page yields no records. The previous
// snapshot is left untouched in that case.
var ErrNoDevices = errors.New("no devices extracted")

// Fetcher retrieves a page body.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, string, error)
}

// Saver persists a device snapshot.
type Saver interface {
	Save(devices []device.Device) error
}

// Result summarizes one scrape run.
type Result struct {
	Devices           []device.Device
	Counts            map[string]int
	MissingCategories []string
	Bytes             int
	Duration          time.Duration
}

// DefaultRunTimeout bounds a shared run when Scraper.Timeout is zero.
const DefaultRunTimeout = 5 * time.Minute

// Scraper runs fetch, extract and save as one unit.
type Scraper struct {
	URL       string
	Fetcher   Fetcher
	Extractor extract.Extractor
	Store     Saver
	// Schemas is used for the coverage check. Nil means schema.Default.
	Schemas *schema.Table
	Metrics *metrics.Metrics
	// OnPublish runs after a snapshot has been written.
	OnPublish func()
	// Timeout bounds a shared run independently of any one caller.
	// Zero means DefaultRunTimeout.
	Timeout time.Duration

	group     singleflight.Group
	publishMu sync.Mutex
}

// Run fetches the configured page and publishes its devices. Concurrent
// callers share a single in-flight run. A caller whose ctx ends stops
// waiting, but the shared run continues for the others.
func (s *Scraper) Run(ctx context.Context) (Result, error) {
	ch := s.group.DoChan("run", func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout())
		defer cancel()
		start := time.Now()
		log.Info().Str("url", s.URL).Msg("scraping devices")
		body, _, err := s.Fetcher.Get(runCtx, s.URL)
		if err != nil {
			s.Metrics.ObserveScrape(metrics.OutcomeError, time.Since(start), nil)
			return Result{}, fmt.Errorf("fetch %s: %w", s.URL, err)
		}
		return s.publish(body, start)
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Shared {
			log.Debug().Msg("joined in-flight scrape")
		}
		res, _ := r.Val.(Result)
		return res, r.Err
	}
}

func (s *Scraper) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultRunTimeout
}

// RunHTML publishes the devices found in an already retrieved page. It does
// not join an in-flight Run, but publishes are serialized so snapshot writes
// never interleave. The later publish wins.
func (s *Scraper) RunHTML(ctx context.Context, body []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return s.publish(body, time.Now())
}

func (s *Scraper) publish(body []byte, start time.Time) (Result, error) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	ex := s.Extractor
	if ex == nil {
		ex = extract.SchemaExtractor{Schemas: s.Schemas}
	}
	devices := ex.Extract(body)
	res := Result{
		Devices:           devices,
		Counts:            device.CountByCategory(devices),
		MissingCategories: s.missing(devices),
		Bytes:             len(body),
	}
	if len(res.MissingCategories) > 0 {
		log.Warn().Strs("categories", res.MissingCategories).Msg("categories without devices")
	}
	if len(devices) == 0 {
		res.Duration = time.Since(start)
		s.Metrics.ObserveScrape(metrics.OutcomeEmpty, res.Duration, nil)
		return res, ErrNoDevices
	}
	if s.Store != nil {
		if err := s.Store.Save(devices); err != nil {
			res.Duration = time.Since(start)
			s.Metrics.ObserveScrape(metrics.OutcomeError, res.Duration, nil)
			return res, fmt.Errorf("save snapshot: %w", err)
		}
	}
	if s.OnPublish != nil {
		s.OnPublish()
	}
	res.Duration = time.Since(start)
	s.Metrics.ObserveScrape(metrics.OutcomeSuccess, res.Duration, res.Counts)
	log.Info().Int("devices", len(devices)).Int("categories", len(res.Counts)).Dur("took", res.Duration).Msg("devices published")
	return res, nil
}

// missing lists known categories that produced no records, sorted.
func (s *Scraper) missing(devices []device.Device) []string {
	t := s.Schemas
	if t == nil {
		t = schema.Default()
	}
	seen := make(map[string]bool, len(devices))
	for _, d := range devices {
		seen[d.Category] = true
	}
	var out []string
	for _, c := range t.Categories() {
		if !seen[c] {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// FetchFixture downloads url and writes the raw page to path. It returns the
// number of bytes written.
func FetchFixture(ctx context.Context, f Fetcher, url, path string) (int, error) {
	body, _, err := f.Get(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", url, err)
	}
	if err := fsutil.WriteFileAtomic(path, body, 0o644); err != nil {
		return 0, fmt.Errorf("write fixture: %w", err)
	}
	log.Info().Str("path", path).Int("bytes", len(body)).Msg("fixture saved")
	return len(body), nil
}
