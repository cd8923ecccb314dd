package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hyperifyio/devicelist/internal/device"
	"github.com/hyperifyio/devicelist/internal/fetch"
	"github.com/hyperifyio/devicelist/internal/metrics"
	"github.com/hyperifyio/devicelist/internal/schema"
	"github.com/hyperifyio/devicelist/internal/store"
)

const twoSections = `<html><body>
<h2>Guitar amps</h2>
<div>
  <div class="sc-97391185-0"><div class="sc-ec576641-0">Twin Reverb</div><div class="sc-ec576641-0">Fender Twin Reverb 65</div><div class="sc-ec576641-0">1.0.0</div></div>
  <div class="sc-97391185-0"><div class="sc-ec576641-0">Plexi</div><div class="sc-ec576641-0">Marshall 1959</div><div class="sc-ec576641-0">1.1.0</div></div>
</div>
<h2>Delay</h2>
<div>
  <div class="sc-97391185-0"><div class="sc-ec576641-0">Analog Delay</div><div class="sc-ec576641-0">Boss DM-2</div><div class="sc-ec576641-0">1.2.0</div></div>
</div>
</body></html>`

type fakeFetcher struct {
	body  string
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (f *fakeFetcher) Get(ctx context.Context, url string) ([]byte, string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte(f.body), "text/html", nil
}

type memSaver struct {
	mu    sync.Mutex
	saved [][]device.Device
	err   error
}

func (m *memSaver) Save(devices []device.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, devices)
	return nil
}

func TestRun_PublishesSnapshot(t *testing.T) {
	saver := &memSaver{}
	published := 0
	m := metrics.New()
	s := &Scraper{
		URL:       "https://example.test/device-list",
		Fetcher:   &fakeFetcher{body: twoSections},
		Store:     saver,
		Metrics:   m,
		OnPublish: func() { published++ },
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Devices) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(res.Devices))
	}
	if res.Counts["Guitar amps"] != 2 || res.Counts["Delay"] != 1 {
		t.Fatalf("unexpected counts: %v", res.Counts)
	}
	if res.Bytes != len(twoSections) {
		t.Fatalf("bytes = %d, want %d", res.Bytes, len(twoSections))
	}
	if len(saver.saved) != 1 || published != 1 {
		t.Fatalf("expected one save and one publish, got %d/%d", len(saver.saved), published)
	}
	if want := schema.Default().Len() - 2; len(res.MissingCategories) != want {
		t.Fatalf("expected %d missing categories, got %d", want, len(res.MissingCategories))
	}
	for _, c := range res.MissingCategories {
		if c == "Guitar amps" || c == "Delay" {
			t.Fatalf("category %q reported missing", c)
		}
	}
	if got := testutil.ToFloat64(m.ScrapeRuns.WithLabelValues(metrics.OutcomeSuccess)); got != 1 {
		t.Fatalf("success runs = %v", got)
	}
}

func TestRun_FetchErrorKeepsSnapshot(t *testing.T) {
	saver := &memSaver{}
	boom := errors.New("boom")
	s := &Scraper{URL: "u", Fetcher: &fakeFetcher{err: boom}, Store: saver}
	if _, err := s.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped fetch error, got %v", err)
	}
	if len(saver.saved) != 0 {
		t.Fatal("expected no save on fetch error")
	}
}

func TestRunHTML_EmptyPageNotSaved(t *testing.T) {
	saver := &memSaver{}
	m := metrics.New()
	s := &Scraper{Store: saver, Metrics: m}
	res, err := s.RunHTML(context.Background(), []byte("<html><body><p>maintenance</p></body></html>"))
	if !errors.Is(err, ErrNoDevices) {
		t.Fatalf("expected ErrNoDevices, got %v", err)
	}
	if len(saver.saved) != 0 {
		t.Fatal("expected previous snapshot to be kept")
	}
	if len(res.MissingCategories) != schema.Default().Len() {
		t.Fatalf("expected all categories missing, got %d", len(res.MissingCategories))
	}
	if got := testutil.ToFloat64(m.ScrapeRuns.WithLabelValues(metrics.OutcomeEmpty)); got != 1 {
		t.Fatalf("empty runs = %v", got)
	}
}

func TestRunHTML_SaveError(t *testing.T) {
	s := &Scraper{Store: &memSaver{err: errors.New("disk full")}}
	if _, err := s.RunHTML(context.Background(), []byte(twoSections)); err == nil {
		t.Fatal("expected save error")
	}
}

func TestRunHTML_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &Scraper{Store: &memSaver{}}
	if _, err := s.RunHTML(ctx, []byte(twoSections)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_CoalescesConcurrentCallers(t *testing.T) {
	f := &fakeFetcher{body: twoSections, delay: 50 * time.Millisecond}
	s := &Scraper{URL: "u", Fetcher: f, Store: &memSaver{}}
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Run(context.Background()); err != nil {
				t.Errorf("run: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := f.calls.Load(); got >= 5 {
		t.Fatalf("expected concurrent runs to share a fetch, got %d fetches", got)
	}
}

// blockingFetcher holds every Get until release is closed or ctx ends.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *blockingFetcher) Get(ctx context.Context, url string) ([]byte, string, error) {
	f.once.Do(func() { close(f.started) })
	select {
	case <-f.release:
		return []byte(twoSections), "text/html", nil
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func TestRun_CanceledCallerDoesNotAbortSharedRun(t *testing.T) {
	f := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	saver := &memSaver{}
	s := &Scraper{URL: "u", Fetcher: f, Store: saver}

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	first := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx1)
		first <- err
	}()
	<-f.started

	type outcome struct {
		res Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := s.Run(context.Background())
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel1()
	select {
	case err := <-first:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("first caller: expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("first caller did not return after its context was canceled")
	}

	close(f.release)
	select {
	case o := <-second:
		if o.err != nil {
			t.Fatalf("second caller: %v", o.err)
		}
		if len(o.res.Devices) != 3 {
			t.Fatalf("second caller: expected 3 devices, got %d", len(o.res.Devices))
		}
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	if len(saver.saved) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(saver.saved))
	}
}

func TestRun_TimeoutBoundsSharedRun(t *testing.T) {
	f := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	s := &Scraper{URL: "u", Fetcher: f, Store: &memSaver{}, Timeout: 20 * time.Millisecond}
	if _, err := s.Run(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

// overlapSaver records whether two Saves were ever in progress at once.
type overlapSaver struct {
	inFlight atomic.Int32
	overlap  atomic.Bool
	saves    atomic.Int32
}

func (o *overlapSaver) Save(devices []device.Device) error {
	if o.inFlight.Add(1) > 1 {
		o.overlap.Store(true)
	}
	time.Sleep(5 * time.Millisecond)
	o.inFlight.Add(-1)
	o.saves.Add(1)
	return nil
}

func TestRunHTML_SerializedWithRun(t *testing.T) {
	saver := &overlapSaver{}
	s := &Scraper{URL: "u", Fetcher: &fakeFetcher{body: twoSections}, Store: saver}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RunHTML(context.Background(), []byte(twoSections)); err != nil {
				t.Errorf("run html: %v", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := s.Run(context.Background()); err != nil {
			t.Errorf("run: %v", err)
		}
	}()
	wg.Wait()
	if saver.overlap.Load() {
		t.Fatal("snapshot saves overlapped")
	}
	if got := saver.saves.Load(); got != 9 {
		t.Fatalf("expected 9 saves, got %d", got)
	}
}

func TestRun_EndToEndWithStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(twoSections))
	}))
	defer srv.Close()

	st := &store.Store{Path: filepath.Join(t.TempDir(), "devices.json")}
	cached := &store.Cached{Source: st, TTL: time.Hour}
	s := &Scraper{
		URL:       srv.URL,
		Fetcher:   &fetch.Client{HTTPClient: srv.Client(), MaxAttempts: 1},
		Store:     st,
		OnPublish: cached.Invalidate,
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := cached.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 || got[0].Name != "Twin Reverb" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestFetchFixture_WritesPage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "testdata", "device-list.html")
	n, err := FetchFixture(context.Background(), &fakeFetcher{body: twoSections}, "u", p)
	if err != nil {
		t.Fatalf("fetch fixture: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != len(b) || string(b) != twoSections {
		t.Fatalf("fixture mismatch: n=%d len=%d", n, len(b))
	}
}

func TestFetchFixture_FetchError(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f.html")
	if _, err := FetchFixture(context.Background(), &fakeFetcher{err: errors.New("down")}, "u", p); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatal("expected no fixture file on error")
	}
}
