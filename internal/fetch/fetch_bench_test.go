package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyperifyio/devicelist/internal/cache"
)

// Benchmark the Client with and without a concurrency gate and a revalidating cache.
func BenchmarkClient_Get(b *testing.B) {
	mux := http.NewServeMux()
	mux.HandleFunc("/device-list", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`<html><body><h2>Delay</h2><div><div class="sc-97391185-0"><div class="sc-ec576641-0">Analog Delay</div></div></div></body></html>`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	runScenario := func(name string, maxConc int, withCache bool) {
		b.Run(name, func(b *testing.B) {
			cli := &Client{
				HTTPClient:        ts.Client(),
				UserAgent:         "bench/1",
				MaxAttempts:       1,
				PerRequestTimeout: 2 * time.Second,
				MaxConcurrent:     maxConc,
			}
			if withCache {
				cli.Cache = &cache.HTTPCache{Dir: b.TempDir()}
			}
			url := ts.URL + "/device-list"
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					_, _, err := cli.Get(ctx, url)
					cancel()
					if err != nil {
						b.Fatalf("fetch failed: %v", err)
					}
				}
			})
		})
	}

	runScenario("conc=1", 1, false)
	runScenario("conc=8", 8, false)
	runScenario("conc=8,cache", 8, true)
}
