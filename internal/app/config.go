package app

import "time"

// Config holds runtime configuration for the scraper and the API server.
type Config struct {
	// Source
	SourceURL  string
	SchemaFile string
	// InputHTML, when set, is extracted instead of fetching SourceURL.
	InputHTML string

	// Output
	SnapshotPath  string
	FixturePath   string
	OutputPDFPath string

	// Fetching
	FetchTimeout      time.Duration
	MaxAttempts       int
	UserAgent         string
	RequestsPerSecond float64

	// Cache
	CacheDir         string
	CacheMaxAge      time.Duration
	CacheClear       bool
	CacheStrictPerms bool
	BypassCache      bool

	// Server
	ListenAddr   string
	SnapshotTTL  time.Duration
	ScrapeOnMiss bool
	CORSOrigins  []string

	Verbose bool
}

const (
	defaultSourceURL    = "https://neuraldsp.com/device-list"
	defaultSnapshotPath = "data/devices.json"
	defaultFixturePath  = "testdata/device-list.html"
	defaultCacheDir     = ".devicelist-cache"
	defaultUserAgent    = "devicelist/1.0 (+https://github.com/hyperifyio/devicelist)"
	defaultListenAddr   = ":3000"
	defaultMaxAttempts  = 3
	defaultFetchTimeout = 30 * time.Second
	defaultSnapshotTTL  = time.Hour
)

// DefaultConfig returns the built-in defaults, the lowest precedence layer.
func DefaultConfig() Config {
	return Config{
		SourceURL:    defaultSourceURL,
		SnapshotPath: defaultSnapshotPath,
		FixturePath:  defaultFixturePath,
		FetchTimeout: defaultFetchTimeout,
		MaxAttempts:  defaultMaxAttempts,
		UserAgent:    defaultUserAgent,
		CacheDir:     defaultCacheDir,
		ListenAddr:   defaultListenAddr,
		SnapshotTTL:  defaultSnapshotTTL,
		ScrapeOnMiss: true,
		CORSOrigins:  []string{"*"},
	}
}
