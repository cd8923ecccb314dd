package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces all environment variables, e.g. DEVICELIST_SOURCE_URL.
const EnvPrefix = "DEVICELIST"

// envConfig mirrors Config with pointer fields so that unset variables can be
// told apart from zero values.
type envConfig struct {
	SourceURL         *string        `envconfig:"SOURCE_URL"`
	SchemaFile        *string        `envconfig:"SCHEMA_FILE"`
	SnapshotPath      *string        `envconfig:"SNAPSHOT_PATH"`
	FixturePath       *string        `envconfig:"FIXTURE_PATH"`
	OutputPDFPath     *string        `envconfig:"OUTPUT_PDF"`
	FetchTimeout      *time.Duration `envconfig:"FETCH_TIMEOUT"`
	MaxAttempts       *int           `envconfig:"MAX_ATTEMPTS"`
	UserAgent         *string        `envconfig:"USER_AGENT"`
	RequestsPerSecond *float64       `envconfig:"REQUESTS_PER_SECOND"`
	CacheDir          *string        `envconfig:"CACHE_DIR"`
	CacheMaxAge       *time.Duration `envconfig:"CACHE_MAX_AGE"`
	CacheClear        *bool          `envconfig:"CACHE_CLEAR"`
	CacheStrictPerms  *bool          `envconfig:"CACHE_STRICT_PERMS"`
	BypassCache       *bool          `envconfig:"BYPASS_CACHE"`
	ListenAddr        *string        `envconfig:"LISTEN_ADDR"`
	SnapshotTTL       *time.Duration `envconfig:"SNAPSHOT_TTL"`
	ScrapeOnMiss      *bool          `envconfig:"SCRAPE_ON_MISS"`
	CORSOrigins       []string       `envconfig:"CORS_ORIGINS"`
	Verbose           *bool          `envconfig:"VERBOSE"`
}

// ApplyEnvOverrides overrides cfg fields whose DEVICELIST_* variable is set.
// It runs after the config file so env wins over file values; flags set
// explicitly on the command line are applied afterwards by the caller.
// A bare PORT variable is honored for the listen address when
// DEVICELIST_LISTEN_ADDR is absent.
func ApplyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var env envConfig
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}
	setString(&cfg.SourceURL, env.SourceURL)
	setString(&cfg.SchemaFile, env.SchemaFile)
	setString(&cfg.SnapshotPath, env.SnapshotPath)
	setString(&cfg.FixturePath, env.FixturePath)
	setString(&cfg.OutputPDFPath, env.OutputPDFPath)
	set(&cfg.FetchTimeout, env.FetchTimeout)
	set(&cfg.MaxAttempts, env.MaxAttempts)
	setString(&cfg.UserAgent, env.UserAgent)
	set(&cfg.RequestsPerSecond, env.RequestsPerSecond)
	setString(&cfg.CacheDir, env.CacheDir)
	set(&cfg.CacheMaxAge, env.CacheMaxAge)
	set(&cfg.CacheClear, env.CacheClear)
	set(&cfg.CacheStrictPerms, env.CacheStrictPerms)
	set(&cfg.BypassCache, env.BypassCache)
	set(&cfg.SnapshotTTL, env.SnapshotTTL)
	set(&cfg.ScrapeOnMiss, env.ScrapeOnMiss)
	set(&cfg.Verbose, env.Verbose)
	if len(env.CORSOrigins) > 0 {
		cfg.CORSOrigins = trimList(env.CORSOrigins)
	}
	switch {
	case env.ListenAddr != nil:
		setString(&cfg.ListenAddr, env.ListenAddr)
	case strings.TrimSpace(os.Getenv("PORT")) != "":
		cfg.ListenAddr = ":" + strings.TrimSpace(os.Getenv("PORT"))
	}
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// setString ignores blank values so an empty variable does not wipe a path.
func setString(dst *string, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		*dst = strings.TrimSpace(*v)
	}
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
