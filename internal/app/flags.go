package app

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// Options are command-line settings that are not part of Config.
type Options struct {
	ConfigPath  string
	EnvFiles    []string
	ShowVersion bool
}

type listValue struct{ dst *[]string }

func (l listValue) String() string {
	if l.dst == nil {
		return ""
	}
	return strings.Join(*l.dst, ",")
}

func (l listValue) Set(s string) error {
	*l.dst = trimList(strings.Split(s, ","))
	return nil
}

func bindFlags(fs *flag.FlagSet, cfg *Config, opts *Options) {
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML or JSON config file")
	fs.Var(listValue{&opts.EnvFiles}, "env", "Comma-separated dotenv files to load (later files win)")
	fs.BoolVar(&opts.ShowVersion, "version", false, "Print version and exit")

	fs.StringVar(&cfg.SourceURL, "url", cfg.SourceURL, "Device list page URL")
	fs.StringVar(&cfg.SchemaFile, "schema", cfg.SchemaFile, "YAML file with column layout overrides per category")
	fs.StringVar(&cfg.InputHTML, "from-file", cfg.InputHTML, "Extract from a saved HTML page instead of fetching")
	fs.StringVar(&cfg.SnapshotPath, "output", cfg.SnapshotPath, "Path of the JSON device snapshot")
	fs.StringVar(&cfg.FixturePath, "fixture", cfg.FixturePath, "Path to write the HTML fixture")
	fs.StringVar(&cfg.OutputPDFPath, "pdf", cfg.OutputPDFPath, "Also render the device list to this PDF file")

	fs.DurationVar(&cfg.FetchTimeout, "fetch.timeout", cfg.FetchTimeout, "Per-request fetch timeout")
	fs.IntVar(&cfg.MaxAttempts, "fetch.attempts", cfg.MaxAttempts, "Fetch attempts including the first")
	fs.StringVar(&cfg.UserAgent, "fetch.ua", cfg.UserAgent, "User-Agent for page requests")
	fs.Float64Var(&cfg.RequestsPerSecond, "fetch.rps", cfg.RequestsPerSecond, "Maximum requests per second (0 disables pacing)")

	fs.StringVar(&cfg.CacheDir, "cache.dir", cfg.CacheDir, "HTTP cache directory (empty disables)")
	fs.DurationVar(&cfg.CacheMaxAge, "cache.maxAge", cfg.CacheMaxAge, "Purge cache entries older than this (0 disables)")
	fs.BoolVar(&cfg.CacheClear, "cache.clear", cfg.CacheClear, "Clear the cache directory before running")
	fs.BoolVar(&cfg.CacheStrictPerms, "cache.strictPerms", cfg.CacheStrictPerms, "Restrict cache permissions (0700 dirs, 0600 files)")
	fs.BoolVar(&cfg.BypassCache, "cache.bypass", cfg.BypassCache, "Skip conditional revalidation and always refetch")

	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "API listen address")
	fs.DurationVar(&cfg.SnapshotTTL, "snapshot.ttl", cfg.SnapshotTTL, "How long the API keeps the snapshot in memory")
	fs.BoolVar(&cfg.ScrapeOnMiss, "scrape-on-miss", cfg.ScrapeOnMiss, "Scrape when the API finds no snapshot")
	fs.Var(listValue{&cfg.CORSOrigins}, "cors.origins", "Comma-separated allowed CORS origins")

	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
}

// LoadConfig resolves configuration with precedence flags > env > file >
// defaults. Flags are parsed twice: once to find the config and dotenv files,
// and again over the merged result so only flags given on the command line
// override it.
func LoadConfig(name string, args []string, stderr io.Writer) (Config, Options, error) {
	var opts Options
	probe := DefaultConfig()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	bindFlags(fs, &probe, &opts)
	if err := fs.Parse(args); err != nil {
		return Config{}, opts, err
	}
	if opts.ShowVersion {
		return probe, opts, nil
	}

	if err := LoadEnvFiles(opts.EnvFiles...); err != nil {
		return Config{}, opts, fmt.Errorf("load env files: %w", err)
	}
	cfg := DefaultConfig()
	if opts.ConfigPath != "" {
		fc, err := LoadConfigFile(opts.ConfigPath)
		if err != nil {
			return Config{}, opts, fmt.Errorf("load config file: %w", err)
		}
		ApplyFileConfig(&cfg, fc)
	}
	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, opts, err
	}

	var ignored Options
	over := flag.NewFlagSet(name, flag.ContinueOnError)
	over.SetOutput(io.Discard)
	bindFlags(over, &cfg, &ignored)
	if err := over.Parse(args); err != nil {
		return Config{}, opts, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, opts, err
	}
	return cfg, opts, nil
}
