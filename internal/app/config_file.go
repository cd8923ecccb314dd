package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig represents the single-file configuration schema.
type FileConfig struct {
	Source struct {
		URL    string `yaml:"url" json:"url"`
		Schema string `yaml:"schema" json:"schema"`
	} `yaml:"source" json:"source"`

	Output struct {
		Snapshot string `yaml:"snapshot" json:"snapshot"`
		Fixture  string `yaml:"fixture" json:"fixture"`
		PDF      string `yaml:"pdf" json:"pdf"`
	} `yaml:"output" json:"output"`

	Fetch struct {
		Timeout           duration `yaml:"timeout" json:"timeout"`
		MaxAttempts       int      `yaml:"maxAttempts" json:"maxAttempts"`
		UserAgent         string   `yaml:"userAgent" json:"userAgent"`
		RequestsPerSecond float64  `yaml:"requestsPerSecond" json:"requestsPerSecond"`
	} `yaml:"fetch" json:"fetch"`

	Cache struct {
		Dir         string   `yaml:"dir" json:"dir"`
		MaxAge      duration `yaml:"maxAge" json:"maxAge"`
		Clear       bool     `yaml:"clear" json:"clear"`
		StrictPerms bool     `yaml:"strictPerms" json:"strictPerms"`
		Bypass      bool     `yaml:"bypass" json:"bypass"`
	} `yaml:"cache" json:"cache"`

	Server struct {
		Listen       string   `yaml:"listen" json:"listen"`
		SnapshotTTL  duration `yaml:"snapshotTTL" json:"snapshotTTL"`
		ScrapeOnMiss *bool    `yaml:"scrapeOnMiss" json:"scrapeOnMiss"`
		CORSOrigins  []string `yaml:"corsOrigins" json:"corsOrigins"`
	} `yaml:"server" json:"server"`

	Verbose bool `yaml:"verbose" json:"verbose"`
}

// duration accepts Go duration strings ("90s", "1h") in YAML and JSON.
type duration time.Duration

func (d *duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *duration) parse(s string) error {
	if strings.TrimSpace(s) == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays non-zero values from fc onto cfg. It is applied to
// DefaultConfig before env and flags, so any value present in the file wins
// over the built-in default.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	str := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	str(&cfg.SourceURL, fc.Source.URL)
	str(&cfg.SchemaFile, fc.Source.Schema)
	str(&cfg.SnapshotPath, fc.Output.Snapshot)
	str(&cfg.FixturePath, fc.Output.Fixture)
	str(&cfg.OutputPDFPath, fc.Output.PDF)

	if fc.Fetch.Timeout > 0 {
		cfg.FetchTimeout = time.Duration(fc.Fetch.Timeout)
	}
	if fc.Fetch.MaxAttempts > 0 {
		cfg.MaxAttempts = fc.Fetch.MaxAttempts
	}
	str(&cfg.UserAgent, fc.Fetch.UserAgent)
	if fc.Fetch.RequestsPerSecond > 0 {
		cfg.RequestsPerSecond = fc.Fetch.RequestsPerSecond
	}

	str(&cfg.CacheDir, fc.Cache.Dir)
	if fc.Cache.MaxAge > 0 {
		cfg.CacheMaxAge = time.Duration(fc.Cache.MaxAge)
	}
	cfg.CacheClear = cfg.CacheClear || fc.Cache.Clear
	cfg.CacheStrictPerms = cfg.CacheStrictPerms || fc.Cache.StrictPerms
	cfg.BypassCache = cfg.BypassCache || fc.Cache.Bypass

	str(&cfg.ListenAddr, fc.Server.Listen)
	if fc.Server.SnapshotTTL > 0 {
		cfg.SnapshotTTL = time.Duration(fc.Server.SnapshotTTL)
	}
	if fc.Server.ScrapeOnMiss != nil {
		cfg.ScrapeOnMiss = *fc.Server.ScrapeOnMiss
	}
	if len(fc.Server.CORSOrigins) > 0 {
		cfg.CORSOrigins = trimList(fc.Server.CORSOrigins)
	}
	cfg.Verbose = cfg.Verbose || fc.Verbose
}

// ValidateConfig performs minimal validation of the merged configuration.
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.InputHTML) == "" {
		u, err := url.Parse(strings.TrimSpace(cfg.SourceURL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config: source url must be an absolute http(s) URL, got %q", cfg.SourceURL)
		}
	}
	if strings.TrimSpace(cfg.SnapshotPath) == "" {
		return errors.New("config: snapshot path is required")
	}
	if cfg.MaxAttempts < 1 {
		return errors.New("config: max attempts must be at least 1")
	}
	if cfg.FetchTimeout < 0 || cfg.CacheMaxAge < 0 || cfg.SnapshotTTL < 0 {
		return errors.New("config: negative durations are not allowed")
	}
	if cfg.RequestsPerSecond < 0 {
		return errors.New("config: negative request rate is not allowed")
	}
	return nil
}
