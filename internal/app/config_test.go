package app

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadConfigFile_YAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "devicelist.yaml", `
source:
  url: https://mirror.example/list
output:
  snapshot: out/devices.json
  pdf: out/devices.pdf
fetch:
  timeout: 45s
  maxAttempts: 4
cache:
  maxAge: 24h
  strictPerms: true
server:
  listen: ":9000"
  snapshotTTL: 10m
  scrapeOnMiss: false
  corsOrigins: ["http://a.test"]
`)
	fc, err := LoadConfigFile(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := DefaultConfig()
	ApplyFileConfig(&cfg, fc)

	if cfg.SourceURL != "https://mirror.example/list" || cfg.SnapshotPath != "out/devices.json" || cfg.OutputPDFPath != "out/devices.pdf" {
		t.Fatalf("paths not applied: %+v", cfg)
	}
	if cfg.FetchTimeout != 45*time.Second || cfg.MaxAttempts != 4 {
		t.Fatalf("fetch settings not applied: %v %d", cfg.FetchTimeout, cfg.MaxAttempts)
	}
	if cfg.CacheMaxAge != 24*time.Hour || !cfg.CacheStrictPerms {
		t.Fatalf("cache settings not applied: %v %v", cfg.CacheMaxAge, cfg.CacheStrictPerms)
	}
	if cfg.ListenAddr != ":9000" || cfg.SnapshotTTL != 10*time.Minute || cfg.ScrapeOnMiss {
		t.Fatalf("server settings not applied: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://a.test" {
		t.Fatalf("CORSOrigins=%v", cfg.CORSOrigins)
	}
	// Absent keys keep defaults.
	if cfg.UserAgent != defaultUserAgent || cfg.CacheDir != defaultCacheDir {
		t.Fatalf("defaults overwritten: %q %q", cfg.UserAgent, cfg.CacheDir)
	}
}

func TestLoadConfigFile_JSON(t *testing.T) {
	p := writeFile(t, t.TempDir(), "devicelist.json", `{"fetch":{"timeout":"5s","userAgent":"ua/1"},"verbose":true}`)
	fc, err := LoadConfigFile(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := DefaultConfig()
	ApplyFileConfig(&cfg, fc)
	if cfg.FetchTimeout != 5*time.Second || cfg.UserAgent != "ua/1" || !cfg.Verbose {
		t.Fatalf("unexpected cfg %+v", cfg)
	}
}

func TestLoadConfigFile_BadDuration(t *testing.T) {
	p := writeFile(t, t.TempDir(), "c.yaml", "fetch:\n  timeout: soon\n")
	if _, err := LoadConfigFile(p); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateConfig(t *testing.T) {
	ok := DefaultConfig()
	if err := ValidateConfig(ok); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	cases := map[string]func(*Config){
		"relative url":  func(c *Config) { c.SourceURL = "/device-list" },
		"ftp url":       func(c *Config) { c.SourceURL = "ftp://example.test/list" },
		"no snapshot":   func(c *Config) { c.SnapshotPath = " " },
		"zero attempts": func(c *Config) { c.MaxAttempts = 0 },
		"negative ttl":  func(c *Config) { c.SnapshotTTL = -time.Second },
		"negative rps":  func(c *Config) { c.RequestsPerSecond = -1 },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := ValidateConfig(cfg); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}

	// A local input file does not need a fetchable URL.
	offline := DefaultConfig()
	offline.SourceURL = ""
	offline.InputHTML = "page.html"
	if err := ValidateConfig(offline); err != nil {
		t.Fatalf("offline config should validate: %v", err)
	}
}

// Flags beat env, env beats the config file, and the file beats defaults.
func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "c.yaml", `
source:
  url: https://file.example/list
output:
  snapshot: file.json
cache:
  dir: file-cache
fetch:
  maxAttempts: 7
`)
	envPath := writeFile(t, dir, ".env", "DEVICELIST_SNAPSHOT_PATH=env.json\nDEVICELIST_CACHE_DIR=env-cache\n")
	t.Setenv("DEVICELIST_SNAPSHOT_PATH", "")
	t.Setenv("DEVICELIST_CACHE_DIR", "")

	cfg, opts, err := LoadConfig("devicelist", []string{
		"-config", cfgPath,
		"-env", envPath,
		"-cache.dir", "flag-cache",
		"-cors.origins", "http://x.test,http://y.test",
	}, io.Discard)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.ConfigPath != cfgPath || len(opts.EnvFiles) != 1 {
		t.Fatalf("unexpected opts %+v", opts)
	}
	if cfg.SourceURL != "https://file.example/list" {
		t.Fatalf("file should beat default, got %q", cfg.SourceURL)
	}
	if cfg.MaxAttempts != 7 {
		t.Fatalf("file should beat default, got %d", cfg.MaxAttempts)
	}
	if cfg.SnapshotPath != "env.json" {
		t.Fatalf("env should beat file, got %q", cfg.SnapshotPath)
	}
	if cfg.CacheDir != "flag-cache" {
		t.Fatalf("flag should beat env, got %q", cfg.CacheDir)
	}
	if strings.Join(cfg.CORSOrigins, ",") != "http://x.test,http://y.test" {
		t.Fatalf("CORSOrigins=%v", cfg.CORSOrigins)
	}
	if cfg.UserAgent != defaultUserAgent {
		t.Fatalf("default lost: %q", cfg.UserAgent)
	}
}

func TestLoadConfig_Version(t *testing.T) {
	_, opts, err := LoadConfig("devicelist", []string{"-version"}, io.Discard)
	if err != nil || !opts.ShowVersion {
		t.Fatalf("expected version request, got %+v %v", opts, err)
	}
}

func TestLoadConfig_InvalidFlag(t *testing.T) {
	if _, _, err := LoadConfig("devicelist", []string{"-fetch.attempts", "0"}, io.Discard); err == nil {
		t.Fatal("expected validation error")
	}
	if _, _, err := LoadConfig("devicelist", []string{"-nope"}, io.Discard); err == nil {
		t.Fatal("expected unknown flag error")
	}
}

func TestVersionString(t *testing.T) {
	if !strings.HasPrefix(VersionString(), BuildVersion+" (") {
		t.Fatalf("unexpected version string %q", VersionString())
	}
}
