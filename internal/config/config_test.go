package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Filter.ByteMin != 0 || cfg.Filter.ByteMax != 20050815 {
		t.Fatalf("unexpected filter defaults %+v", cfg.Filter)
	}
	if cfg.Spy.Resolution != 1024 || cfg.Spy.Workers != 4 || cfg.Dataset.Size != 32 || !cfg.Dataset.Flat {
		t.Fatalf("unexpected defaults spy=%+v dataset=%+v", cfg.Spy, cfg.Dataset)
	}
	if got := cfg.PortalURL(); got != "https://sparse.tamu.edu/" {
		t.Fatalf("unexpected portal url %s", got)
	}
	if got := cfg.MetaPath(); got != filepath.Join("cache", "meta.json") {
		t.Fatalf("unexpected meta path %s", got)
	}
	if len(cfg.Dataset.LabelKeys) != 2 || cfg.Dataset.LabelKeys[1] != "pc_type" {
		t.Fatalf("unexpected label keys %v", cfg.Dataset.LabelKeys)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
cache:
  root: /var/cache/mtxset
  spy_dir: /srv/spy
portal:
  url: mirror.example/collection
  https: false
http:
  timeout_seconds: 45
  requests_per_second: 0.5
filter:
  byte_min: 100
  byte_max: 5000
dataset:
  size: 64
  flat: false
  label_keys: [ksp_type]
export:
  gcs_bucket: bucket
  prefix: datasets
pubsub:
  project_id: proj
  topic: notices
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Filter.ByteMin != 100 || cfg.Filter.ByteMax != 5000 {
		t.Fatalf("expected filter overrides to apply: %+v", cfg.Filter)
	}
	if cfg.Dataset.Size != 64 || cfg.Dataset.Flat {
		t.Fatalf("expected dataset overrides to apply: %+v", cfg.Dataset)
	}
	if got := cfg.PortalURL(); got != "http://mirror.example/collection" {
		t.Fatalf("unexpected portal url %s", got)
	}
	if cfg.Scheme() != "http" {
		t.Fatalf("expected http scheme")
	}
	if got := cfg.ZipRoot(); got != filepath.Join("/var/cache/mtxset", "zip") {
		t.Fatalf("unexpected zip root %s", got)
	}
	if got := cfg.SpyRoot(); got != "/srv/spy" {
		t.Fatalf("absolute spy dir must be kept, got %s", got)
	}
	if got := cfg.Timeout(); got != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %v", got)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Cache:   CacheConfig{Root: "cache"},
		Portal:  PortalConfig{URL: "sparse.tamu.edu", KeyPrefix: "/MM/"},
		HTTP:    HTTPConfig{TimeoutSeconds: 10},
		Filter:  FilterConfig{ByteMin: 0, ByteMax: 10},
		Dataset: DatasetConfig{Size: 32, LabelKeys: []string{"ksp_type"}},
		Export:  ExportConfig{LocalDir: "out"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config must validate: %v", err)
	}

	tests := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{name: "cache root", mut: func(c *Config) { c.Cache.Root = " " }, want: "cache.root"},
		{name: "portal url", mut: func(c *Config) { c.Portal.URL = "" }, want: "portal.url"},
		{name: "key prefix", mut: func(c *Config) { c.Portal.KeyPrefix = "MM/" }, want: "portal.key_prefix"},
		{name: "timeout", mut: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "negative min", mut: func(c *Config) { c.Filter.ByteMin = -1 }, want: "filter.byte_min"},
		{name: "empty range", mut: func(c *Config) { c.Filter.ByteMin = 10 }, want: "filter.byte_max"},
		{name: "resolution", mut: func(c *Config) { c.Spy.Resolution = -1 }, want: "spy.resolution"},
		{name: "workers", mut: func(c *Config) { c.Spy.Workers = -1 }, want: "spy.workers"},
		{name: "dataset size", mut: func(c *Config) { c.Dataset.Size = 0 }, want: "dataset.size"},
		{name: "label keys", mut: func(c *Config) { c.Dataset.LabelKeys = nil }, want: "dataset.label_keys"},
		{name: "export target", mut: func(c *Config) { c.Export.LocalDir = "" }, want: "export.local_dir"},
		{name: "pubsub pair", mut: func(c *Config) { c.PubSub.Topic = "t" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Dataset.LabelKeys = append([]string(nil), base.Dataset.LabelKeys...)
			tt.mut(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
