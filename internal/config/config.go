// Package config loads and validates mtxset configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Cache    CacheConfig    `mapstructure:"cache"`
	Portal   PortalConfig   `mapstructure:"portal"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Filter   FilterConfig   `mapstructure:"filter"`
	Spy      SpyConfig      `mapstructure:"spy"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Export   ExportConfig   `mapstructure:"export"`
	Outcomes OutcomesConfig `mapstructure:"outcomes"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CacheConfig lays out the on-disk cache. Relative directories resolve
// against Root.
type CacheConfig struct {
	Root     string `mapstructure:"root"`
	MetaFile string `mapstructure:"meta_file"`
	ZipDir   string `mapstructure:"zip_dir"`
	DataDir  string `mapstructure:"data_dir"`
	SpyDir   string `mapstructure:"spy_dir"`
	// LockTimeoutSeconds bounds how long a run waits for another run's cache lock.
	LockTimeoutSeconds int `mapstructure:"lock_timeout_seconds"`
}

// PortalConfig locates the matrix collection index.
type PortalConfig struct {
	// URL is the index page without a scheme, e.g. sparse.tamu.edu.
	URL       string `mapstructure:"url"`
	HTTPS     bool   `mapstructure:"https"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// HTTPConfig configures the collector.
type HTTPConfig struct {
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// FilterConfig bounds archive sizes admitted to extraction.
type FilterConfig struct {
	ByteMin int64 `mapstructure:"byte_min"`
	ByteMax int64 `mapstructure:"byte_max"`
}

// SpyConfig controls sparsity rasters.
type SpyConfig struct {
	// Resolution is the image edge in pixels; 0 renders at native size.
	Resolution int `mapstructure:"resolution"`
	// Workers is the number of concurrent renders.
	Workers int `mapstructure:"workers"`
}

// DatasetConfig controls training-set assembly.
type DatasetConfig struct {
	Size          int      `mapstructure:"size"`
	Flat          bool     `mapstructure:"flat"`
	NormThreshold float64  `mapstructure:"norm_threshold"`
	LabelKeys     []string `mapstructure:"label_keys"`
	MetricsFile   string   `mapstructure:"metrics_file"`
	MatrixDir     string   `mapstructure:"matrix_dir"`
}

// ExportConfig selects where dataset artifacts are written. A non-empty
// GCSBucket takes precedence over LocalDir.
type ExportConfig struct {
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// OutcomesConfig enables the Postgres outcome log when DSN is set.
type OutcomesConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds metadata for dataset notices.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MTXSET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.root", "cache")
	v.SetDefault("cache.meta_file", "meta.json")
	v.SetDefault("cache.zip_dir", "zip")
	v.SetDefault("cache.data_dir", "data")
	v.SetDefault("cache.spy_dir", "spy")
	v.SetDefault("cache.lock_timeout_seconds", 5)
	v.SetDefault("portal.url", "sparse.tamu.edu")
	v.SetDefault("portal.https", true)
	v.SetDefault("portal.key_prefix", "/MM/")
	v.SetDefault("http.user_agent", "mtxset/0.1")
	v.SetDefault("http.timeout_seconds", 300)
	v.SetDefault("http.requests_per_second", 2)
	v.SetDefault("filter.byte_min", 0)
	v.SetDefault("filter.byte_max", 20050815)
	v.SetDefault("spy.resolution", 1024)
	v.SetDefault("spy.workers", 4)
	v.SetDefault("dataset.size", 32)
	v.SetDefault("dataset.flat", true)
	v.SetDefault("dataset.norm_threshold", 1e-7)
	v.SetDefault("dataset.label_keys", []string{"ksp_type", "pc_type"})
	v.SetDefault("dataset.metrics_file", "metrics.tsv")
	v.SetDefault("dataset.matrix_dir", "mtx")
	v.SetDefault("export.local_dir", "dataset")
	v.SetDefault("outcomes.table", "acquisition_outcomes")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Cache.Root) == "" {
		return fmt.Errorf("cache.root is required")
	}
	if strings.TrimSpace(c.Portal.URL) == "" {
		return fmt.Errorf("portal.url is required")
	}
	if !strings.HasPrefix(c.Portal.KeyPrefix, "/") {
		return fmt.Errorf("portal.key_prefix must start with /")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Filter.ByteMin < 0 {
		return fmt.Errorf("filter.byte_min must be >= 0")
	}
	if c.Filter.ByteMin >= c.Filter.ByteMax {
		return fmt.Errorf("filter.byte_min must be < filter.byte_max")
	}
	if c.Spy.Resolution < 0 {
		return fmt.Errorf("spy.resolution must be >= 0")
	}
	if c.Spy.Workers < 0 {
		return fmt.Errorf("spy.workers must be >= 0")
	}
	if c.Dataset.Size <= 0 {
		return fmt.Errorf("dataset.size must be > 0")
	}
	if len(c.Dataset.LabelKeys) == 0 {
		return fmt.Errorf("dataset.label_keys must not be empty")
	}
	if c.Export.GCSBucket == "" && strings.TrimSpace(c.Export.LocalDir) == "" {
		return fmt.Errorf("export.local_dir is required when export.gcs_bucket is empty")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

// Scheme is the URL scheme used for the portal and archive downloads.
func (c Config) Scheme() string {
	if c.Portal.HTTPS {
		return "https"
	}
	return "http"
}

// PortalURL joins the scheme and the portal location.
func (c Config) PortalURL() string {
	u := url.URL{Scheme: c.Scheme()}
	host, path, _ := strings.Cut(strings.TrimPrefix(strings.TrimPrefix(c.Portal.URL, "https://"), "http://"), "/")
	u.Host = host
	u.Path = "/" + path
	return u.String()
}

// Timeout converts http.timeout_seconds into a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// LockTimeout converts cache.lock_timeout_seconds into a duration.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.Cache.LockTimeoutSeconds) * time.Second
}

// MetaPath is the persisted link index.
func (c Config) MetaPath() string { return c.cachePath(c.Cache.MetaFile) }

// ZipRoot holds cached archives.
func (c Config) ZipRoot() string { return c.cachePath(c.Cache.ZipDir) }

// DataRoot holds extracted matrices.
func (c Config) DataRoot() string { return c.cachePath(c.Cache.DataDir) }

// SpyRoot holds sparsity rasters.
func (c Config) SpyRoot() string { return c.cachePath(c.Cache.SpyDir) }

func (c Config) cachePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Cache.Root, p)
}
