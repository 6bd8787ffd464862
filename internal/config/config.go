// Package config loads and validates screencrawl configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/screencrawl/internal/crawler"
)

// EnvPrefix namespaces environment overrides, e.g. SCREENCRAWL_SERVER_PORT.
const EnvPrefix = "SCREENCRAWL"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// PublicURL prefixes artifact links handed to subscribers. Defaults to
	// http://localhost:<port>.
	PublicURL       string        `mapstructure:"public_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CaptureConfig holds crawl defaults shared by the CLI and the service.
type CaptureConfig struct {
	URLs           []string      `mapstructure:"urls"`
	OutputDir      string        `mapstructure:"output_dir"`
	Format         string        `mapstructure:"format"`
	SinglePage     bool          `mapstructure:"single_page"`
	BlockAds       bool          `mapstructure:"block_ads"`
	ScopeID        string        `mapstructure:"scope_id"`
	ScopeClasses   []string      `mapstructure:"scope_classes"`
	MaxPages       int           `mapstructure:"max_pages"`
	ReadyTimeout   time.Duration `mapstructure:"ready_timeout"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	WindowWidth    int           `mapstructure:"window_width"`
	WindowHeight   int           `mapstructure:"window_height"`
	PopupSelectors []string      `mapstructure:"popup_selectors"`
	AdPatterns     []string      `mapstructure:"ad_patterns"`
	// RateLimitRPS paces navigations per host; zero disables pacing.
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// BrowserConfig selects and locates the browser driver.
type BrowserConfig struct {
	Driver    string `mapstructure:"driver"`
	Headless  bool   `mapstructure:"headless"`
	ExecPath  string `mapstructure:"exec_path"`
	UserAgent string `mapstructure:"user_agent"`

	// Headers are added to every request the page makes. Names arrive
	// lower-cased from Viper.
	Headers map[string]string `mapstructure:"headers"`
}

// JobsConfig sizes the job worker pool and the job log.
type JobsConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	QueueDepth   int           `mapstructure:"queue_depth"`
	TTL          time.Duration `mapstructure:"ttl"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// StorageConfig names the optional bucket artifacts are mirrored to.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the run audit database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and debug output.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	Debug       bool `mapstructure:"debug"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	ProjectID   string `mapstructure:"project_id"`
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"urls":        "capture.urls",
	"path":        "capture.output_dir",
	"type":        "capture.format",
	"single-page": "capture.single_page",
	"block-ads":   "capture.block_ads",
	"scope-id":    "capture.scope_id",
	"scope-class": "capture.scope_classes",
	"max-pages":   "capture.max_pages",
	"driver":      "browser.driver",
	"debug":       "logging.debug",
	"port":        "server.port",
}

// Load builds a Config from defaults, an optional file, the environment and
// any flags in fs named in FlagKeys, in increasing precedence.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if fs != nil {
		for name, key := range FlagKeys {
			if flag := fs.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("capture.output_dir", crawler.DefaultOutputDir)
	v.SetDefault("capture.format", string(crawler.FormatPNG))
	v.SetDefault("capture.ready_timeout", "10s")
	v.SetDefault("capture.settle_delay", "2s")
	v.SetDefault("capture.max_pages", 0)
	v.SetDefault("capture.window_width", 1920)
	v.SetDefault("capture.window_height", 1080)
	v.SetDefault("capture.rate_limit_rps", 0)
	v.SetDefault("capture.rate_limit_burst", 1)
	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("jobs.concurrency", 2)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.ttl", "1h")
	v.SetDefault("jobs.poll_interval", "500ms")
	v.SetDefault("storage.prefix", "captures")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.debug", false)
	v.SetDefault("telemetry.service_name", "screencrawl")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server.port must be between 1 and 65535"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if _, err := crawler.ParseFormat(c.Capture.Format); err != nil {
		errs = append(errs, fmt.Errorf("capture.format: %w", err))
	}
	if c.Capture.MaxPages < 0 {
		errs = append(errs, errors.New("capture.max_pages must be >= 0"))
	}
	if c.Capture.ReadyTimeout <= 0 {
		errs = append(errs, errors.New("capture.ready_timeout must be > 0"))
	}
	if c.Capture.RateLimitRPS < 0 {
		errs = append(errs, errors.New("capture.rate_limit_rps must be >= 0"))
	}
	if c.Capture.SettleDelay < 0 {
		errs = append(errs, errors.New("capture.settle_delay must be >= 0"))
	}
	switch c.Browser.Driver {
	case "chromedp", "rod":
	default:
		errs = append(errs, fmt.Errorf("browser.driver must be chromedp or rod, got %q", c.Browser.Driver))
	}
	if c.Jobs.Concurrency <= 0 {
		errs = append(errs, errors.New("jobs.concurrency must be > 0"))
	}
	if c.Jobs.QueueDepth <= 0 {
		errs = append(errs, errors.New("jobs.queue_depth must be > 0"))
	}
	if c.Jobs.TTL <= 0 {
		errs = append(errs, errors.New("jobs.ttl must be > 0"))
	}
	if c.Jobs.PollInterval <= 0 {
		errs = append(errs, errors.New("jobs.poll_interval must be > 0"))
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_name must be set together"))
	}
	return errors.Join(errs...)
}

// Request builds the capture request described by the capture section.
func (c Config) Request() crawler.Request {
	return crawler.Request{
		Seeds:        crawler.SplitSeeds(strings.Join(c.Capture.URLs, ",")),
		OutputDir:    c.Capture.OutputDir,
		Format:       crawler.Format(c.Capture.Format),
		SinglePage:   c.Capture.SinglePage,
		BlockAds:     c.Capture.BlockAds,
		ScopeID:      c.Capture.ScopeID,
		ScopeClasses: c.Capture.ScopeClasses,
		MaxPages:     c.Capture.MaxPages,
		Debug:        c.Logging.Debug,
	}
}
