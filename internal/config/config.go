package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "REELVIEW"

	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultRequestTimeout     = 2 * time.Minute
	defaultRateLimitPerMinute = 20
	defaultDatabaseDriver     = "sqlite"
	defaultDatabaseDSN        = "reelview.db"
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
	defaultCrawlerBaseURL     = "https://letterboxd.com"
	defaultCrawlerAttempts    = 3
	defaultCrawlerRetryDelay  = time.Second
	defaultCrawlerPageCap     = 10
	defaultCrawlerItemCap     = 50
	defaultCrawlerRate        = 2.0
	defaultCrawlerTimeout     = 15 * time.Second
	defaultCrawlerUserAgent   = "ReelView/1.0 (+https://github.com/MarcoPoloResearchLab/reelview)"
	defaultBatchConcurrency   = 4
	defaultStoreFaultPolicy   = "isolate"
	defaultSuggestLimit       = 20
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	RequestTimeout     time.Duration
	AllowedOrigins     []string
	RateLimitPerMinute int

	DatabaseDriver string
	DatabaseDSN    string

	LogLevel  string
	LogFormat string

	CrawlerBaseURL           string
	CrawlerMaxAttempts       int
	CrawlerRetryDelay        time.Duration
	CrawlerPageCap           int
	CrawlerItemCap           int
	CrawlerRequestsPerSecond float64
	CrawlerTimeout           time.Duration
	CrawlerUserAgent         string
	CrawlerStopOnMissing     bool

	BatchConcurrency      int
	BatchStoreFaultPolicy string

	SuggestLimit int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.request_timeout", defaultRequestTimeout)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("http.rate_limit_per_minute", defaultRateLimitPerMinute)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("crawler.base_url", defaultCrawlerBaseURL)
	configViper.SetDefault("crawler.max_attempts", defaultCrawlerAttempts)
	configViper.SetDefault("crawler.retry_delay", defaultCrawlerRetryDelay)
	configViper.SetDefault("crawler.page_cap", defaultCrawlerPageCap)
	configViper.SetDefault("crawler.item_cap", defaultCrawlerItemCap)
	configViper.SetDefault("crawler.requests_per_second", defaultCrawlerRate)
	configViper.SetDefault("crawler.timeout", defaultCrawlerTimeout)
	configViper.SetDefault("crawler.user_agent", defaultCrawlerUserAgent)
	configViper.SetDefault("crawler.stop_on_missing", false)
	configViper.SetDefault("batch.concurrency", defaultBatchConcurrency)
	configViper.SetDefault("batch.store_fault_policy", defaultStoreFaultPolicy)
	configViper.SetDefault("suggest.limit", defaultSuggestLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:              configViper.GetString("http.address"),
		RequestTimeout:           configViper.GetDuration("http.request_timeout"),
		AllowedOrigins:           splitList(configViper.GetStringSlice("http.allowed_origins")),
		RateLimitPerMinute:       configViper.GetInt("http.rate_limit_per_minute"),
		DatabaseDriver:           strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:              configViper.GetString("database.dsn"),
		LogLevel:                 configViper.GetString("log.level"),
		LogFormat:                strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
		CrawlerBaseURL:           configViper.GetString("crawler.base_url"),
		CrawlerMaxAttempts:       configViper.GetInt("crawler.max_attempts"),
		CrawlerRetryDelay:        configViper.GetDuration("crawler.retry_delay"),
		CrawlerPageCap:           configViper.GetInt("crawler.page_cap"),
		CrawlerItemCap:           configViper.GetInt("crawler.item_cap"),
		CrawlerRequestsPerSecond: configViper.GetFloat64("crawler.requests_per_second"),
		CrawlerTimeout:           configViper.GetDuration("crawler.timeout"),
		CrawlerUserAgent:         configViper.GetString("crawler.user_agent"),
		CrawlerStopOnMissing:     configViper.GetBool("crawler.stop_on_missing"),
		BatchConcurrency:         configViper.GetInt("batch.concurrency"),
		BatchStoreFaultPolicy:    strings.ToLower(strings.TrimSpace(configViper.GetString("batch.store_fault_policy"))),
		SuggestLimit:             configViper.GetInt("suggest.limit"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("http.request_timeout must not be negative")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("http.rate_limit_per_minute must not be negative")
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.LogFormat)
	}
	parsed, err := url.Parse(c.CrawlerBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("crawler.base_url must be an absolute url")
	}
	if c.CrawlerMaxAttempts < 1 {
		return fmt.Errorf("crawler.max_attempts must be at least 1")
	}
	if c.CrawlerRetryDelay < 0 {
		return fmt.Errorf("crawler.retry_delay must not be negative")
	}
	if c.CrawlerPageCap < 1 {
		return fmt.Errorf("crawler.page_cap must be at least 1")
	}
	if c.CrawlerItemCap < 1 {
		return fmt.Errorf("crawler.item_cap must be at least 1")
	}
	if c.CrawlerRequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must not be negative")
	}
	if c.CrawlerTimeout <= 0 {
		return fmt.Errorf("crawler.timeout must be positive")
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("batch.concurrency must be at least 1")
	}
	switch c.BatchStoreFaultPolicy {
	case "isolate", "abort":
	default:
		return fmt.Errorf("batch.store_fault_policy must be isolate or abort, got %q", c.BatchStoreFaultPolicy)
	}
	if c.SuggestLimit < 1 {
		return fmt.Errorf("suggest.limit must be at least 1")
	}
	return nil
}

// splitList accepts both repeated values and a single comma-separated env value.
func splitList(values []string) []string {
	items := make([]string, 0, len(values))
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				items = append(items, trimmed)
			}
		}
	}
	return items
}
