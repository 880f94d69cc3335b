package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// HTTP server configuration
	Port    string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl string `long:"base-url" env:"BASE_URL" description:"Public base URL for the site (e.g., https://m10z.de)"`

	// Upstream CMS configuration
	UpstreamUrl   string `long:"upstream-url" env:"UPSTREAM_URL" default:"http://localhost:1337" description:"Base URL of the upstream content API"`
	UpstreamToken string `long:"upstream-token" env:"UPSTREAM_TOKEN" description:"Access token for the upstream content API"`

	// Security configuration
	InvalidationSecret string `long:"invalidation-secret" env:"INVALIDATION_SECRET" description:"Secret for invalidation webhooks (empty disables the endpoints)"`
	DiagnosticsToken   string `long:"diagnostics-token" env:"DIAGNOSTICS_TOKEN" description:"Token for diagnostics endpoints (empty disables the endpoints)"`
	RateLimitWindow    int    `long:"rate-limit-window" env:"RATE_LIMIT_WINDOW" default:"60" description:"Rate limit window in seconds"`
	RateLimitMax       int    `long:"rate-limit-max" env:"RATE_LIMIT_MAX" default:"10" description:"Maximum requests per key per window"`

	// Application configuration
	FeedsDir          string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed definition files"`
	DBPath            string `long:"db-path" env:"DB_PATH" default:"./feed-hub.db" description:"Path to the SQLite snapshot database"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"3" description:"Number of background workers for feed refreshing"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"30" description:"Scheduler interval in seconds"`
	DiagRingSize      int    `long:"diag-ring-size" env:"DIAG_RING_SIZE" default:"200" description:"Capacity of the diagnostics event ring"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"M10Z Feed Hub/1.0" description:"User agent string for upstream requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Europe/Berlin)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		Port:               raw.Port,
		BaseUrl:            raw.BaseUrl,
		UpstreamUrl:        raw.UpstreamUrl,
		UpstreamToken:      raw.UpstreamToken,
		InvalidationSecret: raw.InvalidationSecret,
		DiagnosticsToken:   raw.DiagnosticsToken,
		RateLimitWindow:    raw.RateLimitWindow,
		RateLimitMax:       raw.RateLimitMax,
		FeedsDir:           raw.FeedsDir,
		DBPath:             raw.DBPath,
		WorkerCount:        raw.WorkerCount,
		SchedulerInterval:  raw.SchedulerInterval,
		DiagRingSize:       raw.DiagRingSize,
		UserAgent:          raw.UserAgent,
		Timezone:           raw.Timezone,
		Debug:              raw.Debug,
		Version:            GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
