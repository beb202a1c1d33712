// Package runner executes harvesting jobs: scope expansion, the scrape
// loop, email enrichment and progress accounting.
package runner

import (
	"os"
	"strconv"
	"time"
)

// Config is assembled from the environment once at startup.
type Config struct {
	Env        string // "production" or "development"
	DataFolder string
	Addr       string

	BrowserWSEndpoint  string
	ScraperConcurrency int
	PageCeiling        int

	WorkerConcurrency int

	EmailConcurrency int
	EmailPagesMax    int
	EmailTimeout     time.Duration
	EmailAPITimeout  time.Duration
	EmailAPIEndpoint string
	EmailAPIToken    string

	FallbackOnSMTPFailure bool
	HeloHost              string
	MailFrom              string
	SMTPPort              int
	SMTPTryStartTLS       bool
	SMTPCatchAllProbe     bool
	SMTPConnectTimeout    time.Duration
	SMTPCommandTimeout    time.Duration

	DatabaseURL      string
	PersistentDedup  bool
	DisableTelemetry bool
	PosthogAPIKey    string

	LogsPerSecondLimit int
}

// FromEnv reads the configuration, applying environment-dependent
// defaults. Development trades politeness for iteration speed.
func FromEnv() Config {
	env := envStr("APP_ENV", "production")
	prod := env == "production"

	defaultConcurrency := 5
	defaultLogLimit := 0

	if prod {
		defaultConcurrency = 2
		defaultLogLimit = 500
	}

	concurrency := envInt("SCRAPER_CONCURRENCY", defaultConcurrency)

	cfg := Config{
		Env:        env,
		DataFolder: envStr("DATA_FOLDER", "webdata"),
		Addr:       envStr("ADDR", ":8080"),

		BrowserWSEndpoint:  os.Getenv("BROWSER_WS_ENDPOINT_PRIVATE"),
		ScraperConcurrency: concurrency,
		PageCeiling:        envInt("PAGE_CEILING", concurrency*2+2),

		WorkerConcurrency: envInt("WORKER_CONCURRENCY", 1),

		EmailConcurrency: envInt("EMAIL_API_CONCURRENCY", 4),
		EmailPagesMax:    envInt("EMAIL_PAGES_MAX", 4),
		EmailTimeout:     envMs("EMAIL_TIMEOUT_MS", 65_000),
		EmailAPITimeout:  envMs("EMAIL_API_TIMEOUT", 30_000),
		EmailAPIEndpoint: os.Getenv("EMAIL_API_ENDPOINT"),
		EmailAPIToken:    os.Getenv("EMAIL_API_TOKEN"),

		FallbackOnSMTPFailure: envBool("EMAIL_FALLBACK_ON_SMTP_FAILURE", false),
		HeloHost:              envStr("HELO_HOST", "localhost"),
		MailFrom:              os.Getenv("MAIL_FROM"),
		SMTPPort:              envInt("SMTP_PORT", 25),
		SMTPTryStartTLS:       envBool("SMTP_TRY_STARTTLS", true),
		SMTPCatchAllProbe:     envBool("SMTP_CATCHALL_PROBE", true),
		SMTPConnectTimeout:    envMs("SMTP_CONNECT_TIMEOUT_MS", 10_000),
		SMTPCommandTimeout:    envMs("SMTP_COMMAND_TIMEOUT_MS", 15_000),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PersistentDedup:  envBool("PERSISTENT_DEDUP", false),
		DisableTelemetry: envBool("DISABLE_TELEMETRY", false),
		PosthogAPIKey:    os.Getenv("POSTHOG_API_KEY"),

		LogsPerSecondLimit: envInt("LOGS_PER_SECOND_LIMIT", defaultLogLimit),
	}

	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}

	if cfg.WorkerConcurrency > 3 {
		cfg.WorkerConcurrency = 3
	}

	return cfg
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}

	return v
}

func envMs(key string, defMs int) time.Duration {
	return time.Duration(envInt(key, defMs)) * time.Millisecond
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}

	return v
}
