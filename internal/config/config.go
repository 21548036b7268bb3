// Package config loads TruthWatch configuration from the environment.
//
// Validation is fail-fast but exhaustive: every missing or invalid setting is
// reported in one error so an operator can fix them all at once.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/TruthWatch/internal/util"
)

// Defaults for optional settings.
const (
	DefaultInstance        = "truthsocial.com"
	DefaultPostType        = "post"
	DefaultPollSeconds     = 300
	DefaultDiscordUsername = "Truth Social Bot"
	DefaultLedgerTable     = "posts"
	DefaultTimeoutSeconds  = 30
	DefaultMaxRetries      = 3
	DefaultSolverAddress   = "localhost"
	DefaultSolverPort      = 8191
)

// MinSanePollInterval is the threshold below which the poll interval gets a
// startup warning: anything faster risks rate limiting at the source.
const MinSanePollInterval = 5 * time.Second

var tablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds every setting TruthWatch reads from the environment.
type Config struct {
	// Source account
	Username string // TRUTH_USERNAME (required)
	Instance string // TRUTH_INSTANCE
	PostType string // POST_TYPE, names the post kind in message headers

	// Polling
	PollInterval time.Duration // REPEAT_DELAY, seconds
	PollSchedule string        // POLL_SCHEDULE, optional cron expression

	// Notification sink
	DiscordNotify     bool   // DISCORD_NOTIFY
	DiscordWebhookURL string // DISCORD_WEBHOOK_URL (required when notifying)
	DiscordUsername   string // DISCORD_USERNAME

	// Durable ledger
	LedgerDSN   string // DATABASE_URL (required): postgres URL or sqlite path
	LedgerTable string // LEDGER_TABLE

	// HTTP behavior
	RequestTimeout time.Duration // REQUEST_TIMEOUT, seconds
	MaxRetries     int           // MAX_RETRIES

	// Challenge solver
	SolverAddress string // FLARESOLVERR_ADDRESS
	SolverPort    int    // FLARESOLVERR_PORT

	// Logging
	LogLevel string // LOG_LEVEL
}

// Load reads the .env file (if present) and the environment, then validates.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("Config.Load: no .env file loaded", "error", err)
	}
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval < MinSanePollInterval {
		slog.Warn("Config.Load: very low poll interval, consider at least 5 seconds to avoid rate limiting", "interval", cfg.PollInterval)
	}
	return cfg, nil
}

// FromEnv reads the environment without validating. Exposed separately so
// tests can exercise validation on synthetic values.
func FromEnv() Config {
	return Config{
		Username:          os.Getenv("TRUTH_USERNAME"),
		Instance:          util.GetenvDefault("TRUTH_INSTANCE", DefaultInstance),
		PostType:          util.GetenvDefault("POST_TYPE", DefaultPostType),
		PollInterval:      time.Duration(util.ParseIntEnv("REPEAT_DELAY", DefaultPollSeconds)) * time.Second,
		PollSchedule:      os.Getenv("POLL_SCHEDULE"),
		DiscordNotify:     util.ParseBoolEnv("DISCORD_NOTIFY", true),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		DiscordUsername:   util.GetenvDefault("DISCORD_USERNAME", DefaultDiscordUsername),
		LedgerDSN:         os.Getenv("DATABASE_URL"),
		LedgerTable:       util.GetenvDefault("LEDGER_TABLE", DefaultLedgerTable),
		RequestTimeout:    time.Duration(util.ParseIntEnv("REQUEST_TIMEOUT", DefaultTimeoutSeconds)) * time.Second,
		MaxRetries:        util.ParseIntEnv("MAX_RETRIES", DefaultMaxRetries),
		SolverAddress:     util.GetenvDefault("FLARESOLVERR_ADDRESS", DefaultSolverAddress),
		SolverPort:        util.ParseIntEnv("FLARESOLVERR_PORT", DefaultSolverPort),
		LogLevel:          util.GetenvDefault("LOG_LEVEL", "INFO"),
	}
}

// Validate checks required settings and value ranges, collecting every
// problem into a single error.
func (c Config) Validate() error {
	var problems []string
	if c.Username == "" {
		problems = append(problems, "TRUTH_USERNAME is required")
	}
	if c.DiscordNotify && c.DiscordWebhookURL == "" {
		problems = append(problems, "DISCORD_WEBHOOK_URL is required when DISCORD_NOTIFY is enabled")
	}
	if c.LedgerDSN == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if !tablePattern.MatchString(c.LedgerTable) {
		problems = append(problems, fmt.Sprintf("LEDGER_TABLE %q must be a bare SQL identifier", c.LedgerTable))
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "REPEAT_DELAY must be a positive number of seconds")
	}
	if c.RequestTimeout <= 0 {
		problems = append(problems, "REQUEST_TIMEOUT must be a positive number of seconds")
	}
	if c.MaxRetries < 0 {
		problems = append(problems, "MAX_RETRIES must not be negative")
	}
	if c.SolverPort <= 0 || c.SolverPort > 65535 {
		problems = append(problems, "FLARESOLVERR_PORT must be a valid TCP port")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n%s", strings.Join(problems, "\n"))
	}
	return nil
}

// SlogLevel maps the configured log level name onto a slog level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToUpper(strings.TrimSpace(c.LogLevel)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
