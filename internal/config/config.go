// Package config loads alpaca settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kiennt/alpaca-playground/internal/completion"
	"github.com/kiennt/alpaca-playground/internal/connectors/poe"
	"github.com/kiennt/alpaca-playground/internal/scheduler"
)

// Config holds all alpaca configuration. Command-line flags override the
// values read here.
type Config struct {
	// Credentials for the chat service.
	FormKey  string
	Cookie   string
	Endpoint string

	// Agents names one worker per entry, in order.
	Agents []string

	Concurrency   int
	PaceDelay     time.Duration
	FlushInterval time.Duration
	MaxAttempts   int
	RateLimit     float64
	RateBurst     int

	PollInterval time.Duration
	PollTimeout  time.Duration
	RetryCount   int
	RetryDelay   time.Duration

	// DataDir holds batch files named <n>.json and <n>_vi.json.
	DataDir string
}

// Load reads configuration from environment variables with sensible defaults.
// Callers load a .env file first if they want one. Every malformed value is
// reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		FormKey:  envStr("FORMKEY", ""),
		Cookie:   envStr("COOKIE", ""),
		Endpoint: envStr("ALPACA_ENDPOINT", poe.DefaultEndpoint),
		Agents:   envList("BOT_NAMES", []string{"claude"}),
		DataDir:  envStr("ALPACA_DATA_DIR", "data"),
	}

	var err error
	cfg.Concurrency, err = envInt("ALPACA_CONCURRENCY", 3)
	collect(err)
	cfg.PaceDelay, err = envDuration("ALPACA_PACE_DELAY", time.Millisecond)
	collect(err)
	cfg.FlushInterval, err = envDuration("ALPACA_FLUSH_INTERVAL", 5*time.Second)
	collect(err)
	cfg.MaxAttempts, err = envInt("ALPACA_MAX_ATTEMPTS", 1)
	collect(err)
	cfg.RateLimit, err = envFloat("ALPACA_RATE_LIMIT", 0)
	collect(err)
	cfg.RateBurst, err = envInt("ALPACA_RATE_BURST", 1)
	collect(err)
	cfg.PollInterval, err = envDuration("ALPACA_POLL_INTERVAL", completion.DefaultPollInterval)
	collect(err)
	cfg.PollTimeout, err = envDuration("ALPACA_POLL_TIMEOUT", completion.DefaultPollTimeout)
	collect(err)
	cfg.RetryCount, err = envInt("ALPACA_RETRY_COUNT", completion.DefaultRetryCount)
	collect(err)
	cfg.RetryDelay, err = envDuration("ALPACA_RETRY_DELAY", completion.DefaultRetryDelay)
	collect(err)

	if len(errs) > 0 {
		return cfg, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("config: BOT_NAMES must name at least one agent")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("config: ALPACA_CONCURRENCY must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: ALPACA_POLL_INTERVAL must be positive")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("config: ALPACA_FLUSH_INTERVAL must be positive")
	}
	if c.PaceDelay < 0 {
		return fmt.Errorf("config: ALPACA_PACE_DELAY must not be negative")
	}
	if c.RetryCount <= 0 {
		return fmt.Errorf("config: ALPACA_RETRY_COUNT must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("config: ALPACA_MAX_ATTEMPTS must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: ALPACA_RATE_LIMIT must not be negative")
	}
	return c.validateBots()
}

// validateBots rejects distinct agent names that resolve to the same remote
// bot. Their workers would share one chat and read each other's replies.
func (c Config) validateBots() error {
	table := c.Completion().Agents
	owner := make(map[string]string, len(c.Agents))
	for _, name := range c.Agents {
		bot := table.BotName(name)
		if prev, ok := owner[bot]; ok && prev != name {
			return fmt.Errorf("config: BOT_NAMES %q and %q both use bot %q", prev, name, bot)
		}
		owner[bot] = name
	}
	return nil
}

// ValidateCredentials checks the settings needed to reach the chat service.
func (c Config) ValidateCredentials() error {
	if c.FormKey == "" {
		return fmt.Errorf("config: FORMKEY is required")
	}
	if c.Cookie == "" {
		return fmt.Errorf("config: COOKIE is required")
	}
	return nil
}

// Scheduler returns the worker pool settings.
func (c Config) Scheduler() *scheduler.Config {
	return &scheduler.Config{
		Agents:        append([]string(nil), c.Agents...),
		Concurrency:   c.Concurrency,
		PaceDelay:     c.PaceDelay,
		FlushInterval: c.FlushInterval,
		MaxAttempts:   c.MaxAttempts,
		RateLimit:     c.RateLimit,
		RateBurst:     c.RateBurst,
	}
}

// Completion returns the per-client protocol settings.
func (c Config) Completion() completion.Options {
	opts := completion.DefaultOptions()
	opts.PollInterval = c.PollInterval
	opts.PollTimeout = c.PollTimeout
	opts.RetryCount = c.RetryCount
	opts.RetryDelay = c.RetryDelay
	return opts
}

// BatchPaths returns the input and output files for batch n.
func (c Config) BatchPaths(n int) (input, output string) {
	input = filepath.Join(c.DataDir, fmt.Sprintf("%d.json", n))
	output = filepath.Join(c.DataDir, fmt.Sprintf("%d_vi.json", n))
	return input, output
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

// envList splits a comma-separated value, dropping blanks.
func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
