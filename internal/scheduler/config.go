// Package scheduler provides item dispatching with worker pool management.
package scheduler

import "time"

// Config defines the scheduler configuration.
type Config struct {
	// Agents lists the agent names available to the pool, one worker each.
	Agents []string `yaml:"agents"`
	// Concurrency caps the number of workers.
	Concurrency int `yaml:"concurrency"`
	// PaceDelay is the pause a worker takes after every item.
	PaceDelay time.Duration `yaml:"pace_delay"`
	// FlushInterval is how often buffered results are persisted.
	FlushInterval time.Duration `yaml:"flush_interval"`
	// MaxAttempts bounds how often one worker tries the same item. 1 means
	// a failed item is dropped right away.
	MaxAttempts int `yaml:"max_attempts"`
	// RateLimit caps items started per second across all workers; 0 disables.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the limiter burst size.
	RateBurst int `yaml:"rate_burst"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:   3,
		PaceDelay:     time.Millisecond,
		FlushInterval: 5 * time.Second,
		MaxAttempts:   1,
	}
}

// PoolAgents returns the agents that get a worker: the first Concurrency
// distinct configured names. A repeated name would put two workers on one
// chat session, so only its first occurrence counts.
func (c *Config) PoolAgents() []string {
	seen := make(map[string]bool, len(c.Agents))
	agents := make([]string, 0, len(c.Agents))
	for _, name := range c.Agents {
		if seen[name] {
			continue
		}
		if c.Concurrency > 0 && len(agents) == c.Concurrency {
			break
		}
		seen[name] = true
		agents = append(agents, name)
	}
	return agents
}

func (c *Config) normalize() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.PaceDelay < 0 {
		c.PaceDelay = 0
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
}
