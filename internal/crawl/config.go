package crawl

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config controls one crawl run.
type Config struct {
	MaxDepth         int
	MaxPages         int
	WorkerCount      int
	RendererPoolSize int

	// RequestsPerSecond and Burst set the per-host token bucket; a
	// robots.txt Crawl-delay can lower the effective rate but never raise it.
	RequestsPerSecond float64
	Burst             int

	RetryLimit int
	UserAgent  string

	// HighPriorityDepth marks the depth below which discovered links are
	// enqueued at high priority, so shallow site structure drains first.
	HighPriorityDepth int

	NavigateTimeout time.Duration
	ReadyTimeout    time.Duration
	ScriptTimeout   time.Duration
	CheckoutTimeout time.Duration
	RobotsTimeout   time.Duration

	// Deduplicator sizing: expected URL cardinality and the acceptable
	// false-positive rate of the probabilistic tier.
	ExpectedURLs      uint
	FalsePositiveRate float64
}

// DefaultConfig returns crawl settings suitable for a mid-sized site.
func DefaultConfig() *Config {
	return &Config{
		MaxDepth:          3,
		MaxPages:          500,
		WorkerCount:       5,
		RendererPoolSize:  5,
		RequestsPerSecond: 2,
		Burst:             4,
		RetryLimit:        2,
		UserAgent:         "OrbWeaver/1.0 (+https://github.com/fieldfare/orb-weaver)",
		HighPriorityDepth: 3,
		NavigateTimeout:   30 * time.Second,
		ReadyTimeout:      15 * time.Second,
		ScriptTimeout:     10 * time.Second,
		CheckoutTimeout:   30 * time.Second,
		RobotsTimeout:     10 * time.Second,
		ExpectedURLs:      100_000,
		FalsePositiveRate: 0.001,
	}
}

// ConfigFromEnv returns DefaultConfig with OW_* environment overrides
// applied. Unparseable values keep the default.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("OW_MAX_DEPTH"); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxDepth = n
		}
	}
	if v, ok := os.LookupEnv("OW_MAX_PAGES"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxPages = n
		}
	}
	if v, ok := os.LookupEnv("OW_WORKERS"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WorkerCount = n
		}
	}
	if v, ok := os.LookupEnv("OW_RENDERER_POOL_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RendererPoolSize = n
		}
	}
	if v, ok := os.LookupEnv("OW_REQUESTS_PER_SECOND"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RequestsPerSecond = f
		}
	}
	if v, ok := os.LookupEnv("OW_RETRY_LIMIT"); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RetryLimit = n
		}
	}
	if v, ok := os.LookupEnv("OW_USER_AGENT"); ok && v != "" {
		cfg.UserAgent = v
	}
	if v, ok := os.LookupEnv("OW_NAVIGATE_TIMEOUT_SECONDS"); ok {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.NavigateTimeout = time.Duration(sec) * time.Second
		}
	}

	return cfg
}

// Validate rejects configurations that cannot produce a run.
func (c *Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth must be non-negative, got %d", c.MaxDepth)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", c.WorkerCount)
	}
	if c.RendererPoolSize < 1 {
		return fmt.Errorf("renderer pool size must be at least 1, got %d", c.RendererPoolSize)
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive, got %f", c.RequestsPerSecond)
	}
	if c.RetryLimit < 0 {
		return fmt.Errorf("retry limit must be non-negative, got %d", c.RetryLimit)
	}
	return nil
}
