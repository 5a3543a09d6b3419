package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fieldfare/orb-weaver/internal/crawl"
	"github.com/fieldfare/orb-weaver/internal/fetch"
	"github.com/fieldfare/orb-weaver/internal/renderer"
)

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// jsonSink writes each page record as one JSON line on stdout and logs
// failures.
type jsonSink struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newJSONSink() *jsonSink {
	return &jsonSink{encoder: json.NewEncoder(os.Stdout)}
}

func (s *jsonSink) Emit(record *crawl.PageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.encoder.Encode(record); err != nil {
		log.Error().Err(err).Str("url", record.URL).Msg("Failed to write page record")
	}
}

func (s *jsonSink) EmitFailure(url, reason string) {
	log.Warn().Str("url", url).Str("reason", reason).Msg("Page failed")
}

// logProgress reports crawl progress at a readable cadence.
type logProgress struct{}

func (logProgress) ReportProgress(processed, total int, currentURL string) {
	if processed%10 == 0 {
		log.Info().
			Int("processed", processed).
			Int("discovered", total).
			Str("current", currentURL).
			Msg("Crawl progress")
	}
}

func main() {
	// Load .env files - .env.local takes priority for development
	godotenv.Load(".env.local", ".env")

	env := getEnvWithDefault("APP_ENV", "development")
	setupLogging(env, getEnvWithDefault("LOG_LEVEL", "info"))

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Environment:      env,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialise Sentry")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	cfg := crawl.ConfigFromEnv()

	seed := flag.String("seed", "", "URL to start crawling from (required)")
	maxDepth := flag.Int("max-depth", cfg.MaxDepth, "maximum link depth from the seed")
	maxPages := flag.Int("max-pages", cfg.MaxPages, "stop after this many pages")
	workers := flag.Int("workers", cfg.WorkerCount, "concurrent crawl workers")
	poolSize := flag.Int("renderer-pool", cfg.RendererPoolSize, "renderer session pool size")
	rps := flag.Float64("rps", cfg.RequestsPerSecond, "requests per second per host")
	retries := flag.Int("retries", cfg.RetryLimit, "retry limit for transient failures")
	flag.Parse()

	if *seed == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg.MaxDepth = *maxDepth
	cfg.MaxPages = *maxPages
	cfg.WorkerCount = *workers
	cfg.RendererPoolSize = *poolSize
	cfg.RequestsPerSecond = *rps
	cfg.RetryLimit = *retries

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chromeConfig := renderer.DefaultChromeConfig()
	chromeConfig.UserAgent = cfg.UserAgent
	browser, err := renderer.NewChromeBrowser(ctx, chromeConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Renderer unavailable, cannot start crawl")
	}
	defer browser.Close()

	fetchConfig := fetch.DefaultConfig()
	fetchConfig.UserAgent = cfg.UserAgent
	fetcher := fetch.NewClient(fetchConfig)

	orch := crawl.NewOrchestrator(fetcher, browser, newJSONSink(), logProgress{})

	run, err := orch.StartCrawl(ctx, *seed, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("seed", *seed).Msg("Failed to start crawl")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("Interrupt received, cancelling crawl...")
		run.Cancel()
		<-run.Done()
	case <-run.Done():
	}

	status := run.Wait()
	log.Info().
		Str("state", string(status.State)).
		Int("processed", status.Processed).
		Int("discovered", status.Discovered).
		Int("failed", status.Failed).
		Int("skipped", status.Skipped).
		Msg("Crawl run ended")

	if status.State == crawl.StateCancelled {
		os.Exit(1)
	}
}

// setupLogging configures the logging system
func setupLogging(env, logLevel string) {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Use console writer in development
	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
