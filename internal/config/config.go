package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Host string
	Port string

	// Database settings
	DatabasePath string

	// Logging settings
	LogLevel  string
	LogFormat string

	// Cache settings
	CacheSize int
	CacheTTL  time.Duration

	// Court settings
	CourtBaseURL string
	CountyName   string

	// Scraper settings
	ScraperTimeout time.Duration
	HeadlessMode   bool
	UserAgent      string
	BrowserPath    string

	// Monitor settings
	MonitorInterval    time.Duration
	MaxConcurrentCases int
	FetchRetries       int
	FetchRetryBackoff  time.Duration
	RequestsPerSecond  float64

	// Upset bid policy
	UpsetBidWindowDays int
	UseBusinessDays    bool

	// Extra event-type keywords, comma-separated "category:keyword" pairs,
	// merged into the built-in classification tables
	ExtraEventKeywords []string

	// API settings
	APIRateLimit  int
	APIRateWindow time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not an error if .env doesn't exist
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Host:         getEnv("HOST", "0.0.0.0"),
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./data/foreclosure_cases.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
		CourtBaseURL: getEnv("COURT_BASE_URL", "https://portal-nc.tylertech.cloud/Portal"),
		CountyName:   getEnv("COUNTY_NAME", "Mecklenburg"),
		UserAgent:    getEnv("USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"),
		BrowserPath:  getEnv("ROD_BROWSER_PATH", ""),
	}

	// Parse integer values
	var err error
	cfg.CacheSize, err = strconv.Atoi(getEnv("CACHE_SIZE", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_SIZE: %w", err)
	}

	cacheTTL, err := strconv.Atoi(getEnv("CACHE_TTL", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	cfg.CacheTTL = time.Duration(cacheTTL) * time.Minute

	scraperTimeout, err := strconv.Atoi(getEnv("SCRAPER_TIMEOUT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCRAPER_TIMEOUT: %w", err)
	}
	cfg.ScraperTimeout = time.Duration(scraperTimeout) * time.Second

	cfg.HeadlessMode = getEnv("HEADLESS_MODE", "true") == "true"

	monitorInterval, err := strconv.Atoi(getEnv("MONITOR_INTERVAL_HOURS", "24"))
	if err != nil {
		return nil, fmt.Errorf("invalid MONITOR_INTERVAL_HOURS: %w", err)
	}
	cfg.MonitorInterval = time.Duration(monitorInterval) * time.Hour

	cfg.MaxConcurrentCases, err = strconv.Atoi(getEnv("MAX_CONCURRENT_CASES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_CONCURRENT_CASES: %w", err)
	}

	cfg.FetchRetries, err = strconv.Atoi(getEnv("FETCH_RETRIES", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid FETCH_RETRIES: %w", err)
	}

	retryBackoff, err := strconv.Atoi(getEnv("FETCH_RETRY_BACKOFF", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid FETCH_RETRY_BACKOFF: %w", err)
	}
	cfg.FetchRetryBackoff = time.Duration(retryBackoff) * time.Second

	cfg.RequestsPerSecond, err = strconv.ParseFloat(getEnv("REQUESTS_PER_SECOND", "0.5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid REQUESTS_PER_SECOND: %w", err)
	}

	cfg.UpsetBidWindowDays, err = strconv.Atoi(getEnv("UPSET_BID_WINDOW_DAYS", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid UPSET_BID_WINDOW_DAYS: %w", err)
	}

	cfg.UseBusinessDays = getEnv("USE_BUSINESS_DAYS", "false") == "true"

	if extra := getEnv("EXTRA_EVENT_KEYWORDS", ""); extra != "" {
		for _, pair := range strings.Split(extra, ",") {
			pair = strings.TrimSpace(pair)
			if pair != "" {
				cfg.ExtraEventKeywords = append(cfg.ExtraEventKeywords, pair)
			}
		}
	}

	cfg.APIRateLimit, err = strconv.Atoi(getEnv("API_RATE_LIMIT", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_RATE_LIMIT: %w", err)
	}

	apiRateWindow, err := strconv.Atoi(getEnv("API_RATE_WINDOW", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_RATE_WINDOW: %w", err)
	}
	cfg.APIRateWindow = time.Duration(apiRateWindow) * time.Second

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
