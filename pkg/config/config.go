package config

import (
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultBaseURL is the Nextpertise API host.
	DefaultBaseURL = "https://api.nextpertise.nl"
	// DefaultBillingCycle is the first billing cycle the usage endpoint supports.
	DefaultBillingCycle = "2024-06-01"
	// DefaultPageSize matches the page size the listing endpoint is queried with.
	DefaultPageSize = 5
)

// Config holds the runtime configuration for a single report run.
type Config struct {
	ServiceName string
	Env         string
	LogLevel    string

	// Nextpertise API
	BaseURL           string
	APIUsername       string
	APIPassword       string
	CredentialsSecret string
	HTTPTimeout       time.Duration
	HTTPRetryMax      int
	RequestsPerSecond int
	RequestsBurst     int

	// Report
	BillingCycle string
	DebtorCode   string
	PageSize     int
	OutputDir    string

	// Optional sinks
	AWSRegion      string
	DatabaseURL    string
	RedisAddr      string
	RedisDB        int
	RedisPass      string
	NATSURL        string
	ReportSubject  string
	PushgatewayURL string
}

// Load loads configuration from environment variables and optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServiceName:       GetEnv("SERVICE_NAME", "mbb-usage-report"),
		Env:               GetEnv("ENV", "dev"),
		LogLevel:          GetEnv("LOG_LEVEL", "info"),
		BaseURL:           GetEnv("API_BASE_URL", DefaultBaseURL),
		APIUsername:       GetEnvFirst("API_USERNAME", "NEXTPERTISE_API_USERNAME"),
		APIPassword:       GetEnvFirst("API_PASSWORD", "NEXTPERTISE_API_PASSWORD"),
		CredentialsSecret: GetEnv("API_CREDENTIALS_SECRET", ""),
		HTTPTimeout:       GetEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		HTTPRetryMax:      GetEnvInt("HTTP_RETRY_MAX", 0),
		RequestsPerSecond: GetEnvInt("API_REQUESTS_PER_SECOND", 0),
		RequestsBurst:     GetEnvInt("API_REQUESTS_BURST", 1),
		BillingCycle:      GetEnv("BILLING_CYCLE", DefaultBillingCycle),
		DebtorCode:        GetEnv("DEBTOR_CODE", ""),
		PageSize:          GetEnvInt("PAGE_SIZE", DefaultPageSize),
		OutputDir:         GetEnv("OUTPUT_DIR", "."),
		AWSRegion:         GetEnv("AWS_REGION", "eu-west-1"),
		DatabaseURL:       GetEnv("DATABASE_URL", ""),
		RedisAddr:         GetEnv("REDIS_ADDR", ""),
		RedisDB:           GetEnvInt("REDIS_DB", 0),
		RedisPass:         GetEnv("REDIS_PASS", ""),
		NATSURL:           GetEnv("NATS_URL", ""),
		ReportSubject:     GetEnv("REPORT_SUBJECT", "evt.mbb.usage_report.v1"),
		PushgatewayURL:    GetEnv("PUSHGATEWAY_URL", ""),
	}
}

// HasCredentials reports whether both halves of the API credential pair are set.
func (c *Config) HasCredentials() bool {
	return c.APIUsername != "" && c.APIPassword != ""
}
