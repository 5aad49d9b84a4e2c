package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DBType     string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string

	IntaSendSecretKey     string
	IntaSendWebhookSecret string
	IntaSendBaseURL       string

	MpesaAPIKey              string
	MpesaPublicKey           string
	MpesaBaseURL             string
	MpesaServiceProviderCode string
	MpesaCountry             string

	ProviderTimeout time.Duration

	SessionTTL          time.Duration
	SessionSweepEvery   time.Duration
	AnonymousRateLimit  int
	AnonymousRateWindow time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "hireloop"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "hireloop"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),

		StripeSecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
		StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		StripeSuccessURL:    strings.TrimSpace(getenv("STRIPE_SUCCESS_URL", "")),

		IntaSendSecretKey:     strings.TrimSpace(getenv("INTASEND_SECRET_KEY", "")),
		IntaSendWebhookSecret: strings.TrimSpace(getenv("INTASEND_WEBHOOK_SECRET", "")),
		IntaSendBaseURL:       getenv("INTASEND_BASE_URL", "https://payment.intasend.com"),

		MpesaAPIKey:              strings.TrimSpace(getenv("MPESA_API_KEY", "")),
		MpesaPublicKey:           strings.TrimSpace(getenv("MPESA_PUBLIC_KEY", "")),
		MpesaBaseURL:             getenv("MPESA_BASE_URL", "https://openapi.m-pesa.com/sandbox"),
		MpesaServiceProviderCode: strings.TrimSpace(getenv("MPESA_SERVICE_PROVIDER_CODE", "")),
		MpesaCountry:             getenv("MPESA_COUNTRY", "TZN"),

		ProviderTimeout: getenvDuration("PROVIDER_TIMEOUT_SECONDS", 15*time.Second, time.Second),

		SessionTTL:          getenvDuration("SESSION_TTL_HOURS", 24*time.Hour, time.Hour),
		SessionSweepEvery:   getenvDuration("SESSION_SWEEP_MINUTES", 10*time.Minute, time.Minute),
		AnonymousRateLimit:  getenvInt("ANON_RATE_LIMIT", 5),
		AnonymousRateWindow: getenvDuration("ANON_RATE_WINDOW_MINUTES", time.Hour, time.Minute),
	}
}

// Module wires configuration loading into the fx graph.
var Module = fx.Module("config",
	fx.Provide(Load),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration, unit time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return time.Duration(parsed) * unit
}
