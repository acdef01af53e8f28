package config

import (
	"os"
	"strconv"
	"time"
)

// WebhookConfig carries the per-provider signing secrets and verification
// settings for inbound webhook endpoints.
type WebhookConfig struct {
	StripeSecret      string
	PaystackSecret    string
	FlutterwaveSecret string
	StripeTolerance   time.Duration
	MaxBodyBytes      int64
	DedupCacheTTL     time.Duration
}

func LoadWebhookConfig() *WebhookConfig {
	return &WebhookConfig{
		StripeSecret:      getEnv("WEBHOOK_STRIPE_SECRET", ""),
		PaystackSecret:    getEnv("WEBHOOK_PAYSTACK_SECRET", ""),
		FlutterwaveSecret: getEnv("WEBHOOK_FLUTTERWAVE_SECRET", ""),
		StripeTolerance:   getEnvAsDuration("WEBHOOK_STRIPE_TOLERANCE", 5*time.Minute),
		MaxBodyBytes:      int64(getEnvAsInt("WEBHOOK_MAX_BODY_BYTES", 1_048_576)),
		DedupCacheTTL:     getEnvAsDuration("WEBHOOK_DEDUP_CACHE_TTL", 24*time.Hour),
	}
}

// ReconcileConfig bounds the provider query retries and the overall run.
type ReconcileConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

func LoadReconcileConfig() *ReconcileConfig {
	return &ReconcileConfig{
		MaxAttempts: getEnvAsInt("RECONCILE_MAX_ATTEMPTS", 3),
		Backoff:     getEnvAsDuration("RECONCILE_BACKOFF", 2*time.Second),
		Timeout:     getEnvAsDuration("RECONCILE_TIMEOUT", 60*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
