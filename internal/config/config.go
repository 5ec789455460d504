package config

import (
	"os"
	"strings"
)

// Secret names a required piece of configuration. The value is the
// environment variable it is read from.
type Secret string

const (
	SupabaseURL            Secret = "SUPABASE_URL"
	SupabaseServiceRoleKey Secret = "SUPABASE_SERVICE_ROLE_KEY"
	SupabaseJWTSecret      Secret = "SUPABASE_JWT_SECRET"
	ResendAPIKey           Secret = "RESEND_API_KEY"
	ResendFrom             Secret = "RESEND_FROM_EMAIL"
	StripeSecretKey        Secret = "STRIPE_SECRET_KEY"
	StripePriceID          Secret = "STRIPE_PRICE_ID"
	StripeWebhookSecret    Secret = "STRIPE_WEBHOOK_SECRET"
	OpenAIAPIKey           Secret = "OPENAI_API_KEY"
	AppBaseURL             Secret = "APP_BASE_URL"
)

// S3Config holds S3-compatible storage configuration for archive exports.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Enabled reports whether enough is set to build a client.
func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type Config struct {
	Port     string
	LogLevel string
	BaseURL  string

	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseJWTSecret      string

	ResendAPIKey string
	ResendFrom   string

	StripeSecretKey     string
	StripePriceID       string
	StripeCouponID      string
	StripeWebhookSecret string

	OpenAIAPIKey       string
	OpenAIProject      string
	OpenAIOrganization string

	S3 S3Config

	BannerDBPath string
	AppDir       string
	BlogDir      string
}

// Load reads the configuration from the environment. Nothing is required at
// load time; each handler checks the secrets it needs per request.
func Load() Config {
	cfg := Config{
		Port:     getenv("NARRA_PORT", "8080"),
		LogLevel: os.Getenv("NARRA_LOG_LEVEL"),

		SupabaseURL:            strings.TrimRight(os.Getenv(string(SupabaseURL)), "/"),
		SupabaseServiceRoleKey: os.Getenv(string(SupabaseServiceRoleKey)),
		SupabaseJWTSecret:      os.Getenv(string(SupabaseJWTSecret)),

		ResendAPIKey: os.Getenv(string(ResendAPIKey)),
		ResendFrom:   os.Getenv(string(ResendFrom)),

		StripeSecretKey:     os.Getenv(string(StripeSecretKey)),
		StripePriceID:       os.Getenv(string(StripePriceID)),
		StripeCouponID:      os.Getenv("STRIPE_COUPON_ID"),
		StripeWebhookSecret: os.Getenv(string(StripeWebhookSecret)),

		OpenAIAPIKey:       os.Getenv(string(OpenAIAPIKey)),
		OpenAIProject:      os.Getenv("OPENAI_PROJECT_ID"),
		OpenAIOrganization: os.Getenv("OPENAI_ORGANIZATION_ID"),

		S3: S3Config{
			Endpoint:  os.Getenv("NARRA_S3_ENDPOINT"),
			Bucket:    os.Getenv("NARRA_S3_BUCKET"),
			Region:    getenv("NARRA_S3_REGION", "auto"),
			AccessKey: os.Getenv("NARRA_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("NARRA_S3_SECRET_KEY"),
		},

		BannerDBPath: getenv("NARRA_BANNER_DB_PATH", "narra.db"),
		AppDir:       getenv("NARRA_APP_DIR", "web/app"),
		BlogDir:      getenv("NARRA_BLOG_DIR", "web/blog"),
	}

	// Left empty when unset: emailed links must never point at localhost.
	cfg.BaseURL = strings.TrimRight(os.Getenv(string(AppBaseURL)), "/")
	return cfg
}

// Value returns the configured value for a secret.
func (c Config) Value(s Secret) string {
	switch s {
	case SupabaseURL:
		return c.SupabaseURL
	case SupabaseServiceRoleKey:
		return c.SupabaseServiceRoleKey
	case SupabaseJWTSecret:
		return c.SupabaseJWTSecret
	case ResendAPIKey:
		return c.ResendAPIKey
	case ResendFrom:
		return c.ResendFrom
	case StripeSecretKey:
		return c.StripeSecretKey
	case StripePriceID:
		return c.StripePriceID
	case StripeWebhookSecret:
		return c.StripeWebhookSecret
	case OpenAIAPIKey:
		return c.OpenAIAPIKey
	case AppBaseURL:
		return c.BaseURL
	}
	return ""
}

// Missing returns the names of the given secrets that are not set.
func (c Config) Missing(secrets ...Secret) []string {
	var missing []string
	for _, s := range secrets {
		if strings.TrimSpace(c.Value(s)) == "" {
			missing = append(missing, string(s))
		}
	}
	return missing
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
