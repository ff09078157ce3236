package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings is the explicit configuration handed to constructors.
// Nothing outside main() and the ops CLI should read the environment directly.
type Settings struct {
	Port string

	JustGiving JustGivingSettings
	EveryOrg   EveryOrgSettings

	// ReturnURL is the platform page the processor redirects the donor back to.
	ReturnURL string

	DonationTimeout  time.Duration
	CharityCacheTTL  time.Duration
	ReconcileBatch   int
	LivePlatforms    []string
	EnableFastPath   bool
	AuthSecret       string
	ReconcileTopic   string
	DonationTopic    string
	ReconcileLockTTL time.Duration

	HTTP HTTPSettings
}

type HTTPSettings struct {
	Production     bool
	AllowedOrigins []string
	SkipMigrations bool

	RateLimitEnabled bool
	RateLimitMax     int64
	RateLimitWindow  time.Duration
}

type JustGivingSettings struct {
	APIURL          string
	AppID           string
	DonateURL       string
	Currency        string
	RateLimitPerMin int
	Timeout         time.Duration
}

type EveryOrgSettings struct {
	APIURL          string
	APIKey          string
	DonateURL       string
	Currency        string
	RateLimitPerMin int
	Timeout         time.Duration
}

func init() {
	// Load env from .env
	godotenv.Load()
}

// LoadSettings reads Settings from the environment with production defaults.
func LoadSettings() Settings {
	port := stringFromEnv("API_PORT", "")
	if port == "" {
		// Cloud Run standard env var.
		port = stringFromEnv("PORT", "8080")
	}
	return Settings{
		Port: port,
		JustGiving: JustGivingSettings{
			APIURL:          stringFromEnv("JUSTGIVING_API_URL", "https://api.justgiving.com"),
			AppID:           stringFromEnv("JUSTGIVING_APP_ID", ""),
			DonateURL:       stringFromEnv("JUSTGIVING_DONATE_URL", "https://link.justgiving.com/v1/charity/donate"),
			Currency:        stringFromEnv("JUSTGIVING_CURRENCY", "GBP"),
			RateLimitPerMin: intFromEnv("JUSTGIVING_RATE_LIMIT_PER_MIN", 120),
			Timeout:         time.Duration(intFromEnv("JUSTGIVING_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		EveryOrg: EveryOrgSettings{
			APIURL:          stringFromEnv("EVERYORG_API_URL", "https://partners.every.org"),
			APIKey:          stringFromEnv("EVERYORG_API_KEY", ""),
			DonateURL:       stringFromEnv("EVERYORG_DONATE_URL", "https://www.every.org"),
			Currency:        stringFromEnv("EVERYORG_CURRENCY", "USD"),
			RateLimitPerMin: intFromEnv("EVERYORG_RATE_LIMIT_PER_MIN", 60),
			Timeout:         time.Duration(intFromEnv("EVERYORG_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		ReturnURL:        stringFromEnv("DONATION_RETURN_URL", "http://localhost:3000/donation/complete"),
		DonationTimeout:  time.Duration(intFromEnv("DONATION_TIMEOUT_MINUTES", 30)) * time.Minute,
		CharityCacheTTL:  time.Duration(intFromEnv("CHARITY_CACHE_TTL_HOURS", 24)) * time.Hour,
		ReconcileBatch:   intFromEnv("RECONCILE_BATCH_SIZE", 100),
		LivePlatforms:    LivePlatforms(),
		EnableFastPath:   ImmediateConfirmationEnabled(),
		AuthSecret:       stringFromEnv("API_SECRET", ""),
		ReconcileTopic:   stringFromEnv("RECONCILE_TOPIC", "donation-reconcile"),
		DonationTopic:    stringFromEnv("DONATION_EVENTS_TOPIC", ""),
		ReconcileLockTTL: time.Duration(intFromEnv("RECONCILE_LOCK_SECONDS", 600)) * time.Second,
		HTTP: HTTPSettings{
			Production:       strings.EqualFold(stringFromEnv("GO_ENV", ""), "production"),
			AllowedOrigins:   splitAndTrim(stringFromEnv("CORS_ALLOWED_ORIGINS", "")),
			SkipMigrations:   envBoolDefault("SKIP_MIGRATIONS", false),
			RateLimitEnabled: envBoolDefault("RATE_LIMIT_ENABLED", false),
			RateLimitMax:     int64(intFromEnv("RATE_LIMIT_MAX_REQUESTS", 600)),
			RateLimitWindow:  time.Duration(intFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		},
	}
}
