package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port         int
	LogLevel     string
	Platform     string
	WebhookToken string

	SessionBackend string
	DatabaseURL    string
	SQLitePath     string

	NatsURL   string
	NatsToken string

	ToneAPIURL   string
	ToneAPIKey   string
	ToneVersion  string
	ToneMinScore float64

	ClassifierTimeout     time.Duration
	ClassifierConcurrency int
	CatalogPath           string

	MessengerAccessToken string
	MessengerVerifyToken string
	MessengerBackend     string

	Clinc Clinc
}

type Clinc struct {
	URL          string
	Username     string
	Password     string
	Institution  string
	AIVersion    string
	ResponseSlot string
}

func Load() Config {
	return Config{
		Port:         envInt("ALLY_PORT", 8080),
		LogLevel:     envStr("LOG_LEVEL", "info"),
		Platform:     strings.ToLower(envStr("ALLY_PLATFORM", "dialogflow")),
		WebhookToken: envStr("ALLY_WEBHOOK_TOKEN", ""),

		SessionBackend: strings.ToLower(envStr("SESSION_BACKEND", "memory")),
		DatabaseURL:    envStr("DATABASE_URL", ""),
		SQLitePath:     envStr("SQLITE_PATH", "ally.db"),

		NatsURL:   envStr("NATS_URL", ""),
		NatsToken: envStr("NATS_TOKEN", ""),

		ToneAPIURL:   envStr("TONE_API_URL", ""),
		ToneAPIKey:   envStr("TONE_API_KEY", ""),
		ToneVersion:  envStr("TONE_VERSION", "2017-09-21"),
		ToneMinScore: envFloat("TONE_MIN_SCORE", 0.5),

		ClassifierTimeout:     envDuration("CLASSIFIER_TIMEOUT", 5*time.Second),
		ClassifierConcurrency: envInt("CLASSIFIER_CONCURRENCY", 4),
		CatalogPath:           envStr("CATALOG_PATH", ""),

		MessengerAccessToken: envStr("MESSENGER_ACCESS_TOKEN", ""),
		MessengerVerifyToken: envStr("MESSENGER_VERIFY_TOKEN", ""),
		MessengerBackend:     strings.ToLower(envStr("MESSENGER_BACKEND", "local")),

		Clinc: Clinc{
			URL:          envStr("CLINC_URL", ""),
			Username:     envStr("CLINC_USERNAME", ""),
			Password:     envStr("CLINC_PASSWORD", ""),
			Institution:  envStr("CLINC_INSTITUTION", ""),
			AIVersion:    envStr("CLINC_AI_VERSION", ""),
			ResponseSlot: envStr("CLINC_RESPONSE_SLOT", "_TEST_"),
		},
	}
}

// MessengerEnabled reports whether the Messenger bridge should be mounted.
func (c Config) MessengerEnabled() bool {
	return c.MessengerAccessToken != ""
}

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.ToneAPIURL == "" || c.ToneAPIKey == "" {
		errs = append(errs, errors.New("TONE_API_URL and TONE_API_KEY are required"))
	}
	if c.ToneMinScore < 0 || c.ToneMinScore > 1 {
		errs = append(errs, fmt.Errorf("TONE_MIN_SCORE must be within [0,1], got %g", c.ToneMinScore))
	}

	switch c.Platform {
	case "dialogflow", "clinc":
	default:
		errs = append(errs, fmt.Errorf("ALLY_PLATFORM must be dialogflow or clinc, got %q", c.Platform))
	}

	switch c.SessionBackend {
	case "memory", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for SESSION_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("SESSION_BACKEND must be memory, postgres or sqlite, got %q", c.SessionBackend))
	}

	if c.MessengerEnabled() {
		if c.MessengerVerifyToken == "" {
			errs = append(errs, errors.New("MESSENGER_VERIFY_TOKEN is required when MESSENGER_ACCESS_TOKEN is set"))
		}
		switch c.MessengerBackend {
		case "local":
		case "clinc":
			if c.Clinc.URL == "" || c.Clinc.Username == "" || c.Clinc.Password == "" {
				errs = append(errs, errors.New("CLINC_URL, CLINC_USERNAME and CLINC_PASSWORD are required for MESSENGER_BACKEND=clinc"))
			}
		default:
			errs = append(errs, fmt.Errorf("MESSENGER_BACKEND must be local or clinc, got %q", c.MessengerBackend))
		}
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// envDuration accepts Go durations ("750ms") or whole seconds ("5").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
