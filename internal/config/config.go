package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds every runtime setting. Values come from the environment,
// optionally seeded from a .env file in the working directory.
type Config struct {
	Env       string
	LogLevel  string
	LogFormat string
	HTTPPort  string
	APIKey    string

	Store    StoreConfig
	AI       AIConfig
	Intake   IntakeConfig
	Twilio   TwilioConfig
	Telegram TelegramConfig
	Google   GoogleConfig
	Notion   NotionConfig
	Jobs     JobsConfig

	ActivationTokenTTL time.Duration
}

type StoreConfig struct {
	Driver      string // sqlite or postgres
	SQLitePath  string
	DatabaseURL string
}

type AIConfig struct {
	GeminiAPIKey string
	GeminiModel  string
	Timeout      time.Duration
	TaxonomyFile string
}

type IntakeConfig struct {
	MaterialityThreshold decimal.Decimal
	MaxFollowUpRetries   int
	ContextTTL           time.Duration
	DefaultCurrency      string
}

type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	WhatsAppFrom      string
	ValidateSignature bool
	PublicBaseURL     string
}

type TelegramConfig struct {
	BotToken string
}

type GoogleConfig struct {
	BigQueryProject string
	BigQueryDataset string
	GCSBucket       string
}

type NotionConfig struct {
	Token      string
	DatabaseID string
}

type JobsConfig struct {
	Workers int
	Buffer  int
}

// Load reads .env if present and builds a Config from the environment.
// A missing .env is not an error; a malformed numeric or duration value is.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("Load: read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		Env:       getEnv("APP_ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
		HTTPPort:  getEnv("HTTP_PORT", "8080"),
		APIKey:    getEnv("API_KEY", ""),
		Store: StoreConfig{
			Driver:      strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
			SQLitePath:  getEnv("SQLITE_PATH", "bookkeeper.db"),
			DatabaseURL: getEnv("DATABASE_URL", ""),
		},
		AI: AIConfig{
			GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
			GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			Timeout:      p.duration("AI_TIMEOUT", 5*time.Second),
			TaxonomyFile: getEnv("TAXONOMY_FILE", ""),
		},
		Intake: IntakeConfig{
			MaterialityThreshold: p.decimal("MATERIALITY_THRESHOLD", decimal.NewFromInt(10000)),
			MaxFollowUpRetries:   p.int("MAX_FOLLOWUP_RETRIES", 3),
			ContextTTL:           p.duration("CONTEXT_TTL", 30*time.Minute),
			DefaultCurrency:      strings.ToUpper(getEnv("DEFAULT_CURRENCY", "CZK")),
		},
		Twilio: TwilioConfig{
			AccountSID:        getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:         getEnv("TWILIO_AUTH_TOKEN", ""),
			WhatsAppFrom:      getEnv("TWILIO_WHATSAPP_FROM", ""),
			ValidateSignature: p.bool("TWILIO_VALIDATE_SIGNATURE", false),
			PublicBaseURL:     strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		},
		Google: GoogleConfig{
			BigQueryProject: getEnv("BQ_PROJECT", ""),
			BigQueryDataset: getEnv("BQ_DATASET", "bookkeeping"),
			GCSBucket:       getEnv("GCS_BUCKET", ""),
		},
		Notion: NotionConfig{
			Token:      getEnv("NOTION_TOKEN", ""),
			DatabaseID: getEnv("NOTION_DB_ID", ""),
		},
		Jobs: JobsConfig{
			Workers: p.int("JOB_WORKERS", 2),
			Buffer:  p.int("JOB_BUFFER", 100),
		},
		ActivationTokenTTL: p.duration("ACTIVATION_TOKEN_TTL", 48*time.Hour),
	}
	if len(p.errs) > 0 {
		return nil, fmt.Errorf("FromEnv: %w", errors.Join(p.errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("Validate: SQLITE_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return errors.New("Validate: DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("Validate: unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Intake.MaxFollowUpRetries < 1 {
		return errors.New("Validate: MAX_FOLLOWUP_RETRIES must be at least 1")
	}
	if !c.Intake.MaterialityThreshold.IsPositive() {
		return errors.New("Validate: MATERIALITY_THRESHOLD must be positive")
	}
	if c.Jobs.Workers < 1 {
		return errors.New("Validate: JOB_WORKERS must be at least 1")
	}
	if c.Twilio.ValidateSignature && (c.Twilio.AuthToken == "" || c.Twilio.PublicBaseURL == "") {
		return errors.New("Validate: TWILIO_AUTH_TOKEN and PUBLIC_BASE_URL are required when TWILIO_VALIDATE_SIGNATURE is set")
	}
	return nil
}

// TwilioEnabled reports whether outbound WhatsApp messages can be sent.
func (c *Config) TwilioEnabled() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" && c.Twilio.WhatsAppFrom != ""
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultVal
}

// parser collects conversion errors so every bad key is reported at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, def int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (p *parser) bool(key string, def bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (p *parser) decimal(key string, def decimal.Decimal) decimal.Decimal {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}
