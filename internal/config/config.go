// Package config loads partsbot configuration from an optional YAML file,
// .env files and PARTSBOT_-prefixed environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PARTSBOT"

// Config holds runtime configuration for partsbot.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Twilio    TwilioConfig    `mapstructure:"twilio"`
	WhatsApp  WhatsAppConfig  `mapstructure:"whatsapp"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Session   SessionConfig   `mapstructure:"session"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sourcing  SourcingConfig  `mapstructure:"sourcing"`
	Followup  FollowupConfig  `mapstructure:"followup"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Sheets    SheetsConfig    `mapstructure:"sheets"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

type AppConfig struct {
	Env           string `mapstructure:"env" validate:"required"`
	StateDir      string `mapstructure:"state_dir" validate:"required"`
	APIAddr       string `mapstructure:"api_addr" validate:"required"`
	Transport     string `mapstructure:"transport" validate:"oneof=twilio whatsmeow"`
	OwnerNumber   string `mapstructure:"owner_number" validate:"required"`
	BusinessName  string `mapstructure:"business_name"`
	Timezone      string `mapstructure:"timezone" validate:"required"`
	DirectoryFile string `mapstructure:"directory_file"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=text json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=1"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model" validate:"required"`
	Temperature float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type TwilioConfig struct {
	AccountSID        string `mapstructure:"account_sid"`
	AuthToken         string `mapstructure:"auth_token"`
	FromNumber        string `mapstructure:"from_number"`
	ValidateSignature bool   `mapstructure:"validate_signature"`
	WebhookURL        string `mapstructure:"webhook_url"`
}

type WhatsAppConfig struct {
	DBDSN       string `mapstructure:"db_dsn"`
	QROutput    string `mapstructure:"qr_output"`
	NumericCode bool   `mapstructure:"numeric_code"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type SessionConfig struct {
	Backend       string        `mapstructure:"backend" validate:"oneof=memory redis"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

type SchedulerConfig struct {
	Backend      string        `mapstructure:"backend" validate:"oneof=memory sql asynq"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	SummaryCron  string        `mapstructure:"summary_cron" validate:"required"`
}

type SourcingConfig struct {
	ItemTimeout     time.Duration `mapstructure:"item_timeout" validate:"gt=0"`
	SupplierTimeout time.Duration `mapstructure:"supplier_timeout" validate:"gt=0"`
	ItemWorkers     int           `mapstructure:"item_workers" validate:"gte=1"`
	SupplierWorkers int           `mapstructure:"supplier_workers" validate:"gte=1"`
	Markup          float64       `mapstructure:"markup" validate:"gte=0"`
	ShippingCost    float64       `mapstructure:"shipping_cost" validate:"gte=0"`
}

type FollowupConfig struct {
	ReminderDelay time.Duration `mapstructure:"reminder_delay" validate:"gt=0"`
	LongWaitDelay time.Duration `mapstructure:"long_wait_delay" validate:"gt=0"`
}

type MessagingConfig struct {
	RetryDelay    time.Duration `mapstructure:"retry_delay" validate:"gt=0"`
	RatePerSecond float64       `mapstructure:"rate_per_second" validate:"gt=0"`
	Burst         int           `mapstructure:"burst" validate:"gte=1"`
}

type SheetsConfig struct {
	CredentialsFile string   `mapstructure:"credentials_file"`
	AuditSheetID    string   `mapstructure:"audit_sheet_id"`
	AuditRange      string   `mapstructure:"audit_range"`
	InventoryRange  string   `mapstructure:"inventory_range"`
	Scopes          []string `mapstructure:"scopes"`
}

type MonitorConfig struct {
	HighVolumeThreshold int `mapstructure:"high_volume_threshold" validate:"gte=1"`
}

// legacyEnv maps config keys to unprefixed variable names still accepted.
var legacyEnv = map[string][]string{
	"app.owner_number":   {"YOUR_PERSONAL_WHATSAPP", "OWNER_NUMBER"},
	"openai.api_key":     {"OPENAI_API_KEY"},
	"twilio.account_sid": {"TWILIO_ACCOUNT_SID"},
	"twilio.auth_token":  {"TWILIO_AUTH_TOKEN"},
	"twilio.from_number": {"TWILIO_WHATSAPP_NUMBER", "TWILIO_FROM_NUMBER"},
	"database.dsn":       {"DATABASE_URL"},
	"sentry.dsn":         {"SENTRY_DSN"},
	"redis.addr":         {"REDIS_ADDR"},
}

// Load reads configuration from path (optional), .env files and the environment,
// validates it and returns the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(".env.local", ".env"); err != nil {
		slog.Debug("config.Load: no .env file loaded", "error", err)
	}

	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Debug("config.Load: config file read", "path", path)
	}

	return Decode(v)
}

// New returns a viper instance with defaults and environment bindings applied.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		args := append([]string{key, EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		_ = v.BindEnv(args...)
	}
	return v
}

// Decode unmarshals and validates the configuration held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if cfg.App.Transport == "twilio" && (cfg.Twilio.AccountSID == "" || cfg.Twilio.AuthToken == "" || cfg.Twilio.FromNumber == "") {
		return nil, fmt.Errorf("validate config: twilio transport requires account_sid, auth_token and from_number")
	}
	if cfg.Session.Backend == "redis" || cfg.Scheduler.Backend == "asynq" {
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("validate config: redis.addr is required for session backend %q / scheduler backend %q",
				cfg.Session.Backend, cfg.Scheduler.Backend)
		}
	}

	return &cfg, nil
}

// Location returns the configured business time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		slog.Warn("Config.Location: unknown timezone, using fixed UTC-5", "timezone", c.App.Timezone, "error", err)
		return time.FixedZone("UTC-5", -5*60*60)
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.state_dir", "/var/lib/partsbot")
	v.SetDefault("app.api_addr", ":8080")
	v.SetDefault("app.transport", "twilio")
	v.SetDefault("app.owner_number", "")
	v.SetDefault("app.business_name", "AutoParts Santiago")
	v.SetDefault("app.timezone", "America/Panama")
	v.SetDefault("app.directory_file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("openai.timeout", "20s")

	v.SetDefault("twilio.account_sid", "")
	v.SetDefault("twilio.auth_token", "")
	v.SetDefault("twilio.from_number", "")
	v.SetDefault("twilio.validate_signature", false)
	v.SetDefault("twilio.webhook_url", "")

	v.SetDefault("whatsapp.db_dsn", "")
	v.SetDefault("whatsapp.qr_output", "")
	v.SetDefault("whatsapp.numeric_code", false)

	v.SetDefault("database.dsn", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.ttl", "3h")
	v.SetDefault("session.sweep_interval", "5m")

	v.SetDefault("scheduler.backend", "memory")
	v.SetDefault("scheduler.poll_interval", "2s")
	v.SetDefault("scheduler.summary_cron", "0 8 * * *")

	v.SetDefault("sourcing.item_timeout", "35s")
	v.SetDefault("sourcing.supplier_timeout", "30s")
	v.SetDefault("sourcing.item_workers", 4)
	v.SetDefault("sourcing.supplier_workers", 10)
	v.SetDefault("sourcing.markup", 0.35)
	v.SetDefault("sourcing.shipping_cost", 25.0)

	v.SetDefault("followup.reminder_delay", "5m")
	v.SetDefault("followup.long_wait_delay", "10m")

	v.SetDefault("messaging.retry_delay", "5s")
	v.SetDefault("messaging.rate_per_second", 20.0)
	v.SetDefault("messaging.burst", 5)

	v.SetDefault("sheets.credentials_file", "")
	v.SetDefault("sheets.audit_sheet_id", "")
	v.SetDefault("sheets.audit_range", "Sheet1!A:S")
	v.SetDefault("sheets.inventory_range", "Sheet1!A:J")
	v.SetDefault("sheets.scopes", []string{"https://www.googleapis.com/auth/spreadsheets"})

	v.SetDefault("monitor.high_volume_threshold", 50)
}
