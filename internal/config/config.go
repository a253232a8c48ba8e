// internal/config/config.go
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Driver      DriverConfig      `mapstructure:"driver"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Screenshots ScreenshotsConfig `mapstructure:"screenshots"`
	Campaign    CampaignConfig    `mapstructure:"campaign"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	DatabaseURL string `mapstructure:"database_url"`
}

// QueueConfig selects the async batch queue. An empty AMQPURL keeps batches in process.
type QueueConfig struct {
	AMQPURL string `mapstructure:"amqp_url"`
}

type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	Bin               string        `mapstructure:"bin"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleTimeout     time.Duration `mapstructure:"settle_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	ViewportWidth     int           `mapstructure:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"`
}

type DriverConfig struct {
	MinFormFields int           `mapstructure:"min_form_fields"`
	MaxEmails     int           `mapstructure:"max_emails"`
	StageTimeout  time.Duration `mapstructure:"stage_timeout"`
}

type BatchConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	SingleBudget     time.Duration `mapstructure:"single_budget"`
	BatchBudget      time.Duration `mapstructure:"batch_budget"`
}

type MaintenanceConfig struct {
	StuckAfter time.Duration `mapstructure:"stuck_after"`
}

type ScreenshotsConfig struct {
	Backend  string `mapstructure:"backend"`
	Dir      string `mapstructure:"dir"`
	Bucket   string `mapstructure:"bucket"`
	Endpoint string `mapstructure:"endpoint"`
}

type CampaignConfig struct {
	DefaultSubject string `mapstructure:"default_subject"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("store.driver", "postgres")
	// empty defaults so AutomaticEnv values reach Unmarshal
	v.SetDefault("store.database_url", "")
	v.SetDefault("queue.amqp_url", "")
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("screenshots.bucket", "")
	v.SetDefault("screenshots.endpoint", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 30*time.Second)
	v.SetDefault("browser.settle_timeout", 5*time.Second)
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("driver.min_form_fields", 2)
	v.SetDefault("driver.max_emails", 10)
	v.SetDefault("driver.stage_timeout", 45*time.Second)
	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("batch.dispatch_interval", 500*time.Millisecond)
	v.SetDefault("batch.single_budget", 60*time.Second)
	v.SetDefault("batch.batch_budget", 300*time.Second)
	v.SetDefault("maintenance.stuck_after", 15*time.Minute)
	v.SetDefault("screenshots.backend", "local")
	v.SetDefault("screenshots.dir", "screenshots")
	v.SetDefault("campaign.default_subject", "Business Inquiry")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads .env, an optional config.yaml and OUTREACH_* environment variables.
func Load() (*Config, error) {
	// Missing .env is fine; the process environment still applies.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	// Plain DATABASE_URL is honoured for existing deployments.
	if cfg.Store.DatabaseURL == "" {
		_ = v.BindEnv("legacy_database_url", "DATABASE_URL")
		cfg.Store.DatabaseURL = v.GetString("legacy_database_url")
	}
	return &cfg, cfg.Validate()
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "pq", "sqlite", "sqlite3":
	default:
		return eris.Errorf("config: unsupported store.driver %q", c.Store.Driver)
	}
	if c.Batch.Concurrency < 1 {
		return eris.Errorf("config: batch.concurrency must be at least 1, got %d", c.Batch.Concurrency)
	}
	if c.Driver.MinFormFields < 1 {
		return eris.Errorf("config: driver.min_form_fields must be at least 1, got %d", c.Driver.MinFormFields)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
