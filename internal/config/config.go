// Package config provides configuration management for castarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultPublishPort     = 8080
	defaultQueueSize       = 512
	defaultRendererTimeout = 10 * time.Second
	defaultMaxOpenConns    = 4
	defaultMaxIdleConns    = 2
	defaultConnMaxIdleTime = 30 * time.Minute
	maxPort                = 65535
)

// Conversion quality names accepted by output.conversion_quality.
const (
	QualityHigh   = "high"
	QualityMedium = "medium"
	QualityLow    = "low"
	QualityLowCPU = "low-cpu"
)

// Config holds all configuration for the application.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Output   OutputConfig   `mapstructure:"output"`
	Renderer RendererConfig `mapstructure:"renderer"`
	Database DatabaseConfig `mapstructure:"database"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
	API      APIConfig      `mapstructure:"api"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// OutputConfig controls the local publishing endpoint and conversion policy.
type OutputConfig struct {
	Port              int    `mapstructure:"port"`
	Video             bool   `mapstructure:"video"`
	ConversionQuality string `mapstructure:"conversion_quality"` // high, medium, low, low-cpu
	ShowPerfWarning   bool   `mapstructure:"show_perf_warning"`
	AdvertiseIP       string `mapstructure:"advertise_ip"` // empty = auto-detect
	QueueSize         int    `mapstructure:"queue_size"`   // frames buffered towards the engine
}

// RendererConfig locates the MediaRenderer to control.
type RendererConfig struct {
	URL       string        `mapstructure:"url"`      // device description URL
	BaseURL   string        `mapstructure:"base_url"` // empty = description URL
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// DatabaseConfig holds the preferences store connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
	// RendererHistory records described and cast-to renderers. Nothing in
	// a cast reads it back.
	RendererHistory bool `mapstructure:"renderer_history"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath      string   `mapstructure:"binary_path"`      // empty = auto-detect
	HWAccelPriority []string `mapstructure:"hwaccel_priority"` // e.g. vaapi, cuda, qsv
	LogLevel        string   `mapstructure:"log_level"`        // ffmpeg -loglevel
	VAAPIDevice     string   `mapstructure:"vaapi_device"`     // empty = first /dev/dri/renderD*
}

// APIConfig controls the status/control API mounted next to the publishing endpoint.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from file and environment variables.
// Environment variables are prefixed with CASTARR_ and use underscores for
// nesting, e.g. CASTARR_RENDERER_URL.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/castarr")
		v.AddConfigPath("$HOME/.castarr")
	}

	v.SetEnvPrefix("CASTARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("output.port", defaultPublishPort)
	v.SetDefault("output.video", true)
	v.SetDefault("output.conversion_quality", QualityMedium)
	v.SetDefault("output.show_perf_warning", true)
	v.SetDefault("output.advertise_ip", "")
	v.SetDefault("output.queue_size", defaultQueueSize)

	v.SetDefault("renderer.url", "")
	v.SetDefault("renderer.base_url", "")
	v.SetDefault("renderer.timeout", defaultRendererTimeout)
	v.SetDefault("renderer.user_agent", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "castarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.renderer_history", false)

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.hwaccel_priority", []string{"vaapi", "cuda", "qsv", "videotoolbox"})
	v.SetDefault("ffmpeg.log_level", "error")
	v.SetDefault("ffmpeg.vaapi_device", "")

	v.SetDefault("api.enabled", true)
}

// Validate checks the configuration for errors. The renderer URL is not
// checked here since only the cast command needs it; see RendererConfig.Validate.
func (c *Config) Validate() error {
	if c.Output.Port < 1 || c.Output.Port > maxPort {
		return fmt.Errorf("output.port must be between 1 and %d", maxPort)
	}
	if !ValidQuality(c.Output.ConversionQuality) {
		return fmt.Errorf("output.conversion_quality must be one of: high, medium, low, low-cpu")
	}
	if c.Output.QueueSize < 1 {
		return fmt.Errorf("output.queue_size must be at least 1")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Validate checks that a renderer has been configured.
func (c *RendererConfig) Validate() error {
	if c.URL == "" {
		return errors.New("renderer.url is required")
	}
	return nil
}

// ResolvedBaseURL returns the base URL used to resolve control URLs,
// falling back to the description URL.
func (c *RendererConfig) ResolvedBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return c.URL
}

// ValidQuality reports whether q names a known conversion quality.
func ValidQuality(q string) bool {
	switch q {
	case QualityHigh, QualityMedium, QualityLow, QualityLowCPU:
		return true
	default:
		return false
	}
}
