package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PORTMON_HTTP_ADDR
const EnvPrefix = "PORTMON"

// Config is the complete server configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	SSH      SSHConfig      `mapstructure:"ssh"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Stats    StatsConfig    `mapstructure:"stats"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
	// Retention is how long check logs are kept; 0 keeps them forever
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// Dir enables the rotating JSON file when set
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Console    bool   `mapstructure:"console"`
}

type ProbeConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
}

type SSHConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// KnownHostsFile enables host key verification when set
	KnownHostsFile string `mapstructure:"known_hosts_file"`
}

type WebhookConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type NATSConfig struct {
	// URL enables result publishing when set
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	StreamMaxAge   time.Duration `mapstructure:"stream_max_age"`
}

type StatsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "port-monitor")

	v.SetDefault("http.addr", ":3000")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 2*time.Minute)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("database.path", "port_monitor.db")
	v.SetDefault("database.retention", 30*24*time.Hour)
	v.SetDefault("database.cleanup_interval", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.console", true)

	v.SetDefault("probe.timeout", 5*time.Second)
	v.SetDefault("probe.max_retries", 3)
	v.SetDefault("probe.backoff_base", time.Second)
	v.SetDefault("probe.backoff_cap", 10*time.Second)

	v.SetDefault("ssh.timeout", 30*time.Second)
	v.SetDefault("ssh.known_hosts_file", "")

	v.SetDefault("webhook.timeout", 10*time.Second)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.max_reconnects", 60)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.stream_max_age", 24*time.Hour)

	v.SetDefault("stats.interval", 5*time.Minute)
}

// Load reads configuration from path, or from ./config/config.yaml when path
// is empty. A missing default file is not an error. Environment variables
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the server cannot run with
func (c *Config) Validate() error {
	switch {
	case c.HTTP.Addr == "":
		return errors.New("http.addr must be set")
	case c.Database.Path == "":
		return errors.New("database.path must be set")
	case c.Probe.Timeout <= 0:
		return errors.New("probe.timeout must be positive")
	case c.Probe.MaxRetries < 0:
		return errors.New("probe.max_retries must not be negative")
	case c.Probe.BackoffBase <= 0 || c.Probe.BackoffCap < c.Probe.BackoffBase:
		return errors.New("probe.backoff_base must be positive and not exceed probe.backoff_cap")
	case c.SSH.Timeout <= 0:
		return errors.New("ssh.timeout must be positive")
	case c.Webhook.Timeout <= 0:
		return errors.New("webhook.timeout must be positive")
	}
	return nil
}
