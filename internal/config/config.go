package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all bgxfer configuration.
type Config struct {
	Client  ClientConfig  `mapstructure:"client"`
	Driver  DriverConfig  `mapstructure:"driver"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ClientConfig struct {
	JobName           string `mapstructure:"job_name"`
	SavePathPrefix    string `mapstructure:"save_path_prefix"`
	MonitorIntervalMS uint32 `mapstructure:"monitor_interval_ms"`
	StatusTimeoutMS   uint32 `mapstructure:"status_timeout_ms"`
}

// DriverConfig selects and configures the transfer driver.
type DriverConfig struct {
	Kind           string        `mapstructure:"kind"` // "aria2" or "memory"
	Aria2RPC       string        `mapstructure:"aria2_rpc"`
	Aria2Secret    string        `mapstructure:"aria2_secret"`
	StateDir       string        `mapstructure:"state_dir"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Path   string `mapstructure:"path"`
}

const (
	DriverAria2  = "aria2"
	DriverMemory = "memory"
)

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			JobName:           "bgxfer",
			SavePathPrefix:    "./downloads",
			MonitorIntervalMS: 1000,
			StatusTimeoutMS:   5000,
		},
		Driver: DriverConfig{
			Kind:           DriverAria2,
			Aria2RPC:       "http://127.0.0.1:6800/jsonrpc",
			StateDir:       "./data",
			RequestTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("bgxfer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/bgxfer")
	}

	v.SetEnvPrefix("BGXFER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("client.job_name", d.Client.JobName)
	v.SetDefault("client.save_path_prefix", d.Client.SavePathPrefix)
	v.SetDefault("client.monitor_interval_ms", d.Client.MonitorIntervalMS)
	v.SetDefault("client.status_timeout_ms", d.Client.StatusTimeoutMS)

	v.SetDefault("driver.kind", d.Driver.Kind)
	v.SetDefault("driver.aria2_rpc", d.Driver.Aria2RPC)
	v.SetDefault("driver.aria2_secret", "")
	v.SetDefault("driver.state_dir", d.Driver.StateDir)
	v.SetDefault("driver.request_timeout", d.Driver.RequestTimeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", "")
}

// Validate checks values that would otherwise fail deep inside the client.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Client.JobName) == "" {
		return errors.New("client.job_name is required")
	}
	if c.Client.MonitorIntervalMS == 0 {
		return errors.New("client.monitor_interval_ms must be positive")
	}
	switch c.Driver.Kind {
	case DriverMemory:
	case DriverAria2:
		if c.Driver.Aria2RPC == "" {
			return errors.New("driver.aria2_rpc is required for the aria2 driver")
		}
		if c.Driver.StateDir == "" {
			return errors.New("driver.state_dir is required for the aria2 driver")
		}
	default:
		return fmt.Errorf("unknown driver.kind %q", c.Driver.Kind)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	return nil
}

// AbsSavePathPrefix returns the configured prefix as an absolute path.
func (c *ClientConfig) AbsSavePathPrefix() (string, error) {
	if c.SavePathPrefix == "" {
		return "", nil
	}
	return filepath.Abs(c.SavePathPrefix)
}
