package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config represents the engine's process-wide configuration
type Config struct {
	// Admin/health HTTP surface
	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	// Durable journal
	Database struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	// Event bus (watermill over NATS)
	EventBus struct {
		NatsURL       string `mapstructure:"nats_url"`
		SubjectPrefix string `mapstructure:"subject_prefix"`
	} `mapstructure:"event_bus"`

	// Exchange gateway
	Gateway struct {
		BaseURL          string  `mapstructure:"base_url"`
		RateLimitPerSec  int     `mapstructure:"rate_limit_per_sec"`
		RetryBaseSeconds float64 `mapstructure:"retry_base_seconds"`
		MaxRetries       int     `mapstructure:"max_retries"`
		RecvWindowMs     int64   `mapstructure:"recv_window_ms"`
	} `mapstructure:"gateway"`

	Engine struct {
		ClientOrderPrefix string `mapstructure:"client_order_prefix"`
		DryRun            bool   `mapstructure:"dry_run"`
	} `mapstructure:"engine"`

	// Risk management configuration
	Risk struct {
		DefaultMaxLeverage          float64 `mapstructure:"default_max_leverage"`
		DefaultMaxNotionalPerTrade  float64 `mapstructure:"default_max_notional_per_trade"`
		DefaultMaxTotalExposure     float64 `mapstructure:"default_max_total_exposure"`
		DefaultLiquidationThreshold float64 `mapstructure:"default_liquidation_threshold"`
		MaintenanceRate             float64 `mapstructure:"maintenance_rate"`
		BaseLiquidationThreshold    float64 `mapstructure:"base_liquidation_threshold"`
	} `mapstructure:"risk"`

	// Monitoring configuration
	Monitoring struct {
		PrometheusPort int    `mapstructure:"prometheus_port"`
		LogLevel       string `mapstructure:"log_level"`
	} `mapstructure:"monitoring"`
}

var (
	config *Config
	once   sync.Once
)

// LoadConfig loads config.yaml from the given directory (or from ., ./config
// and /etc/execcore) over the defaults in setDefaults. AutomaticEnv is
// enabled with the EXECCORE prefix, but no env key replacer or env bindings
// are set up, so environment variables are consulted only for keys present
// in the config file, under names like EXECCORE_SERVER.PORT.
func LoadConfig(configPath string) (*Config, error) {
	var err error

	once.Do(func() {
		config = &Config{}

		setDefaults()

		v := viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/execcore")
		}

		v.AutomaticEnv()
		v.SetEnvPrefix("EXECCORE")

		if err = v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("failed to read config file: %w", err)
				return
			}
			err = nil
		}

		if err = v.Unmarshal(config); err != nil {
			err = fmt.Errorf("failed to unmarshal config: %w", err)
			return
		}
	})

	return config, err
}

// GetConfig returns the current configuration, loading defaults on first use
func GetConfig() *Config {
	if config == nil {
		_, err := LoadConfig("")
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	}
	return config
}

// SaveConfig saves the configuration to a file
func SaveConfig(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func setDefaults() {
	config.Server.Host = "0.0.0.0"
	config.Server.Port = 8080

	config.Database.Host = "localhost"
	config.Database.Port = 5432
	config.Database.User = "postgres"
	config.Database.Name = "execcore"
	config.Database.SSLMode = "disable"

	config.EventBus.NatsURL = "nats://127.0.0.1:4222"
	config.EventBus.SubjectPrefix = "execcore"

	config.Gateway.RateLimitPerSec = 20
	config.Gateway.RetryBaseSeconds = 0.5
	config.Gateway.MaxRetries = 3
	config.Gateway.RecvWindowMs = 5000

	config.Engine.ClientOrderPrefix = "PMS"
	config.Engine.DryRun = true

	config.Risk.DefaultMaxLeverage = 100
	config.Risk.DefaultMaxNotionalPerTrade = 200
	config.Risk.DefaultMaxTotalExposure = 500
	config.Risk.DefaultLiquidationThreshold = 0.90
	config.Risk.MaintenanceRate = 0.005
	config.Risk.BaseLiquidationThreshold = 0.90

	config.Monitoring.PrometheusPort = 9090
	config.Monitoring.LogLevel = "info"
}

// InitLogger initializes the logger based on the configuration
func InitLogger(cfg *Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	switch cfg.Monitoring.LogLevel {
	case "debug":
		logger, err = zap.NewDevelopment()
	case "info", "warn", "error":
		logger, err = zap.NewProduction()
	default:
		logger, err = zap.NewProduction()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}
