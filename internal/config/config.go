package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/6529-collections/xtdh-engine/internal/domain"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
	// EpochDate is the day xTDH started accruing, formatted DD-MM-YYYY
	EpochDate string `mapstructure:"epoch_date"`
}

// Epoch parses the configured epoch date as a UTC midnight
func (c *BaseConfig) Epoch() (time.Time, error) {
	t, err := time.ParseInLocation(domain.EpochDateLayout, c.EpochDate, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch_date %q: %w", c.EpochDate, err)
	}
	return t, nil
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	Subject        string        `mapstructure:"subject"`
	ConsumerName   string        `mapstructure:"consumer_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
	AckWait        time.Duration `mapstructure:"ack_wait"`
	MaxDeliver     int           `mapstructure:"max_deliver"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize int `mapstructure:"pool_size"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// RecalculatorConfig holds configuration for the recalculator service
type RecalculatorConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Worker     WorkerConfig   `mapstructure:"worker"`
	Metrics    MetricsConfig  `mapstructure:"metrics"`
	// Schedule is the cron expression the recalculation runs on
	Schedule string `mapstructure:"schedule"`
	// RunOnStart forces one recalculation at startup
	RunOnStart bool `mapstructure:"run_on_start"`
}

// StatsWorkerConfig holds configuration for the stats-worker service
type StatsWorkerConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Worker     WorkerConfig   `mapstructure:"worker"`
	Metrics    MetricsConfig  `mapstructure:"metrics"`
}

// LoadRecalculatorConfig loads configuration for the recalculator service
func LoadRecalculatorConfig(configFile string, envPath string) (*RecalculatorConfig, error) {
	v := configureViper("recalculator", configFile, envPath)

	setCommonDefaults(v)
	v.SetDefault("schedule", "5 0 * * *")
	v.SetDefault("run_on_start", false)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config RecalculatorConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// LoadStatsWorkerConfig loads configuration for the stats-worker service
func LoadStatsWorkerConfig(configFile string, envPath string) (*StatsWorkerConfig, error) {
	v := configureViper("stats-worker", configFile, envPath)

	setCommonDefaults(v)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config StatsWorkerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setCommonDefaults(v *viper.Viper) {
	v.SetDefault("epoch_date", "01-01-2025")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.stream_name", "XTDH_EVENTS")
	v.SetDefault("nats.subject", "xtdh.stats.rebuild")
	v.SetDefault("nats.consumer_name", "xtdh-stats-worker")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.ack_wait", "5m")
	v.SetDefault("nats.max_deliver", 5)
	v.SetDefault("worker.pool_size", 8)
	v.SetDefault("metrics.addr", ":9090")
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix("XTDH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables.
// This is required for viper to map env vars to config struct fields when no
// config file exists.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		"epoch_date",
		"schedule",
		"run_on_start",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.subject",
		"nats.consumer_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		"nats.ack_wait",
		"nats.max_deliver",
		// Worker
		"worker.pool_size",
		// Metrics
		"metrics.addr",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

func loadEnv(envPath string, service string) {
	// Always try shared base first, then local, then optional per-service local.
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	// Default to config directory
	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}
