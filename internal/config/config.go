package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Collector CollectorConfig `mapstructure:"collector"`
	Machines  []MachineConfig `mapstructure:"machines"`
	Directory DirectoryConfig `mapstructure:"directory"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration. Tokens are issued elsewhere, we only verify them.
type AuthConfig struct {
	JWTSecretEnv string `mapstructure:"jwt_secret_env"`
	Issuer       string `mapstructure:"issuer"`
}

type CollectorConfig struct {
	DefaultPollInterval time.Duration `mapstructure:"default_poll_interval"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	ShutdownGrace       time.Duration `mapstructure:"shutdown_grace"`
	BackoffInitial      time.Duration `mapstructure:"backoff_initial"`
	BackoffMax          time.Duration `mapstructure:"backoff_max"`
	DebounceWindow      time.Duration `mapstructure:"debounce_window"`
	PersistRetries      int           `mapstructure:"persist_retries"`
	PersistRetryDelay   time.Duration `mapstructure:"persist_retry_delay"`
	RecentAlerts        int           `mapstructure:"recent_alerts"`
}

type MachineConfig struct {
	ID           int64         `mapstructure:"id"`
	Name         string        `mapstructure:"name"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	UnitID       uint8         `mapstructure:"unit_id"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DirectoryConfig selects where parameters come from: "file" or "database".
type DirectoryConfig struct {
	Source string `mapstructure:"source"`
	Path   string `mapstructure:"path"`
}

type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            byte          `mapstructure:"qos"`
	Retain         bool          `mapstructure:"retain"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	QueueSize      int           `mapstructure:"queue_size"`
}

// ConfigError is fatal at startup.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults setzen
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "machine_monitor")
	v.SetDefault("database.user", "monitor")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("collector.default_poll_interval", "5s")
	v.SetDefault("collector.read_timeout", "3s")
	v.SetDefault("collector.shutdown_grace", "5s")
	v.SetDefault("collector.backoff_initial", "1s")
	v.SetDefault("collector.backoff_max", "30s")
	v.SetDefault("collector.debounce_window", "500ms")
	v.SetDefault("collector.persist_retries", 3)
	v.SetDefault("collector.persist_retry_delay", "200ms")
	v.SetDefault("collector.recent_alerts", 10)

	v.SetDefault("directory.source", "database")
	v.SetDefault("directory.path", "")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "machine-monitor")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "machine-monitor")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.connect_timeout", "10s")
	v.SetDefault("mqtt.queue_size", 256)

	// Environment Variables mit Prefix OMM_, z.B. OMM_DATABASE_PASSWORD
	v.SetEnvPrefix("OMM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("failed to read config: %w", err)}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("failed to unmarshal config: %w", err)}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks everything the collector needs before polling starts.
func (c *Config) Validate() error {
	if len(c.Machines) == 0 {
		return &ConfigError{Field: "machines", Err: errors.New("at least one machine required")}
	}

	seen := make(map[int64]bool)
	for i, m := range c.Machines {
		field := fmt.Sprintf("machines[%d]", i)
		switch {
		case m.ID <= 0:
			return &ConfigError{Field: field + ".id", Err: errors.New("must be positive")}
		case seen[m.ID]:
			return &ConfigError{Field: field + ".id", Err: fmt.Errorf("duplicate machine id %d", m.ID)}
		case m.Host == "":
			return &ConfigError{Field: field + ".host", Err: errors.New("required")}
		case m.Port <= 0 || m.Port > 65535:
			return &ConfigError{Field: field + ".port", Err: fmt.Errorf("invalid port %d", m.Port)}
		case m.PollInterval < 0:
			return &ConfigError{Field: field + ".poll_interval", Err: errors.New("must not be negative")}
		}
		seen[m.ID] = true
	}

	col := c.Collector
	if col.DefaultPollInterval <= 0 {
		return &ConfigError{Field: "collector.default_poll_interval", Err: errors.New("must be positive")}
	}
	if col.ReadTimeout <= 0 {
		return &ConfigError{Field: "collector.read_timeout", Err: errors.New("must be positive")}
	}
	if col.BackoffInitial <= 0 || col.BackoffMax < col.BackoffInitial {
		return &ConfigError{Field: "collector.backoff_max", Err: errors.New("must be at least backoff_initial")}
	}
	if col.PersistRetries < 1 {
		return &ConfigError{Field: "collector.persist_retries", Err: errors.New("must be at least 1")}
	}

	switch c.Directory.Source {
	case "database":
	case "file":
		if c.Directory.Path == "" {
			return &ConfigError{Field: "directory.path", Err: errors.New("required for file source")}
		}
	default:
		return &ConfigError{Field: "directory.source", Err: fmt.Errorf("unknown source %q", c.Directory.Source)}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return &ConfigError{Field: "mqtt.broker", Err: errors.New("required when mqtt is enabled")}
		}
		if c.MQTT.QoS > 2 {
			return &ConfigError{Field: "mqtt.qos", Err: fmt.Errorf("invalid qos %d", c.MQTT.QoS)}
		}
	}

	return nil
}

// MachineList converts the configured machines, filling in the default interval.
func (c *Config) MachineList() []types.Machine {
	out := make([]types.Machine, 0, len(c.Machines))
	for _, m := range c.Machines {
		interval := m.PollInterval
		if interval == 0 {
			interval = c.Collector.DefaultPollInterval
		}
		unitID := m.UnitID
		if unitID == 0 {
			unitID = 1
		}
		out = append(out, types.Machine{
			ID:           m.ID,
			Name:         m.Name,
			Host:         m.Host,
			Port:         m.Port,
			UnitID:       unitID,
			PollInterval: interval,
		})
	}
	return out
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback (MIT WARNING!)
		return devSecret
	}
	return secret
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
