// Package config provides configuration management for the gateway.
// It supports loading configuration from environment variables, an optional
// YAML file, and built-in defaults, following the teacher's viper-based
// section-per-concern layout.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the gateway.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Events     EventsConfig     `mapstructure:"events"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Permission PermissionConfig `mapstructure:"permission"`
	Context    ContextConfig    `mapstructure:"context"`
	Loop       LoopConfig       `mapstructure:"loop"`
	Commentary CommentaryConfig `mapstructure:"commentary"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the listener configuration for the client-facing stream transport.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`
	WriteTimeout int    `mapstructure:"writeTimeout"`
}

// DatabaseConfig holds store connection configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres, sqlite, memory
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`

	// Path is the SQLite database file used when Driver is "sqlite" — the
	// single-process, single-user deployment spec §1 describes, sized so it
	// needs no standalone database server.
	Path string `mapstructure:"path"`
}

// DSN builds a Postgres connection string from the configuration.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// EventsConfig holds event bus transport configuration.
type EventsConfig struct {
	Driver    string `mapstructure:"driver"` // nats, memory
	URL       string `mapstructure:"url"`
	ClientID  string `mapstructure:"clientId"`
	Namespace string `mapstructure:"namespace"`
}

// AgentConfig holds agent subprocess configuration.
type AgentConfig struct {
	Binary            string        `mapstructure:"binary"`
	PreferPTY         bool          `mapstructure:"preferPty"`
	ContentTimeout    time.Duration `mapstructure:"contentTimeout"`
	PingInterval      time.Duration `mapstructure:"pingInterval"`
	SessionGrace      time.Duration `mapstructure:"sessionGrace"`
	ReconnectPollRate time.Duration `mapstructure:"reconnectPollRate"`
	VerifyDelay       time.Duration `mapstructure:"verifyDelay"` // delay before re-reading a written file for verification
}

// PermissionConfig holds the permission & policy engine configuration.
type PermissionConfig struct {
	Mode           string `mapstructure:"mode"`           // safe, fast, plan, unrestricted
	TerminalPolicy string `mapstructure:"terminalPolicy"` // off, auto, turbo, custom
}

// ContextConfig holds context-window monitor thresholds.
type ContextConfig struct {
	AutoCompact        bool    `mapstructure:"autoCompact"`
	AutoCompactPercent float64 `mapstructure:"autoCompactPercent"` // override, 0 = use default margin
	DefaultModelWindow int     `mapstructure:"defaultModelWindow"`
	DefaultMaxOutput   int     `mapstructure:"defaultMaxOutput"`
}

// LoopConfig holds defaults for the autonomous loop orchestrator.
type LoopConfig struct {
	MaxIterations   int           `mapstructure:"maxIterations"`
	IterationBudget time.Duration `mapstructure:"iterationBudget"`
	PauseOnFailure  bool          `mapstructure:"pauseOnFailure"`
	AutoSnapshot    bool          `mapstructure:"autoSnapshot"`
	AutoCommit      bool          `mapstructure:"autoCommit"`
	Schedule        string        `mapstructure:"schedule"` // optional cron expression, gronx-validated
}

// CommentaryConfig holds the commentary bridge configuration.
type CommentaryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	DefaultVerbosity string  `mapstructure:"defaultVerbosity"` // frequent, strategic, minimal
	MaxCallsPerMin   float64 `mapstructure:"maxCallsPerMin"`
	PersistHistory   bool    `mapstructure:"persistHistory"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// Load reads configuration from environment variables (prefixed AGENTGATE_),
// an optional config file, and defaults, in that order of decreasing priority.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8420)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 1)
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.path", "agentgate.db")

	v.SetDefault("events.driver", "memory")
	v.SetDefault("events.clientId", "agentgate")

	v.SetDefault("agent.binary", "claude")
	v.SetDefault("agent.preferPty", true)
	v.SetDefault("agent.contentTimeout", 120*time.Second)
	v.SetDefault("agent.pingInterval", 15*time.Second)
	v.SetDefault("agent.sessionGrace", 60*time.Second)
	v.SetDefault("agent.reconnectPollRate", 100*time.Millisecond)
	v.SetDefault("agent.verifyDelay", 2*time.Second)

	v.SetDefault("permission.mode", "safe")
	v.SetDefault("permission.terminalPolicy", "auto")

	v.SetDefault("context.autoCompact", true)
	v.SetDefault("context.defaultModelWindow", 200_000)
	v.SetDefault("context.defaultMaxOutput", 8_192)

	v.SetDefault("loop.maxIterations", 50)
	v.SetDefault("loop.iterationBudget", 10*time.Minute)
	v.SetDefault("loop.pauseOnFailure", false)
	v.SetDefault("loop.autoSnapshot", true)
	v.SetDefault("loop.autoCommit", true)

	v.SetDefault("commentary.enabled", true)
	v.SetDefault("commentary.defaultVerbosity", "strategic")
	v.SetDefault("commentary.maxCallsPerMin", 12.0)
	v.SetDefault("commentary.persistHistory", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stdout")
}
