package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	SMTP     SMTPConfig     `yaml:"smtp" envconfig:"SMTP"`
	Admin    AdminConfig    `yaml:"admin" envconfig:"ADMIN"`
}

// AdminConfig seeds the initial operator account on first start. Once the
// account exists these values are ignored.
type AdminConfig struct {
	Username string `yaml:"username" envconfig:"USERNAME" default:"admin"`
	Email    string `yaml:"email" envconfig:"EMAIL"`
	Password string `yaml:"password" envconfig:"PASSWORD" default:"changeme123"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	SessionTTL     time.Duration   `yaml:"session_ttl" envconfig:"SESSION_TTL" default:"24h"`
	SessionCookie  string          `yaml:"session_cookie" envconfig:"SESSION_COOKIE" default:"authia_session"`
	RememberCookie string          `yaml:"remember_cookie" envconfig:"REMEMBER_COOKIE" default:"remember_me"`
	RememberTTL    time.Duration   `yaml:"remember_ttl" envconfig:"REMEMBER_TTL" default:"720h"`
	AdminLimit     RateLimitPolicy `yaml:"admin_limit" envconfig:"ADMIN_LIMIT"`
	APILimit       RateLimitPolicy `yaml:"api_limit" envconfig:"API_LIMIT"`
	GlobalRPS      float64         `yaml:"global_rps" envconfig:"GLOBAL_RPS" default:"100"`
	GlobalBurst    int             `yaml:"global_burst" envconfig:"GLOBAL_BURST" default:"50"`
}

// RateLimitPolicy is a fixed-window rate limit policy
type RateLimitPolicy struct {
	MaxAttempts int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	Window      time.Duration `yaml:"window" envconfig:"WINDOW"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/authia.log"`
}

// DatabaseConfig contains the SQLite database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" envconfig:"PATH" default:"data/authia.db"`
}

// SMTPConfig contains the outbound mail configuration
type SMTPConfig struct {
	Host     string `yaml:"host" envconfig:"HOST"`
	Port     int    `yaml:"port" envconfig:"PORT" default:"587"`
	Username string `yaml:"username" envconfig:"USERNAME"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	From     string `yaml:"from" envconfig:"FROM"`
	FromName string `yaml:"from_name" envconfig:"FROM_NAME" default:"Authia"`
}

// Load loads configuration from environment variables and config file.
// Environment variables (AUTHIA_ prefix) take precedence over the file.
func Load() (*Config, error) {
	cfg := *Default()

	configFile := getConfigFilePath()
	if configFile != "" {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(cfg, *fileConfig)
	}

	if err := envconfig.Process("AUTHIA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs overlays non-zero file values on top of the defaults
func mergeConfigs(base, file Config) Config {
	if file.Server.Port != 0 {
		base.Server.Port = file.Server.Port
	}
	if file.Server.ReadTimeout != 0 {
		base.Server.ReadTimeout = file.Server.ReadTimeout
	}
	if file.Server.WriteTimeout != 0 {
		base.Server.WriteTimeout = file.Server.WriteTimeout
	}
	if file.Server.IdleTimeout != 0 {
		base.Server.IdleTimeout = file.Server.IdleTimeout
	}
	if file.Server.ShutdownTimeout != 0 {
		base.Server.ShutdownTimeout = file.Server.ShutdownTimeout
	}
	if file.Security.SessionTTL != 0 {
		base.Security.SessionTTL = file.Security.SessionTTL
	}
	if file.Security.SessionCookie != "" {
		base.Security.SessionCookie = file.Security.SessionCookie
	}
	if file.Security.AdminLimit.MaxAttempts != 0 {
		base.Security.AdminLimit = file.Security.AdminLimit
	}
	if file.Security.APILimit.MaxAttempts != 0 {
		base.Security.APILimit = file.Security.APILimit
	}
	if file.Logging.Level != "" {
		base.Logging.Level = file.Logging.Level
	}
	if file.Logging.Output != "" {
		base.Logging.Output = file.Logging.Output
	}
	if file.Logging.FilePath != "" {
		base.Logging.FilePath = file.Logging.FilePath
	}
	if file.Database.Path != "" {
		base.Database.Path = file.Database.Path
	}
	if file.SMTP.Host != "" {
		base.SMTP = file.SMTP
	}
	if file.Admin.Username != "" {
		base.Admin.Username = file.Admin.Username
	}
	if file.Admin.Email != "" {
		base.Admin.Email = file.Admin.Email
	}
	if file.Admin.Password != "" {
		base.Admin.Password = file.Admin.Password
	}
	return base
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}
	if c.Security.AdminLimit.MaxAttempts <= 0 || c.Security.AdminLimit.Window <= 0 {
		return fmt.Errorf("admin rate limit policy must be positive")
	}
	if c.Security.APILimit.MaxAttempts <= 0 || c.Security.APILimit.Window <= 0 {
		return fmt.Errorf("api rate limit policy must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path must not be empty")
	}
	return nil
}

func getConfigFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			SessionTTL:     24 * time.Hour,
			SessionCookie:  "authia_session",
			RememberCookie: "remember_me",
			RememberTTL:    30 * 24 * time.Hour,
			AdminLimit: RateLimitPolicy{
				MaxAttempts: 5,
				Window:      15 * time.Minute,
			},
			APILimit: RateLimitPolicy{
				MaxAttempts: 30,
				Window:      time.Minute,
			},
			GlobalRPS:   100,
			GlobalBurst: 50,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/authia.log",
		},
		Database: DatabaseConfig{
			Path: "data/authia.db",
		},
		SMTP: SMTPConfig{
			Port:     587,
			FromName: "Authia",
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "changeme123",
		},
	}
}
