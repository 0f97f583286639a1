// Package config loads server settings from defaults, an optional YAML file
// and CALLFAIRY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppSettings       `mapstructure:"app"`
	Database  DatabaseSettings  `mapstructure:"database"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	Google    GoogleSettings    `mapstructure:"google"`
	Auth      AuthSettings      `mapstructure:"auth"`
	Bootstrap BootstrapSettings `mapstructure:"bootstrap"`
}

type AppSettings struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"base_url"`
	Debug   bool   `mapstructure:"debug"`
}

// DatabaseSettings selects the gorm dialector. Path is used by sqlite, DSN by postgres.
type DatabaseSettings struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
	Issuer string        `mapstructure:"issuer"`
}

// GoogleSettings configures ID-token verification. Google sign-in is disabled
// while ClientID is empty.
type GoogleSettings struct {
	ClientID string `mapstructure:"client_id"`
	Issuer   string `mapstructure:"issuer"`
}

type AuthSettings struct {
	EmailTokenTTL    time.Duration `mapstructure:"email_token_ttl"`
	PasswordResetTTL time.Duration `mapstructure:"password_reset_ttl"`
	RateLimitRPS     float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int           `mapstructure:"rate_limit_burst"`
	TOTPIssuer       string        `mapstructure:"totp_issuer"`
}

// BootstrapSettings describe the superadmin created on first start.
type BootstrapSettings struct {
	AdminEmail    string `mapstructure:"admin_email"`
	AdminPassword string `mapstructure:"admin_password"`
	AdminName     string `mapstructure:"admin_name"`
}

// Load reads configuration. An empty path searches ./callfairy.yaml and
// /etc/callfairy/callfairy.yaml; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CALLFAIRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("callfairy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/callfairy")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "callfairy")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.base_url", "http://localhost:8080")
	v.SetDefault("app.debug", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "callfairy.db")
	v.SetDefault("database.dsn", "")

	v.SetDefault("jwt.secret", "callfairy-dev-secret-change-in-production")
	v.SetDefault("jwt.ttl", 24*time.Hour)
	v.SetDefault("jwt.issuer", "callfairy")

	v.SetDefault("google.client_id", "")
	v.SetDefault("google.issuer", "https://accounts.google.com")

	v.SetDefault("auth.email_token_ttl", 24*time.Hour)
	v.SetDefault("auth.password_reset_ttl", time.Hour)
	v.SetDefault("auth.rate_limit_rps", 1.0)
	v.SetDefault("auth.rate_limit_burst", 10)
	v.SetDefault("auth.totp_issuer", "CallFairy")

	v.SetDefault("bootstrap.admin_email", "admin@callfairy.local")
	v.SetDefault("bootstrap.admin_password", "")
	v.SetDefault("bootstrap.admin_name", "Administrator")
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("invalid app.port %d", c.App.Port)
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret must not be empty")
	}
	if c.JWT.TTL <= 0 {
		return errors.New("jwt.ttl must be positive")
	}
	return nil
}

// IsProduction reports whether the server runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}
