package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Constants for default paths
const (
	defaultUploadPath = "./uploads"
	defaultSQLitePath = "/data/filez.db"
	envPrefix         = "FILEZ"
)

// Constants for upload and lifecycle settings
const (
	defaultHashLength      = 12
	defaultLifetime        = 7 * 24 * time.Hour
	defaultExtensionUnit   = 7 * 24 * time.Hour
	defaultMaxExtendCount  = 2
	defaultNotifyWindow    = 2
	defaultCheckIntervalMn = 60
)

// SMTP holds the outgoing mail settings. An empty Host makes the
// application log messages instead of sending them.
type SMTP struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	UseTLS   bool   `mapstructure:"tls"`
}

// Config represents the application configuration
type Config struct {
	Port       int     `mapstructure:"port"`
	BaseURL    string  `mapstructure:"base_url"`     // Base URL for download links
	UploadPath string  `mapstructure:"upload_path"`  // Path to uploaded files
	SQLitePath string  `mapstructure:"sqlite_path"`  // Path to the metadata database
	MaxSize    float64 `mapstructure:"max_size_mib"` // Maximum file size in MiB
	HashLength int     `mapstructure:"hash_length"`  // Length of the public file hash
	LogLevel   string  `mapstructure:"log_level"`
	AdminToken string  `mapstructure:"admin_token"` // Required by POST /admin/check-files

	DefaultLifetime time.Duration `mapstructure:"default_lifetime"` // Lifetime given at upload
	ExtensionUnit   time.Duration `mapstructure:"extension_unit"`   // Added on every extension
	MaxExtendCount  int           `mapstructure:"max_extend_count"`

	CheckInterval          int  `mapstructure:"check_interval_min"` // How often the sweeper runs (minutes)
	SweeperEnabled         bool `mapstructure:"sweeper_enabled"`
	NotificationWindowDays int  `mapstructure:"days_before_expiration_mail"`

	Filez1Compat bool `mapstructure:"filez1_compat"` // Serve filez-1.x download.php links

	SMTP SMTP `mapstructure:"smtp"`
}

var defaults = map[string]any{
	"port":                        8080,
	"base_url":                    "http://localhost:8080/",
	"upload_path":                 defaultUploadPath,
	"sqlite_path":                 defaultSQLitePath,
	"max_size_mib":                512.0,
	"hash_length":                 defaultHashLength,
	"log_level":                   "info",
	"admin_token":                 "",
	"default_lifetime":            defaultLifetime,
	"extension_unit":              defaultExtensionUnit,
	"max_extend_count":            defaultMaxExtendCount,
	"check_interval_min":          defaultCheckIntervalMn,
	"sweeper_enabled":             true,
	"days_before_expiration_mail": defaultNotifyWindow,
	"filez1_compat":               false,
	"smtp.host":                   "",
	"smtp.port":                   587,
	"smtp.username":               "",
	"smtp.password":               "",
	"smtp.from":                   "FileZ <noreply@localhost>",
	"smtp.tls":                    true,
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the configuration built from defaults and FILEZ_*
// environment variables only.
func Default() (*Config, error) {
	return decode(newViper())
}

// LoadConfig loads a YAML configuration file. Keys missing from the file
// fall back to defaults, and FILEZ_* environment variables override both.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values the lifecycle and sweeper rely on.
func (c *Config) Validate() error {
	if c.MaxExtendCount < 0 {
		return errors.New("max_extend_count must not be negative")
	}
	if c.NotificationWindowDays < 0 {
		return errors.New("days_before_expiration_mail must not be negative")
	}
	if c.DefaultLifetime <= 0 {
		return errors.New("default_lifetime must be greater than 0")
	}
	if c.ExtensionUnit <= 0 {
		return errors.New("extension_unit must be greater than 0")
	}
	if c.CheckInterval <= 0 {
		return errors.New("check_interval_min must be greater than 0")
	}
	if c.MaxSize <= 0 {
		return errors.New("max_size_mib must be greater than 0")
	}
	if c.HashLength < 8 {
		return errors.New("hash_length must be at least 8")
	}
	return nil
}

func (c *Config) MaxSizeToBytes() int64 {
	return int64(c.MaxSize * 1024 * 1024)
}

// NotificationWindow is the period before expiry during which the
// uploader gets a deletion warning.
func (c *Config) NotificationWindow() time.Duration {
	return time.Duration(c.NotificationWindowDays) * 24 * time.Hour
}

func (c *Config) CheckIntervalDuration() time.Duration {
	return time.Duration(c.CheckInterval) * time.Minute
}
