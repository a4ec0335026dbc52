package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	SchemaVersion                        = 1
	DefaultPath                          = "/etc/gohome/config.yaml"
	DefaultGRPCAddr                      = "0.0.0.0:9000"
	DefaultHTTPAddr                      = "0.0.0.0:8080"
	DefaultDashboardDir                  = "/var/lib/gohome/dashboards"
	DefaultLogLevel                      = "info"
	DefaultLogFormat                     = "text"
	DefaultSessionPrefix                 = "gohome/sessions"
	DefaultSessionStateDir               = "/var/lib/gohome/sessions"
	DefaultSessionRefreshIntervalSeconds = 600
	DefaultPollIntervalSeconds           = 30
	DefaultRequestTimeoutSeconds         = 15
	DefaultMQTTTopicPrefix               = "gohome/aircloud"
	DefaultMQTTDiscoveryPrefix           = "homeassistant"

	minPollIntervalSeconds = 10
)

// Config is the daemon configuration file.
type Config struct {
	SchemaVersion int             `mapstructure:"schema_version"`
	Core          CoreConfig      `mapstructure:"core"`
	Session       SessionConfig   `mapstructure:"session"`
	AirCloud      *AirCloudConfig `mapstructure:"aircloud"`
	MQTT          *MQTTConfig     `mapstructure:"mqtt"`
}

type CoreConfig struct {
	GRPCAddr     string `mapstructure:"grpc_addr"`
	HTTPAddr     string `mapstructure:"http_addr"`
	DashboardDir string `mapstructure:"dashboard_dir"`
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
}

// SessionConfig controls where cloud session state is kept.
type SessionConfig struct {
	StateDir               string `mapstructure:"state_dir"`
	BlobEndpoint           string `mapstructure:"blob_endpoint"`
	BlobBucket             string `mapstructure:"blob_bucket"`
	BlobPrefix             string `mapstructure:"blob_prefix"`
	BlobRegion             string `mapstructure:"blob_region"`
	BlobAccessKeyFile      string `mapstructure:"blob_access_key_file"`
	BlobSecretKeyFile      string `mapstructure:"blob_secret_key_file"`
	RefreshEnabled         *bool  `mapstructure:"refresh_enabled"`
	RefreshIntervalSeconds int    `mapstructure:"refresh_interval_seconds"`
}

// BlobConfigured reports whether remote session mirroring is set up.
func (s SessionConfig) BlobConfigured() bool {
	return s.BlobEndpoint != "" || s.BlobBucket != "" || s.BlobAccessKeyFile != "" || s.BlobSecretKeyFile != ""
}

type AirCloudAccount struct {
	Email        string `mapstructure:"email"`
	Password     string `mapstructure:"password"`
	PasswordFile string `mapstructure:"password_file"`
}

// UniqueID is the identity an account is deduplicated by.
func (a AirCloudAccount) UniqueID() string {
	return strings.ToLower(strings.TrimSpace(a.Email))
}

// ResolvePassword returns the inline password or the password file contents.
func (a AirCloudAccount) ResolvePassword() (string, error) {
	if a.PasswordFile != "" {
		return ReadSecretFile(a.PasswordFile)
	}
	if a.Password == "" {
		return "", fmt.Errorf("aircloud account %s has no password", a.Email)
	}
	return a.Password, nil
}

type AirCloudConfig struct {
	Accounts              []AirCloudAccount `mapstructure:"accounts"`
	BaseURL               string            `mapstructure:"base_url"`
	NotificationURL       string            `mapstructure:"notification_url"`
	NotificationsEnabled  bool              `mapstructure:"notifications_enabled"`
	PollIntervalSeconds   int               `mapstructure:"poll_interval_seconds"`
	RequestTimeoutSeconds int               `mapstructure:"request_timeout_seconds"`
}

type MQTTConfig struct {
	Broker          string `mapstructure:"broker"`
	Username        string `mapstructure:"username"`
	PasswordFile    string `mapstructure:"password_file"`
	ClientID        string `mapstructure:"client_id"`
	TopicPrefix     string `mapstructure:"topic_prefix"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
	Retain          bool   `mapstructure:"retain"`
}

// Load reads the YAML config file, applies GOHOME_* env overrides and
// defaults, then validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GOHOME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("schema_version", SchemaVersion)
	v.SetDefault("core.grpc_addr", DefaultGRPCAddr)
	v.SetDefault("core.http_addr", DefaultHTTPAddr)
	v.SetDefault("core.dashboard_dir", DefaultDashboardDir)
	v.SetDefault("core.log_level", DefaultLogLevel)
	v.SetDefault("core.log_format", DefaultLogFormat)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Session.StateDir == "" {
		cfg.Session.StateDir = DefaultSessionStateDir
	}
	if cfg.Session.BlobPrefix == "" {
		cfg.Session.BlobPrefix = DefaultSessionPrefix
	}
	if cfg.Session.RefreshEnabled == nil {
		enabled := true
		cfg.Session.RefreshEnabled = &enabled
	}
	if cfg.Session.RefreshIntervalSeconds == 0 {
		cfg.Session.RefreshIntervalSeconds = DefaultSessionRefreshIntervalSeconds
	}

	if cfg.AirCloud != nil {
		if cfg.AirCloud.PollIntervalSeconds == 0 {
			cfg.AirCloud.PollIntervalSeconds = DefaultPollIntervalSeconds
		}
		if cfg.AirCloud.RequestTimeoutSeconds == 0 {
			cfg.AirCloud.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
		}
	}

	if cfg.MQTT != nil {
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
		}
		if cfg.MQTT.DiscoveryPrefix == "" {
			cfg.MQTT.DiscoveryPrefix = DefaultMQTTDiscoveryPrefix
		}
	}
}

// Validate enforces invariants the YAML decoder cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if cfg.Session.BlobConfigured() {
		if cfg.Session.BlobEndpoint == "" {
			return fmt.Errorf("session.blob_endpoint is required")
		}
		if cfg.Session.BlobBucket == "" {
			return fmt.Errorf("session.blob_bucket is required")
		}
		if cfg.Session.BlobAccessKeyFile == "" {
			return fmt.Errorf("session.blob_access_key_file is required")
		}
		if cfg.Session.BlobSecretKeyFile == "" {
			return fmt.Errorf("session.blob_secret_key_file is required")
		}
	}

	if cfg.AirCloud != nil {
		if err := validateAirCloud(cfg.AirCloud); err != nil {
			return err
		}
	}

	if cfg.MQTT != nil {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required")
		}
		if cfg.AirCloud == nil {
			return fmt.Errorf("mqtt requires the aircloud section")
		}
	}

	return nil
}

func validateAirCloud(cfg *AirCloudConfig) error {
	if len(cfg.Accounts) == 0 {
		return fmt.Errorf("aircloud.accounts must list at least one account")
	}
	seen := make(map[string]bool, len(cfg.Accounts))
	for i, account := range cfg.Accounts {
		id := account.UniqueID()
		if id == "" {
			return fmt.Errorf("aircloud.accounts[%d].email is required", i)
		}
		if seen[id] {
			return fmt.Errorf("aircloud.accounts[%d]: %s is already configured", i, id)
		}
		seen[id] = true
		if account.Password == "" && account.PasswordFile == "" {
			return fmt.Errorf("aircloud.accounts[%d] needs password_file or password", i)
		}
	}
	if cfg.PollIntervalSeconds < minPollIntervalSeconds {
		return fmt.Errorf("aircloud.poll_interval_seconds must be at least %d", minPollIntervalSeconds)
	}
	if cfg.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("aircloud.request_timeout_seconds must not be negative")
	}
	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.AirCloud != nil {
		enabled["aircloud"] = true
	}
	return enabled
}

// ReadSecretFile returns the trimmed contents of a secret file.
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", path, err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("secret %s is empty", path)
	}
	return secret, nil
}
