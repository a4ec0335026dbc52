package aircloud

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshp123/gohome-aircloud/internal/config"
)

const (
	defaultBaseURL         = "https://api-global-prod.aircloudhome.com"
	defaultNotificationURL = "wss://notification-global-prod.aircloudhome.com/rac-notifications/websocket"
)

// Config is the runtime configuration derived from the aircloud section.
type Config struct {
	BaseURL              string
	NotificationURL      string
	NotificationsEnabled bool
	PollInterval         time.Duration
	RequestTimeout       time.Duration
	Accounts             []config.AirCloudAccount
}

// ConfigFromFile validates and converts the file section.
func ConfigFromFile(cfg *config.AirCloudConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("aircloud config is required")
	}
	runtime := Config{
		BaseURL:              strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		NotificationURL:      strings.TrimSpace(cfg.NotificationURL),
		NotificationsEnabled: cfg.NotificationsEnabled,
		PollInterval:         time.Duration(cfg.PollIntervalSeconds) * time.Second,
		RequestTimeout:       time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		Accounts:             cfg.Accounts,
	}
	if runtime.BaseURL == "" {
		runtime.BaseURL = defaultBaseURL
	}
	if runtime.NotificationURL == "" {
		runtime.NotificationURL = defaultNotificationURL
	}
	if runtime.PollInterval <= 0 {
		runtime.PollInterval = time.Duration(config.DefaultPollIntervalSeconds) * time.Second
	}
	if runtime.RequestTimeout <= 0 {
		runtime.RequestTimeout = time.Duration(config.DefaultRequestTimeoutSeconds) * time.Second
	}
	if len(runtime.Accounts) == 0 {
		return Config{}, fmt.Errorf("aircloud has no accounts")
	}
	return runtime, nil
}
