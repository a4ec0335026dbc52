package session

import (
	"time"

	"github.com/joshp123/gohome-aircloud/internal/config"
)

const DefaultRefreshInterval = 10 * time.Minute

// RefreshInterval returns the proactive refresh period, zero when disabled.
func RefreshInterval(cfg config.SessionConfig) time.Duration {
	if cfg.RefreshEnabled != nil && !*cfg.RefreshEnabled {
		return 0
	}
	if cfg.RefreshIntervalSeconds > 0 {
		return time.Duration(cfg.RefreshIntervalSeconds) * time.Second
	}
	return DefaultRefreshInterval
}
