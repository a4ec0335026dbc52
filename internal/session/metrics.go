package session

import "github.com/prometheus/client_golang/prometheus"

var (
	loginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_session_login_total",
			Help: "Password logins by outcome",
		},
		[]string{"provider", "account", "outcome"},
	)
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_session_refresh_total",
			Help: "Token refreshes by outcome",
		},
		[]string{"provider", "account", "outcome"},
	)
	tokenValid = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_session_token_valid",
			Help: "Access token validity (1=valid, 0=invalid)",
		},
		[]string{"provider", "account"},
	)
	tokenExpiry = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_session_token_expiry_timestamp_seconds",
			Help: "Expiry of the current access token",
		},
		[]string{"provider", "account"},
	)
	remotePersistOK = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_session_remote_persist_ok",
			Help: "Remote blob persistence health (1=ok, 0=error)",
		},
		[]string{"provider", "account"},
	)
)

// MetricsCollectors returns collectors for the shared session module.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		loginTotal,
		refreshTotal,
		tokenValid,
		tokenExpiry,
		remotePersistOK,
	}
}
