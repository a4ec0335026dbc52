package aircloud

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector reports the cached unit state of every entry. It never
// calls the cloud; the coordinator keeps the cache fresh.
type MetricsCollector struct {
	integration *Integration

	online       *prometheus.GaugeVec
	power        *prometheus.GaugeVec
	mode         *prometheus.GaugeVec
	roomTemp     *prometheus.GaugeVec
	targetTemp   *prometheus.GaugeVec
	fanSpeed     *prometheus.GaugeVec
	fanSwing     *prometheus.GaugeVec
	pollSuccess  *prometheus.GaugeVec
	lastPoll     *prometheus.GaugeVec
	pollFailures *prometheus.GaugeVec

	// mu serializes scrapes over the shared vectors.
	mu sync.Mutex
}

func NewMetricsCollector(integration *Integration) *MetricsCollector {
	labels := []string{"account", "unit_id", "unit_name"}
	valueLabels := []string{"account", "unit_id", "unit_name", "value"}
	accountLabels := []string{"account"}
	return &MetricsCollector{
		integration: integration,
		online: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_aircloud_unit_online",
			Help: "Whether the interior unit is online (1=online, 0=offline)",
		}, labels),
		power: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_aircloud_unit_power",
			Help: "Interior unit power (1=on, 0=off)",
		}, labels),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_aircloud_unit_mode",
			Help: "Operating mode reported by the unit (1=active)",
		}, valueLabels),
		roomTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_aircloud_room_temperature",
			Help: "Room temperature in the account unit",
		}, labels),
		targetTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_aircloud_target_temperature",
			Help: "Requested temperature in the account unit",
		}, labels),
		fanSpeed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_aircloud_fan_speed",
			Help: "Fan speed reported by the unit (1=active)",
		}, valueLabels),
		fanSwing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_aircloud_fan_swing",
			Help: "Fan swing reported by the unit (1=active)",
		}, valueLabels),
		pollSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_aircloud_poll_success",
			Help: "Last poll success (1=ok, 0=error)",
		}, accountLabels),
		lastPoll: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_aircloud_last_poll_timestamp_seconds",
			Help: "Time of the last successful poll",
		}, accountLabels),
		pollFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_aircloud_consecutive_poll_failures",
			Help: "Polls failed in a row",
		}, accountLabels),
	}
}

func (c *MetricsCollector) vecs() []*prometheus.GaugeVec {
	return []*prometheus.GaugeVec{
		c.online, c.power, c.mode, c.roomTemp, c.targetTemp,
		c.fanSpeed, c.fanSwing, c.pollSuccess, c.lastPoll, c.pollFailures,
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, vec := range c.vecs() {
		vec.Describe(ch)
	}
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, vec := range c.vecs() {
		vec.Reset()
	}

	for _, entry := range c.integration.Entries() {
		account := entry.UniqueID
		status := entry.coordinator.Status()
		if status.LastError == "" && !status.LastSuccess.IsZero() {
			c.pollSuccess.WithLabelValues(account).Set(1)
		} else {
			c.pollSuccess.WithLabelValues(account).Set(0)
		}
		if !status.LastSuccess.IsZero() {
			c.lastPoll.WithLabelValues(account).Set(float64(status.LastSuccess.Unix()))
		}
		c.pollFailures.WithLabelValues(account).Set(float64(status.ConsecutiveFailures))

		for _, unit := range entry.client.Units() {
			id := strconv.Itoa(unit.ID)
			c.online.WithLabelValues(account, id, unit.Name).Set(boolToFloat(unit.Online))
			c.power.WithLabelValues(account, id, unit.Name).Set(boolToFloat(unit.Power == PowerOn))
			c.roomTemp.WithLabelValues(account, id, unit.Name).Set(unit.RoomTemperature)
			c.targetTemp.WithLabelValues(account, id, unit.Name).Set(unit.RequestedTemperature)
			if unit.Mode != "" {
				c.mode.WithLabelValues(account, id, unit.Name, unit.Mode).Set(1)
			}
			if unit.FanSpeed != "" {
				c.fanSpeed.WithLabelValues(account, id, unit.Name, unit.FanSpeed).Set(1)
			}
			if unit.FanSwing != "" {
				c.fanSwing.WithLabelValues(account, id, unit.Name, unit.FanSwing).Set(1)
			}
		}
	}

	for _, vec := range c.vecs() {
		vec.Collect(ch)
	}
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
