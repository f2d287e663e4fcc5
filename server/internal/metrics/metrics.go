package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "tagalarm"

// Metrics bundles the server's collectors.
type Metrics struct {
	TagUpdates       prometheus.Counter
	AlarmsTriggered  *prometheus.CounterVec
	AlarmsCleared    *prometheus.CounterVec
	AlarmsSuppressed prometheus.Counter
	AlarmsActive     prometheus.Gauge
	Notifications    *prometheus.CounterVec
	RulesRejected    prometheus.Counter
	RulesLoaded      prometheus.Gauge
}

// New constructs the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TagUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tag_updates_total",
			Help:      "Tag updates evaluated by the alarm engine",
		}),
		AlarmsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_triggered_total",
			Help:      "Alarms created by priority",
		}, []string{"priority"}),
		AlarmsCleared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_cleared_total",
			Help:      "Alarms auto-cleared by priority",
		}, []string{"priority"}),
		AlarmsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_suppressed_total",
			Help:      "Trigger attempts suppressed by the debounce window",
		}),
		AlarmsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alarms_active",
			Help:      "Alarms currently active",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts by channel and result",
		}, []string{"channel", "result"}),
		RulesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_rejected_total",
			Help:      "Alarm rules rejected at load time",
		}),
		RulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_loaded",
			Help:      "Alarm rules in the current rule set",
		}),
	}
	reg.MustRegister(
		m.TagUpdates,
		m.AlarmsTriggered,
		m.AlarmsCleared,
		m.AlarmsSuppressed,
		m.AlarmsActive,
		m.Notifications,
		m.RulesRejected,
		m.RulesLoaded,
	)
	return m
}

func (m *Metrics) ObserveTagUpdate() {
	if m == nil {
		return
	}
	m.TagUpdates.Inc()
}

func (m *Metrics) ObserveTriggered(priority string) {
	if m == nil {
		return
	}
	m.AlarmsTriggered.WithLabelValues(priority).Inc()
	m.AlarmsActive.Inc()
}

func (m *Metrics) ObserveCleared(priority string) {
	if m == nil {
		return
	}
	m.AlarmsCleared.WithLabelValues(priority).Inc()
	m.AlarmsActive.Dec()
}

func (m *Metrics) ObserveSuppressed() {
	if m == nil {
		return
	}
	m.AlarmsSuppressed.Inc()
}

// ObserveRules records the outcome of a rule set load.
func (m *Metrics) ObserveRules(loaded, rejected int) {
	if m == nil {
		return
	}
	m.RulesLoaded.Set(float64(loaded))
	m.RulesRejected.Add(float64(rejected))
}

// ObserveNotification implements notify.Observer.
func (m *Metrics) ObserveNotification(channel, result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(channel, result).Inc()
}
