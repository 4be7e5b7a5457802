package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GuardMetrics holds every metric the detector exports. A nil *GuardMetrics
// is valid and records nothing.
type GuardMetrics struct {
	// Cycle metrics
	CyclesTotal   *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec

	// Batch metrics
	BatchRecords   *prometheus.GaugeVec
	ParseErrors    *prometheus.CounterVec
	GeoLookupFails *prometheus.CounterVec
	Anomalies      *prometheus.GaugeVec

	// Blocklist metrics
	ProposedIPs     *prometheus.GaugeVec
	BlockedIPs      *prometheus.GaugeVec
	FirewallActions *prometheus.CounterVec

	// IDS liveness
	IDSRunning *prometheus.GaugeVec
}

func NewGuardMetrics(reg prometheus.Registerer) *GuardMetrics {
	factory := promauto.With(reg)
	return &GuardMetrics{
		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ids_guard_cycles_total",
				Help: "Detection cycles by result",
			},
			[]string{"result"},
		),

		CycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ids_guard_cycle_duration_seconds",
				Help:    "Duration of detection cycles",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),

		BatchRecords: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ids_guard_batch_size",
				Help: "Records and alerts in the last normalized batch",
			},
			[]string{"kind"},
		),

		ParseErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ids_guard_parse_errors_total",
				Help: "Malformed input lines skipped, by source",
			},
			[]string{"source"},
		),

		GeoLookupFails: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ids_guard_geo_lookup_failures_total",
				Help: "Geolocation lookups that fell back to Unknown",
			},
			[]string{"provider"},
		),

		Anomalies: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ids_guard_anomalies",
				Help: "Anomalous records and candidate IPs in the last cycle",
			},
			[]string{"kind"},
		),

		ProposedIPs: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ids_guard_proposed_ips",
				Help: "IPs proposed for blocking by anomaly detection",
			},
			[]string{},
		),

		BlockedIPs: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ids_guard_blocked_ips",
				Help: "IPs in the effective blocklist",
			},
			[]string{},
		),

		FirewallActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ids_guard_firewall_actions_total",
				Help: "Firewall block and unblock invocations by result",
			},
			[]string{"action", "result"},
		),

		IDSRunning: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ids_guard_ids_running",
				Help: "1 when the IDS process is running",
			},
			[]string{"process"},
		),
	}
}

func (m *GuardMetrics) ObserveCycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(result).Inc()
	m.CycleDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *GuardMetrics) SetBatch(records, alerts int) {
	if m == nil {
		return
	}
	m.BatchRecords.WithLabelValues("records").Set(float64(records))
	m.BatchRecords.WithLabelValues("alerts").Set(float64(alerts))
}

func (m *GuardMetrics) AddParseErrors(bySource map[string]int) {
	if m == nil {
		return
	}
	for source, n := range bySource {
		m.ParseErrors.WithLabelValues(source).Add(float64(n))
	}
}

func (m *GuardMetrics) AddGeoFailures(provider string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.GeoLookupFails.WithLabelValues(provider).Add(float64(n))
}

func (m *GuardMetrics) SetAnomalies(records, candidates int) {
	if m == nil {
		return
	}
	m.Anomalies.WithLabelValues("records").Set(float64(records))
	m.Anomalies.WithLabelValues("candidates").Set(float64(candidates))
}

func (m *GuardMetrics) ObserveFirewallAction(action string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.FirewallActions.WithLabelValues(action, result).Inc()
}

func (m *GuardMetrics) SetBlockedIPs(n int) {
	if m == nil {
		return
	}
	m.BlockedIPs.WithLabelValues().Set(float64(n))
}

func (m *GuardMetrics) SetProposedIPs(n int) {
	if m == nil {
		return
	}
	m.ProposedIPs.WithLabelValues().Set(float64(n))
}

func (m *GuardMetrics) SetIDSRunning(process string, running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.IDSRunning.WithLabelValues(process).Set(v)
}
