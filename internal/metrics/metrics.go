// Package metrics exports sensor state as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/particulate.report/internal/pms"
)

const namespace = "pms"

// lifecycleStates are the label values exported for the state gauge.
// Exactly one carries the value 1 at any scrape.
var lifecycleStates = []string{"sleeping", "preheating", "ready"}

// StatusCollector exports the sensor lifecycle, poll counters and the
// latest reading. Values are snapshotted from the controller at scrape
// time, so there is no background refresh loop to run.
type StatusCollector struct {
	ctrl pms.Controller

	stateDesc          *prometheus.Desc
	preheatDesc        *prometheus.Desc
	framesDecodedDesc  *prometheus.Desc
	framesRejectedDesc *prometheus.Desc
	readTimeoutsDesc   *prometheus.Desc
	readFailuresDesc   *prometheus.Desc
	wakesDesc          *prometheus.Desc
	sleepsDesc         *prometheus.Desc
	concentrationDesc  *prometheus.Desc
	particleCountDesc  *prometheus.Desc
}

// NewStatusCollector creates a collector reading from the given
// controller. Register it with a prometheus.Registerer to expose it.
func NewStatusCollector(ctrl pms.Controller) *StatusCollector {
	return &StatusCollector{
		ctrl: ctrl,
		stateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "lifecycle_state"),
			"Sensor lifecycle state (1 for the active state, 0 otherwise)",
			[]string{"state"}, nil),
		preheatDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "preheat_seconds_remaining"),
			"Seconds until the fan has stabilised airflow and readings count as valid",
			nil, nil),
		framesDecodedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "frames_decoded_total"),
			"Frames decoded and published since startup",
			nil, nil),
		framesRejectedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "frames_rejected_total"),
			"Frames discarded for bad length or checksum since startup",
			nil, nil),
		readTimeoutsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "read_timeouts_total"),
			"Polls abandoned because no complete frame arrived in time",
			nil, nil),
		readFailuresDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "read_failures_total"),
			"Polls failed on transport errors since startup",
			nil, nil),
		wakesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "wakes_total"),
			"Wake commands accepted since startup",
			nil, nil),
		sleepsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sleeps_total"),
			"Sleep commands accepted since startup",
			nil, nil),
		concentrationDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "concentration_ug_m3"),
			"Particulate mass concentration from the latest reading (units: ug/m3)",
			[]string{"size", "correction"}, nil),
		particleCountDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "particle_count_per_deciliter"),
			"Particles at or above min_size per 0.1L of air, from the latest reading",
			[]string{"min_size"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stateDesc
	ch <- c.preheatDesc
	ch <- c.framesDecodedDesc
	ch <- c.framesRejectedDesc
	ch <- c.readTimeoutsDesc
	ch <- c.readFailuresDesc
	ch <- c.wakesDesc
	ch <- c.sleepsDesc
	ch <- c.concentrationDesc
	ch <- c.particleCountDesc
}

// Collect implements prometheus.Collector.
func (c *StatusCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.ctrl.Status()

	for _, state := range lifecycleStates {
		v := 0.0
		if st.State == state {
			v = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.stateDesc, prometheus.GaugeValue, v, state)
	}
	ch <- prometheus.MustNewConstMetric(c.preheatDesc, prometheus.GaugeValue, float64(st.PreheatSeconds))
	ch <- prometheus.MustNewConstMetric(c.framesDecodedDesc, prometheus.CounterValue, float64(st.FramesDecoded))
	ch <- prometheus.MustNewConstMetric(c.framesRejectedDesc, prometheus.CounterValue, float64(st.FramesRejected))
	ch <- prometheus.MustNewConstMetric(c.readTimeoutsDesc, prometheus.CounterValue, float64(st.ReadTimeouts))
	ch <- prometheus.MustNewConstMetric(c.readFailuresDesc, prometheus.CounterValue, float64(st.ReadFailures))
	ch <- prometheus.MustNewConstMetric(c.wakesDesc, prometheus.CounterValue, float64(st.Wakes))
	ch <- prometheus.MustNewConstMetric(c.sleepsDesc, prometheus.CounterValue, float64(st.Sleeps))

	// Reading-derived series only exist once a frame has been decoded.
	r := st.LastReading
	if r == nil {
		return
	}
	concentrations := []struct {
		size, correction string
		value            uint16
	}{
		{"pm1", "std", r.PM1Std},
		{"pm2.5", "std", r.PM25Std},
		{"pm10", "std", r.PM10Std},
		{"pm1", "atm", r.PM1Atm},
		{"pm2.5", "atm", r.PM25Atm},
		{"pm10", "atm", r.PM10Atm},
	}
	for _, m := range concentrations {
		ch <- prometheus.MustNewConstMetric(c.concentrationDesc, prometheus.GaugeValue, float64(m.value), m.size, m.correction)
	}
	counts := []struct {
		minSize string
		value   uint16
	}{
		{"0.3um", r.Count0p3},
		{"0.5um", r.Count0p5},
		{"1.0um", r.Count1p0},
		{"2.5um", r.Count2p5},
		{"5.0um", r.Count5p0},
		{"10um", r.Count10},
	}
	for _, m := range counts {
		ch <- prometheus.MustNewConstMetric(c.particleCountDesc, prometheus.GaugeValue, float64(m.value), m.minSize)
	}
}

// Handler returns an HTTP handler serving the registry's metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		// Opt into OpenMetrics to support exemplars.
		EnableOpenMetrics: true,
	})
}

// NewRegistry builds a registry with the sensor collector plus build
// information about the running binary.
func NewRegistry(ctrl pms.Controller) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewStatusCollector(ctrl))
	reg.MustRegister(prometheus.NewBuildInfoCollector())
	return reg
}
