package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimCollector bundles Prometheus metrics for the simulation core and
// provides a ready-to-use /metrics handler.
type SimCollector struct {
	gatherer prometheus.Gatherer

	UplinksTotal    prometheus.Counter
	UplinkSNR       prometheus.Histogram
	CaptureResults  *prometheus.CounterVec
	ADRDecisions    *prometheus.CounterVec
	DownlinksTotal  prometheus.Counter
	CacheHitsTotal  prometheus.Gauge
	CacheMissTotal  prometheus.Gauge
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	uplinks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_uplinks_total",
		Help: "Total uplink transmissions evaluated by the PHY layer.",
	}), "sim_uplinks_total")
	if err != nil {
		return nil, err
	}

	snr := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_uplink_snr_db",
		Help:    "SNR of successfully captured uplinks in dB.",
		Buckets: []float64{-25, -20, -15, -10, -5, 0, 5, 10, 15, 20, 30},
	})
	snr, err = registerHistogram(reg, snr, "sim_uplink_snr_db")
	if err != nil {
		return nil, err
	}

	captures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_capture_results_total",
		Help: "Capture resolutions by policy and result (captured or collided).",
	}, []string{"policy", "result"})
	captures, err = registerCounterVec(reg, captures, "sim_capture_results_total")
	if err != nil {
		return nil, err
	}

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_adr_decisions_total",
		Help: "ADR evaluations by outcome (throttled, no_change, command_issued).",
	}, []string{"outcome"})
	decisions, err = registerCounterVec(reg, decisions, "sim_adr_decisions_total")
	if err != nil {
		return nil, err
	}

	downlinks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_downlinks_scheduled_total",
		Help: "Downlink frames scheduled by the network server.",
	}), "sim_downlinks_scheduled_total")
	if err != nil {
		return nil, err
	}

	cacheHits, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_propagation_cache_hits",
		Help: "Cumulative propagation cache hits.",
	}), "sim_propagation_cache_hits")
	if err != nil {
		return nil, err
	}
	cacheMisses, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_propagation_cache_misses",
		Help: "Cumulative propagation cache misses.",
	}), "sim_propagation_cache_misses")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:       gatherer,
		UplinksTotal:   uplinks,
		UplinkSNR:      snr,
		CaptureResults: captures,
		ADRDecisions:   decisions,
		DownlinksTotal: downlinks,
		CacheHitsTotal: cacheHits,
		CacheMissTotal: cacheMisses,
	}, nil
}

// ObserveUplink records one evaluated uplink.
func (c *SimCollector) ObserveUplink() {
	if c == nil {
		return
	}
	c.UplinksTotal.Inc()
}

// ObserveCapture records one per-gateway capture resolution.
func (c *SimCollector) ObserveCapture(policy string, captured bool, snrDB float64) {
	if c == nil {
		return
	}
	result := "collided"
	if captured {
		result = "captured"
		c.UplinkSNR.Observe(snrDB)
	}
	c.CaptureResults.WithLabelValues(policy, result).Inc()
}

// ObserveADRDecision records one controller evaluation outcome.
func (c *SimCollector) ObserveADRDecision(outcome string) {
	if c == nil {
		return
	}
	c.ADRDecisions.WithLabelValues(outcome).Inc()
}

// ObserveDownlinkScheduled records one scheduled downlink frame.
func (c *SimCollector) ObserveDownlinkScheduled() {
	if c == nil {
		return
	}
	c.DownlinksTotal.Inc()
}

// SetCacheStats mirrors the propagation cache counters into gauges.
func (c *SimCollector) SetCacheStats(hits, misses uint64) {
	if c == nil {
		return
	}
	c.CacheHitsTotal.Set(float64(hits))
	c.CacheMissTotal.Set(float64(misses))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
