// Package metrics exposes the anchoring node's Prometheus instrumentation:
// state-machine transitions, signature-pool activity, relay call latency,
// and finalized-anchor counts, per SPEC_FULL.md §6.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/certen/btc-anchoring/pkg/anchor"
)

// Metrics is the registered collector set for one anchoring node
// process. It satisfies anchor.MetricsSink structurally, so the anchor
// package never imports this one.
type Metrics struct {
	stateGauge          *prometheus.GaugeVec
	proposalsBuilt       prometheus.Counter
	signaturesEmitted    prometheus.Counter
	signaturesIngested   *prometheus.CounterVec
	anchorsFinalized     prometheus.Counter
	relayCallTotal       *prometheus.CounterVec
	relayCallErrors      *prometheus.CounterVec
	relayCallDuration    *prometheus.HistogramVec
}

var _ anchor.MetricsSink = (*Metrics)(nil)

// New registers the anchoring collectors against reg. Pass
// prometheus.DefaultRegisterer for a normal process, or a fresh
// prometheus.NewRegistry() in tests to avoid collisions across cases.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		stateGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "anchoring",
			Name:      "state",
			Help:      "Current anchoring state machine mode (1 = active) by validator index and state name.",
		}, []string{"validator_idx", "state"}),
		proposalsBuilt: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "anchoring",
			Name:      "proposals_built_total",
			Help:      "Anchoring/transition/recovery proposals successfully built.",
		}),
		signaturesEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "anchoring",
			Name:      "signatures_emitted_total",
			Help:      "MsgAnchoringSignature messages this validator produced.",
		}),
		signaturesIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anchoring",
			Name:      "signatures_ingested_total",
			Help:      "Peer MsgAnchoringSignature messages ingested, by acceptance.",
		}, []string{"accepted"}),
		anchorsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "anchoring",
			Name:      "anchors_finalized_total",
			Help:      "Anchoring transactions finalized and submitted to the relay.",
		}),
		relayCallTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anchoring",
			Subsystem: "relay",
			Name:      "calls_total",
			Help:      "BitcoinRelay calls, by method.",
		}, []string{"method"}),
		relayCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anchoring",
			Subsystem: "relay",
			Name:      "call_errors_total",
			Help:      "BitcoinRelay calls that returned an error, by method.",
		}, []string{"method"}),
		relayCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "anchoring",
			Subsystem: "relay",
			Name:      "call_duration_seconds",
			Help:      "BitcoinRelay call latency, by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// ObserveState implements anchor.MetricsSink.
func (m *Metrics) ObserveState(validatorIdx int, state anchor.State) {
	for _, s := range []anchor.State{anchor.StateAnchoring, anchor.StateWaiting, anchor.StateTransitioning, anchor.StateRecovering, anchor.StateBroken} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.stateGauge.WithLabelValues(idxLabel(validatorIdx), s.String()).Set(v)
	}
}

// IncProposalsBuilt implements anchor.MetricsSink.
func (m *Metrics) IncProposalsBuilt() { m.proposalsBuilt.Inc() }

// IncSignaturesEmitted implements anchor.MetricsSink.
func (m *Metrics) IncSignaturesEmitted() { m.signaturesEmitted.Inc() }

// IncSignaturesIngested implements anchor.MetricsSink.
func (m *Metrics) IncSignaturesIngested(accepted bool) {
	m.signaturesIngested.WithLabelValues(boolLabel(accepted)).Inc()
}

// IncAnchorsFinalized implements anchor.MetricsSink.
func (m *Metrics) IncAnchorsFinalized() { m.anchorsFinalized.Inc() }

// ObserveRelayCall implements anchor.MetricsSink. It is called after the
// fact by the state machine, which already knows the outcome but not the
// duration; callers that want latency should instead wrap their
// relay.Relay with TimedRelay below.
func (m *Metrics) ObserveRelayCall(method string, err error) {
	m.relayCallTotal.WithLabelValues(method).Inc()
	if err != nil {
		m.relayCallErrors.WithLabelValues(method).Inc()
	}
}

// ObserveRelayDuration records how long a relay call of the given method
// took. Separated from ObserveRelayCall because the state machine itself
// has no timing hook; a relay.Relay wrapper calls this directly.
func (m *Metrics) ObserveRelayDuration(method string, d time.Duration) {
	m.relayCallDuration.WithLabelValues(method).Observe(d.Seconds())
}

func idxLabel(idx int) string {
	if idx < 0 {
		return "none"
	}
	return strconv.Itoa(idx)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
