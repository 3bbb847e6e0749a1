// Package metrics defines the Prometheus metrics the impersonation
// server exposes for leases, OTA triggers, HTTP dispatch misses and
// envelope failures. All metrics use the "cloudcutter_" namespace.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cloudcutter"

var (
	once     sync.Once
	registry *Registry
)

// Registry holds every metric the impersonation server records.
type Registry struct {
	DHCPLeasesTotal    *prometheus.CounterVec
	MQTTConnections    *prometheus.CounterVec
	OTATriggers        *prometheus.CounterVec
	HTTPDispatchMisses *prometheus.CounterVec
	EnvelopeFailures   *prometheus.CounterVec
	ApCfgFramesSent    *prometheus.CounterVec
}

// Get returns the process-wide metrics registry, creating it on first use.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry(prometheus.DefaultRegisterer)
	})
	return registry
}

// newRegistry builds a Registry against reg, so tests can register
// against a throwaway prometheus.Registry instead of the global default
// (which would panic on repeated registration across test functions).
func newRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	r := &Registry{}

	r.DHCPLeasesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dhcp_leases_total",
		Help:      "Total DHCP leases issued, by message type.",
	}, []string{"message_type"})

	r.MQTTConnections = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mqtt_connections_total",
		Help:      "Total MQTT client connect/disconnect events.",
	}, []string{"event"})

	r.OTATriggers = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ota_triggers_total",
		Help:      "Total OTA upgrade triggers, by outcome.",
	}, []string{"result"})

	r.HTTPDispatchMisses = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_dispatch_misses_total",
		Help:      "Total HTTP requests no route matched, by path.",
	}, []string{"path"})

	r.EnvelopeFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "envelope_failures_total",
		Help:      "Total device envelope encrypt/decrypt failures, by transport and reason.",
	}, []string{"transport", "reason"})

	r.ApCfgFramesSent = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "apcfg_frames_sent_total",
		Help:      "Total AP-config UDP bursts sent during provisioning.",
	}, []string{"phase"})

	return r
}

// RecordDHCPLease records a lease issued in response to msgType.
func (r *Registry) RecordDHCPLease(msgType string) {
	r.DHCPLeasesTotal.WithLabelValues(msgType).Inc()
}

// RecordMQTTConnection records a connect or disconnect event.
func (r *Registry) RecordMQTTConnection(event string) {
	r.MQTTConnections.WithLabelValues(event).Inc()
}

// RecordOTATrigger records an OTA trigger attempt's outcome
// ("triggered", "skipped_no_firmware", "publish_error").
func (r *Registry) RecordOTATrigger(result string) {
	r.OTATriggers.WithLabelValues(result).Inc()
}

// RecordHTTPDispatchMiss records a request no route matched.
func (r *Registry) RecordHTTPDispatchMiss(path string) {
	r.HTTPDispatchMisses.WithLabelValues(path).Inc()
}

// RecordEnvelopeFailure records an encrypt/decrypt failure on transport
// ("http" or "mqtt") for the given reason.
func (r *Registry) RecordEnvelopeFailure(transport, reason string) {
	r.EnvelopeFailures.WithLabelValues(transport, reason).Inc()
}

// RecordApCfgFrameSent records one UDP burst sent during a given
// provisioning phase ("classic_profile", "wifi_network").
func (r *Registry) RecordApCfgFrameSent(phase string) {
	r.ApCfgFramesSent.WithLabelValues(phase).Inc()
}
