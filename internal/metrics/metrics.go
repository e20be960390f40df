// Package metrics wires the CORE layers' ambient Metrics interfaces
// (transport.Metrics, delivery.Metrics, facade.Metrics) to Prometheus,
// mirroring telemetry/flow-ingest/internal/metrics's promauto convention.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PacketsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icmpmsgr_transport_packets_sent_total", Help: "Total packets handed to Link for the first time.",
	})
	PacketsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icmpmsgr_transport_packets_retried_total", Help: "Total packet retransmissions issued by the retry loop.",
	})
	PacketsAcked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icmpmsgr_transport_packets_acked_total", Help: "Total packets removed from the ack table on ACK receipt.",
	})
	PacketsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icmpmsgr_transport_packets_abandoned_total", Help: "Total packets abandoned after exceeding MaxRetries.",
	})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "icmpmsgr_transport_ack_table_size", Help: "Current number of unacknowledged packets in the ack table.",
	})

	FragmentsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icmpmsgr_delivery_fragments_sent_total", Help: "Total outbound fragments submitted to Transport.",
	})
	FragmentsReassembled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icmpmsgr_delivery_fragments_reassembled_total", Help: "Total distinct inbound fragments accepted into a reassembly buffer.",
	})
	MessagesReassembled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icmpmsgr_delivery_messages_reassembled_total", Help: "Total logical messages fully reassembled.",
	})
	ReassembliesAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icmpmsgr_delivery_reassemblies_abandoned_total", Help: "Total stalled reassembly buffers dropped by the reaper.",
	})

	DecryptFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icmpmsgr_facade_decrypt_failures_total", Help: "Total inbound messages that failed decryption.",
	})
)

// Transport satisfies transport.Metrics.
type Transport struct{}

func (Transport) PacketSent()         { PacketsSent.Inc() }
func (Transport) PacketRetried()      { PacketsRetried.Inc() }
func (Transport) PacketAcked()        { PacketsAcked.Inc() }
func (Transport) PacketAbandoned()    { PacketsAbandoned.Inc() }
func (Transport) QueueDepth(n int)    { QueueDepth.Set(float64(n)) }

// Delivery satisfies delivery.Metrics.
type Delivery struct{}

func (Delivery) FragmentSent()         { FragmentsSent.Inc() }
func (Delivery) FragmentReassembled()  { FragmentsReassembled.Inc() }
func (Delivery) MessageReassembled()   { MessagesReassembled.Inc() }
func (Delivery) ReassemblyAbandoned()  { ReassembliesAbandoned.Inc() }

// Facade satisfies facade.Metrics.
type Facade struct{}

func (Facade) DecryptFailure() { DecryptFailures.Inc() }
