package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securitychat_messages_total",
			Help: "Total number of messages handled, by channel and direction.",
		},
		[]string{"channel", "direction"},
	)
	reconnectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securitychat_reconnect_attempts_total",
			Help: "Total number of reconnect attempts, by channel.",
		},
		[]string{"channel"},
	)
	peerConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "securitychat_peer_connections_active",
			Help: "Number of open direct peer connections.",
		},
	)
	queuedMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "securitychat_queued_messages",
			Help: "Number of messages waiting for a peer connection to open.",
		},
	)
	sendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securitychat_send_failures_total",
			Help: "Total number of failed send attempts, by channel.",
		},
		[]string{"channel"},
	)
)

func init() {
	prometheus.MustRegister(
		messagesTotal,
		reconnectAttemptsTotal,
		peerConnectionsActive,
		queuedMessages,
		sendFailuresTotal,
	)
}

func IncMessage(channel, direction string) {
	messagesTotal.WithLabelValues(channel, direction).Inc()
}

func IncReconnectAttempt(channel string) {
	reconnectAttemptsTotal.WithLabelValues(channel).Inc()
}

func IncPeerConnections() {
	peerConnectionsActive.Inc()
}

func DecPeerConnections() {
	peerConnectionsActive.Dec()
}

func AddQueuedMessages(delta int) {
	queuedMessages.Add(float64(delta))
}

func IncSendFailure(channel string) {
	sendFailuresTotal.WithLabelValues(channel).Inc()
}
