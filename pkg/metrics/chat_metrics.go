package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chat metrics for the message store and real-time delivery
var (
	// Message lifecycle metrics
	ChatMessageCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_message_created_total",
		Help: "Total number of messages created",
	}, []string{"kind", "universe"})

	ChatMessageUndecryptableTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_message_undecryptable_total",
		Help: "Total number of stored bodies that failed to decrypt",
	})

	ChatPollCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_poll_created_total",
		Help: "Total number of poll messages created",
	}, []string{"universe"})

	// Authorization metrics
	ChatMessageSendUnauthorizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_message_send_unauthorized_total",
		Help: "Total number of mutations rejected by an authorization precondition",
	}, []string{"reason"})

	ChatPushConnectionUnauthorizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_push_connection_unauthorized_total",
		Help: "Total number of rejected push channel connections",
	})

	// Push connection metrics
	ChatPushConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_push_connections",
		Help: "Current number of live push connections in this process",
	})

	ChatPushConnectionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_push_connection_total",
		Help: "Total number of push connections opened",
	}, []string{"transport"})

	ChatPushConnectionPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_push_connection_pruned_total",
		Help: "Total number of connections removed after a failed write",
	})

	// Dispatcher metrics
	ChatNotificationDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_notification_dispatched_total",
		Help: "Total number of events dispatched",
	}, []string{"type"})

	ChatNotificationDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_notification_dropped_total",
		Help: "Total number of events dropped before delivery",
	}, []string{"reason"})

	ChatNotificationDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_notification_delivered_total",
		Help: "Total number of frames written to push connections",
	}, []string{"type"})

	ChatNotificationQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_notification_queue_length",
		Help: "Current number of queued events",
	})

	ChatOfflinePushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_offline_push_total",
		Help: "Total number of offline mobile push attempts",
	}, []string{"status"})

	// Relay metrics
	ChatRelayPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_publish_total",
		Help: "Total number of frames published to the cross-instance relay",
	}, []string{"status"})

	ChatRelaySubscriptionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_relay_subscription_active",
		Help: "1 while the relay subscription is running",
	})

	// Session cache metrics
	ChatSessionCacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_session_cache_lookups_total",
		Help: "Total number of session cache lookups",
	}, []string{"result"}) // hit, miss, invalid
)
