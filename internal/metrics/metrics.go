package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campusim_messages_appended_total",
		Help: "Messages persisted by the conversation store, by conversation type",
	}, []string{"type"})

	MessagesDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campusim_messages_deleted_total",
		Help: "Messages soft-deleted, by reason (own, moderator, purge)",
	}, []string{"reason"})

	ConversationsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campusim_conversations_created_total",
		Help: "Conversations created, by type",
	}, []string{"type"})

	ConversationCreateConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campusim_conversation_create_conflicts_total",
		Help: "Concurrent conversation creations resolved by re-fetching",
	})

	SendRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campusim_send_rejected_total",
		Help: "Rejected sends, by error code",
	}, []string{"code"})

	ReactionsChanged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campusim_reactions_changed_total",
		Help: "Reaction upserts and removals",
	})

	FanoutEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campusim_fanout_events_total",
		Help: "Fan-out events by type and result (published, failed, broadcast)",
	}, []string{"type", "result"})

	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campusim_rate_limited_total",
		Help: "Requests rejected by the per-user rate limiter",
	})

	WebSocketConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "campusim_websocket_connections",
		Help: "Open websocket connections on this chat server",
	})

	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "campusim_active_rooms",
		Help: "Rooms with at least one subscriber on this chat server",
	})

	TypingSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "campusim_typing_sessions",
		Help: "Live typing leases tracked by this chat server",
	})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campusim_http_request_duration_seconds",
		Help:    "API request latency by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

func init() {
	prometheus.MustRegister(
		MessagesAppended,
		MessagesDeleted,
		ConversationsCreated,
		ConversationCreateConflicts,
		SendRejected,
		ReactionsChanged,
		FanoutEvents,
		RateLimited,
		WebSocketConnections,
		ActiveRooms,
		TypingSessions,
		HTTPRequestDuration,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
