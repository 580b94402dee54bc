package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chat relay metrics
var (
	// Session lifecycle metrics
	ChatSessionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_sessions_created_total",
		Help: "Total number of support chat sessions opened",
	}, []string{"routed"}) // "true" when staff was assigned on creation

	ChatSessionsJoinedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_sessions_joined_total",
		Help: "Total number of sessions picked up by staff",
	})

	ChatSessionsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_sessions_closed_total",
		Help: "Total number of sessions closed",
	})

	// Message metrics
	ChatMessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Total number of chat messages appended",
	}, []string{"kind"})

	ChatMessageSendUnauthorizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_message_send_unauthorized_total",
		Help: "Total number of messages rejected because the sender is not a participant",
	})

	// Archive and attachments
	ChatTranscriptsArchivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_transcripts_archived_total",
		Help: "Total number of closed sessions archived to Cassandra",
	}, []string{"status"})

	ChatAttachmentURLsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_attachment_urls_total",
		Help: "Total number of presigned attachment URLs issued",
	}, []string{"direction"}) // "upload", "download"

	// WebSocket connection metrics
	ChatWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_websocket_connections",
		Help: "Current number of active chat WebSocket connections",
	})

	CallWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_websocket_connections",
		Help: "Current number of active incoming-call WebSocket connections",
	})

	// WebSocket message metrics
	WebSocketMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total number of WebSocket messages",
	}, []string{"stream", "direction"}) // "in" for received, "out" for sent

	// WebSocket error metrics
	WebSocketErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websocket_errors_total",
		Help: "Total number of WebSocket errors",
	}, []string{"stream", "error_type"})
)
