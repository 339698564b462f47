package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_connections",
		Help: "Currently connected websocket clients.",
	})
	MessagesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_appended_total",
		Help: "Messages persisted to the timeline, by type.",
	}, []string{"type"})
	PaginationTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_pagination_timeouts_total",
		Help: "History loads that hit the hard timeout.",
	})
	PaginationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_pagination_retries_total",
		Help: "History load attempts that were retried.",
	})
	AIGenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ai_generations_total",
		Help: "AI generations by persona and outcome.",
	}, []string{"persona", "outcome"})
	DuplicateLogins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_duplicate_logins_total",
		Help: "Connections displaced by a newer login.",
	})
)

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
