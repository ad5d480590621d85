package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ridemarket"

var (
	MatchesTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "matches_total", Help: "Offers accepted into a ride"})
	MatchRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "match_rejections_total", Help: "Match attempts rejected, by reason"},
		[]string{"reason"},
	)
	OfferActions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offer_actions_total", Help: "Offer ledger writes, by action"},
		[]string{"action"},
	)
	RequestTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "request_transitions_total", Help: "Ride request status changes"},
		[]string{"to"},
	)
	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Ride status changes"},
		[]string{"from", "to"},
	)
	ConcurrentRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "concurrent_update_retries_total", Help: "Conditional writes lost to a concurrent writer"},
		[]string{"aggregate"},
	)
	PaymentSettlements = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "payment_settlements_total", Help: "Settlement events applied, by outcome"},
		[]string{"outcome"},
	)
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "notifications_dropped_total", Help: "Change events skipped because the push queue was full"})
	FeedPublishFailures  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "feed_publish_failures_total", Help: "Change events that could not be published"},
		[]string{"collection"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}
