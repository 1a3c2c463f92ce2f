package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status_code"},
	)

	// Business metrics
	RequestsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contact_requests_created_total",
			Help: "Total number of contact requests submitted",
		},
		[]string{"company"},
	)

	TokenVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_token_verifications_total",
			Help: "Total number of access token checks",
		},
		[]string{"result"}, // success, invalid, expired, disabled
	)

	TokenRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "access_token_rotations_total",
			Help: "Total number of access links reset by staff",
		},
	)

	BulkActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_actions_total",
			Help: "Total number of bulk actions applied from the panel",
		},
		[]string{"form", "action"},
	)

	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staff_login_attempts_total",
			Help: "Total number of staff sign-in attempts",
		},
		[]string{"result"}, // success, failure, blocked
	)
)

// RecordTokenCheck counts the outcome of an access token check
func RecordTokenCheck(err error) {
	result := "success"
	switch err {
	case nil:
	case ErrTokenExpired:
		result = "expired"
	case ErrAccessDisabled:
		result = "disabled"
	default:
		result = "invalid"
	}
	TokenVerifications.WithLabelValues(result).Inc()
}

// RecordLoginAttempt counts a staff sign-in attempt
func RecordLoginAttempt(result string) {
	LoginAttempts.WithLabelValues(result).Inc()
}
