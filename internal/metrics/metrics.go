// Package metrics provides Prometheus metrics for monitoring OrderPipe.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Message outcome labels.
const (
	OutcomeAccepted   = "accepted"
	OutcomeRejected   = "rejected"
	OutcomeReset      = "reset"
	OutcomeNavigation = "navigation"
	OutcomeUnroutable = "unroutable"
	OutcomeError      = "error"
)

// Order result labels.
const (
	OrderSaved         = "saved"
	OrderCancelled     = "cancelled"
	OrderPersistFailed = "persist_failed"
)

// Collaborator labels.
const (
	CollaboratorSessions = "sessions"
	CollaboratorOrders   = "orders"
	CollaboratorLookup   = "lookup"
	CollaboratorCalendar = "calendar"
	CollaboratorMedia    = "media"
	CollaboratorDelivery = "delivery"
)

var (
	// MessagesTotal counts inbound messages by the step they arrived at and their outcome.
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderpipe_messages_total",
			Help: "Inbound messages",
		},
		[]string{"step", "outcome"},
	)

	// OrdersTotal counts confirmation decisions.
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderpipe_orders_total",
			Help: "Order confirmations",
		},
		[]string{"result"},
	)

	// CollaboratorFailuresTotal counts failed calls into external systems.
	CollaboratorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderpipe_collaborator_failures_total",
			Help: "Collaborator failures",
		},
		[]string{"collaborator"},
	)

	// DuplicateMessagesTotal counts redelivered messages that were dropped.
	DuplicateMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orderpipe_duplicate_messages_total",
			Help: "Redelivered inbound messages dropped",
		},
	)

	// SessionsPurgedTotal counts idle conversations removed by the sweeper.
	SessionsPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orderpipe_sessions_purged_total",
			Help: "Idle sessions purged",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		OrdersTotal,
		CollaboratorFailuresTotal,
		DuplicateMessagesTotal,
		SessionsPurgedTotal,
	)
}
