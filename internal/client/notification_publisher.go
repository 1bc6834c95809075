package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes order workflow events to NATS for the
// platform notification service.
//
// Subject convention: notifications.hub.orders.<event_type>
// Event types: order_created, order_approved, order_rejected, order_accepted,
//              order_denied, order_delivered, order_cancelled, order_archived
//
// All publish operations are non-fatal: errors are logged but never
// propagated to the caller, so notification failures never interrupt order
// operations.
type NotificationPublisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType string                 `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	OrderType string                 `json:"order_type"`
	ActorID   string                 `json:"actor_id"`
	ActorRole string                 `json:"actor_role"`
	Status    string                 `json:"status"`
	Category  string                 `json:"category,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection disables publishing.
func NewNotificationPublisher(nc *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nc: nc, log: log}
}

// PublishOrderEvent publishes one order workflow event.
// Subject: notifications.hub.orders.<eventType>
func (p *NotificationPublisher) PublishOrderEvent(ctx context.Context, eventType, orderID, orderType, actorID, actorRole, status string, payload map[string]interface{}) {
	if p.nc == nil {
		return
	}

	event := &NotificationEvent{
		EventType: eventType,
		OrderID:   orderID,
		OrderType: orderType,
		ActorID:   actorID,
		ActorRole: actorRole,
		Status:    status,
		Category:  "hub_orders",
		Payload:   payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.hub.orders.%s", eventType)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("order_id", orderID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("order_id", orderID).
		Msg("notification: event published")
}
