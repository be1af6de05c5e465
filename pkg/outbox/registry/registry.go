// Package registry routes outbox rows to Pub/Sub topics and decodes their
// typed payloads before publishing.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/handoffmarket/handoff-backend/pkg/config"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	"github.com/handoffmarket/handoff-backend/pkg/outbox"
	"github.com/handoffmarket/handoff-backend/pkg/outbox/payloads"
)

// Route is where one event type goes and how its payload decodes.
type Route struct {
	EventType enums.OutboxEventType
	Aggregate enums.OutboxAggregateType
	Topic     string
	decode    func(json.RawMessage) (any, error)
}

// route builds a Route whose payload decodes into a *T.
func route[T any](event enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) Route {
	return Route{
		EventType: event,
		Aggregate: aggregate,
		Topic:     topic,
		decode: func(raw json.RawMessage) (any, error) {
			payload := new(T)
			if err := json.Unmarshal(raw, payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
}

// Resolved is a decoded outbox row ready for publishing.
type Resolved struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  any
}

// PermanentError marks a row that no amount of retrying will publish.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

func permanent(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// EventRegistry holds one Route per supported event type.
type EventRegistry struct {
	routes map[enums.OutboxEventType]Route
}

// NewEventRegistry wires every event type to its configured topic.
// Notification requests go to their own topic; everything else shares the
// transactions topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	switch {
	case cfg.TransactionsTopic == "":
		return nil, errors.New("transactions topic is required")
	case cfg.NotificationTopic == "":
		return nil, errors.New("notification topic is required")
	}

	txns := cfg.TransactionsTopic
	routes := []Route{
		route[payloads.TransactionEvent](enums.EventTransactionInitiated, enums.AggregateTransaction, txns),
		route[payloads.TransactionEvent](enums.EventTransactionPaid, enums.AggregateTransaction, txns),
		route[payloads.TransactionEvent](enums.EventTransactionCancelled, enums.AggregateTransaction, txns),
		route[payloads.TransactionEvent](enums.EventTransactionRefunded, enums.AggregateTransaction, txns),
		route[payloads.PickupEvent](enums.EventPickupCodeGenerated, enums.AggregatePickup, txns),
		route[payloads.PickupEvent](enums.EventPickupConfirmed, enums.AggregatePickup, txns),
		route[payloads.RefundEvent](enums.EventRefundFailed, enums.AggregateRefund, txns),
		route[payloads.DisputeEvent](enums.EventDisputeOpened, enums.AggregateDispute, txns),
		route[payloads.DisputeEvent](enums.EventDisputeUpdated, enums.AggregateDispute, txns),
		route[payloads.NotificationRequestedEvent](enums.EventNotificationRequested, enums.AggregateNotification, cfg.NotificationTopic),
	}

	reg := &EventRegistry{routes: make(map[enums.OutboxEventType]Route, len(routes))}
	for _, r := range routes {
		if _, dup := reg.routes[r.EventType]; dup {
			return nil, fmt.Errorf("event type %s routed twice", r.EventType)
		}
		reg.routes[r.EventType] = r
	}
	return reg, nil
}

// Topics lists the distinct topics the registry publishes to.
func (r *EventRegistry) Topics() []string {
	seen := make(map[string]struct{})
	var topics []string
	for _, route := range r.routes {
		if _, ok := seen[route.Topic]; ok {
			continue
		}
		seen[route.Topic] = struct{}{}
		topics = append(topics, route.Topic)
	}
	return topics
}

// Resolve checks the row against its route and decodes the payload. Every
// error it returns is permanent.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*Resolved, error) {
	rt, ok := r.routes[event.EventType]
	if !ok {
		return nil, permanent("no route for event type %q", event.EventType)
	}
	if rt.Aggregate != event.AggregateType {
		return nil, permanent("%s belongs to %s aggregates, row says %s", event.EventType, rt.Aggregate, event.AggregateType)
	}
	if event.AggregateID == uuid.Nil {
		return nil, permanent("%s row has no aggregate id", event.EventType)
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, permanent("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, permanent("%s envelope carries no data", event.EventType)
	}

	payload, err := rt.decode(envelope.Data)
	if err != nil {
		return nil, permanent("decode %s payload: %w", event.EventType, err)
	}
	return &Resolved{Route: rt, Envelope: envelope, Payload: payload}, nil
}
