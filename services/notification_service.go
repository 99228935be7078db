// File: /services/notification_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is a state change published to subscribers.
type Event struct {
	ID         string                 `json:"id"`
	Entity     string                 `json:"entity"`
	EntityID   string                 `json:"entity_id"`
	TenantID   uint                   `json:"tenant_id"`
	Action     string                 `json:"action"`
	Before     map[string]interface{} `json:"before,omitempty"`
	After      map[string]interface{} `json:"after,omitempty"`
	Deleted    bool                   `json:"deleted"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// NewEvent fills in the id and timestamp of an event
func NewEvent(entity, entityID string, tenantID uint, action string) Event {
	return Event{
		ID:         uuid.NewString(),
		Entity:     entity,
		EntityID:   entityID,
		TenantID:   tenantID,
		Action:     action,
		OccurredAt: time.Now().UTC(),
	}
}

// Notifier accepts events on a best-effort basis. Implementations must not
// panic or block the caller on delivery problems.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}

// MQTTNotifier publishes events as JSON to
// {prefix}/tenants/{tenant}/{entity}/{entity_id}.
type MQTTNotifier struct {
	publisher Publisher
	prefix    string
	qos       byte
	logger    *zap.Logger
}

func NewMQTTNotifier(publisher Publisher, prefix string, qos byte, logger *zap.Logger) *MQTTNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTNotifier{
		publisher: publisher,
		prefix:    prefix,
		qos:       qos,
		logger:    logger,
	}
}

// Topic returns the topic an event is published on
func (n *MQTTNotifier) Topic(event Event) string {
	return fmt.Sprintf("%s/tenants/%d/%s/%s", n.prefix, event.TenantID, event.Entity, event.EntityID)
}

func (n *MQTTNotifier) Notify(ctx context.Context, event Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Notification publisher panicked",
				zap.Any("panic", r),
				zap.String("entity", event.Entity),
				zap.String("entity_id", event.EntityID),
			)
		}
	}()

	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("Failed to encode notification", zap.Error(err), zap.String("entity", event.Entity))
		return
	}

	topic := n.Topic(event)
	if err := n.publisher.Publish(topic, n.qos, false, payload); err != nil {
		n.logger.Warn("Failed to publish notification",
			zap.Error(err),
			zap.String("topic", topic),
		)
		return
	}

	n.logger.Debug("Notification published", zap.String("topic", topic), zap.String("action", event.Action))
}
