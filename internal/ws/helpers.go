package ws

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mogakjak-gateway/internal/models"
	"mogakjak-gateway/internal/observability"
)

const (
	kindGroup = "group"
	kindUser  = "user"
)

func newConnID() string {
	return uuid.NewString()
}

func wsRoutingKey(kind string) string {
	if kind == kindGroup {
		return "ws_events.groups"
	}
	return "ws_events.users"
}

// publishLifecycle counts and publishes one connection lifecycle event.
func publishLifecycle(ctx context.Context, kind, resourceID, event string, info ConnInfo, reason string) {
	observability.IncWSEvent(kind, event)
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        kind,
			"resource_id": resourceID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey(kind), observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

// NewNotice builds an operator notice for browser clients.
func NewNotice(text string) models.GroupEvent {
	return models.GroupEvent{
		Type: models.EventNotification,
		Notification: &models.Notification{
			Kind:    models.KindNotice,
			Payload: map[string]string{"message": text},
		},
	}
}
