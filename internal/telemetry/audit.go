package telemetry

import (
	"context"
	"log"
	"time"

	"mogakjak-gateway/internal/observability"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Audit actions.
const (
	ActionTokenRefresh = "token_refresh"
	ActionAuditTest    = "audit_test"
)

// AuditEmitter publishes security-relevant gateway decisions.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	TraceID       string       `json:"trace_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level   string `json:"level"`
	Action  string `json:"action"`
	Outcome string `json:"outcome"`
	Path    string `json:"path,omitempty"`
	Text    string `json:"text,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit publishes one audit record. Publish failures are logged, never
// returned: auditing must not break the request path.
func (e *AuditEmitter) Emit(ctx context.Context, requestID string, payload AuditPayload) {
	if e == nil || e.publisher == nil {
		return
	}
	if payload.Level == "" {
		payload.Level = "INFO"
	}

	log.Printf("audit emit: action=%s outcome=%s request_id=%s path=%s", payload.Action, payload.Outcome, requestID, payload.Path)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		TraceID:       observability.TraceIDFromContext(ctx),
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		observability.IncAMQPPublishError()
		log.Printf("audit publish failed: %v", err)
	}
}
