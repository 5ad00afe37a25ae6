package observability

import (
	"context"
	"sync"
)

// Publisher sends JSON events to the event bus. rabbitmq.Publisher
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

var (
	publisherMu      sync.RWMutex
	defaultPublisher Publisher
)

func SetPublisher(publisher Publisher) {
	publisherMu.Lock()
	defer publisherMu.Unlock()
	defaultPublisher = publisher
}

func PublishEvent(ctx context.Context, routingKey string, message EventEnvelope, headers map[string]string) error {
	publisherMu.RLock()
	p := defaultPublisher
	publisherMu.RUnlock()
	if p == nil {
		return nil
	}

	err := p.Publish(ctx, routingKey, TracedEnvelope{EventEnvelope: message, Headers: headers})
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}

// TracedEnvelope carries correlation headers alongside an event. The
// headers travel as message headers, not in the body.
type TracedEnvelope struct {
	EventEnvelope
	Headers map[string]string `json:"-"`
}

func (e TracedEnvelope) MessageHeaders() map[string]string {
	return e.Headers
}
