package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// PublisherMock satisfies both the AMQP publisher and the audit publisher.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// PublishedTo counts Publish calls made with routingKey.
func (m *PublisherMock) PublishedTo(routingKey string) int {
	n := 0
	for _, call := range m.Calls {
		if call.Method == "Publish" && len(call.Arguments) > 1 && call.Arguments.String(1) == routingKey {
			n++
		}
	}
	return n
}
