package realtime

import (
	"encoding/json"
	"log"

	"mogakjak-gateway/internal/observability"
	"mogakjak-gateway/internal/stomp"
)

// JSON decodes every MESSAGE body into T before calling fn. Malformed
// payloads and panicking reducers are logged and dropped; the subscription
// stays alive.
func JSON[T any](topic string, fn func(T)) stomp.Handler {
	return func(f *stomp.Frame) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("realtime: handler panic topic=%s: %v", topic, r)
				observability.IncStompDropped(topic)
			}
		}()
		var v T
		if err := json.Unmarshal(f.Body, &v); err != nil {
			log.Printf("realtime: drop malformed payload topic=%s: %v", topic, err)
			observability.IncStompDropped(topic)
			return
		}
		fn(v)
	}
}
