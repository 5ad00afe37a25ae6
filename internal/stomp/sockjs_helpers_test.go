package stomp

import (
	"encoding/json"
	"testing"
)

func decodeClientSockJS(p []byte) ([]string, error) {
	var msgs []string
	err := json.Unmarshal(p, &msgs)
	return msgs, err
}

func sockJSArray(t *testing.T, msgs ...string) []byte {
	t.Helper()
	b, err := json.Marshal(msgs)
	if err != nil {
		t.Fatal(err)
	}
	return append([]byte("a"), b...)
}
