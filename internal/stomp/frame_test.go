package stomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEncodeDecode(t *testing.T) {
	f := NewFrame(CmdMessage,
		HdrDestination, "/topic/group/g1/member-status",
		HdrSubscription, "sub-1",
		"note", "a:b\nc\\d",
	)
	f.Body = []byte(`{"groupId":"g1"}`)

	var dec Decoder
	dec.Feed(f.Encode())
	got, err := dec.Next()
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, CmdMessage, got.Command)
	assert.Equal(t, "/topic/group/g1/member-status", got.Get(HdrDestination))
	assert.Equal(t, "a:b\nc\\d", got.Get("note"))
	assert.Equal(t, `{"groupId":"g1"}`, string(got.Body))
	assert.Zero(t, dec.Buffered())
}

func TestConnectHeadersAreNotEscaped(t *testing.T) {
	f := NewFrame(CmdConnect, HdrAuthorization, "Bearer a:b")
	assert.Contains(t, string(f.Encode()), "Authorization:Bearer a:b\n")
}

func TestDecoderPartialAndMultipleFrames(t *testing.T) {
	one := NewFrame(CmdReceipt, HdrReceiptID, "r-1").Encode()
	two := NewFrame(CmdMessage, HdrSubscription, "sub-2").Encode()
	stream := append(append([]byte("\n\n"), one...), two...)

	var dec Decoder
	dec.Feed(stream[:len(one)])
	f, err := dec.Next()
	require.NoError(t, err)
	assert.Nil(t, f, "frame is still missing its NUL terminator")

	dec.Feed(stream[len(one):])
	f, err = dec.Next()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, CmdReceipt, f.Command)

	f, err = dec.Next()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "sub-2", f.Get(HdrSubscription))

	f, err = dec.Next()
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestDecoderContentLengthAllowsNUL(t *testing.T) {
	raw := "MESSAGE\ncontent-length:3\n\na\x00b\x00"
	var dec Decoder
	dec.Feed([]byte(raw))
	f, err := dec.Next()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, []byte("a\x00b"), f.Body)
}

func TestDecoderRejectsMalformedHeader(t *testing.T) {
	var dec Decoder
	dec.Feed([]byte("MESSAGE\nbroken\n\n\x00"))
	_, err := dec.Next()
	require.Error(t, err)
}

func TestNegotiateHeartBeat(t *testing.T) {
	sx, sy := parseHeartBeat("4000,10000")
	assert.Equal(t, int64(4000), sx.Milliseconds())
	assert.Equal(t, int64(10000), sy.Milliseconds())

	assert.Equal(t, sy, negotiate(sx, sy))
	assert.Zero(t, negotiate(0, sy))
	assert.Zero(t, negotiate(sx, 0))

	x, y := parseHeartBeat("garbage")
	assert.Zero(t, x)
	assert.Zero(t, y)
}
