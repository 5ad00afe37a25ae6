package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Frame commands used by the client.
const (
	CmdConnect     = "CONNECT"
	CmdStomp       = "STOMP"
	CmdConnected   = "CONNECTED"
	CmdSend        = "SEND"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdDisconnect  = "DISCONNECT"
	CmdMessage     = "MESSAGE"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
)

// Frame header names.
const (
	HdrAcceptVersion = "accept-version"
	HdrVersion       = "version"
	HdrHost          = "host"
	HdrHeartBeat     = "heart-beat"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrSubscription  = "subscription"
	HdrMessageID     = "message-id"
	HdrAck           = "ack"
	HdrReceipt       = "receipt"
	HdrReceiptID     = "receipt-id"
	HdrContentType   = "content-type"
	HdrContentLength = "content-length"
	HdrMessage       = "message"
	HdrAuthorization = "Authorization"
)

var errIncomplete = errors.New("stomp: incomplete frame")

// Header is one frame header. Order is preserved and repeated keys are
// allowed; the first occurrence wins on lookup.
type Header struct {
	Key   string
	Value string
}

// Frame is a single STOMP frame.
type Frame struct {
	Command string
	Headers []Header
	Body    []byte
}

// NewFrame builds a frame from alternating key/value pairs.
func NewFrame(command string, kv ...string) *Frame {
	f := &Frame{Command: command}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers = append(f.Headers, Header{Key: kv[i], Value: kv[i+1]})
	}
	return f
}

// Get returns the first value for key.
func (f *Frame) Get(key string) string {
	v, _ := f.Lookup(key)
	return v
}

// Lookup returns the first value for key and whether it was present.
func (f *Frame) Lookup(key string) (string, bool) {
	for _, h := range f.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return "", false
}

// Set replaces every value of key with a single one.
func (f *Frame) Set(key, value string) {
	out := f.Headers[:0]
	for _, h := range f.Headers {
		if h.Key != key {
			out = append(out, h)
		}
	}
	f.Headers = append(out, Header{Key: key, Value: value})
}

// Add appends a header without touching existing ones.
func (f *Frame) Add(key, value string) {
	f.Headers = append(f.Headers, Header{Key: key, Value: value})
}

// escapes reports whether header escaping applies to the command.
// CONNECT and CONNECTED frames are exempt for 1.0 compatibility.
func escapes(command string) bool {
	return command != CmdConnect && command != CmdConnected && command != CmdStomp
}

var (
	headerEscaper   = strings.NewReplacer("\\", "\\\\", "\r", "\\r", "\n", "\\n", ":", "\\c")
	headerUnescaper = strings.NewReplacer("\\\\", "\\", "\\r", "\r", "\\n", "\n", "\\c", ":")
)

// Encode serialises the frame, terminated by a NUL octet.
func (f *Frame) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')
	escape := escapes(f.Command)
	for _, h := range f.Headers {
		k, v := h.Key, h.Value
		if escape {
			k, v = headerEscaper.Replace(k), headerEscaper.Replace(v)
		}
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(v)
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		if _, ok := f.Lookup(HdrContentLength); !ok {
			buf.WriteString(HdrContentLength + ":" + strconv.Itoa(len(f.Body)) + "\n")
		}
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s %v (%d bytes)", f.Command, f.Headers, len(f.Body))
}

// Decoder accumulates transport payloads and yields complete frames.
// A payload may hold several frames, a partial frame, or heart-beat EOLs.
type Decoder struct {
	buf []byte
}

// Feed appends raw bytes to the decoder buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next returns the next complete frame. It returns (nil, nil) when the
// buffered data holds no complete frame yet.
func (d *Decoder) Next() (*Frame, error) {
	for {
		d.buf = skipEOL(d.buf)
		if len(d.buf) == 0 {
			return nil, nil
		}
		f, n, err := parseFrame(d.buf)
		if errors.Is(err, errIncomplete) {
			return nil, nil
		}
		if err != nil {
			d.buf = nil
			return nil, err
		}
		d.buf = d.buf[n:]
		return f, nil
	}
}

// Buffered reports how many undecoded bytes are held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func skipEOL(b []byte) []byte {
	for len(b) > 0 && (b[0] == '\n' || b[0] == '\r') {
		b = b[1:]
	}
	return b
}

func parseFrame(b []byte) (*Frame, int, error) {
	headerEnd := bytes.Index(b, []byte("\n\n"))
	sepLen := 2
	if crlf := bytes.Index(b, []byte("\r\n\r\n")); crlf >= 0 && (headerEnd < 0 || crlf < headerEnd) {
		headerEnd, sepLen = crlf, 4
	}
	if headerEnd < 0 {
		return nil, 0, errIncomplete
	}

	lines := strings.Split(strings.ReplaceAll(string(b[:headerEnd]), "\r\n", "\n"), "\n")
	f := &Frame{Command: lines[0]}
	if f.Command == "" {
		return nil, 0, fmt.Errorf("stomp: empty command")
	}
	unescape := escapes(f.Command)
	for _, line := range lines[1:] {
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, 0, fmt.Errorf("stomp: malformed header %q", line)
		}
		k, v := line[:idx], line[idx+1:]
		if unescape {
			k, v = headerUnescaper.Replace(k), headerUnescaper.Replace(v)
		}
		f.Headers = append(f.Headers, Header{Key: k, Value: v})
	}

	bodyStart := headerEnd + sepLen
	if cl, ok := f.Lookup(HdrContentLength); ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return nil, 0, fmt.Errorf("stomp: invalid content-length %q", cl)
		}
		if len(b) < bodyStart+n+1 {
			return nil, 0, errIncomplete
		}
		if b[bodyStart+n] != 0 {
			return nil, 0, fmt.Errorf("stomp: frame body not NUL terminated")
		}
		f.Body = append([]byte(nil), b[bodyStart:bodyStart+n]...)
		return f, bodyStart + n + 1, nil
	}

	nul := bytes.IndexByte(b[bodyStart:], 0)
	if nul < 0 {
		return nil, 0, errIncomplete
	}
	if nul > 0 {
		f.Body = append([]byte(nil), b[bodyStart:bodyStart+nul]...)
	}
	return f, bodyStart + nul + 1, nil
}
