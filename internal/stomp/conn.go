package stomp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrClosed           = errors.New("stomp: connection closed")
	ErrNotConnected     = errors.New("stomp: not connected")
	ErrHeartbeatTimeout = errors.New("stomp: heart-beat timeout")
)

// ServerError is an ERROR frame sent by the broker.
type ServerError struct {
	Frame *Frame
}

func (e *ServerError) Error() string {
	msg := e.Frame.Get(HdrMessage)
	if msg == "" {
		msg = strings.TrimSpace(string(e.Frame.Body))
	}
	return "stomp: server error: " + msg
}

// Handler receives MESSAGE frames. Handlers run on the connection's read
// goroutine and must not block on the same connection.
type Handler func(*Frame)

// Options configures a STOMP session.
type Options struct {
	Host string
	// Headers are added to the CONNECT frame verbatim.
	Headers           []Header
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
	OnError           func(*Frame)
	// Debug receives every frame sent (">>>") and received ("<<<").
	Debug func(direction string, f *Frame)
}

// Conn is an established STOMP session over a Transport.
type Conn struct {
	t    Transport
	dec  Decoder
	opts Options

	version       string
	readInterval  time.Duration
	writeInterval time.Duration
	lastRead      atomic.Int64
	closing       atomic.Bool

	wmu      sync.Mutex
	mu       sync.Mutex
	subs     map[string]*Subscription
	receipts map[string]chan struct{}
	seq      int

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Connect performs the CONNECT handshake on t and starts the read loop.
// The transport is closed when the handshake fails.
func Connect(ctx context.Context, t Transport, opts Options) (*Conn, error) {
	c := &Conn{
		t:        t,
		opts:     opts,
		subs:     make(map[string]*Subscription),
		receipts: make(map[string]chan struct{}),
		done:     make(chan struct{}),
	}

	host := opts.Host
	if host == "" {
		host = "/"
	}
	connect := NewFrame(CmdConnect,
		HdrAcceptVersion, "1.2,1.1,1.0",
		HdrHost, host,
		HdrHeartBeat, fmt.Sprintf("%d,%d", opts.HeartbeatOutgoing.Milliseconds(), opts.HeartbeatIncoming.Milliseconds()),
	)
	connect.Headers = append(connect.Headers, opts.Headers...)

	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	if err := c.write(connect); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}
	f, err := c.readFrame()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("await CONNECTED: %w", err)
	}
	switch f.Command {
	case CmdConnected:
	case CmdError:
		_ = t.Close()
		return nil, &ServerError{Frame: f}
	default:
		_ = t.Close()
		return nil, fmt.Errorf("stomp: unexpected %s frame during handshake", f.Command)
	}
	if !stop() {
		return nil, ctx.Err()
	}

	c.version = f.Get(HdrVersion)
	if c.version == "" {
		c.version = "1.0"
	}
	sx, sy := parseHeartBeat(f.Get(HdrHeartBeat))
	c.writeInterval = negotiate(opts.HeartbeatOutgoing, sy)
	c.readInterval = negotiate(opts.HeartbeatIncoming, sx)

	go c.readLoop()
	if c.writeInterval > 0 || c.readInterval > 0 {
		go c.heartbeatLoop()
	}
	return c, nil
}

// Version is the protocol version agreed with the broker.
func (c *Conn) Version() string { return c.version }

// Done is closed when the connection terminates.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection terminated. It is nil for a local close.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Connected reports whether the session is still open.
func (c *Conn) Connected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Subscribe registers handler for destination.
func (c *Conn) Subscribe(destination string, handler Handler) (*Subscription, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}
	c.mu.Lock()
	c.seq++
	sub := &Subscription{conn: c, id: "sub-" + strconv.Itoa(c.seq), destination: destination, handler: handler}
	c.subs[sub.id] = sub
	c.mu.Unlock()

	err := c.write(NewFrame(CmdSubscribe,
		HdrID, sub.id,
		HdrDestination, destination,
		HdrAck, "auto",
	))
	if err != nil {
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

// Send publishes body to destination.
func (c *Conn) Send(destination, contentType string, body []byte) error {
	f := NewFrame(CmdSend, HdrDestination, destination)
	if contentType != "" {
		f.Add(HdrContentType, contentType)
	}
	f.Body = body
	return c.write(f)
}

// Disconnect sends DISCONNECT, waits for the receipt or ctx, then closes.
func (c *Conn) Disconnect(ctx context.Context) error {
	if !c.Connected() {
		return nil
	}
	c.mu.Lock()
	c.seq++
	id := "disconnect-" + strconv.Itoa(c.seq)
	ch := make(chan struct{})
	c.receipts[id] = ch
	c.mu.Unlock()

	c.closing.Store(true)
	err := c.write(NewFrame(CmdDisconnect, HdrReceipt, id))
	if err == nil {
		select {
		case <-ch:
		case <-c.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	c.shutdown(nil)
	return err
}

// Close drops the transport without a DISCONNECT handshake.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		_ = c.t.Close()
	})
}

func (c *Conn) write(f *Frame) error {
	if f.Command != CmdConnect && !c.Connected() {
		return ErrClosed
	}
	if c.opts.Debug != nil {
		c.opts.Debug(">>>", f)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.t.WriteMessage(f.Encode())
}

func (c *Conn) readFrame() (*Frame, error) {
	for {
		f, err := c.dec.Next()
		if err != nil {
			return nil, err
		}
		if f != nil {
			if c.opts.Debug != nil {
				c.opts.Debug("<<<", f)
			}
			return f, nil
		}
		p, err := c.t.ReadMessage()
		if err != nil {
			return nil, err
		}
		c.lastRead.Store(time.Now().UnixNano())
		c.dec.Feed(p)
	}
}

func (c *Conn) readLoop() {
	for {
		f, err := c.readFrame()
		if err != nil {
			if c.closing.Load() {
				err = nil
			}
			c.shutdown(err)
			return
		}
		switch f.Command {
		case CmdMessage:
			c.mu.Lock()
			sub := c.subs[f.Get(HdrSubscription)]
			c.mu.Unlock()
			if sub != nil && sub.handler != nil {
				sub.handler(f)
			}
		case CmdReceipt:
			c.mu.Lock()
			id := f.Get(HdrReceiptID)
			if ch, ok := c.receipts[id]; ok {
				close(ch)
				delete(c.receipts, id)
			}
			c.mu.Unlock()
		case CmdError:
			if c.opts.OnError != nil {
				c.opts.OnError(f)
			}
			c.shutdown(&ServerError{Frame: f})
			return
		}
	}
}

func (c *Conn) heartbeatLoop() {
	var writeTick, readTick <-chan time.Time
	if c.writeInterval > 0 {
		t := time.NewTicker(c.writeInterval)
		defer t.Stop()
		writeTick = t.C
	}
	if c.readInterval > 0 {
		t := time.NewTicker(c.readInterval)
		defer t.Stop()
		readTick = t.C
		c.lastRead.Store(time.Now().UnixNano())
	}
	for {
		select {
		case <-c.done:
			return
		case <-writeTick:
			c.wmu.Lock()
			err := c.t.WriteMessage([]byte{'\n'})
			c.wmu.Unlock()
			if err != nil {
				c.shutdown(err)
				return
			}
		case <-readTick:
			last := time.Unix(0, c.lastRead.Load())
			if time.Since(last) > 2*c.readInterval {
				c.shutdown(ErrHeartbeatTimeout)
				return
			}
		}
	}
}

func parseHeartBeat(v string) (time.Duration, time.Duration) {
	parts := strings.SplitN(v, ",", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	x, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	y, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || x < 0 || y < 0 {
		return 0, 0
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond
}

// negotiate applies the heart-beat rule: zero on either side disables,
// otherwise the larger of the two intervals is used.
func negotiate(local, remote time.Duration) time.Duration {
	if local <= 0 || remote <= 0 {
		return 0
	}
	if local > remote {
		return local
	}
	return remote
}

// Subscription is an active destination binding on a Conn.
type Subscription struct {
	conn        *Conn
	id          string
	destination string
	handler     Handler
	once        sync.Once
}

// ID is the subscription id sent to the broker.
func (s *Subscription) ID() string { return s.id }

// Destination is the subscribed topic.
func (s *Subscription) Destination() string { return s.destination }

// Unsubscribe removes the binding. It is a no-op on a closed connection.
func (s *Subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.conn.mu.Lock()
		delete(s.conn.subs, s.id)
		s.conn.mu.Unlock()
		if s.conn.Connected() {
			err = s.conn.write(NewFrame(CmdUnsubscribe, HdrID, s.id))
		}
	})
	return err
}
