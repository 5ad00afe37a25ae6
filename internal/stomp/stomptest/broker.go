// Package stomptest provides an in-memory STOMP broker for tests.
package stomptest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"mogakjak-gateway/internal/stomp"
)

// Broker is a minimal STOMP broker reachable through its Dial method.
type Broker struct {
	// RejectConnect makes the broker answer CONNECT with an ERROR frame.
	RejectConnect string
	// DialErr makes Dial fail without creating a connection.
	DialErr error

	mu       sync.Mutex
	conns    map[*serverConn]struct{}
	connects []*stomp.Frame
	sent     []*stomp.Frame
	dials    int
	msgSeq   int
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{conns: make(map[*serverConn]struct{})}
}

// Dial implements stomp.Dialer.
func (b *Broker) Dial(ctx context.Context, endpoint string, header http.Header) (stomp.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.dials++
	dialErr := b.DialErr
	b.mu.Unlock()
	if dialErr != nil {
		return nil, dialErr
	}

	client, server := newPipe()
	sc := &serverConn{broker: b, t: server, subs: make(map[string]string)}
	b.mu.Lock()
	b.conns[sc] = struct{}{}
	b.mu.Unlock()
	go sc.serve()
	return client, nil
}

// SetRejectConnect changes RejectConnect while connections are live.
func (b *Broker) SetRejectConnect(message string) {
	b.mu.Lock()
	b.RejectConnect = message
	b.mu.Unlock()
}

// Dials counts Dial calls.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// OpenConns counts connections that have not been closed.
func (b *Broker) OpenConns() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// ConnectFrames returns every CONNECT frame received.
func (b *Broker) ConnectFrames() []*stomp.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*stomp.Frame(nil), b.connects...)
}

// SentFrames returns every SEND frame received.
func (b *Broker) SentFrames() []*stomp.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*stomp.Frame(nil), b.sent...)
}

// Subscribers counts active subscriptions to destination.
func (b *Broker) Subscribers(destination string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for sc := range b.conns {
		for _, dest := range sc.subs {
			if dest == destination {
				n++
			}
		}
	}
	return n
}

// Publish delivers body to every subscriber of destination and returns
// the number of deliveries.
func (b *Broker) Publish(destination string, body []byte) int {
	b.mu.Lock()
	type target struct {
		sc *serverConn
		id string
	}
	var targets []target
	for sc := range b.conns {
		for id, dest := range sc.subs {
			if dest == destination {
				targets = append(targets, target{sc, id})
			}
		}
	}
	b.mu.Unlock()

	for _, tg := range targets {
		b.mu.Lock()
		b.msgSeq++
		msgID := "m-" + strconv.Itoa(b.msgSeq)
		b.mu.Unlock()
		f := stomp.NewFrame(stomp.CmdMessage,
			stomp.HdrDestination, destination,
			stomp.HdrSubscription, tg.id,
			stomp.HdrMessageID, msgID,
			stomp.HdrContentType, "application/json",
		)
		f.Body = body
		_ = tg.sc.t.WriteMessage(f.Encode())
	}
	return len(targets)
}

// SendError sends an ERROR frame on every open connection and closes them.
func (b *Broker) SendError(message string) {
	for _, sc := range b.snapshot() {
		_ = sc.t.WriteMessage(stomp.NewFrame(stomp.CmdError, stomp.HdrMessage, message).Encode())
		sc.close()
	}
}

// DropAll closes every open connection from the broker side.
func (b *Broker) DropAll() {
	for _, sc := range b.snapshot() {
		sc.close()
	}
}

func (b *Broker) snapshot() []*serverConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*serverConn, 0, len(b.conns))
	for sc := range b.conns {
		out = append(out, sc)
	}
	return out
}

type serverConn struct {
	broker *Broker
	t      *pipeEnd
	subs   map[string]string // guarded by broker.mu
}

func (sc *serverConn) close() {
	_ = sc.t.Close()
	sc.broker.mu.Lock()
	delete(sc.broker.conns, sc)
	sc.broker.mu.Unlock()
}

func (sc *serverConn) serve() {
	defer sc.close()
	var dec stomp.Decoder
	for {
		p, err := sc.t.ReadMessage()
		if err != nil {
			return
		}
		dec.Feed(p)
		for {
			f, err := dec.Next()
			if err != nil {
				return
			}
			if f == nil {
				break
			}
			if !sc.handle(f) {
				return
			}
		}
	}
}

func (sc *serverConn) handle(f *stomp.Frame) bool {
	b := sc.broker
	switch f.Command {
	case stomp.CmdConnect, stomp.CmdStomp:
		b.mu.Lock()
		b.connects = append(b.connects, f)
		reject := b.RejectConnect
		b.mu.Unlock()
		if reject != "" {
			_ = sc.t.WriteMessage(stomp.NewFrame(stomp.CmdError, stomp.HdrMessage, reject).Encode())
			return false
		}
		_ = sc.t.WriteMessage(stomp.NewFrame(stomp.CmdConnected,
			stomp.HdrVersion, "1.2",
			stomp.HdrHeartBeat, "0,0",
		).Encode())
	case stomp.CmdSubscribe:
		b.mu.Lock()
		sc.subs[f.Get(stomp.HdrID)] = f.Get(stomp.HdrDestination)
		b.mu.Unlock()
	case stomp.CmdUnsubscribe:
		b.mu.Lock()
		delete(sc.subs, f.Get(stomp.HdrID))
		b.mu.Unlock()
	case stomp.CmdSend:
		b.mu.Lock()
		b.sent = append(b.sent, f)
		b.mu.Unlock()
		b.Publish(f.Get(stomp.HdrDestination), f.Body)
	case stomp.CmdDisconnect:
		if receipt := f.Get(stomp.HdrReceipt); receipt != "" {
			_ = sc.t.WriteMessage(stomp.NewFrame(stomp.CmdReceipt, stomp.HdrReceiptID, receipt).Encode())
		}
		return false
	}
	return true
}

type pipeEnd struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   *sync.Once
}

func newPipe() (*pipeEnd, *pipeEnd) {
	a2b := make(chan []byte, 64)
	b2a := make(chan []byte, 64)
	closed := make(chan struct{})
	once := &sync.Once{}
	return &pipeEnd{in: b2a, out: a2b, closed: closed, once: once},
		&pipeEnd{in: a2b, out: b2a, closed: closed, once: once}
}

func (p *pipeEnd) ReadMessage() ([]byte, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.closed:
		// drain what was written before the close
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return nil, io.EOF
		}
	}
}

func (p *pipeEnd) WriteMessage(msg []byte) error {
	select {
	case <-p.closed:
		return errors.New("stomptest: pipe closed")
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.closed:
		return errors.New("stomptest: pipe closed")
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
