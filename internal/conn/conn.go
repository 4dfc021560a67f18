// Package conn implements the Connection component: one
// socket, one reader goroutine, writes serialized by a mutex, and an ordered in-flight queue
// correlating the i-th response on the wire to the i-th request written.
//
// The single-writer/single-reader split and the FIFO hand-off generalize
// to RESP2/RESP3 negotiation, TLS, and a push-frame demultiplexer.
package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glidecore/valkeycore/apierrors"
	"github.com/glidecore/valkeycore/events"
	"github.com/glidecore/valkeycore/internal/resp"
)

// State is the Connection's lifecycle state's table.
type State int

const (
	Connecting State = iota
	Healthy
	Broken
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Healthy:
		return "healthy"
	case Broken:
		return "broken"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Protocol is the negotiated RESP wire version.
type Protocol int

const (
	RESP2 Protocol = iota
	RESP3
)

// TLSMode mirrors the config.TLSMode values
type TLSMode int

const (
	NoTLS TLSMode = iota
	SecureTLS
	InsecureTLS
)

// Auth carries credentials for AUTH/HELLO.
type Auth struct {
	Username string
	Password string
}

// Options configures Open.
type Options struct {
	Endpoint         string // host:port
	TLS              TLSMode
	Auth             *Auth
	PreferredProto   Protocol
	ClientName       string
	Database         int // standalone only
	ConnectTimeout   time.Duration
	ReadBufferSize   int
	Sink             events.Sink
	PushHandler      func(resp.Value)
}

// request is one in-flight entry: written, awaiting its correlated
// response. Retry state is layered on top by the retry engine rather
// than tracked here.
type request struct {
	reply chan result
}

type result struct {
	value resp.Value
	err   error
}

// Connection owns one socket and multiplexes commands on it.
type Connection struct {
	id       string
	opts     Options
	emit     events.Emitter
	netConn  net.Conn
	reader   *bufio.Reader
	decoder  *resp.Decoder
	protocol Protocol

	writeMu sync.Mutex

	mu      sync.Mutex
	state   State
	pending []*request // FIFO: index 0 is the oldest in-flight request

	reservedForBlocking bool

	closeOnce sync.Once
	done      chan struct{}
}

// Open dials, optionally negotiates TLS, completes the handshake, and
// starts the reader goroutine. It returns a *Connection in the Healthy
// state, or a *apierrors.Error of kind HandshakeError.
func Open(ctx context.Context, opts Options) (*Connection, error) {
	id := uuid.NewString()
	emit := events.Emitter{Sink: opts.Sink, SpanID: id, Prefix: "conn"}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}

	var netConn net.Conn
	var err error

	if opts.TLS != NoTLS {
		tlsConf := &tls.Config{InsecureSkipVerify: opts.TLS == InsecureTLS}
		netConn, err = tls.DialWithDialer(dialer, "tcp", opts.Endpoint, tlsConf)
	} else {
		netConn, err = dialer.DialContext(ctx, "tcp", opts.Endpoint)
	}
	if err != nil {
		emit.Err("dial_failed", err)
		return nil, apierrors.Wrap(apierrors.HandshakeError, err)
	}

	bufSize := opts.ReadBufferSize
	if bufSize == 0 {
		bufSize = 4096
	}

	c := &Connection{
		id:      id,
		opts:    opts,
		emit:    emit,
		netConn: netConn,
		reader:  bufio.NewReaderSize(netConn, bufSize),
		decoder: resp.NewDecoder(),
		state:   Connecting,
		done:    make(chan struct{}),
	}

	if err := c.handshake(ctx); err != nil {
		netConn.Close()
		c.setState(Broken)
		return nil, err
	}

	c.setState(Healthy)
	go c.readLoop()

	return c, nil
}

// ID returns the connection's opaque diagnostic identifier.
func (c *Connection) ID() string { return c.id }

// Protocol returns the negotiated wire version.
func (c *Connection) Protocol() Protocol { return c.protocol }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// MarkReservedForBlocking flags this connection as holding a blocking
// command (BLPOP, XREAD BLOCK, SUBSCRIBE). Pools use this to keep it out of
// round-robin rotation
func (c *Connection) MarkReservedForBlocking(v bool) {
	c.mu.Lock()
	c.reservedForBlocking = v
	c.mu.Unlock()
}

// ReservedForBlocking reports the flag set by MarkReservedForBlocking.
func (c *Connection) ReservedForBlocking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reservedForBlocking
}

func (c *Connection) handshake(ctx context.Context) error {
	deadline := time.Now().Add(c.opts.ConnectTimeout)
	if c.opts.ConnectTimeout > 0 {
		c.netConn.SetDeadline(deadline)
		defer c.netConn.SetDeadline(time.Time{})
	}

	if c.opts.PreferredProto == RESP3 {
		if err := c.tryHello(); err == nil {
			c.protocol = RESP3
			return nil
		}
		// HELLO failed; fall back to a plain RESP2 handshake below.
	}

	c.protocol = RESP2

	if c.opts.Auth != nil && c.opts.Auth.Password != "" {
		if err := c.authRESP2(); err != nil {
			return err
		}
	}
	if c.opts.Database != 0 {
		if err := c.simpleCommand("SELECT", []byte(fmt.Sprintf("%d", c.opts.Database))); err != nil {
			return apierrors.Wrap(apierrors.HandshakeError, err)
		}
	}
	if c.opts.ClientName != "" {
		if err := c.simpleCommand("CLIENT", []byte("SETNAME"), []byte(c.opts.ClientName)); err != nil {
			return apierrors.Wrap(apierrors.HandshakeError, err)
		}
	}
	return nil
}

func (c *Connection) tryHello() error {
	args := [][]byte{[]byte("3")}
	if c.opts.Auth != nil && c.opts.Auth.Password != "" {
		user := c.opts.Auth.Username
		if user == "" {
			user = "default"
		}
		args = append(args, []byte("AUTH"), []byte(user), []byte(c.opts.Auth.Password))
	}
	if c.opts.ClientName != "" {
		args = append(args, []byte("SETNAME"), []byte(c.opts.ClientName))
	}

	frame := resp.Encode("HELLO", args)
	if _, err := c.netConn.Write(frame); err != nil {
		return err
	}

	v, err := c.readOneSync()
	if err != nil {
		return err
	}
	if v.Kind == resp.KindError {
		return v.AsError()
	}
	return nil
}

func (c *Connection) authRESP2() error {
	var args [][]byte
	if c.opts.Auth.Username != "" {
		args = [][]byte{[]byte(c.opts.Auth.Username), []byte(c.opts.Auth.Password)}
	} else {
		args = [][]byte{[]byte(c.opts.Auth.Password)}
	}
	if err := c.simpleCommand("AUTH", args...); err != nil {
		return apierrors.Wrap(apierrors.HandshakeError, err)
	}
	return nil
}

func (c *Connection) simpleCommand(verb string, args ...[]byte) error {
	frame := resp.Encode(verb, args)
	if _, err := c.netConn.Write(frame); err != nil {
		return err
	}
	v, err := c.readOneSync()
	if err != nil {
		return err
	}
	if v.Kind == resp.KindError {
		return v.AsError()
	}
	return nil
}

// readOneSync is used only during the handshake, before the reader
// goroutine starts, when request/response is naturally synchronous.
func (c *Connection) readOneSync() (resp.Value, error) {
	for {
		v, err := c.decoder.Next()
		if err == nil {
			return v, nil
		}
		if err != resp.ErrIncomplete {
			return resp.Value{}, apierrors.Wrap(apierrors.ProtocolError, err)
		}
		chunk := make([]byte, 4096)
		n, rerr := c.reader.Read(chunk)
		if n > 0 {
			c.decoder.Feed(chunk[:n])
		}
		if rerr != nil {
			return resp.Value{}, apierrors.Wrap(apierrors.HandshakeError, rerr)
		}
	}
}

// Send enqueues a command, writes its frame, and blocks until the
// correlated response arrives, ctx is done, or the connection breaks.
func (c *Connection) Send(ctx context.Context, verb string, args [][]byte) (resp.Value, error) {
	if c.State() != Healthy {
		return resp.Value{}, apierrors.New(apierrors.ConnectionClosed, "send on non-healthy connection")
	}

	req := &request{reply: make(chan result, 1)}

	c.writeMu.Lock()
	c.mu.Lock()
	if c.state != Healthy {
		c.mu.Unlock()
		c.writeMu.Unlock()
		return resp.Value{}, apierrors.New(apierrors.ConnectionClosed, "send on non-healthy connection")
	}
	c.pending = append(c.pending, req)
	c.mu.Unlock()

	frame := resp.Encode(verb, args)
	_, err := c.netConn.Write(frame)
	c.writeMu.Unlock()

	if err != nil {
		c.fail(apierrors.Wrap(apierrors.ConnectionClosed, err))
		return resp.Value{}, apierrors.Wrap(apierrors.ConnectionClosed, err)
	}

	select {
	case r := <-req.reply:
		return r.value, r.err
	case <-ctx.Done():
		return resp.Value{}, apierrors.Wrap(apierrors.Timeout, ctx.Err())
	case <-c.done:
		return resp.Value{}, apierrors.New(apierrors.ConnectionClosed, "connection closed while awaiting response")
	}
}

// SendRaw is Send without a distinguished command verb: args[0] is sent
// as the verb.
func (c *Connection) SendRaw(ctx context.Context, args [][]byte) (resp.Value, error) {
	if len(args) == 0 {
		return resp.Value{}, apierrors.New(apierrors.ConfigError, "empty command")
	}
	return c.Send(ctx, string(args[0]), args[1:])
}

func (c *Connection) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := c.netConn.Read(buf)
		if n > 0 {
			c.decoder.Feed(buf[:n])
			c.drainDecoded()
		}
		if err != nil {
			c.fail(apierrors.Wrap(apierrors.ConnectionClosed, err))
			return
		}
	}
}

func (c *Connection) drainDecoded() {
	for {
		v, err := c.decoder.Next()
		if err == resp.ErrIncomplete {
			return
		}
		if err != nil {
			c.fail(apierrors.Wrap(apierrors.ProtocolError, err))
			return
		}

		if v.Kind == resp.KindPush {
			if c.opts.PushHandler != nil {
				c.opts.PushHandler(v)
			}
			continue
		}

		c.resolveOldest(result{value: v})
	}
}

func (c *Connection) resolveOldest(r result) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		// RESP2 pub/sub connections deliver "message"/"pmessage" arrays
		// unprompted, with no push-type marker to route them via
		// KindPush; a PushHandler means this connection expects that,
		// so hand it over instead of treating it as desync.
		if c.opts.PushHandler != nil {
			c.opts.PushHandler(r.value)
			return
		}
		// Spurious frame with nothing in flight: fatal protocol desync.
		c.fail(apierrors.New(apierrors.ProtocolError, "response with no in-flight request"))
		return
	}
	req := c.pending[0]
	c.pending = c.pending[1:]
	c.mu.Unlock()

	req.reply <- r
}

// fail transitions the connection to Broken and resolves every pending
// request with ConnectionClosed failure semantics.
func (c *Connection) fail(cause error) {
	c.mu.Lock()
	if c.state == Broken || c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = Broken
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, req := range pending {
		req.reply <- result{err: apierrors.Wrap(apierrors.ConnectionClosed, cause)}
	}

	c.emit.Warn("broken", map[string]interface{}{"cause": cause.Error()})
	c.closeOnce.Do(func() { close(c.done) })
}

// Close drains or fails pending requests with ClientClosed and releases
// the socket. Idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Closed
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, req := range pending {
		req.reply <- result{err: apierrors.New(apierrors.ClientClosed, "connection closed")}
	}

	c.closeOnce.Do(func() { close(c.done) })
	return c.netConn.Close()
}
