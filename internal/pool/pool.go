// Package pool implements the per-node Connection Pool:
// N multiplexed connections to one node, round-robin dispatch with a
// blocking-command reservation heuristic, and backoff-driven reconnection
// that never gives up on the node.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/glidecore/valkeycore/apierrors"
	"github.com/glidecore/valkeycore/events"
	"github.com/glidecore/valkeycore/internal/conn"
)

// Dialer opens a new Connection to the pool's node. Supplied by the
// router/client layer, which knows the endpoint, auth, and protocol.
type Dialer func(ctx context.Context) (*conn.Connection, error)

// Options configures a Pool.
type Options struct {
	Size                int
	Backoff             Backoff
	HealthCheckInterval time.Duration
	Sink                events.Sink
	NodeID              string
}

// slot holds one pooled connection plus its reconnect state. A nil Conn
// means the slot is currently reconnecting.
type slot struct {
	mu      sync.Mutex
	conn    *conn.Connection
	attempt int
}

// Pool owns every connection to one Node.
type Pool struct {
	dialer Dialer
	opts   Options
	emit   events.Emitter

	slots []*slot
	rrIdx uint64
	rrMu  sync.Mutex

	closed bool
	mu     sync.Mutex

	stop chan struct{}
}

// New creates a Pool and starts establishing its connections
// asynchronously; a Pool is usable immediately, but Pick may return
// ErrNoHealthyConnection until at least one slot connects.
func New(ctx context.Context, dialer Dialer, opts Options) *Pool {
	if opts.Size <= 0 {
		opts.Size = 1
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff
	}
	if opts.HealthCheckInterval == 0 {
		opts.HealthCheckInterval = 30 * time.Second
	}

	p := &Pool{
		dialer: dialer,
		opts:   opts,
		emit:   events.Emitter{Sink: opts.Sink, SpanID: opts.NodeID, Prefix: "pool"},
		slots:  make([]*slot, opts.Size),
		stop:   make(chan struct{}),
	}

	for i := range p.slots {
		p.slots[i] = &slot{}
		go p.maintain(ctx, p.slots[i])
	}

	go p.healthCheckLoop()

	return p
}

// ErrNoHealthyConnection is returned by Pick when every slot is either
// reconnecting or reserved for a blocking command.
var ErrNoHealthyConnection = apierrors.New(apierrors.ConnectionClosed, "no healthy connection available")

// maintain keeps one slot connected, retrying with backoff forever.
func (p *Pool) maintain(ctx context.Context, s *slot) {
	attempt := 0
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		c, err := p.dialer(ctx)
		if err != nil {
			p.emit.Warn("reconnect_failed", map[string]interface{}{"attempt": attempt, "error": err.Error()})
			delay := p.opts.Backoff.Delay(attempt)
			attempt++
			select {
			case <-time.After(delay):
				continue
			case <-p.stop:
				return
			}
		}

		s.mu.Lock()
		s.conn = c
		s.attempt = 0
		s.mu.Unlock()
		attempt = 0

		p.waitForBreak(c)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()

		select {
		case <-p.stop:
			return
		default:
		}
	}
}

// waitForBreak blocks until c leaves the Healthy state (broken or closed),
// polling cheaply since conn.Connection exposes no done-channel accessor.
func (p *Pool) waitForBreak(c *conn.Connection) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if c.State() != conn.Healthy {
				return
			}
		case <-p.stop:
			return
		}
	}
}

// Pick returns a healthy, non-reserved connection using round-robin
// dispatch, skipping any connection pinned by a blocking command.
func (p *Pool) Pick() (*conn.Connection, error) {
	p.rrMu.Lock()
	defer p.rrMu.Unlock()

	n := len(p.slots)
	for i := 0; i < n; i++ {
		idx := int((p.rrIdx + uint64(i)) % uint64(n))
		s := p.slots[idx]

		s.mu.Lock()
		c := s.conn
		s.mu.Unlock()

		if c == nil || c.State() != conn.Healthy || c.ReservedForBlocking() {
			continue
		}

		p.rrIdx = uint64(idx) + 1
		return c, nil
	}

	return nil, ErrNoHealthyConnection
}

// PickForBlocking reserves a connection for a blocking command (BLPOP,
// XREAD BLOCK, SUBSCRIBE) by pulling it out of round-robin rotation,
// spawning an extra on-demand connection if every existing slot is
// already healthy and in use.
func (p *Pool) PickForBlocking(ctx context.Context) (*conn.Connection, error) {
	c, err := p.Pick()
	if err == nil {
		c.MarkReservedForBlocking(true)
		return c, nil
	}

	extra, derr := p.dialer(ctx)
	if derr != nil {
		return nil, derr
	}
	extra.MarkReservedForBlocking(true)
	return extra, nil
}

// Release clears the blocking reservation, returning the connection to
// round-robin rotation.
func (p *Pool) Release(c *conn.Connection) {
	c.MarkReservedForBlocking(false)
}

func (p *Pool) healthCheckLoop() {
	ticker := time.NewTicker(p.opts.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.pingIdle()
		case <-p.stop:
			return
		}
	}
}

func (p *Pool) pingIdle() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, s := range p.slots {
		s.mu.Lock()
		c := s.conn
		s.mu.Unlock()

		if c == nil || c.State() != conn.Healthy || c.ReservedForBlocking() {
			continue
		}
		if _, err := c.Send(ctx, "PING", nil); err != nil {
			p.emit.Warn("health_check_failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Close stops reconnection and closes every connection. Idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stop)

	var firstErr error
	for _, s := range p.slots {
		s.mu.Lock()
		c := s.conn
		s.conn = nil
		s.mu.Unlock()

		if c != nil {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Size reports the configured slot count.
func (p *Pool) Size() int { return len(p.slots) }

// HealthyCount reports how many slots currently hold a Healthy connection,
// used by the debug/introspection surface (SPEC_FULL.md's debugserver).
func (p *Pool) HealthyCount() int {
	n := 0
	for _, s := range p.slots {
		s.mu.Lock()
		c := s.conn
		s.mu.Unlock()
		if c != nil && c.State() == conn.Healthy {
			n++
		}
	}
	return n
}
