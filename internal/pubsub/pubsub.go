// Package pubsub implements the Pub/Sub subsystem: one
// dedicated connection per target node per subscription set, automatic
// resubscribe on reconnect, and a bounded delivery queue that drops the
// oldest buffered message under backpressure.
package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/glidecore/valkeycore/events"
	"github.com/glidecore/valkeycore/internal/conn"
	"github.com/glidecore/valkeycore/internal/pool"
	"github.com/glidecore/valkeycore/internal/resp"
)

// Message is one delivered pub/sub payload.
type Message struct {
	Channel string
	Pattern string // set for pattern subscriptions
	Payload []byte
	Shard   bool
}

// Callback receives delivered messages, from the dispatch goroutine (never
// from the connection's own read loop).
type Callback func(Message)

// Subscription is the set of channels/patterns/shard-channels one
// connection maintains.
type Subscription struct {
	Channels      []string
	Patterns      []string
	ShardChannels []string
	Callback      Callback
}

// Subscriber owns one connection to one node for one Subscription,
// reconnecting and resubscribing indefinitely, matching the connection
// pool's "never surrenders the node" posture.
type Subscriber struct {
	endpoint string
	base     conn.Options
	sub      Subscription
	backoff  pool.Backoff
	emit     events.Emitter

	queueCap int
	queueMu  sync.Mutex
	queue    []Message
	queueSig chan struct{}
	dropped  uint64

	mu      sync.Mutex
	current *conn.Connection

	stop chan struct{}
}

// Options configures a Subscriber.
type Options struct {
	Endpoint      string
	Base          conn.Options
	Backoff       pool.Backoff
	QueueCapacity int
	Sink          events.Sink
}

// New starts a Subscriber: it connects, subscribes, and begins delivering
// messages to sub.Callback asynchronously.
func New(ctx context.Context, opts Options, sub Subscription) *Subscriber {
	if opts.Backoff == (pool.Backoff{}) {
		opts.Backoff = pool.DefaultBackoff
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 1000
	}

	s := &Subscriber{
		endpoint: opts.Endpoint,
		base:     opts.Base,
		sub:      sub,
		backoff:  opts.Backoff,
		emit:     events.Emitter{Sink: opts.Sink, Prefix: "pubsub"},
		queueCap: opts.QueueCapacity,
		queueSig: make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}

	go s.maintain(ctx)
	go s.dispatch()

	return s
}

// DroppedCount reports how many messages were evicted by the
// oldest-message-drop backpressure policy, for the debug introspection
// surface.
func (s *Subscriber) DroppedCount() uint64 {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.dropped
}

func (s *Subscriber) maintain(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		opts := s.base
		opts.Endpoint = s.endpoint
		opts.PushHandler = s.handlePush

		c, err := conn.Open(ctx, opts)
		if err != nil {
			s.emit.Warn("connect_failed", map[string]interface{}{"attempt": attempt, "error": err.Error()})
			s.sleep(attempt)
			attempt++
			continue
		}

		if err := s.resubscribe(ctx, c); err != nil {
			s.emit.Warn("subscribe_failed", map[string]interface{}{"error": err.Error()})
			c.Close()
			s.sleep(attempt)
			attempt++
			continue
		}

		attempt = 0
		s.setCurrent(c)
		s.waitForBreak(c)
		s.setCurrent(nil)

		select {
		case <-s.stop:
			return
		default:
		}
	}
}

func (s *Subscriber) sleep(attempt int) {
	select {
	case <-time.After(s.backoff.Delay(attempt)):
	case <-s.stop:
	}
}

func (s *Subscriber) resubscribe(ctx context.Context, c *conn.Connection) error {
	if len(s.sub.Channels) > 0 {
		if _, err := c.Send(ctx, "SUBSCRIBE", toBytes(s.sub.Channels)); err != nil {
			return err
		}
	}
	if len(s.sub.Patterns) > 0 {
		if _, err := c.Send(ctx, "PSUBSCRIBE", toBytes(s.sub.Patterns)); err != nil {
			return err
		}
	}
	if len(s.sub.ShardChannels) > 0 {
		if _, err := c.Send(ctx, "SSUBSCRIBE", toBytes(s.sub.ShardChannels)); err != nil {
			return err
		}
	}
	return nil
}

// handlePush runs on the connection's read goroutine: it must never
// block, so it only classifies the frame and enqueues.
func (s *Subscriber) handlePush(v resp.Value) {
	if len(v.Array) == 0 {
		return
	}
	kind := string(v.Array[0].Str)

	switch kind {
	case "message":
		if len(v.Array) >= 3 {
			s.enqueue(Message{Channel: string(v.Array[1].Str), Payload: v.Array[2].Str})
		}
	case "pmessage":
		if len(v.Array) >= 4 {
			s.enqueue(Message{Pattern: string(v.Array[1].Str), Channel: string(v.Array[2].Str), Payload: v.Array[3].Str})
		}
	case "smessage":
		if len(v.Array) >= 3 {
			s.enqueue(Message{Channel: string(v.Array[1].Str), Payload: v.Array[2].Str, Shard: true})
		}
	default:
		// subscribe/psubscribe/ssubscribe/unsubscribe acks: nothing to deliver.
	}
}

// enqueue applies the oldest-message-drop backpressure policy and
// signals the dispatch goroutine.
func (s *Subscriber) enqueue(m Message) {
	s.queueMu.Lock()
	if len(s.queue) >= s.queueCap {
		s.queue = s.queue[1:]
		s.dropped++
		s.emit.Warn("message_dropped", map[string]interface{}{"channel": m.Channel})
	}
	s.queue = append(s.queue, m)
	s.queueMu.Unlock()

	select {
	case s.queueSig <- struct{}{}:
	default:
	}
}

func (s *Subscriber) dispatch() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.queueSig:
		}

		for {
			s.queueMu.Lock()
			if len(s.queue) == 0 {
				s.queueMu.Unlock()
				break
			}
			m := s.queue[0]
			s.queue = s.queue[1:]
			s.queueMu.Unlock()

			if s.sub.Callback != nil {
				s.sub.Callback(m)
			}
		}
	}
}

func (s *Subscriber) setCurrent(c *conn.Connection) {
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()
}

func (s *Subscriber) waitForBreak(c *conn.Connection) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if c.State() != conn.Healthy {
				return
			}
		case <-s.stop:
			return
		}
	}
}

// Close stops reconnection and closes the current connection.
func (s *Subscriber) Close() error {
	select {
	case <-s.stop:
		return nil
	default:
		close(s.stop)
	}
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c != nil {
		return c.Close()
	}
	return nil
}

func toBytes(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}
