// Package client implements the Client Facade: the single
// entry point that owns a node's (or cluster's) connection pools,
// topology, router, retry engine, and pub/sub subscribers, and turns a
// verb+args command into one resolved response.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glidecore/valkeycore/apierrors"
	"github.com/glidecore/valkeycore/config"
	"github.com/glidecore/valkeycore/events"
	"github.com/glidecore/valkeycore/internal/conn"
	"github.com/glidecore/valkeycore/internal/pool"
	"github.com/glidecore/valkeycore/internal/pubsub"
	"github.com/glidecore/valkeycore/internal/resp"
	"github.com/glidecore/valkeycore/internal/retry"
	"github.com/glidecore/valkeycore/internal/router"
	"github.com/glidecore/valkeycore/internal/scan"
	"github.com/glidecore/valkeycore/internal/topology"
)

// Client is the runtime's facade: one per `create_client` call.
type Client struct {
	cfg  *config.Config
	emit events.Emitter
	sink events.Sink

	clusterMode bool
	topo        *topology.Topology
	router      *router.Router

	poolsMu sync.Mutex
	pools   map[string]*pool.Pool

	subsMu sync.Mutex
	subs   []*pubsub.Subscriber

	closedMu sync.Mutex
	closed   bool
}

// New creates a Client: it establishes the seed connection pool(s) and,
// in cluster mode, bootstraps the Topology before returning.
func New(ctx context.Context, cfg *config.Config, sink events.Sink) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:         cfg,
		emit:        events.Emitter{Sink: sink, Prefix: "client"},
		sink:        sink,
		clusterMode: cfg.ClusterMode,
		pools:       map[string]*pool.Pool{},
	}

	if cfg.ClusterMode {
		var seeds []string
		for _, a := range cfg.Addresses {
			seeds = append(seeds, fmt.Sprintf("%s:%d", a.Host, a.Port))
		}

		topo, err := topology.New(ctx, topology.Options{
			SeedAddrs: seeds,
			Executor:  c.execRaw,
			Sink:      sink,
		})
		if err != nil {
			return nil, err
		}
		c.topo = topo
		c.router = router.New(topo, "")
	} else {
		if len(cfg.Addresses) == 0 {
			return nil, apierrors.New(apierrors.ConfigError, "no seed address configured")
		}
		addr := fmt.Sprintf("%s:%d", cfg.Addresses[0].Host, cfg.Addresses[0].Port)
		if _, err := c.getPool(addr); err != nil {
			return nil, err
		}
	}

	if len(cfg.PubSubSubscriptions.Exact)+len(cfg.PubSubSubscriptions.Pattern)+len(cfg.PubSubSubscriptions.Shard) > 0 {
		addr := fmt.Sprintf("%s:%d", cfg.Addresses[0].Host, cfg.Addresses[0].Port)
		c.Subscribe(ctx, addr, pubsub.Subscription{
			Channels:      cfg.PubSubSubscriptions.Exact,
			Patterns:      cfg.PubSubSubscriptions.Pattern,
			ShardChannels: cfg.PubSubSubscriptions.Shard,
		})
	}

	return c, nil
}

// connOptionsFor builds the per-connection Options this Client dials with.
func (c *Client) connOptionsFor(addr string) conn.Options {
	proto := conn.RESP3
	if c.cfg.Protocol == config.RESP2 {
		proto = conn.RESP2
	}
	tlsMode := conn.NoTLS
	switch c.cfg.TLSMode {
	case config.SecureTLS:
		tlsMode = conn.SecureTLS
	case config.InsecureTLS:
		tlsMode = conn.InsecureTLS
	}
	return conn.Options{
		Endpoint:       addr,
		TLS:            tlsMode,
		Auth:           &conn.Auth{Username: c.cfg.Auth.Username, Password: c.cfg.Auth.Password},
		PreferredProto: proto,
		ClientName:     c.cfg.ClientName,
		Database:       int(c.cfg.DatabaseID),
		ConnectTimeout: time.Duration(c.cfg.ConnectionTimeoutMs) * time.Millisecond,
		Sink:           c.sink,
	}
}

// getPool returns (creating if necessary) the Pool for addr.
func (c *Client) getPool(addr string) (*pool.Pool, error) {
	c.poolsMu.Lock()
	defer c.poolsMu.Unlock()

	if p, ok := c.pools[addr]; ok {
		return p, nil
	}

	dialer := func(ctx context.Context) (*conn.Connection, error) {
		return conn.Open(ctx, c.connOptionsFor(addr))
	}
	p := pool.New(context.Background(), dialer, pool.Options{
		Size:    1,
		Backoff: c.cfg.Retry.ToBackoff(),
		Sink:    c.sink,
		NodeID:  addr,
	})
	c.pools[addr] = p
	return p, nil
}

// execRaw runs one command against a specific address, used by Topology
// discovery and the Scan cursor, both of which need to target a node
// directly rather than going through routing.
func (c *Client) execRaw(ctx context.Context, addr, verb string, args [][]byte) (resp.Value, error) {
	p, err := c.getPool(addr)
	if err != nil {
		return resp.Value{}, err
	}
	// A freshly created pool connects in the background; wait up to the
	// connection timeout for it to come up before giving up.
	cn, err := p.Pick()
	deadline := time.Now().Add(time.Duration(c.cfg.ConnectionTimeoutMs) * time.Millisecond)
	for err != nil && time.Now().Before(deadline) {
		if werr := retry.Wait(ctx, 10*time.Millisecond); werr != nil {
			return resp.Value{}, werr
		}
		cn, err = p.Pick()
	}
	if err != nil {
		return resp.Value{}, err
	}
	v, err := cn.Send(ctx, verb, args)
	if err != nil {
		return resp.Value{}, err
	}
	if v.Kind == resp.KindError {
		return resp.Value{}, v.AsError()
	}
	return v, nil
}

// Command dispatches verb/args and returns the combined response, fanning
// out and aggregating when the router splits it across multiple nodes.
func (c *Client) Command(ctx context.Context, verb string, args [][]byte, directive *router.Directive, readFrom router.ReadFromPolicy) (resp.Value, error) {
	if c.isClosed() {
		return resp.Value{}, apierrors.New(apierrors.ClientClosed, "command submitted after close_client")
	}

	deadline := time.Duration(c.cfg.RequestTimeoutMs) * time.Millisecond
	info := router.Lookup(verb)

	if !c.clusterMode {
		budget := retry.NewBudget(deadline, c.cfg.Retry.ToBackoff())
		addr := fmt.Sprintf("%s:%d", c.cfg.Addresses[0].Host, c.cfg.Addresses[0].Port)
		return c.dispatchStandalone(ctx, budget, addr, verb, args, info.Idempotent)
	}

	budget := retry.NewBudget(deadline, c.cfg.Retry.ToBackoff())
	plan, err := c.router.Route(verb, args, directive, readFrom)
	if err != nil {
		return resp.Value{}, err
	}

	if len(plan.Requests) == 1 {
		sub := c.dispatchCluster(ctx, budget, plan.Requests[0], info, readFrom)
		return sub.Value, sub.Err
	}

	subs := make([]router.SubResponse, len(plan.Requests))
	var wg sync.WaitGroup
	for i, req := range plan.Requests {
		wg.Add(1)
		go func(i int, req router.NodeRequest) {
			defer wg.Done()
			b := retry.NewBudget(deadline, c.cfg.Retry.ToBackoff())
			subs[i] = c.dispatchCluster(ctx, b, req, info, readFrom)
			subs[i].Keys = req.Keys
		}(i, req)
	}
	wg.Wait()

	return router.Aggregate(plan.Aggregation, subs)
}

func (c *Client) dispatchStandalone(ctx context.Context, budget *retry.Budget, addr, verb string, args [][]byte, idempotent bool) (resp.Value, error) {
	for {
		p, err := c.getPool(addr)
		if err != nil {
			return resp.Value{}, err
		}
		cn, err := p.Pick()
		if err != nil {
			if budget.Expired() {
				return resp.Value{}, apierrors.Wrap(apierrors.Timeout, err)
			}
			if werr := retry.Wait(ctx, 50*time.Millisecond); werr != nil {
				return resp.Value{}, apierrors.Wrap(apierrors.Timeout, werr)
			}
			continue
		}

		v, sendErr := cn.Send(ctx, verb, args)
		outcome := retry.ToError(v, sendErr)
		if outcome == nil {
			return v, nil
		}

		d := budget.Classify(outcome, idempotent, false, false)
		switch d.Action {
		case retry.RetryFreshConnection, retry.RetryBackoff:
			if werr := retry.Wait(ctx, d.Delay); werr != nil {
				return resp.Value{}, apierrors.Wrap(apierrors.Timeout, werr)
			}
			continue
		default:
			return resp.Value{}, outcome
		}
	}
}

// dispatchCluster resolves one NodeRequest, following MOVED/ASK redirects
// and backoff-retrying per the retry engine's classification, until it
// resolves, surfaces, or the request's deadline expires.
func (c *Client) dispatchCluster(ctx context.Context, budget *retry.Budget, req router.NodeRequest, info router.CommandInfo, readFrom router.ReadFromPolicy) router.SubResponse {
	addr := req.Node.Addr
	verb := req.Verb
	args := req.Args
	asking := req.Asked

	for {
		p, err := c.getPool(addr)
		if err != nil {
			return router.SubResponse{Err: err}
		}
		cn, err := p.Pick()
		if err != nil {
			if budget.Expired() {
				return router.SubResponse{Err: apierrors.Wrap(apierrors.Timeout, err)}
			}
			if werr := retry.Wait(ctx, 50*time.Millisecond); werr != nil {
				return router.SubResponse{Err: apierrors.Wrap(apierrors.Timeout, werr)}
			}
			continue
		}

		if asking {
			if _, err := cn.Send(ctx, "ASKING", nil); err != nil {
				return router.SubResponse{Err: err}
			}
		}

		v, sendErr := cn.Send(ctx, verb, args)
		outcome := retry.ToError(v, sendErr)
		if outcome == nil {
			return router.SubResponse{Value: v}
		}

		d := budget.Classify(outcome, info.Idempotent, info.ReadOnly, readFrom == router.PreferReplica || readFrom == router.AZAffinity)
		switch d.Action {
		case retry.RetryNode:
			addr = d.Redirect.Addr
			asking = false
			c.topo.RequestRefresh(ctx)
			continue
		case retry.RetrySameNode:
			addr = d.Redirect.Addr
			asking = true
			continue
		case retry.RetryFreshConnection, retry.RetryBackoff:
			if werr := retry.Wait(ctx, d.Delay); werr != nil {
				return router.SubResponse{Err: apierrors.Wrap(apierrors.Timeout, werr)}
			}
			continue
		case retry.RefreshAndRetry:
			if err := c.topo.Refresh(ctx); err != nil {
				return router.SubResponse{Err: err}
			}
			if n, ok := c.topo.Current().NodeForSlot(req.Slot); ok {
				addr = n.Addr
			}
			continue
		case retry.RetryDifferentReplica:
			if n, ok := router.SelectReadNodeExcluding(c.topo.Current(), req.Slot, readFrom, c.router.ClientAZ, c.router.Latency, addr); ok {
				addr = n.Addr
			}
			asking = false
			continue
		default:
			return router.SubResponse{Err: outcome}
		}
	}
}

// Topology returns the cluster's current slot map, or nil outside
// cluster mode.
func (c *Client) Topology() *topology.Snapshot {
	if c.topo == nil {
		return nil
	}
	return c.topo.Current()
}

// RefreshTopology forces an immediate topology discovery round.
func (c *Client) RefreshTopology(ctx context.Context) error {
	if c.topo == nil {
		return apierrors.New(apierrors.ConfigError, "RefreshTopology requires cluster_mode")
	}
	return c.topo.Refresh(ctx)
}

// Scan starts a cluster-aware scan cursor using this Client's pools and
// topology as the execution substrate.
func (c *Client) Scan(opts scan.Options) (*scan.Cursor, error) {
	if !c.clusterMode {
		return nil, apierrors.New(apierrors.ConfigError, "Scan requires cluster_mode")
	}
	return scan.New(c.topo, c.execRaw, opts), nil
}

// PoolStat reports a snapshot of one node's connection pool, for the
// introspection surface.
type PoolStat struct {
	Addr    string
	Size    int
	Healthy int
}

// PoolStats returns one PoolStat per node currently pooled.
func (c *Client) PoolStats() []PoolStat {
	c.poolsMu.Lock()
	defer c.poolsMu.Unlock()

	stats := make([]PoolStat, 0, len(c.pools))
	for addr, p := range c.pools {
		stats = append(stats, PoolStat{Addr: addr, Size: p.Size(), Healthy: p.HealthyCount()})
	}
	return stats
}

// Subscribe opens a dedicated Subscriber against the given node address.
func (c *Client) Subscribe(ctx context.Context, addr string, sub pubsub.Subscription) *pubsub.Subscriber {
	s := pubsub.New(ctx, pubsub.Options{
		Endpoint: addr,
		Base:     c.connOptionsFor(addr),
		Backoff:  c.cfg.Retry.ToBackoff(),
		Sink:     c.sink,
	}, sub)

	c.subsMu.Lock()
	c.subs = append(c.subs, s)
	c.subsMu.Unlock()
	return s
}

func (c *Client) isClosed() bool {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	return c.closed
}

// Close disposes every pool, subscriber, and the topology refresh loop.
// In-flight requests complete with ClientClosed rather than hanging;
// that is enforced by each Pool/Connection's own Close.
func (c *Client) Close() error {
	c.closedMu.Lock()
	if c.closed {
		c.closedMu.Unlock()
		return nil
	}
	c.closed = true
	c.closedMu.Unlock()

	c.subsMu.Lock()
	for _, s := range c.subs {
		s.Close()
	}
	c.subsMu.Unlock()

	if c.topo != nil {
		c.topo.Close()
	}

	c.poolsMu.Lock()
	defer c.poolsMu.Unlock()
	var firstErr error
	for _, p := range c.pools {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
