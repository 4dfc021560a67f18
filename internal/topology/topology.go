// Package topology implements the Topology component: a
// copy-on-write cluster Slot Map, discovered via CLUSTER SHARDS (preferred)
// or CLUSTER SLOTS (fallback), with coalesced refreshes so concurrent
// callers never trigger more than one refresh at a time.
//
// The node map is keyed by id, with slot ownership and replica lists
// expressed as id lookups rather than pointers, avoiding ownership
// cycles between a primary and its replicas.
package topology

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glidecore/valkeycore/apierrors"
	"github.com/glidecore/valkeycore/events"
	"github.com/glidecore/valkeycore/internal/resp"
)

const NumSlots = 16384

// Role is a Node's cluster role.
type Role int

const (
	Primary Role = iota
	Replica
)

func (r Role) String() string {
	if r == Replica {
		return "replica"
	}
	return "primary"
}

// Node is one cluster member.
type Node struct {
	ID        string
	Addr      string // host:port
	Role      Role
	PrimaryID string // set when Role == Replica
	AZ        string
}

// Snapshot is an immutable view of the cluster layout: a slot owner table
// plus the node records it references. Generation increases monotonically
// on every successful refresh.
type Snapshot struct {
	Generation uint64
	SlotOwner  [NumSlots]string // slot -> primary NodeID
	Replicas   map[string][]string
	Nodes      map[string]Node
}

// NodeForSlot returns the primary Node owning slot, or false if the slot
// is unassigned in this snapshot.
func (s *Snapshot) NodeForSlot(slot int) (Node, bool) {
	id := s.SlotOwner[slot]
	if id == "" {
		return Node{}, false
	}
	n, ok := s.Nodes[id]
	return n, ok
}

// ReplicasForSlot returns the replica Nodes for the primary owning slot.
func (s *Snapshot) ReplicasForSlot(slot int) []Node {
	id := s.SlotOwner[slot]
	out := make([]Node, 0, len(s.Replicas[id]))
	for _, rid := range s.Replicas[id] {
		if n, ok := s.Nodes[rid]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Executor runs a command against a seed address during discovery/refresh.
// The client facade supplies this, backed by its connection pools, keeping
// topology itself free of pool-lifecycle concerns.
type Executor func(ctx context.Context, seedAddr, verb string, args [][]byte) (resp.Value, error)

// Options configures a Topology.
type Options struct {
	SeedAddrs      []string
	Executor       Executor
	RefreshPeriod  time.Duration
	CoalesceWindow time.Duration
	Sink           events.Sink
}

// Topology owns the current Snapshot and the refresh machinery.
type Topology struct {
	opts Options
	emit events.Emitter

	snap atomic.Pointer[Snapshot]

	refreshMu   sync.Mutex
	refreshing  bool
	waiters     []chan struct{}
	useShards   int32 // 1 = CLUSTER SHARDS confirmed working, -1 = use SLOTS
	pendingMu   sync.Mutex
	pendingMove bool
	stop        chan struct{}
}

// New bootstraps discovery against the seed addresses and starts the
// periodic refresh loop., bootstrap is a refresh trigger
// in its own right.
func New(ctx context.Context, opts Options) (*Topology, error) {
	if opts.RefreshPeriod == 0 {
		opts.RefreshPeriod = 60 * time.Second
	}
	if opts.CoalesceWindow == 0 {
		opts.CoalesceWindow = 200 * time.Millisecond
	}

	t := &Topology{
		opts: opts,
		emit: events.Emitter{Sink: opts.Sink, Prefix: "topology"},
		stop: make(chan struct{}),
	}
	t.snap.Store(&Snapshot{Nodes: map[string]Node{}, Replicas: map[string][]string{}})

	if err := t.refreshNow(ctx); err != nil {
		return nil, err
	}

	go t.periodicRefresh()

	return t, nil
}

// Current returns the currently published Snapshot. Readers never block.
func (t *Topology) Current() *Snapshot {
	return t.snap.Load()
}

// RequestRefresh schedules a refresh, coalescing it with any other refresh
// requested within CoalesceWindow so a burst of MOVED redirects triggers
// a single refresh instead of one per redirect.
func (t *Topology) RequestRefresh(ctx context.Context) {
	t.pendingMu.Lock()
	if t.pendingMove {
		t.pendingMu.Unlock()
		return
	}
	t.pendingMove = true
	t.pendingMu.Unlock()

	go func() {
		time.Sleep(t.opts.CoalesceWindow)
		t.pendingMu.Lock()
		t.pendingMove = false
		t.pendingMu.Unlock()

		refreshCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.refreshNow(refreshCtx)
		_ = ctx // ctx is only used to tie the caller's span; refresh itself is detached.
	}()
}

// Refresh runs an immediate, synchronous refresh, for callers that want
// to force topology discovery (e.g. an operator command).
func (t *Topology) Refresh(ctx context.Context) error {
	return t.refreshNow(ctx)
}

func (t *Topology) periodicRefresh() {
	ticker := time.NewTicker(t.opts.RefreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = t.refreshNow(ctx)
			cancel()
		case <-t.stop:
			return
		}
	}
}

// refreshNow performs exactly one refresh if none is already in flight;
// otherwise it waits for the in-flight refresh to finish rather than
// starting a second one.
func (t *Topology) refreshNow(ctx context.Context) error {
	t.refreshMu.Lock()
	if t.refreshing {
		wait := make(chan struct{})
		t.waiters = append(t.waiters, wait)
		t.refreshMu.Unlock()
		select {
		case <-wait:
			return nil
		case <-ctx.Done():
			return apierrors.Wrap(apierrors.Timeout, ctx.Err())
		}
	}
	t.refreshing = true
	t.refreshMu.Unlock()

	err := t.doRefresh(ctx)

	t.refreshMu.Lock()
	t.refreshing = false
	waiters := t.waiters
	t.waiters = nil
	t.refreshMu.Unlock()

	for _, w := range waiters {
		close(w)
	}

	return err
}

func (t *Topology) doRefresh(ctx context.Context) error {
	var lastErr error

	for _, seed := range t.opts.SeedAddrs {
		snap, err := t.discoverFrom(ctx, seed)
		if err != nil {
			lastErr = err
			continue
		}
		snap.Generation = t.snap.Load().Generation + 1
		t.snap.Store(snap)
		t.emit.Info("refreshed", map[string]interface{}{"generation": snap.Generation, "seed": seed})
		return nil
	}

	if lastErr == nil {
		lastErr = apierrors.New(apierrors.ClusterDown, "no reachable seed node")
	}
	t.emit.Err("refresh_failed", lastErr)
	return apierrors.Wrap(apierrors.ClusterDown, lastErr)
}

func (t *Topology) discoverFrom(ctx context.Context, seed string) (*Snapshot, error) {
	if atomic.LoadInt32(&t.useShards) >= 0 {
		v, err := t.opts.Executor(ctx, seed, "CLUSTER", [][]byte{[]byte("SHARDS")})
		if err == nil {
			snap, perr := parseClusterShards(v)
			if perr == nil {
				atomic.StoreInt32(&t.useShards, 1)
				return snap, nil
			}
		}
		atomic.StoreInt32(&t.useShards, -1)
	}

	v, err := t.opts.Executor(ctx, seed, "CLUSTER", [][]byte{[]byte("SLOTS")})
	if err != nil {
		return nil, err
	}
	return parseClusterSlots(v)
}

// Static builds a Topology around a fixed Snapshot with no background
// refresh loop, for single-node (non-cluster) deployments and tests where
// discovery is unnecessary.
func Static(snap *Snapshot) *Topology {
	t := &Topology{stop: make(chan struct{})}
	t.snap.Store(snap)
	close(t.stop)
	return t
}

// Close stops the periodic refresh loop.
func (t *Topology) Close() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
}

func addr(host []byte, port int64) string {
	return fmt.Sprintf("%s:%d", string(host), port)
}
