package router

import (
	"sync"
	"time"

	"github.com/glidecore/valkeycore/internal/topology"
)

// ReadFromPolicy selects which node a read-only command is dispatched to.
type ReadFromPolicy int

const (
	Primary ReadFromPolicy = iota
	PreferReplica
	LowestLatency
	AZAffinity
)

// LatencyTracker keeps a rolling RTT estimate per node, feeding the
// LowestLatency read-from policy. A simple exponential moving average
// avoids retaining unbounded history per node.
type LatencyTracker struct {
	mu    sync.Mutex
	ewma  map[string]time.Duration
	alpha float64
}

func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{ewma: map[string]time.Duration{}, alpha: 0.2}
}

func (l *LatencyTracker) Observe(nodeID string, rtt time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, ok := l.ewma[nodeID]
	if !ok {
		l.ewma[nodeID] = rtt
		return
	}
	l.ewma[nodeID] = time.Duration(l.alpha*float64(rtt) + (1-l.alpha)*float64(prev))
}

func (l *LatencyTracker) estimate(nodeID string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.ewma[nodeID]
	return d, ok
}

// SelectReadNode picks the node a read-only command for slot should be
// dispatched to, under policy. clientAZ is used by AZAffinity; latency may
// be nil. When LowestLatency has no observations it picks the slot's first
// replica, or the primary when the slot has no replica.
func SelectReadNode(snap *topology.Snapshot, slot int, policy ReadFromPolicy, clientAZ string, latency *LatencyTracker) (topology.Node, bool) {
	return selectReadNode(snap, slot, policy, clientAZ, latency, "")
}

// SelectReadNodeExcluding behaves like SelectReadNode but never returns a
// node at excludeAddr. Used when a replica reports LOADING and the retry
// engine wants to steer the retry to a different replica instead of
// waiting on the same one.
func SelectReadNodeExcluding(snap *topology.Snapshot, slot int, policy ReadFromPolicy, clientAZ string, latency *LatencyTracker, excludeAddr string) (topology.Node, bool) {
	return selectReadNode(snap, slot, policy, clientAZ, latency, excludeAddr)
}

func selectReadNode(snap *topology.Snapshot, slot int, policy ReadFromPolicy, clientAZ string, latency *LatencyTracker, excludeAddr string) (topology.Node, bool) {
	primary, hasPrimary := snap.NodeForSlot(slot)
	replicas := snap.ReplicasForSlot(slot)

	if excludeAddr != "" {
		if hasPrimary && primary.Addr == excludeAddr {
			hasPrimary = false
		}
		filtered := make([]topology.Node, 0, len(replicas))
		for _, r := range replicas {
			if r.Addr != excludeAddr {
				filtered = append(filtered, r)
			}
		}
		replicas = filtered
	}

	switch policy {
	case Primary:
		return primary, hasPrimary

	case PreferReplica:
		if len(replicas) > 0 {
			return replicas[0], true
		}
		return primary, hasPrimary

	case LowestLatency:
		if len(replicas) == 0 {
			return primary, hasPrimary
		}
		best := replicas[0]
		bestRTT, haveBest := latencyOf(latency, best.ID)
		for _, r := range replicas[1:] {
			rtt, ok := latencyOf(latency, r.ID)
			if ok && (!haveBest || rtt < bestRTT) {
				best, bestRTT, haveBest = r, rtt, true
			}
		}
		if primaryRTT, ok := latencyOf(latency, primary.ID); ok && haveBest && primaryRTT < bestRTT {
			return primary, hasPrimary
		}
		return best, true

	case AZAffinity:
		for _, r := range replicas {
			if r.AZ == clientAZ && clientAZ != "" {
				return r, true
			}
		}
		if len(replicas) > 0 {
			return replicas[0], true
		}
		return primary, hasPrimary

	default:
		return primary, hasPrimary
	}
}

func latencyOf(l *LatencyTracker, nodeID string) (time.Duration, bool) {
	if l == nil {
		return 0, false
	}
	return l.estimate(nodeID)
}
