// Package scan implements the cluster-aware Scan Cursor:
// a resumable SCAN across every primary known at cursor-creation time, with
// CoverageLost (or skip-and-continue, per allow_non_covered_slots) when the
// topology changes mid-scan.
package scan

import (
	"context"
	"sort"

	"github.com/glidecore/valkeycore/apierrors"
	"github.com/glidecore/valkeycore/internal/resp"
	"github.com/glidecore/valkeycore/internal/topology"
)

// Executor issues one command against a specific node address.
type Executor func(ctx context.Context, addr, verb string, args [][]byte) (resp.Value, error)

// Options mirrors the SCAN family's own options, applied identically on
// every primary the cursor visits.
type Options struct {
	Match                string
	Count                int64
	Type                 string
	AllowNonCoveredSlots bool
}

// Cursor walks every primary that existed when it was created, issuing
// SCAN against each in turn and resuming from its own per-node cursor
// until every primary reports cursor 0.
type Cursor struct {
	topo       *topology.Topology
	exec       Executor
	opts       Options
	generation uint64

	nodes      []string // primary NodeIDs, fixed order
	idx        int
	nodeCursor uint64
	done       bool
}

// New creates a Cursor over every primary in the Topology's current
// Snapshot.
func New(topo *topology.Topology, exec Executor, opts Options) *Cursor {
	snap := topo.Current()
	var nodes []string
	for id, n := range snap.Nodes {
		if n.Role == topology.Primary {
			nodes = append(nodes, id)
		}
	}
	sort.Strings(nodes)

	return &Cursor{
		topo:       topo,
		exec:       exec,
		opts:       opts,
		generation: snap.Generation,
		nodes:      nodes,
	}
}

// Done reports whether every primary has been fully scanned.
func (c *Cursor) Done() bool { return c.done || c.idx >= len(c.nodes) }

// Next issues one SCAN step against the current primary, advancing to the
// next primary when its cursor returns to 0, and returns the keys found in
// this step.
func (c *Cursor) Next(ctx context.Context) ([][]byte, error) {
	for {
		if c.Done() {
			c.done = true
			return nil, nil
		}

		nodeID := c.nodes[c.idx]
		snap := c.topo.Current()
		node, stillPresent := snap.Nodes[nodeID]

		if !stillPresent || node.Role != topology.Primary {
			if !c.opts.AllowNonCoveredSlots {
				return nil, apierrors.New(apierrors.CoverageLost, "primary "+nodeID+" left the cluster mid-scan")
			}
			c.advanceNode()
			continue
		}

		args := [][]byte{itoaBytes(int64(c.nodeCursor))}
		if c.opts.Match != "" {
			args = append(args, []byte("MATCH"), []byte(c.opts.Match))
		}
		if c.opts.Count > 0 {
			args = append(args, []byte("COUNT"), itoaBytes(c.opts.Count))
		}
		if c.opts.Type != "" {
			args = append(args, []byte("TYPE"), []byte(c.opts.Type))
		}

		v, err := c.exec(ctx, node.Addr, "SCAN", args)
		if err != nil {
			if !c.opts.AllowNonCoveredSlots {
				return nil, apierrors.Wrap(apierrors.CoverageLost, err)
			}
			c.advanceNode()
			continue
		}

		next, keys := parseScanReply(v)
		c.nodeCursor = next
		if c.nodeCursor == 0 {
			c.advanceNode()
		}
		return keys, nil
	}
}

func (c *Cursor) advanceNode() {
	c.idx++
	c.nodeCursor = 0
}

func parseScanReply(v resp.Value) (uint64, [][]byte) {
	if len(v.Array) != 2 {
		return 0, nil
	}
	cursor := parseUint(v.Array[0].Str)
	keysV := v.Array[1]
	keys := make([][]byte, 0, len(keysV.Array))
	for _, k := range keysV.Array {
		keys = append(keys, k.Str)
	}
	return cursor, keys
}

func parseUint(b []byte) uint64 {
	var n uint64
	for _, ch := range b {
		if ch < '0' || ch > '9' {
			break
		}
		n = n*10 + uint64(ch-'0')
	}
	return n
}

func itoaBytes(n int64) []byte {
	if n == 0 {
		return []byte("0")
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return buf[i:]
}
