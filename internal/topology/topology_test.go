package topology

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glidecore/valkeycore/internal/resp"
)

func shardsReply() resp.Value {
	node := func(id, ip string, port int64, role string) resp.Value {
		return resp.Array([]resp.Value{
			resp.Bulk([]byte("id")), resp.Bulk([]byte(id)),
			resp.Bulk([]byte("port")), resp.Integer(port),
			resp.Bulk([]byte("ip")), resp.Bulk([]byte(ip)),
			resp.Bulk([]byte("role")), resp.Bulk([]byte(role)),
		})
	}
	shard := resp.Array([]resp.Value{
		resp.Bulk([]byte("slots")), resp.Array([]resp.Value{resp.Integer(0), resp.Integer(16383)}),
		resp.Bulk([]byte("nodes")), resp.Array([]resp.Value{
			node("node-a", "10.0.0.1", 6379, "master"),
			node("node-b", "10.0.0.2", 6379, "replica"),
		}),
	})
	return resp.Array([]resp.Value{shard})
}

func Test_ParseClusterShards(t *testing.T) {
	snap, err := parseClusterShards(shardsReply())
	if err != nil {
		t.Fatalf("parseClusterShards() error = %v", err)
	}

	if got := snap.SlotOwner[0]; got != "node-a" {
		t.Fatalf("SlotOwner[0] = %q, want node-a", got)
	}
	if got := snap.SlotOwner[16383]; got != "node-a" {
		t.Fatalf("SlotOwner[16383] = %q, want node-a", got)
	}
	if n, ok := snap.NodeForSlot(100); !ok || n.Addr != "10.0.0.1:6379" {
		t.Fatalf("NodeForSlot(100) = %+v, %v", n, ok)
	}
	reps := snap.ReplicasForSlot(100)
	if len(reps) != 1 || reps[0].ID != "node-b" {
		t.Fatalf("ReplicasForSlot(100) = %+v", reps)
	}
}

func slotsReply() resp.Value {
	entry := func(start, end int64, ip string, port int64, id string) resp.Value {
		return resp.Array([]resp.Value{
			resp.Integer(start), resp.Integer(end),
			resp.Array([]resp.Value{resp.Bulk([]byte(ip)), resp.Integer(port), resp.Bulk([]byte(id))}),
		})
	}
	return resp.Array([]resp.Value{entry(0, 16383, "10.0.0.9", 6380, "node-z")})
}

func Test_ParseClusterSlots(t *testing.T) {
	snap, err := parseClusterSlots(slotsReply())
	if err != nil {
		t.Fatalf("parseClusterSlots() error = %v", err)
	}
	if n, ok := snap.NodeForSlot(1); !ok || n.ID != "node-z" {
		t.Fatalf("NodeForSlot(1) = %+v, %v", n, ok)
	}
}

// Test_Topology_RefreshCoalesces fires many concurrent RequestRefresh calls
// and asserts the executor runs far fewer times than calls made, confirming
// they collapse into a small number of refreshes rather than one-per-call.
func Test_Topology_RefreshCoalesces(t *testing.T) {
	var calls int64

	exec := func(ctx context.Context, seed, verb string, args [][]byte) (resp.Value, error) {
		atomic.AddInt64(&calls, 1)
		if verb == "CLUSTER" && len(args) == 1 && string(args[0]) == "SHARDS" {
			return shardsReply(), nil
		}
		return resp.Value{}, nil
	}

	topo, err := New(context.Background(), Options{
		SeedAddrs:      []string{"seed:6379"},
		Executor:       exec,
		RefreshPeriod:  time.Hour,
		CoalesceWindow: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer topo.Close()

	bootstrapCalls := atomic.LoadInt64(&calls)

	for i := 0; i < 20; i++ {
		topo.RequestRefresh(context.Background())
	}
	time.Sleep(100 * time.Millisecond)

	total := atomic.LoadInt64(&calls)
	if total-bootstrapCalls > 3 {
		t.Fatalf("executor called %d times after coalescing, want <= 3", total-bootstrapCalls)
	}

	if snap := topo.Current(); snap.Generation == 0 {
		t.Fatalf("Current().Generation = 0, want > 0 after bootstrap refresh")
	}
}
