package router

import (
	"testing"

	"github.com/glidecore/valkeycore/apierrors"
	"github.com/glidecore/valkeycore/internal/resp"
	"github.com/glidecore/valkeycore/internal/topology"
)

func Test_HashSlot_HashTag(t *testing.T) {
	a := HashSlot([]byte("{user1000}.following"))
	b := HashSlot([]byte("{user1000}.followers"))
	if a != b {
		t.Fatalf("hash-tagged keys mapped to different slots: %d vs %d", a, b)
	}

	plain := HashSlot([]byte("foo"))
	if plain < 0 || plain >= 16384 {
		t.Fatalf("HashSlot(foo) = %d, out of range", plain)
	}
}

func Test_HashSlot_EmptyTagFallsBackToWholeKey(t *testing.T) {
	withEmptyTag := HashSlot([]byte("{}foo"))
	whole := int(crc16([]byte("{}foo")) % 16384)
	if withEmptyTag != whole {
		t.Fatalf("empty hash tag should hash the whole key")
	}
}

func Test_Aggregate_CombineArrays_RestoresKeyOrder(t *testing.T) {
	subs := []SubResponse{
		{Value: resp.Array([]resp.Value{resp.Bulk([]byte("a"))}), Keys: []int{2}},
		{Value: resp.Array([]resp.Value{resp.Bulk([]byte("b")), resp.Bulk([]byte("c"))}), Keys: []int{0, 1}},
	}
	v, err := Aggregate(CombineArrays, subs)
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	want := []string{"b", "c", "a"}
	for i, w := range want {
		if string(v.Array[i].Str) != w {
			t.Fatalf("Array[%d] = %q, want %q", i, v.Array[i].Str, w)
		}
	}
}

func Test_Aggregate_OneSucceeded(t *testing.T) {
	subs := []SubResponse{
		{Err: apierrors.New(apierrors.ConnectionClosed, "down")},
		{Value: resp.Bulk([]byte("ok"))},
	}
	v, err := Aggregate(OneSucceeded, subs)
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if string(v.Str) != "ok" {
		t.Fatalf("Aggregate() = %q, want ok", v.Str)
	}
}

func Test_Aggregate_CombineMaps_DuplicateKeyFails(t *testing.T) {
	mk := func(k, v string) resp.Value {
		return resp.Value{Kind: resp.KindMap, Pairs: []resp.KV{{Key: resp.Bulk([]byte(k)), Val: resp.Bulk([]byte(v))}}}
	}
	subs := []SubResponse{{Value: mk("a", "1")}, {Value: mk("a", "2")}}
	if _, err := Aggregate(CombineMaps, subs); err == nil {
		t.Fatalf("Aggregate(CombineMaps) error = nil, want duplicate-key error")
	}
}

func snapshotWithTwoPrimaries() *topology.Snapshot {
	snap := &topology.Snapshot{Nodes: map[string]topology.Node{}, Replicas: map[string][]string{}}
	snap.Nodes["p1"] = topology.Node{ID: "p1", Addr: "10.0.0.1:6379", Role: topology.Primary}
	snap.Nodes["p2"] = topology.Node{ID: "p2", Addr: "10.0.0.2:6379", Role: topology.Primary}
	snap.Nodes["r1"] = topology.Node{ID: "r1", Addr: "10.0.0.3:6379", Role: topology.Replica, PrimaryID: "p1", AZ: "az-1"}
	snap.Replicas["p1"] = []string{"r1"}
	for s := 0; s < 8192; s++ {
		snap.SlotOwner[s] = "p1"
	}
	for s := 8192; s < 16384; s++ {
		snap.SlotOwner[s] = "p2"
	}
	return snap
}

func Test_Router_RouteKeyed_SingleSlot(t *testing.T) {
	snap := snapshotWithTwoPrimaries()
	topo := topology.Static(snap)
	r := New(topo, "")

	plan, err := r.Route("GET", [][]byte{[]byte("foo")}, nil, Primary)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if len(plan.Requests) != 1 {
		t.Fatalf("len(Requests) = %d, want 1", len(plan.Requests))
	}
}

func Test_Router_RouteKeyed_MGET_SplitsBySlot(t *testing.T) {
	snap := snapshotWithTwoPrimaries()
	topo := topology.Static(snap)
	r := New(topo, "")

	var keyInSlotLow, keyInSlotHigh []byte
	for i := 0; ; i++ {
		k := []byte{byte('a' + i)}
		slot := HashSlot(k)
		if slot < 8192 && keyInSlotLow == nil {
			keyInSlotLow = k
		}
		if slot >= 8192 && keyInSlotHigh == nil {
			keyInSlotHigh = k
		}
		if keyInSlotLow != nil && keyInSlotHigh != nil {
			break
		}
		if i > 24 {
			t.Skip("could not find keys in both slot ranges among single letters")
		}
	}

	plan, err := r.Route("MGET", [][]byte{keyInSlotLow, keyInSlotHigh}, nil, Primary)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if len(plan.Requests) != 2 {
		t.Fatalf("len(Requests) = %d, want 2 (one per slot group)", len(plan.Requests))
	}
	if plan.Aggregation != CombineArrays {
		t.Fatalf("Aggregation = %v, want CombineArrays", plan.Aggregation)
	}
}

func Test_Router_RouteKeyed_SingleKeyNeverCrossSlot(t *testing.T) {
	snap := snapshotWithTwoPrimaries()
	topo := topology.Static(snap)
	r := New(topo, "")

	_, err := r.Route("GET", [][]byte{[]byte("no-such-single-key-command")}, nil, Primary)
	if err != nil {
		t.Fatalf("Route() error = %v (single key GET should never cross-slot)", err)
	}
}

func Test_Router_RouteUnkeyed_AllPrimaries(t *testing.T) {
	snap := snapshotWithTwoPrimaries()
	topo := topology.Static(snap)
	r := New(topo, "")

	plan, err := r.Route("DBSIZE", nil, nil, Primary)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if len(plan.Requests) != 2 {
		t.Fatalf("len(Requests) = %d, want 2 primaries", len(plan.Requests))
	}
}

func Test_SelectReadNode_AZAffinity(t *testing.T) {
	snap := snapshotWithTwoPrimaries()
	n, ok := SelectReadNode(snap, 0, AZAffinity, "az-1", nil)
	if !ok || n.ID != "r1" {
		t.Fatalf("SelectReadNode(AZAffinity) = %+v, want r1", n)
	}
}

func snapshotWithTwoReplicasOnP1() *topology.Snapshot {
	snap := snapshotWithTwoPrimaries()
	snap.Nodes["r2"] = topology.Node{ID: "r2", Addr: "10.0.0.4:6379", Role: topology.Replica, PrimaryID: "p1"}
	snap.Replicas["p1"] = []string{"r1", "r2"}
	return snap
}

func Test_SelectReadNodeExcluding_SkipsExcludedReplica(t *testing.T) {
	snap := snapshotWithTwoReplicasOnP1()
	n, ok := SelectReadNodeExcluding(snap, 0, PreferReplica, "", nil, "10.0.0.3:6379")
	if !ok || n.ID != "r2" {
		t.Fatalf("SelectReadNodeExcluding() = %+v, want r2", n)
	}
}

func Test_SelectReadNodeExcluding_FallsBackToPrimaryWhenNoReplicaLeft(t *testing.T) {
	snap := snapshotWithTwoPrimaries()
	n, ok := SelectReadNodeExcluding(snap, 0, PreferReplica, "", nil, "10.0.0.3:6379")
	if !ok || n.ID != "p1" {
		t.Fatalf("SelectReadNodeExcluding() = %+v, want fallback to p1", n)
	}
}
