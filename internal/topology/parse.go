package topology

import (
	"github.com/glidecore/valkeycore/apierrors"
	"github.com/glidecore/valkeycore/internal/resp"
)

// flatten turns a RESP map, or a RESP array holding alternating key/value
// pairs (as CLUSTER SHARDS returns over RESP2), into a Go map for lookup.
func flatten(v resp.Value) map[string]resp.Value {
	out := map[string]resp.Value{}
	if v.Kind == resp.KindMap {
		for _, kv := range v.Pairs {
			out[string(kv.Key.Str)] = kv.Val
		}
		return out
	}
	for i := 0; i+1 < len(v.Array); i += 2 {
		out[string(v.Array[i].Str)] = v.Array[i+1]
	}
	return out
}

// parseClusterShards builds a Snapshot from a CLUSTER SHARDS reply.
func parseClusterShards(v resp.Value) (*Snapshot, error) {
	if v.Kind != resp.KindArray && v.Kind != resp.KindSet {
		return nil, apierrors.New(apierrors.ProtocolError, "CLUSTER SHARDS: expected array reply")
	}

	snap := &Snapshot{Nodes: map[string]Node{}, Replicas: map[string][]string{}}

	for _, shard := range v.Array {
		fields := flatten(shard)

		slotsV, ok := fields["slots"]
		if !ok {
			continue
		}

		var primaryID string
		var replicaIDs []string

		nodesV := fields["nodes"]
		for _, nodeV := range nodesV.Array {
			nf := flatten(nodeV)
			id := string(nf["id"].Str)
			role := string(nf["role"].Str)
			ip := string(nf["ip"].Str)
			port := nf["port"].Int
			az := string(nf["az"].Str)

			n := Node{ID: id, Addr: addr([]byte(ip), port), AZ: az}
			if role == "master" || role == "primary" {
				n.Role = Primary
				primaryID = id
			} else {
				n.Role = Replica
				replicaIDs = append(replicaIDs, id)
			}
			snap.Nodes[id] = n
		}

		for _, rid := range replicaIDs {
			snap.Nodes[rid] = withPrimary(snap.Nodes[rid], primaryID)
		}
		if primaryID != "" {
			snap.Replicas[primaryID] = replicaIDs
		}

		for i := 0; i+1 < len(slotsV.Array); i += 2 {
			start := int(slotsV.Array[i].Int)
			end := int(slotsV.Array[i+1].Int)
			for s := start; s <= end && s < NumSlots; s++ {
				snap.SlotOwner[s] = primaryID
			}
		}
	}

	return snap, nil
}

// parseClusterSlots builds a Snapshot from the legacy CLUSTER SLOTS reply:
// an array of [start, end, [ip, port, id], [ip, port, id]...] entries.
func parseClusterSlots(v resp.Value) (*Snapshot, error) {
	if v.Kind != resp.KindArray && v.Kind != resp.KindSet {
		return nil, apierrors.New(apierrors.ProtocolError, "CLUSTER SLOTS: expected array reply")
	}

	snap := &Snapshot{Nodes: map[string]Node{}, Replicas: map[string][]string{}}

	for _, entry := range v.Array {
		if len(entry.Array) < 3 {
			continue
		}
		start := int(entry.Array[0].Int)
		end := int(entry.Array[1].Int)

		primary := slotsNode(entry.Array[2])
		primaryID := primary.ID
		if primaryID == "" {
			primaryID = primary.Addr
		}
		primary.ID = primaryID
		primary.Role = Primary
		snap.Nodes[primaryID] = primary

		var replicaIDs []string
		for i := 3; i < len(entry.Array); i++ {
			r := slotsNode(entry.Array[i])
			rid := r.ID
			if rid == "" {
				rid = r.Addr
			}
			r.ID = rid
			r.Role = Replica
			r.PrimaryID = primaryID
			snap.Nodes[rid] = r
			replicaIDs = append(replicaIDs, rid)
		}
		snap.Replicas[primaryID] = replicaIDs

		for s := start; s <= end && s < NumSlots; s++ {
			snap.SlotOwner[s] = primaryID
		}
	}

	return snap, nil
}

func slotsNode(v resp.Value) Node {
	n := Node{}
	if len(v.Array) >= 2 {
		n.Addr = addr(v.Array[0].Str, v.Array[1].Int)
	}
	if len(v.Array) >= 3 {
		n.ID = string(v.Array[2].Str)
	}
	return n
}

func withPrimary(n Node, primaryID string) Node {
	n.PrimaryID = primaryID
	return n
}
