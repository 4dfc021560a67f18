package router

import (
	"fmt"
	"math/rand"

	"github.com/glidecore/valkeycore/apierrors"
	"github.com/glidecore/valkeycore/internal/topology"
)

// NodeRequest is one (Node, sub-command) pair the Router produced for a
// Command Request.
type NodeRequest struct {
	Node  topology.Node
	Verb  string
	Args  [][]byte
	Slot  int
	Keys  []int // original arg indices covered, for response reassembly
	Asked bool  // prefix with ASKING; Route leaves it false, and client dispatch sends ASKING first when it is set
}

// Plan is the Router's output: the sub-commands to dispatch and how to
// recombine their responses.
type Plan struct {
	Requests    []NodeRequest
	Aggregation AggregationPolicy
}

// Router turns Command Requests into dispatch Plans against the current
// Topology Snapshot.
type Router struct {
	Topology *topology.Topology
	ClientAZ string
	Latency  *LatencyTracker
}

// New builds a Router bound to a live Topology.
func New(t *topology.Topology, clientAZ string) *Router {
	return &Router{Topology: t, ClientAZ: clientAZ, Latency: NewLatencyTracker()}
}

// Route builds the dispatch Plan for verb/args. directive is only
// consulted for unkeyed commands; readFrom is only consulted for
// read-only commands.
func (r *Router) Route(verb string, args [][]byte, directive *Directive, readFrom ReadFromPolicy) (Plan, error) {
	info := Lookup(verb)
	snap := r.Topology.Current()

	if !info.Keyed {
		return r.routeUnkeyed(info, verb, args, directive, snap)
	}
	return r.routeKeyed(info, verb, args, readFrom, snap)
}

func (r *Router) routeUnkeyed(info CommandInfo, verb string, args [][]byte, directive *Directive, snap *topology.Snapshot) (Plan, error) {
	dir := info.DefaultDirective
	var d Directive
	if directive != nil {
		dir = directive.Dir
		d = *directive
	}

	switch dir {
	case AllNodes:
		var reqs []NodeRequest
		for _, n := range snap.Nodes {
			reqs = append(reqs, NodeRequest{Node: n, Verb: verb, Args: args})
		}
		return Plan{Requests: reqs, Aggregation: info.Aggregation}, nil

	case AllPrimaries:
		var reqs []NodeRequest
		for _, n := range snap.Nodes {
			if n.Role == topology.Primary {
				reqs = append(reqs, NodeRequest{Node: n, Verb: verb, Args: args})
			}
		}
		return Plan{Requests: reqs, Aggregation: info.Aggregation}, nil

	case ByAddress:
		addr := fmt.Sprintf("%s:%d", d.Host, d.Port)
		for _, n := range snap.Nodes {
			if n.Addr == addr {
				return single(n, verb, args), nil
			}
		}
		return Plan{}, apierrors.New(apierrors.Unspecified, "ByAddress: no node at "+addr)

	case SpecificSlot:
		n, ok := nodeForSlotRole(snap, d.SlotID, d.Role)
		if !ok {
			return Plan{}, apierrors.New(apierrors.Unspecified, "SpecificSlot: slot has no owner")
		}
		return single(n, verb, args), nil

	case SpecificKeyedSlot:
		slot := HashSlot(d.Key)
		n, ok := snap.NodeForSlot(slot)
		if !ok {
			return Plan{}, apierrors.New(apierrors.ClusterDown, "SpecificKeyedSlot: slot has no owner")
		}
		return single(n, verb, args), nil

	case RandomPrimary:
		n, ok := randomPrimary(snap)
		if !ok {
			return Plan{}, apierrors.New(apierrors.ClusterDown, "no primary nodes known")
		}
		return single(n, verb, args), nil

	case Random:
		n, ok := randomAny(snap)
		if !ok {
			return Plan{}, apierrors.New(apierrors.ClusterDown, "no nodes known")
		}
		return single(n, verb, args), nil

	default:
		n, ok := randomPrimary(snap)
		if !ok {
			return Plan{}, apierrors.New(apierrors.ClusterDown, "no primary nodes known")
		}
		return single(n, verb, args), nil
	}
}

func (r *Router) routeKeyed(info CommandInfo, verb string, args [][]byte, readFrom ReadFromPolicy, snap *topology.Snapshot) (Plan, error) {
	switch info.MultiSlot {
	case KeysOnly:
		return r.splitKeysOnly(info, verb, args, readFrom, snap, 1)
	case KeyValuePairs:
		return r.splitGrouped(info, verb, args, snap, 2, nil)
	case KeysAndLastArg:
		trailing := args[len(args)-1]
		return r.splitKeysOnly(info, verb, args[:len(args)-1], readFrom, snap, 1, trailing)
	case KeyWithTwoArgTriples:
		return r.splitGrouped(info, verb, args, snap, 3, nil)
	default:
		return r.routeSingleSlot(info, verb, args, readFrom, snap)
	}
}

// routeSingleSlot verifies every key argument maps to the same slot and
// dispatches once; mismatched slots fail with CrossSlot.
func (r *Router) routeSingleSlot(info CommandInfo, verb string, args [][]byte, readFrom ReadFromPolicy, snap *topology.Snapshot) (Plan, error) {
	keyIdxs := keyIndices(info, len(args))
	if len(keyIdxs) == 0 {
		n, ok := randomPrimary(snap)
		if !ok {
			return Plan{}, apierrors.New(apierrors.ClusterDown, "no primary nodes known")
		}
		return single(n, verb, args), nil
	}

	slot := HashSlot(args[keyIdxs[0]])
	for _, idx := range keyIdxs[1:] {
		if HashSlot(args[idx]) != slot {
			return Plan{}, apierrors.New(apierrors.CrossSlot, "keys span multiple slots")
		}
	}

	n, ok := r.nodeForCommand(snap, slot, info, readFrom)
	if !ok {
		return Plan{}, apierrors.New(apierrors.ClusterDown, "slot has no owner")
	}
	req := single(n, verb, args)
	req.Requests[0].Slot = slot
	return req, nil
}

// splitKeysOnly groups key arguments by slot, one sub-command per group,
// each optionally suffixed with a shared trailing argument
// (KeysAndLastArg).
func (r *Router) splitKeysOnly(info CommandInfo, verb string, keyArgs [][]byte, readFrom ReadFromPolicy, snap *topology.Snapshot, step int, trailing ...[]byte) (Plan, error) {
	groups := map[int][]int{} // slot -> arg indices (into keyArgs)
	order := []int{}
	for i := range keyArgs {
		slot := HashSlot(keyArgs[i])
		if _, ok := groups[slot]; !ok {
			order = append(order, slot)
		}
		groups[slot] = append(groups[slot], i)
	}

	var reqs []NodeRequest
	for _, slot := range order {
		idxs := groups[slot]
		n, ok := r.nodeForCommand(snap, slot, info, readFrom)
		if !ok {
			return Plan{}, apierrors.New(apierrors.ClusterDown, "slot has no owner")
		}
		subArgs := make([][]byte, 0, len(idxs)+len(trailing))
		for _, idx := range idxs {
			subArgs = append(subArgs, keyArgs[idx])
		}
		subArgs = append(subArgs, trailing...)
		reqs = append(reqs, NodeRequest{Node: n, Verb: verb, Args: subArgs, Slot: slot, Keys: idxs})
	}

	return Plan{Requests: reqs, Aggregation: info.Aggregation}, nil
}

// splitGrouped groups fixed-size argument tuples (pairs, triples, ...) by
// the slot of their first element (KeyValuePairs / KeyWithTwoArgTriples).
func (r *Router) splitGrouped(info CommandInfo, verb string, args [][]byte, snap *topology.Snapshot, tupleSize int, _ []int) (Plan, error) {
	groups := map[int][][]byte{}
	order := []int{}
	for i := 0; i+tupleSize-1 < len(args); i += tupleSize {
		tuple := args[i : i+tupleSize]
		slot := HashSlot(tuple[0])
		if _, ok := groups[slot]; !ok {
			order = append(order, slot)
		}
		groups[slot] = append(groups[slot], tuple...)
	}

	var reqs []NodeRequest
	for _, slot := range order {
		n, ok := snap.NodeForSlot(slot)
		if !ok {
			return Plan{}, apierrors.New(apierrors.ClusterDown, "slot has no owner")
		}
		reqs = append(reqs, NodeRequest{Node: n, Verb: verb, Args: groups[slot], Slot: slot})
	}

	return Plan{Requests: reqs, Aggregation: info.Aggregation}, nil
}

func (r *Router) nodeForCommand(snap *topology.Snapshot, slot int, info CommandInfo, readFrom ReadFromPolicy) (topology.Node, bool) {
	if info.ReadOnly {
		return SelectReadNode(snap, slot, readFrom, r.ClientAZ, r.Latency)
	}
	return snap.NodeForSlot(slot)
}

// keyIndices resolves a command's FirstKey/LastKey/KeyStep against the
// actual argument count, treating LastKey < 0 as "N from the end".
func keyIndices(info CommandInfo, argc int) []int {
	last := info.LastKey
	if last < 0 {
		last = argc + last
	}
	var idxs []int
	for i := info.FirstKey; i <= last && i < argc; i += info.KeyStep {
		if info.KeyStep == 0 {
			break
		}
		idxs = append(idxs, i)
	}
	return idxs
}

func single(n topology.Node, verb string, args [][]byte) Plan {
	return Plan{Requests: []NodeRequest{{Node: n, Verb: verb, Args: args}}, Aggregation: OneSucceeded}
}

func nodeForSlotRole(snap *topology.Snapshot, slot int, role SlotRole) (topology.Node, bool) {
	if role == RoleMaster {
		return snap.NodeForSlot(slot)
	}
	reps := snap.ReplicasForSlot(slot)
	if len(reps) == 0 {
		return topology.Node{}, false
	}
	return reps[0], true
}

func randomPrimary(snap *topology.Snapshot) (topology.Node, bool) {
	var primaries []topology.Node
	for _, n := range snap.Nodes {
		if n.Role == topology.Primary {
			primaries = append(primaries, n)
		}
	}
	if len(primaries) == 0 {
		return topology.Node{}, false
	}
	return primaries[rand.Intn(len(primaries))], true
}

func randomAny(snap *topology.Snapshot) (topology.Node, bool) {
	var all []topology.Node
	for _, n := range snap.Nodes {
		all = append(all, n)
	}
	if len(all) == 0 {
		return topology.Node{}, false
	}
	return all[rand.Intn(len(all))], true
}
