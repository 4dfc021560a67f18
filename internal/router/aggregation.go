package router

import (
	"github.com/glidecore/valkeycore/apierrors"
	"github.com/glidecore/valkeycore/internal/resp"
)

// AggregationPolicy combines the sub-responses of a multi-node or
// multi-slot command into the single reply the caller sees.
type AggregationPolicy int

const (
	// OneSucceeded returns the first successful response, failing only if
	// every sub-response failed.
	OneSucceeded AggregationPolicy = iota
	FirstSucceededNonEmptyOrAllEmpty
	AllSucceeded
	CombineArrays
	CombineMaps
	AggregateLogicalAnd
	AggregateMin
	AggregateSum
	// Special marks commands with a bespoke combinator not expressible by
	// the generic policies (e.g. KEYS, CLUSTER INFO). Aggregate has no
	// combinator for it and returns an error for a Special plan.
	Special
)

// SubResponse pairs one sub-command's outcome with the key order it
// covered, needed by KeysOnly/KeysAndLastArg to restore caller order.
type SubResponse struct {
	Value resp.Value
	Err   error
	Keys  []int // original key indices this sub-response covered, if any
}

// Aggregate combines subs per policy.
func Aggregate(policy AggregationPolicy, subs []SubResponse) (resp.Value, error) {
	switch policy {
	case OneSucceeded:
		var lastErr error
		for _, s := range subs {
			if s.Err == nil {
				return s.Value, nil
			}
			lastErr = s.Err
		}
		return resp.Value{}, lastErr

	case FirstSucceededNonEmptyOrAllEmpty:
		var lastErr error
		sawEmpty := false
		for _, s := range subs {
			if s.Err != nil {
				lastErr = s.Err
				continue
			}
			if !s.Value.IsNil() {
				return s.Value, nil
			}
			sawEmpty = true
		}
		if sawEmpty || lastErr == nil {
			return resp.Nil, nil
		}
		return resp.Value{}, lastErr

	case AllSucceeded:
		var last resp.Value
		for _, s := range subs {
			if s.Err != nil {
				return resp.Value{}, s.Err
			}
			last = s.Value
		}
		return last, nil

	case CombineArrays:
		return combineArrays(subs)

	case CombineMaps:
		return combineMaps(subs)

	case AggregateLogicalAnd:
		return aggregateLogicalAnd(subs)

	case AggregateMin:
		return aggregateNumeric(subs, func(a, b int64) int64 {
			if a < b {
				return a
			}
			return b
		})

	case AggregateSum:
		return aggregateNumeric(subs, func(a, b int64) int64 { return a + b })

	default:
		return resp.Value{}, apierrors.New(apierrors.Unspecified, "no generic combinator for this policy")
	}
}

// combineArrays concatenates array sub-responses in call-site order,
// optionally restoring original key order when Keys indices are present.
func combineArrays(subs []SubResponse) (resp.Value, error) {
	total := 0
	for _, s := range subs {
		if s.Err != nil {
			return resp.Value{}, s.Err
		}
		if s.Value.Kind != resp.KindArray && s.Value.Kind != resp.KindSet {
			return resp.Value{}, apierrors.New(apierrors.ResponseError, "CombineArrays: non-array sub-response")
		}
		total += len(s.Value.Array)
	}

	hasKeys := len(subs) > 0 && subs[0].Keys != nil
	if !hasKeys {
		out := make([]resp.Value, 0, total)
		for _, s := range subs {
			out = append(out, s.Value.Array...)
		}
		return resp.Array(out), nil
	}

	out := make([]resp.Value, total)
	for _, s := range subs {
		for i, idx := range s.Keys {
			out[idx] = s.Value.Array[i]
		}
	}
	return resp.Array(out), nil
}

func combineMaps(subs []SubResponse) (resp.Value, error) {
	var pairs []resp.KV
	seen := map[string]bool{}
	for _, s := range subs {
		if s.Err != nil {
			return resp.Value{}, s.Err
		}
		for _, kv := range s.Value.Pairs {
			k := string(kv.Key.Str)
			if seen[k] {
				return resp.Value{}, apierrors.New(apierrors.ResponseError, "CombineMaps: duplicate key "+k)
			}
			seen[k] = true
			pairs = append(pairs, kv)
		}
	}
	return resp.Value{Kind: resp.KindMap, Pairs: pairs}, nil
}

func aggregateLogicalAnd(subs []SubResponse) (resp.Value, error) {
	result := true
	for _, s := range subs {
		if s.Err != nil {
			return resp.Value{}, s.Err
		}
		if s.Value.Int == 0 && !s.Value.Bool {
			result = false
		}
	}
	if result {
		return resp.Integer(1), nil
	}
	return resp.Integer(0), nil
}

func aggregateNumeric(subs []SubResponse, reduce func(a, b int64) int64) (resp.Value, error) {
	if len(subs) == 0 {
		return resp.Integer(0), nil
	}
	acc := subs[0].Value.Int
	if subs[0].Err != nil {
		return resp.Value{}, subs[0].Err
	}
	for _, s := range subs[1:] {
		if s.Err != nil {
			return resp.Value{}, s.Err
		}
		acc = reduce(acc, s.Value.Int)
	}
	return resp.Integer(acc), nil
}
