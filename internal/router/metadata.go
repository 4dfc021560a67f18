package router

import "strings"

// MultiSlotPattern is the closed enumeration of ways a multi-key command's
// arguments can be split across slots.
type MultiSlotPattern int

const (
	// NotMultiSlot means the command's keys must all share one slot; a
	// mismatch fails with CrossSlot rather than splitting.
	NotMultiSlot MultiSlotPattern = iota
	KeysOnly
	KeyValuePairs
	KeysAndLastArg
	KeyWithTwoArgTriples
)

// CommandInfo is one row of the command routing table: a data table, not
// per-command code
type CommandInfo struct {
	Name string

	Keyed    bool
	FirstKey int // 0-based index into the args following the verb
	LastKey  int // -1 means "through the last argument"
	KeyStep  int

	MultiSlot   MultiSlotPattern
	Aggregation AggregationPolicy

	DefaultDirective DirectiveKind

	Idempotent bool
	ReadOnly   bool
	Blocking   bool
}

// commandTable is intentionally not exhaustive; it covers the command
// families exercised by the rest of the runtime and documents the shape
// any addition must follow.
var commandTable = map[string]CommandInfo{
	"GET":     {Keyed: true, FirstKey: 0, LastKey: 0, KeyStep: 1, Idempotent: true, ReadOnly: true},
	"SET":     {Keyed: true, FirstKey: 0, LastKey: 0, KeyStep: 1, Idempotent: true},
	"APPEND":  {Keyed: true, FirstKey: 0, LastKey: 0, KeyStep: 1},
	"STRLEN":  {Keyed: true, FirstKey: 0, LastKey: 0, KeyStep: 1, Idempotent: true, ReadOnly: true},
	"INCR":    {Keyed: true, FirstKey: 0, LastKey: 0, KeyStep: 1},
	"DECR":    {Keyed: true, FirstKey: 0, LastKey: 0, KeyStep: 1},
	"EXPIRE":  {Keyed: true, FirstKey: 0, LastKey: 0, KeyStep: 1},
	"TTL":     {Keyed: true, FirstKey: 0, LastKey: 0, KeyStep: 1, Idempotent: true, ReadOnly: true},
	"HGET":    {Keyed: true, FirstKey: 0, LastKey: 0, KeyStep: 1, Idempotent: true, ReadOnly: true},
	"HSET":    {Keyed: true, FirstKey: 0, LastKey: 0, KeyStep: 1},
	"LPUSH":   {Keyed: true, FirstKey: 0, LastKey: 0, KeyStep: 1},
	"RPUSH":   {Keyed: true, FirstKey: 0, LastKey: 0, KeyStep: 1},
	"LPOP":    {Keyed: true, FirstKey: 0, LastKey: 0, KeyStep: 1},
	"RPOP":    {Keyed: true, FirstKey: 0, LastKey: 0, KeyStep: 1},
	"BLPOP":   {Keyed: true, FirstKey: 0, LastKey: -2, KeyStep: 1, Blocking: true},
	"BRPOP":   {Keyed: true, FirstKey: 0, LastKey: -2, KeyStep: 1, Blocking: true},

	"DEL":    {Keyed: true, FirstKey: 0, LastKey: -1, KeyStep: 1, MultiSlot: KeysOnly, Aggregation: AggregateSum},
	"EXISTS": {Keyed: true, FirstKey: 0, LastKey: -1, KeyStep: 1, MultiSlot: KeysOnly, Aggregation: AggregateSum, Idempotent: true, ReadOnly: true},
	"MGET":   {Keyed: true, FirstKey: 0, LastKey: -1, KeyStep: 1, MultiSlot: KeysOnly, Aggregation: CombineArrays, Idempotent: true, ReadOnly: true},
	"MSET":   {Keyed: true, FirstKey: 0, LastKey: -1, KeyStep: 2, MultiSlot: KeyValuePairs, Aggregation: AllSucceeded},

	"JSON.MGET": {Keyed: true, FirstKey: 0, LastKey: -2, KeyStep: 1, MultiSlot: KeysAndLastArg, Aggregation: CombineArrays, Idempotent: true, ReadOnly: true},
	"JSON.MSET": {Keyed: true, FirstKey: 0, LastKey: -1, KeyStep: 3, MultiSlot: KeyWithTwoArgTriples, Aggregation: AllSucceeded},

	"PING":         {Keyed: false, DefaultDirective: RandomPrimary, Idempotent: true, ReadOnly: true},
	"SUBSCRIBE":    {Keyed: false, DefaultDirective: RandomPrimary, Blocking: true},
	"PUBLISH":      {Keyed: false, DefaultDirective: RandomPrimary},
	"CLUSTER":      {Keyed: false, DefaultDirective: RandomPrimary, Idempotent: true, ReadOnly: true},
	"CLIENT":       {Keyed: false, DefaultDirective: RandomPrimary},
	"INFO":         {Keyed: false, DefaultDirective: AllPrimaries, Aggregation: Special, Idempotent: true, ReadOnly: true},
	"DBSIZE":       {Keyed: false, DefaultDirective: AllPrimaries, Aggregation: AggregateSum, Idempotent: true, ReadOnly: true},
	"FLUSHALL":     {Keyed: false, DefaultDirective: AllPrimaries, Aggregation: AllSucceeded},
	"KEYS":         {Keyed: false, DefaultDirective: AllPrimaries, Aggregation: Special, Idempotent: true, ReadOnly: true},
	"SCAN":         {Keyed: false, DefaultDirective: RandomPrimary, Idempotent: true, ReadOnly: true},
}

// Lookup finds a command's metadata by verb, case-insensitively. Unknown
// commands default to single-key, non-idempotent routing: conservative
// enough to avoid silently misrouting, at the cost of requiring real
// commands to be tabulated explicitly.
func Lookup(verb string) CommandInfo {
	if info, ok := commandTable[strings.ToUpper(verb)]; ok {
		return info
	}
	return CommandInfo{Name: verb, Keyed: true, FirstKey: 0, LastKey: 0, KeyStep: 1}
}
