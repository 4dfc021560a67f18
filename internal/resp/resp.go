// Package resp implements the Valkey/Redis wire protocol: encoding command
// frames and decoding RESP2/RESP3 values from a byte stream, streaming-safe
// It has no knowledge of connections, pools, or routing.
package resp

import "fmt"

// Kind tags the variant held by a Value, matching the tagged-union response
// model
type Kind int

const (
	KindNil Kind = iota
	KindSimpleString
	KindBulkString
	KindInteger
	KindDouble
	KindBoolean
	KindArray
	KindMap
	KindSet
	KindBigNumber
	KindVerbatimString
	KindError
	// KindPush is a RESP3 push frame. The Decoder returns it like any other
	// value; internal/conn hands it to its PushHandler instead of resolving
	// a pending request with it.
	KindPush
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "Nil"
	case KindSimpleString:
		return "SimpleString"
	case KindBulkString:
		return "BulkString"
	case KindInteger:
		return "Integer"
	case KindDouble:
		return "Double"
	case KindBoolean:
		return "Boolean"
	case KindArray:
		return "Array"
	case KindMap:
		return "Map"
	case KindSet:
		return "Set"
	case KindBigNumber:
		return "BigNumber"
	case KindVerbatimString:
		return "VerbatimString"
	case KindError:
		return "Error"
	case KindPush:
		return "Push"
	default:
		return "Unknown"
	}
}

// Value is the decoded form of any RESP2/RESP3 wire value. Only the field
// relevant to Kind is populated; the rest are left at their zero value.
type Value struct {
	Kind Kind

	Str    []byte   // SimpleString, BulkString, BigNumber, Error message
	Int    int64    // Integer
	Dbl    float64  // Double
	Bool   bool     // Boolean
	Format byte     // VerbatimString format tag, e.g. 'txt' first byte
	Array  []Value  // Array, Set, Push
	Pairs  []KV     // Map
	Code   string   // Error: first whitespace-delimited token, e.g. WRONGTYPE
}

// KV is one key/value pair of a Map value.
type KV struct {
	Key, Val Value
}

// IsNil reports whether v is the RESP Nil value.
func (v Value) IsNil() bool { return v.Kind == KindNil }

// AsError returns a non-nil error when v holds an Error value, formatted as
// "CODE message" the way redis-cli and every client in the ecosystem does.
func (v Value) AsError() error {
	if v.Kind != KindError {
		return nil
	}
	if v.Code != "" {
		return fmt.Errorf("%s %s", v.Code, string(v.Str))
	}
	return fmt.Errorf("%s", string(v.Str))
}

// Nil is the shared Nil value.
var Nil = Value{Kind: KindNil}

func Simple(s string) Value       { return Value{Kind: KindSimpleString, Str: []byte(s)} }
func Bulk(b []byte) Value         { return Value{Kind: KindBulkString, Str: b} }
func Integer(i int64) Value       { return Value{Kind: KindInteger, Int: i} }
func Double(f float64) Value      { return Value{Kind: KindDouble, Dbl: f} }
func Boolean(b bool) Value        { return Value{Kind: KindBoolean, Bool: b} }
func Array(vs ...Value) Value     { return Value{Kind: KindArray, Array: vs} }
func Set(vs ...Value) Value       { return Value{Kind: KindSet, Array: vs} }
func ErrorValue(code, msg string) Value {
	return Value{Kind: KindError, Code: code, Str: []byte(msg)}
}
