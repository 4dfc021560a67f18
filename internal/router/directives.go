// Package router implements the Router component:
// translating a command request into one or more (Node, sub-command)
// pairs, computing slots, splitting multi-key commands, and describing
// how their responses recombine.
package router

// DirectiveKind distinguishes the routing directives a caller may attach
// to an unkeyed command, which otherwise carries no key to derive a
// slot from.
type DirectiveKind int

const (
	// DirectiveNone means the command is keyed; the Router computes
	// routing from its keys instead of a caller-supplied directive.
	DirectiveNone DirectiveKind = iota
	Random
	RandomPrimary
	ByAddress
	SpecificSlot
	SpecificKeyedSlot
	AllNodes
	AllPrimaries
)

// SlotRole selects which role SpecificSlot targets.
type SlotRole int

const (
	RoleMaster SlotRole = iota
	RoleReplica
)

// Directive is the routing instruction a caller attaches to an unkeyed
// command request.
type Directive struct {
	Dir DirectiveKind

	Host string // ByAddress
	Port int    // ByAddress

	SlotID int      // SpecificSlot
	Role   SlotRole // SpecificSlot

	Key []byte // SpecificKeyedSlot
}
