// Package heap implements the tagged value representation and the
// precise mark/sweep garbage collector that the rest of the runtime
// is built on (spec §3, §4.1). It is the lowest layer of the
// dependency graph: persistent collections, namespaces, multimethods,
// the compiler and the VM all allocate through it and are all rooted
// by it.
//
// A Value is a tagged machine word, exactly as in the reference
// implementation (original_source/core/cleo/value.hpp), except that
// the "pointer" payload of a heap-backed tag is a handle — an index
// into a process-wide arena — rather than a raw address. The spec's
// rooting contract (§4.1) explicitly allows this: "an implementation
// may achieve this via stack scanning, shadow stacks, or handles".
package heap

// Value is a tagged machine word. The low nibble is the Tag; the
// remaining 60 bits carry either a handle into the heap arena or an
// inline Int48Tag payload; Int64 and Float64 values are always boxed
// behind a handle.
type Value uint64

// Tag identifies the kind of value carried by the low bits of a Value.
type Tag uint64

// Tag values. Nil must be the all-zero bit pattern (spec §3a): an
// uninitialized Value, a zeroed struct field, and the result of
// `var v Value` are all indistinguishable from Nil, exactly as the
// spec requires.
const (
	NilTag Tag = iota
	NativeFnTag
	SymbolTag
	KeywordTag
	Int64Tag
	Float64Tag
	StringTag
	ObjectTag
	// Int48Tag is the supplemental inline short-integer tag of spec
	// §3c, used by the byte-array entry accessor to avoid boxing
	// every byte read back out of a ByteArray.
	Int48Tag
)

const (
	tagBits = 4
	tagMask = Value(1)<<tagBits - 1
)

// Nil is the canonical nil value: the all-zero Value.
const Nil Value = 0

// IsNil reports whether v is the nil value.
func (v Value) IsNil() bool { return v == Nil }

// Tag returns the tag carried by v's low bits.
func (v Value) Tag() Tag { return Tag(v & tagMask) }

// handle returns the arena index encoded in a heap-backed Value. It
// is meaningless for Nil, Int64Tag/Float64Tag inline forms are not
// used (those are always boxed, matching the reference
// implementation) and Int48Tag (which is never a handle).
func (v Value) handle() handle { return handle(v>>tagBits) - 1 }

func withHandle(h handle, t Tag) Value {
	return Value(h+1)<<tagBits | Value(t)
}

// Is reports pointer/bit identity, the cheapest and most common
// equality check (spec §3: "Types are value-equal iff pointer-equal").
func (v Value) Is(other Value) bool { return v == other }

// Int48 packs a signed integer known to fit in 48 bits directly into
// the Value word, with no heap allocation. Per spec §3c this is used
// by the byte-array entry accessor.
func Int48(n int64) Value {
	return Value(uint64(n)&0xFFFFFFFFFFFF)<<tagBits | Value(Int48Tag)
}

// AsInt48 unpacks a Value created by Int48, sign-extending the 48-bit
// payload back to a full int64.
func (v Value) AsInt48() int64 {
	raw := int64(v >> tagBits << 16)
	return raw >> 16
}
