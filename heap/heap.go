package heap

import "fmt"

// handle is an index into the arena. It is never observed directly
// outside this package; callers only ever see the Value that wraps it.
type handle uint64

// layout distinguishes the two heap object shapes of spec §3.
type layout byte

const (
	staticLayout layout = iota
	dynamicLayout
)

// cell is the uniform arena slot. Only the fields relevant to kind
// are populated; this mirrors the reference implementation's several
// small structs (String, Symbol, Keyword, Object, boxed Int64/Float64)
// folded into one Go struct since the arena must be homogeneous to be
// swept generically.
type cell struct {
	tag    Tag
	marked bool
	live   bool

	// NativeFnTag
	nativeFn NativeFn

	// SymbolTag / KeywordTag
	ns, name Value

	// Int64Tag
	i64 int64

	// Float64Tag
	f64 float64

	// StringTag
	str string

	// ObjectTag
	objType  Value
	elems    []Value
	ints     []int64
	lay      layout
	size     int // logical size for dynamicLayout; == len(elems)/len(ints) for static
	capacity int // capacity of elems or ints for dynamicLayout
	byteMode bool
}

// NativeFn is a Go-implemented callable reachable from bytecode via
// CALL/APPLY, the host side of spec §4.8's "native function handle".
type NativeFn func(args []Value) (Value, error)

// Heap is the state of one heap: arena, intern tables, roots and the
// current-exception slot. Tests construct isolated heaps with NewHeap,
// and each api.Runtime builds its own the same way.
type Heap struct {
	arena     []cell
	freeList  []handle
	allocList []handle

	extraRoots []Value

	symbols  map[internKey]Value
	keywords map[internKey]Value

	gcFrequency int
	gcCounter   int

	currentException Value
	hasException     bool

	rootProviders []RootProvider
}

// NewHeap creates an empty heap with the default GC frequency (64
// allocations between collections), matching spec §4.1's "default 64".
func NewHeap() *Heap {
	return &Heap{gcFrequency: 64, gcCounter: 64}
}

// Default is a package-level heap in the shape of spec §5's
// "process-wide singletons" and the reference implementation's global
// arrays in global.hpp/global.cpp; no package in this module allocates
// through it.
var Default = NewHeap()

// SetGCFrequency configures how many allocations occur between
// automatic collections. It is exposed so RuntimeOptions (see the
// api package) can make this spec §4.1 default configurable.
func (h *Heap) SetGCFrequency(n int) {
	if n <= 0 {
		panic("heap: gc frequency must be positive")
	}
	h.gcFrequency = n
	if h.gcCounter > n {
		h.gcCounter = n
	}
}

func (h *Heap) newHandle(c cell) handle {
	// The GC check runs *before* this cell is added to the arena, not
	// after. A collection traces only from rooted values, so a cell
	// spliced into allocList after the trace has nothing marking it
	// live; checking first guarantees a freshly returned allocation
	// survives until the caller has a chance to root it (the "Force"
	// convention of roots.go), at the cost of only collecting on the
	// allocation that follows it, never the one that produced it.
	h.gcCounter--
	if h.gcCounter <= 0 {
		h.gcCounter = h.gcFrequency
		h.Collect()
	}

	var hdl handle
	if n := len(h.freeList); n > 0 {
		hdl = h.freeList[n-1]
		h.freeList = h.freeList[:n-1]
		h.arena[hdl] = c
	} else {
		hdl = handle(len(h.arena))
		h.arena = append(h.arena, c)
	}
	h.arena[hdl].live = true
	h.allocList = append(h.allocList, hdl)
	return hdl
}

func (h *Heap) cellAt(v Value) *cell {
	return &h.arena[v.handle()]
}

// AllocStatic allocates a fixed-shape object: a type reference plus
// an immutable elements array, per spec §4.1 "alloc_static". It is
// used for persistent collections, seqs, and closures.
func (h *Heap) AllocStatic(typ Value, elements []Value) Value {
	elems := make([]Value, len(elements))
	copy(elems, elements)
	hdl := h.newHandle(cell{
		tag:     ObjectTag,
		objType: typ,
		elems:   elems,
		lay:     staticLayout,
		size:    len(elems),
	})
	return withHandle(hdl, ObjectTag)
}

// AllocStaticInts allocates a fixed-shape object that additionally
// carries an immutable integer header/array, used for bytecode
// bodies (which pack their byte stream as ints) and HAMT nodes (whose
// header ints hold bitmaps or shared hashes).
func (h *Heap) AllocStaticInts(typ Value, elements []Value, ints []int64) Value {
	elems := make([]Value, len(elements))
	copy(elems, elements)
	is := make([]int64, len(ints))
	copy(is, ints)
	hdl := h.newHandle(cell{
		tag:     ObjectTag,
		objType: typ,
		elems:   elems,
		ints:    is,
		lay:     staticLayout,
		size:    len(elems),
	})
	return withHandle(hdl, ObjectTag)
}

// AllocDynamic allocates an object whose element array has a mutable
// logical size bounded by capacity, per spec §4.1 "alloc_dynamic".
// headerInts seeds the parallel integer array (e.g. a transient
// vector's owning-thread tag, unused here since the runtime is
// single-threaded, kept for layout fidelity).
func (h *Heap) AllocDynamic(typ Value, headerInts []int64, elementCapacity int) Value {
	is := make([]int64, len(headerInts))
	copy(is, headerInts)
	hdl := h.newHandle(cell{
		tag:      ObjectTag,
		objType:  typ,
		elems:    make([]Value, elementCapacity),
		ints:     is,
		lay:      dynamicLayout,
		size:     0,
		capacity: elementCapacity,
	})
	return withHandle(hdl, ObjectTag)
}

// AllocBytes allocates an int-array object used for byte arrays and
// for bytecode bodies' packed byte streams, per spec §4.1
// "alloc_bytes". headerInts seeds leading header words (e.g. the
// logical byte count); byteCapacity further ints follow as storage.
func (h *Heap) AllocBytes(typ Value, headerInts []int64, byteCapacity int) Value {
	is := make([]int64, len(headerInts), len(headerInts)+byteCapacity)
	is = append(is, make([]int64, byteCapacity)...)
	hdl := h.newHandle(cell{
		tag:      ObjectTag,
		objType:  typ,
		ints:     is,
		lay:      dynamicLayout,
		size:     0,
		capacity: byteCapacity,
		byteMode: true,
	})
	return withHandle(hdl, ObjectTag)
}

func (h *Heap) allocPrimitive(t Tag, c cell) Value {
	c.tag = t
	hdl := h.newHandle(c)
	return withHandle(hdl, t)
}

// CreateInt64 boxes a 64-bit integer.
func (h *Heap) CreateInt64(n int64) Value { return h.allocPrimitive(Int64Tag, cell{i64: n}) }

// GetInt64 unboxes a value created by CreateInt64.
func (h *Heap) GetInt64(v Value) int64 {
	if v.Tag() != Int64Tag {
		panic(fmt.Sprintf("heap: not an int64 value (tag %d)", v.Tag()))
	}
	return h.cellAt(v).i64
}

// CreateFloat64 boxes a 64-bit float.
func (h *Heap) CreateFloat64(f float64) Value { return h.allocPrimitive(Float64Tag, cell{f64: f}) }

// GetFloat64 unboxes a value created by CreateFloat64.
func (h *Heap) GetFloat64(v Value) float64 {
	if v.Tag() != Float64Tag {
		panic(fmt.Sprintf("heap: not a float64 value (tag %d)", v.Tag()))
	}
	return h.cellAt(v).f64
}

// CreateString allocates a (non-interned, per spec §3) string value.
func (h *Heap) CreateString(s string) Value { return h.allocPrimitive(StringTag, cell{str: s}) }

// GetString returns the Go string backing a StringTag value.
func (h *Heap) GetString(v Value) string {
	if v.Tag() != StringTag {
		panic(fmt.Sprintf("heap: not a string value (tag %d)", v.Tag()))
	}
	return h.cellAt(v).str
}

// CreateNativeFn wraps a Go function as a callable heap value.
func (h *Heap) CreateNativeFn(fn NativeFn) Value {
	return h.allocPrimitive(NativeFnTag, cell{nativeFn: fn})
}

// GetNativeFn returns the Go function backing a NativeFnTag value.
func (h *Heap) GetNativeFn(v Value) NativeFn {
	if v.Tag() != NativeFnTag {
		panic(fmt.Sprintf("heap: not a native fn value (tag %d)", v.Tag()))
	}
	return h.cellAt(v).nativeFn
}

// ObjectType returns the type reference of a heap object.
func (h *Heap) ObjectType(v Value) Value {
	h.mustObject(v)
	return h.cellAt(v).objType
}

// SetObjectType rebinds a heap object's type reference. Used only
// during bootstrap to tie the meta-type's self-referential cycle
// (spec §9 "Cyclic structures").
func (h *Heap) SetObjectType(v, typ Value) {
	h.mustObject(v)
	h.cellAt(v).objType = typ
}

// ObjectSize returns the logical element count of a heap object.
func (h *Heap) ObjectSize(v Value) int {
	h.mustObject(v)
	return h.cellAt(v).size
}

// ObjectElement reads element i of a heap object.
func (h *Heap) ObjectElement(v Value, i int) Value {
	h.mustObject(v)
	c := h.cellAt(v)
	if i < 0 || i >= c.size {
		panic(fmt.Sprintf("heap: object element index out of bounds: %d/%d", i, c.size))
	}
	return c.elems[i]
}

// SetObjectElement writes element i of a heap object. Only valid for
// dynamic-layout objects (spec §3: static layout elements are
// immutable after construction) or during construction of a static
// object before it escapes — callers are trusted to respect this, as
// in the reference implementation. Atom (see the atom package) is the
// one sanctioned exception to the static-layout rule: spec §3 names
// its single element as mutable by design, exactly as
// original_source/source/core/cleo/atom.cpp calls set_object_element
// on an already-escaped, statically-laid-out atom.
func (h *Heap) SetObjectElement(v Value, i int, elem Value) {
	h.mustObject(v)
	c := h.cellAt(v)
	if i < 0 || i >= len(c.elems) {
		panic(fmt.Sprintf("heap: object element index out of bounds: %d/%d", i, len(c.elems)))
	}
	c.elems[i] = elem
}

// ObjectElements returns a read-only view of a heap object's element
// array, useful for bulk iteration by the collection/HAMT layers.
func (h *Heap) ObjectElements(v Value) []Value {
	h.mustObject(v)
	c := h.cellAt(v)
	return c.elems[:c.size]
}

// ObjectInt reads word i of a heap object's integer array.
func (h *Heap) ObjectInt(v Value, i int) int64 {
	h.mustObject(v)
	return h.cellAt(v).ints[i]
}

// SetObjectInt writes word i of a heap object's integer array.
func (h *Heap) SetObjectInt(v Value, i int, n int64) {
	h.mustObject(v)
	h.cellAt(v).ints[i] = n
}

// ObjectIntSize returns the length of a heap object's integer array.
func (h *Heap) ObjectIntSize(v Value) int {
	h.mustObject(v)
	return len(h.cellAt(v).ints)
}

// DynamicSize returns the current logical size of a dynamic-layout
// object (transients, byte arrays, mutable GC/collection caches).
func (h *Heap) DynamicSize(v Value) int {
	h.mustObject(v)
	return h.cellAt(v).size
}

// DynamicCapacity returns the element/byte capacity of a dynamic
// layout object.
func (h *Heap) DynamicCapacity(v Value) int {
	h.mustObject(v)
	return h.cellAt(v).capacity
}

// DynamicAppend grows a dynamic-layout object's logical size by one
// and writes elem at the new slot, panicking if capacity is exceeded
// (callers size the allocation to the expected maximum up front, as
// the transient builders do).
func (h *Heap) DynamicAppend(v Value, elem Value) {
	h.mustObject(v)
	c := h.cellAt(v)
	if c.size >= c.capacity {
		panic("heap: dynamic object capacity exceeded")
	}
	c.elems[c.size] = elem
	c.size++
}

// DynamicPop shrinks a dynamic-layout object's logical size by one.
func (h *Heap) DynamicPop(v Value) {
	h.mustObject(v)
	c := h.cellAt(v)
	if c.size == 0 {
		panic("heap: pop from empty dynamic object")
	}
	c.size--
}

// DynamicSetElement overwrites element i (i < logical size) of a
// dynamic-layout object.
func (h *Heap) DynamicSetElement(v Value, i int, elem Value) {
	h.mustObject(v)
	c := h.cellAt(v)
	if i < 0 || i >= c.size {
		panic(fmt.Sprintf("heap: dynamic object index out of bounds: %d/%d", i, c.size))
	}
	c.elems[i] = elem
}

// ByteAt returns the byte at logical index i of a byte-array object
// as an inline Int48 value, per spec §3's "byte-array entry accessor".
func (h *Heap) ByteAt(v Value, i int) Value {
	h.mustObject(v)
	c := h.cellAt(v)
	if !c.byteMode {
		panic("heap: not a byte array")
	}
	if i < 0 || i >= c.size {
		panic(fmt.Sprintf("heap: byte array index out of bounds: %d/%d", i, c.size))
	}
	return Int48(int64(byte(c.ints[len(c.ints)-c.capacity+i])))
}

// SetByteAt writes byte i of a byte array and grows its logical size
// if i == current size (append), mirroring how ByteArray is built up
// one push at a time by the collection layer.
func (h *Heap) SetByteAt(v Value, i int, b byte) {
	h.mustObject(v)
	c := h.cellAt(v)
	if !c.byteMode {
		panic("heap: not a byte array")
	}
	base := len(c.ints) - c.capacity
	c.ints[base+i] = int64(b)
	if i >= c.size {
		c.size = i + 1
	}
}

// FlipDynamicToStatic freezes a transient (dynamic-layout) object in
// place by changing how it is treated from here on: per spec §4.2 the
// persistent variant "freezes by a type flip". Concretely, we trim
// elems/ints to the logical size and mark the layout static so future
// mutation helpers refuse to touch it.
func (h *Heap) FlipDynamicToStatic(v Value) {
	h.mustObject(v)
	c := h.cellAt(v)
	if c.lay != dynamicLayout {
		panic("heap: not a transient object")
	}
	if !c.byteMode {
		c.elems = c.elems[:c.size]
		c.capacity = c.size
	}
	c.lay = staticLayout
}

func (h *Heap) mustObject(v Value) {
	if v.Tag() != ObjectTag {
		panic(fmt.Sprintf("heap: not an object value (tag %d)", v.Tag()))
	}
}

// --- GC roots bookkeeping (see roots.go for the scoped Root/Roots API) ---

func (h *Heap) pushExtraRoot(v Value) int {
	idx := len(h.extraRoots)
	h.extraRoots = append(h.extraRoots, v)
	return idx
}

func (h *Heap) setExtraRoot(idx int, v Value) { h.extraRoots[idx] = v }
func (h *Heap) getExtraRoot(idx int) Value    { return h.extraRoots[idx] }

func (h *Heap) popExtraRootAt(idx int) {
	if idx != len(h.extraRoots)-1 {
		panic("heap: root released out of scope order")
	}
	h.extraRoots = h.extraRoots[:idx]
}

// ExtraRootsSize reports the number of currently registered scoped
// roots, used by invariant tests (spec §8 invariant 1).
func (h *Heap) ExtraRootsSize() int { return len(h.extraRoots) }

// --- Current exception slot (spec §3i, §6, §7) ---

// SetCurrentException installs v as the in-flight exception.
func (h *Heap) SetCurrentException(v Value) {
	h.currentException = v
	h.hasException = true
}

// CurrentException reads and clears the in-flight exception slot,
// mirroring the embedding interface's catch_exception() (spec §6).
func (h *Heap) CurrentException() (Value, bool) {
	v, ok := h.currentException, h.hasException
	h.currentException = Nil
	h.hasException = false
	return v, ok
}

// AllocationCount reports the number of live allocations, used by
// invariant tests (spec §8 invariant 2: "after a forced GC with no
// roots, zero allocations remain").
func (h *Heap) AllocationCount() int { return len(h.allocList) }
