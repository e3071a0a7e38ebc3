package heap

// Force marks a Value as a just-returned, not-yet-rooted allocation,
// mirroring the reference implementation's cleo::Force (spec §4.1).
// Assigning it to a Root transfers responsibility for keeping it
// reachable across further allocations.
type Force struct{ val Value }

// ForceValue wraps v as a Force, the Go equivalent of the reference
// implementation's free function `force(Value)`.
func ForceValue(v Value) Force { return Force{val: v} }

// Root is a single scoped GC root slot. It must be released (via
// Release) in LIFO order relative to every other Root/Roots acquired
// after it — exactly the "strictly nested scopes" discipline of spec
// §5. Idiomatic usage is:
//
//	r := h.NewRoot(heap.Nil)
//	defer r.Release()
//	r.Set(h.someAllocatingCall())
type Root struct {
	h   *Heap
	idx int
}

// NewRoot registers a new scoped root initialized to v (or to a Force
// just produced by an allocating call).
func (h *Heap) NewRoot(v Value) *Root {
	return &Root{h: h, idx: h.pushExtraRoot(v)}
}

// NewRootForce registers a new scoped root, taking ownership of f.
func (h *Heap) NewRootForce(f Force) *Root {
	return h.NewRoot(f.val)
}

// Get reads the root's current value.
func (r *Root) Get() Value { return r.h.getExtraRoot(r.idx) }

// Set reassigns the root to v. A Root's value is always reachable
// once set, per spec §4.1.
func (r *Root) Set(v Value) { r.h.setExtraRoot(r.idx, v) }

// SetForce reassigns the root, taking ownership of a Force.
func (r *Root) SetForce(f Force) { r.Set(f.val) }

// Release removes the root from the extra-roots vector. It must be
// called exactly once, and only after every Root/Roots acquired after
// it has already been released — enforced here by asserting this
// root is the top of the vector, mirroring the reference
// implementation's destructor assertion.
func (r *Root) Release() { r.h.popExtraRootAt(r.idx) }

// Roots is a scoped array of n contiguous root slots, the Go
// equivalent of the reference implementation's cleo::Roots.
type Roots struct {
	h     *Heap
	start int
	count int
}

// NewRoots registers n contiguous scoped root slots, all initialized
// to nil.
func (h *Heap) NewRoots(n int) *Roots {
	start := len(h.extraRoots)
	for i := 0; i < n; i++ {
		h.pushExtraRoot(Nil)
	}
	return &Roots{h: h, start: start, count: n}
}

// Get reads slot k.
func (rs *Roots) Get(k int) Value { return rs.h.getExtraRoot(rs.start + k) }

// Set assigns slot k.
func (rs *Roots) Set(k int, v Value) { rs.h.setExtraRoot(rs.start+k, v) }

// SetForce assigns slot k, taking ownership of a Force.
func (rs *Roots) SetForce(k int, f Force) { rs.Set(k, f.val) }

// Release removes all n slots. Like Root.Release, it must run only
// after everything acquired after it has already been released.
func (rs *Roots) Release() {
	if rs.start+rs.count != rs.h.ExtraRootsSize() {
		panic("heap: roots released out of scope order")
	}
	rs.h.extraRoots = rs.h.extraRoots[:rs.start]
}
