package collection

import "github.com/rafalprzywarski/cleo-go/heap"

// A PersistentVector is a flat static object array, per spec §4.2's
// "a flat array copy suffices for the scale this runtime targets".
// TransientVector is the same shape under AllocDynamic, used by
// builder loops; TransientPersist freezes it in place (spec §9
// "Transients vs immutables ... freezes by a type flip").

// EmptyVector returns the canonical empty vector.
func EmptyVector(h *heap.Heap, t *Types) heap.Value {
	return h.AllocStatic(t.VectorType, nil)
}

// VectorCount returns the number of elements.
func VectorCount(h *heap.Heap, v heap.Value) int { return h.ObjectSize(v) }

// VectorGet returns element i, or (Nil, false) if out of bounds.
func VectorGet(h *heap.Heap, v heap.Value, i int) (heap.Value, bool) {
	if i < 0 || i >= h.ObjectSize(v) {
		return heap.Nil, false
	}
	return h.ObjectElement(v, i), true
}

// VectorConj returns a new vector with elem appended.
func VectorConj(h *heap.Heap, t *Types, v, elem heap.Value) heap.Value {
	r := h.NewRoots(2)
	r.Set(0, v)
	r.Set(1, elem)
	elems := h.ObjectElements(r.Get(0))
	newElems := make([]heap.Value, len(elems)+1)
	copy(newElems, elems)
	newElems[len(elems)] = r.Get(1)
	result := h.AllocStatic(t.VectorType, newElems)
	r.Release()
	return result
}

// VectorPop returns a new vector with the last element dropped.
func VectorPop(h *heap.Heap, t *Types, v heap.Value) heap.Value {
	r := h.NewRoot(v)
	elems := h.ObjectElements(r.Get())
	if len(elems) == 0 {
		r.Release()
		panic("collection: pop of empty vector")
	}
	result := h.AllocStatic(t.VectorType, elems[:len(elems)-1])
	r.Release()
	return result
}

// VectorAssoc returns a new vector with index key's element replaced
// by val, or with val appended if key == count (spec's "assoc at
// count" convention for vectors, mirroring array.cpp's bounds rule).
func VectorAssoc(h *heap.Heap, t *Types, v, key, val heap.Value) heap.Value {
	idx, ok := indexOf(h, key)
	if !ok {
		panic("collection: vector assoc key must be an integer")
	}
	r := h.NewRoots(2)
	r.Set(0, v)
	r.Set(1, val)
	elems := h.ObjectElements(r.Get(0))
	switch {
	case idx == len(elems):
		newElems := make([]heap.Value, len(elems)+1)
		copy(newElems, elems)
		newElems[idx] = r.Get(1)
		result := h.AllocStatic(t.VectorType, newElems)
		r.Release()
		return result
	case idx >= 0 && idx < len(elems):
		newElems := make([]heap.Value, len(elems))
		copy(newElems, elems)
		newElems[idx] = r.Get(1)
		result := h.AllocStatic(t.VectorType, newElems)
		r.Release()
		return result
	default:
		r.Release()
		panic("collection: vector index out of bounds")
	}
}

// VectorEqual implements spec §4.2's "length-aware, element-wise"
// sequence equality.
func VectorEqual(h *heap.Heap, a, b heap.Value) bool {
	ea, eb := h.ObjectElements(a), h.ObjectElements(b)
	if len(ea) != len(eb) {
		return false
	}
	for i := range ea {
		if !h.Equal(ea[i], eb[i]) {
			return false
		}
	}
	return true
}

// VectorHash folds each element's hash in order with spec §4.3's
// combinator ("h = h*31 + e_hash; h = h*31 + size"); the HAMT's map and
// set hashes XOR-fold instead.
func VectorHash(h *heap.Heap, v heap.Value) uint64 {
	elems := h.ObjectElements(v)
	acc := uint64(1)
	for _, e := range elems {
		acc = acc*31 + h.HashValue(e)
	}
	return acc*31 + uint64(len(elems))
}

func prStrVector(h *heap.Heap, v heap.Value) string {
	elems := h.ObjectElements(v)
	s := "["
	for i, e := range elems {
		if i > 0 {
			s += " "
		}
		s += h.PrStr(e)
	}
	return s + "]"
}

// --- transient builder ---

// NewTransientVector allocates a mutable builder with room for
// capacityHint elements before it must grow.
func NewTransientVector(h *heap.Heap, t *Types, capacityHint int) heap.Value {
	return h.AllocDynamic(t.TransientVectorType, nil, capacityHint)
}

// TransientConj appends elem, growing (by doubling) and reallocating
// if the current capacity is exhausted. Returns the (possibly new)
// transient handle callers must keep using.
func TransientConj(h *heap.Heap, t *Types, tv, elem heap.Value) heap.Value {
	if h.DynamicSize(tv) < h.DynamicCapacity(tv) {
		h.DynamicAppend(tv, elem)
		return tv
	}
	r := h.NewRoots(2)
	r.Set(0, tv)
	r.Set(1, elem)
	oldElems := h.ObjectElements(r.Get(0))
	newCap := h.DynamicCapacity(r.Get(0))*2 + 1
	grown := h.AllocDynamic(t.TransientVectorType, nil, newCap)
	gr := h.NewRoot(grown)
	for _, e := range oldElems {
		h.DynamicAppend(gr.Get(), e)
	}
	h.DynamicAppend(gr.Get(), r.Get(1))
	result := gr.Get()
	gr.Release()
	r.Release()
	return result
}

// TransientPersist freezes a transient vector into an ordinary
// PersistentVector in place (the "type flip" of spec §9).
func TransientPersist(h *heap.Heap, t *Types, tv heap.Value) heap.Value {
	h.FlipDynamicToStatic(tv)
	h.SetObjectType(tv, t.VectorType)
	return tv
}

// --- seq ---

func vectorSeq(h *heap.Heap, t *Types, v heap.Value) heap.Value {
	if h.ObjectSize(v) == 0 {
		return heap.Nil
	}
	return h.AllocStaticInts(t.VectorSeqType, []heap.Value{v}, []int64{0})
}

func vectorSeqFirst(h *heap.Heap, s heap.Value) heap.Value {
	v := h.ObjectElement(s, 0)
	idx := int(h.ObjectInt(s, 0))
	return h.ObjectElement(v, idx)
}

func vectorSeqNext(h *heap.Heap, t *Types, s heap.Value) heap.Value {
	v := h.ObjectElement(s, 0)
	idx := int(h.ObjectInt(s, 0))
	if idx+1 >= h.ObjectSize(v) {
		return heap.Nil
	}
	return h.AllocStaticInts(t.VectorSeqType, []heap.Value{v}, []int64{int64(idx + 1)})
}

func registerVectorProtocols(h *heap.Heap, t *Types) {
	h.RegisterEqual(t.VectorType, func(h *heap.Heap, a, b heap.Value) bool { return VectorEqual(h, a, b) })
	h.RegisterHash(t.VectorType, func(h *heap.Heap, v heap.Value) uint64 { return VectorHash(h, v) })
	h.RegisterCount(t.VectorType, func(h *heap.Heap, v heap.Value) int { return VectorCount(h, v) })
	h.RegisterPrStr(t.VectorType, func(h *heap.Heap, v heap.Value) string { return prStrVector(h, v) })
	h.RegisterSeq(t.VectorType, func(h *heap.Heap, v heap.Value) heap.Value { return vectorSeq(h, t, v) })
	h.RegisterGet(t.VectorType, func(h *heap.Heap, v, key heap.Value) (heap.Value, bool) {
		idx, ok := indexOf(h, key)
		if !ok {
			return heap.Nil, false
		}
		return VectorGet(h, v, idx)
	})
	h.RegisterAssoc(t.VectorType, func(h *heap.Heap, v, key, val heap.Value) heap.Value {
		return VectorAssoc(h, t, v, key, val)
	})
	h.RegisterContains(t.VectorType, func(h *heap.Heap, v, key heap.Value) bool {
		idx, ok := indexOf(h, key)
		return ok && idx >= 0 && idx < h.ObjectSize(v)
	})
	h.RegisterConj(t.VectorType, func(h *heap.Heap, v, elem heap.Value) heap.Value {
		return VectorConj(h, t, v, elem)
	})

	h.RegisterSeq(t.VectorSeqType, func(h *heap.Heap, v heap.Value) heap.Value { return v })
	h.RegisterFirst(t.VectorSeqType, func(h *heap.Heap, v heap.Value) heap.Value { return vectorSeqFirst(h, v) })
	h.RegisterNext(t.VectorSeqType, func(h *heap.Heap, v heap.Value) heap.Value { return vectorSeqNext(h, t, v) })
}
