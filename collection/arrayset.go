package collection

import (
	"github.com/rafalprzywarski/cleo-go/hamt"
	"github.com/rafalprzywarski/cleo-go/heap"
)

// ArraySet is ArrayMap's single-column twin: a linear-scan store of
// elements with no associated value, promoted to a hamt set past the
// same size-16 threshold (spec §4.2).

// EmptyArraySet returns the canonical empty array-set.
func EmptyArraySet(h *heap.Heap, t *Types) heap.Value {
	return h.AllocStatic(t.ArraySetType, nil)
}

// ArraySetCount returns the number of elements.
func ArraySetCount(h *heap.Heap, s heap.Value) int { return h.ObjectSize(s) }

// ArraySetContains performs the linear scan membership test.
func ArraySetContains(h *heap.Heap, s, elem heap.Value) bool {
	for _, e := range h.ObjectElements(s) {
		if h.Equal(e, elem) {
			return true
		}
	}
	return false
}

// ArraySetConj returns a new set with elem added, promoting to a
// hamt set past the threshold.
func ArraySetConj(h *heap.Heap, t *Types, s, elem heap.Value) heap.Value {
	r := h.NewRoots(2)
	r.Set(0, s)
	r.Set(1, elem)
	elems := h.ObjectElements(r.Get(0))
	for _, e := range elems {
		if h.Equal(e, r.Get(1)) {
			result := r.Get(0)
			r.Release()
			return result
		}
	}
	if len(elems) >= promotionThreshold {
		promoted := promoteSetToHamt(h, t.Hamt, r.Get(0))
		result := hamt.SetConj(h, t.Hamt, promoted, r.Get(1))
		r.Release()
		return result
	}
	newElems := make([]heap.Value, len(elems)+1)
	copy(newElems, elems)
	newElems[len(elems)] = r.Get(1)
	result := h.AllocStatic(t.ArraySetType, newElems)
	r.Release()
	return result
}

// ArraySetDisj returns a new set with elem removed.
func ArraySetDisj(h *heap.Heap, t *Types, s, elem heap.Value) heap.Value {
	r := h.NewRoots(2)
	r.Set(0, s)
	r.Set(1, elem)
	elems := h.ObjectElements(r.Get(0))
	for i, e := range elems {
		if h.Equal(e, r.Get(1)) {
			newElems := make([]heap.Value, 0, len(elems)-1)
			newElems = append(newElems, elems[:i]...)
			newElems = append(newElems, elems[i+1:]...)
			result := h.AllocStatic(t.ArraySetType, newElems)
			r.Release()
			return result
		}
	}
	result := r.Get(0)
	r.Release()
	return result
}

func promoteSetToHamt(h *heap.Heap, ht *hamt.Types, src heap.Value) heap.Value {
	sr := h.NewRoot(src)
	n := h.ObjectSize(sr.Get())
	resultRoot := h.NewRoot(hamt.EmptySet(h, ht))
	for i := 0; i < n; i++ {
		e := h.ObjectElement(sr.Get(), i)
		resultRoot.Set(hamt.SetConj(h, ht, resultRoot.Get(), e))
	}
	result := resultRoot.Get()
	resultRoot.Release()
	sr.Release()
	return result
}

// ArraySetEqual compares two sets by mutual containment.
func ArraySetEqual(h *heap.Heap, a, b heap.Value) bool {
	if ArraySetCount(h, a) != ArraySetCount(h, b) {
		return false
	}
	for _, e := range h.ObjectElements(a) {
		if !ArraySetContains(h, b, e) {
			return false
		}
	}
	return true
}

// ArraySetHash XOR-folds hash(e)*31 + hash(placeholder) for each
// element, order-independent and equal to hamt.SetHash of the same
// elements, since a hamt set stores t.Hamt.SetPlaceholder as every value.
func ArraySetHash(h *heap.Heap, t *Types, s heap.Value) uint64 {
	var acc uint64
	ph := h.HashValue(t.Hamt.SetPlaceholder)
	for _, e := range h.ObjectElements(s) {
		acc ^= h.HashValue(e)*31 + ph
	}
	return acc
}

func prStrArraySet(h *heap.Heap, s heap.Value) string {
	elems := h.ObjectElements(s)
	str := "#{"
	for i, e := range elems {
		if i > 0 {
			str += ", "
		}
		str += h.PrStr(e)
	}
	return str + "}"
}

func arraySetSeq(h *heap.Heap, t *Types, s heap.Value) heap.Value {
	elems := h.ObjectElements(s)
	if len(elems) == 0 {
		return heap.Nil
	}
	r := h.NewRoot(t.EmptyListVal)
	for i := len(elems) - 1; i >= 0; i-- {
		r.Set(ListCons(h, t, r.Get(), elems[i]))
	}
	result := r.Get()
	r.Release()
	return result
}

func registerArraySetProtocols(h *heap.Heap, t *Types) {
	h.RegisterEqual(t.ArraySetType, func(h *heap.Heap, a, b heap.Value) bool { return ArraySetEqual(h, a, b) })
	h.RegisterHash(t.ArraySetType, func(h *heap.Heap, v heap.Value) uint64 { return ArraySetHash(h, t, v) })
	h.RegisterCount(t.ArraySetType, func(h *heap.Heap, v heap.Value) int { return ArraySetCount(h, v) })
	h.RegisterPrStr(t.ArraySetType, func(h *heap.Heap, v heap.Value) string { return prStrArraySet(h, v) })
	h.RegisterSeq(t.ArraySetType, func(h *heap.Heap, v heap.Value) heap.Value { return arraySetSeq(h, t, v) })
	h.RegisterContains(t.ArraySetType, func(h *heap.Heap, v, key heap.Value) bool { return ArraySetContains(h, v, key) })
	h.RegisterGet(t.ArraySetType, func(h *heap.Heap, v, key heap.Value) (heap.Value, bool) {
		if ArraySetContains(h, v, key) {
			return key, true
		}
		return heap.Nil, false
	})
	h.RegisterDissoc(t.ArraySetType, func(h *heap.Heap, v, key heap.Value) heap.Value { return ArraySetDisj(h, t, v, key) })
	h.RegisterConj(t.ArraySetType, func(h *heap.Heap, v, elem heap.Value) heap.Value { return ArraySetConj(h, t, v, elem) })
}
