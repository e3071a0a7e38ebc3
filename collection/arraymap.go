package collection

import (
	"github.com/rafalprzywarski/cleo-go/hamt"
	"github.com/rafalprzywarski/cleo-go/heap"
)

// promotionThreshold is spec §4.2's "above that threshold they are
// transparently promoted to HAMTs": linear-scan array-map/array-set
// are used while size <= 16.
const promotionThreshold = 16

// EmptyArrayMap returns the canonical empty array-map.
func EmptyArrayMap(h *heap.Heap, t *Types) heap.Value {
	return h.AllocStatic(t.ArrayMapType, nil)
}

// ArrayMapCount returns the number of key/value pairs.
func ArrayMapCount(h *heap.Heap, m heap.Value) int { return h.ObjectSize(m) / 2 }

// ArrayMapGet performs the linear scan lookup.
func ArrayMapGet(h *heap.Heap, m, key heap.Value) (heap.Value, bool) {
	elems := h.ObjectElements(m)
	for i := 0; i < len(elems); i += 2 {
		if h.Equal(elems[i], key) {
			return elems[i+1], true
		}
	}
	return heap.Nil, false
}

// ArrayMapContains reports key membership.
func ArrayMapContains(h *heap.Heap, m, key heap.Value) bool {
	_, ok := ArrayMapGet(h, m, key)
	return ok
}

// ArrayMapAssoc returns a new associative collection with key bound
// to val: an ArrayMap below the promotion threshold, transparently a
// hamt map above it (spec §4.2's "hidden behind the generic ...
// dispatchers" promotion).
func ArrayMapAssoc(h *heap.Heap, t *Types, m, key, val heap.Value) heap.Value {
	r := h.NewRoots(3)
	r.Set(0, m)
	r.Set(1, key)
	r.Set(2, val)
	elems := h.ObjectElements(r.Get(0))
	for i := 0; i < len(elems); i += 2 {
		if h.Equal(elems[i], r.Get(1)) {
			newElems := make([]heap.Value, len(elems))
			copy(newElems, elems)
			newElems[i+1] = r.Get(2)
			result := h.AllocStatic(t.ArrayMapType, newElems)
			r.Release()
			return result
		}
	}
	if len(elems)/2 >= promotionThreshold {
		promoted := promoteMapToHamt(h, t.Hamt, r.Get(0))
		result := hamt.Assoc(h, t.Hamt, promoted, r.Get(1), r.Get(2))
		r.Release()
		return result
	}
	newElems := make([]heap.Value, len(elems)+2)
	copy(newElems, elems)
	newElems[len(elems)] = r.Get(1)
	newElems[len(elems)+1] = r.Get(2)
	result := h.AllocStatic(t.ArrayMapType, newElems)
	r.Release()
	return result
}

// ArrayMapDissoc returns a new array-map with key removed, or the
// same value if key was absent. Dissoc never grows the collection,
// so it never needs to consider promotion.
func ArrayMapDissoc(h *heap.Heap, t *Types, m, key heap.Value) heap.Value {
	r := h.NewRoots(2)
	r.Set(0, m)
	r.Set(1, key)
	elems := h.ObjectElements(r.Get(0))
	for i := 0; i < len(elems); i += 2 {
		if h.Equal(elems[i], r.Get(1)) {
			newElems := make([]heap.Value, 0, len(elems)-2)
			newElems = append(newElems, elems[:i]...)
			newElems = append(newElems, elems[i+2:]...)
			result := h.AllocStatic(t.ArrayMapType, newElems)
			r.Release()
			return result
		}
	}
	result := r.Get(0)
	r.Release()
	return result
}

func promoteMapToHamt(h *heap.Heap, ht *hamt.Types, src heap.Value) heap.Value {
	sr := h.NewRoot(src)
	n := h.ObjectSize(sr.Get())
	mr := h.NewRoot(hamt.Empty(h, ht))
	for i := 0; i < n; i += 2 {
		k := h.ObjectElement(sr.Get(), i)
		v := h.ObjectElement(sr.Get(), i+1)
		mr.Set(hamt.Assoc(h, ht, mr.Get(), k, v))
	}
	result := mr.Get()
	mr.Release()
	sr.Release()
	return result
}

// ArrayMapEqual compares two array-maps by mutual containment (spec
// §4.3's map equality, reused here since an array-map is just a small
// map representation).
func ArrayMapEqual(h *heap.Heap, a, b heap.Value) bool {
	if ArrayMapCount(h, a) != ArrayMapCount(h, b) {
		return false
	}
	elems := h.ObjectElements(a)
	for i := 0; i < len(elems); i += 2 {
		v, ok := ArrayMapGet(h, b, elems[i])
		if !ok || !h.Equal(v, elems[i+1]) {
			return false
		}
	}
	return true
}

// ArrayMapHash XOR-folds each pair's hash, order-independent like
// hamt.Hash, so an ArrayMap and its promoted HAMT form hash the same.
func ArrayMapHash(h *heap.Heap, m heap.Value) uint64 {
	elems := h.ObjectElements(m)
	var acc uint64
	for i := 0; i < len(elems); i += 2 {
		acc ^= h.HashValue(elems[i])*31 + h.HashValue(elems[i+1])
	}
	return acc
}

func prStrArrayMap(h *heap.Heap, m heap.Value) string {
	elems := h.ObjectElements(m)
	s := "{"
	for i := 0; i < len(elems); i += 2 {
		if i > 0 {
			s += ", "
		}
		s += h.PrStr(elems[i]) + " " + h.PrStr(elems[i+1])
	}
	return s + "}"
}

// arrayMapSeq builds a list-of-entries seq (an entry is a 2-element
// static object) over a list.Cons chain, matching hamt's seq shape
// for duck-typed compatibility with map iteration call sites.
func arrayMapSeq(h *heap.Heap, t *Types, m heap.Value) heap.Value {
	elems := h.ObjectElements(m)
	if len(elems) == 0 {
		return heap.Nil
	}
	r := h.NewRoot(t.EmptyListVal)
	for i := len(elems) - 2; i >= 0; i -= 2 {
		entry := h.AllocStatic(t.VectorType, []heap.Value{elems[i], elems[i+1]})
		r.Set(ListCons(h, t, r.Get(), entry))
	}
	result := r.Get()
	r.Release()
	return result
}

func registerArrayMapProtocols(h *heap.Heap, t *Types) {
	h.RegisterEqual(t.ArrayMapType, func(h *heap.Heap, a, b heap.Value) bool { return ArrayMapEqual(h, a, b) })
	h.RegisterHash(t.ArrayMapType, func(h *heap.Heap, v heap.Value) uint64 { return ArrayMapHash(h, v) })
	h.RegisterCount(t.ArrayMapType, func(h *heap.Heap, v heap.Value) int { return ArrayMapCount(h, v) })
	h.RegisterPrStr(t.ArrayMapType, func(h *heap.Heap, v heap.Value) string { return prStrArrayMap(h, v) })
	h.RegisterSeq(t.ArrayMapType, func(h *heap.Heap, v heap.Value) heap.Value { return arrayMapSeq(h, t, v) })
	h.RegisterGet(t.ArrayMapType, func(h *heap.Heap, v, key heap.Value) (heap.Value, bool) { return ArrayMapGet(h, v, key) })
	h.RegisterContains(t.ArrayMapType, func(h *heap.Heap, v, key heap.Value) bool { return ArrayMapContains(h, v, key) })
	h.RegisterAssoc(t.ArrayMapType, func(h *heap.Heap, v, key, val heap.Value) heap.Value {
		return ArrayMapAssoc(h, t, v, key, val)
	})
	h.RegisterDissoc(t.ArrayMapType, func(h *heap.Heap, v, key heap.Value) heap.Value {
		return ArrayMapDissoc(h, t, v, key)
	})
	h.RegisterConj(t.ArrayMapType, func(h *heap.Heap, v, elem heap.Value) heap.Value {
		k := h.ObjectElement(elem, 0)
		val := h.ObjectElement(elem, 1)
		return ArrayMapAssoc(h, t, v, k, val)
	})
}
