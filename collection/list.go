package collection

import "github.com/rafalprzywarski/cleo-go/heap"

// A PersistentList is a Cons chain closed over itself: each cell's
// elems are [first, rest], with ints[0] caching the total size so
// Count is O(1) (spec §4.2: "List: singly linked via Cons cells;
// records size"). The empty list is the canonical t.EmptyListVal
// sentinel, never rebuilt.

// EmptyList returns the canonical empty list.
func EmptyList(t *Types) heap.Value { return t.EmptyListVal }

// ListCount returns the number of elements.
func ListCount(h *heap.Heap, l heap.Value) int { return int(h.ObjectInt(l, 0)) }

// ListFirst returns the head element (Nil for the empty list).
func ListFirst(h *heap.Heap, l heap.Value) heap.Value { return h.ObjectElement(l, 0) }

// ListRest returns the tail, the empty list if l has one element.
func ListRest(h *heap.Heap, t *Types, l heap.Value) heap.Value {
	if ListCount(h, l) == 0 {
		return t.EmptyListVal
	}
	return h.ObjectElement(l, 1)
}

// ListCons pushes elem onto the front of l (list's "conj").
func ListCons(h *heap.Heap, t *Types, l, elem heap.Value) heap.Value {
	r := h.NewRoots(2)
	r.Set(0, l)
	r.Set(1, elem)
	size := ListCount(h, r.Get(0))
	result := h.AllocStaticInts(t.ListType, []heap.Value{r.Get(1), r.Get(0)}, []int64{int64(size + 1)})
	r.Release()
	return result
}

// ListEqual implements spec §4.2's length-aware, element-wise
// sequence equality.
func ListEqual(h *heap.Heap, t *Types, a, b heap.Value) bool {
	if ListCount(h, a) != ListCount(h, b) {
		return false
	}
	for !a.Is(t.EmptyListVal) {
		if !h.Equal(ListFirst(h, a), ListFirst(h, b)) {
			return false
		}
		a = ListRest(h, t, a)
		b = ListRest(h, t, b)
	}
	return true
}

// ListHash uses the same combinator as VectorHash, applied in
// traversal order.
func ListHash(h *heap.Heap, t *Types, l heap.Value) uint64 {
	acc := uint64(1)
	n := 0
	for !l.Is(t.EmptyListVal) {
		acc = acc*31 + h.HashValue(ListFirst(h, l))
		l = ListRest(h, t, l)
		n++
	}
	return acc*31 + uint64(n)
}

func prStrList(h *heap.Heap, t *Types, l heap.Value) string {
	s := "("
	first := true
	for !l.Is(t.EmptyListVal) {
		if !first {
			s += " "
		}
		first = false
		s += h.PrStr(ListFirst(h, l))
		l = ListRest(h, t, l)
	}
	return s + ")"
}

func registerListProtocols(h *heap.Heap, t *Types) {
	h.RegisterEqual(t.ListType, func(h *heap.Heap, a, b heap.Value) bool { return ListEqual(h, t, a, b) })
	h.RegisterHash(t.ListType, func(h *heap.Heap, v heap.Value) uint64 { return ListHash(h, t, v) })
	h.RegisterCount(t.ListType, func(h *heap.Heap, v heap.Value) int { return ListCount(h, v) })
	h.RegisterPrStr(t.ListType, func(h *heap.Heap, v heap.Value) string { return prStrList(h, t, v) })
	h.RegisterConj(t.ListType, func(h *heap.Heap, v, elem heap.Value) heap.Value { return ListCons(h, t, v, elem) })

	// A non-empty list is its own seq cursor; the empty list has no
	// seq (Seq returns Nil), matching every other empty-collection
	// convention in this runtime.
	h.RegisterSeq(t.ListType, func(h *heap.Heap, v heap.Value) heap.Value {
		if v.Is(t.EmptyListVal) {
			return heap.Nil
		}
		return v
	})
	h.RegisterFirst(t.ListType, func(h *heap.Heap, v heap.Value) heap.Value { return ListFirst(h, v) })
	h.RegisterNext(t.ListType, func(h *heap.Heap, v heap.Value) heap.Value {
		rest := ListRest(h, t, v)
		if rest.Is(t.EmptyListVal) {
			return heap.Nil
		}
		return rest
	})
}
