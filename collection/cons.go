package collection

import "github.com/rafalprzywarski/cleo-go/heap"

// A Cons is the general single-link cell of spec §4.2's component
// table, distinct from PersistentList: its rest slot is any seqable
// value (another Cons, a list, a lazy seq, Nil, ...), not only
// another Cons of the same closed chain, so it is how `cons` extends
// an arbitrary sequence rather than only a literal list.

// Cons allocates a new cell with elem in front of rest.
func Cons(h *heap.Heap, t *Types, elem, rest heap.Value) heap.Value {
	r := h.NewRoots(2)
	r.Set(0, elem)
	r.Set(1, rest)
	result := h.AllocStatic(t.ConsType, []heap.Value{r.Get(0), r.Get(1)})
	r.Release()
	return result
}

// ConsFirst returns the head element.
func ConsFirst(h *heap.Heap, c heap.Value) heap.Value { return h.ObjectElement(c, 0) }

// ConsRest returns the raw rest slot (not yet normalized through Seq).
func ConsRest(h *heap.Heap, c heap.Value) heap.Value { return h.ObjectElement(c, 1) }

func registerConsProtocols(h *heap.Heap, t *Types) {
	h.RegisterSeq(t.ConsType, func(h *heap.Heap, v heap.Value) heap.Value { return v })
	h.RegisterFirst(t.ConsType, func(h *heap.Heap, v heap.Value) heap.Value { return ConsFirst(h, v) })
	h.RegisterNext(t.ConsType, func(h *heap.Heap, v heap.Value) heap.Value {
		return h.Seq(ConsRest(h, v))
	})
	h.RegisterPrStr(t.ConsType, func(h *heap.Heap, v heap.Value) string {
		s := "(" + h.PrStr(ConsFirst(h, v))
		rest := h.Seq(ConsRest(h, v))
		for !rest.IsNil() {
			s += " " + h.PrStr(h.First(rest))
			rest = h.Next(rest)
		}
		return s + ")"
	})
}
