package hamt

import "github.com/rafalprzywarski/cleo-go/heap"

// A PersistentHashSet reuses the map's node machinery entirely,
// storing t.SetPlaceholder as every "value" and presenting only the
// key half of each entry at the public API — the "Set-specific note"
// of spec §4.3.

// EmptySet returns the canonical empty set.
func EmptySet(h *heap.Heap, t *Types) heap.Value {
	return h.AllocStaticInts(t.SetType, []heap.Value{t.Sentinel}, []int64{0})
}

// SetSize returns the number of elements.
func SetSize(h *heap.Heap, v heap.Value) int { return Size(h, v) }

// SetContains reports whether elem is a member. Get/Assoc/Dissoc/Equal
// never hardcode MapType — they rebuild the top-level object under
// whatever type it already had (see Assoc/Dissoc's topType) — so they
// apply to a set value exactly as they do to a map.
func SetContains(h *heap.Heap, t *Types, s, elem heap.Value) bool {
	return Contains(h, t, s, elem)
}

// SetConj returns a new set with elem added.
func SetConj(h *heap.Heap, t *Types, s, elem heap.Value) heap.Value {
	return Assoc(h, t, s, elem, t.SetPlaceholder)
}

// SetDisj returns a new set with elem removed.
func SetDisj(h *heap.Heap, t *Types, s, elem heap.Value) heap.Value {
	return Dissoc(h, t, s, elem)
}

// SetEqual compares two sets by membership, ignoring the placeholder
// values entirely (they carry no information).
func SetEqual(h *heap.Heap, t *Types, a, b heap.Value) bool {
	return Equal(h, t, a, b)
}

// SetHash mirrors SetConj in delegating straight to the map machinery;
// since every stored value is the same placeholder, the map hash
// already reduces to a pure function of the keys.
func SetHash(h *heap.Heap, t *Types, s heap.Value) uint64 {
	return Hash(h, t, s)
}

// SetForEach visits every element (ignoring the stored placeholder).
func SetForEach(h *heap.Heap, t *Types, s heap.Value, fn func(elem heap.Value)) {
	ForEach(h, t, s, func(k, _ heap.Value) { fn(k) })
}

func registerSetProtocols(h *heap.Heap, t *Types) {
	h.RegisterEqual(t.SetType, func(h *heap.Heap, a, b heap.Value) bool {
		return SetEqual(h, t, a, b)
	})
	h.RegisterHash(t.SetType, func(h *heap.Heap, v heap.Value) uint64 {
		return SetHash(h, t, v)
	})
	h.RegisterCount(t.SetType, func(h *heap.Heap, v heap.Value) int {
		return SetSize(h, v)
	})
	h.RegisterSeq(t.SetType, func(h *heap.Heap, v heap.Value) heap.Value {
		return MapSeq(h, t, v)
	})
	h.RegisterPrStr(t.SetType, func(h *heap.Heap, v heap.Value) string {
		s := "#{"
		first := true
		SetForEach(h, t, v, func(elem heap.Value) {
			if !first {
				s += ", "
			}
			first = false
			s += h.PrStr(elem)
		})
		return s + "}"
	})
	h.RegisterGet(t.SetType, func(h *heap.Heap, v, key heap.Value) (heap.Value, bool) {
		if SetContains(h, t, v, key) {
			return key, true
		}
		return heap.Nil, false
	})
	h.RegisterContains(t.SetType, func(h *heap.Heap, v, key heap.Value) bool {
		return SetContains(h, t, v, key)
	})
	h.RegisterDissoc(t.SetType, func(h *heap.Heap, v, key heap.Value) heap.Value {
		return SetDisj(h, t, v, key)
	})
	h.RegisterConj(t.SetType, func(h *heap.Heap, v, elem heap.Value) heap.Value {
		return SetConj(h, t, v, elem)
	})
}
