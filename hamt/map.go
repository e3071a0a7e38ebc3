package hamt

import "github.com/rafalprzywarski/cleo-go/heap"

// A PersistentHashMap is a heap object whose shape depends on its
// size, mirroring create_persistent_hash_map/persistent_hash_map_assoc
// of persistent_hash_map.cpp so that maps of 0 or 1 entries avoid the
// extra node indirection entirely:
//
//	size 0: elems = [Sentinel]
//	size 1: elems = [value, key]   (inline, no trie node at all)
//	size ≥2: elems = [rootNode]
//
// ints[0] always holds the map's element count for O(1) Count.

// Empty returns the canonical empty map.
func Empty(h *heap.Heap, t *Types) heap.Value {
	return h.AllocStaticInts(t.MapType, []heap.Value{t.Sentinel}, []int64{0})
}

// Size returns the number of key/value pairs.
func Size(h *heap.Heap, v heap.Value) int {
	return int(h.ObjectInt(v, 0))
}

func isEmpty(h *heap.Heap, t *Types, v heap.Value) bool {
	return h.ObjectSize(v) == 1 && h.ObjectElement(v, 0).Is(t.Sentinel)
}

func isSingle(h *heap.Heap, v heap.Value) bool {
	return h.ObjectSize(v) == 2
}

// Get returns the value associated with key, or (Nil, false).
func Get(h *heap.Heap, t *Types, m, key heap.Value) (heap.Value, bool) {
	switch {
	case isEmpty(h, t, m):
		return heap.Nil, false
	case isSingle(h, m):
		if h.Equal(h.ObjectElement(m, 1), key) {
			return h.ObjectElement(m, 0), true
		}
		return heap.Nil, false
	default:
		root := h.ObjectElement(m, 0)
		hash := uint32(h.HashValue(key))
		return nodeGet(h, t, root, hash, 0, key)
	}
}

// Contains reports whether key is present.
func Contains(h *heap.Heap, t *Types, m, key heap.Value) bool {
	_, ok := Get(h, t, m, key)
	return ok
}

// Assoc returns a new map with key bound to val, sharing structure
// with m (spec §4.3's immutable, structurally-shared assoc).
func Assoc(h *heap.Heap, t *Types, m, key, val heap.Value) heap.Value {
	r := h.NewRoots(3)
	r.Set(0, m)
	r.Set(1, key)
	r.Set(2, val)
	topType := h.ObjectType(r.Get(0))

	var result heap.Value
	switch {
	case isEmpty(h, t, r.Get(0)):
		result = h.AllocStaticInts(topType, []heap.Value{r.Get(2), r.Get(1)}, []int64{1})
	case isSingle(h, r.Get(0)):
		existingVal := h.ObjectElement(r.Get(0), 0)
		existingKey := h.ObjectElement(r.Get(0), 1)
		if h.Equal(existingKey, r.Get(1)) {
			result = h.AllocStaticInts(topType, []heap.Value{r.Get(2), r.Get(1)}, []int64{1})
		} else {
			er := h.NewRoots(2)
			er.Set(0, existingKey)
			er.Set(1, existingVal)
			root := twoKeyNode(h, t, er.Get(0), er.Get(1), r.Get(1), r.Get(2), 0)
			er.Release()
			result = h.AllocStaticInts(topType, []heap.Value{root}, []int64{2})
		}
	default:
		root := h.ObjectElement(r.Get(0), 0)
		hash := uint32(h.HashValue(r.Get(1)))
		nr := h.NewRoots(1)
		nr.Set(0, root)
		newRoot, added := nodeAssoc(h, t, nr.Get(0), r.Get(1), r.Get(2), hash, 0)
		nr.Release()
		size := Size(h, r.Get(0))
		if added {
			size++
		}
		result = h.AllocStaticInts(topType, []heap.Value{newRoot}, []int64{int64(size)})
	}
	r.Release()
	return result
}

// Dissoc returns a new map with key removed, or the same map value if
// key was absent.
func Dissoc(h *heap.Heap, t *Types, m, key heap.Value) heap.Value {
	r := h.NewRoots(2)
	r.Set(0, m)
	r.Set(1, key)
	topType := h.ObjectType(r.Get(0))

	var result heap.Value
	switch {
	case isEmpty(h, t, r.Get(0)):
		result = r.Get(0)
	case isSingle(h, r.Get(0)):
		existingKey := h.ObjectElement(r.Get(0), 1)
		if h.Equal(existingKey, r.Get(1)) {
			result = h.AllocStaticInts(topType, []heap.Value{t.Sentinel}, []int64{0})
		} else {
			result = r.Get(0)
		}
	default:
		root := h.ObjectElement(r.Get(0), 0)
		hash := uint32(h.HashValue(r.Get(1)))
		nr := h.NewRoots(1)
		nr.Set(0, root)
		dr := nodeDissoc(h, t, nr.Get(0), r.Get(1), hash, 0)
		nr.Release()
		if !dr.found {
			result = r.Get(0)
		} else {
			size := Size(h, r.Get(0)) - 1
			if dr.isNode {
				result = h.AllocStaticInts(topType, []heap.Value{dr.node}, []int64{int64(size)})
			} else {
				result = h.AllocStaticInts(topType, []heap.Value{dr.survivorVal, dr.survivorKey}, []int64{int64(size)})
			}
		}
	}
	r.Release()
	return result
}

// Equal implements are_persistent_hash_maps_equal: a size check
// followed by a root-shape-aware comparison.
func Equal(h *heap.Heap, t *Types, a, b heap.Value) bool {
	if Size(h, a) != Size(h, b) {
		return false
	}
	switch {
	case isEmpty(h, t, a):
		return isEmpty(h, t, b)
	case isSingle(h, a):
		if !isSingle(h, b) {
			return false
		}
		key := h.ObjectElement(a, 1)
		val, ok := Get(h, t, b, key)
		return ok && h.Equal(val, h.ObjectElement(a, 0))
	default:
		if isEmpty(h, t, b) || isSingle(h, b) {
			return false
		}
		return nodeEqual(h, t, h.ObjectElement(a, 0), h.ObjectElement(b, 0))
	}
}

// Hash folds every key/value pair's hash order-independently (XOR),
// so two maps built in different insertion orders hash identically —
// the required congruence with Equal.
func Hash(h *heap.Heap, t *Types, m heap.Value) uint64 {
	var acc uint64
	ForEach(h, t, m, func(k, v heap.Value) {
		acc ^= h.HashValue(k)*31 + h.HashValue(v)
	})
	return acc
}

// ForEach visits every (key, value) pair of m in the same depth-first,
// left-to-right order Seq would produce.
func ForEach(h *heap.Heap, t *Types, m heap.Value, fn func(k, v heap.Value)) {
	switch {
	case isEmpty(h, t, m):
		return
	case isSingle(h, m):
		fn(h.ObjectElement(m, 1), h.ObjectElement(m, 0))
	default:
		forEachNode(h, t, h.ObjectElement(m, 0), fn)
	}
}

func forEachNode(h *heap.Heap, t *Types, node heap.Value, fn func(k, v heap.Value)) {
	if h.ObjectType(node).Is(t.CollisionNode) {
		elems := h.ObjectElements(node)
		for i := 0; i < len(elems); i += 2 {
			fn(elems[i], elems[i+1])
		}
		return
	}
	vb, _ := arrayBitmaps(h, node)
	elems := h.ObjectElements(node)
	valueCount := popcount32(vb)
	for i := 0; i < valueCount; i++ {
		fn(elems[2*i], elems[2*i+1])
	}
	for i := 2 * valueCount; i < len(elems); i++ {
		forEachNode(h, t, elems[i], fn)
	}
}

func registerMapProtocols(h *heap.Heap, t *Types) {
	h.RegisterEqual(t.MapType, func(h *heap.Heap, a, b heap.Value) bool {
		return Equal(h, t, a, b)
	})
	h.RegisterHash(t.MapType, func(h *heap.Heap, v heap.Value) uint64 {
		return Hash(h, t, v)
	})
	h.RegisterCount(t.MapType, func(h *heap.Heap, v heap.Value) int {
		return Size(h, v)
	})
	h.RegisterSeq(t.MapType, func(h *heap.Heap, v heap.Value) heap.Value {
		return MapSeq(h, t, v)
	})
	h.RegisterPrStr(t.MapType, func(h *heap.Heap, v heap.Value) string {
		return prStrMap(h, t, v)
	})
	h.RegisterGet(t.MapType, func(h *heap.Heap, v, key heap.Value) (heap.Value, bool) {
		return Get(h, t, v, key)
	})
	h.RegisterAssoc(t.MapType, func(h *heap.Heap, v, key, val heap.Value) heap.Value {
		return Assoc(h, t, v, key, val)
	})
	h.RegisterDissoc(t.MapType, func(h *heap.Heap, v, key heap.Value) heap.Value {
		return Dissoc(h, t, v, key)
	})
	h.RegisterContains(t.MapType, func(h *heap.Heap, v, key heap.Value) bool {
		return Contains(h, t, v, key)
	})
	h.RegisterConj(t.MapType, func(h *heap.Heap, v, elem heap.Value) heap.Value {
		k := h.ObjectElement(elem, 0)
		val := h.ObjectElement(elem, 1)
		return Assoc(h, t, v, k, val)
	})

	// The seq cursor itself participates in the Seq protocol: seq of a
	// seq is itself, and first/next dispatch to the cursor walk.
	h.RegisterSeq(t.SeqType, func(h *heap.Heap, v heap.Value) heap.Value { return v })
	h.RegisterFirst(t.SeqType, func(h *heap.Heap, v heap.Value) heap.Value {
		return SeqFirst(h, t, v)
	})
	h.RegisterNext(t.SeqType, func(h *heap.Heap, v heap.Value) heap.Value {
		return SeqNext(h, t, v)
	})
}

func prStrMap(h *heap.Heap, t *Types, m heap.Value) string {
	s := "{"
	first := true
	ForEach(h, t, m, func(k, v heap.Value) {
		if !first {
			s += ", "
		}
		first = false
		s += h.PrStr(k) + " " + h.PrStr(v)
	})
	return s + "}"
}
