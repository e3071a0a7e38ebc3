package hamt

import "github.com/rafalprzywarski/cleo-go/heap"

// The seq cursor is the ordered 4-tuple of spec §4.3: the entry it
// currently yields, the node that entry came from (Nil for the
// single-entry inline map shape), an index locating that entry within
// the node, and a parent cursor to resume once the node is exhausted
// — ported from get_persistent_hash_map_seq_first/next's walk-up,
// walk-down traversal in persistent_hash_map.cpp. It visits inline
// key/value pairs before child nodes at every level, depth-first,
// left-to-right as laid out.
//
// elems: [key, val, node, parent]   ints: [idx]

func makeCursor(h *heap.Heap, t *Types, key, val, node, parent heap.Value, idx int) heap.Value {
	r := h.NewRoots(4)
	r.Set(0, key)
	r.Set(1, val)
	r.Set(2, node)
	r.Set(3, parent)
	built := h.AllocStaticInts(t.SeqType, []heap.Value{r.Get(0), r.Get(1), r.Get(2), r.Get(3)}, []int64{int64(idx)})
	r.Release()
	return built
}

// MapSeq builds the initial cursor over m's entries, or Nil if empty.
func MapSeq(h *heap.Heap, t *Types, m heap.Value) heap.Value {
	switch {
	case isEmpty(h, t, m):
		return heap.Nil
	case isSingle(h, m):
		return makeCursor(h, t, h.ObjectElement(m, 1), h.ObjectElement(m, 0), heap.Nil, heap.Nil, 0)
	default:
		return firstEntryCursor(h, t, h.ObjectElement(m, 0), heap.Nil)
	}
}

// firstEntryCursor returns the cursor for the first entry reachable
// from node, threading parent through for when node is exhausted.
func firstEntryCursor(h *heap.Heap, t *Types, node, parent heap.Value) heap.Value {
	return advanceWithinNode(h, t, node, 0, parent)
}

// advanceWithinNode returns the cursor for the entry at slot idx of
// node, descending into a child node and bubbling up to parent as
// idx runs past node's inline values and then its children.
func advanceWithinNode(h *heap.Heap, t *Types, node heap.Value, idx int, parent heap.Value) heap.Value {
	if h.ObjectType(node).Is(t.CollisionNode) {
		elems := h.ObjectElements(node)
		if idx < len(elems) {
			return makeCursor(h, t, elems[idx], elems[idx+1], node, parent, idx)
		}
		return advanceParent(h, t, parent)
	}
	vb, _ := arrayBitmaps(h, node)
	elems := h.ObjectElements(node)
	valueCount := popcount32(vb)
	if idx < 2*valueCount {
		return makeCursor(h, t, elems[idx], elems[idx+1], node, parent, idx)
	}
	if idx < len(elems) {
		resumeParent := makeCursor(h, t, heap.Nil, heap.Nil, node, parent, idx+1)
		return firstEntryCursor(h, t, elems[idx], resumeParent)
	}
	return advanceParent(h, t, parent)
}

func advanceParent(h *heap.Heap, t *Types, parent heap.Value) heap.Value {
	if parent.IsNil() {
		return heap.Nil
	}
	node := h.ObjectElement(parent, 2)
	idx := int(h.ObjectInt(parent, 0))
	grandparent := h.ObjectElement(parent, 3)
	return advanceWithinNode(h, t, node, idx, grandparent)
}

// SeqFirst returns the key of the entry a cursor points to; its value
// is read with SeqFirstValue.
func SeqFirst(h *heap.Heap, t *Types, cursor heap.Value) heap.Value {
	return h.ObjectElement(cursor, 0)
}

// SeqFirstValue returns the value half of the entry a cursor points to.
func SeqFirstValue(h *heap.Heap, t *Types, cursor heap.Value) heap.Value {
	return h.ObjectElement(cursor, 1)
}

// SeqNext advances the cursor to the next entry, or Nil if exhausted.
func SeqNext(h *heap.Heap, t *Types, cursor heap.Value) heap.Value {
	node := h.ObjectElement(cursor, 2)
	if node.IsNil() {
		return heap.Nil
	}
	idx := int(h.ObjectInt(cursor, 0))
	parent := h.ObjectElement(cursor, 3)
	return advanceWithinNode(h, t, node, idx+2, parent)
}
