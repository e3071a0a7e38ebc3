// Package hamt implements the persistent Hash-Array-Mapped Trie that
// backs both the map and set collections (spec §4.3), ported from
// original_source/source/core/cleo/persistent_hash_map.cpp: a 32-way
// branching trie keyed by 5 bits of a 32-bit hash per level, with
// bitmap-compressed array nodes and full-hash collision nodes at the
// point where two keys' hash bits exhaust without separating.
package hamt

import "github.com/rafalprzywarski/cleo-go/heap"

// Types holds the handful of heap types a HAMT needs, bootstrapped
// once per heap instance since type objects are themselves heap
// values (spec §3 "Types"). The api package builds one Types over
// each Runtime's own heap; tests build their own over an isolated
// heap.NewHeap() to keep type identity (and protocol registration)
// from leaking across unrelated tests.
type Types struct {
	MapType        heap.Value
	SetType        heap.Value
	CollisionNode  heap.Value
	ArrayNode      heap.Value
	SeqType        heap.Value
	Sentinel       heap.Value
	SetPlaceholder heap.Value
}

// NewTypes bootstraps the HAMT's heap types and registers the
// protocol-table entries (Equal/Hash/Seq/First/Next/Count/PrStr) for
// both MapType and SetType, per spec §9's dispatch-table design.
func NewTypes(h *heap.Heap) *Types {
	meta := h.NewMetaType("Type")
	t := &Types{
		MapType:       h.NewType(meta, "PersistentHashMap"),
		SetType:       h.NewType(meta, "PersistentHashSet"),
		CollisionNode: h.NewType(meta, "HashCollisionNode"),
		ArrayNode:     h.NewType(meta, "HashArrayNode"),
		SeqType:       h.NewType(meta, "HashMapSeq"),
	}
	sentinelType := h.NewType(meta, "Sentinel")
	t.Sentinel = h.AllocStatic(sentinelType, nil)
	placeholderType := h.NewType(meta, "SetPlaceholder")
	t.SetPlaceholder = h.AllocStatic(placeholderType, nil)

	h.RegisterRootProvider(func() []heap.Value {
		return []heap.Value{
			t.MapType, t.SetType, t.CollisionNode, t.ArrayNode, t.SeqType,
			t.Sentinel, t.SetPlaceholder,
		}
	})

	registerMapProtocols(h, t)
	registerSetProtocols(h, t)
	return t
}

func (t *Types) isNode(h *heap.Heap, v heap.Value) bool {
	if v.Tag() != heap.ObjectTag {
		return false
	}
	ty := h.ObjectType(v)
	return ty.Is(t.CollisionNode) || ty.Is(t.ArrayNode)
}
