// Package collection implements the sequential and small associative
// collections of spec §4.2: persistent vector, list, cons cells, and
// the linear-scan array-map/array-set that transparently promote to a
// hamt.Types map/set past the size-16 threshold. It is grounded on
// original_source/source/core/cleo/array.cpp, array_map.cpp,
// array_set.cpp, list.cpp, cons.cpp, lazy_seq.cpp, string_seq.cpp.
package collection

import (
	"github.com/rafalprzywarski/cleo-go/hamt"
	"github.com/rafalprzywarski/cleo-go/heap"
)

// Types holds the heap types this package bootstraps, plus the
// hamt.Types promotion target shared by ArrayMap/ArraySet.
type Types struct {
	VectorType          heap.Value
	TransientVectorType heap.Value
	VectorSeqType       heap.Value
	ListType            heap.Value
	EmptyListVal        heap.Value
	ConsType            heap.Value
	ArrayMapType        heap.Value
	ArraySetType        heap.Value
	LazySeqType         heap.Value
	RangeType           heap.Value
	StringSeqType       heap.Value

	Hamt *hamt.Types
}

// NewTypes bootstraps the collection heap types over the same meta
// type family hamt.Types uses, and registers every protocol entry
// (equal/hash/seq/first/next/count/pr-str/get/assoc/dissoc/contains/
// conj) spec §9 names for each of these types.
func NewTypes(h *heap.Heap, ht *hamt.Types) *Types {
	meta := h.NewMetaType("Type")
	t := &Types{
		VectorType:          h.NewType(meta, "PersistentVector"),
		TransientVectorType: h.NewType(meta, "TransientVector"),
		VectorSeqType:       h.NewType(meta, "VectorSeq"),
		ListType:            h.NewType(meta, "PersistentList"),
		ConsType:            h.NewType(meta, "Cons"),
		ArrayMapType:        h.NewType(meta, "ArrayMap"),
		ArraySetType:        h.NewType(meta, "ArraySet"),
		LazySeqType:         h.NewType(meta, "LazySeq"),
		RangeType:           h.NewType(meta, "Range"),
		StringSeqType:       h.NewType(meta, "StringSeq"),
		Hamt:                ht,
	}
	t.EmptyListVal = h.AllocStaticInts(t.ListType, []heap.Value{heap.Nil, heap.Nil}, []int64{0})

	h.RegisterRootProvider(func() []heap.Value {
		return []heap.Value{
			t.VectorType, t.TransientVectorType, t.VectorSeqType,
			t.ListType, t.EmptyListVal, t.ConsType,
			t.ArrayMapType, t.ArraySetType, t.LazySeqType, t.RangeType,
			t.StringSeqType,
		}
	})

	registerVectorProtocols(h, t)
	registerListProtocols(h, t)
	registerConsProtocols(h, t)
	registerArrayMapProtocols(h, t)
	registerArraySetProtocols(h, t)
	registerSeqProtocols(h, t)
	return t
}

// indexOf extracts an int index from a boxed Int64 or inline Int48
// Value, the two numeric shapes a vector index may arrive as.
func indexOf(h *heap.Heap, key heap.Value) (int, bool) {
	switch key.Tag() {
	case heap.Int64Tag:
		return int(h.GetInt64(key)), true
	case heap.Int48Tag:
		return int(key.AsInt48()), true
	default:
		return 0, false
	}
}
