package collection

import (
	"unicode/utf8"

	"github.com/rafalprzywarski/cleo-go/heap"
)

// StringSeq, LazySeq and Range fill in spec §4.2/§9's "generic seq
// dispatch" so strings, lazily-computed sequences, and test-fixture
// ranges all participate in the same seq/first/next protocol as the
// eager collections, grounded on original_source's string_seq.cpp and
// lazy_seq.cpp.

// --- string seq ---

func stringSeq(h *heap.Heap, t *Types, s heap.Value) heap.Value {
	if len(h.GetString(s)) == 0 {
		return heap.Nil
	}
	return h.AllocStaticInts(t.StringSeqType, []heap.Value{s}, []int64{0})
}

func stringSeqFirst(h *heap.Heap, cur heap.Value) heap.Value {
	str := h.GetString(h.ObjectElement(cur, 0))
	byteIdx := int(h.ObjectInt(cur, 0))
	r, _ := utf8.DecodeRuneInString(str[byteIdx:])
	return heap.Int48(int64(r))
}

func stringSeqNext(h *heap.Heap, t *Types, cur heap.Value) heap.Value {
	str := h.GetString(h.ObjectElement(cur, 0))
	byteIdx := int(h.ObjectInt(cur, 0))
	_, size := utf8.DecodeRuneInString(str[byteIdx:])
	nextIdx := byteIdx + size
	if nextIdx >= len(str) {
		return heap.Nil
	}
	return h.AllocStaticInts(t.StringSeqType, []heap.Value{h.ObjectElement(cur, 0)}, []int64{int64(nextIdx)})
}

// --- lazy seq ---

// NewLazySeq wraps thunk (a zero-argument NativeFn expected to return
// a seq-shaped value or Nil) so it is only ever invoked once, the
// first time it is forced; the result is cached in place.
func NewLazySeq(h *heap.Heap, t *Types, thunk heap.Value) heap.Value {
	r := h.NewRoot(thunk)
	ls := h.AllocDynamic(t.LazySeqType, nil, 2)
	lr := h.NewRoot(ls)
	h.DynamicAppend(lr.Get(), r.Get())
	h.DynamicAppend(lr.Get(), heap.Nil)
	result := lr.Get()
	lr.Release()
	r.Release()
	return result
}

// ForceLazySeq realizes ls, invoking its thunk at most once.
func ForceLazySeq(h *heap.Heap, ls heap.Value) heap.Value {
	thunkSlot := h.ObjectElement(ls, 0)
	if thunkSlot.IsNil() {
		return h.ObjectElement(ls, 1)
	}
	fn := h.GetNativeFn(thunkSlot)
	realized, err := fn(nil)
	if err != nil {
		// A lazy seq's realization error has nowhere to surface
		// through the Seq/First/Next protocol's error-less signatures;
		// callers that need a recoverable error invoke the thunk
		// directly instead of going through force.
		panic(err)
	}
	h.DynamicSetElement(ls, 0, heap.Nil)
	h.DynamicSetElement(ls, 1, realized)
	return realized
}

// --- range ---

// NewRange builds a finite arithmetic sequence [start, end) stepping
// by step, or Nil if the range is already empty.
func NewRange(h *heap.Heap, t *Types, start, end, step int64) heap.Value {
	if step == 0 || (step > 0 && start >= end) || (step < 0 && start <= end) {
		return heap.Nil
	}
	return h.AllocStaticInts(t.RangeType, nil, []int64{start, end, step})
}

func rangeFirst(h *heap.Heap, r heap.Value) heap.Value {
	return h.CreateInt64(h.ObjectInt(r, 0))
}

func rangeNext(h *heap.Heap, t *Types, r heap.Value) heap.Value {
	start, end, step := h.ObjectInt(r, 0), h.ObjectInt(r, 1), h.ObjectInt(r, 2)
	next := start + step
	if (step > 0 && next >= end) || (step < 0 && next <= end) {
		return heap.Nil
	}
	return h.AllocStaticInts(t.RangeType, nil, []int64{next, end, step})
}

func registerSeqProtocols(h *heap.Heap, t *Types) {
	h.RegisterStringSeq(func(h *heap.Heap, v heap.Value) heap.Value { return stringSeq(h, t, v) })
	h.RegisterSeq(t.StringSeqType, func(h *heap.Heap, v heap.Value) heap.Value { return v })
	h.RegisterFirst(t.StringSeqType, func(h *heap.Heap, v heap.Value) heap.Value { return stringSeqFirst(h, v) })
	h.RegisterNext(t.StringSeqType, func(h *heap.Heap, v heap.Value) heap.Value { return stringSeqNext(h, t, v) })

	h.RegisterSeq(t.LazySeqType, func(h *heap.Heap, v heap.Value) heap.Value { return h.Seq(ForceLazySeq(h, v)) })
	h.RegisterFirst(t.LazySeqType, func(h *heap.Heap, v heap.Value) heap.Value { return h.First(ForceLazySeq(h, v)) })
	h.RegisterNext(t.LazySeqType, func(h *heap.Heap, v heap.Value) heap.Value { return h.Next(ForceLazySeq(h, v)) })

	h.RegisterSeq(t.RangeType, func(h *heap.Heap, v heap.Value) heap.Value { return v })
	h.RegisterFirst(t.RangeType, func(h *heap.Heap, v heap.Value) heap.Value { return rangeFirst(h, v) })
	h.RegisterNext(t.RangeType, func(h *heap.Heap, v heap.Value) heap.Value { return rangeNext(h, t, v) })
	h.RegisterCount(t.RangeType, func(h *heap.Heap, v heap.Value) int {
		start, end, step := h.ObjectInt(v, 0), h.ObjectInt(v, 1), h.ObjectInt(v, 2)
		n := (end - start + step - sign(step)) / step
		if n < 0 {
			n = 0
		}
		return int(n)
	})
}

func sign(n int64) int64 {
	if n < 0 {
		return -1
	}
	return 1
}
