package vm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafalprzywarski/cleo-go/cleoerr"
	"github.com/rafalprzywarski/cleo-go/collection"
	"github.com/rafalprzywarski/cleo-go/hamt"
	"github.com/rafalprzywarski/cleo-go/heap"
	"github.com/rafalprzywarski/cleo-go/multimethod"
	"github.com/rafalprzywarski/cleo-go/namespace"
)

func newTestVM(t *testing.T) (*VM, *heap.Heap, *Types) {
	h := heap.NewHeap()
	ht := hamt.NewTypes(h)
	col := collection.NewTypes(h, ht)
	bc := NewTypes(h, col)
	errs := cleoerr.NewTypes(h)
	ns := namespace.NewRegistry(h)
	hier := multimethod.NewHierarchy(h, errs)
	return New(h, bc, col, errs, ns, hier), h, bc
}

func u16(n uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, n); return b }
func i16(n int16) []byte  { return u16(uint16(n)) }

func op(b byte, imm ...byte) []byte { return append([]byte{b}, imm...) }

func concat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// identity(x) compiled as: LDL -1  (push the single param, which sits
// one slot below the frame base, leaving it as the implicit return).
func TestCallBytecodeFnIdentity(t *testing.T) {
	vm, h, bc := newTestVM(t)
	code := op(byte(LDL), i16(-1)...)
	body := bc.NewBody(1, 0, code, nil, nil, heap.Nil)
	fn := bc.NewFn(heap.Nil, []heap.Value{body}, []int64{1})

	arg := h.CreateInt64(42)
	result, err := vm.Call(fn, []heap.Value{arg})
	require.NoError(t, err)
	assert.Equal(t, int64(42), h.GetInt64(result))
}

func TestCallBytecodeFnArityMismatch(t *testing.T) {
	vm, h, bc := newTestVM(t)
	code := op(byte(LDL), i16(-1)...)
	body := bc.NewBody(1, 0, code, nil, nil, heap.Nil)
	fn := bc.NewFn(heap.Nil, []heap.Value{body}, []int64{1})

	_, err := vm.Call(fn, []heap.Value{h.CreateInt64(1), h.CreateInt64(2)})
	require.Error(t, err)
	cerr, ok := err.(*cleoerr.Error)
	require.True(t, ok)
	assert.True(t, h.ObjectType(cerr.Value).Is(vm.errs.CallErrorType))
}

// rest(x, &more) compiled with a variadic body (fixed arity 1, `^1`
// stored as arity) whose code is just LDL -1: the fixed param occupies
// -2 and the packed rest-arg seq occupies -1, immediately below frame
// base, so LDL -1 reads the rest seq back.
func TestCallBytecodeFnVariadicPacksRest(t *testing.T) {
	vm, h, bc := newTestVM(t)
	code := op(byte(LDL), i16(-1)...)
	body := bc.NewBody(^int64(1), 0, code, nil, nil, heap.Nil)
	fn := bc.NewFn(heap.Nil, []heap.Value{body}, []int64{^int64(1)})

	args := []heap.Value{h.CreateInt64(1), h.CreateInt64(2), h.CreateInt64(3)}
	result, err := vm.Call(fn, args)
	require.NoError(t, err)
	require.False(t, result.IsNil())
	assert.Equal(t, int64(2), h.GetInt64(h.First(result)))
	assert.Equal(t, int64(3), h.GetInt64(h.First(h.Next(result))))
}

// (+ x y) with overflow-checked addition: unbox both params, add,
// rebox.
func TestAddI64Overflow(t *testing.T) {
	vm, h, bc := newTestVM(t)
	code := concat(
		op(byte(LDL), i16(-2)...),
		op(byte(UBXI64)),
		op(byte(LDL), i16(-1)...),
		op(byte(UBXI64)),
		op(byte(ADDI64)),
		op(byte(BXI64)),
	)
	body := bc.NewBody(2, 0, code, nil, nil, heap.Nil)
	fn := bc.NewFn(heap.Nil, []heap.Value{body}, []int64{2})

	result, err := vm.Call(fn, []heap.Value{h.CreateInt64(2), h.CreateInt64(3)})
	require.NoError(t, err)
	assert.Equal(t, int64(5), h.GetInt64(result))

	_, err = vm.Call(fn, []heap.Value{h.CreateInt64(1<<62), h.CreateInt64(1 << 62)})
	require.Error(t, err)
	cerr, ok := err.(*cleoerr.Error)
	require.True(t, ok)
	assert.True(t, h.ObjectType(cerr.Value).Is(vm.errs.ArithmeticExceptionType))
}

// A body that throws a constant exception value, caught by its own
// exception table, which discards it and pushes a recovery constant.
func TestThrowCaughtByExceptionTable(t *testing.T) {
	vm, h, bc := newTestVM(t)
	exVal := h.AllocStatic(vm.errs.IllegalArgumentType, []heap.Value{h.CreateString("boom")})
	recovery := h.CreateInt64(99)

	ldc := op(byte(LDC), u16(0)...)
	throwPC := len(ldc)
	throw := op(byte(THROW))
	handlerPC := throwPC + len(throw)
	handler := concat(op(byte(POP)), op(byte(LDC), u16(1)...))
	code := concat(ldc, throw, handler)

	excTable := bc.NewExceptionTable([]ExceptionEntry{
		{Start: throwPC, End: throwPC + 1, Handler: handlerPC, SavedStackDepth: 0, Type: heap.Nil},
	})
	body := bc.NewBody(0, 0, code, []heap.Value{exVal, recovery}, nil, excTable)
	fn := bc.NewFn(heap.Nil, []heap.Value{body}, []int64{0})

	result, err := vm.Call(fn, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(99), h.GetInt64(result))
}

// An uncaught exception (no exception table at all) propagates to the
// Go caller as an error rather than being silently swallowed.
func TestThrowUncaughtPropagates(t *testing.T) {
	vm, h, bc := newTestVM(t)
	exVal := h.AllocStatic(vm.errs.IllegalStateType, []heap.Value{h.CreateString("bad")})
	code := concat(op(byte(LDC), u16(0)...), op(byte(THROW)))
	body := bc.NewBody(0, 0, code, []heap.Value{exVal}, nil, heap.Nil)
	fn := bc.NewFn(heap.Nil, []heap.Value{body}, []int64{0})

	_, err := vm.Call(fn, nil)
	require.Error(t, err)
	cerr, ok := err.(*cleoerr.Error)
	require.True(t, ok)
	assert.True(t, cerr.Value.Is(exVal))
}

// Apply spreads fixed args plus a trailing seq's elements onto a
// variadic target exactly like a direct variadic call would: with fixed
// arity 1 and code LDL -1, the result is the packed rest seq (2 3).
func TestApplySpreadsTrailingSeq(t *testing.T) {
	vm, h, bc := newTestVM(t)
	code := op(byte(LDL), i16(-1)...)
	body := bc.NewBody(^int64(1), 0, code, nil, nil, heap.Nil)
	fn := bc.NewFn(heap.Nil, []heap.Value{body}, []int64{^int64(1)})

	trailing := vm.sliceToSeq([]heap.Value{h.CreateInt64(2), h.CreateInt64(3)})
	result, err := vm.Apply(fn, []heap.Value{h.CreateInt64(1)}, trailing)
	require.NoError(t, err)
	require.False(t, result.IsNil())
	assert.Equal(t, int64(2), h.GetInt64(h.First(result)))
	assert.Equal(t, int64(3), h.GetInt64(h.First(h.Next(result))))
	assert.True(t, h.Next(h.Next(result)).IsNil())
}

// IFN captures one constant into a fresh closure whose body reads it
// straight back via LDC pointed at the now-replaced tail slot.
func TestIFNClosureCapture(t *testing.T) {
	vm, h, bc := newTestVM(t)
	code := op(byte(LDC), u16(0)...)
	body := bc.NewBody(0, 0, code, []heap.Value{heap.Nil}, nil, heap.Nil)
	fn := bc.NewFn(heap.Nil, []heap.Value{body}, []int64{0})

	captured := h.CreateInt64(7)
	closure := bc.ReplaceConsts(fn, []heap.Value{captured})

	result, err := vm.Call(closure, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), h.GetInt64(result))
}

// A keyword used as a callable looks itself up in its map argument.
func TestCallGenericKeywordLookup(t *testing.T) {
	vm, h, _ := newTestVM(t)
	ht := hamt.NewTypes(h)
	kw := h.CreateKeyword("", "a")
	m := hamt.Empty(h, ht)
	m = hamt.Assoc(h, ht, m, kw, h.CreateInt64(1))

	result, err := vm.Call(kw, []heap.Value{m})
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.GetInt64(result))

	result, err = vm.Call(kw, []heap.Value{m, h.CreateInt64(-1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.GetInt64(result))
}

func TestCallGenericKeywordLookupMissingReturnsDefault(t *testing.T) {
	vm, h, _ := newTestVM(t)
	ht := hamt.NewTypes(h)
	kw := h.CreateKeyword("", "missing")
	m := hamt.Empty(h, ht)

	result, err := vm.Call(kw, []heap.Value{m, h.CreateInt64(-1)})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), h.GetInt64(result))
}
