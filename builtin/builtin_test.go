package builtin

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafalprzywarski/cleo-go/atom"
	"github.com/rafalprzywarski/cleo-go/cleoerr"
	"github.com/rafalprzywarski/cleo-go/collection"
	"github.com/rafalprzywarski/cleo-go/hamt"
	"github.com/rafalprzywarski/cleo-go/heap"
	"github.com/rafalprzywarski/cleo-go/multimethod"
	"github.com/rafalprzywarski/cleo-go/namespace"
	"github.com/rafalprzywarski/cleo-go/vm"
)

// nativeFnCaller directly invokes a NativeFnTag value's Go function,
// enough of vm.VM.Call's contract for swap! tests that only ever pass
// a native update function, without pulling in the full VM.
type nativeFnCaller struct{ h *heap.Heap }

func (c nativeFnCaller) Call(fn heap.Value, args []heap.Value) (heap.Value, error) {
	return c.h.GetNativeFn(fn)(args)
}

func newFixture(t *testing.T) (*Registry, *heap.Heap, *cleoerr.Types, *namespace.Registry) {
	h := heap.NewHeap()
	ht := hamt.NewTypes(h)
	col := collection.NewTypes(h, ht)
	errs := cleoerr.NewTypes(h)
	hier := multimethod.NewHierarchy(h, errs)
	bc := vm.NewTypes(h, col)
	at := atom.NewTypes(h)
	ns := namespace.NewRegistry(h)
	return New(h, col, errs, hier, bc, at, nativeFnCaller{h}), h, errs, ns
}

func callErr(t *testing.T, err error) *cleoerr.Error {
	require.Error(t, err)
	cerr, ok := err.(*cleoerr.Error)
	require.True(t, ok)
	return cerr
}

func TestAddOverflowChecked(t *testing.T) {
	r, h, errs, _ := newFixture(t)
	result, err := r.add([]heap.Value{h.CreateInt64(2), h.CreateInt64(3)})
	require.NoError(t, err)
	assert.Equal(t, int64(5), h.GetInt64(result))

	_, err = r.add([]heap.Value{h.CreateInt64(math.MaxInt64), h.CreateInt64(1)})
	cerr := callErr(t, err)
	assert.True(t, h.ObjectType(cerr.Value).Is(errs.ArithmeticExceptionType))
}

func TestSubUnaryAndBinary(t *testing.T) {
	r, h, _, _ := newFixture(t)
	neg, err := r.sub([]heap.Value{h.CreateInt64(5)})
	require.NoError(t, err)
	assert.Equal(t, int64(-5), h.GetInt64(neg))

	diff, err := r.sub([]heap.Value{h.CreateInt64(10), h.CreateInt64(3)})
	require.NoError(t, err)
	assert.Equal(t, int64(7), h.GetInt64(diff))
}

func TestMultOverflowChecked(t *testing.T) {
	r, h, errs, _ := newFixture(t)
	result, err := r.mult([]heap.Value{h.CreateInt64(6), h.CreateInt64(7)})
	require.NoError(t, err)
	assert.Equal(t, int64(42), h.GetInt64(result))

	_, err = r.mult([]heap.Value{h.CreateInt64(math.MaxInt64), h.CreateInt64(2)})
	cerr := callErr(t, err)
	assert.True(t, h.ObjectType(cerr.Value).Is(errs.ArithmeticExceptionType))
}

func TestLtAndEqReturnTrueKeywordOrNil(t *testing.T) {
	r, h, _, _ := newFixture(t)
	lt, err := r.lt([]heap.Value{h.CreateInt64(1), h.CreateInt64(2)})
	require.NoError(t, err)
	assert.True(t, lt.Is(r.trueVal))

	notLt, err := r.lt([]heap.Value{h.CreateInt64(2), h.CreateInt64(1)})
	require.NoError(t, err)
	assert.True(t, notLt.IsNil())

	eq, err := r.eq([]heap.Value{h.CreateInt64(9), h.CreateInt64(9)})
	require.NoError(t, err)
	assert.True(t, eq.Is(r.trueVal))
}

func TestBitOps(t *testing.T) {
	r, h, _, _ := newFixture(t)
	and, err := r.bitAnd([]heap.Value{h.CreateInt64(0b1100), h.CreateInt64(0b1010)})
	require.NoError(t, err)
	assert.Equal(t, int64(0b1000), h.GetInt64(and))

	shl, err := r.bitShiftLeft([]heap.Value{h.CreateInt64(1), h.CreateInt64(4)})
	require.NoError(t, err)
	assert.Equal(t, int64(16), h.GetInt64(shl))

	ushr, err := r.unsignedBitShiftRight([]heap.Value{h.CreateInt64(-1), h.CreateInt64(60)})
	require.NoError(t, err)
	assert.Equal(t, int64(15), h.GetInt64(ushr))
}

func TestIdenticalComparesByHandleNotValue(t *testing.T) {
	r, h, _, _ := newFixture(t)
	a := h.CreateString("x")
	b := h.CreateString("x")
	same, err := r.identical([]heap.Value{a, a})
	require.NoError(t, err)
	assert.True(t, same.Is(r.trueVal))

	diff, err := r.identical([]heap.Value{a, b})
	require.NoError(t, err)
	assert.True(t, diff.IsNil())
}

func TestTypePredicates(t *testing.T) {
	r, h, _, _ := newFixture(t)
	sym := h.CreateSymbol("", "x")
	isSym, err := r.symbolQ([]heap.Value{sym})
	require.NoError(t, err)
	assert.True(t, isSym.Is(r.trueVal))

	vec := h.AllocStatic(r.col.VectorType, []heap.Value{h.CreateInt64(1)})
	isVec, err := r.vectorQ([]heap.Value{vec})
	require.NoError(t, err)
	assert.True(t, isVec.Is(r.trueVal))

	notVec, err := r.vectorQ([]heap.Value{sym})
	require.NoError(t, err)
	assert.True(t, notVec.IsNil())

	m := hamt.Empty(h, r.col.Hamt)
	isMap, err := r.mapQ([]heap.Value{m})
	require.NoError(t, err)
	assert.True(t, isMap.Is(r.trueVal))
}

func TestStrConcatenatesDisplayForm(t *testing.T) {
	r, h, _, _ := newFixture(t)
	result, err := r.str([]heap.Value{h.CreateString("a"), h.CreateInt64(1), heap.Nil, h.CreateString("b")})
	require.NoError(t, err)
	assert.Equal(t, "a1b", h.GetString(result))
}

func TestCountDispatchesThroughGenericProtocol(t *testing.T) {
	r, h, _, _ := newFixture(t)
	vec := h.AllocStatic(r.col.VectorType, []heap.Value{h.CreateInt64(1), h.CreateInt64(2), h.CreateInt64(3)})
	result, err := r.count([]heap.Value{vec})
	require.NoError(t, err)
	assert.Equal(t, int64(3), h.GetInt64(result))
}

func TestGetWithAndWithoutDefault(t *testing.T) {
	r, h, _, _ := newFixture(t)
	m := hamt.Empty(h, r.col.Hamt)
	k := h.CreateKeyword("", "a")
	m = hamt.Assoc(h, r.col.Hamt, m, k, h.CreateInt64(1))

	found, err := r.get([]heap.Value{m, k})
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.GetInt64(found))

	missing, err := r.get([]heap.Value{m, h.CreateKeyword("", "b")})
	require.NoError(t, err)
	assert.True(t, missing.IsNil())

	withDefault, err := r.get([]heap.Value{m, h.CreateKeyword("", "b"), h.CreateInt64(-1)})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), h.GetInt64(withDefault))
}

func TestNthRaisesIndexOutOfBoundsWithoutDefault(t *testing.T) {
	r, h, errs, _ := newFixture(t)
	vec := h.AllocStatic(r.col.VectorType, []heap.Value{h.CreateInt64(10), h.CreateInt64(20)})

	ok, err := r.nth([]heap.Value{vec, h.CreateInt64(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(20), h.GetInt64(ok))

	_, err = r.nth([]heap.Value{vec, h.CreateInt64(5)})
	cerr := callErr(t, err)
	assert.True(t, h.ObjectType(cerr.Value).Is(errs.IndexOutOfBoundsType))

	withDefault, err := r.nth([]heap.Value{vec, h.CreateInt64(5), h.CreateInt64(-1)})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), h.GetInt64(withDefault))
}

func TestSha256DigestMatchesKnownVector(t *testing.T) {
	r, h, _, _ := newFixture(t)
	result, err := r.sha256Digest([]heap.Value{h.CreateString("")})
	require.NoError(t, err)
	digest := r.bc.ByteArrayBytes(result)
	require.Len(t, digest, 32)
	// echo -n "" | sha256sum
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", hexString(digest))
}

func hexString(b []byte) string {
	const hexdigit = "0123456789abcdef"
	s := make([]byte, len(b)*2)
	for i, c := range b {
		s[i*2] = hexdigit[c>>4]
		s[i*2+1] = hexdigit[c&0xf]
	}
	return string(s)
}

func TestAtomCtorDerefAndResetReturnsReplacedValue(t *testing.T) {
	r, h, _, _ := newFixture(t)
	a, err := r.atomCtor([]heap.Value{h.CreateInt64(1)})
	require.NoError(t, err)

	v, err := r.deref([]heap.Value{a})
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.GetInt64(v))

	old, err := r.reset([]heap.Value{a, h.CreateInt64(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.GetInt64(old))

	v, err = r.deref([]heap.Value{a})
	require.NoError(t, err)
	assert.Equal(t, int64(2), h.GetInt64(v))
}

func TestDerefAndResetRejectNonAtoms(t *testing.T) {
	r, h, errs, _ := newFixture(t)
	_, err := r.deref([]heap.Value{h.CreateInt64(1)})
	cerr := callErr(t, err)
	assert.True(t, h.ObjectType(cerr.Value).Is(errs.IllegalArgumentType))

	_, err = r.reset([]heap.Value{h.CreateInt64(1), h.CreateInt64(2)})
	callErr(t, err)
}

func TestSwapAppliesFnToCurrentValueAndExtraArgsThenResets(t *testing.T) {
	r, h, _, _ := newFixture(t)
	a, err := r.atomCtor([]heap.Value{h.CreateInt64(10)})
	require.NoError(t, err)

	addFn := h.CreateNativeFn(func(args []heap.Value) (heap.Value, error) { return r.add(args) })
	newVal, err := r.swap([]heap.Value{a, addFn, h.CreateInt64(5)})
	require.NoError(t, err)
	assert.Equal(t, int64(15), h.GetInt64(newVal))

	deref, err := r.deref([]heap.Value{a})
	require.NoError(t, err)
	assert.Equal(t, int64(15), h.GetInt64(deref))
}

// Register defines every entry into the given namespace as a plain
// (non-dynamic) var, leaving the registry's current namespace
// restored to whatever it was before.
func TestRegisterDefinesIntoNamedNamespaceAndRestoresCurrent(t *testing.T) {
	r, h, _, ns := newFixture(t)
	before := ns.Current().Name
	r.Register(ns, "cleo.core")
	assert.Equal(t, before, ns.Current().Name)

	plusNs := ns.InNs("cleo.core")
	v, ok := ns.ResolveVar(plusNs, h.CreateSymbol("", "+"))
	require.True(t, ok)
	fn := ns.VarRoot(v)
	assert.Equal(t, heap.NativeFnTag, fn.Tag())
}
