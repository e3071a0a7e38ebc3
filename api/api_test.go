package api

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafalprzywarski/cleo-go/heap"
)

func TestReadEvalRoundTrip(t *testing.T) {
	rt := New("cleo.core")
	form, err := rt.Read("(+ 1 2)")
	require.NoError(t, err)
	result, err := rt.Eval(form)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rt.Heap.GetInt64(result))
}

func TestDefineAndResolve(t *testing.T) {
	rt := New("cleo.core")
	sym := rt.CreateSymbol("", "answer")
	rt.Define(sym, rt.Heap.CreateInt64(42), heap.Nil)
	v, ok := rt.NS.ResolveVar(rt.NS.Current(), sym)
	require.True(t, ok)
	assert.Equal(t, int64(42), rt.Heap.GetInt64(rt.NS.VarRoot(v)))
}

func TestInNsSwitchesCurrentNamespace(t *testing.T) {
	rt := New("cleo.core")
	rt.InNs(rt.CreateSymbol("", "scratch"))
	assert.Equal(t, "scratch", rt.NS.Current().Name)
}

func TestReferCopiesMappingsIntoCurrentNamespace(t *testing.T) {
	rt := New("cleo.core")
	rt.InNs(rt.CreateSymbol("", "user"))
	rt.Refer(rt.CreateSymbol("", "cleo.core"))
	_, ok := rt.NS.ResolveVar(rt.NS.Current(), rt.CreateSymbol("", "+"))
	require.True(t, ok)
}

func TestPushPopBindingsAreStrictlyPaired(t *testing.T) {
	rt := New("cleo.core")
	sym := rt.CreateSymbol("", "*dyn*")
	v := rt.Define(sym, rt.Heap.CreateInt64(1), heap.Nil)
	rt.PushBindings(map[heap.Value]heap.Value{v: rt.Heap.CreateInt64(2)})
	assert.Equal(t, int64(2), rt.Heap.GetInt64(rt.NS.DynamicValue(v)))
	rt.PopBindings()
	assert.Equal(t, int64(1), rt.Heap.GetInt64(rt.NS.DynamicValue(v)))
}

func TestThrowExceptionSetsCurrentExceptionSlot(t *testing.T) {
	rt := New("cleo.core")
	ex := rt.Heap.AllocStatic(rt.Errs.IllegalStateType, []heap.Value{rt.Heap.CreateString("bad")})
	err := rt.ThrowException(ex)
	require.Error(t, err)
	caught, ok := rt.CatchException()
	require.True(t, ok)
	assert.True(t, caught.Is(ex))

	_, ok = rt.CatchException()
	assert.False(t, ok)
}

func TestCreateArrayBuildsAVectorThroughTheTransientBuilder(t *testing.T) {
	rt := New("cleo.core")
	v := rt.CreateArray([]heap.Value{rt.Heap.CreateInt64(1), rt.Heap.CreateInt64(2), rt.Heap.CreateInt64(3)})
	assert.True(t, rt.Heap.ObjectType(v).Is(rt.Col.VectorType))
	assert.Equal(t, 3, rt.Heap.ObjectSize(v))
}

func TestHamtMapAndSetConstructors(t *testing.T) {
	rt := New("cleo.core")
	k := rt.CreateKeyword("", "a")
	m := rt.HamtMapAssoc(rt.EmptyHamtMap(), k, rt.Heap.CreateInt64(1))
	found, ok := rt.Heap.Get(m, k)
	require.True(t, ok)
	assert.Equal(t, int64(1), rt.Heap.GetInt64(found))

	s := rt.HamtSetConj(rt.EmptyHamtSet(), k)
	_, ok = rt.Heap.Get(s, k)
	require.True(t, ok)
}

func TestRequireLoadsAndEvaluatesASourceFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeting.cleo"), []byte(`(def greeting 7)`), 0o644))

	rt := New("cleo.core")
	rt.SourcePath = []string{dir}
	err := rt.Require(rt.CreateSymbol("", "greeting"))
	require.NoError(t, err)

	greetingNs := rt.NS.InNs("greeting")
	v, ok := rt.NS.ResolveVar(greetingNs, rt.CreateSymbol("", "greeting"))
	require.True(t, ok)
	assert.Equal(t, int64(7), rt.Heap.GetInt64(rt.NS.VarRoot(v)))
}

func TestRequireMissingSourceRaisesFileNotFound(t *testing.T) {
	rt := New("cleo.core")
	rt.SourcePath = []string{t.TempDir()}
	err := rt.Require(rt.CreateSymbol("", "nonexistent.ns"))
	require.Error(t, err)
}

func TestNewPrimesDefaultOptions(t *testing.T) {
	rt := New("cleo.core")
	assert.Equal(t, 64, rt.Options.GetInt("gc.frequency"))
	assert.False(t, rt.Options.GetBool("profiler.enabled"))
}

func TestNewWithOptionsWiresGCFrequencyIntoTheHeap(t *testing.T) {
	opts := NewRuntimeOptions()
	opts.SetInt("gc.frequency", 4)
	rt := NewWithOptions("cleo.core", opts)
	assert.Same(t, opts, rt.Options)
	assert.Equal(t, 4, rt.Options.GetInt("gc.frequency"))
}

func TestRuntimeOptionsGetPanicsOnUnsetOrWrongType(t *testing.T) {
	opts := NewRuntimeOptions()
	assert.Panics(t, func() { opts.GetInt("no.such.option") })
	assert.Panics(t, func() { opts.GetBool("gc.frequency") })
}

func TestAtomConstructorDerefAndResetThroughTheEmbeddingSurface(t *testing.T) {
	rt := New("cleo.core")
	a := rt.CreateAtom(rt.Heap.CreateInt64(1))
	assert.Equal(t, int64(1), rt.Heap.GetInt64(rt.AtomDeref(a)))

	old := rt.AtomReset(a, rt.Heap.CreateInt64(2))
	assert.Equal(t, int64(1), rt.Heap.GetInt64(old))
	assert.Equal(t, int64(2), rt.Heap.GetInt64(rt.AtomDeref(a)))
}

func TestAtomSwapRoundTripsThroughEval(t *testing.T) {
	rt := New("cleo.core")
	form, err := rt.Read("(swap! (atom 10) + 5)")
	require.NoError(t, err)
	result, err := rt.Eval(form)
	require.NoError(t, err)
	assert.Equal(t, int64(15), rt.Heap.GetInt64(result))
}
