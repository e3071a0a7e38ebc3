package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafalprzywarski/cleo-go/heap"
)

func TestDefineAndResolveUnqualified(t *testing.T) {
	h := heap.NewHeap()
	r := NewRegistry(h)
	ns := r.Current()

	v := r.Define(ns, "x", h.CreateInt64(42), heap.Nil, false)
	sym := h.CreateSymbol("", "x")
	resolved, ok := r.ResolveVar(ns, sym)
	require.True(t, ok)
	assert.True(t, resolved.Is(v))
	assert.Equal(t, int64(42), h.GetInt64(r.VarRoot(v)))
}

func TestDefineUpdatesInPlace(t *testing.T) {
	h := heap.NewHeap()
	r := NewRegistry(h)
	ns := r.Current()

	v1 := r.Define(ns, "x", h.CreateInt64(1), heap.Nil, false)
	v2 := r.Define(ns, "x", h.CreateInt64(2), heap.Nil, false)
	assert.True(t, v1.Is(v2), "redefining must keep the same Var identity")
	assert.Equal(t, int64(2), h.GetInt64(r.VarRoot(v1)))
}

func TestQualifiedResolution(t *testing.T) {
	h := heap.NewHeap()
	r := NewRegistry(h)
	other := r.InNs("other")
	r.Define(other, "y", h.CreateInt64(7), heap.Nil, false)

	r.InNs("user")
	sym := h.CreateSymbol("other", "y")
	v, ok := r.ResolveVar(r.Current(), sym)
	require.True(t, ok)
	assert.Equal(t, int64(7), h.GetInt64(r.VarRoot(v)))
}

func TestRefer(t *testing.T) {
	h := heap.NewHeap()
	r := NewRegistry(h)
	src := r.InNs("src")
	v := r.Define(src, "z", h.CreateInt64(9), heap.Nil, false)

	dst := r.InNs("dst")
	r.Refer(dst, src)
	got, ok := dst.Mappings["z"]
	require.True(t, ok)
	assert.True(t, got.Is(v))
}

func TestDynamicBindingStack(t *testing.T) {
	h := heap.NewHeap()
	r := NewRegistry(h)
	ns := r.Current()
	v := r.Define(ns, "d", h.CreateInt64(1), heap.Nil, true)

	assert.Equal(t, int64(1), h.GetInt64(r.DynamicValue(v)))

	r.PushBindings(map[heap.Value]heap.Value{v: h.CreateInt64(100)})
	assert.Equal(t, int64(100), h.GetInt64(r.DynamicValue(v)))

	r.PushBindings(map[heap.Value]heap.Value{v: h.CreateInt64(200)})
	assert.Equal(t, int64(200), h.GetInt64(r.DynamicValue(v)))

	r.PopBindings()
	assert.Equal(t, int64(100), h.GetInt64(r.DynamicValue(v)))

	r.PopBindings()
	assert.Equal(t, int64(1), h.GetInt64(r.DynamicValue(v)))
}

func TestPopBindingsUnderflowPanics(t *testing.T) {
	h := heap.NewHeap()
	r := NewRegistry(h)
	assert.Panics(t, func() { r.PopBindings() })
}

func TestSortedNames(t *testing.T) {
	h := heap.NewHeap()
	r := NewRegistry(h)
	ns := r.Current()
	r.Define(ns, "zeta", h.CreateInt64(1), heap.Nil, false)
	r.Define(ns, "alpha", h.CreateInt64(2), heap.Nil, false)
	r.Define(ns, "mid", h.CreateInt64(3), heap.Nil, false)

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.SortedNames(ns))
}

func TestGCRootsSurviveCollection(t *testing.T) {
	h := heap.NewHeap()
	r := NewRegistry(h)
	ns := r.Current()
	v := r.Define(ns, "kept", h.CreateInt64(55), heap.Nil, false)

	h.ForceCollect()

	assert.Equal(t, int64(55), h.GetInt64(r.VarRoot(v)))
}
