package atom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafalprzywarski/cleo-go/heap"
)

func TestCreateAndDeref(t *testing.T) {
	h := heap.NewHeap()
	ty := NewTypes(h)
	a := Create(h, ty, h.CreateInt64(1))
	require.True(t, h.ObjectType(a).Is(ty.AtomType))
	assert.Equal(t, int64(1), h.GetInt64(Deref(h, a)))
}

func TestResetReturnsTheReplacedValue(t *testing.T) {
	h := heap.NewHeap()
	ty := NewTypes(h)
	a := Create(h, ty, h.CreateInt64(1))
	old := Reset(h, a, h.CreateInt64(2))
	assert.Equal(t, int64(1), h.GetInt64(old))
	assert.Equal(t, int64(2), h.GetInt64(Deref(h, a)))
}

func TestResetMutatesInPlaceRatherThanAllocatingANewAtom(t *testing.T) {
	h := heap.NewHeap()
	ty := NewTypes(h)
	a := Create(h, ty, h.CreateInt64(1))
	alias := a
	Reset(h, a, h.CreateInt64(2))
	assert.Equal(t, int64(2), h.GetInt64(Deref(h, alias)), "a held-over reference to the same atom must observe the mutation")
}
