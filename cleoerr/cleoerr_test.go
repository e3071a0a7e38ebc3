package cleoerr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rafalprzywarski/cleo-go/heap"
)

func TestConstructorsCarryMessageAndType(t *testing.T) {
	h := heap.NewHeap()
	t1 := NewTypes(h)

	err := NewIllegalArgument(h, t1, "not an int")
	assert.Equal(t, "not an int", err.Error())
	assert.Equal(t, "not an int", Message(h, err.Value))
	assert.True(t, h.ObjectType(err.Value).Is(t1.IllegalArgumentType))
}

func TestIsATypeMatching(t *testing.T) {
	h := heap.NewHeap()
	t1 := NewTypes(h)
	err := NewArithmeticException(h, t1, "overflow")

	assert.True(t, t1.IsA(err.Value, t1.ArithmeticExceptionType, h))
	assert.False(t, t1.IsA(err.Value, t1.IllegalArgumentType, h))
	assert.True(t, t1.IsA(err.Value, heap.Nil, h), "nil catch-type matches any exception")
	assert.True(t, t1.IsA(err.Value, t1.ExceptionType, h))
}

func TestPrStr(t *testing.T) {
	h := heap.NewHeap()
	t1 := NewTypes(h)
	err := NewIndexOutOfBounds(h, t1, "index 5")
	assert.Contains(t, h.PrStr(err.Value), "index 5")
	assert.Contains(t, h.PrStr(err.Value), "IndexOutOfBounds")
}

func TestCurrentExceptionSlotSurvivesCollection(t *testing.T) {
	h := heap.NewHeap()
	t1 := NewTypes(h)
	err := NewCallError(h, t1, "bad arity")
	h.SetCurrentException(err.Value)
	h.ForceCollect()
	assert.Equal(t, "bad arity", Message(h, err.Value))
}
