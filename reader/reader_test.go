package reader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafalprzywarski/cleo-go/cleoerr"
	"github.com/rafalprzywarski/cleo-go/collection"
	"github.com/rafalprzywarski/cleo-go/hamt"
	"github.com/rafalprzywarski/cleo-go/heap"
)

func newFixture(t *testing.T) (*Reader, *heap.Heap, *collection.Types) {
	h := heap.NewHeap()
	ht := hamt.NewTypes(h)
	col := collection.NewTypes(h, ht)
	errs := cleoerr.NewTypes(h)
	return New(h, col, errs), h, col
}

func TestReadInt(t *testing.T) {
	r, h, _ := newFixture(t)
	v, err := r.Read("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), h.GetInt64(v))

	v, err = r.Read("-7")
	require.NoError(t, err)
	assert.Equal(t, int64(-7), h.GetInt64(v))
}

func TestReadNilSymbolReadsAsNil(t *testing.T) {
	r, _, _ := newFixture(t)
	v, err := r.Read("nil")
	require.NoError(t, err)
	assert.True(t, v.IsNil())
}

func TestReadString(t *testing.T) {
	r, h, _ := newFixture(t)
	v, err := r.Read(`"hello\nworld"`)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", h.GetString(v))
}

func TestReadUnterminatedStringErrors(t *testing.T) {
	r, _, _ := newFixture(t)
	_, err := r.Read(`"abc`)
	require.Error(t, err)
}

func TestReadSymbolQualifiedAndUnqualified(t *testing.T) {
	r, h, _ := newFixture(t)
	v, err := r.Read("foo")
	require.NoError(t, err)
	assert.Equal(t, "", h.SymbolNamespaceString(v))
	assert.Equal(t, "foo", h.SymbolNameString(v))

	v, err = r.Read("ns/foo")
	require.NoError(t, err)
	assert.Equal(t, "ns", h.SymbolNamespaceString(v))
	assert.Equal(t, "foo", h.SymbolNameString(v))
}

func TestReadKeyword(t *testing.T) {
	r, h, _ := newFixture(t)
	v, err := r.Read(":foo")
	require.NoError(t, err)
	assert.Equal(t, heap.KeywordTag, v.Tag())
	assert.Equal(t, "foo", h.SymbolNameString(v))

	v, err = r.Read(":ns/foo")
	require.NoError(t, err)
	assert.Equal(t, "ns", h.SymbolNamespaceString(v))
}

func TestReadList(t *testing.T) {
	r, h, _ := newFixture(t)
	v, err := r.Read("(1 2 3)")
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.GetInt64(h.First(v)))
	rest := h.Next(v)
	assert.Equal(t, int64(2), h.GetInt64(h.First(rest)))
	rest = h.Next(rest)
	assert.Equal(t, int64(3), h.GetInt64(h.First(rest)))
	assert.True(t, h.Next(rest).IsNil())
}

func TestReadNestedList(t *testing.T) {
	r, h, _ := newFixture(t)
	v, err := r.Read("(1 (2 3) 4)")
	require.NoError(t, err)
	inner := h.First(h.Next(v))
	assert.Equal(t, int64(2), h.GetInt64(h.First(inner)))
}

func TestReadUnterminatedListErrors(t *testing.T) {
	r, _, _ := newFixture(t)
	_, err := r.Read("(1 2")
	require.Error(t, err)
}

func TestReadVector(t *testing.T) {
	r, h, col := newFixture(t)
	v, err := r.Read("[1 2 3]")
	require.NoError(t, err)
	assert.True(t, h.ObjectType(v).Is(col.VectorType))
	assert.Equal(t, 3, collection.VectorCount(h, v))
}

func TestReadMap(t *testing.T) {
	r, h, _ := newFixture(t)
	v, err := r.Read(`{:a 1 :b 2}`)
	require.NoError(t, err)
	found, ok := h.Get(v, h.CreateKeyword("", "a"))
	require.True(t, ok)
	assert.Equal(t, int64(1), h.GetInt64(found))
}

func TestReadMapOddFormsErrors(t *testing.T) {
	r, _, _ := newFixture(t)
	_, err := r.Read(`{:a 1 :b}`)
	require.Error(t, err)
}

func TestReadSet(t *testing.T) {
	r, h, _ := newFixture(t)
	v, err := r.Read(`#{1 2 3}`)
	require.NoError(t, err)
	_, ok := h.Get(v, h.CreateInt64(2))
	require.True(t, ok)
}

func TestReadQuoteShorthand(t *testing.T) {
	r, h, _ := newFixture(t)
	v, err := r.Read("'x")
	require.NoError(t, err)
	assert.True(t, h.First(v).Is(h.CreateSymbol("", "quote")))
	assert.True(t, h.First(h.Next(v)).Is(h.CreateSymbol("", "x")))
}

func TestReadSkipsWhitespaceAndComments(t *testing.T) {
	r, h, _ := newFixture(t)
	v, err := r.Read("  ; a comment\n  7 ; trailing\n")
	require.NoError(t, err)
	assert.Equal(t, int64(7), h.GetInt64(v))
}

func TestReadAllReadsMultipleTopLevelForms(t *testing.T) {
	r, h, _ := newFixture(t)
	forms, err := r.ReadAll("1 2 3")
	require.NoError(t, err)
	require.Len(t, forms, 3)
	assert.Equal(t, int64(1), h.GetInt64(forms[0]))
	assert.Equal(t, int64(3), h.GetInt64(forms[2]))
}

func TestReadEmptyInputErrors(t *testing.T) {
	r, _, _ := newFixture(t)
	_, err := r.Read("   ")
	require.Error(t, err)
}
