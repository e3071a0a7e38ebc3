// Package atom implements spec.md's Atom core entity (§3's entity
// table: "single mutable cell holding a value... mutation is a single
// assignment"), grounded on
// original_source/source/core/cleo/atom.cpp/atom.hpp: a one-element
// static heap object whose sole slot is replaced in place rather than
// rebuilt, the one spot in this runtime where mutating an existing
// heap object's element is the intended operation rather than a bug.
package atom

import "github.com/rafalprzywarski/cleo-go/heap"

// Types holds the Atom heap type this package bootstraps.
type Types struct {
	AtomType heap.Value
}

// NewTypes bootstraps the Atom type over its own meta type, the same
// one-meta-per-package pattern collection.NewTypes/hamt.NewTypes use.
func NewTypes(h *heap.Heap) *Types {
	meta := h.NewMetaType("Type")
	t := &Types{AtomType: h.NewType(meta, "Atom")}
	h.RegisterRootProvider(func() []heap.Value { return []heap.Value{t.AtomType} })
	return t
}

// Create allocates a new atom holding val, atom.cpp's create_atom.
func Create(h *heap.Heap, t *Types, val heap.Value) heap.Value {
	return h.AllocStatic(t.AtomType, []heap.Value{val})
}

// Deref reads an atom's current value, atom.cpp's atom_deref.
func Deref(h *heap.Heap, a heap.Value) heap.Value {
	return h.ObjectElement(a, 0)
}

// Reset replaces an atom's value with val and returns the value it
// replaced, exactly atom.cpp's atom_reset (which rebinds the element
// in place via set_object_element and hands back the old value, not
// the new one).
func Reset(h *heap.Heap, a, val heap.Value) heap.Value {
	old := Deref(h, a)
	h.SetObjectElement(a, 0, val)
	return old
}
