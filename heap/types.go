package heap

// Types are themselves heap objects of a bootstrap meta-type whose
// type points to itself (spec §3 "Types", §9 "Cyclic structures").
// A type's sole element is its name, stored as a heap string so it
// participates in GC like everything else.

// NewMetaType allocates the self-referential type-of-types: the only
// designed cycle in the heap graph. The GC tolerates this because
// mark already checks the `marked` bit before recursing (see gc.go).
func (h *Heap) NewMetaType(name string) Value {
	meta := h.AllocStatic(Nil, []Value{h.CreateString(name)})
	h.SetObjectType(meta, meta)
	return meta
}

// NewType allocates an ordinary named type whose type is metaType.
func (h *Heap) NewType(metaType Value, name string) Value {
	return h.AllocStatic(metaType, []Value{h.CreateString(name)})
}

// TypeName returns a type's name.
func (h *Heap) TypeName(t Value) string {
	return h.GetString(h.ObjectElement(t, 0))
}
