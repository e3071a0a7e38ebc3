package heap

// Symbols and keywords are interned (spec §3: "two symbols with the
// same namespace/name parts must be pointer-identical"). The
// interning tables mirror original_source/core/cleo/global.hpp's
// `symbols`/`keywords` maps, keyed by the plain Go strings rather
// than by heap Values, since Go strings are comparable out of the box.

type internKey struct{ ns, name string }

func (h *Heap) internTables() (*map[internKey]Value, *map[internKey]Value) {
	if h.symbols == nil {
		h.symbols = make(map[internKey]Value)
	}
	if h.keywords == nil {
		h.keywords = make(map[internKey]Value)
	}
	return &h.symbols, &h.keywords
}

// CreateSymbol interns a (possibly namespace-qualified) symbol. An
// empty ns denotes an unqualified symbol.
func (h *Heap) CreateSymbol(ns, name string) Value {
	syms, _ := h.internTables()
	return h.intern(syms, SymbolTag, ns, name)
}

// CreateKeyword interns a (possibly namespace-qualified) keyword.
func (h *Heap) CreateKeyword(ns, name string) Value {
	_, kws := h.internTables()
	return h.intern(kws, KeywordTag, ns, name)
}

func (h *Heap) intern(table *map[internKey]Value, tag Tag, ns, name string) Value {
	key := internKey{ns: ns, name: name}
	if v, ok := (*table)[key]; ok {
		return v
	}
	var nsVal Value
	if ns != "" {
		nsVal = h.CreateString(ns)
	}
	nameVal := h.CreateString(name)
	v := h.allocPrimitive(tag, cell{ns: nsVal, name: nameVal})
	(*table)[key] = v
	return v
}

// SymbolNamespace returns the namespace part of a symbol or keyword,
// or Nil if unqualified.
func (h *Heap) SymbolNamespace(v Value) Value {
	h.mustSymbolic(v)
	return h.cellAt(v).ns
}

// SymbolName returns the name part of a symbol or keyword.
func (h *Heap) SymbolName(v Value) Value {
	h.mustSymbolic(v)
	return h.cellAt(v).name
}

// SymbolNamespaceString returns the namespace part as a plain Go
// string ("" if unqualified), a convenience over SymbolNamespace.
func (h *Heap) SymbolNamespaceString(v Value) string {
	ns := h.SymbolNamespace(v)
	if ns.IsNil() {
		return ""
	}
	return h.GetString(ns)
}

// SymbolNameString returns the name part as a plain Go string.
func (h *Heap) SymbolNameString(v Value) string {
	return h.GetString(h.SymbolName(v))
}

func (h *Heap) mustSymbolic(v Value) {
	if t := v.Tag(); t != SymbolTag && t != KeywordTag {
		panic("heap: not a symbol or keyword value")
	}
}
