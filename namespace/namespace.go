// Package namespace implements spec §4.4: a process-wide symbol→Var
// registry split into namespaces, qualified/unqualified resolution,
// refer, and the dynamic-binding stack. Grounded on
// original_source/source/core/cleo/namespace.cpp and var.cpp, with the
// registry's Go-level bookkeeping (outside the heap arena) mirrored on
// hamt/heap's per-*Heap isolation discipline: a Registry is tied to
// one *heap.Heap and registers a RootProvider of its own so every Var
// it holds, and every value currently bound on the binding stack,
// survives collection.
package namespace

import (
	"fmt"
	"sort"

	"github.com/rafalprzywarski/cleo-go/heap"
)

// Namespace maps unqualified names to their Var, per spec §4.4.
type Namespace struct {
	Name     string
	Mappings map[string]heap.Value
}

// Registry is the process-wide (per-heap) namespace table plus the
// scoped binding stack.
type Registry struct {
	h *heap.Heap
	// varType is the heap object type for a Var: elems = [root, meta],
	// ints = [dynamic flag (0/1)].
	varType  heap.Value
	spaces   map[string]*Namespace
	current  *Namespace
	bindings []map[heap.Value]heap.Value
}

// NewRegistry bootstraps the Var heap type and an empty registry, with
// "user" as the initial current namespace (created lazily like any
// other, matching original_source's default bootstrap namespace).
func NewRegistry(h *heap.Heap) *Registry {
	meta := h.NewMetaType("Type")
	r := &Registry{
		h:       h,
		varType: h.NewType(meta, "Var"),
		spaces:  make(map[string]*Namespace),
	}
	h.RegisterRootProvider(r.gcRoots)
	r.current = r.getOrCreateNamespace("user")
	return r
}

// VarTypeValue exposes the Var heap type, e.g. for IsVar checks in
// other packages.
func (r *Registry) VarTypeValue() heap.Value { return r.varType }

func (r *Registry) gcRoots() []heap.Value {
	roots := []heap.Value{r.varType}
	for _, ns := range r.spaces {
		for _, v := range ns.Mappings {
			roots = append(roots, v)
		}
	}
	for _, frame := range r.bindings {
		for v, val := range frame {
			roots = append(roots, v, val)
		}
	}
	return roots
}

func (r *Registry) getOrCreateNamespace(name string) *Namespace {
	if ns, ok := r.spaces[name]; ok {
		return ns
	}
	ns := &Namespace{Name: name, Mappings: make(map[string]heap.Value)}
	r.spaces[name] = ns
	return ns
}

// Current returns the current namespace.
func (r *Registry) Current() *Namespace { return r.current }

// InNs switches (creating lazily if absent) the current namespace,
// per spec §4.4's "Created lazily; persists" lifetime.
func (r *Registry) InNs(name string) *Namespace {
	r.current = r.getOrCreateNamespace(name)
	return r.current
}

// IsVar reports whether v is a Var object.
func (r *Registry) IsVar(v heap.Value) bool {
	return v.Tag() == heap.ObjectTag && r.h.ObjectType(v).Is(r.varType)
}

func (r *Registry) newVar(root, meta heap.Value, dynamic bool) heap.Value {
	flag := int64(0)
	if dynamic {
		flag = 1
	}
	return r.h.AllocStaticInts(r.varType, []heap.Value{root, meta}, []int64{flag})
}

// VarRoot returns a Var's current root value.
func (r *Registry) VarRoot(v heap.Value) heap.Value { return r.h.ObjectElement(v, 0) }

// VarMeta returns a Var's meta map.
func (r *Registry) VarMeta(v heap.Value) heap.Value { return r.h.ObjectElement(v, 1) }

// VarIsDynamic reports whether the Var supports dynamic binding.
func (r *Registry) VarIsDynamic(v heap.Value) bool { return r.h.ObjectInt(v, 0) != 0 }

// SetVarRoot overwrites a Var's root value in place (VM STVV).
func (r *Registry) SetVarRoot(v, val heap.Value) { r.h.SetObjectElement(v, 0, val) }

// SetVarMeta overwrites a Var's meta map in place (VM STVM).
func (r *Registry) SetVarMeta(v, meta heap.Value) { r.h.SetObjectElement(v, 1, meta) }

// Define creates or updates the Var for sym (an unqualified symbol
// name) in ns with the given root value and meta, per spec §4.4. If a
// Var with that name already exists, its root/meta are overwritten in
// place rather than replacing the Var object, so existing references
// to it (e.g. compiled var-pool entries) keep observing the update —
// Vars, once created, are stable identities for their namespace/name
// pair, matching original_source's own "intern, don't replace" Var
// semantics.
func (r *Registry) Define(ns *Namespace, name string, root, meta heap.Value, dynamic bool) heap.Value {
	if existing, ok := ns.Mappings[name]; ok {
		r.SetVarRoot(existing, root)
		r.SetVarMeta(existing, meta)
		return existing
	}
	v := r.newVar(root, meta, dynamic)
	ns.Mappings[name] = v
	return v
}

// ResolveVar resolves sym to its Var using ns's mappings for an
// unqualified symbol, or the named namespace's mappings directly for
// a qualified one (spec §4.4). Returns (Nil, false) if unresolved.
func (r *Registry) ResolveVar(ns *Namespace, sym heap.Value) (heap.Value, bool) {
	name := r.h.SymbolNameString(sym)
	nsPart := r.h.SymbolNamespaceString(sym)
	if nsPart == "" {
		v, ok := ns.Mappings[name]
		return v, ok
	}
	target, ok := r.spaces[nsPart]
	if !ok {
		return heap.Nil, false
	}
	v, ok := target.Mappings[name]
	return v, ok
}

// Refer copies every mapping of src into dst, by reference (the same
// Var objects are shared, not cloned), per spec §4.4.
func (r *Registry) Refer(dst, src *Namespace) {
	for name, v := range src.Mappings {
		dst.Mappings[name] = v
	}
}

// PushBindings pushes a new dynamic-binding frame mapping each Var to
// a bound value. Must be paired with PopBindings in strict LIFO order
// (spec §5 "scoped acquisition"), mirroring heap.Roots' own discipline.
func (r *Registry) PushBindings(frame map[heap.Value]heap.Value) {
	r.bindings = append(r.bindings, frame)
}

// PopBindings pops the most recently pushed binding frame.
func (r *Registry) PopBindings() {
	if len(r.bindings) == 0 {
		panic("namespace: binding stack underflow")
	}
	r.bindings = r.bindings[:len(r.bindings)-1]
}

// DynamicValue returns the var's dynamically bound value if any
// binding frame (searched top-down) carries an entry for it, else its
// root value (spec §4.4 "lookup consults the top binding ... else the
// root").
func (r *Registry) DynamicValue(v heap.Value) heap.Value {
	for i := len(r.bindings) - 1; i >= 0; i-- {
		if val, ok := r.bindings[i][v]; ok {
			return val
		}
	}
	return r.VarRoot(v)
}

// SortedNames returns ns's mapped names in sorted order, used by
// introspection builtins (e.g. an `ns-interns`-style listing) and by
// tests that need reproducible output instead of Go's randomized map
// iteration order.
func (r *Registry) SortedNames(ns *Namespace) []string {
	names := make([]string, 0, len(ns.Mappings))
	for name := range ns.Mappings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// QualifiedName returns "ns/name" for a Var, looked up by scanning its
// owning namespace's mappings (a Var does not itself store a back
// pointer to its namespace, matching the reference implementation's
// own Var layout); used by error messages and pr-str.
func (r *Registry) QualifiedName(v heap.Value) string {
	for _, ns := range r.spaces {
		for name, candidate := range ns.Mappings {
			if candidate.Is(v) {
				return fmt.Sprintf("%s/%s", ns.Name, name)
			}
		}
	}
	return "?/?"
}
