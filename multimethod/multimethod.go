// Package multimethod implements spec §4.5: multimethod definition and
// dispatch, plus the `derive`/`isa?` type hierarchy. Grounded on
// original_source/source/core/cleo/multimethod.cpp, with two additions
// the spec layers on top of that original: a `default_val` fallback
// (the reference implementation has none — every multimethod there
// must have an exact or ancestor match) and ambiguous-match detection
// when two incomparable ancestors both have methods defined (the
// reference implementation picks an arbitrary one via map iteration
// order; spec §4.5 requires raising instead).
package multimethod

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rafalprzywarski/cleo-go/cleoerr"
	"github.com/rafalprzywarski/cleo-go/heap"
)

// DispatchFn computes the dispatch value for a call's arguments.
type DispatchFn func(args []heap.Value) (heap.Value, error)

// MethodFn is the Go-native implementation installed for one dispatch
// value.
type MethodFn func(args []heap.Value) (heap.Value, error)

type multimethod struct {
	dispatch   DispatchFn
	defaultVal heap.Value
	hasDefault bool
	methods    map[heap.Value]MethodFn
}

// Hierarchy is the process-wide (per-heap) ancestor table `derive`
// builds and `isa?`/dispatch consult.
type Hierarchy struct {
	h          *heap.Heap
	errs       *cleoerr.Types
	ancestors  map[heap.Value]map[heap.Value]bool
	multimethods map[heap.Value]*multimethod
}

// NewHierarchy creates an empty hierarchy and multimethod table for h.
// It registers a RootProvider so every tag/parent value involved in a
// `derive` relation, and every registered dispatch value, stays
// reachable even though nothing else in the runtime may reference the
// bare tag values directly (they exist purely as hierarchy keys).
func NewHierarchy(h *heap.Heap, errs *cleoerr.Types) *Hierarchy {
	hh := &Hierarchy{
		h:            h,
		errs:         errs,
		ancestors:    make(map[heap.Value]map[heap.Value]bool),
		multimethods: make(map[heap.Value]*multimethod),
	}
	h.RegisterRootProvider(hh.gcRoots)
	return hh
}

func (hh *Hierarchy) gcRoots() []heap.Value {
	var roots []heap.Value
	for tag, parents := range hh.ancestors {
		roots = append(roots, tag)
		for p := range parents {
			roots = append(roots, p)
		}
	}
	for name, m := range hh.multimethods {
		roots = append(roots, name)
		if m.hasDefault {
			roots = append(roots, m.defaultVal)
		}
		for dv := range m.methods {
			roots = append(roots, dv)
		}
	}
	return roots
}

// Derive records that child isa parent, transitively: every tag that
// already has child as an ancestor also gains parent and all of
// parent's own ancestors (spec §4.5, ported directly from
// multimethod.cpp's derive — a linear scan over every known tag's
// ancestor set, re-propagating whenever the new relation is "between"
// an existing one and its descendants).
func (hh *Hierarchy) Derive(child, parent heap.Value) {
	parentAncestors := hh.ancestorSet(parent)
	for tag, ancestors := range hh.ancestors {
		if tag.Is(child) {
			continue
		}
		if ancestors[child] {
			ancestors[parent] = true
			for a := range parentAncestors {
				ancestors[a] = true
			}
		}
	}
	ancestors := hh.ancestorSet(child)
	ancestors[parent] = true
	for a := range parentAncestors {
		ancestors[a] = true
	}
}

func (hh *Hierarchy) ancestorSet(v heap.Value) map[heap.Value]bool {
	s, ok := hh.ancestors[v]
	if !ok {
		s = make(map[heap.Value]bool)
		hh.ancestors[v] = s
	}
	return s
}

// IsA reports spec §4.5's isa? relation: equal, in the transitive
// ancestor set, or — for vectors — elementwise isa? of equal length.
func (hh *Hierarchy) IsA(child, parent heap.Value, vectorElements func(heap.Value) ([]heap.Value, bool)) bool {
	if hh.h.Equal(child, parent) {
		return true
	}
	if ancestors, ok := hh.ancestors[child]; ok && ancestors[parent] {
		return true
	}
	if vectorElements != nil {
		ce, cok := vectorElements(child)
		pe, pok := vectorElements(parent)
		if cok && pok && len(ce) == len(pe) {
			for i := range ce {
				if !hh.IsA(ce[i], pe[i], vectorElements) {
					return false
				}
			}
			return true
		}
	}
	return false
}

// DefineMultimethod registers a dispatch function and default
// dispatch value for name (spec §4.5).
func (hh *Hierarchy) DefineMultimethod(name heap.Value, dispatch DispatchFn, defaultVal heap.Value, hasDefault bool) {
	hh.multimethods[name] = &multimethod{
		dispatch:   dispatch,
		defaultVal: defaultVal,
		hasDefault: hasDefault,
		methods:    make(map[heap.Value]MethodFn),
	}
}

// DefineMethod adds or replaces the method for dispatchVal on the
// multimethod named name.
func (hh *Hierarchy) DefineMethod(name, dispatchVal heap.Value, fn MethodFn) {
	hh.multimethods[name].methods[dispatchVal] = fn
}

// Call dispatches a multimethod call: compute the dispatch value,
// find an exact match, else the unique most-specific ancestor match,
// else the default, else raise IllegalArgument (spec §4.5). Ambiguous
// matches — two incomparable ancestors both having a defined method —
// raise IllegalArgument too, since spec §4.5 only says dispatch "fails"
// without naming a distinct exception type for this case.
func (hh *Hierarchy) Call(name heap.Value, args []heap.Value) (heap.Value, error) {
	m, ok := hh.multimethods[name]
	if !ok {
		return heap.Nil, cleoerr.NewIllegalArgument(hh.h, hh.errs, "no such multimethod")
	}
	dv, err := m.dispatch(args)
	if err != nil {
		return heap.Nil, err
	}
	if fn, ok := m.methods[dv]; ok {
		return fn(args)
	}
	candidate, found, ambiguous, ambiguousOn := hh.mostSpecificMethod(m, dv)
	if ambiguous {
		return heap.Nil, cleoerr.NewIllegalArgument(hh.h, hh.errs, ambiguousMessage(hh.h, ambiguousOn))
	}
	if found {
		return candidate(args)
	}
	if m.hasDefault {
		if fn, ok := m.methods[m.defaultVal]; ok {
			return fn(args)
		}
	}
	return heap.Nil, cleoerr.NewIllegalArgument(hh.h, hh.errs, "no method found for dispatch value")
}

// mostSpecificMethod finds every defined dispatch value that dv isa,
// then keeps only those not themselves an ancestor of another
// candidate (the more specific ones). Exactly one surviving candidate
// is the unambiguous match; more than one is ambiguous.
func (hh *Hierarchy) mostSpecificMethod(m *multimethod, dv heap.Value) (MethodFn, bool, bool, []heap.Value) {
	var candidates []heap.Value
	for registered := range m.methods {
		if hh.IsA(dv, registered, nil) {
			candidates = append(candidates, registered)
		}
	}
	if len(candidates) == 0 {
		return nil, false, false, nil
	}
	var mostSpecific []heap.Value
	for _, c := range candidates {
		isAncestorOfOther := false
		for _, other := range candidates {
			if c.Is(other) {
				continue
			}
			if ancestors, ok := hh.ancestors[other]; ok && ancestors[c] {
				isAncestorOfOther = true
				break
			}
		}
		if !isAncestorOfOther {
			mostSpecific = append(mostSpecific, c)
		}
	}
	if len(mostSpecific) == 1 {
		return m.methods[mostSpecific[0]], true, false, nil
	}
	return nil, false, true, mostSpecific
}

// ambiguousMessage renders the competing dispatch values sorted by
// their printed form, so repeated runs of the same ambiguous dispatch
// produce byte-identical error text rather than depending on Go's
// randomized map iteration order.
func ambiguousMessage(h *heap.Heap, candidates []heap.Value) string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = h.PrStr(c)
	}
	sort.Strings(names)
	return fmt.Sprintf("ambiguous multimethod dispatch between %s", strings.Join(names, ", "))
}
