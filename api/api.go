// Package api implements spec §6's embedding interface: the surface a
// host (here, cmd/cleo) uses to read, evaluate, and manipulate the
// runtime from outside the core. Grounded on original_source's own
// embedding surface (cleo.hpp/cleo.cpp's read/eval/define/in_ns/refer/
// require/create_symbol/create_keyword functions), with the
// state spec §5 describes as process-wide singletons (heap, symbol/keyword
// intern tables, namespace registry, multimethod hierarchy) held per
// Runtime instead and wired together the way the teacher's own top-level command wires its
// parser/VM/grammar-table singletons in cmd/langlang/main.go.
package api

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rafalprzywarski/cleo-go/atom"
	"github.com/rafalprzywarski/cleo-go/builtin"
	"github.com/rafalprzywarski/cleo-go/cleoerr"
	"github.com/rafalprzywarski/cleo-go/collection"
	"github.com/rafalprzywarski/cleo-go/compiler"
	"github.com/rafalprzywarski/cleo-go/hamt"
	"github.com/rafalprzywarski/cleo-go/heap"
	"github.com/rafalprzywarski/cleo-go/multimethod"
	"github.com/rafalprzywarski/cleo-go/namespace"
	"github.com/rafalprzywarski/cleo-go/reader"
	"github.com/rafalprzywarski/cleo-go/vm"
)

// RuntimeOptions is a small typed key/value settings object in the
// shape of _examples/clarete-langlang/go/config.go's Config/cfgVal
// (SetBool/GetInt/...,
// primed defaults, panic on a type mismatch) reused here to hold the
// handful of options this runtime exposes: the GC frequency spec §9
// leaves as an open default (64) and a profiler toggle for future
// instrumentation, rather than the grammar-compiler options the
// teacher's own Config primed.
type RuntimeOptions struct {
	values map[string]optionValue
}

type optionKind int

const (
	optionUndefined optionKind = iota
	optionBool
	optionInt
)

type optionValue struct {
	kind   optionKind
	asBool bool
	asInt  int
}

// NewRuntimeOptions returns options primed with this runtime's
// defaults: GC collection every 64 allocations (spec §9's default),
// profiling off.
func NewRuntimeOptions() *RuntimeOptions {
	o := &RuntimeOptions{values: make(map[string]optionValue)}
	o.SetInt("gc.frequency", 64)
	o.SetBool("profiler.enabled", false)
	return o
}

func (o *RuntimeOptions) SetBool(path string, v bool) { o.values[path] = optionValue{kind: optionBool, asBool: v} }
func (o *RuntimeOptions) SetInt(path string, v int)    { o.values[path] = optionValue{kind: optionInt, asInt: v} }

func (o *RuntimeOptions) GetBool(path string) bool {
	v, ok := o.values[path]
	if !ok || v.kind != optionBool {
		panic("api: bool option " + path + " is not set")
	}
	return v.asBool
}

func (o *RuntimeOptions) GetInt(path string) int {
	v, ok := o.values[path]
	if !ok || v.kind != optionInt {
		panic("api: int option " + path + " is not set")
	}
	return v.asInt
}

// Runtime bundles the state spec §5 names as process-wide singletons
// and exposes the embedding operations spec §6 lists. Each Runtime
// builds its own heap (heap.NewHeap) and its own namespace registry,
// multimethod hierarchy and type tables over it, so two Runtimes in one
// process share no state.
type Runtime struct {
	Heap    *heap.Heap
	Hamt    *hamt.Types
	Col     *collection.Types
	BC      *vm.Types
	Errs    *cleoerr.Types
	NS      *namespace.Registry
	Hier    *multimethod.Hierarchy
	VM      *vm.VM
	Compiler *compiler.Compiler
	Builtins *builtin.Registry
	Reader  *reader.Reader
	Atom    *atom.Types

	// SourcePath is searched, in order, by Require to turn a namespace
	// symbol into a "<root>/<ns-with-slashes-for-dots>.cleo" file.
	SourcePath []string

	// Options is the settings this runtime was constructed with, kept
	// around so a host can inspect profiler.enabled or gc.frequency
	// after the fact rather than threading its own copy through.
	Options *RuntimeOptions
}

// New bootstraps a complete runtime under default RuntimeOptions; see
// NewWithOptions.
func New(nsName string) *Runtime {
	return NewWithOptions(nsName, NewRuntimeOptions())
}

// NewWithOptions bootstraps a complete runtime: every heap-backed
// subsystem, the compiler/VM pair, and the native primitive set
// registered into nsName (conventionally "cleo.core", matching
// original_source's own implicit bootstrap namespace), configured by
// opts (GC frequency per spec §9's configurable default; the profiler
// toggle is only stored in Options, and nothing reads it, since this
// port carries no profiler implementation).
func NewWithOptions(nsName string, opts *RuntimeOptions) *Runtime {
	h := heap.NewHeap()
	h.SetGCFrequency(opts.GetInt("gc.frequency"))
	ht := hamt.NewTypes(h)
	col := collection.NewTypes(h, ht)
	bc := vm.NewTypes(h, col)
	errs := cleoerr.NewTypes(h)
	ns := namespace.NewRegistry(h)
	hier := multimethod.NewHierarchy(h, errs)
	at := atom.NewTypes(h)
	m := vm.New(h, bc, col, errs, ns, hier)
	c := compiler.New(h, bc, col, errs, ns, m)
	bi := builtin.New(h, col, errs, hier, bc, at, m)
	bi.Register(ns, nsName)
	rd := reader.New(h, col, errs)

	return &Runtime{
		Heap: h, Hamt: ht, Col: col, BC: bc, Errs: errs,
		NS: ns, Hier: hier, VM: m, Compiler: c, Builtins: bi, Reader: rd,
		Atom: at,
		Options: opts,
	}
}

// Read parses exactly one form from text (spec §6 "read(text) → value
// — parse one form"). The reader is a test/CLI fixture (SPEC_FULL.md
// §2.12), not part of the core; this just exposes it at the boundary.
func (rt *Runtime) Read(text string) (heap.Value, error) {
	return rt.Reader.Read(text)
}

// ReadAll parses every top-level form in text, for callers (Require,
// a batch-eval driver) that want a whole file's worth at once.
func (rt *Runtime) ReadAll(text string) ([]heap.Value, error) {
	return rt.Reader.ReadAll(text)
}

// Eval macroexpands (inside CompileTopLevel), compiles, and executes
// form, per spec §6 "eval(form) → value ... returns the value or
// raises".
func (rt *Runtime) Eval(form heap.Value) (heap.Value, error) {
	fn, err := rt.Compiler.CompileTopLevel(form)
	if err != nil {
		return heap.Nil, err
	}
	return rt.VM.Call(fn, nil)
}

// EvalAll evaluates forms in order, returning the last result — the
// shape a file of top-level definitions followed by a final
// expression is evaluated in.
func (rt *Runtime) EvalAll(forms []heap.Value) (heap.Value, error) {
	var result heap.Value = heap.Nil
	for _, form := range forms {
		var err error
		result, err = rt.Eval(form)
		if err != nil {
			return heap.Nil, err
		}
	}
	return result, nil
}

// Define interns (or updates) sym's var in the current namespace with
// value and meta, per spec §6 "define(sym, value, meta) — interns and
// sets a var".
func (rt *Runtime) Define(sym, value, meta heap.Value) heap.Value {
	name := rt.Heap.SymbolNameString(sym)
	return rt.NS.Define(rt.NS.Current(), name, value, meta, false)
}

// InNs switches the current namespace, per spec §6 "in_ns(sym)".
func (rt *Runtime) InNs(sym heap.Value) *namespace.Namespace {
	return rt.NS.InNs(rt.Heap.SymbolNameString(sym))
}

// Refer copies src's mappings into the current namespace, per spec §6
// "refer(sym)".
func (rt *Runtime) Refer(sym heap.Value) {
	src := rt.NS.InNs(rt.Heap.SymbolNameString(sym))
	cur := rt.NS.Current()
	rt.NS.Refer(cur, src)
	rt.NS.InNs(cur.Name)
}

// Require loads the source file backing sym's namespace (by
// replacing '.' with '/' and appending ".cleo", then searching
// SourcePath in order) and evaluates every form in it — the
// synchronous, blocking file I/O spec §5 describes ("Calls into
// native file I/O (require, load) block the interpreter
// synchronously"). A namespace already present in the registry with
// at least one mapping is assumed already loaded and is a no-op,
// matching require's usual idempotence.
func (rt *Runtime) Require(sym heap.Value) error {
	nsName := rt.Heap.SymbolNameString(sym)
	if existing := rt.NS.InNs(nsName); len(existing.Mappings) > 0 {
		return nil
	}
	rel := strings.ReplaceAll(nsName, ".", string(filepath.Separator)) + ".cleo"
	var path string
	for _, root := range rt.SourcePath {
		candidate := filepath.Join(root, rel)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return cleoerr.NewFileNotFound(rt.Heap, rt.Errs, "could not locate source for "+nsName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cleoerr.NewFileNotFound(rt.Heap, rt.Errs, err.Error())
	}
	prevNs := rt.NS.Current().Name
	rt.NS.InNs(nsName)
	forms, err := rt.ReadAll(string(data))
	if err != nil {
		rt.NS.InNs(prevNs)
		return err
	}
	if _, err := rt.EvalAll(forms); err != nil {
		rt.NS.InNs(prevNs)
		return err
	}
	rt.NS.InNs(prevNs)
	return nil
}

// CreateSymbol interns a symbol, per spec §6
// "create_symbol(ns?, name)". An empty ns yields an unqualified
// symbol.
func (rt *Runtime) CreateSymbol(ns, name string) heap.Value {
	return rt.Heap.CreateSymbol(ns, name)
}

// CreateKeyword interns a keyword, per spec §6
// "create_keyword(ns?, name)".
func (rt *Runtime) CreateKeyword(ns, name string) heap.Value {
	return rt.Heap.CreateKeyword(ns, name)
}

// PushBindings opens a dynamic-binding scope, per spec §6
// "push_bindings(map) ... must be paired" with PopBindings.
func (rt *Runtime) PushBindings(frame map[heap.Value]heap.Value) {
	rt.NS.PushBindings(frame)
}

// PopBindings closes the most recently opened binding scope.
func (rt *Runtime) PopBindings() {
	rt.NS.PopBindings()
}

// ThrowException installs v as the in-flight exception and returns
// the corresponding Go error, per spec §6's "throw_exception(v) sets
// it and raises".
func (rt *Runtime) ThrowException(v heap.Value) error {
	rt.Heap.SetCurrentException(v)
	return &cleoerr.Error{Value: v}
}

// CatchException reads and clears the in-flight exception slot, per
// spec §6's "catch_exception() reads and clears".
func (rt *Runtime) CatchException() (heap.Value, bool) {
	return rt.Heap.CurrentException()
}

// --- collection constructors/accessors (spec §6 "create_array,
// persistent_hash_map_assoc, persistent_hash_set_conj, …") ---

func (rt *Runtime) EmptyVector() heap.Value { return collection.EmptyVector(rt.Heap, rt.Col) }

func (rt *Runtime) VectorConj(v, elem heap.Value) heap.Value {
	return collection.VectorConj(rt.Heap, rt.Col, v, elem)
}

// CreateArray builds a vector from a fixed slice of elements, conj-ing
// each one into a transient vector and persisting the result; this is
// the "array" constructor spec §6 names.
func (rt *Runtime) CreateArray(elems []heap.Value) heap.Value {
	tv := collection.NewTransientVector(rt.Heap, rt.Col, len(elems))
	for _, e := range elems {
		tv = collection.TransientConj(rt.Heap, rt.Col, tv, e)
	}
	return collection.TransientPersist(rt.Heap, rt.Col, tv)
}

func (rt *Runtime) EmptyHamtMap() heap.Value { return hamt.Empty(rt.Heap, rt.Hamt) }

func (rt *Runtime) HamtMapAssoc(m, key, val heap.Value) heap.Value {
	return hamt.Assoc(rt.Heap, rt.Hamt, m, key, val)
}

func (rt *Runtime) EmptyHamtSet() heap.Value { return hamt.EmptySet(rt.Heap, rt.Hamt) }

func (rt *Runtime) HamtSetConj(s, elem heap.Value) heap.Value {
	return hamt.SetConj(rt.Heap, rt.Hamt, s, elem)
}

func (rt *Runtime) EmptyArrayMap() heap.Value { return collection.EmptyArrayMap(rt.Heap, rt.Col) }

func (rt *Runtime) ArrayMapAssoc(m, key, val heap.Value) heap.Value {
	return collection.ArrayMapAssoc(rt.Heap, rt.Col, m, key, val)
}

func (rt *Runtime) EmptyArraySet() heap.Value { return collection.EmptyArraySet(rt.Heap, rt.Col) }

func (rt *Runtime) ArraySetConj(s, elem heap.Value) heap.Value {
	return collection.ArraySetConj(rt.Heap, rt.Col, s, elem)
}

// CreateAtom, AtomDeref, AtomReset expose spec §3's Atom entity
// (original_source's atom.cpp) at the embedding boundary, the same
// tier as the HAMT/array constructors above.
func (rt *Runtime) CreateAtom(val heap.Value) heap.Value { return atom.Create(rt.Heap, rt.Atom, val) }

func (rt *Runtime) AtomDeref(a heap.Value) heap.Value { return atom.Deref(rt.Heap, a) }

func (rt *Runtime) AtomReset(a, val heap.Value) heap.Value { return atom.Reset(rt.Heap, a, val) }
