package vm

import (
	"github.com/rafalprzywarski/cleo-go/collection"
	"github.com/rafalprzywarski/cleo-go/heap"
)

// Types holds the heap types for compiled functions, grounded on
// original_source/source/core/cleo/bytecode_fn.hpp and bytecode_fn.cpp:
//
//   - BytecodeFnBody: ints = [arity, locals_size], elems = [consts,
//     vars, exception_table, bytes]. consts/vars are themselves
//     ordinary collection.PersistentVector values (reusing the
//     collection package's array-of-Values layout instead of inventing
//     a parallel const/var-pool object shape), bytes is a byte-array
//     object built via heap.AllocBytes/SetByteAt then frozen, matching
//     bytecode_fn.cpp's own "pack the instruction stream as ints"
//     representation.
//   - BytecodeFn: ints = [arity per body] (a variadic body's arity is
//     stored as the bitwise complement of its fixed parameter count,
//     exactly as bytecode_fn.cpp's `~fixed` convention — Go's `^x` is
//     the same bitwise-NOT operator C++'s `~x` is for a signed int),
//     elems = [name, body0, body1, ...].
//   - ExceptionTable: ints = [start, end, handler, saved_stack_depth]
//     per entry, elems = [catch-type] per entry, mirroring
//     bytecode_fn_exception_table's parallel-arrays layout.
type Types struct {
	h   *heap.Heap
	col *collection.Types

	BytecodeFnType      heap.Value
	BytecodeFnBodyType  heap.Value
	ExceptionTableType  heap.Value
	ByteArrayType       heap.Value
}

// NewTypes bootstraps the bytecode-fn heap types.
func NewTypes(h *heap.Heap, col *collection.Types) *Types {
	meta := h.NewMetaType("Type")
	t := &Types{
		h:                  h,
		col:                col,
		BytecodeFnType:     h.NewType(meta, "BytecodeFn"),
		BytecodeFnBodyType: h.NewType(meta, "BytecodeFnBody"),
		ExceptionTableType: h.NewType(meta, "ExceptionTable"),
		ByteArrayType:      h.NewType(meta, "ByteArray"),
	}
	h.RegisterRootProvider(func() []heap.Value {
		return []heap.Value{t.BytecodeFnType, t.BytecodeFnBodyType, t.ExceptionTableType, t.ByteArrayType}
	})
	return t
}

// --- byte arrays ---

// NewByteArray copies code into a fresh, frozen byte-array object.
func (t *Types) NewByteArray(code []byte) heap.Value {
	v := t.h.AllocBytes(t.ByteArrayType, nil, len(code))
	for i, b := range code {
		t.h.SetByteAt(v, i, b)
	}
	t.h.FlipDynamicToStatic(v)
	return v
}

// ByteArrayBytes copies a byte-array object back out to a Go []byte.
func (t *Types) ByteArrayBytes(v heap.Value) []byte {
	n := t.h.ObjectSize(v)
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(t.h.ByteAt(v, i).AsInt48())
	}
	return out
}

// --- exception tables ---

// ExceptionEntry is one row of a body's exception table (spec §4.7):
// the bytecode offset range it covers, the handler offset to jump to,
// how much of the value stack beyond the frame to keep, and the catch
// type to match against (Nil matches any exception).
type ExceptionEntry struct {
	Start, End, Handler, SavedStackDepth int
	Type                                 heap.Value
}

// NewExceptionTable builds an exception-table object from entries, in
// the order `find_exception_handler` scans them (first match wins).
func (t *Types) NewExceptionTable(entries []ExceptionEntry) heap.Value {
	ints := make([]int64, 0, len(entries)*4)
	types := make([]heap.Value, len(entries))
	r := t.h.NewRoots(len(entries))
	for i, e := range entries {
		r.Set(i, e.Type)
	}
	for i, e := range entries {
		ints = append(ints, int64(e.Start), int64(e.End), int64(e.Handler), int64(e.SavedStackDepth))
		types[i] = r.Get(i)
	}
	result := t.h.AllocStaticInts(t.ExceptionTableType, types, ints)
	r.Release()
	return result
}

// ExceptionTableLen returns the number of entries in an exception table.
func (t *Types) ExceptionTableLen(v heap.Value) int { return t.h.ObjectSize(v) }

// ExceptionEntryAt returns entry i of an exception table.
func (t *Types) ExceptionEntryAt(v heap.Value, i int) ExceptionEntry {
	base := i * 4
	return ExceptionEntry{
		Start:           int(t.h.ObjectInt(v, base)),
		End:             int(t.h.ObjectInt(v, base+1)),
		Handler:         int(t.h.ObjectInt(v, base+2)),
		SavedStackDepth: int(t.h.ObjectInt(v, base+3)),
		Type:            t.h.ObjectElement(v, i),
	}
}

// --- bodies ---

// NewBody constructs one BytecodeFnBody. consts/vars become nested
// PersistentVector objects (the compiler's constant and var pools);
// code becomes a frozen byte array.
func (t *Types) NewBody(arity int64, localsSize int, code []byte, consts, vars []heap.Value, exceptionTable heap.Value) heap.Value {
	r := t.h.NewRoots(len(consts) + len(vars) + 1)
	for i, c := range consts {
		r.Set(i, c)
	}
	for i, v := range vars {
		r.Set(len(consts)+i, v)
	}
	r.Set(len(consts)+len(vars), exceptionTable)

	constsOut := make([]heap.Value, len(consts))
	for i := range consts {
		constsOut[i] = r.Get(i)
	}
	varsOut := make([]heap.Value, len(vars))
	for i := range vars {
		varsOut[i] = r.Get(len(consts) + i)
	}
	constsVec := t.h.AllocStatic(t.col.VectorType, constsOut)
	varsVec := t.h.AllocStatic(t.col.VectorType, varsOut)
	bytesVal := t.NewByteArray(code)
	excTable := r.Get(len(consts) + len(vars))

	body := t.h.AllocStaticInts(t.BytecodeFnBodyType,
		[]heap.Value{constsVec, varsVec, excTable, bytesVal},
		[]int64{arity, int64(localsSize)})
	r.Release()
	return body
}

func (t *Types) BodyArity(b heap.Value) int64         { return t.h.ObjectInt(b, 0) }
func (t *Types) BodyLocalsSize(b heap.Value) int       { return int(t.h.ObjectInt(b, 1)) }
func (t *Types) BodyConstsVec(b heap.Value) heap.Value { return t.h.ObjectElement(b, 0) }
func (t *Types) BodyVarsVec(b heap.Value) heap.Value   { return t.h.ObjectElement(b, 1) }
func (t *Types) BodyExceptionTable(b heap.Value) heap.Value {
	return t.h.ObjectElement(b, 2)
}
func (t *Types) BodyBytes(b heap.Value) heap.Value { return t.h.ObjectElement(b, 3) }

// BodyConst returns constant idx from a body's constant pool.
func (t *Types) BodyConst(b heap.Value, idx int) heap.Value {
	v, _ := collection.VectorGet(t.h, t.BodyConstsVec(b), idx)
	return v
}

// BodyVar returns var idx from a body's var pool.
func (t *Types) BodyVar(b heap.Value, idx int) heap.Value {
	v, _ := collection.VectorGet(t.h, t.BodyVarsVec(b), idx)
	return v
}

// BodyCode returns a body's instruction stream as a plain []byte.
func (t *Types) BodyCode(b heap.Value) []byte {
	return t.ByteArrayBytes(t.BodyBytes(b))
}

// replaceBodyConsts rebuilds body with its last len(captured) constant
// slots replaced by captured, the per-body step of bytecode_fn.cpp's
// bytecode_fn_replace_consts.
func (t *Types) replaceBodyConsts(body heap.Value, captured []heap.Value) heap.Value {
	old := t.h.ObjectElements(t.BodyConstsVec(body))
	n := len(captured)
	r := t.h.NewRoots(len(old) + n + 2)
	for i, c := range old {
		r.Set(i, c)
	}
	for i, c := range captured {
		r.Set(len(old)+i, c)
	}
	r.Set(len(old)+n, t.BodyVarsVec(body))
	r.Set(len(old)+n+1, t.BodyExceptionTable(body))

	newConsts := make([]heap.Value, len(old))
	for i := range old {
		newConsts[i] = r.Get(i)
	}
	for i := 0; i < n; i++ {
		newConsts[len(newConsts)-n+i] = r.Get(len(old) + i)
	}
	newConstsVec := t.h.AllocStatic(t.col.VectorType, newConsts)
	newBody := t.h.AllocStaticInts(t.BytecodeFnBodyType,
		[]heap.Value{newConstsVec, r.Get(len(old) + n), r.Get(len(old) + n + 1), t.BodyBytes(body)},
		[]int64{t.BodyArity(body), int64(t.BodyLocalsSize(body))})
	r.Release()
	return newBody
}

// --- fns ---

// NewFn constructs a BytecodeFn from its bodies, one arity per body
// (sorted ascending by convention; a variadic body's arity is `^fixed`
// and must be last, per spec §4.6).
func (t *Types) NewFn(name heap.Value, bodies []heap.Value, arities []int64) heap.Value {
	r := t.h.NewRoots(len(bodies) + 1)
	r.Set(0, name)
	for i, b := range bodies {
		r.Set(i+1, b)
	}
	elems := make([]heap.Value, len(bodies)+1)
	for i := range elems {
		elems[i] = r.Get(i)
	}
	result := t.h.AllocStaticInts(t.BytecodeFnType, elems, arities)
	r.Release()
	return result
}

func (t *Types) FnName(fn heap.Value) heap.Value { return t.h.ObjectElement(fn, 0) }
func (t *Types) FnBodyCount(fn heap.Value) int   { return t.h.ObjectIntSize(fn) }
func (t *Types) FnBodyAt(fn heap.Value, i int) heap.Value {
	return t.h.ObjectElement(fn, i+1)
}
func (t *Types) FnArityAt(fn heap.Value, i int) int64 { return t.h.ObjectInt(fn, i) }

// IsVariadicArity reports whether a stored arity word denotes a
// variadic body (bytecode_fn.cpp's `~fixed` convention).
func IsVariadicArity(stored int64) bool { return stored < 0 }

// FixedArityOf extracts the fixed parameter count from a stored arity
// word, undoing the `^fixed` encoding for variadic bodies.
func FixedArityOf(stored int64) int {
	if stored < 0 {
		return int(^stored)
	}
	return int(stored)
}

// FindBody resolves the body matching a call of the given argument
// count, per bytecode_fn_find_body / spec §4.7's find_body: an exact
// fixed-arity match, else the last body if it is variadic and its
// fixed arity is at most the requested one, else no match.
func (t *Types) FindBody(fn heap.Value, arity int) (heap.Value, bool) {
	n := t.FnBodyCount(fn)
	for i := 0; i < n; i++ {
		a := t.FnArityAt(fn, i)
		if !IsVariadicArity(a) && int(a) == arity {
			return t.FnBodyAt(fn, i), true
		}
	}
	if n > 0 {
		last := t.FnArityAt(fn, n-1)
		if IsVariadicArity(last) && FixedArityOf(last) <= arity {
			return t.FnBodyAt(fn, n-1), true
		}
	}
	return heap.Nil, false
}

// ReplaceConsts implements the IFN opcode's closure-capture semantics
// (bytecode_fn_replace_consts): every body of fn, independently, has
// its own last len(captured) constant-pool slots replaced by captured.
// A fn with no captures (n == 0) is returned unchanged.
func (t *Types) ReplaceConsts(fn heap.Value, captured []heap.Value) heap.Value {
	if len(captured) == 0 {
		return fn
	}
	count := t.FnBodyCount(fn)
	r := t.h.NewRoots(count + len(captured) + 1)
	for i, c := range captured {
		r.Set(i, c)
	}
	r.Set(len(captured), t.FnName(fn))
	capturedCopy := make([]heap.Value, len(captured))
	for i := range captured {
		capturedCopy[i] = r.Get(i)
	}

	newBodies := make([]heap.Value, count)
	arities := make([]int64, count)
	for i := 0; i < count; i++ {
		newBodies[i] = t.replaceBodyConsts(t.FnBodyAt(fn, i), capturedCopy)
		arities[i] = t.FnArityAt(fn, i)
	}
	result := t.NewFn(r.Get(len(captured)), newBodies, arities)
	r.Release()
	return result
}
