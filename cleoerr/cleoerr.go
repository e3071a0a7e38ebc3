// Package cleoerr implements spec §7's exception taxonomy: errors are
// first-class heap values deriving from a common Exception type, not
// just Go-side error codes. Each taxonomy entry is both a heap.Value
// type (so a `catch*` clause's type symbol can match it, and so
// `get-message` can read its message back out) and a Go error (so
// internal Go call chains — builtin, compiler, vm — can propagate it
// with ordinary `return err` and have the VM install it into the
// current-exception slot at the point it actually escapes a body).
// Grounded on spec §7's taxonomy verbatim; no single original_source
// file covers this as a standalone unit (the reference implementation
// throws C++ exception classes scattered across many .cpp files, e.g.
// `throw_illegal_argument` in value.cpp, `throw_illegal_state` in
// array.cpp), so each Types field below names the spec clause it
// implements rather than a single source file.
package cleoerr

import (
	"fmt"

	"github.com/rafalprzywarski/cleo-go/heap"
)

// Types holds the Exception type hierarchy's heap types.
type Types struct {
	ExceptionType          heap.Value
	CallErrorType          heap.Value
	IllegalArgumentType    heap.Value
	IllegalStateType       heap.Value
	SymbolNotFoundType     heap.Value
	ReadErrorType          heap.Value
	UnexpectedEndOfInputType heap.Value
	ArithmeticExceptionType heap.Value
	IndexOutOfBoundsType   heap.Value
	FileNotFoundType       heap.Value
	CompilationErrorType   heap.Value
}

// NewTypes bootstraps the exception type hierarchy. Each concrete
// type shares ExceptionType as its supertype marker via a flat Go-side
// switch (IsExceptionType) rather than a heap-level inheritance slot,
// since nothing else in the heap's type system (heap/types.go) models
// multi-level type hierarchies — exception "isa Exception" is a
// property only catch*/is-exception? needs, and a switch over the
// known types is the simplest thing that can answer it.
func NewTypes(h *heap.Heap) *Types {
	meta := h.NewMetaType("Type")
	t := &Types{
		ExceptionType:            h.NewType(meta, "Exception"),
		CallErrorType:            h.NewType(meta, "CallError"),
		IllegalArgumentType:      h.NewType(meta, "IllegalArgument"),
		IllegalStateType:         h.NewType(meta, "IllegalState"),
		SymbolNotFoundType:       h.NewType(meta, "SymbolNotFound"),
		ReadErrorType:            h.NewType(meta, "ReadError"),
		UnexpectedEndOfInputType: h.NewType(meta, "UnexpectedEndOfInput"),
		ArithmeticExceptionType:  h.NewType(meta, "ArithmeticException"),
		IndexOutOfBoundsType:     h.NewType(meta, "IndexOutOfBounds"),
		FileNotFoundType:         h.NewType(meta, "FileNotFound"),
		CompilationErrorType:     h.NewType(meta, "CompilationError"),
	}
	h.RegisterRootProvider(func() []heap.Value {
		return []heap.Value{
			t.ExceptionType, t.CallErrorType, t.IllegalArgumentType,
			t.IllegalStateType, t.SymbolNotFoundType, t.ReadErrorType,
			t.UnexpectedEndOfInputType, t.ArithmeticExceptionType,
			t.IndexOutOfBoundsType, t.FileNotFoundType, t.CompilationErrorType,
		}
	})
	h.RegisterPrStr(t.ExceptionType, prStrException)
	h.RegisterPrStr(t.CallErrorType, prStrException)
	h.RegisterPrStr(t.IllegalArgumentType, prStrException)
	h.RegisterPrStr(t.IllegalStateType, prStrException)
	h.RegisterPrStr(t.SymbolNotFoundType, prStrException)
	h.RegisterPrStr(t.ReadErrorType, prStrException)
	h.RegisterPrStr(t.UnexpectedEndOfInputType, prStrException)
	h.RegisterPrStr(t.ArithmeticExceptionType, prStrException)
	h.RegisterPrStr(t.IndexOutOfBoundsType, prStrException)
	h.RegisterPrStr(t.FileNotFoundType, prStrException)
	h.RegisterPrStr(t.CompilationErrorType, prStrException)
	return t
}

func prStrException(h *heap.Heap, v heap.Value) string {
	return fmt.Sprintf("#<%s: %s>", h.SymbolNameString(h.ObjectType(v)), h.GetString(h.ObjectElement(v, 0)))
}

// IsExceptionType reports whether typ is, or derives from, the
// Exception supertype (every concrete type listed in Types does).
func (t *Types) IsExceptionType(typ heap.Value) bool {
	switch {
	case typ.Is(t.ExceptionType), typ.Is(t.CallErrorType), typ.Is(t.IllegalArgumentType),
		typ.Is(t.IllegalStateType), typ.Is(t.SymbolNotFoundType), typ.Is(t.ReadErrorType),
		typ.Is(t.UnexpectedEndOfInputType), typ.Is(t.ArithmeticExceptionType),
		typ.Is(t.IndexOutOfBoundsType), typ.Is(t.FileNotFoundType), typ.Is(t.CompilationErrorType):
		return true
	default:
		return false
	}
}

// IsA reports whether an exception value's concrete type is typ, or
// typ is the generic ExceptionType supertype (catch* with a nil type
// matches any exception per spec §4.6 "nil matches all").
func (t *Types) IsA(v heap.Value, typ heap.Value, h *heap.Heap) bool {
	if typ.IsNil() || typ.Is(t.ExceptionType) {
		return true
	}
	return h.ObjectType(v).Is(typ)
}

// Error is the Go-side error wrapper around an exception heap.Value,
// letting Go call chains (builtin, compiler, vm) propagate it with
// ordinary error returns until the VM installs it into the current
// exception slot (heap.Heap.SetCurrentException) at the point it
// actually escapes a bytecode body.
type Error struct {
	Value heap.Value
	msg   string
}

func (e *Error) Error() string { return e.msg }

func newError(h *heap.Heap, typ heap.Value, message string) *Error {
	v := h.AllocStatic(typ, []heap.Value{h.CreateString(message)})
	return &Error{Value: v, msg: message}
}

// Message returns the exception's stored message string.
func Message(h *heap.Heap, v heap.Value) string { return h.GetString(h.ObjectElement(v, 0)) }

func NewCallError(h *heap.Heap, t *Types, message string) *Error {
	return newError(h, t.CallErrorType, message)
}

func NewIllegalArgument(h *heap.Heap, t *Types, message string) *Error {
	return newError(h, t.IllegalArgumentType, message)
}

func NewIllegalState(h *heap.Heap, t *Types, message string) *Error {
	return newError(h, t.IllegalStateType, message)
}

func NewSymbolNotFound(h *heap.Heap, t *Types, message string) *Error {
	return newError(h, t.SymbolNotFoundType, message)
}

func NewReadError(h *heap.Heap, t *Types, message string) *Error {
	return newError(h, t.ReadErrorType, message)
}

func NewUnexpectedEndOfInput(h *heap.Heap, t *Types, message string) *Error {
	return newError(h, t.UnexpectedEndOfInputType, message)
}

func NewArithmeticException(h *heap.Heap, t *Types, message string) *Error {
	return newError(h, t.ArithmeticExceptionType, message)
}

func NewIndexOutOfBounds(h *heap.Heap, t *Types, message string) *Error {
	return newError(h, t.IndexOutOfBoundsType, message)
}

func NewFileNotFound(h *heap.Heap, t *Types, message string) *Error {
	return newError(h, t.FileNotFoundType, message)
}

func NewCompilationError(h *heap.Heap, t *Types, message string) *Error {
	return newError(h, t.CompilationErrorType, message)
}
