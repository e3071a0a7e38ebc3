package vm

// Op is a single bytecode instruction's opcode byte. The exact values
// are fixed by spec §4.7 / original_source/source/core/cleo/vm.hpp so
// that bytecode emitted by the compiler package round-trips against
// the reference implementation's own encoding.
type Op byte

const (
	CNIL Op = 0x00
	POP  Op = 0x01

	LDC  Op = 0x10
	LDL  Op = 0x11
	LDDV Op = 0x12
	LDV  Op = 0x13
	LDDF Op = 0x14
	LDSF Op = 0x15

	STL  Op = 0x20
	STVV Op = 0x21
	STVM Op = 0x22
	STVB Op = 0x23
	STDF Op = 0x24
	STSF Op = 0x25
	SETV Op = 0x26

	BR    Op = 0x30
	BNIL  Op = 0x31
	BNNIL Op = 0x32

	CALL  Op = 0x40
	APPLY Op = 0x41

	THROW Op = 0x48

	IFN Op = 0x50

	UBXI64 Op = 0x80
	BXI64  Op = 0x81
	ADDI64 Op = 0x82
)
