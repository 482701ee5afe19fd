// Package runtime implements the heap, the object model and the
// entry points compiled code calls for everything outside its fast
// paths. Memory is a flat byte array addressed by 32-bit tagged
// words, so generated code and the runtime read the same bits.
package runtime

import "stratus/internal/asm"

// Heap object type byte, stored in the low byte of the header word.
// Strings keep their flags in the low nibble so one mask test answers
// "is this a string".
const (
	StringFlag = 0x01
	ConsFlag   = 0x02
	SymbolFlag = 0x04
	AsciiFlag  = 0x08

	TypeSeqString  = StringFlag
	TypeConsString = StringFlag | ConsFlag

	TypeHeapNumber  = 0x10
	TypeOddball     = 0x20
	TypeFunction    = 0x30
	TypeObject      = 0x40
	TypeContext     = 0x50
	TypeSymbolTable = 0x60

	// NativeFlag marks a function whose code field is a runtime
	// entry id instead of installed code.
	NativeFlag = 0x02

	TypeMask = 0xf0
)

// Field offsets from the start of the object. Tagged pointers carry
// the heap tag, so access through them subtracts asm.HeapTag.
const (
	HeaderOffset = 0

	// HeapNumber: header, then an 8 byte little endian double.
	NumberValueOffset = 4
	HeapNumberSize    = 12

	// Strings: header, smi length in bytes, raw hash. Sequential
	// strings follow with the bytes, cons strings with two tagged
	// halves.
	StringLengthOffset  = 4
	StringHashOffset    = 8
	SeqStringDataOffset = 12
	ConsFirstOffset     = 12
	ConsSecondOffset    = 16
	ConsStringSize      = 20

	// Function: header, smi code id (or runtime entry id when
	// native), captured context.
	FunctionCodeOffset    = 4
	FunctionContextOffset = 8
	FunctionSize          = 12

	// Object: header, smi index into the property table.
	ObjectPropsOffset = 4
	ObjectSize        = 8

	// Context: header, previous context, then the slots.
	ContextPrevOffset  = 4
	ContextSlotsOffset = 8

	// Symbol table: header, smi capacity, then capacity entry words.
	SymTableCapOffset     = 4
	SymTableEntriesOffset = 8

	OddballSize = 4
)

// MaxStringLength bounds string sizes; longer concatenations raise a
// range error.
const MaxStringLength = 1<<28 - 16

// SeqStringSize returns the allocation size for a sequential string
// of length n, rounded up to a word.
func SeqStringSize(n int) int {
	return (SeqStringDataOffset + n + 3) &^ 3
}

// ContextSize returns the allocation size for a context with n slots.
func ContextSize(n int) int {
	return ContextSlotsOffset + 4*n
}

// IsSmi reports whether the tagged word is a small integer.
func IsSmi(v uint32) bool { return v&((1<<asm.SmiTagSize)-1) == asm.SmiTag }

// IsHeapObject reports whether the tagged word is a heap pointer.
func IsHeapObject(v uint32) bool { return v&asm.HeapTag == asm.HeapTag }

// SmiToInt recovers the integer from a tagged small integer.
func SmiToInt(v uint32) int32 { return int32(v) >> asm.SmiShift }

// SmiWord builds the tagged word of a small integer.
func SmiWord(i int32) uint32 { return uint32(asm.SmiVal(i)) }

// FitsSmi reports whether i survives tagging.
func FitsSmi(i int64) bool { return i >= asm.SmiMin && i <= asm.SmiMax }

// Untag strips the heap tag from a tagged pointer.
func Untag(v uint32) uint32 { return v - asm.HeapTag }

// HashAddChar folds one byte into a running string hash.
func HashAddChar(h uint32, c byte) uint32 {
	h += uint32(c)
	h += h << 10
	h ^= h >> 6
	return h
}

// HashFinish finalizes a running string hash. The result is never
// zero, so zero can mean "no hash".
func HashFinish(h uint32) uint32 {
	h += h << 3
	h ^= h >> 11
	h += h << 15
	if h == 0 {
		h = 27
	}
	return h
}

// StringHash hashes a whole string.
func StringHash(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = HashAddChar(h, s[i])
	}
	return HashFinish(h)
}

// ProbeOffset is the quadratic probe step sequence shared by the
// symbol table and the inline two character probe in generated code.
func ProbeOffset(i int) uint32 {
	return uint32(i * (i + 1) / 2)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
