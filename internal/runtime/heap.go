package runtime

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"stratus/internal/asm"
)

// Config sizes the heap's regions. Zero fields take defaults.
type Config struct {
	StackSize    int
	NewSpaceSize int
	OldSpaceSize int
}

const (
	defaultStackSize = 1 << 20
	defaultNewSize   = 8 << 20
	defaultOldSize   = 4 << 20

	// Memory below baseAddr stays unmapped so a stray zero pointer
	// faults instead of reading the stack.
	baseAddr = 0x1000

	// stackGuard is the headroom CheckStack keeps below the deepest
	// frame, enough for the runtime calls the guard itself makes.
	stackGuard = 4096

	symTableInitialCap = 512
)

func (c Config) withDefaults() Config {
	if c.StackSize <= 0 {
		c.StackSize = defaultStackSize
	}
	if c.NewSpaceSize <= 0 {
		c.NewSpaceSize = defaultNewSize
	}
	if c.OldSpaceSize <= 0 {
		c.OldSpaceSize = defaultOldSize
	}
	return c
}

// Heap owns the simulated memory: the machine stack, old space for
// immortal values and new space for everything allocated while
// running. It also carries the VM-global side tables: interned
// symbols, global bindings, object properties and installed code.
type Heap struct {
	mem []byte
	Out io.Writer

	stackBase  uint32
	stackLimit uint32

	newTop uint32
	newEnd uint32
	oldTop uint32
	oldEnd uint32

	roots [asm.NumRoots]uint32

	symbols  map[string]uint32
	symCount int

	globals     map[uint32]uint32
	globalConst map[uint32]bool

	props []map[uint32]uint32

	codes   []*asm.Code
	pools   [][]uint32
	codeIDs map[*asm.Code]int

	allocs int
}

// NewHeap lays out memory and creates the immortal values: the
// oddball roots, the symbol table and the native globals.
func NewHeap(cfg Config) (*Heap, error) {
	cfg = cfg.withDefaults()
	stackEnd := baseAddr + uint32(cfg.StackSize)
	oldEnd := stackEnd + uint32(cfg.OldSpaceSize)
	newEnd := oldEnd + uint32(cfg.NewSpaceSize)

	h := &Heap{
		mem:         make([]byte, newEnd),
		Out:         os.Stdout,
		stackBase:   stackEnd,
		stackLimit:  baseAddr + stackGuard,
		oldTop:      stackEnd,
		oldEnd:      oldEnd,
		newTop:      oldEnd,
		newEnd:      newEnd,
		symbols:     make(map[string]uint32),
		globals:     make(map[uint32]uint32),
		globalConst: make(map[uint32]bool),
		codeIDs:     make(map[*asm.Code]int),
	}

	for _, ri := range []asm.RootIndex{asm.RootUndefined, asm.RootNull, asm.RootTrue, asm.RootFalse} {
		addr, err := h.AllocOld(OddballSize)
		if err != nil {
			return nil, err
		}
		h.SetByte(addr+HeaderOffset, TypeOddball)
		h.roots[ri] = addr + asm.HeapTag
	}
	if err := h.newSymbolTable(symTableInitialCap); err != nil {
		return nil, err
	}
	if err := h.installNatives(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Heap) newSymbolTable(capacity int) error {
	addr, err := h.AllocOld(SymTableEntriesOffset + 4*capacity)
	if err != nil {
		return err
	}
	h.SetByte(addr+HeaderOffset, TypeSymbolTable)
	h.SetWord(addr+SymTableCapOffset, SmiWord(int32(capacity)))
	h.roots[asm.RootSymbolTable] = addr + asm.HeapTag
	return nil
}

func (h *Heap) installNatives() error {
	for _, n := range []struct {
		name string
		fn   asm.RuntimeFn
	}{
		{"print", asm.RTPrint},
	} {
		sym, err := h.Intern(n.name)
		if err != nil {
			return err
		}
		f, err := h.NewNativeFunction(n.fn)
		if err != nil {
			return err
		}
		h.globals[sym] = f
	}
	return nil
}

// --- raw memory ---

// ValidRange reports whether [addr, addr+size) falls inside mapped
// memory.
func (h *Heap) ValidRange(addr uint32, size int) bool {
	return addr >= baseAddr && uint64(addr)+uint64(size) <= uint64(len(h.mem))
}

// Word reads an aligned 32-bit little endian word.
func (h *Heap) Word(addr uint32) uint32 {
	return binary.LittleEndian.Uint32(h.mem[addr:])
}

// SetWord writes an aligned 32-bit little endian word.
func (h *Heap) SetWord(addr, v uint32) {
	binary.LittleEndian.PutUint32(h.mem[addr:], v)
}

// Byte reads one byte.
func (h *Heap) Byte(addr uint32) byte { return h.mem[addr] }

// SetByte writes one byte.
func (h *Heap) SetByte(addr uint32, v byte) { h.mem[addr] = v }

// StackBase is the initial stack pointer; the stack grows down.
func (h *Heap) StackBase() uint32 { return h.stackBase }

// StackLimit is the address CheckStack compares against.
func (h *Heap) StackLimit() uint32 { return h.stackLimit }

// Root returns the tagged value of a well-known root.
func (h *Heap) Root(ri asm.RootIndex) uint32 { return h.roots[ri] }

// Undefined is shorthand for the undefined root.
func (h *Heap) Undefined() uint32 { return h.roots[asm.RootUndefined] }

// BoolValue returns the true or false root.
func (h *Heap) BoolValue(b bool) uint32 {
	if b {
		return h.roots[asm.RootTrue]
	}
	return h.roots[asm.RootFalse]
}

// AllocCount returns the number of heap allocations performed, inline
// allocations in generated code included.
func (h *Heap) AllocCount() int { return h.allocs }

// AllocNew bump-allocates size bytes of zeroed new space, returning
// the untagged address. The boolean is false when the space is
// exhausted.
func (h *Heap) AllocNew(size int) (uint32, bool) {
	if size <= 0 || size&3 != 0 {
		panic(fmt.Sprintf("runtime: misaligned allocation of %d", size))
	}
	if h.newTop+uint32(size) > h.newEnd {
		return 0, false
	}
	addr := h.newTop
	h.newTop += uint32(size)
	h.allocs++
	return addr, true
}

// AllocOld allocates size bytes of zeroed old space for immortal
// values.
func (h *Heap) AllocOld(size int) (uint32, error) {
	if size <= 0 || size&3 != 0 {
		panic(fmt.Sprintf("runtime: misaligned allocation of %d", size))
	}
	if h.oldTop+uint32(size) > h.oldEnd {
		return 0, fmt.Errorf("runtime: old space exhausted (%d bytes requested)", size)
	}
	addr := h.oldTop
	h.oldTop += uint32(size)
	h.allocs++
	return addr, nil
}

// --- object constructors ---

// NewHeapNumber boxes a double in new space.
func (h *Heap) NewHeapNumber(f float64) (uint32, error) {
	addr, ok := h.AllocNew(HeapNumberSize)
	if !ok {
		return 0, fmt.Errorf("runtime: new space exhausted")
	}
	h.SetByte(addr+HeaderOffset, TypeHeapNumber)
	h.setNumberAt(addr, f)
	return addr + asm.HeapTag, nil
}

func (h *Heap) setNumberAt(addr uint32, f float64) {
	bits := math.Float64bits(f)
	h.SetWord(addr+NumberValueOffset, uint32(bits))
	h.SetWord(addr+NumberValueOffset+4, uint32(bits>>32))
}

// NumberAt reads the double out of a tagged heap number.
func (h *Heap) NumberAt(v uint32) float64 {
	u := Untag(v)
	lo := uint64(h.Word(u + NumberValueOffset))
	hi := uint64(h.Word(u + NumberValueOffset + 4))
	return math.Float64frombits(hi<<32 | lo)
}

func (h *Heap) newStringIn(old bool, s string, flags byte) (uint32, error) {
	size := SeqStringSize(len(s))
	var addr uint32
	if old {
		a, err := h.AllocOld(size)
		if err != nil {
			return 0, err
		}
		addr = a
	} else {
		a, ok := h.AllocNew(size)
		if !ok {
			return 0, fmt.Errorf("runtime: new space exhausted")
		}
		addr = a
	}
	tb := byte(TypeSeqString) | flags
	if isASCII(s) {
		tb |= AsciiFlag
	}
	h.SetByte(addr+HeaderOffset, tb)
	h.SetWord(addr+StringLengthOffset, SmiWord(int32(len(s))))
	copy(h.mem[addr+SeqStringDataOffset:], s)
	return addr + asm.HeapTag, nil
}

// NewString allocates a sequential string in new space.
func (h *Heap) NewString(s string) (uint32, error) {
	if len(s) > MaxStringLength {
		return 0, fmt.Errorf("runtime: string of %d bytes over limit", len(s))
	}
	return h.newStringIn(false, s, 0)
}

// Intern returns the unique symbol for s, creating it in old space on
// first use.
func (h *Heap) Intern(s string) (uint32, error) {
	if v, ok := h.symbols[s]; ok {
		return v, nil
	}
	v, err := h.newStringIn(true, s, SymbolFlag)
	if err != nil {
		return 0, err
	}
	hash := StringHash(s)
	h.SetWord(Untag(v)+StringHashOffset, hash)
	if err := h.symTableInsert(v, hash); err != nil {
		return 0, err
	}
	h.symbols[s] = v
	h.symCount++
	return v, nil
}

func (h *Heap) symTableInsert(sym, hash uint32) error {
	t := Untag(h.roots[asm.RootSymbolTable])
	capacity := uint32(SmiToInt(h.Word(t + SymTableCapOffset)))
	if uint32(h.symCount+1)*4 > capacity*3 {
		if err := h.growSymbolTable(int(capacity) * 2); err != nil {
			return err
		}
		t = Untag(h.roots[asm.RootSymbolTable])
		capacity = uint32(SmiToInt(h.Word(t + SymTableCapOffset)))
	}
	for i := 0; ; i++ {
		idx := (hash + ProbeOffset(i)) & (capacity - 1)
		slot := t + SymTableEntriesOffset + 4*idx
		if h.Word(slot) == 0 {
			h.SetWord(slot, sym)
			return nil
		}
	}
}

func (h *Heap) growSymbolTable(capacity int) error {
	old := Untag(h.roots[asm.RootSymbolTable])
	oldCap := uint32(SmiToInt(h.Word(old + SymTableCapOffset)))
	if err := h.newSymbolTable(capacity); err != nil {
		return err
	}
	t := Untag(h.roots[asm.RootSymbolTable])
	newCap := uint32(SmiToInt(h.Word(t + SymTableCapOffset)))
	for i := uint32(0); i < oldCap; i++ {
		sym := h.Word(old + SymTableEntriesOffset + 4*i)
		if sym == 0 {
			continue
		}
		hash := h.Word(Untag(sym) + StringHashOffset)
		for j := 0; ; j++ {
			idx := (hash + ProbeOffset(j)) & (newCap - 1)
			slot := t + SymTableEntriesOffset + 4*idx
			if h.Word(slot) == 0 {
				h.SetWord(slot, sym)
				break
			}
		}
	}
	return nil
}

// NewFunction builds a closure over installed code.
func (h *Heap) NewFunction(codeID int, context uint32) (uint32, error) {
	addr, ok := h.AllocNew(FunctionSize)
	if !ok {
		return 0, fmt.Errorf("runtime: new space exhausted")
	}
	h.SetByte(addr+HeaderOffset, TypeFunction)
	h.SetWord(addr+FunctionCodeOffset, SmiWord(int32(codeID)))
	h.SetWord(addr+FunctionContextOffset, context)
	return addr + asm.HeapTag, nil
}

// NewNativeFunction builds a function dispatching to a runtime entry.
func (h *Heap) NewNativeFunction(fn asm.RuntimeFn) (uint32, error) {
	addr, err := h.AllocOld(FunctionSize)
	if err != nil {
		return 0, err
	}
	h.SetByte(addr+HeaderOffset, TypeFunction|NativeFlag)
	h.SetWord(addr+FunctionCodeOffset, SmiWord(int32(fn)))
	h.SetWord(addr+FunctionContextOffset, 0)
	return addr + asm.HeapTag, nil
}

// NewObject builds an empty object with a fresh property table.
func (h *Heap) NewObject() (uint32, error) {
	addr, ok := h.AllocNew(ObjectSize)
	if !ok {
		return 0, fmt.Errorf("runtime: new space exhausted")
	}
	h.SetByte(addr+HeaderOffset, TypeObject)
	h.SetWord(addr+ObjectPropsOffset, SmiWord(int32(len(h.props))))
	h.props = append(h.props, make(map[uint32]uint32))
	return addr + asm.HeapTag, nil
}

// NewContext builds a context of n slots chained to prev. Slots start
// as undefined.
func (h *Heap) NewContext(n int, prev uint32) (uint32, error) {
	addr, ok := h.AllocNew(ContextSize(n))
	if !ok {
		return 0, fmt.Errorf("runtime: new space exhausted")
	}
	h.SetByte(addr+HeaderOffset, TypeContext)
	h.SetWord(addr+ContextPrevOffset, prev)
	for i := 0; i < n; i++ {
		h.SetWord(addr+ContextSlotsOffset+4*uint32(i), h.Undefined())
	}
	return addr + asm.HeapTag, nil
}

// NewErrorObject builds {name, message} for a thrown builtin error.
func (h *Heap) NewErrorObject(name, message string) (uint32, error) {
	obj, err := h.NewObject()
	if err != nil {
		return 0, err
	}
	props := h.PropsOf(obj)
	nameSym, err := h.Intern("name")
	if err != nil {
		return 0, err
	}
	msgSym, err := h.Intern("message")
	if err != nil {
		return 0, err
	}
	nameVal, err := h.NewString(name)
	if err != nil {
		return 0, err
	}
	msgVal, err := h.NewString(message)
	if err != nil {
		return 0, err
	}
	props[nameSym] = nameVal
	props[msgSym] = msgVal
	return obj, nil
}

// --- object access ---

// TypeByte returns the header type byte of a tagged heap value.
func (h *Heap) TypeByte(v uint32) byte { return h.Byte(Untag(v) + HeaderOffset) }

// IsString reports whether v is any string representation.
func (h *Heap) IsString(v uint32) bool {
	return IsHeapObject(v) && h.TypeByte(v)&StringFlag != 0
}

// StringLength returns the byte length of a tagged string.
func (h *Heap) StringLength(v uint32) int {
	return int(SmiToInt(h.Word(Untag(v) + StringLengthOffset)))
}

// GoString materializes a tagged string, walking cons trees.
func (h *Heap) GoString(v uint32) string {
	var sb strings.Builder
	sb.Grow(h.StringLength(v))
	stack := []uint32{v}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		u := Untag(s)
		if h.Byte(u+HeaderOffset)&ConsFlag != 0 {
			stack = append(stack, h.Word(u+ConsSecondOffset), h.Word(u+ConsFirstOffset))
			continue
		}
		n := int(SmiToInt(h.Word(u + StringLengthOffset)))
		sb.Write(h.mem[u+SeqStringDataOffset : int(u+SeqStringDataOffset)+n])
	}
	return sb.String()
}

// PropsOf returns the property table of a tagged object, or nil.
func (h *Heap) PropsOf(v uint32) map[uint32]uint32 {
	if !IsHeapObject(v) || h.TypeByte(v) != TypeObject {
		return nil
	}
	idx := SmiToInt(h.Word(Untag(v) + ObjectPropsOffset))
	return h.props[idx]
}

// --- globals ---

// GetGlobal looks up a global by symbol.
func (h *Heap) GetGlobal(sym uint32) (uint32, bool) {
	v, ok := h.globals[sym]
	return v, ok
}

// SetGlobal writes a global binding. Stores to const bindings are
// dropped.
func (h *Heap) SetGlobal(sym, v uint32) {
	if h.globalConst[sym] {
		return
	}
	h.globals[sym] = v
}

// DeclareGlobal processes a hoisted declaration. Function
// declarations overwrite; plain vars only fill absent slots.
func (h *Heap) DeclareGlobal(sym, v uint32, isConst, isFunc bool) {
	if _, exists := h.globals[sym]; exists && !isFunc && !isConst {
		return
	}
	h.globals[sym] = v
	if isConst {
		h.globalConst[sym] = true
	}
}

// --- code registry ---

// Install resolves a code object's constant pool against the heap and
// registers it for execution, recursing into nested functions. It
// returns the code id.
func (h *Heap) Install(code *asm.Code) (int, error) {
	if id, ok := h.codeIDs[code]; ok {
		return id, nil
	}
	id := len(h.codes)
	h.codes = append(h.codes, code)
	h.pools = append(h.pools, nil)
	h.codeIDs[code] = id

	pool := make([]uint32, len(code.Pool))
	for i, c := range code.Pool {
		switch c.Kind {
		case asm.ConstNumber:
			addr, err := h.AllocOld(HeapNumberSize)
			if err != nil {
				return 0, err
			}
			h.SetByte(addr+HeaderOffset, TypeHeapNumber)
			h.setNumberAt(addr, c.Num)
			pool[i] = addr + asm.HeapTag
		case asm.ConstString, asm.ConstSymbol:
			v, err := h.Intern(c.Str)
			if err != nil {
				return 0, err
			}
			pool[i] = v
		case asm.ConstFunction:
			nested, err := h.Install(c.Code)
			if err != nil {
				return 0, err
			}
			pool[i] = SmiWord(int32(nested))
		default:
			return 0, fmt.Errorf("runtime: unknown pool constant %v", c.Kind)
		}
	}
	h.pools[id] = pool
	return id, nil
}

// CodeID returns the id of installed code, installing on first use.
func (h *Heap) CodeID(code *asm.Code) (int, error) { return h.Install(code) }

// CodeByID returns installed code.
func (h *Heap) CodeByID(id int) *asm.Code { return h.codes[id] }

// PoolValue returns a resolved constant of installed code.
func (h *Heap) PoolValue(codeID, idx int) uint32 { return h.pools[codeID][idx] }
