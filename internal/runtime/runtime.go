package runtime

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"stratus/internal/asm"
)

// MachineState is the slice of executing machine state the runtime
// entries may observe.
type MachineState interface {
	// ContextReg returns the current value of the context register.
	ContextReg() uint32
	// CallerArgs returns the actual arguments of the innermost
	// function invocation, before arity adaptation.
	CallerArgs() []uint32
}

// Thrown carries a heap value travelling as an exception. The machine
// unwinds to the innermost handler when a runtime entry returns one.
type Thrown struct {
	Value   uint32
	Message string
}

func (t *Thrown) Error() string { return t.Message }

// ThrowValue wraps a heap value for unwinding.
func ThrowValue(h *Heap, v uint32) error {
	return &Thrown{Value: v, Message: h.DisplayString(v)}
}

// ThrowBuiltin builds and throws a builtin error object such as
// TypeError or RangeError.
func ThrowBuiltin(h *Heap, name, msg string) error {
	obj, err := h.NewErrorObject(name, msg)
	if err != nil {
		return err
	}
	return &Thrown{Value: obj, Message: name + ": " + msg}
}

// Fn is the signature of a runtime entry point. Arguments arrive in
// push order; the result becomes V0.
type Fn func(h *Heap, m MachineState, args []uint32) (uint32, error)

var table = [asm.NumRuntimeFns]Fn{
	asm.RTBinaryOp:        rtBinaryOp,
	asm.RTCompare:         rtCompare,
	asm.RTToBool:          rtToBool,
	asm.RTToNumber:        rtToNumber,
	asm.RTUnaryMinus:      rtUnaryMinus,
	asm.RTNumberBitNot:    rtNumberBitNot,
	asm.RTTypeof:          rtTypeof,
	asm.RTStringAdd:       rtStringAdd,
	asm.RTLoadGlobal:      rtLoadGlobal,
	asm.RTLoadGlobalQuiet: rtLoadGlobalQuiet,
	asm.RTStoreGlobal:     rtStoreGlobal,
	asm.RTDeclareGlobal:   rtDeclareGlobal,
	asm.RTLoadProperty:    rtLoadProperty,
	asm.RTStoreProperty:   rtStoreProperty,
	asm.RTNewObject:       rtNewObject,
	asm.RTNewClosure:      rtNewClosure,
	asm.RTNewContext:      rtNewContext,
	asm.RTThrow:           rtThrow,
	asm.RTReThrow:         rtReThrow,
	asm.RTStackGuard:      rtStackGuard,
	asm.RTArguments:       rtArguments,
	asm.RTPrint:           rtPrint,
}

// Call dispatches a runtime entry.
func Call(fn asm.RuntimeFn, h *Heap, m MachineState, args []uint32) (uint32, error) {
	if fn < 0 || fn >= asm.NumRuntimeFns || table[fn] == nil {
		return 0, fmt.Errorf("runtime: no entry %d", fn)
	}
	return table[fn](h, m, args)
}

// --- conversions ---

// ToNumber applies the number coercion rules to any value.
func (h *Heap) ToNumber(v uint32) float64 {
	if IsSmi(v) {
		return float64(SmiToInt(v))
	}
	switch {
	case h.TypeByte(v)&StringFlag != 0:
		return parseNumber(h.GoString(v))
	case h.TypeByte(v) == TypeHeapNumber:
		return h.NumberAt(v)
	case v == h.roots[asm.RootUndefined]:
		return math.NaN()
	case v == h.roots[asm.RootNull]:
		return 0
	case v == h.roots[asm.RootTrue]:
		return 1
	case v == h.roots[asm.RootFalse]:
		return 0
	default:
		return parseNumber(h.DisplayString(v))
	}
}

// Truthy applies the boolean coercion rules to any value.
func (h *Heap) Truthy(v uint32) bool {
	if IsSmi(v) {
		return v != SmiWord(0)
	}
	switch {
	case v == h.roots[asm.RootTrue]:
		return true
	case v == h.roots[asm.RootFalse],
		v == h.roots[asm.RootUndefined],
		v == h.roots[asm.RootNull]:
		return false
	case h.TypeByte(v)&StringFlag != 0:
		return h.StringLength(v) > 0
	case h.TypeByte(v) == TypeHeapNumber:
		f := h.NumberAt(v)
		return f != 0 && !math.IsNaN(f)
	default:
		return true
	}
}

// DisplayString renders any value the way print and string coercion
// do.
func (h *Heap) DisplayString(v uint32) string {
	if IsSmi(v) {
		return strconv.FormatInt(int64(SmiToInt(v)), 10)
	}
	t := h.TypeByte(v)
	switch {
	case t&StringFlag != 0:
		return h.GoString(v)
	case t == TypeHeapNumber:
		return FormatNumber(h.NumberAt(v))
	case t == TypeOddball:
		switch v {
		case h.roots[asm.RootUndefined]:
			return "undefined"
		case h.roots[asm.RootNull]:
			return "null"
		case h.roots[asm.RootTrue]:
			return "true"
		case h.roots[asm.RootFalse]:
			return "false"
		}
		return "oddball"
	case t&TypeMask == TypeFunction:
		return "function " + h.functionName(v)
	default:
		return "[object Object]"
	}
}

func (h *Heap) functionName(v uint32) string {
	id := int(SmiToInt(h.Word(Untag(v) + FunctionCodeOffset)))
	if h.TypeByte(v)&NativeFlag != 0 {
		return asm.RuntimeFn(id).String()
	}
	if id >= 0 && id < len(h.codes) {
		return h.codes[id].Name
	}
	return ""
}

// FormatNumber renders a double following the usual dynamic language
// conventions: no fraction for integral values, Infinity spelled out,
// exponent form only for very large or very small magnitudes.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	if abs := math.Abs(f); abs < 1e21 && abs >= 1e-6 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	// Trim exponent zero padding: 1.5e-07 prints as 1.5e-7.
	if i := strings.IndexByte(s, 'e'); i >= 0 {
		mant, exp := s[:i], s[i+1:]
		sign := ""
		if exp[0] == '+' || exp[0] == '-' {
			sign, exp = string(exp[0]), exp[1:]
		}
		exp = strings.TrimLeft(exp, "0")
		if exp == "" {
			exp = "0"
		}
		s = mant + "e" + sign + exp
	}
	return s
}

func parseNumber(s string) float64 {
	s = strings.TrimFunc(s, unicode.IsSpace)
	if s == "" {
		return 0
	}
	neg := false
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		neg = true
		s = s[1:]
	}
	var f float64
	switch {
	case s == "Infinity":
		f = math.Inf(1)
	case len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X"):
		u, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return math.NaN()
		}
		f = float64(u)
	default:
		for i := 0; i < len(s); i++ {
			c := s[i]
			if c >= '0' && c <= '9' || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-' {
				continue
			}
			return math.NaN()
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		f = v
	}
	if neg {
		return -f
	}
	return f
}

// ToInt32 applies the 32-bit integer coercion used by bitwise
// operations.
func ToInt32(f float64) int32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	t := math.Trunc(f)
	m := math.Mod(t, 1<<32)
	if m < 0 {
		m += 1 << 32
	}
	return int32(uint32(m))
}

// MakeNumber boxes a double, preferring the small integer form.
// Negative zero always boxes.
func (h *Heap) MakeNumber(f float64) (uint32, error) {
	if f == math.Trunc(f) && !math.IsInf(f, 0) &&
		f >= float64(asm.SmiMin) && f <= float64(asm.SmiMax) &&
		!(f == 0 && math.Signbit(f)) {
		return SmiWord(int32(f)), nil
	}
	return h.NewHeapNumber(f)
}

// --- value classification ---

const (
	classNumber = iota
	classString
	classBool
	classUndefined
	classNull
	classObject
)

func (h *Heap) classOf(v uint32) int {
	if IsSmi(v) {
		return classNumber
	}
	t := h.TypeByte(v)
	switch {
	case t&StringFlag != 0:
		return classString
	case t == TypeHeapNumber:
		return classNumber
	case v == h.roots[asm.RootTrue], v == h.roots[asm.RootFalse]:
		return classBool
	case v == h.roots[asm.RootUndefined]:
		return classUndefined
	case v == h.roots[asm.RootNull]:
		return classNull
	default:
		return classObject
	}
}

// --- the entries ---

func rtBinaryOp(h *Heap, m MachineState, args []uint32) (uint32, error) {
	l, r := args[0], args[1]
	op := asm.BinOp(SmiToInt(args[2]))

	if op == asm.BinAdd {
		lc, rc := h.classOf(l), h.classOf(r)
		if lc == classString || rc == classString ||
			lc == classObject || rc == classObject {
			ls, rs := h.DisplayString(l), h.DisplayString(r)
			if len(ls)+len(rs) > MaxStringLength {
				return 0, ThrowBuiltin(h, "RangeError", "Invalid string length")
			}
			return h.NewString(ls + rs)
		}
		return h.MakeNumber(h.ToNumber(l) + h.ToNumber(r))
	}

	x, y := h.ToNumber(l), h.ToNumber(r)
	switch op {
	case asm.BinSub:
		return h.MakeNumber(x - y)
	case asm.BinMul:
		return h.MakeNumber(x * y)
	case asm.BinDiv:
		return h.MakeNumber(x / y)
	case asm.BinMod:
		return h.MakeNumber(math.Mod(x, y))
	case asm.BinBitOr:
		return h.MakeNumber(float64(ToInt32(x) | ToInt32(y)))
	case asm.BinBitAnd:
		return h.MakeNumber(float64(ToInt32(x) & ToInt32(y)))
	case asm.BinBitXor:
		return h.MakeNumber(float64(ToInt32(x) ^ ToInt32(y)))
	case asm.BinShl:
		return h.MakeNumber(float64(ToInt32(x) << (uint32(ToInt32(y)) & 31)))
	case asm.BinSar:
		return h.MakeNumber(float64(ToInt32(x) >> (uint32(ToInt32(y)) & 31)))
	case asm.BinShr:
		return h.MakeNumber(float64(uint32(ToInt32(x)) >> (uint32(ToInt32(y)) & 31)))
	}
	return 0, fmt.Errorf("runtime: unknown binary op %d", op)
}

// Compare hints: the result to report when an operand is NaN for
// relational compares, or an equality mode.
const (
	CompareNaNIsLess    = -1
	CompareLooseEqual   = 0
	CompareNaNIsGreater = 1
	CompareStrictEqual  = 2
)

func rtCompare(h *Heap, m MachineState, args []uint32) (uint32, error) {
	l, r := args[0], args[1]
	hint := int(SmiToInt(args[2]))
	switch hint {
	case CompareLooseEqual:
		if h.looseEqual(l, r) {
			return SmiWord(0), nil
		}
		return SmiWord(1), nil
	case CompareStrictEqual:
		if h.strictEqual(l, r) {
			return SmiWord(0), nil
		}
		return SmiWord(1), nil
	}
	if h.classOf(l) == classString && h.classOf(r) == classString {
		return SmiWord(int32(strings.Compare(h.GoString(l), h.GoString(r)))), nil
	}
	x, y := h.ToNumber(l), h.ToNumber(r)
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return SmiWord(int32(hint)), nil
	case x < y:
		return SmiWord(-1), nil
	case x > y:
		return SmiWord(1), nil
	}
	return SmiWord(0), nil
}

func (h *Heap) looseEqual(a, b uint32) bool {
	ac, bc := h.classOf(a), h.classOf(b)
	if ac == bc {
		switch ac {
		case classNumber:
			return h.ToNumber(a) == h.ToNumber(b)
		case classString:
			return h.GoString(a) == h.GoString(b)
		default:
			return a == b
		}
	}
	switch {
	case ac == classNull && bc == classUndefined,
		ac == classUndefined && bc == classNull:
		return true
	case ac == classUndefined || ac == classNull ||
		bc == classUndefined || bc == classNull:
		return false
	case ac == classObject && bc == classString,
		bc == classObject && ac == classString:
		return h.DisplayString(a) == h.DisplayString(b)
	default:
		// Some mix of number, string, boolean and object compares
		// numerically.
		return h.ToNumber(a) == h.ToNumber(b)
	}
}

func (h *Heap) strictEqual(a, b uint32) bool {
	ac, bc := h.classOf(a), h.classOf(b)
	if ac != bc {
		return false
	}
	switch ac {
	case classNumber:
		return h.ToNumber(a) == h.ToNumber(b)
	case classString:
		return h.GoString(a) == h.GoString(b)
	default:
		return a == b
	}
}

func rtToBool(h *Heap, m MachineState, args []uint32) (uint32, error) {
	return h.BoolValue(h.Truthy(args[0])), nil
}

func rtToNumber(h *Heap, m MachineState, args []uint32) (uint32, error) {
	return h.MakeNumber(h.ToNumber(args[0]))
}

func rtUnaryMinus(h *Heap, m MachineState, args []uint32) (uint32, error) {
	return h.MakeNumber(-h.ToNumber(args[0]))
}

func rtNumberBitNot(h *Heap, m MachineState, args []uint32) (uint32, error) {
	return h.MakeNumber(float64(^ToInt32(h.ToNumber(args[0]))))
}

func rtTypeof(h *Heap, m MachineState, args []uint32) (uint32, error) {
	return h.Intern(h.TypeofString(args[0]))
}

// TypeofString returns the typeof name for a value. Null reports
// "object", keeping the historical behavior.
func (h *Heap) TypeofString(v uint32) string {
	if IsSmi(v) {
		return "number"
	}
	t := h.TypeByte(v)
	switch {
	case t&StringFlag != 0:
		return "string"
	case t == TypeHeapNumber:
		return "number"
	case v == h.roots[asm.RootTrue], v == h.roots[asm.RootFalse]:
		return "boolean"
	case v == h.roots[asm.RootUndefined]:
		return "undefined"
	case t&TypeMask == TypeFunction:
		return "function"
	default:
		return "object"
	}
}

func rtStringAdd(h *Heap, m MachineState, args []uint32) (uint32, error) {
	ls, rs := h.GoString(args[0]), h.GoString(args[1])
	if len(ls)+len(rs) > MaxStringLength {
		return 0, ThrowBuiltin(h, "RangeError", "Invalid string length")
	}
	return h.NewString(ls + rs)
}

func rtLoadGlobal(h *Heap, m MachineState, args []uint32) (uint32, error) {
	if v, ok := h.GetGlobal(args[0]); ok {
		return v, nil
	}
	return 0, ThrowBuiltin(h, "ReferenceError", h.GoString(args[0])+" is not defined")
}

func rtLoadGlobalQuiet(h *Heap, m MachineState, args []uint32) (uint32, error) {
	if v, ok := h.GetGlobal(args[0]); ok {
		return v, nil
	}
	return h.Undefined(), nil
}

func rtStoreGlobal(h *Heap, m MachineState, args []uint32) (uint32, error) {
	h.SetGlobal(args[0], args[1])
	return args[1], nil
}

// Declare flags pushed with the symbol and initial value.
const (
	DeclareConst    = 1
	DeclareFunction = 2
)

func rtDeclareGlobal(h *Heap, m MachineState, args []uint32) (uint32, error) {
	flags := SmiToInt(args[2])
	h.DeclareGlobal(args[0], args[1], flags&DeclareConst != 0, flags&DeclareFunction != 0)
	return h.Undefined(), nil
}

func (h *Heap) propertyKey(key uint32) (uint32, error) {
	return h.Intern(h.DisplayString(key))
}

func rtLoadProperty(h *Heap, m MachineState, args []uint32) (uint32, error) {
	obj, key := args[0], args[1]
	if obj == h.roots[asm.RootUndefined] || obj == h.roots[asm.RootNull] {
		return 0, ThrowBuiltin(h, "TypeError",
			"Cannot read properties of "+h.DisplayString(obj)+
				" (reading '"+h.DisplayString(key)+"')")
	}
	sym, err := h.propertyKey(key)
	if err != nil {
		return 0, err
	}
	if h.IsString(obj) && h.GoString(sym) == "length" {
		return SmiWord(int32(h.StringLength(obj))), nil
	}
	props := h.PropsOf(obj)
	if props == nil {
		return h.Undefined(), nil
	}
	if v, ok := props[sym]; ok {
		return v, nil
	}
	return h.Undefined(), nil
}

func rtStoreProperty(h *Heap, m MachineState, args []uint32) (uint32, error) {
	obj, key, val := args[0], args[1], args[2]
	if obj == h.roots[asm.RootUndefined] || obj == h.roots[asm.RootNull] {
		return 0, ThrowBuiltin(h, "TypeError",
			"Cannot set properties of "+h.DisplayString(obj)+
				" (setting '"+h.DisplayString(key)+"')")
	}
	props := h.PropsOf(obj)
	if props == nil {
		// Stores to primitives are dropped.
		return val, nil
	}
	sym, err := h.propertyKey(key)
	if err != nil {
		return 0, err
	}
	props[sym] = val
	return val, nil
}

func rtNewObject(h *Heap, m MachineState, args []uint32) (uint32, error) {
	return h.NewObject()
}

func rtNewClosure(h *Heap, m MachineState, args []uint32) (uint32, error) {
	return h.NewFunction(int(SmiToInt(args[0])), m.ContextReg())
}

func rtNewContext(h *Heap, m MachineState, args []uint32) (uint32, error) {
	return h.NewContext(int(SmiToInt(args[0])), m.ContextReg())
}

func rtThrow(h *Heap, m MachineState, args []uint32) (uint32, error) {
	return 0, ThrowValue(h, args[0])
}

func rtReThrow(h *Heap, m MachineState, args []uint32) (uint32, error) {
	return 0, ThrowValue(h, args[0])
}

func rtStackGuard(h *Heap, m MachineState, args []uint32) (uint32, error) {
	return 0, ThrowBuiltin(h, "RangeError", "Maximum call stack size exceeded")
}

func rtArguments(h *Heap, m MachineState, args []uint32) (uint32, error) {
	actual := m.CallerArgs()
	obj, err := h.NewObject()
	if err != nil {
		return 0, err
	}
	props := h.PropsOf(obj)
	for i, v := range actual {
		sym, err := h.Intern(strconv.Itoa(i))
		if err != nil {
			return 0, err
		}
		props[sym] = v
	}
	lengthSym, err := h.Intern("length")
	if err != nil {
		return 0, err
	}
	props[lengthSym] = SmiWord(int32(len(actual)))
	return obj, nil
}

func rtPrint(h *Heap, m MachineState, args []uint32) (uint32, error) {
	v := h.Undefined()
	if len(args) > 0 {
		v = args[0]
	}
	fmt.Fprintln(h.Out, h.DisplayString(v))
	return h.Undefined(), nil
}
