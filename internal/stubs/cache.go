// Package stubs builds the shared code stubs compiled code calls for
// operations too big to inline but too hot for a runtime call: generic
// binary operations, string concatenation and comparison. A stub takes
// its operands in fixed registers, handles the common representations
// inline and falls back to the runtime for the rest.
package stubs

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"stratus/internal/asm"
)

// Stub calling convention. Operands arrive in registers with the
// frame spilled; the result comes back in Result. Stubs may clobber
// every allocatable register.
const (
	Lhs    = asm.T1
	Rhs    = asm.T0
	Result = asm.V0
)

const (
	fLhs    = asm.F1
	fRhs    = asm.F2
	fResult = asm.F0
)

// Cache interns built stubs by name so every call site of an
// operation shares one code object. Builds are deduplicated across
// goroutines; parallel compiles hit the cache concurrently.
type Cache struct {
	mu     sync.Mutex
	byName map[string]*asm.Code
	group  singleflight.Group
}

// NewCache returns an empty stub cache.
func NewCache() *Cache {
	return &Cache{byName: make(map[string]*asm.Code)}
}

// Size reports how many distinct stubs have been built.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byName)
}

// Stubs returns the built stubs sorted by name.
func (c *Cache) Stubs() []*asm.Code {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*asm.Code, len(names))
	for i, name := range names {
		out[i] = c.byName[name]
	}
	return out
}

func (c *Cache) get(name string, build func() *asm.Code) *asm.Code {
	c.mu.Lock()
	if code, ok := c.byName[name]; ok {
		c.mu.Unlock()
		return code
	}
	c.mu.Unlock()

	v, _, _ := c.group.Do(name, func() (interface{}, error) {
		c.mu.Lock()
		if code, ok := c.byName[name]; ok {
			c.mu.Unlock()
			return code, nil
		}
		c.mu.Unlock()
		code := build()
		c.mu.Lock()
		c.byName[name] = code
		c.mu.Unlock()
		return code, nil
	})
	return v.(*asm.Code)
}

// OverwriteMode tells a binary op stub which operand, if any, is a
// temporary heap number whose storage may hold the result. Reusing a
// named value's box would corrupt it, so the compiler only requests
// overwrite for operands it just computed.
type OverwriteMode int8

const (
	NoOverwrite OverwriteMode = iota
	OverwriteLeft
	OverwriteRight
)

func (m OverwriteMode) String() string {
	switch m {
	case NoOverwrite:
		return "NoOverwrite"
	case OverwriteLeft:
		return "OverwriteLeft"
	case OverwriteRight:
		return "OverwriteRight"
	}
	return "mode?"
}

// BinaryOpName builds the cache key of a binary op stub.
func BinaryOpName(op asm.BinOp, mode OverwriteMode, constRhs bool) string {
	suffix := ""
	if constRhs {
		suffix = "_ConstRhs"
	}
	return fmt.Sprintf("GenericBinaryOpStub_%s_%s%s", op, mode, suffix)
}

// CompareName builds the cache key of a compare stub.
func CompareName(hint int32) string {
	switch hint {
	case -1:
		return "CompareStub_NaNIsLess"
	case 1:
		return "CompareStub_NaNIsGreater"
	case 0:
		return "CompareStub_Equal"
	}
	return "CompareStub_StrictEqual"
}

// StringAddName is the cache key of the string add stub.
const StringAddName = "StringAddStub"

// BinaryOp returns the stub for op, building it on first use.
func (c *Cache) BinaryOp(op asm.BinOp, mode OverwriteMode, constRhs bool) *asm.Code {
	name := BinaryOpName(op, mode, constRhs)
	return c.get(name, func() *asm.Code {
		return buildBinaryOp(c, name, op, mode, constRhs)
	})
}

// StringAdd returns the concatenation stub.
func (c *Cache) StringAdd() *asm.Code {
	return c.get(StringAddName, func() *asm.Code {
		return buildStringAdd(StringAddName)
	})
}

// Compare returns the compare stub for a hint: an equality mode, or
// the result to report when an operand is NaN.
func (c *Cache) Compare(hint int32) *asm.Code {
	name := CompareName(hint)
	return c.get(name, func() *asm.Code {
		return buildCompare(name, hint)
	})
}

// ByName rebuilds a stub from its cache key. Cached code references
// stubs by name, so loading goes through here.
func (c *Cache) ByName(name string) (*asm.Code, error) {
	switch {
	case name == StringAddName:
		return c.StringAdd(), nil
	case name == "CompareStub_NaNIsLess":
		return c.Compare(-1), nil
	case name == "CompareStub_NaNIsGreater":
		return c.Compare(1), nil
	case name == "CompareStub_Equal":
		return c.Compare(0), nil
	case name == "CompareStub_StrictEqual":
		return c.Compare(2), nil
	case strings.HasPrefix(name, "GenericBinaryOpStub_"):
		rest := strings.TrimPrefix(name, "GenericBinaryOpStub_")
		constRhs := strings.HasSuffix(rest, "_ConstRhs")
		rest = strings.TrimSuffix(rest, "_ConstRhs")
		i := strings.LastIndexByte(rest, '_')
		if i < 0 {
			return nil, fmt.Errorf("stubs: malformed name %q", name)
		}
		opName, modeName := rest[:i], rest[i+1:]
		var op asm.BinOp
		for op = 0; op < asm.NumBinOps; op++ {
			if op.String() == opName {
				break
			}
		}
		if op == asm.NumBinOps {
			return nil, fmt.Errorf("stubs: unknown op in %q", name)
		}
		var mode OverwriteMode
		switch modeName {
		case "NoOverwrite":
			mode = NoOverwrite
		case "OverwriteLeft":
			mode = OverwriteLeft
		case "OverwriteRight":
			mode = OverwriteRight
		default:
			return nil, fmt.Errorf("stubs: unknown mode in %q", name)
		}
		return c.BinaryOp(op, mode, constRhs), nil
	}
	return nil, fmt.Errorf("stubs: unknown stub %q", name)
}
