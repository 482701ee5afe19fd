// Package ast defines the syntax tree the parser produces and the
// compiler walks. Nodes carry the 1-based source line they start on.
package ast

// Undefined is the literal value of the `undefined` keyword. A Literal
// with Value nil means `null`.
type Undefined struct{}

type Expr interface {
	Accept(v ExprVisitor) interface{}
	StartLine() int
}

// Literal is a number, string, boolean, null or undefined constant.
type Literal struct {
	Value interface{} // float64 | string | bool | nil | Undefined
	Line  int
}

func (l *Literal) Accept(v ExprVisitor) interface{} { return v.VisitLiteral(l) }
func (l *Literal) StartLine() int                   { return l.Line }

// Variable is a name use: x.
type Variable struct {
	Name string
	Line int
}

func (x *Variable) Accept(v ExprVisitor) interface{} { return v.VisitVariable(x) }
func (x *Variable) StartLine() int                   { return x.Line }

// Assign is target = value, or a compound form when Op is non-empty
// (Op holds the underlying binary operator, e.g. "+" for +=).
type Assign struct {
	Target Expr
	Op     string
	Value  Expr
	Line   int
}

func (a *Assign) Accept(v ExprVisitor) interface{} { return v.VisitAssign(a) }
func (a *Assign) StartLine() int                   { return a.Line }

// Binary is left op right for arithmetic, bitwise, shift and
// comparison operators.
type Binary struct {
	Left  Expr
	Op    string
	Right Expr
	Line  int
}

func (b *Binary) Accept(v ExprVisitor) interface{} { return v.VisitBinary(b) }
func (b *Binary) StartLine() int                   { return b.Line }

// Logical is left && right or left || right; short-circuit rules make
// it control flow, not a plain binary operator.
type Logical struct {
	Left  Expr
	Op    string
	Right Expr
	Line  int
}

func (l *Logical) Accept(v ExprVisitor) interface{} { return v.VisitLogical(l) }
func (l *Logical) StartLine() int                   { return l.Line }

// Unary is !x, -x, ~x, +x or typeof x.
type Unary struct {
	Op      string
	Operand Expr
	Line    int
}

func (u *Unary) Accept(v ExprVisitor) interface{} { return v.VisitUnary(u) }
func (u *Unary) StartLine() int                   { return u.Line }

// Count is ++x, --x, x++ or x--.
type Count struct {
	Op     string // "++" or "--"
	Prefix bool
	Target Expr
	Line   int
}

func (c *Count) Accept(v ExprVisitor) interface{} { return v.VisitCount(c) }
func (c *Count) StartLine() int                   { return c.Line }

// Conditional is cond ? then : else.
type Conditional struct {
	Cond Expr
	Then Expr
	Else Expr
	Line int
}

func (c *Conditional) Accept(v ExprVisitor) interface{} { return v.VisitConditional(c) }
func (c *Conditional) StartLine() int                   { return c.Line }

// Call is callee(args...).
type Call struct {
	Callee Expr
	Args   []Expr
	Line   int
}

func (c *Call) Accept(v ExprVisitor) interface{} { return v.VisitCall(c) }
func (c *Call) StartLine() int                   { return c.Line }

// New is new callee(args...).
type New struct {
	Callee Expr
	Args   []Expr
	Line   int
}

func (n *New) Accept(v ExprVisitor) interface{} { return v.VisitNew(n) }
func (n *New) StartLine() int                   { return n.Line }

// Property is object.name.
type Property struct {
	Object Expr
	Name   string
	Line   int
}

func (p *Property) Accept(v ExprVisitor) interface{} { return v.VisitProperty(p) }
func (p *Property) StartLine() int                   { return p.Line }

// Index is object[key].
type Index struct {
	Object Expr
	Key    Expr
	Line   int
}

func (i *Index) Accept(v ExprVisitor) interface{} { return v.VisitIndex(i) }
func (i *Index) StartLine() int                   { return i.Line }

// FunctionLit is a function expression or the body of a function
// declaration. Name is empty for anonymous literals.
type FunctionLit struct {
	Name   string
	Params []string
	Body   []Stmt
	Line   int
}

func (f *FunctionLit) Accept(v ExprVisitor) interface{} { return v.VisitFunctionLit(f) }
func (f *FunctionLit) StartLine() int                   { return f.Line }

// ObjectLit is {key: value, ...}.
type ObjectLit struct {
	Keys   []string
	Values []Expr
	Line   int
}

func (o *ObjectLit) Accept(v ExprVisitor) interface{} { return v.VisitObjectLit(o) }
func (o *ObjectLit) StartLine() int                   { return o.Line }

type ExprVisitor interface {
	VisitLiteral(e *Literal) interface{}
	VisitVariable(e *Variable) interface{}
	VisitAssign(e *Assign) interface{}
	VisitBinary(e *Binary) interface{}
	VisitLogical(e *Logical) interface{}
	VisitUnary(e *Unary) interface{}
	VisitCount(e *Count) interface{}
	VisitConditional(e *Conditional) interface{}
	VisitCall(e *Call) interface{}
	VisitNew(e *New) interface{}
	VisitProperty(e *Property) interface{}
	VisitIndex(e *Index) interface{}
	VisitFunctionLit(e *FunctionLit) interface{}
	VisitObjectLit(e *ObjectLit) interface{}
}
