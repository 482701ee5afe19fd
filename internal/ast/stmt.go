package ast

type Stmt interface {
	Accept(v StmtVisitor) interface{}
	StmtLine() int
}

// VarDecl declares one variable. Comma lists parse into one VarDecl
// per name. Mode is "var" or "const".
type VarDecl struct {
	Mode string
	Name string
	Init Expr // nil when there is no initializer
	Line int
}

func (s *VarDecl) Accept(v StmtVisitor) interface{} { return v.VisitVarDecl(s) }
func (s *VarDecl) StmtLine() int                    { return s.Line }

// FunctionDecl is a named function declaration statement.
type FunctionDecl struct {
	Fn   *FunctionLit
	Line int
}

func (s *FunctionDecl) Accept(v StmtVisitor) interface{} { return v.VisitFunctionDecl(s) }
func (s *FunctionDecl) StmtLine() int                    { return s.Line }

type ExpressionStmt struct {
	Expr Expr
	Line int
}

func (s *ExpressionStmt) Accept(v StmtVisitor) interface{} { return v.VisitExpressionStmt(s) }
func (s *ExpressionStmt) StmtLine() int                    { return s.Line }

type Block struct {
	Stmts []Stmt
	Line  int
}

func (s *Block) Accept(v StmtVisitor) interface{} { return v.VisitBlock(s) }
func (s *Block) StmtLine() int                    { return s.Line }

type If struct {
	Cond Expr
	Then Stmt
	Else Stmt // nil when absent
	Line int
}

func (s *If) Accept(v StmtVisitor) interface{} { return v.VisitIf(s) }
func (s *If) StmtLine() int                    { return s.Line }

type While struct {
	Cond Expr
	Body Stmt
	Line int
}

func (s *While) Accept(v StmtVisitor) interface{} { return v.VisitWhile(s) }
func (s *While) StmtLine() int                    { return s.Line }

type DoWhile struct {
	Body Stmt
	Cond Expr
	Line int
}

func (s *DoWhile) Accept(v StmtVisitor) interface{} { return v.VisitDoWhile(s) }
func (s *DoWhile) StmtLine() int                    { return s.Line }

// For is for(init; cond; next) body; any of the three heads may be
// absent.
type For struct {
	Init Stmt
	Cond Expr
	Next Expr
	Body Stmt
	Line int
}

func (s *For) Accept(v StmtVisitor) interface{} { return v.VisitFor(s) }
func (s *For) StmtLine() int                    { return s.Line }

// CaseClause is one case (or default when Value is nil) of a switch.
type CaseClause struct {
	Value Expr
	Body  []Stmt
	Line  int
}

type Switch struct {
	Tag   Expr
	Cases []*CaseClause
	Line  int
}

func (s *Switch) Accept(v StmtVisitor) interface{} { return v.VisitSwitch(s) }
func (s *Switch) StmtLine() int                    { return s.Line }

type Break struct {
	Label string
	Line  int
}

func (s *Break) Accept(v StmtVisitor) interface{} { return v.VisitBreak(s) }
func (s *Break) StmtLine() int                    { return s.Line }

type Continue struct {
	Label string
	Line  int
}

func (s *Continue) Accept(v StmtVisitor) interface{} { return v.VisitContinue(s) }
func (s *Continue) StmtLine() int                    { return s.Line }

type Return struct {
	Value Expr // nil returns undefined
	Line  int
}

func (s *Return) Accept(v StmtVisitor) interface{} { return v.VisitReturn(s) }
func (s *Return) StmtLine() int                    { return s.Line }

type Throw struct {
	Value Expr
	Line  int
}

func (s *Throw) Accept(v StmtVisitor) interface{} { return v.VisitThrow(s) }
func (s *Throw) StmtLine() int                    { return s.Line }

// TryCatch is try { Try } catch (CatchVar) { Catch }. A source-level
// try with both catch and finally parses as a TryFinally wrapping a
// TryCatch.
type TryCatch struct {
	Try      []Stmt
	CatchVar string
	Catch    []Stmt
	Line     int
}

func (s *TryCatch) Accept(v StmtVisitor) interface{} { return v.VisitTryCatch(s) }
func (s *TryCatch) StmtLine() int                    { return s.Line }

type TryFinally struct {
	Try     Stmt // *Block or *TryCatch
	Finally []Stmt
	Line    int
}

func (s *TryFinally) Accept(v StmtVisitor) interface{} { return v.VisitTryFinally(s) }
func (s *TryFinally) StmtLine() int                    { return s.Line }

// Labeled attaches a label to a breakable statement.
type Labeled struct {
	Label string
	Stmt  Stmt
	Line  int
}

func (s *Labeled) Accept(v StmtVisitor) interface{} { return v.VisitLabeled(s) }
func (s *Labeled) StmtLine() int                    { return s.Line }

type StmtVisitor interface {
	VisitVarDecl(s *VarDecl) interface{}
	VisitFunctionDecl(s *FunctionDecl) interface{}
	VisitExpressionStmt(s *ExpressionStmt) interface{}
	VisitBlock(s *Block) interface{}
	VisitIf(s *If) interface{}
	VisitWhile(s *While) interface{}
	VisitDoWhile(s *DoWhile) interface{}
	VisitFor(s *For) interface{}
	VisitSwitch(s *Switch) interface{}
	VisitBreak(s *Break) interface{}
	VisitContinue(s *Continue) interface{}
	VisitReturn(s *Return) interface{}
	VisitThrow(s *Throw) interface{}
	VisitTryCatch(s *TryCatch) interface{}
	VisitTryFinally(s *TryFinally) interface{}
	VisitLabeled(s *Labeled) interface{}
}
