// Package parser turns a token stream into the ast package's tree.
package parser

import (
	"strconv"
	"strings"

	"stratus/internal/ast"
	"stratus/internal/errors"
	"stratus/internal/lexer"
)

// Binary operator precedence, lowest first. Assignment and ?: are
// handled structurally, not through this table.
var precedence = map[lexer.TokenType]int{
	lexer.TokenPipe:        3,
	lexer.TokenCaret:       4,
	lexer.TokenAmp:         5,
	lexer.TokenDoubleEqual: 6,
	lexer.TokenNotEqual:    6,
	lexer.TokenStrictEqual: 6,
	lexer.TokenStrictNot:   6,
	lexer.TokenLT:          7,
	lexer.TokenGT:          7,
	lexer.TokenLE:          7,
	lexer.TokenGE:          7,
	lexer.TokenShl:         8,
	lexer.TokenSar:         8,
	lexer.TokenShr:         8,
	lexer.TokenPlus:        9,
	lexer.TokenMinus:       9,
	lexer.TokenStar:        10,
	lexer.TokenSlash:       10,
	lexer.TokenPercent:     10,
}

// Compound assignment token -> underlying binary operator.
var compoundOps = map[lexer.TokenType]string{
	lexer.TokenPlusEq:    "+",
	lexer.TokenMinusEq:   "-",
	lexer.TokenStarEq:    "*",
	lexer.TokenSlashEq:   "/",
	lexer.TokenPercentEq: "%",
	lexer.TokenAmpEq:     "&",
	lexer.TokenPipeEq:    "|",
	lexer.TokenCaretEq:   "^",
	lexer.TokenShlEq:     "<<",
	lexer.TokenSarEq:     ">>",
	lexer.TokenShrEq:     ">>>",
}

type Parser struct {
	tokens      []lexer.Token
	current     int
	Errors      []error
	file        string
	sourceLines []string
}

func NewParser(tokens []lexer.Token) *Parser {
	return &Parser{tokens: tokens}
}

func NewParserWithSource(tokens []lexer.Token, source, file string) *Parser {
	return &Parser{
		tokens:      tokens,
		file:        file,
		sourceLines: strings.Split(source, "\n"),
	}
}

// Parse consumes the whole token stream and returns the program body.
// Syntax problems are collected in p.Errors; the returned tree covers
// whatever could be parsed.
func (p *Parser) Parse() []ast.Stmt {
	var stmts []ast.Stmt
	for !p.isAtEnd() {
		s := p.declaration()
		if s != nil {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

func (p *Parser) declaration() ast.Stmt {
	if p.check(lexer.TokenFunction) && p.checkNext(lexer.TokenIdent) {
		p.advance()
		return p.functionDecl()
	}
	return p.statement()
}

func (p *Parser) functionDecl() ast.Stmt {
	name := p.consume(lexer.TokenIdent, "expected function name")
	fn := p.functionRest(name.Lexeme, name.Line)
	return &ast.FunctionDecl{Fn: fn, Line: name.Line}
}

// functionRest parses "(params) { body }" after the function keyword
// and optional name.
func (p *Parser) functionRest(name string, line int) *ast.FunctionLit {
	p.consume(lexer.TokenLParen, "expected '(' after function name")
	var params []string
	if !p.check(lexer.TokenRParen) {
		for {
			t := p.consume(lexer.TokenIdent, "expected parameter name")
			params = append(params, t.Lexeme)
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRParen, "expected ')' after parameters")
	p.consume(lexer.TokenLBrace, "expected '{' before function body")
	body := p.blockBody()
	return &ast.FunctionLit{Name: name, Params: params, Body: body, Line: line}
}

func (p *Parser) statement() ast.Stmt {
	switch {
	case p.match(lexer.TokenVar):
		return p.varDecl("var")
	case p.match(lexer.TokenConst):
		return p.varDecl("const")
	case p.match(lexer.TokenIf):
		return p.ifStatement()
	case p.match(lexer.TokenWhile):
		return p.whileStatement()
	case p.match(lexer.TokenDo):
		return p.doWhileStatement()
	case p.match(lexer.TokenFor):
		return p.forStatement()
	case p.match(lexer.TokenSwitch):
		return p.switchStatement()
	case p.match(lexer.TokenBreak):
		return p.breakStatement()
	case p.match(lexer.TokenContinue):
		return p.continueStatement()
	case p.match(lexer.TokenReturn):
		return p.returnStatement()
	case p.match(lexer.TokenThrow):
		return p.throwStatement()
	case p.match(lexer.TokenTry):
		return p.tryStatement()
	case p.match(lexer.TokenLBrace):
		line := p.previous().Line
		return &ast.Block{Stmts: p.blockBody(), Line: line}
	case p.match(lexer.TokenSemicolon):
		return &ast.Block{Line: p.previous().Line} // empty statement
	case p.check(lexer.TokenIdent) && p.checkNext(lexer.TokenColon):
		return p.labeledStatement()
	default:
		return p.expressionStatement()
	}
}

func (p *Parser) varDecl(mode string) ast.Stmt {
	first := p.declOne(mode)
	if !p.check(lexer.TokenComma) {
		p.consumeSemi()
		return first
	}
	decls := []ast.Stmt{first}
	for p.match(lexer.TokenComma) {
		decls = append(decls, p.declOne(mode))
	}
	p.consumeSemi()
	return &ast.Block{Stmts: decls, Line: first.StmtLine()}
}

func (p *Parser) declOne(mode string) ast.Stmt {
	name := p.consume(lexer.TokenIdent, "expected variable name")
	var init ast.Expr
	if p.match(lexer.TokenEqual) {
		init = p.assignment()
	} else if mode == "const" {
		p.errorAt(p.peek(), "const declaration requires an initializer")
	}
	return &ast.VarDecl{Mode: mode, Name: name.Lexeme, Init: init, Line: name.Line}
}

func (p *Parser) ifStatement() ast.Stmt {
	line := p.previous().Line
	p.consume(lexer.TokenLParen, "expected '(' after if")
	cond := p.expression()
	p.consume(lexer.TokenRParen, "expected ')' after condition")
	then := p.statement()
	var els ast.Stmt
	if p.match(lexer.TokenElse) {
		els = p.statement()
	}
	return &ast.If{Cond: cond, Then: then, Else: els, Line: line}
}

func (p *Parser) whileStatement() ast.Stmt {
	line := p.previous().Line
	p.consume(lexer.TokenLParen, "expected '(' after while")
	cond := p.expression()
	p.consume(lexer.TokenRParen, "expected ')' after condition")
	body := p.statement()
	return &ast.While{Cond: cond, Body: body, Line: line}
}

func (p *Parser) doWhileStatement() ast.Stmt {
	line := p.previous().Line
	body := p.statement()
	p.consume(lexer.TokenWhile, "expected 'while' after do body")
	p.consume(lexer.TokenLParen, "expected '(' after while")
	cond := p.expression()
	p.consume(lexer.TokenRParen, "expected ')' after condition")
	p.consumeSemi()
	return &ast.DoWhile{Body: body, Cond: cond, Line: line}
}

func (p *Parser) forStatement() ast.Stmt {
	line := p.previous().Line
	p.consume(lexer.TokenLParen, "expected '(' after for")

	var init ast.Stmt
	if p.match(lexer.TokenSemicolon) {
		// no init
	} else if p.match(lexer.TokenVar) {
		init = p.varDecl("var") // consumes its semicolon
	} else {
		e := p.expression()
		init = &ast.ExpressionStmt{Expr: e, Line: e.StartLine()}
		p.consume(lexer.TokenSemicolon, "expected ';' after for initializer")
	}

	var cond ast.Expr
	if !p.check(lexer.TokenSemicolon) {
		cond = p.expression()
	}
	p.consume(lexer.TokenSemicolon, "expected ';' after for condition")

	var next ast.Expr
	if !p.check(lexer.TokenRParen) {
		next = p.expression()
	}
	p.consume(lexer.TokenRParen, "expected ')' after for clauses")

	body := p.statement()
	return &ast.For{Init: init, Cond: cond, Next: next, Body: body, Line: line}
}

func (p *Parser) switchStatement() ast.Stmt {
	line := p.previous().Line
	p.consume(lexer.TokenLParen, "expected '(' after switch")
	tag := p.expression()
	p.consume(lexer.TokenRParen, "expected ')' after switch value")
	p.consume(lexer.TokenLBrace, "expected '{' before switch cases")

	var cases []*ast.CaseClause
	sawDefault := false
	for !p.check(lexer.TokenRBrace) && !p.isAtEnd() {
		var clause *ast.CaseClause
		if p.match(lexer.TokenCase) {
			clause = &ast.CaseClause{Line: p.previous().Line}
			clause.Value = p.expression()
		} else if p.match(lexer.TokenDefault) {
			if sawDefault {
				p.errorAt(p.previous(), "duplicate default clause")
			}
			sawDefault = true
			clause = &ast.CaseClause{Line: p.previous().Line}
		} else {
			p.errorAt(p.peek(), "expected 'case' or 'default'")
			p.advance()
			continue
		}
		p.consume(lexer.TokenColon, "expected ':' after case label")
		for !p.check(lexer.TokenCase) && !p.check(lexer.TokenDefault) &&
			!p.check(lexer.TokenRBrace) && !p.isAtEnd() {
			clause.Body = append(clause.Body, p.declaration())
		}
		cases = append(cases, clause)
	}
	p.consume(lexer.TokenRBrace, "expected '}' after switch cases")
	return &ast.Switch{Tag: tag, Cases: cases, Line: line}
}

func (p *Parser) breakStatement() ast.Stmt {
	line := p.previous().Line
	label := ""
	if p.check(lexer.TokenIdent) && p.peek().Line == line {
		label = p.advance().Lexeme
	}
	p.consumeSemi()
	return &ast.Break{Label: label, Line: line}
}

func (p *Parser) continueStatement() ast.Stmt {
	line := p.previous().Line
	label := ""
	if p.check(lexer.TokenIdent) && p.peek().Line == line {
		label = p.advance().Lexeme
	}
	p.consumeSemi()
	return &ast.Continue{Label: label, Line: line}
}

func (p *Parser) returnStatement() ast.Stmt {
	line := p.previous().Line
	var value ast.Expr
	if !p.check(lexer.TokenSemicolon) && !p.check(lexer.TokenRBrace) && !p.isAtEnd() {
		value = p.expression()
	}
	p.consumeSemi()
	return &ast.Return{Value: value, Line: line}
}

func (p *Parser) throwStatement() ast.Stmt {
	line := p.previous().Line
	value := p.expression()
	p.consumeSemi()
	return &ast.Throw{Value: value, Line: line}
}

// tryStatement parses try/catch, try/finally and try/catch/finally.
// The three-part form nests the catch inside the finally so the
// compiler only ever sees the two-part shapes.
func (p *Parser) tryStatement() ast.Stmt {
	line := p.previous().Line
	p.consume(lexer.TokenLBrace, "expected '{' after try")
	tryBody := p.blockBody()

	var inner ast.Stmt = &ast.Block{Stmts: tryBody, Line: line}
	hasCatch := false
	if p.match(lexer.TokenCatch) {
		hasCatch = true
		p.consume(lexer.TokenLParen, "expected '(' after catch")
		cv := p.consume(lexer.TokenIdent, "expected catch variable name")
		p.consume(lexer.TokenRParen, "expected ')' after catch variable")
		p.consume(lexer.TokenLBrace, "expected '{' after catch clause")
		catchBody := p.blockBody()
		inner = &ast.TryCatch{Try: tryBody, CatchVar: cv.Lexeme, Catch: catchBody, Line: line}
	}
	if p.match(lexer.TokenFinally) {
		p.consume(lexer.TokenLBrace, "expected '{' after finally")
		finBody := p.blockBody()
		return &ast.TryFinally{Try: inner, Finally: finBody, Line: line}
	}
	if !hasCatch {
		p.errorAt(p.peek(), "try requires catch or finally")
	}
	return inner
}

func (p *Parser) labeledStatement() ast.Stmt {
	name := p.advance()
	p.advance() // ':'
	stmt := p.statement()
	return &ast.Labeled{Label: name.Lexeme, Stmt: stmt, Line: name.Line}
}

func (p *Parser) expressionStatement() ast.Stmt {
	e := p.expression()
	p.consumeSemi()
	if e == nil {
		// Could not parse anything here; skip a token to make progress.
		if !p.isAtEnd() {
			p.advance()
		}
		return nil
	}
	return &ast.ExpressionStmt{Expr: e, Line: e.StartLine()}
}

func (p *Parser) blockBody() []ast.Stmt {
	var stmts []ast.Stmt
	for !p.check(lexer.TokenRBrace) && !p.isAtEnd() {
		s := p.declaration()
		if s != nil {
			stmts = append(stmts, s)
		}
	}
	p.consume(lexer.TokenRBrace, "expected '}'")
	return stmts
}

// --- expressions ---

func (p *Parser) expression() ast.Expr {
	return p.assignment()
}

func (p *Parser) assignment() ast.Expr {
	left := p.conditional()
	if p.check(lexer.TokenEqual) {
		eq := p.advance()
		value := p.assignment()
		if !isAssignTarget(left) {
			p.errorAt(eq, "invalid assignment target")
		}
		return &ast.Assign{Target: left, Value: value, Line: eq.Line}
	}
	if op, ok := compoundOps[p.peek().Type]; ok {
		tok := p.advance()
		value := p.assignment()
		if !isAssignTarget(left) {
			p.errorAt(tok, "invalid assignment target")
		}
		return &ast.Assign{Target: left, Op: op, Value: value, Line: tok.Line}
	}
	return left
}

func (p *Parser) conditional() ast.Expr {
	cond := p.logicalOr()
	if p.match(lexer.TokenQuestion) {
		line := p.previous().Line
		then := p.assignment()
		p.consume(lexer.TokenColon, "expected ':' in conditional expression")
		els := p.assignment()
		return &ast.Conditional{Cond: cond, Then: then, Else: els, Line: line}
	}
	return cond
}

func (p *Parser) logicalOr() ast.Expr {
	left := p.logicalAnd()
	for p.match(lexer.TokenOr) {
		line := p.previous().Line
		right := p.logicalAnd()
		left = &ast.Logical{Left: left, Op: "||", Right: right, Line: line}
	}
	return left
}

func (p *Parser) logicalAnd() ast.Expr {
	left := p.binary(0)
	for p.match(lexer.TokenAnd) {
		line := p.previous().Line
		right := p.binary(0)
		left = &ast.Logical{Left: left, Op: "&&", Right: right, Line: line}
	}
	return left
}

// binary is precedence climbing over the table above.
func (p *Parser) binary(minPrec int) ast.Expr {
	left := p.unary()
	for {
		prec, ok := precedence[p.peek().Type]
		if !ok || prec < minPrec {
			return left
		}
		op := p.advance()
		right := p.binary(prec + 1)
		left = &ast.Binary{Left: left, Op: string(op.Type), Right: right, Line: op.Line}
	}
}

func (p *Parser) unary() ast.Expr {
	switch {
	case p.match(lexer.TokenNot):
		line := p.previous().Line
		return &ast.Unary{Op: "!", Operand: p.unary(), Line: line}
	case p.match(lexer.TokenMinus):
		line := p.previous().Line
		return &ast.Unary{Op: "-", Operand: p.unary(), Line: line}
	case p.match(lexer.TokenPlus):
		line := p.previous().Line
		return &ast.Unary{Op: "+", Operand: p.unary(), Line: line}
	case p.match(lexer.TokenTilde):
		line := p.previous().Line
		return &ast.Unary{Op: "~", Operand: p.unary(), Line: line}
	case p.match(lexer.TokenTypeof):
		line := p.previous().Line
		return &ast.Unary{Op: "typeof", Operand: p.unary(), Line: line}
	case p.match(lexer.TokenInc):
		line := p.previous().Line
		return &ast.Count{Op: "++", Prefix: true, Target: p.unary(), Line: line}
	case p.match(lexer.TokenDec):
		line := p.previous().Line
		return &ast.Count{Op: "--", Prefix: true, Target: p.unary(), Line: line}
	case p.match(lexer.TokenNew):
		line := p.previous().Line
		callee := p.memberChain(p.primary(), false)
		var args []ast.Expr
		if p.match(lexer.TokenLParen) {
			args = p.arguments()
		}
		return p.memberChain(&ast.New{Callee: callee, Args: args, Line: line}, true)
	}
	return p.postfix()
}

func (p *Parser) postfix() ast.Expr {
	e := p.memberChain(p.primary(), true)
	if p.check(lexer.TokenInc) || p.check(lexer.TokenDec) {
		op := p.advance()
		return &ast.Count{Op: string(op.Type), Prefix: false, Target: e, Line: op.Line}
	}
	return e
}

// memberChain parses .name, [key] and, when calls is set, (args)
// suffixes.
func (p *Parser) memberChain(e ast.Expr, calls bool) ast.Expr {
	for {
		switch {
		case p.match(lexer.TokenDot):
			name := p.consume(lexer.TokenIdent, "expected property name after '.'")
			e = &ast.Property{Object: e, Name: name.Lexeme, Line: name.Line}
		case p.match(lexer.TokenLBracket):
			line := p.previous().Line
			key := p.expression()
			p.consume(lexer.TokenRBracket, "expected ']' after index")
			e = &ast.Index{Object: e, Key: key, Line: line}
		case calls && p.match(lexer.TokenLParen):
			line := p.previous().Line
			args := p.arguments()
			e = &ast.Call{Callee: e, Args: args, Line: line}
		default:
			return e
		}
	}
}

func (p *Parser) arguments() []ast.Expr {
	var args []ast.Expr
	if !p.check(lexer.TokenRParen) {
		for {
			args = append(args, p.assignment())
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRParen, "expected ')' after arguments")
	return args
}

func (p *Parser) primary() ast.Expr {
	switch {
	case p.match(lexer.TokenNumber):
		t := p.previous()
		return &ast.Literal{Value: parseNumber(t.Lexeme), Line: t.Line}
	case p.match(lexer.TokenString):
		t := p.previous()
		return &ast.Literal{Value: t.Lexeme, Line: t.Line}
	case p.match(lexer.TokenTrue):
		return &ast.Literal{Value: true, Line: p.previous().Line}
	case p.match(lexer.TokenFalse):
		return &ast.Literal{Value: false, Line: p.previous().Line}
	case p.match(lexer.TokenNull):
		return &ast.Literal{Value: nil, Line: p.previous().Line}
	case p.match(lexer.TokenUndefined):
		return &ast.Literal{Value: ast.Undefined{}, Line: p.previous().Line}
	case p.match(lexer.TokenIdent):
		t := p.previous()
		return &ast.Variable{Name: t.Lexeme, Line: t.Line}
	case p.match(lexer.TokenFunction):
		line := p.previous().Line
		name := ""
		if p.check(lexer.TokenIdent) {
			name = p.advance().Lexeme
		}
		return p.functionRest(name, line)
	case p.match(lexer.TokenLParen):
		e := p.expression()
		p.consume(lexer.TokenRParen, "expected ')' after expression")
		return e
	case p.match(lexer.TokenLBrace):
		return p.objectLiteral()
	}
	p.errorAt(p.peek(), "unexpected token '%s'", p.peek().Lexeme)
	if !p.isAtEnd() {
		p.advance()
	}
	return &ast.Literal{Value: ast.Undefined{}, Line: p.peek().Line}
}

func (p *Parser) objectLiteral() ast.Expr {
	line := p.previous().Line
	obj := &ast.ObjectLit{Line: line}
	if !p.check(lexer.TokenRBrace) {
		for {
			var key string
			switch {
			case p.check(lexer.TokenIdent), p.check(lexer.TokenString):
				key = p.advance().Lexeme
			case p.check(lexer.TokenNumber):
				key = p.advance().Lexeme
			default:
				p.errorAt(p.peek(), "expected property key")
				key = ""
			}
			p.consume(lexer.TokenColon, "expected ':' after property key")
			obj.Keys = append(obj.Keys, key)
			obj.Values = append(obj.Values, p.assignment())
			if !p.match(lexer.TokenComma) {
				break
			}
			if p.check(lexer.TokenRBrace) {
				break // trailing comma
			}
		}
	}
	p.consume(lexer.TokenRBrace, "expected '}' after object literal")
	return obj
}

func isAssignTarget(e ast.Expr) bool {
	switch e.(type) {
	case *ast.Variable, *ast.Property, *ast.Index:
		return true
	}
	return false
}

func parseNumber(lexeme string) float64 {
	if len(lexeme) > 2 && lexeme[0] == '0' && (lexeme[1] == 'x' || lexeme[1] == 'X') {
		if u, err := strconv.ParseUint(lexeme[2:], 16, 64); err == nil {
			return float64(u)
		}
		return 0
	}
	f, _ := strconv.ParseFloat(lexeme, 64)
	return f
}

// --- token plumbing ---

func (p *Parser) match(t lexer.TokenType) bool {
	if p.check(t) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) check(t lexer.TokenType) bool {
	return p.peek().Type == t
}

func (p *Parser) checkNext(t lexer.TokenType) bool {
	if p.current+1 >= len(p.tokens) {
		return false
	}
	return p.tokens[p.current+1].Type == t
}

func (p *Parser) consume(t lexer.TokenType, msg string) lexer.Token {
	if p.check(t) {
		return p.advance()
	}
	p.errorAt(p.peek(), "%s, got '%s'", msg, p.peek().Lexeme)
	return p.peek()
}

// consumeSemi eats an optional statement terminator.
func (p *Parser) consumeSemi() {
	p.match(lexer.TokenSemicolon)
}

func (p *Parser) advance() lexer.Token {
	if !p.isAtEnd() {
		p.current++
	}
	return p.previous()
}

func (p *Parser) previous() lexer.Token {
	return p.tokens[p.current-1]
}

func (p *Parser) peek() lexer.Token {
	return p.tokens[p.current]
}

func (p *Parser) isAtEnd() bool {
	return p.peek().Type == lexer.TokenEOF
}

func (p *Parser) errorAt(tok lexer.Token, format string, args ...interface{}) {
	err := errors.New(errors.SyntaxError,
		errors.Location{File: p.file, Line: tok.Line, Column: tok.Col},
		format, args...)
	if tok.Line > 0 && tok.Line <= len(p.sourceLines) {
		err.WithSource(p.sourceLines[tok.Line-1])
	}
	p.Errors = append(p.Errors, err)
}
