package lexer

import (
	"fmt"
	"unicode"
)

type TokenType string

const (
	// Keywords
	TokenVar      TokenType = "VAR"
	TokenConst    TokenType = "CONST"
	TokenFunction TokenType = "FUNCTION"
	TokenIf       TokenType = "IF"
	TokenElse     TokenType = "ELSE"
	TokenWhile    TokenType = "WHILE"
	TokenDo       TokenType = "DO"
	TokenFor      TokenType = "FOR"
	TokenSwitch   TokenType = "SWITCH"
	TokenCase     TokenType = "CASE"
	TokenDefault  TokenType = "DEFAULT"
	TokenBreak    TokenType = "BREAK"
	TokenContinue TokenType = "CONTINUE"
	TokenReturn   TokenType = "RETURN"
	TokenThrow    TokenType = "THROW"
	TokenTry      TokenType = "TRY"
	TokenCatch    TokenType = "CATCH"
	TokenFinally  TokenType = "FINALLY"
	TokenNew      TokenType = "NEW"
	TokenTypeof   TokenType = "TYPEOF"

	// Literals
	TokenTrue      TokenType = "TRUE"
	TokenFalse     TokenType = "FALSE"
	TokenNull      TokenType = "NULL"
	TokenUndefined TokenType = "UNDEFINED"
	TokenIdent     TokenType = "IDENT"
	TokenString    TokenType = "STRING"
	TokenNumber    TokenType = "NUMBER"

	// Symbols
	TokenLParen    TokenType = "("
	TokenRParen    TokenType = ")"
	TokenLBrace    TokenType = "{"
	TokenRBrace    TokenType = "}"
	TokenLBracket  TokenType = "["
	TokenRBracket  TokenType = "]"
	TokenComma     TokenType = ","
	TokenDot       TokenType = "."
	TokenSemicolon TokenType = ";"
	TokenColon     TokenType = ":"
	TokenQuestion  TokenType = "?"

	TokenPlus    TokenType = "+"
	TokenMinus   TokenType = "-"
	TokenStar    TokenType = "*"
	TokenSlash   TokenType = "/"
	TokenPercent TokenType = "%"
	TokenAmp     TokenType = "&"
	TokenPipe    TokenType = "|"
	TokenCaret   TokenType = "^"
	TokenTilde   TokenType = "~"
	TokenShl     TokenType = "<<"
	TokenSar     TokenType = ">>"
	TokenShr     TokenType = ">>>"
	TokenNot     TokenType = "!"
	TokenAnd     TokenType = "&&"
	TokenOr      TokenType = "||"
	TokenInc     TokenType = "++"
	TokenDec     TokenType = "--"

	TokenEqual       TokenType = "="
	TokenPlusEq      TokenType = "+="
	TokenMinusEq     TokenType = "-="
	TokenStarEq      TokenType = "*="
	TokenSlashEq     TokenType = "/="
	TokenPercentEq   TokenType = "%="
	TokenAmpEq       TokenType = "&="
	TokenPipeEq      TokenType = "|="
	TokenCaretEq     TokenType = "^="
	TokenShlEq       TokenType = "<<="
	TokenSarEq       TokenType = ">>="
	TokenShrEq       TokenType = ">>>="
	TokenDoubleEqual TokenType = "=="
	TokenNotEqual    TokenType = "!="
	TokenStrictEqual TokenType = "==="
	TokenStrictNot   TokenType = "!=="
	TokenLT          TokenType = "<"
	TokenGT          TokenType = ">"
	TokenLE          TokenType = "<="
	TokenGE          TokenType = ">="

	TokenEOF TokenType = "EOF"
)

var keywords = map[string]TokenType{
	"var":       TokenVar,
	"const":     TokenConst,
	"function":  TokenFunction,
	"if":        TokenIf,
	"else":      TokenElse,
	"while":     TokenWhile,
	"do":        TokenDo,
	"for":       TokenFor,
	"switch":    TokenSwitch,
	"case":      TokenCase,
	"default":   TokenDefault,
	"break":     TokenBreak,
	"continue":  TokenContinue,
	"return":    TokenReturn,
	"throw":     TokenThrow,
	"try":       TokenTry,
	"catch":     TokenCatch,
	"finally":   TokenFinally,
	"new":       TokenNew,
	"typeof":    TokenTypeof,
	"true":      TokenTrue,
	"false":     TokenFalse,
	"null":      TokenNull,
	"undefined": TokenUndefined,
}

type Token struct {
	Type   TokenType
	Lexeme string
	Line   int
	Col    int
}

func (t Token) String() string {
	return fmt.Sprintf("[%s] '%s'", t.Type, t.Lexeme)
}

type Scanner struct {
	source  string
	tokens  []Token
	start   int
	current int
	line    int
	lineOff int // offset of the current line start, for column numbers
}

func NewScanner(source string) *Scanner {
	return &Scanner{
		source: source,
		line:   1,
	}
}

func (s *Scanner) ScanTokens() []Token {
	if s.current == 0 && len(s.source) >= 2 && s.source[0] == '#' && s.source[1] == '!' {
		s.skipLine()
	}
	for !s.isAtEnd() {
		s.skipSpace()
		s.start = s.current
		if s.isAtEnd() {
			break
		}
		s.scanToken()
	}
	s.tokens = append(s.tokens, Token{Type: TokenEOF, Line: s.line, Col: s.col()})
	return s.tokens
}

func (s *Scanner) scanToken() {
	c := s.advance()
	switch c {
	case '(':
		s.addToken(TokenLParen)
	case ')':
		s.addToken(TokenRParen)
	case '{':
		s.addToken(TokenLBrace)
	case '}':
		s.addToken(TokenRBrace)
	case '[':
		s.addToken(TokenLBracket)
	case ']':
		s.addToken(TokenRBracket)
	case ',':
		s.addToken(TokenComma)
	case '.':
		s.addToken(TokenDot)
	case ';':
		s.addToken(TokenSemicolon)
	case ':':
		s.addToken(TokenColon)
	case '?':
		s.addToken(TokenQuestion)
	case '~':
		s.addToken(TokenTilde)
	case '+':
		if s.match('+') {
			s.addToken(TokenInc)
		} else if s.match('=') {
			s.addToken(TokenPlusEq)
		} else {
			s.addToken(TokenPlus)
		}
	case '-':
		if s.match('-') {
			s.addToken(TokenDec)
		} else if s.match('=') {
			s.addToken(TokenMinusEq)
		} else {
			s.addToken(TokenMinus)
		}
	case '*':
		if s.match('=') {
			s.addToken(TokenStarEq)
		} else {
			s.addToken(TokenStar)
		}
	case '/':
		if s.match('/') {
			s.skipLine()
		} else if s.match('*') {
			s.blockComment()
		} else if s.match('=') {
			s.addToken(TokenSlashEq)
		} else {
			s.addToken(TokenSlash)
		}
	case '%':
		if s.match('=') {
			s.addToken(TokenPercentEq)
		} else {
			s.addToken(TokenPercent)
		}
	case '^':
		if s.match('=') {
			s.addToken(TokenCaretEq)
		} else {
			s.addToken(TokenCaret)
		}
	case '&':
		if s.match('&') {
			s.addToken(TokenAnd)
		} else if s.match('=') {
			s.addToken(TokenAmpEq)
		} else {
			s.addToken(TokenAmp)
		}
	case '|':
		if s.match('|') {
			s.addToken(TokenOr)
		} else if s.match('=') {
			s.addToken(TokenPipeEq)
		} else {
			s.addToken(TokenPipe)
		}
	case '=':
		if s.match('=') {
			if s.match('=') {
				s.addToken(TokenStrictEqual)
			} else {
				s.addToken(TokenDoubleEqual)
			}
		} else {
			s.addToken(TokenEqual)
		}
	case '!':
		if s.match('=') {
			if s.match('=') {
				s.addToken(TokenStrictNot)
			} else {
				s.addToken(TokenNotEqual)
			}
		} else {
			s.addToken(TokenNot)
		}
	case '<':
		if s.match('<') {
			if s.match('=') {
				s.addToken(TokenShlEq)
			} else {
				s.addToken(TokenShl)
			}
		} else if s.match('=') {
			s.addToken(TokenLE)
		} else {
			s.addToken(TokenLT)
		}
	case '>':
		if s.match('>') {
			if s.match('>') {
				if s.match('=') {
					s.addToken(TokenShrEq)
				} else {
					s.addToken(TokenShr)
				}
			} else if s.match('=') {
				s.addToken(TokenSarEq)
			} else {
				s.addToken(TokenSar)
			}
		} else if s.match('=') {
			s.addToken(TokenGE)
		} else {
			s.addToken(TokenGT)
		}
	case '"', '\'':
		s.stringLit(c)
	case '\n':
		s.newline()
	case ' ', '\r', '\t':
		// skip
	default:
		if isDigit(c) {
			s.number()
		} else if isAlpha(c) {
			s.identifier()
		}
		// Unknown bytes are dropped; the parser reports what it cannot parse.
	}
}

func (s *Scanner) match(expected byte) bool {
	if s.isAtEnd() || s.source[s.current] != expected {
		return false
	}
	s.current++
	return true
}

func (s *Scanner) identifier() {
	for isAlphaNumeric(s.peek()) {
		s.advance()
	}
	text := s.source[s.start:s.current]
	if kw, ok := keywords[text]; ok {
		s.addToken(kw)
		return
	}
	s.addToken(TokenIdent)
}

func (s *Scanner) number() {
	if s.source[s.start] == '0' && (s.peek() == 'x' || s.peek() == 'X') {
		s.advance()
		for isHexDigit(s.peek()) {
			s.advance()
		}
		s.addToken(TokenNumber)
		return
	}
	for isDigit(s.peek()) {
		s.advance()
	}
	if s.peek() == '.' && isDigit(s.peekNext()) {
		s.advance()
		for isDigit(s.peek()) {
			s.advance()
		}
	}
	if s.peek() == 'e' || s.peek() == 'E' {
		save := s.current
		s.advance()
		if s.peek() == '+' || s.peek() == '-' {
			s.advance()
		}
		if isDigit(s.peek()) {
			for isDigit(s.peek()) {
				s.advance()
			}
		} else {
			s.current = save
		}
	}
	s.addToken(TokenNumber)
}

func (s *Scanner) stringLit(quote byte) {
	startLine, startCol := s.line, s.col()
	var out []byte
	for !s.isAtEnd() && s.peek() != quote {
		c := s.advance()
		if c == '\n' {
			s.newline()
			out = append(out, c)
			continue
		}
		if c == '\\' && !s.isAtEnd() {
			e := s.advance()
			switch e {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case 'r':
				out = append(out, '\r')
			case '0':
				out = append(out, 0)
			case '\\', '"', '\'':
				out = append(out, e)
			default:
				out = append(out, e)
			}
			continue
		}
		out = append(out, c)
	}
	if s.isAtEnd() {
		return // unterminated; parser reports at EOF
	}
	s.advance() // closing quote
	s.tokens = append(s.tokens, Token{Type: TokenString, Lexeme: string(out), Line: startLine, Col: startCol})
}

func (s *Scanner) blockComment() {
	for !s.isAtEnd() {
		if s.peek() == '*' && s.peekNext() == '/' {
			s.advance()
			s.advance()
			return
		}
		if s.peek() == '\n' {
			s.newline()
		}
		s.advance()
	}
}

func (s *Scanner) addToken(t TokenType) {
	text := s.source[s.start:s.current]
	s.tokens = append(s.tokens, Token{Type: t, Lexeme: text, Line: s.line, Col: s.start - s.lineOff + 1})
}

func (s *Scanner) advance() byte {
	s.current++
	return s.source[s.current-1]
}

func (s *Scanner) peek() byte {
	if s.isAtEnd() {
		return '\000'
	}
	return s.source[s.current]
}

func (s *Scanner) peekNext() byte {
	if s.current+1 >= len(s.source) {
		return '\000'
	}
	return s.source[s.current+1]
}

func (s *Scanner) isAtEnd() bool {
	return s.current >= len(s.source)
}

func (s *Scanner) col() int {
	return s.start - s.lineOff + 1
}

func (s *Scanner) newline() {
	s.line++
	s.lineOff = s.current
}

func (s *Scanner) skipSpace() {
	for !s.isAtEnd() && unicode.IsSpace(rune(s.peek())) {
		if s.peek() == '\n' {
			s.advance()
			s.newline()
			continue
		}
		s.advance()
	}
}

func (s *Scanner) skipLine() {
	for !s.isAtEnd() && s.peek() != '\n' {
		s.advance()
	}
}

func isAlpha(c byte) bool {
	return c == '_' || c == '$' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isAlphaNumeric(c byte) bool {
	return isAlpha(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
