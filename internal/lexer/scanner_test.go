package lexer

import (
	"testing"
)

func scan(src string) []Token {
	return NewScanner(src).ScanTokens()
}

// kinds strips the trailing EOF so tables stay short.
func kinds(src string) []TokenType {
	toks := scan(src)
	out := make([]TokenType, 0, len(toks)-1)
	for _, t := range toks[:len(toks)-1] {
		out = append(out, t.Type)
	}
	return out
}

func TestEmptySourceYieldsEOF(t *testing.T) {
	toks := scan("")
	if len(toks) != 1 || toks[0].Type != TokenEOF {
		t.Fatalf("tokens = %v, want single EOF", toks)
	}
	if toks[0].Line != 1 || toks[0].Col != 1 {
		t.Fatalf("EOF at %d:%d, want 1:1", toks[0].Line, toks[0].Col)
	}
}

func TestKeywordsAndIdentifiers(t *testing.T) {
	tests := []struct {
		src  string
		want TokenType
	}{
		{"var", TokenVar},
		{"const", TokenConst},
		{"function", TokenFunction},
		{"typeof", TokenTypeof},
		{"undefined", TokenUndefined},
		{"true", TokenTrue},
		{"null", TokenNull},
		{"varx", TokenIdent},
		{"letter", TokenIdent},
		{"_under", TokenIdent},
		{"$dollar", TokenIdent},
		{"camelCase9", TokenIdent},
	}
	for _, tt := range tests {
		toks := scan(tt.src)
		if toks[0].Type != tt.want {
			t.Errorf("scan(%q)[0] = %s, want %s", tt.src, toks[0].Type, tt.want)
		}
		if toks[0].Lexeme != tt.src {
			t.Errorf("scan(%q) lexeme = %q", tt.src, toks[0].Lexeme)
		}
	}
}

func TestOperatorMaximalMunch(t *testing.T) {
	tests := []struct {
		src  string
		want TokenType
	}{
		{">>>=", TokenShrEq},
		{">>>", TokenShr},
		{">>=", TokenSarEq},
		{">>", TokenSar},
		{">=", TokenGE},
		{"<<=", TokenShlEq},
		{"<<", TokenShl},
		{"===", TokenStrictEqual},
		{"==", TokenDoubleEqual},
		{"!==", TokenStrictNot},
		{"!=", TokenNotEqual},
		{"++", TokenInc},
		{"--", TokenDec},
		{"+=", TokenPlusEq},
		{"&&", TokenAnd},
		{"&=", TokenAmpEq},
		{"||", TokenOr},
	}
	for _, tt := range tests {
		toks := scan(tt.src)
		if len(toks) != 2 || toks[0].Type != tt.want {
			t.Errorf("scan(%q) = %v, want single %s", tt.src, toks[:len(toks)-1], tt.want)
		}
	}
}

func TestNumbers(t *testing.T) {
	tests := []struct {
		src    string
		lexeme string
	}{
		{"42", "42"},
		{"3.14", "3.14"},
		{"0xFF", "0xFF"},
		{"0x0", "0x0"},
		{"1e3", "1e3"},
		{"2.5e-2", "2.5e-2"},
		{"7E+10", "7E+10"},
	}
	for _, tt := range tests {
		toks := scan(tt.src)
		if toks[0].Type != TokenNumber || toks[0].Lexeme != tt.lexeme {
			t.Errorf("scan(%q)[0] = %v, want NUMBER %q", tt.src, toks[0], tt.lexeme)
		}
	}

	// A dot not followed by a digit belongs to the next token.
	got := kinds("7.toString")
	want := []TokenType{TokenNumber, TokenDot, TokenIdent}
	if len(got) != len(want) {
		t.Fatalf("7.toString = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("7.toString[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// An exponent marker without digits is not part of the number.
	got = kinds("1e+")
	want = []TokenType{TokenNumber, TokenIdent, TokenPlus}
	if len(got) != len(want) {
		t.Fatalf("1e+ = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("1e+[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStringEscapes(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`"hello"`, "hello"},
		{`'hello'`, "hello"},
		{`"a\nb"`, "a\nb"},
		{`"a\tb"`, "a\tb"},
		{`"say \"hi\""`, `say "hi"`},
		{`'it\'s'`, "it's"},
		{`"back\\slash"`, `back\slash`},
		{`"\0"`, "\x00"},
		{`"\q"`, "q"},
		{`""`, ""},
	}
	for _, tt := range tests {
		toks := scan(tt.src)
		if toks[0].Type != TokenString || toks[0].Lexeme != tt.want {
			t.Errorf("scan(%s)[0] = %v, want STRING %q", tt.src, toks[0], tt.want)
		}
	}
}

func TestMultilineString(t *testing.T) {
	toks := scan("\"a\nb\" x")
	if toks[0].Type != TokenString || toks[0].Lexeme != "a\nb" {
		t.Fatalf("token = %v", toks[0])
	}
	if toks[0].Line != 1 {
		t.Fatalf("string starts at line %d, want 1", toks[0].Line)
	}
	if toks[1].Type != TokenIdent || toks[1].Line != 2 {
		t.Fatalf("next token = %v, want ident on line 2", toks[1])
	}
}

func TestUnterminatedStringDropped(t *testing.T) {
	toks := scan(`var s = "oops`)
	last := toks[len(toks)-1]
	if last.Type != TokenEOF {
		t.Fatalf("last token = %v, want EOF", last)
	}
	for _, tok := range toks {
		if tok.Type == TokenString {
			t.Fatalf("unterminated string produced token %v", tok)
		}
	}
}

func TestComments(t *testing.T) {
	got := kinds("1 // ignored to end of line\n2")
	if len(got) != 2 || got[0] != TokenNumber || got[1] != TokenNumber {
		t.Fatalf("line comment: %v", got)
	}

	got = kinds("1 /* inner * stars */ 2")
	if len(got) != 2 {
		t.Fatalf("block comment: %v", got)
	}

	toks := scan("/* one\ntwo\nthree */ x")
	if toks[0].Type != TokenIdent || toks[0].Line != 3 {
		t.Fatalf("after multiline block comment: %v, want ident on line 3", toks[0])
	}
}

func TestShebangSkipped(t *testing.T) {
	toks := scan("#!/usr/bin/env stratus\n42;")
	if toks[0].Type != TokenNumber || toks[0].Lexeme != "42" {
		t.Fatalf("first token = %v, want NUMBER 42", toks[0])
	}
	if toks[0].Line != 2 {
		t.Fatalf("line = %d, want 2", toks[0].Line)
	}
}

func TestLineAndColumn(t *testing.T) {
	toks := scan("var x =\n  y;")
	want := []struct {
		typ  TokenType
		line int
		col  int
	}{
		{TokenVar, 1, 1},
		{TokenIdent, 1, 5},
		{TokenEqual, 1, 7},
		{TokenIdent, 2, 3},
		{TokenSemicolon, 2, 4},
	}
	for i, w := range want {
		if toks[i].Type != w.typ || toks[i].Line != w.line || toks[i].Col != w.col {
			t.Errorf("token %d = %s at %d:%d, want %s at %d:%d",
				i, toks[i].Type, toks[i].Line, toks[i].Col, w.typ, w.line, w.col)
		}
	}
}

func TestUnknownBytesDropped(t *testing.T) {
	got := kinds("1 @ 2;")
	want := []TokenType{TokenNumber, TokenNumber, TokenSemicolon}
	if len(got) != len(want) {
		t.Fatalf("tokens = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStatementStream(t *testing.T) {
	got := kinds("if (a <= 1) { return a + 0x1F; }")
	want := []TokenType{
		TokenIf, TokenLParen, TokenIdent, TokenLE, TokenNumber, TokenRParen,
		TokenLBrace, TokenReturn, TokenIdent, TokenPlus, TokenNumber,
		TokenSemicolon, TokenRBrace,
	}
	if len(got) != len(want) {
		t.Fatalf("tokens = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %s, want %s", i, got[i], want[i])
		}
	}
}
