package lexer

import (
	"strconv"
	"strings"
	"testing"
)

func TestBasicTokens(t *testing.T) {
	input := `let x = 5
x = x + 1
`
	tests := []struct {
		expectedType    TokenType
		expectedLiteral string
	}{
		{LET, "let"},
		{IDENT, "x"},
		{ASSIGN, "="},
		{INT, "5"},
		{NEWLINE, "\\n"},
		{IDENT, "x"},
		{ASSIGN, "="},
		{IDENT, "x"},
		{PLUS, "+"},
		{INT, "1"},
		{NEWLINE, "\\n"},
		{EOF, ""},
	}

	l := New(input)
	for i, tt := range tests {
		tok := l.NextToken()
		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q (literal=%q)",
				i, tt.expectedType, tok.Type, tok.Literal)
		}
		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q",
				i, tt.expectedLiteral, tok.Literal)
		}
	}
}

func TestOperators(t *testing.T) {
	input := `+ - * / % ** == != < > <= >= && || ! & | ^ ~ << >> = += -= *= /= %= -> => <- ... ..< . ? :`
	expected := []TokenType{
		PLUS, MINUS, STAR, SLASH, PERCENT, POWER,
		EQ, NEQ, LT, GT, LE, GE,
		AMP_AMP, PIPE_PIPE, NOT, AMP, PIPE, CARET, TILDE, SHL, SHR,
		ASSIGN, PLUS_ASSIGN, MINUS_ASSIGN, STAR_ASSIGN, SLASH_ASSIGN, PERCENT_ASSIGN,
		ARROW, FAT_ARROW, LEFT_ARROW, DOT_DOT_DOT, DOT_DOT_LESS,
		DOT, QUESTION, COLON, EOF,
	}
	l := New(input)
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want {
			t.Fatalf("token[%d] wrong. expected=%q, got=%q (literal=%q)", i, want, tok.Type, tok.Literal)
		}
	}
}

func TestKeywords(t *testing.T) {
	input := `func let const struct interface type if else while for in match select return break continue defer try fail import export from as async await yield run step where true false null`
	expected := []TokenType{
		FUNC, LET, CONST, STRUCT, INTERFACE, TYPE, IF, ELSE, WHILE, FOR, IN,
		MATCH, SELECT, RETURN, BREAK, CONTINUE, DEFER, TRY, FAIL, IMPORT,
		EXPORT, FROM, AS, ASYNC, AWAIT, YIELD, RUN, STEP, WHERE,
		TRUE, FALSE, NULL, EOF,
	}
	l := New(input)
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want {
			t.Fatalf("token[%d] wrong. expected=%q, got=%q", i, want, tok.Type)
		}
	}
}

func TestNumericLiterals(t *testing.T) {
	tests := []struct {
		input string
		typ   TokenType
		ival  int64
		fval  float64
	}{
		{"42", INT, 42, 0},
		{"1_000_000", INT, 1000000, 0},
		{"0xff", INT, 255, 0},
		{"0xDEAD_BEEF", INT, 0xDEADBEEF, 0},
		{"0b1010", INT, 10, 0},
		{"0o755", INT, 493, 0},
		{"3.14", FLOAT, 0, 3.14},
		{"1e3", FLOAT, 0, 1000},
		{"2.5e-2", FLOAT, 0, 0.025},
	}
	for _, tt := range tests {
		l := New(tt.input)
		tok := l.NextToken()
		if tok.Type != tt.typ {
			t.Fatalf("%q: type wrong. expected=%q, got=%q", tt.input, tt.typ, tok.Type)
		}
		if tt.typ == INT && tok.Value.Int != tt.ival {
			t.Errorf("%q: value wrong. expected=%d, got=%d", tt.input, tt.ival, tok.Value.Int)
		}
		if tt.typ == FLOAT && tok.Value.Float != tt.fval {
			t.Errorf("%q: value wrong. expected=%g, got=%g", tt.input, tt.fval, tok.Value.Float)
		}
	}
}

func TestStringEscapes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"hello"`, "hello"},
		{`"a\nb"`, "a\nb"},
		{`"tab\there"`, "tab\there"},
		{`"quote\"inside"`, `quote"inside`},
		{`"back\\slash"`, `back\slash`},
		{`"nul\0char"`, "nul\x00char"},
		{`"\x41\x42"`, "AB"},
		{`"é"`, "é"},
	}
	for _, tt := range tests {
		l := New(tt.input)
		tok := l.NextToken()
		if tok.Type != STRING {
			t.Fatalf("%q: expected STRING, got %q", tt.input, tok.Type)
		}
		if tok.Value.Str != tt.want {
			t.Errorf("%q: expected %q, got %q", tt.input, tt.want, tok.Value.Str)
		}
	}
}

func TestCharLiterals(t *testing.T) {
	tests := []struct {
		input string
		want  rune
	}{
		{`'a'`, 'a'},
		{`'\n'`, '\n'},
		{`'\''`, '\''},
		{`'\x41'`, 'A'},
	}
	for _, tt := range tests {
		l := New(tt.input)
		tok := l.NextToken()
		if tok.Type != CHAR {
			t.Fatalf("%q: expected CHAR, got %q", tt.input, tok.Type)
		}
		if tok.Value.Char != tt.want {
			t.Errorf("%q: expected %q, got %q", tt.input, tt.want, tok.Value.Char)
		}
	}
}

func TestComments(t *testing.T) {
	input := "let a = 1 // trailing\n/* block */ let b = 2\n"
	expected := []TokenType{LET, IDENT, ASSIGN, INT, NEWLINE, LET, IDENT, ASSIGN, INT, NEWLINE, EOF}
	l := New(input)
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want {
			t.Fatalf("token[%d] wrong. expected=%q, got=%q (literal=%q)", i, want, tok.Type, tok.Literal)
		}
	}
}

func TestDocComments(t *testing.T) {
	input := "/// adds numbers\nfunc add() {}\n"
	l := New(input)
	tok := l.NextToken()
	if tok.Type != DOC_COMMENT {
		t.Fatalf("expected DOC_COMMENT, got %q", tok.Type)
	}
	if tok.Literal != "adds numbers" {
		t.Errorf("doc text wrong: %q", tok.Literal)
	}

	l = New("/** block doc */\nlet x = 1\n")
	tok = l.NextToken()
	if tok.Type != DOC_COMMENT {
		t.Fatalf("expected DOC_COMMENT, got %q", tok.Type)
	}
	if tok.Literal != "block doc" {
		t.Errorf("doc text wrong: %q", tok.Literal)
	}
}

func TestCRLFNormalization(t *testing.T) {
	l := New("let a = 1\r\nlet b = 2\r\n")
	var types []TokenType
	for {
		tok := l.NextToken()
		types = append(types, tok.Type)
		if tok.Type == EOF {
			break
		}
	}
	want := []TokenType{LET, IDENT, ASSIGN, INT, NEWLINE, LET, IDENT, ASSIGN, INT, NEWLINE, EOF}
	if len(types) != len(want) {
		t.Fatalf("token count: expected %d, got %d", len(want), len(types))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("token[%d]: expected %q, got %q", i, want[i], types[i])
		}
	}
}

func TestLexErrors(t *testing.T) {
	tests := []struct {
		input string
	}{
		{`"unterminated`},
		{`"bad \q escape"`},
		{`'unterminated`},
		{"@"},
		{`"\xZZ"`},
	}
	for _, tt := range tests {
		l := New(tt.input)
		_, err := l.Tokenize()
		if err == nil {
			t.Errorf("%q: expected lex error, got none", tt.input)
		}
	}
}

func TestPositions(t *testing.T) {
	l := New("let x = 1\nlet y = 2\n")
	toks, err := l.Tokenize()
	if err != nil {
		t.Fatal(err)
	}
	if toks[0].Pos.Line != 1 || toks[0].Pos.Column != 1 {
		t.Errorf("first token position: got %v", toks[0].Pos)
	}
	// The second `let` starts line 2.
	var secondLet Token
	for _, tok := range toks[1:] {
		if tok.Type == LET {
			secondLet = tok
			break
		}
	}
	if secondLet.Pos.Line != 2 {
		t.Errorf("second let line: expected 2, got %d", secondLet.Pos.Line)
	}
}

// TestRoundTrip re-lexes reconstructed source and expects an identical
// token stream modulo positions.
func TestRoundTrip(t *testing.T) {
	input := "func main() {\n\tlet s = \"hi\\n\" + name\n\tprintln(s, 0xff, 3.5)\n}\n"
	first, err := New(input).Tokenize()
	if err != nil {
		t.Fatal(err)
	}

	var b strings.Builder
	for _, tok := range first {
		switch tok.Type {
		case EOF:
		case NEWLINE:
			b.WriteByte('\n')
		case STRING:
			b.WriteString(strconv.Quote(tok.Value.Str))
		case CHAR:
			b.WriteString(strconv.QuoteRune(tok.Value.Char))
		default:
			b.WriteString(tok.Literal)
		}
		b.WriteByte(' ')
	}

	second, err := New(b.String()).Tokenize()
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatalf("stream length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Type != second[i].Type {
			t.Errorf("token[%d]: %q vs %q", i, first[i].Type, second[i].Type)
		}
	}
}
