package plagiarism

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeKindsAndLines(t *testing.T) {
	src := "a = 'x'\n/* c\n */ b"
	tokens := Tokenize(src, FamilyCStyle)
	require.Len(t, tokens, 5)

	assert.Equal(t, TokenIdent, tokens[0].Kind)
	assert.Equal(t, TokenOperator, tokens[1].Kind)
	assert.Equal(t, TokenString, tokens[2].Kind)
	assert.Equal(t, "'x'", tokens[2].Text)

	assert.Equal(t, TokenComment, tokens[3].Kind)
	assert.Equal(t, 2, tokens[3].Line)
	assert.Equal(t, 3, tokens[3].EndLine)

	assert.Equal(t, "b", tokens[4].Text)
	assert.Equal(t, 3, tokens[4].Line)
	assert.Equal(t, len(src)-1, tokens[4].Offset)
	assert.Equal(t, len(src), tokens[4].End)
}

func TestTokenizeOperatorsAndKeywords(t *testing.T) {
	tokens := Tokenize("if (a >= 10 && b !== c) { return x->y; }", FamilyCStyle)
	texts := make([]string, len(tokens))
	for i, tok := range tokens {
		texts[i] = tok.Text
	}
	assert.Equal(t, []string{"if", "(", "a", ">=", "10", "&&", "b", "!==", "c", ")", "{", "return", "x", "->", "y", ";", "}"}, texts)
	assert.Equal(t, TokenKeyword, tokens[0].Kind)
	assert.Equal(t, TokenNumber, tokens[4].Kind)
	assert.Equal(t, TokenKeyword, tokens[11].Kind)
}

func TestTokenizeLifetimes(t *testing.T) {
	tokens := Tokenize("fn pick<'a, 'b>(x: &'a str, c: char) -> &'a str { 'outer: loop { if c == 'y' { break 'outer; } } x }", FamilyCStyle)

	var lifetimes, literals []string
	for _, tok := range tokens {
		switch {
		case tok.Kind == TokenString:
			literals = append(literals, tok.Text)
		case tok.Kind == TokenIdent && tok.Text[0] == '\'':
			lifetimes = append(lifetimes, tok.Text)
		}
	}
	assert.Equal(t, []string{"'a", "'b", "'a", "'a", "'outer", "'outer"}, lifetimes)
	assert.Equal(t, []string{"'y'"}, literals)
}

func TestTokenizeQuotedStringsStayLiterals(t *testing.T) {
	tokens := Tokenize(`a = 'hello world'; b = 'it\'s'; c = ['x y','z']; d = 'k' + 'v w'`, FamilyCStyle)

	var literals []string
	for _, tok := range tokens {
		if tok.Kind == TokenString {
			literals = append(literals, tok.Text)
		}
	}
	assert.Equal(t, []string{`'hello world'`, `'it\'s'`, `'x y'`, `'z'`, `'k'`, `'v w'`}, literals)

	// quotes only mark lifetimes in C-style sources
	tokens = Tokenize("x = 'a b\n", FamilyHash)
	assert.Equal(t, TokenString, tokens[2].Kind)
}

func TestIsKeywordSQLCase(t *testing.T) {
	assert.True(t, IsKeyword("select"))
	assert.True(t, IsKeyword("SELECT"))
	assert.False(t, IsKeyword("Select"))
	assert.False(t, IsKeyword("total"))
}

func TestNormalizeIgnoreComments(t *testing.T) {
	tests := []struct {
		name     string
		language string
		src      string
		want     string
	}{
		{
			name:     "c style",
			language: "c",
			src:      "int a = 1; // set a\n/* block\ncomment */\nint b = a;",
			want:     "int a = 1 ;\nint b = a ;",
		},
		{
			name:     "hash",
			language: "python",
			src:      "# header\nx = 1  # trailing\n",
			want:     "x = 1",
		},
		{
			name:     "php mixes both",
			language: "php",
			src:      "<?php\n# one\n// two\n/* three */ echo $a;",
			want:     "< ? php\necho $a ;",
		},
		{
			name:     "sql",
			language: "sql",
			src:      "SELECT a -- pick\nFROM t /* tbl */",
			want:     "SELECT a\nFROM t",
		},
		{
			name:     "unknown language passes through",
			language: LanguageUnknown,
			src:      "x = 1 // note",
			want:     "x = 1 // note",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.src, tt.language, Options{IgnoreComments: true})
			assert.Equal(t, tt.want, got.Text)
		})
	}
}

func TestNormalizeKeepsCommentsWhenDisabled(t *testing.T) {
	got := Normalize("x = 1 // note", "go", Options{})
	assert.Equal(t, "x = 1 // note", got.Text)
	assert.Equal(t, TokenComment, got.Tokens[3].Kind)
}

func TestNormalizeIdentifiers(t *testing.T) {
	opts := Options{IgnoreComments: true, NormalizeIdentifiers: true}

	original := Normalize("def add(a, b):\n    return a + b\n", "python", opts)
	renamed := Normalize("def total(x, y):\n    # renamed\n    return x + y\n", "python", opts)

	assert.Equal(t, "def ID_1 ( ID_2 , ID_3 ) :\nreturn ID_2 + ID_3", original.Text)
	assert.Equal(t, original.Text, renamed.Text)
}

func TestNormalizePreservesLiteralsAndKeywords(t *testing.T) {
	got := Normalize(`if count > 10 { log("count") }`, "go", Options{NormalizeIdentifiers: true})
	assert.Equal(t, `if ID_1 > 10 { ID_2 ( "count" ) }`, got.Text)
}

func TestNormalizeIdempotent(t *testing.T) {
	sources := []struct {
		language string
		src      string
	}{
		{"c", "int main() {\n  /* multi\n line */ int x = 0; // c\n  return x;\n}\n"},
		{"python", "x = \"\"\"doc\nmore\"\"\"\ny = 2\n\n\nprint(x, y)"},
		{"javascript", "const s = `a\nb`; let t = 'unterminated\nlet u = s + t;"},
		{"sql", "SELECT a -- pick\nFROM t"},
		{"php", "<?php # c\n$a = 1;\r\n$b = $a . \"x\";\r\n"},
		{LanguageUnknown, "weird ## text -- here\n\tmore"},
		{"go", "v := 3.14 + .5\nw := a--b"},
		{"rust", "fn f<'a, 'b>(x: &'a str) -> &'b str {\n    'l: loop { let c = 'q'; break 'l; } // it's\n    x\n}"},
	}
	options := []Options{
		{},
		{IgnoreComments: true},
		{NormalizeIdentifiers: true},
		{IgnoreComments: true, NormalizeIdentifiers: true},
	}
	for _, s := range sources {
		for _, opts := range options {
			once := Normalize(s.src, s.language, opts)
			twice := Normalize(once.Text, s.language, opts)
			assert.Equal(t, once.Text, twice.Text, "language=%s opts=%+v", s.language, opts)
		}
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	src := "for (int i = 0; i < n; i++) { sum += arr[i]; }"
	opts := Options{IgnoreComments: true, NormalizeIdentifiers: true}
	assert.Equal(t, Normalize(src, "java", opts), Normalize(src, "java", opts))
}

func TestDecodeSource(t *testing.T) {
	_, err := DecodeSource([]byte("abc\x00def"))
	assert.ErrorIs(t, err, ErrUnreadable)

	latin1, err := DecodeSource([]byte{'c', 'a', 'f', 0xE9})
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9", latin1)

	bom, err := DecodeSource([]byte("\xEF\xBB\xBFx = 1"))
	require.NoError(t, err)
	assert.Equal(t, "x = 1", bom)

	nfc, err := DecodeSource([]byte("e\u0301"))
	require.NoError(t, err)
	assert.Equal(t, "\u00e9", nfc)
}

func TestResolveLanguage(t *testing.T) {
	assert.Equal(t, "python", ResolveLanguage("a/b/main.py", "", true))
	assert.Equal(t, LanguageUnknown, ResolveLanguage("main.py", "", false))
	assert.Equal(t, "java", ResolveLanguage("main.py", "Java", true))
	assert.Equal(t, LanguageUnknown, ResolveLanguage("main.py", "cobol", true))
	assert.Equal(t, LanguageUnknown, DetectLanguage("README"))
	assert.Equal(t, FamilyPHP, FamilyOf("php"))
	assert.True(t, IsBinaryName("logo.PNG"))
	assert.False(t, IsBinaryName("main.go"))
}
