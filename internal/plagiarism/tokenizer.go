package plagiarism

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type TokenKind uint8

const (
	TokenIdent TokenKind = iota
	TokenKeyword
	TokenNumber
	TokenString
	TokenOperator
	TokenComment
)

// Token is one lexical unit. Positions refer to the decoded source text.
type Token struct {
	Kind    TokenKind `json:"k"`
	Text    string    `json:"t"`
	Line    int       `json:"l"`  // 1-based line of the first byte
	EndLine int       `json:"el"` // line of the last byte
	Offset  int       `json:"o"`  // byte offset of the first byte
	End     int       `json:"e"`  // byte offset one past the last byte
}

// multi-character operators, longest first
var multiCharOps = []string{
	">>>=", "===", "!==", "<<=", ">>=", "**=", "...", "<=>", "//=",
	"->", "=>", "::", "==", "!=", "<=", ">=", "&&", "||", "++", "--",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "<<", ">>", "**",
	":=", "//", "??", "?.", "<-", "&^",
}

var keywords = buildKeywordSet(
	// C family, Java, C#, Go, Rust, Swift, Kotlin
	"auto", "break", "case", "char", "const", "continue", "default", "do", "double", "else",
	"enum", "extern", "float", "for", "goto", "if", "int", "long", "register", "return",
	"short", "signed", "sizeof", "static", "struct", "switch", "typedef", "union", "unsigned",
	"void", "volatile", "while", "class", "public", "private", "protected", "new", "delete",
	"this", "throw", "throws", "try", "catch", "finally", "namespace", "using", "virtual",
	"template", "typename", "abstract", "extends", "implements", "interface", "package",
	"import", "final", "boolean", "byte", "instanceof", "super", "synchronized", "null",
	"true", "false", "func", "go", "chan", "defer", "map", "range", "select", "type", "var",
	"fallthrough", "fn", "let", "mut", "impl", "trait", "pub", "use", "mod", "match", "loop",
	"self", "Self", "where", "async", "await", "move", "ref", "dyn", "crate", "override",
	"val", "fun", "object", "when", "guard", "protocol", "extension", "init", "deinit",
	"string", "bool", "foreach", "in", "is", "as", "out", "readonly", "sealed", "yield",
	// JavaScript / TypeScript
	"function", "const", "undefined", "typeof", "export", "from", "of", "debugger", "with",
	"declare", "keyof", "never", "unknown", "any", "number", "symbol",
	// Python, Ruby, shell
	"def", "elif", "and", "or", "not", "pass", "lambda", "global", "nonlocal", "assert",
	"del", "raise", "except", "None", "True", "False", "print", "end", "then", "begin",
	"rescue", "ensure", "unless", "until", "module", "require", "puts", "nil", "fi", "esac",
	"done", "local",
	// PHP
	"echo", "array", "elseif", "endif", "endwhile", "endforeach", "include", "require_once",
	"include_once", "insteadof",
	// SQL, Lua
	"select", "insert", "update", "from", "where", "join", "on", "group", "by", "order",
	"having", "limit", "values", "into", "create", "table", "drop", "alter", "repeat",
)

func buildKeywordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// IsKeyword reports whether word is a reserved word in any supported language
func IsKeyword(word string) bool {
	_, ok := keywords[word]
	if !ok {
		_, ok = keywords[strings.ToLower(word)]
		// SQL keywords are case-insensitive; everything else is exact
		ok = ok && strings.ToUpper(word) == word
	}
	return ok
}

type tokenizer struct {
	src    string
	family Family
	pos    int
	line   int
	tokens []Token
}

// Tokenize splits src into tokens. Comment syntax follows family;
// FamilyUnknown recognizes no comments.
func Tokenize(src string, family Family) []Token {
	t := &tokenizer{src: src, family: family, line: 1}
	t.run()
	return t.tokens
}

func (t *tokenizer) run() {
	for t.pos < len(t.src) {
		c := t.src[t.pos]
		switch {
		case c == '\n':
			t.line++
			t.pos++
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			t.pos++
		case t.lineCommentAt():
			t.lineComment()
		case t.blockCommentAt() != "":
			t.blockComment(t.blockCommentAt())
		case c == '\'' && t.lifetimeAt():
			t.lifetime()
		case c == '"' || c == '\'' || c == '`':
			t.stringLiteral(c)
		case isDigit(c) || (c == '.' && t.pos+1 < len(t.src) && isDigit(t.src[t.pos+1])):
			t.number()
		default:
			r, size := utf8.DecodeRuneInString(t.src[t.pos:])
			switch {
			case isIdentStart(r):
				t.identifier()
			case unicode.IsSpace(r):
				t.pos += size
			default:
				t.operator()
			}
		}
	}
}

func (t *tokenizer) hasPrefix(p string) bool {
	return strings.HasPrefix(t.src[t.pos:], p)
}

func (t *tokenizer) lineCommentAt() bool {
	switch t.family {
	case FamilyCStyle:
		return t.hasPrefix("//")
	case FamilyHash:
		return t.hasPrefix("#")
	case FamilyPHP:
		return t.hasPrefix("//") || t.hasPrefix("#")
	case FamilyDashDash:
		return t.hasPrefix("--") && !t.hasPrefix("--[[")
	}
	return false
}

// blockCommentAt returns the closing delimiter of a block comment starting at pos
func (t *tokenizer) blockCommentAt() string {
	switch t.family {
	case FamilyCStyle, FamilyPHP:
		if t.hasPrefix("/*") {
			return "*/"
		}
	case FamilyDashDash:
		if t.hasPrefix("--[[") {
			return "]]"
		}
		if t.hasPrefix("/*") {
			return "*/"
		}
	}
	return ""
}

func (t *tokenizer) emit(kind TokenKind, start, startLine int) {
	t.tokens = append(t.tokens, Token{
		Kind:    kind,
		Text:    t.src[start:t.pos],
		Line:    startLine,
		EndLine: t.line,
		Offset:  start,
		End:     t.pos,
	})
}

func (t *tokenizer) lineComment() {
	start := t.pos
	end := len(t.src)
	if i := strings.IndexByte(t.src[start:], '\n'); i >= 0 {
		end = start + i
	}
	// trailing \r of CRLF endings is not part of the comment
	textEnd := end
	for textEnd > start && t.src[textEnd-1] == '\r' {
		textEnd--
	}
	t.pos = textEnd
	t.emit(TokenComment, start, t.line)
	t.pos = end
}

func (t *tokenizer) blockComment(closing string) {
	start, startLine := t.pos, t.line
	open := 2
	if closing == "]]" {
		open = 4
	}
	t.pos += open
	end := strings.Index(t.src[t.pos:], closing)
	if end < 0 {
		t.advanceTo(len(t.src))
	} else {
		t.advanceTo(t.pos + end + len(closing))
	}
	t.emit(TokenComment, start, startLine)
}

// advanceTo moves pos forward counting newlines
func (t *tokenizer) advanceTo(pos int) {
	t.line += strings.Count(t.src[t.pos:pos], "\n")
	t.pos = pos
}

func (t *tokenizer) stringLiteral(quote byte) {
	start, startLine := t.pos, t.line

	triple := strings.Repeat(string(quote), 3)
	if t.family == FamilyHash && quote != '`' && t.hasPrefix(triple) {
		t.pos += 3
		end := strings.Index(t.src[t.pos:], triple)
		if end < 0 {
			t.advanceTo(len(t.src))
		} else {
			t.advanceTo(t.pos + end + 3)
		}
		t.emit(TokenString, start, startLine)
		return
	}

	t.pos++
	for t.pos < len(t.src) {
		c := t.src[t.pos]
		switch {
		case c == '\\' && quote != '`' && t.pos+1 < len(t.src):
			if t.src[t.pos+1] == '\n' {
				t.line++
			}
			t.pos += 2
			continue
		case c == quote:
			t.pos++
			t.emit(TokenString, start, startLine)
			return
		case c == '\n':
			if quote != '`' {
				// unterminated literal ends at the line break
				t.emit(TokenString, start, startLine)
				return
			}
			t.line++
		}
		t.pos++
	}
	t.emit(TokenString, start, startLine)
}

// lifetimeAt reports whether the quote at pos opens a Rust lifetime or loop
// label ('a, 'static) rather than a literal. An identifier must follow the
// quote without a closing quote, and the next unescaped quote on the line, if
// any, must itself be followed by an identifier.
func (t *tokenizer) lifetimeAt() bool {
	if t.family != FamilyCStyle {
		return false
	}
	rest := t.src[t.pos+1:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	n := identLen(rest)
	if n == 0 || (n < len(rest) && rest[n] == '\'') {
		return false
	}
	for i := n; i < len(rest); i++ {
		switch rest[i] {
		case '\\':
			i++
		case '\'':
			return identLen(rest[i+1:]) > 0
		}
	}
	return true
}

// lifetime emits the quote and its name as one identifier token
func (t *tokenizer) lifetime() {
	start := t.pos
	t.pos += 1 + identLen(t.src[t.pos+1:])
	t.emit(TokenIdent, start, t.line)
}

// identLen is the byte length of the identifier at the start of s
func identLen(s string) int {
	n := 0
	for n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		if (n == 0 && !isIdentStart(r)) || !isIdentPart(r) {
			break
		}
		n += size
	}
	return n
}

func (t *tokenizer) number() {
	start := t.pos
	for t.pos < len(t.src) {
		c := t.src[t.pos]
		if isDigit(c) || isASCIILetter(c) || c == '_' || c == '.' {
			t.pos++
			continue
		}
		break
	}
	t.emit(TokenNumber, start, t.line)
}

func (t *tokenizer) identifier() {
	start := t.pos
	for t.pos < len(t.src) {
		r, size := utf8.DecodeRuneInString(t.src[t.pos:])
		if !isIdentPart(r) {
			break
		}
		t.pos += size
	}
	kind := TokenIdent
	if IsKeyword(t.src[start:t.pos]) {
		kind = TokenKeyword
	}
	t.emit(kind, start, t.line)
}

func (t *tokenizer) operator() {
	start := t.pos
	for _, op := range multiCharOps {
		if t.hasPrefix(op) {
			t.pos += len(op)
			t.emit(TokenOperator, start, t.line)
			return
		}
	}
	_, size := utf8.DecodeRuneInString(t.src[t.pos:])
	t.pos += size
	t.emit(TokenOperator, start, t.line)
}

func isDigit(c byte) bool       { return c >= '0' && c <= '9' }
func isASCIILetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}
