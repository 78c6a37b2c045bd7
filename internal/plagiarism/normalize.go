package plagiarism

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrUnreadable marks content that cannot be treated as source text
var ErrUnreadable = errors.New("file content is not readable text")

// Options controls normalization
type Options struct {
	IgnoreComments       bool
	NormalizeIdentifiers bool
}

// Normalized is the token stream left after normalization and its text rendering
type Normalized struct {
	Tokens []Token
	Text   string
}

// DecodeSource turns raw upload bytes into text. Valid UTF-8 is NFC normalized and
// stripped of byte order marks; anything else is read as Latin-1. NUL bytes mean binary.
func DecodeSource(raw []byte) (string, error) {
	if bytes.IndexByte(raw, 0) >= 0 {
		return "", ErrUnreadable
	}
	if !utf8.Valid(raw) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return "", ErrUnreadable
		}
		raw = decoded
	}
	t := transform.Chain(runes.Remove(runes.Predicate(isBOM)), norm.NFC)
	out, _, err := transform.Bytes(t, raw)
	if err != nil {
		return "", ErrUnreadable
	}
	return string(out), nil
}

func isBOM(r rune) bool { return r == '\uFEFF' }

// DecodeDisplay returns raw as text for viewing, reading invalid UTF-8 as Latin-1
func DecodeDisplay(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "\uFFFD")
	}
	return string(decoded)
}

// Normalize tokenizes src for language and applies opts. It is deterministic and
// idempotent on its own output: Normalize(Normalize(x).Text) yields the same Text.
func Normalize(src, language string, opts Options) Normalized {
	tokens := Tokenize(src, FamilyOf(language))
	return NormalizeTokens(tokens, opts)
}

// NormalizeTokens applies opts to an already tokenized source
func NormalizeTokens(tokens []Token, opts Options) Normalized {
	out := make([]Token, 0, len(tokens))
	var names map[string]string
	if opts.NormalizeIdentifiers {
		names = make(map[string]string)
	}

	for _, tok := range tokens {
		if tok.Kind == TokenComment && opts.IgnoreComments {
			continue
		}
		if tok.Kind == TokenIdent && names != nil {
			placeholder, ok := names[tok.Text]
			if !ok {
				placeholder = "ID_" + strconv.Itoa(len(names)+1)
				names[tok.Text] = placeholder
			}
			tok.Text = placeholder
		}
		out = append(out, tok)
	}

	return Normalized{Tokens: out, Text: Render(out)}
}

// Render joins tokens with single spaces, one output line per source line that
// starts a token. Blank lines disappear.
func Render(tokens []Token) string {
	var sb strings.Builder
	line := 0
	for i, tok := range tokens {
		switch {
		case i == 0:
		case tok.Line != line:
			sb.WriteByte('\n')
		default:
			sb.WriteByte(' ')
		}
		line = tok.Line
		sb.WriteString(tok.Text)
	}
	return sb.String()
}
