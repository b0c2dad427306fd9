package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/strata-db/strata/value"
)

// ErrParse indicates malformed query text. The message carries the offending
// position.
var ErrParse = errors.New("query: parse error")

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokVar     // $x or ?v
	tokString  // "..."
	tokInt     // 123
	tokFloat   // 1.5
	tokDate    // 2024-01-02T03:04:05.123
	tokAt      // @key, @unique (ident in text)
	tokPunct   // { } ( ) , ; :
	tokOp      // == != < <= > >= = + - * / % ^
)

type token struct {
	kind tokenKind
	text string
	pos  int // byte offset, for error messages
}

type lexer struct {
	src    string
	pos    int
	tokens []token
}

// lex scans the whole input up front; queries are short.
func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		l.tokens = append(l.tokens, tok)
		if tok.kind == tokEOF {
			return l.tokens, nil
		}
	}
}

func (l *lexer) errf(pos int, format string, args ...any) error {
	line := 1 + strings.Count(l.src[:pos], "\n")
	return fmt.Errorf("%w: line %d: %s", ErrParse, line, fmt.Sprintf(format, args...))
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}
	c := l.src[l.pos]
	switch {
	case c == '#':
		for l.pos < len(l.src) && l.src[l.pos] != '\n' {
			l.pos++
		}
		return l.next()
	case c == '$' || c == '?':
		l.pos++
		ident := l.scanIdent()
		if ident == "" {
			return token{}, l.errf(start, "bare %q", c)
		}
		return token{kind: tokVar, text: string(c) + ident, pos: start}, nil
	case c == '@':
		l.pos++
		ident := l.scanIdent()
		if ident == "" {
			return token{}, l.errf(start, "bare @")
		}
		return token{kind: tokAt, text: ident, pos: start}, nil
	case c == '"':
		return l.scanString()
	case c >= '0' && c <= '9':
		return l.scanNumberOrDate()
	case isIdentStart(rune(c)):
		ident := l.scanIdent()
		// isa! and sub! are single tokens.
		if (ident == "isa" || ident == "sub") && l.pos < len(l.src) && l.src[l.pos] == '!' {
			l.pos++
			ident += "!"
		}
		return token{kind: tokIdent, text: ident, pos: start}, nil
	case strings.ContainsRune("{}(),;:", rune(c)):
		l.pos++
		return token{kind: tokPunct, text: string(c), pos: start}, nil
	case strings.ContainsRune("=!<>+-*/%^", rune(c)):
		return l.scanOp()
	default:
		return token{}, l.errf(start, "unexpected character %q", c)
	}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
}

func isIdentStart(c rune) bool {
	return unicode.IsLetter(c) || c == '_'
}

// scanIdent consumes a label: letters, digits, underscores, and interior
// dashes followed by a letter or digit (so "pairs-with" is one token but
// "$a - $b" is three).
func (l *lexer) scanIdent() string {
	start := l.pos
	for l.pos < len(l.src) {
		c := rune(l.src[l.pos])
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' {
			l.pos++
			continue
		}
		if c == '-' && l.pos+1 < len(l.src) &&
			(unicode.IsLetter(rune(l.src[l.pos+1])) || unicode.IsDigit(rune(l.src[l.pos+1]))) {
			l.pos++
			continue
		}
		break
	}
	return l.src[start:l.pos]
}

func (l *lexer) scanString() (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case '"':
			l.pos++
			return token{kind: tokString, text: b.String(), pos: start}, nil
		case '\\':
			if l.pos+1 >= len(l.src) {
				return token{}, l.errf(start, "unterminated escape")
			}
			l.pos++
			switch esc := l.src[l.pos]; esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '"', '\\':
				b.WriteByte(esc)
			default:
				return token{}, l.errf(l.pos, "unknown escape \\%c", esc)
			}
			l.pos++
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	return token{}, l.errf(start, "unterminated string")
}

// scanNumberOrDate distinguishes integers, floats, and ISO datetimes, all of
// which start with a digit.
func (l *lexer) scanNumberOrDate() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
		l.pos++
	}
	// A dash after exactly four digits begins a datetime.
	if l.pos-start == 4 && l.pos < len(l.src) && l.src[l.pos] == '-' {
		for l.pos < len(l.src) && strings.ContainsRune("0123456789-T:.", rune(l.src[l.pos])) {
			l.pos++
		}
		text := l.src[start:l.pos]
		if _, err := parseDateTime(text); err != nil {
			return token{}, l.errf(start, "bad datetime %q", text)
		}
		return token{kind: tokDate, text: text, pos: start}, nil
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' &&
		l.pos+1 < len(l.src) && l.src[l.pos+1] >= '0' && l.src[l.pos+1] <= '9' {
		l.pos++
		for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
			l.pos++
		}
		return token{kind: tokFloat, text: l.src[start:l.pos], pos: start}, nil
	}
	return token{kind: tokInt, text: l.src[start:l.pos], pos: start}, nil
}

func (l *lexer) scanOp() (token, error) {
	start := l.pos
	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	switch two {
	case "==", "!=", "<=", ">=":
		l.pos += 2
		return token{kind: tokOp, text: two, pos: start}, nil
	}
	c := l.src[l.pos]
	if c == '!' {
		return token{}, l.errf(start, "bare !")
	}
	l.pos++
	return token{kind: tokOp, text: string(c), pos: start}, nil
}

var dateLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseDateTime(text string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no layout matches %q", text)
}

// literal converts a scalar token to a value.
func literal(tok token) (value.Value, error) {
	switch tok.kind {
	case tokString:
		return value.String(tok.text)
	case tokInt:
		i, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return value.Value{}, fmt.Errorf("%w: bad integer %q", ErrParse, tok.text)
		}
		return value.Int(i), nil
	case tokFloat:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return value.Value{}, fmt.Errorf("%w: bad float %q", ErrParse, tok.text)
		}
		return value.Double(f), nil
	case tokDate:
		t, err := parseDateTime(tok.text)
		if err != nil {
			return value.Value{}, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return value.DateTime(t), nil
	case tokIdent:
		switch tok.text {
		case "true":
			return value.Bool(true), nil
		case "false":
			return value.Bool(false), nil
		}
	}
	return value.Value{}, fmt.Errorf("%w: expected a literal, got %q", ErrParse, tok.text)
}
