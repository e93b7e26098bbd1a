package jsonsql

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokKeyword
	tokString
	tokNumber
	tokSymbol
)

// token is one lexeme. For keywords text is upper-cased, for strings and quoted
// identifiers it is unescaped.
type token struct {
	kind tokenKind
	text string
	pos  int
	raw  string
}

func (t token) describe() string {
	if t.kind == tokEOF {
		return "end of input"
	}

	return t.raw
}

var keywords = map[string]struct{}{
	"SELECT": {}, "FROM": {}, "WHERE": {},
	"INSERT": {}, "INTO": {}, "VALUES": {},
	"UPDATE": {}, "SET": {},
	"DELETE": {},
	"ORDER": {}, "BY": {}, "ASC": {}, "DESC": {},
	"LIMIT": {}, "OFFSET": {},
	"NULL": {}, "TRUE": {}, "FALSE": {},
	"AND": {}, "OR": {}, "NOT": {},
}

// IsKeyword reports whether name is reserved when written bare.
// Matching is case-insensitive.
func IsKeyword(name string) bool {
	_, ok := keywords[strings.ToUpper(name)]

	return ok
}

func tokenize(src string) ([]token, error) {
	var toks []token

	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])

		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '"':
			text, end, err := scanQuoted(src, i, '"', "closing double quote")
			if err != nil {
				return nil, err
			}

			toks = append(toks, token{kind: tokIdent, text: text, pos: i, raw: src[i:end]})
			i = end
		case r == '\'':
			text, end, err := scanQuoted(src, i, '\'', "closing single quote")
			if err != nil {
				return nil, err
			}

			toks = append(toks, token{kind: tokString, text: text, pos: i, raw: src[i:end]})
			i = end
		case isDigit(r) || (r == '-' && i+1 < len(src) && isDigit(rune(src[i+1]))):
			end, err := scanNumber(src, i)
			if err != nil {
				return nil, err
			}

			toks = append(toks, token{kind: tokNumber, text: src[i:end], pos: i, raw: src[i:end]})
			i = end
		case isIdentStart(r):
			end := i + size
			for end < len(src) {
				next, n := utf8.DecodeRuneInString(src[end:])
				if !isIdentPart(next) {
					break
				}

				end += n
			}

			word := src[i:end]
			if IsKeyword(word) {
				toks = append(toks, token{kind: tokKeyword, text: strings.ToUpper(word), pos: i, raw: word})
			} else {
				toks = append(toks, token{kind: tokIdent, text: word, pos: i, raw: word})
			}

			i = end
		case strings.ContainsRune("*=,();", r):
			toks = append(toks, token{kind: tokSymbol, text: string(r), pos: i, raw: string(r)})
			i += size
		default:
			return nil, &ParseError{Pos: i, Token: string(r), Expected: "token"}
		}
	}

	toks = append(toks, token{kind: tokEOF, pos: len(src)})

	return toks, nil
}

// scanQuoted reads a quote-delimited token starting at src[start]. A doubled
// quote inside the token stands for one literal quote.
func scanQuoted(src string, start int, quote byte, expected string) (string, int, error) {
	var sb strings.Builder

	i := start + 1
	for i < len(src) {
		if src[i] != quote {
			sb.WriteByte(src[i])
			i++

			continue
		}

		if i+1 < len(src) && src[i+1] == quote {
			sb.WriteByte(quote)
			i += 2

			continue
		}

		return sb.String(), i + 1, nil
	}

	return "", 0, &ParseError{Pos: start, Token: "end of input", Expected: expected}
}

func scanNumber(src string, start int) (int, error) {
	i := start
	if src[i] == '-' {
		i++
	}

	i = skipDigits(src, i)

	if i < len(src) && src[i] == '.' {
		j := skipDigits(src, i+1)
		if j == i+1 {
			return 0, &ParseError{Pos: start, Token: src[start : i+1], Expected: "digit after decimal point"}
		}

		i = j
	}

	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}

		k := skipDigits(src, j)
		if k == j {
			return 0, &ParseError{Pos: start, Token: src[start:j], Expected: "exponent digits"}
		}

		i = k
	}

	if i < len(src) {
		r, _ := utf8.DecodeRuneInString(src[i:])
		if isIdentPart(r) {
			return 0, &ParseError{Pos: start, Token: src[start : i+1], Expected: "number"}
		}
	}

	return i, nil
}

func skipDigits(src string, i int) int {
	for i < len(src) && isDigit(rune(src[i])) {
		i++
	}

	return i
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return isIdentStart(r) || unicode.IsDigit(r) }
