package expr

import (
	"fmt"
	"math/big"
	"unicode/utf8"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenLParen
	tokenRParen
)

type token struct {
	kind   tokenKind
	text   string
	offset int
	value  *big.Rat
}

// lex splits the input into tokens. The returned slice always ends with a
// tokenEOF.
func lex(input string) ([]token, error) {
	var tokens []token

	for i := 0; i < len(input); {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c) || c == '.':
			start := i
			seenDot := false
			for i < len(input) && (isDigit(input[i]) || input[i] == '.') {
				if input[i] == '.' {
					if seenDot {
						return nil, &SyntaxError{Offset: i, Message: "unexpected character '.'"}
					}
					seenDot = true
				}
				i++
			}
			text := input[start:i]
			v, ok := new(big.Rat).SetString(text)
			if !ok || text == "." {
				return nil, &SyntaxError{Offset: start, Message: fmt.Sprintf("invalid number '%s'", text)}
			}
			tokens = append(tokens, token{kind: tokenNumber, text: text, offset: start, value: v})
		default:
			kind, ok := punctuation[c]
			if !ok {
				r, _ := utf8.DecodeRuneInString(input[i:])
				return nil, &SyntaxError{Offset: i, Message: fmt.Sprintf("unexpected character %q", r)}
			}
			tokens = append(tokens, token{kind: kind, text: string(c), offset: i})
			i++
		}
	}

	return append(tokens, token{kind: tokenEOF, offset: len(input)}), nil
}

var punctuation = map[byte]tokenKind{
	'+': tokenPlus,
	'-': tokenMinus,
	'*': tokenStar,
	'/': tokenSlash,
	'(': tokenLParen,
	')': tokenRParen,
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
