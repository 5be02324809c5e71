package expr

import (
	"fmt"
	"unicode"
)

// tokenType classifies lexer tokens.
type tokenType int

const (
	tokenEOF tokenType = iota
	tokenNumber
	tokenIdent
	tokenOp     // + - * / ^ < <= > >= == != && || !
	tokenLParen // (
	tokenRParen // )
	tokenComma  // ,
)

type token struct {
	typ tokenType
	lit string
	pos int
}

func (t token) String() string {
	return fmt.Sprintf("token{%d, %q, %d}", t.typ, t.lit, t.pos)
}

// lexer tokenizes a single expression string.
type lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

func newLexer(input string) *lexer {
	l := &lexer{input: input}
	l.readChar()
	return l
}

func (l *lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func (l *lexer) nextToken() (token, error) {
	l.skipWhitespace()

	pos := l.pos
	switch l.ch {
	case 0:
		return token{typ: tokenEOF, pos: pos}, nil
	case '(':
		l.readChar()
		return token{typ: tokenLParen, lit: "(", pos: pos}, nil
	case ')':
		l.readChar()
		return token{typ: tokenRParen, lit: ")", pos: pos}, nil
	case ',':
		l.readChar()
		return token{typ: tokenComma, lit: ",", pos: pos}, nil
	case '+', '-', '*', '/', '^':
		op := string(l.ch)
		l.readChar()
		return token{typ: tokenOp, lit: op, pos: pos}, nil
	case '<', '>':
		op := string(l.ch)
		l.readChar()
		if l.ch == '=' {
			op += "="
			l.readChar()
		}
		// NMODL accepts <> for inequality.
		if op == "<" && l.ch == '>' {
			op = "!="
			l.readChar()
		}
		return token{typ: tokenOp, lit: op, pos: pos}, nil
	case '=':
		l.readChar()
		if l.ch != '=' {
			return token{}, fmt.Errorf("unexpected '=' at position %d (assignment inside expression?)", pos)
		}
		l.readChar()
		return token{typ: tokenOp, lit: "==", pos: pos}, nil
	case '!':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return token{typ: tokenOp, lit: "!=", pos: pos}, nil
		}
		return token{typ: tokenOp, lit: "!", pos: pos}, nil
	case '&':
		l.readChar()
		if l.ch == '&' {
			l.readChar()
		}
		// NMODL spells conjunction with a single &.
		return token{typ: tokenOp, lit: "&&", pos: pos}, nil
	case '|':
		l.readChar()
		if l.ch == '|' {
			l.readChar()
		}
		return token{typ: tokenOp, lit: "||", pos: pos}, nil
	}

	if isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())) {
		return token{typ: tokenNumber, lit: l.readNumber(), pos: pos}, nil
	}
	if isIdentStart(l.ch) {
		return token{typ: tokenIdent, lit: l.readIdent(), pos: pos}, nil
	}
	return token{}, fmt.Errorf("unexpected character %q at position %d", l.ch, pos)
}

func (l *lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) || l.ch == '.' {
		l.readChar()
	}
	// Exponent part: 1e-3, 2.5E+4.
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}
	return l.input[start:l.pos]
}

func (l *lexer) readIdent() string {
	start := l.pos
	for isIdentChar(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return unicode.IsLetter(rune(ch)) || ch == '_'
}

func isIdentChar(ch byte) bool {
	return unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch)) || ch == '_'
}
