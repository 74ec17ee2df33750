package expr

import (
	"errors"
	"fmt"
)

// ErrDivisionByZero is returned when a divisor evaluates to zero.
var ErrDivisionByZero = errors.New("division by zero")

// ErrEmpty is returned for input that holds no tokens at all.
var ErrEmpty = errors.New("empty expression")

// SyntaxError occurs when the input does not form a valid expression.
type SyntaxError struct {
	// Offset is the byte offset of the offending token, or -1 at end of input.
	Offset  int
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Offset < 0 {
		return e.Message
	}
	return fmt.Sprintf("%s at offset %d", e.Message, e.Offset)
}

func unexpectedEnd() *SyntaxError {
	return &SyntaxError{Offset: -1, Message: "unexpected end of input"}
}
