// Package tokens estimates prompt sizes for admission control.
package tokens

import (
	"fmt"
	"unicode/utf8"
)

const DefaultCharsPerToken = 4

// Estimator returns an approximate token count for text. Implementations must be
// deterministic and free of I/O.
type Estimator interface {
	Estimate(text string) int
}

// Bytes divides the UTF-8 byte length by CharsPerToken.
type Bytes struct {
	CharsPerToken int
}

func (b Bytes) Estimate(text string) int {
	return len(text) / divisor(b.CharsPerToken)
}

// Runes divides the rune count by CharsPerToken. Cyrillic and other multi-byte
// scripts come out closer to real tokenizer counts than with Bytes.
type Runes struct {
	CharsPerToken int
}

func (r Runes) Estimate(text string) int {
	return utf8.RuneCountInString(text) / divisor(r.CharsPerToken)
}

// New returns the estimator registered under name ("bytes" or "runes").
func New(name string, charsPerToken int) (Estimator, error) {
	switch name {
	case "", "bytes":
		return Bytes{CharsPerToken: charsPerToken}, nil
	case "runes":
		return Runes{CharsPerToken: charsPerToken}, nil
	default:
		return nil, fmt.Errorf("unknown token estimator %q", name)
	}
}

func divisor(charsPerToken int) int {
	if charsPerToken <= 0 {
		return DefaultCharsPerToken
	}
	return charsPerToken
}
