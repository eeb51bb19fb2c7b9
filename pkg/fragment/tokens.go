package fragment

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter returns the token length of a text.
type TokenCounter func(text string) int

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// TiktokenCounter counts tokens with the given tiktoken encoding, e.g.
// "o200k_base".
func TiktokenCounter(encoding string) (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}
