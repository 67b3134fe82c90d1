package tokenize

import (
	"regexp"

	"github.com/kljensen/snowball"
)

// Options controls how text is split into vocabulary tokens.
type Options struct {
	// StemFallback lets callers retry unknown tokens by their stem.
	StemFallback bool
	// Language is the snowball stemmer language. Defaults to english.
	Language string
}

// Runs of letters, digits and underscores are words; any other
// non-space rune stands alone as a punctuation token.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+|[^\s\p{L}\p{M}\p{N}_]`)

// Words splits text into word and punctuation tokens in order.
func Words(text string) []string {
	return tokenPattern.FindAllString(text, -1)
}

// Stem returns the snowball stem of word, or word itself when stemming
// fails or is disabled.
func Stem(word string, opts Options) string {
	if !opts.StemFallback {
		return word
	}
	lang := opts.Language
	if lang == "" {
		lang = "english"
	}
	stemmed, err := snowball.Stem(word, lang, true)
	if err != nil || stemmed == "" {
		return word
	}
	return stemmed
}
