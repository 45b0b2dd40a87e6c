// Package tokenizer turns raw text into index terms. Text is NFKC
// normalised, lower-cased, split on every rune that is not a letter, digit
// or combining mark, and stripped of English stop-words. There is no
// stemming: matching is exact on the normalised term.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "so": {}, "can": {}, "into": {}, "than": {},
	"then": {}, "there": {}, "these": {}, "those": {}, "such": {},
}

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Tokenize breaks text into a slice of normalised Tokens with stop-words
// removed. Positions count kept tokens only.
func Tokenize(text string) []Token {
	if text == "" {
		return []Token{}
	}
	words := split(text)
	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, word := range words {
		if !keep(word) {
			continue
		}
		tokens = append(tokens, Token{
			Term:     word,
			Position: pos,
		})
		pos++
	}
	return tokens
}

// Terms is Tokenize without positions.
func Terms(text string) []string {
	if text == "" {
		return []string{}
	}
	words := split(text)
	terms := words[:0]
	for _, word := range words {
		if keep(word) {
			terms = append(terms, word)
		}
	}
	return terms
}

// IsStopWord reports whether term is dropped by the tokenizer.
func IsStopWord(term string) bool {
	_, ok := stopWords[term]
	return ok
}

func split(text string) []string {
	text = strings.ToLower(norm.NFKC.String(text))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})
}

// keep drops stop-words and lone letters ("s" from "Garden's"); lone digits
// survive because they carry meaning in titles such as "Apollo 8".
func keep(word string) bool {
	if _, isStop := stopWords[word]; isStop {
		return false
	}
	if utf8.RuneCountInString(word) == 1 {
		r, _ := utf8.DecodeRuneInString(word)
		return unicode.IsDigit(r)
	}
	return true
}
