// Package tokenizer provides token counting shared by the chunker, the
// context optimizer, and the token budget manager. Counts must come from the
// same tokenizer everywhere so chunk token_count values written at ingestion
// time stay valid at query time.
package tokenizer

import (
	"strings"
	"unicode"
)

// Tokenizer interface for counting and splitting tokens
type Tokenizer interface {
	// CountTokens returns the number of tokens in the text
	CountTokens(text string) int
	// Tokenize splits text into tokens
	Tokenize(text string) []string
	// GetTokenLimit returns the maximum token limit for this tokenizer
	GetTokenLimit() int
}

// SimpleTokenizer provides word-and-punctuation token estimation that tracks
// cl100k-style encodings closely enough for budgeting English prose.
type SimpleTokenizer struct {
	tokenLimit int
}

// NewSimpleTokenizer creates a new simple tokenizer
func NewSimpleTokenizer(tokenLimit int) *SimpleTokenizer {
	if tokenLimit <= 0 {
		tokenLimit = 8192
	}
	return &SimpleTokenizer{
		tokenLimit: tokenLimit,
	}
}

// CountTokens estimates token count based on words and punctuation
func (t *SimpleTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	tokens := 0
	inWord := false

	for _, r := range text {
		if unicode.IsSpace(r) {
			if inWord {
				tokens++
				inWord = false
			}
		} else if unicode.IsPunct(r) {
			tokens++
			inWord = false
		} else {
			inWord = true
		}
	}

	if inWord {
		tokens++
	}

	// Subword correction: English averages ~1.3 tokens per word.
	wordCount := len(strings.Fields(text))
	estimatedTokens := int(float64(wordCount) * 1.3)

	if estimatedTokens > tokens {
		return estimatedTokens
	}
	return tokens
}

// Tokenize splits text into word and punctuation tokens. Newlines survive as
// their own tokens so overlap windows keep paragraph boundaries.
func (t *SimpleTokenizer) Tokenize(text string) []string {
	if text == "" {
		return []string{}
	}

	var tokens []string
	var currentToken strings.Builder

	for _, r := range text {
		if unicode.IsSpace(r) {
			if currentToken.Len() > 0 {
				tokens = append(tokens, currentToken.String())
				currentToken.Reset()
			}
			if r == '\n' {
				tokens = append(tokens, "\n")
			}
		} else if unicode.IsPunct(r) {
			if currentToken.Len() > 0 {
				tokens = append(tokens, currentToken.String())
				currentToken.Reset()
			}
			tokens = append(tokens, string(r))
		} else {
			currentToken.WriteRune(r)
		}
	}

	if currentToken.Len() > 0 {
		tokens = append(tokens, currentToken.String())
	}

	return tokens
}

// GetTokenLimit returns the maximum token limit
func (t *SimpleTokenizer) GetTokenLimit() int {
	return t.tokenLimit
}
