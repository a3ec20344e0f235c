package store

import (
	"regexp"
	"strings"
	"unicode"
)

// Code-aware tokenization shared by both lexical backends and the query
// engine. Identifiers split on snake_case and camelCase so a query for
// "email" reaches findByEmail and find_by_email alike. Indexing and query
// paths must tokenize identically or BM25 scores mean nothing.

// codeStopWords are keywords and noise identifiers excluded from the
// lexical index.
var codeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while", "import", "package",
	"err", "ctx", "tmp", "self", "this",
}

var wordRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// minTokenLen drops single-character fragments.
const minTokenLen = 2

// Tokenize splits text with code-aware rules: word extraction, then
// snake_case and camelCase splitting, lowercasing, and length filtering.
// Stop words are NOT removed here; backends and TokenizeQuery filter them
// with the shared stopWordSet.
func Tokenize(text string) []string {
	var tokens []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, part := range splitIdentifier(word) {
			lower := strings.ToLower(part)
			if len(lower) >= minTokenLen {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// TokenizeQuery tokenizes and stop-filters a query the same way indexed
// content was processed.
func TokenizeQuery(text string) []string {
	return filterStopWords(Tokenize(text), stopWordSet())
}

// splitIdentifier breaks snake_case first, then camel/Pascal case within
// each fragment. Acronym runs stay together: "parseHTTPRequest" yields
// ["parse", "HTTP", "Request"].
func splitIdentifier(word string) []string {
	var out []string
	for _, part := range strings.Split(word, "_") {
		if part == "" {
			continue
		}
		out = append(out, splitCamel(part)...)
	}
	return out
}

func splitCamel(s string) []string {
	if s == "" {
		return nil
	}

	var out []string
	runes := []rune(s)
	start := 0
	for i := 1; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			continue
		}
		prevLower := unicode.IsLower(runes[i-1])
		nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if prevLower || nextLower {
			if i > start {
				out = append(out, string(runes[start:i]))
			}
			start = i
		}
	}
	out = append(out, string(runes[start:]))
	return out
}

var cachedStopWords map[string]struct{}

func stopWordSet() map[string]struct{} {
	if cachedStopWords == nil {
		cachedStopWords = make(map[string]struct{}, len(codeStopWords))
		for _, w := range codeStopWords {
			cachedStopWords[w] = struct{}{}
		}
	}
	return cachedStopWords
}

func filterStopWords(tokens []string, stop map[string]struct{}) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, isStop := stop[t]; !isStop {
			out = append(out, t)
		}
	}
	return out
}
