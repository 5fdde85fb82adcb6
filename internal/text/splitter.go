// Package text holds the string handling around narration: sentence
// splitting, replacement rules, markdown stripping, chunking and file names.
package text

import (
	"fmt"
	"strings"
	"unicode"
)

// Splitter turns a story body into an ordered list of caption sentences.
type Splitter interface {
	Split(text string) []string
}

// NewSplitter resolves the configured splitter name once.
func NewSplitter(name string) (Splitter, error) {
	switch name {
	case "", "rules":
		return RuleSplitter{}, nil
	default:
		return nil, fmt.Errorf("unknown sentence splitter %q", name)
	}
}

// RuleSplitter breaks on . ! ? and line breaks. Closing quotes and brackets
// stay with their sentence, and common abbreviations do not end one.
type RuleSplitter struct{}

var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true, "sr": true, "jr": true,
	"st": true, "vs": true, "etc": true, "e.g": true, "i.e": true, "u.s": true, "approx": true,
	"lt": true, "sgt": true, "capt": true, "mt": true,
}

func isTerminal(r rune) bool { return r == '.' || r == '!' || r == '?' || r == '…' }

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}

func (RuleSplitter) Split(s string) []string {
	var out []string
	for _, para := range strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' }) {
		out = append(out, splitParagraph(para)...)
	}
	return out
}

func splitParagraph(p string) []string {
	runes := []rune(p)
	var out []string
	start := 0
	emit := func(end int) {
		if sentence := strings.Join(strings.Fields(string(runes[start:end])), " "); sentence != "" {
			out = append(out, sentence)
		}
		start = end
	}
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && (isTerminal(runes[j]) || isCloser(runes[j])) {
			j++
		}
		if j < len(runes) && !unicode.IsSpace(runes[j]) {
			i = j - 1
			continue
		}
		if runes[i] == '.' && endsWithAbbreviation(runes[start:i]) {
			i = j - 1
			continue
		}
		emit(j)
		i = j - 1
	}
	emit(len(runes))
	return out
}

func endsWithAbbreviation(rs []rune) bool {
	k := len(rs)
	for k > 0 && !unicode.IsSpace(rs[k-1]) && rs[k-1] != '(' && rs[k-1] != '"' {
		k--
	}
	word := strings.ToLower(string(rs[k:]))
	if word == "" {
		return false
	}
	if abbreviations[word] {
		return true
	}
	// single initials like "J. R. R."
	r := []rune(word)
	return len(r) == 1 && unicode.IsLetter(r[0])
}

// Chunk splits s into pieces of at most max runes, breaking on spaces where
// possible. Narration backends with request size limits use it.
func Chunk(s string, max int) []string {
	words := strings.Fields(s)
	if max <= 0 || len(words) == 0 {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		return []string{strings.TrimSpace(s)}
	}
	var chunks []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, w := range words {
		wr := []rune(w)
		for len(wr) > max {
			flush()
			chunks = append(chunks, string(wr[:max]))
			wr = wr[max:]
		}
		need := len(wr)
		if curLen > 0 {
			need++
		}
		if curLen+need > max {
			flush()
			need = len(wr)
		}
		if curLen > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(string(wr))
		curLen += need
	}
	flush()
	return chunks
}
