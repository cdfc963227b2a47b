package app

import (
	"strings"
	"unicode"
)

// SplitSegments cuts text into pieces of at most max runes, breaking after
// sentence terminators where possible, then at whitespace, then anywhere.
func SplitSegments(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" || max <= 0 {
		return nil
	}
	var (
		segments []string
		current  []rune
	)
	flush := func() {
		if s := strings.TrimSpace(string(current)); s != "" {
			segments = append(segments, s)
		}
		current = current[:0]
	}
	for _, sentence := range splitSentences(text) {
		runes := []rune(sentence)
		if len(current)+len(runes) <= max {
			current = append(current, runes...)
			continue
		}
		flush()
		for len(runes) > max {
			cut := lastSpace(runes[:max])
			if cut <= 0 {
				cut = max
			}
			current = append(current, runes[:cut]...)
			flush()
			runes = runes[cut:]
		}
		current = append(current, runes...)
	}
	flush()
	return segments
}

// splitSentences keeps each terminator and its trailing whitespace with the
// sentence it ends.
func splitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && isTerminator(runes[j]) {
			j++
		}
		if j < len(runes) && !unicode.IsSpace(runes[j]) {
			i = j - 1
			continue
		}
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		out = append(out, string(runes[start:j]))
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '؟', '۔', '…':
		return true
	}
	return false
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return -1
}
