package tgui

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLen is Telegram's hard limit for a single text message, in runes.
const MaxMessageLen = 4096

// TruncRunes returns s truncated to at most n runes.
// It appends an ellipsis "…" when truncated.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}

// SplitLines cuts text into chunks of at most limit runes, breaking on
// newlines where possible. A single line longer than limit is hard-split.
func SplitLines(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLen
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var (
		out   []string
		cur   strings.Builder
		count int
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
			count = 0
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if count+n > limit {
			flush()
		}
		for n > limit {
			cut := runeOffset(line, limit)
			out = append(out, line[:cut])
			line = line[cut:]
			n = utf8.RuneCountInString(line)
		}
		cur.WriteString(line)
		count += n
	}
	flush()
	return out
}

// runeOffset returns the byte index just past the first n runes of s.
func runeOffset(s string, n int) int {
	i := 0
	for n > 0 && i < len(s) {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		n--
	}
	return i
}
