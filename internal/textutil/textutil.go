// Package textutil provides small dependency-free string helpers shared by
// the classifier and the iteration engine.
// These operate on plain prompts and generated markdown, never on I/O, so a
// third-party parsing library would be overkill for what they do.
package textutil

import "strings"

// Lines splits s into lines without the trailing newline.
func Lines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// HasAnyPrefix reports whether s starts with any of the given prefixes.
func HasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// ContainsAny reports whether s contains any of the given substrings.
func ContainsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// CountAny counts the number of needles that appear in s (each needle once).
func CountAny(s string, needles ...string) int {
	n := 0
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			n++
		}
	}
	return n
}

// Truncate cuts s to at most n runes, appending a marker if it was cut.
func Truncate(s string, n int, marker string) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + marker
}

// Builder is a minimal string accumulator used when composing prompts and
// markdown documents, mirroring the teacher's stringBuilder helper.
type Builder struct {
	sb strings.Builder
}

// WriteString appends s.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// WriteLine appends s followed by a newline.
func (b *Builder) WriteLine(s string) *Builder {
	b.sb.WriteString(s)
	b.sb.WriteByte('\n')
	return b
}

// String returns the accumulated content.
func (b *Builder) String() string {
	return b.sb.String()
}

// QuotedName extracts a name from phrases like `called "X"` or `named 'X'`.
// Returns ok=false if no quoted name is present.
func QuotedName(s string) (string, bool) {
	lower := strings.ToLower(s)
	for _, marker := range []string{"called", "named", "titled"} {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		rest := s[idx+len(marker):]
		if name, ok := firstQuoted(rest); ok {
			return name, true
		}
	}
	return firstQuoted(s)
}

func firstQuoted(s string) (string, bool) {
	for _, q := range []byte{'"', '\''} {
		start := strings.IndexByte(s, q)
		if start < 0 {
			continue
		}
		end := strings.IndexByte(s[start+1:], q)
		if end < 0 {
			continue
		}
		name := strings.TrimSpace(s[start+1 : start+1+end])
		if name != "" {
			return name, true
		}
	}
	return "", false
}

// Title capitalizes the first letter of each word in s.
func Title(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// SanitizePathComponent keeps a string safe for use as a single directory or
// file name component (no path separators, no leading dot-dot).
func SanitizePathComponent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	out := b.String()
	for strings.HasPrefix(out, ".") {
		out = out[1:]
	}
	if out == "" {
		return "untitled"
	}
	return out
}
