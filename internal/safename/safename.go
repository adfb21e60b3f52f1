// Package safename is the one place caller-supplied file names are made safe
// to join onto a storage directory. Upload staging, clip naming and download
// lookup all go through it.
package safename

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxLen is the byte budget of a cleaned name.
	MaxLen = 200

	// PrefixLen is the length of the "<uuid>_" token put in front of stored
	// names. MaxLen+PrefixLen plus a ".part" suffix stays under NAME_MAX (255).
	PrefixLen = 37

	// MaxIDLen bounds a stored name: a prefix followed by a cleaned name.
	MaxIDLen = MaxLen + PrefixLen
)

// Clean reduces s to a single path element built only from letters, digits
// and " -_.,()". Directory components are dropped, control characters removed
// and other runes replaced with '_'. The result never starts or ends with a
// dot or space and is never "." or "..". It may be empty.
func Clean(s string) string {
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	return Truncate(sanitize(s), MaxLen)
}

// Truncate cuts s to at most n bytes on a rune boundary and trims trailing
// dots and spaces left at the cut.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], " .")
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	return strings.Trim(b.String(), " .")
}

// Valid reports whether name is a single cleaned path element no longer than
// MaxIDLen bytes. Lookups by staging id or artifact name use it to refuse
// anything that could address a file outside their directory.
func Valid(name string) bool {
	return name != "" && len(name) <= MaxIDLen && sanitize(name) == name
}

// WithExt returns name with ext appended unless it already ends in it,
// compared case-insensitively. ext includes the leading dot.
func WithExt(name, ext string) string {
	if strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
		return name
	}
	return name + ext
}

func isAllowedRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}
