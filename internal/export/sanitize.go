package export

import (
	"strings"
	"unicode"
)

const placeholder = '_'

// Characters that are unsafe in file or directory names on at least one
// supported platform.
const unsafeRunes = `<>:"/\|?*`

// Sanitize maps an arbitrary page slug or site name onto a filesystem-safe
// path element. The rule is total and deterministic: every unsafe, space or
// control rune becomes an underscore, leading and trailing dots and
// underscores are trimmed, and an empty result collapses to "_". Distinct
// inputs may sanitize to the same output; the export layout accepts that as
// an intentional collision.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	for _, r := range name {
		if strings.ContainsRune(unsafeRunes, r) || unicode.IsSpace(r) || unicode.IsControl(r) {
			b.WriteRune(placeholder)
			continue
		}
		b.WriteRune(r)
	}

	out := strings.Trim(b.String(), "._")
	if out == "" {
		return string(placeholder)
	}
	return out
}
