package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases s, strips diacritics, and collapses everything that
// is not a letter or digit into single spaces.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// speechFolds maps letter groups that speech recognition confuses in Dutch
// and English onto a shared spelling. Order matters: digraphs first.
var speechFolds = []struct{ from, to string }{
	{"ph", "f"},
	{"ck", "k"},
	{"ch", "g"},
	{"qu", "kw"},
	{"ij", "ei"},
	{"ce", "se"},
	{"ci", "si"},
	{"cy", "si"},
	{"c", "k"},
	{"v", "f"},
	{"b", "f"},
	{"w", "f"},
	{"z", "s"},
	{"y", "i"},
	{"dt", "t"},
	{"d ", "t "},
}

// PhoneticKey folds a normalized string into a coarse sound-alike key so
// that "serbela" and "cervela" compare equal.
func PhoneticKey(s string) string {
	key := Normalize(s) + " "
	for _, f := range speechFolds {
		key = strings.ReplaceAll(key, f.from, f.to)
	}
	key = strings.TrimSpace(key)

	// Collapse doubled letters ("friett" -> "friet").
	var b strings.Builder
	var prev rune
	for i, r := range key {
		if i > 0 && r == prev && r != ' ' {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}
