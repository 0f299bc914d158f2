package media

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugLen = 80

// Slugify turns a video title or file name into a directory-safe name.
// Accents are folded, runs of unsafe characters become one underscore, and an
// empty result falls back to "video".
func Slugify(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore && b.Len() > 0:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	slug := strings.Trim(b.String(), "_.-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(truncateRunes(slug, maxSlugLen), "_.-")
	}
	if slug == "" {
		return "video"
	}
	return slug
}

func truncateRunes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := 0
	for i := range s {
		if i > maxBytes {
			break
		}
		cut = i
	}
	return s[:cut]
}
