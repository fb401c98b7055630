// Package discovery finds companies with active remote-friendly boards on a
// provider by probing candidate slugs derived from company names.
package discovery

import (
	"strings"
	"unicode"
)

// Candidate is one slug to probe together with the name it came from.
type Candidate struct {
	Name string
	Slug string
}

// CandidateSlugs expands each company name into the slug spellings providers
// commonly use: hyphenated ("acme-labs"), concatenated ("acmelabs") and the
// verbatim lowercased name when it is already URL-safe. Slugs present in
// known, or produced twice, are skipped. Output order follows names.
func CandidateSlugs(names []string, known map[string]bool) []Candidate {
	seen := make(map[string]bool)
	var out []Candidate
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		for _, slug := range slugVariants(name) {
			if slug == "" || seen[slug] || known[slug] {
				continue
			}
			seen[slug] = true
			out = append(out, Candidate{Name: name, Slug: slug})
		}
	}
	return out
}

func slugVariants(name string) []string {
	words := slugWords(name)
	if len(words) == 0 {
		return nil
	}
	variants := []string{
		strings.Join(words, "-"),
		strings.Join(words, ""),
	}
	if v := strings.ToLower(name); urlSafe(v) {
		variants = append(variants, v)
	}
	return variants
}

// slugWords lowercases name and splits it on anything that is not a letter
// or digit. Apostrophes are dropped without splitting so "Bob's" becomes
// "bobs".
func slugWords(name string) []string {
	name = strings.NewReplacer("'", "", "’", "", "&", " and ").Replace(strings.ToLower(name))
	return strings.FieldsFunc(name, func(r rune) bool {
		return !(r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)))
	})
}

func urlSafe(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
