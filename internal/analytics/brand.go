package analytics

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/brandlens/visibility-bot/internal/models"
)

// brandMatcher finds a brand name in text, item titles and URLs. A side of the
// brand that ends in a letter or digit must not touch another letter or digit;
// a side ending in punctuation (C++, .NET, Yahoo!) needs no boundary.
type brandMatcher struct {
	pattern   *regexp.Regexp
	wordLeft  bool
	wordRight bool
	slug      string
}

func newBrandMatcher(brand string) *brandMatcher {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		return &brandMatcher{}
	}
	first, _ := utf8.DecodeRuneInString(brand)
	last, _ := utf8.DecodeLastRuneInString(brand)
	return &brandMatcher{
		pattern:   regexp.MustCompile(`(?i)` + regexp.QuoteMeta(brand)),
		wordLeft:  isWordRune(first),
		wordRight: isWordRune(last),
		slug:      slugify(brand),
	}
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// matches returns the [start,end) byte ranges of every bounded occurrence
func (b *brandMatcher) matches(text string) [][]int {
	if b.pattern == nil {
		return nil
	}
	var out [][]int
	for _, loc := range b.pattern.FindAllStringIndex(text, -1) {
		if b.wordLeft && loc[0] > 0 {
			if r, _ := utf8.DecodeLastRuneInString(text[:loc[0]]); isWordRune(r) {
				continue
			}
		}
		if b.wordRight && loc[1] < len(text) {
			if r, _ := utf8.DecodeRuneInString(text[loc[1]:]); isWordRune(r) {
				continue
			}
		}
		out = append(out, loc)
	}
	return out
}

func (b *brandMatcher) inText(text string) bool {
	return len(b.matches(text)) > 0
}

// offset returns the byte offset of the first brand occurrence, or -1
func (b *brandMatcher) offset(text string) int {
	m := b.matches(text)
	if len(m) == 0 {
		return -1
	}
	return m[0][0]
}

func (b *brandMatcher) count(text string) int {
	return len(b.matches(text))
}

func (b *brandMatcher) inItem(item models.SearchResult) bool {
	if b.pattern == nil {
		return false
	}
	if b.inText(item.Title) || b.inText(item.Snippet) {
		return true
	}
	if b.slug == "" || item.URL == "" {
		return false
	}
	u, err := url.Parse(item.URL)
	if err != nil {
		return false
	}
	return strings.Contains(slugify(u.Hostname()), b.slug)
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
