package providers

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/brandlens/visibility-bot/internal/models"
	"mvdan.cc/xurls/v2"
)

var (
	fencePattern    = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	mdLinkPattern   = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s]+)\)`)
	listMarker      = regexp.MustCompile(`^\s*(?:[-*+•]|\d+[.)])\s*`)
	urlFinder       = xurls.Strict()
	titleSeparators = " \t-–—:|()[]*"
)

// ParseResults turns a provider's answer into ordered result items. It accepts
// a JSON array, an object with a "results" array, either inside a code fence,
// and falls back to one item per line that carries a URL. Free text without
// URLs yields no items.
func ParseResults(text string) []models.SearchResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	candidates := []string{text}
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		candidates = append([]string{strings.TrimSpace(m[1])}, candidates...)
	}
	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}

	for _, c := range candidates {
		if items := parseJSONResults(c); len(items) > 0 {
			return items
		}
	}

	return parseURLLines(text)
}

func parseJSONResults(s string) []models.SearchResult {
	var items []models.SearchResult
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		var wrapped struct {
			Results []models.SearchResult `json:"results"`
		}
		if err := json.Unmarshal([]byte(s), &wrapped); err != nil {
			return nil
		}
		items = wrapped.Results
	}
	return normalize(items)
}

func parseURLLines(text string) []models.SearchResult {
	var items []models.SearchResult
	for _, line := range strings.Split(text, "\n") {
		if item, ok := parseURLLine(line); ok {
			items = append(items, item)
		}
	}
	return normalize(items)
}

func parseURLLine(line string) (models.SearchResult, bool) {
	line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))

	if m := mdLinkPattern.FindStringSubmatchIndex(line); m != nil {
		title := strings.Trim(line[m[2]:m[3]], titleSeparators)
		link := line[m[4]:m[5]]
		rest := strings.Trim(line[:m[0]]+" "+line[m[1]:], titleSeparators)
		if before := strings.Trim(line[:m[0]], titleSeparators); before != "" {
			title = before
			rest = strings.Trim(line[m[1]:], titleSeparators)
		}
		return models.SearchResult{Title: cleanMarkdown(title), URL: link, Snippet: cleanMarkdown(rest)}, true
	}

	loc := urlFinder.FindStringIndex(line)
	if loc == nil {
		return models.SearchResult{}, false
	}
	link := strings.TrimRight(line[loc[0]:loc[1]], ".,;")
	title := cleanMarkdown(strings.Trim(line[:loc[0]], titleSeparators))
	snippet := cleanMarkdown(strings.Trim(line[loc[1]:], titleSeparators))
	if title == "" {
		title = hostOf(link)
	}
	return models.SearchResult{Title: title, URL: link, Snippet: snippet}, true
}

// normalize drops empty items and repeated URLs while keeping order
func normalize(items []models.SearchResult) []models.SearchResult {
	seen := make(map[string]bool)
	out := make([]models.SearchResult, 0, len(items))
	for _, it := range items {
		it.Title = strings.TrimSpace(plainText(it.Title))
		it.URL = strings.TrimSpace(it.URL)
		it.Snippet = strings.TrimSpace(plainText(it.Snippet))
		if it.Title == "" && it.URL == "" {
			continue
		}
		if it.URL != "" {
			if seen[it.URL] {
				continue
			}
			seen[it.URL] = true
		}
		out = append(out, it)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cleanMarkdown(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	return strings.TrimSpace(s)
}

func hostOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
