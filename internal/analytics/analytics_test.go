package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandlens/visibility-bot/internal/models"
)

func completed(provider string, items ...models.SearchResult) models.ProviderResult {
	return models.ProviderResult{Provider: provider, Status: models.ResultCompleted, Results: items}
}

func item(title, url string) models.SearchResult {
	return models.SearchResult{Title: title, URL: url}
}

func TestVisibilityScore(t *testing.T) {
	tests := []struct {
		name     string
		results  []models.ProviderResult
		expected float64
	}{
		{
			name:     "No results",
			expected: 0,
		},
		{
			name: "Brand ranked first of four",
			results: []models.ProviderResult{
				completed("openai",
					item("Acme Docs", "https://acme.io"),
					item("Notion", "https://notion.so"),
					item("Confluence", "https://atlassian.com"),
					item("Slab", "https://slab.com"),
				),
			},
			// 0.7*100 + 0.3*25
			expected: 77.5,
		},
		{
			name: "Brand found through domain only",
			results: []models.ProviderResult{
				completed("openai",
					item("Notion", "https://notion.so"),
					item("Team wiki", "https://www.acme.io/wiki"),
				),
			},
			// 0.7*50 + 0.3*50
			expected: 50,
		},
		{
			name: "Averaged with a result that misses the brand",
			results: []models.ProviderResult{
				completed("openai", item("Acme", "https://acme.io")),
				completed("gemini", item("Notion", "https://notion.so")),
			},
			expected: 50,
		},
		{
			name: "Failed results are ignored",
			results: []models.ProviderResult{
				completed("openai", item("Acme", "https://acme.io")),
				{Provider: "anthropic", Status: models.ResultFailed, ErrorMessage: "timeout"},
			},
			expected: 100,
		},
		{
			name: "Free text at the start",
			results: []models.ProviderResult{
				{Provider: "anthropic", Status: models.ResultCompleted, Response: "Acme is a solid choice for small teams."},
			},
			// 0.7*100 + 0.3*(1/3*100)
			expected: 80,
		},
		{
			name: "Substring does not count",
			results: []models.ProviderResult{
				{Provider: "anthropic", Status: models.ResultCompleted, Response: "Acmeville hosts a conference."},
			},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := VisibilityScore(tt.results, "Acme")
			assert.InDelta(t, tt.expected, score, 0.05)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 100.0)
		})
	}
}

func TestVisibilityScore_Idempotent(t *testing.T) {
	results := []models.ProviderResult{
		completed("openai", item("Notion", "https://notion.so"), item("Acme", "https://acme.io")),
	}
	assert.Equal(t, VisibilityScore(results, "Acme"), VisibilityScore(results, "Acme"))
}

func TestVisibilityScore_PunctuatedBrands(t *testing.T) {
	tests := []struct {
		brand    string
		response string
		expected float64
	}{
		{"Acme", "Acme is the best choice today.", 80},
		{"C++", "C++ is the best choice today.", 80},
		{".NET", ".NET is the best choice today.", 80},
		{"Yahoo!", "Yahoo! is the best choice today.", 80},
		{"yahoo!", "YAHOO! is the best choice today.", 80},
		{"C++", "Modern C++17 is the best choice today.", 0.7*100*(1-7.0/38) + 10},
		{"C++", "CC++ is not a language.", 0},
		{"Acme", "AcmeCorp is the best choice today.", 0},
	}

	for _, tt := range tests {
		t.Run(tt.brand+" in "+tt.response, func(t *testing.T) {
			results := []models.ProviderResult{
				{Provider: "anthropic", Status: models.ResultCompleted, Response: tt.response},
			}
			assert.InDelta(t, tt.expected, VisibilityScore(results, tt.brand), 0.05)
		})
	}
}

func TestBrandMatcher_CountsAdjacentOccurrences(t *testing.T) {
	m := newBrandMatcher("C++")
	assert.Equal(t, 2, m.count("C++ C++"))
	assert.Equal(t, 3, newBrandMatcher("Acme").count("Acme, acme and ACME"))
	assert.Equal(t, -1, newBrandMatcher("Acme").offset("Acmes"))
	assert.Equal(t, 4, newBrandMatcher(".NET").offset("Use .NET"))
}

func TestAggregator_PunctuatedBrandIsOwnMention(t *testing.T) {
	agg := NewAggregator(nil, 5)
	results := []models.ProviderResult{
		completed("openai",
			item("C++ reference", "https://en.cppreference.com"),
			item("Rust", "https://rust-lang.org"),
		),
	}

	report := agg.AggregateResults("C++", results)
	assert.Equal(t, 1, report.OwnMentions)
	assert.Equal(t, 1, report.CompetitorMentions)
	require.Len(t, report.Competitors, 1)
}

func TestLexicalSentiment(t *testing.T) {
	s := NewLexicalSentiment()

	tests := []struct {
		name     string
		text     string
		expected float64
	}{
		{"Neutral baseline", "A documentation tool.", 50},
		{"Positive hits", "The best and most reliable, easy to use.", 65},
		{"Negative hits", "Expensive, slow and buggy.", 35},
		{"Repeated hits count", "great great great", 65},
		{"Clamped high", "best best best best best best best best best best best best", 100},
		{"Clamped low", "bad bad bad bad bad bad bad bad bad bad bad bad", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, s.Score(tt.text))
		})
	}

	assert.Equal(t, models.SentimentPositive, SentimentLabel(65))
	assert.Equal(t, models.SentimentNeutral, SentimentLabel(50))
	assert.Equal(t, models.SentimentNegative, SentimentLabel(35))
}

func TestCompetitorIdentity(t *testing.T) {
	tests := []struct {
		name     string
		item     models.SearchResult
		expected Identity
	}{
		{"Registrable domain", item("Whatever", "https://docs.notion.so/guide"), Identity{Name: "Notion", Domain: "notion.so"}},
		{"Multi-part suffix", item("", "https://www.acme-docs.co.uk"), Identity{Name: "Acme Docs", Domain: "acme-docs.co.uk"}},
		{"Publisher falls back to title", item("Slab - A wiki for teams", "https://www.reddit.com/r/x"), Identity{Name: "Slab"}},
		{"Pipe title", item("Confluence | Atlassian", ""), Identity{Name: "Confluence"}},
		{"Colon title", item("Guru: knowledge base", ""), Identity{Name: "Guru"}},
		{"Empty", item("", ""), Identity{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CompetitorIdentity(tt.item))
		})
	}
}

func TestAggregator_AggregateResults(t *testing.T) {
	agg := NewAggregator(nil, 2)

	results := []models.ProviderResult{
		completed("openai",
			item("Notion", "https://notion.so"),
			item("Acme", "https://acme.io"),
			item("Notion templates", "https://www.notion.so/templates"),
			item("Slab", "https://slab.com"),
		),
		completed("gemini",
			item("Slab", "https://slab.com"),
			item("Notion", "https://notion.so"),
		),
		completed("anthropic",
			item("Guru", "https://getguru.com"),
		),
		{Provider: "perplexity", Status: models.ResultFailed, Results: []models.SearchResult{item("Acme", "https://acme.io")}},
	}

	report := agg.AggregateResults("Acme", results)

	assert.Equal(t, 1, report.OwnMentions)
	// notion 2, slab 2, getguru 1; notion counted once in the first result
	assert.Equal(t, 5, report.CompetitorMentions)
	require.Len(t, report.Competitors, 2)
	assert.Equal(t, "Notion", report.Competitors[0].Name)
	assert.Equal(t, "Slab", report.Competitors[1].Name)
	assert.Equal(t, []string{"openai", "gemini"}, report.Competitors[0].Providers)
	assert.Equal(t, 1.5, report.Competitors[0].AvgPosition)
	assert.Equal(t, 2.5, report.Competitors[1].AvgPosition)
	assert.InDelta(t, 16.7, report.MarketShare, 0.05)
	assert.Equal(t, 50.0, report.CompetitorGap)
}

func TestAggregator_MarketShareBounds(t *testing.T) {
	agg := NewAggregator(nil, 10)

	t.Run("No competitors and no own mentions", func(t *testing.T) {
		report := agg.AggregateResults("Acme", nil)
		assert.Equal(t, 100.0, report.MarketShare)
		assert.Equal(t, 0.0, report.CompetitorGap)
		assert.Empty(t, report.Competitors)
	})

	t.Run("Only own mentions", func(t *testing.T) {
		report := agg.AggregateResults("Acme", []models.ProviderResult{completed("openai", item("Acme", "https://acme.io"))})
		assert.Equal(t, 100.0, report.MarketShare)
	})

	t.Run("Only competitors", func(t *testing.T) {
		report := agg.AggregateResults("Acme", []models.ProviderResult{completed("openai", item("Notion", "https://notion.so"))})
		assert.Equal(t, 0.0, report.MarketShare)
		assert.Equal(t, 100.0, report.CompetitorGap)
	})
}

func TestAggregator_AggregateMentions(t *testing.T) {
	agg := NewAggregator(NewLexicalSentimentWithWords([]string{"great"}, []string{"slow"}), 0)

	mentions := []models.Mention{
		{Type: models.MentionDirect, Provider: "openai", ExtractedText: "Acme"},
		{Type: models.MentionIndirect, Provider: "gemini", ExtractedText: "their wiki"},
		{Type: models.MentionCompetitive, CompetitorName: "slab", Provider: "openai", Position: 2, Context: "Slab is great"},
		{Type: models.MentionCompetitive, CompetitorName: "Notion", Provider: "openai", Position: 1, Context: "Notion is slow"},
		{Type: models.MentionCompetitive, CompetitorName: "notion", Provider: "gemini", Position: 3, Context: "Notion"},
		{Type: models.MentionCompetitive, Provider: "gemini", ExtractedText: "a competitor"},
	}

	report := agg.AggregateMentions("Acme", mentions)

	assert.Equal(t, 3, report.OwnMentions)
	assert.Equal(t, 3, report.CompetitorMentions)
	require.Len(t, report.Competitors, 2)
	assert.Equal(t, "Notion", report.Competitors[0].Name)
	assert.Equal(t, 2, report.Competitors[0].Mentions)
	assert.Equal(t, 47.5, report.Competitors[0].Sentiment)
	assert.Equal(t, 2.0, report.Competitors[0].AvgPosition)
	assert.Equal(t, "Slab", report.Competitors[1].Name)
	assert.Equal(t, 55.0, report.Competitors[1].Sentiment)
	assert.Equal(t, 50.0, report.MarketShare)
	assert.Equal(t, 0.0, report.CompetitorGap)
}

func TestAggregator_TiesKeepInsertionOrder(t *testing.T) {
	agg := NewAggregator(nil, 0)
	report := agg.AggregateResults("Acme", []models.ProviderResult{
		completed("openai",
			item("Zeta", "https://zeta.com"),
			item("Alpha", "https://alpha.com"),
			item("Mid", "https://mid.com"),
		),
	})

	require.Len(t, report.Competitors, 3)
	assert.Equal(t, "Zeta", report.Competitors[0].Name)
	assert.Equal(t, "Alpha", report.Competitors[1].Name)
	assert.Equal(t, "Mid", report.Competitors[2].Name)
}
