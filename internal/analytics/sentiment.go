package analytics

import (
	"strings"
	"unicode"

	"github.com/brandlens/visibility-bot/internal/models"
)

// SentimentScorer scores text on a 0 (negative) to 100 (positive) scale
type SentimentScorer interface {
	Score(text string) float64
}

const (
	sentimentBaseline = 50.0
	sentimentStep     = 5.0
)

var (
	defaultPositiveWords = []string{
		"best", "great", "excellent", "leading", "popular", "recommended", "reliable",
		"powerful", "easy", "intuitive", "trusted", "innovative", "affordable", "robust",
		"love", "top", "fast", "secure", "flexible", "helpful",
	}
	defaultNegativeWords = []string{
		"worst", "poor", "bad", "expensive", "slow", "limited", "outdated", "complex",
		"difficult", "unreliable", "buggy", "lacking", "confusing", "overpriced",
		"insecure", "clunky", "hate", "broken", "problem", "issue",
	}
)

// LexicalSentiment counts keyword hits against fixed word lists:
// baseline 50, plus or minus 5 per hit, clamped to [0,100].
type LexicalSentiment struct {
	positive map[string]bool
	negative map[string]bool
}

var _ SentimentScorer = (*LexicalSentiment)(nil)

// NewLexicalSentiment creates a scorer with the default word lists
func NewLexicalSentiment() *LexicalSentiment {
	return NewLexicalSentimentWithWords(defaultPositiveWords, defaultNegativeWords)
}

// NewLexicalSentimentWithWords creates a scorer with custom word lists
func NewLexicalSentimentWithWords(positive, negative []string) *LexicalSentiment {
	s := &LexicalSentiment{
		positive: make(map[string]bool, len(positive)),
		negative: make(map[string]bool, len(negative)),
	}
	for _, w := range positive {
		s.positive[strings.ToLower(w)] = true
	}
	for _, w := range negative {
		s.negative[strings.ToLower(w)] = true
	}
	return s
}

func (s *LexicalSentiment) Score(text string) float64 {
	score := sentimentBaseline
	for _, word := range tokenize(text) {
		switch {
		case s.positive[word]:
			score += sentimentStep
		case s.negative[word]:
			score -= sentimentStep
		}
	}
	return clamp(score, 0, 100)
}

// SentimentLabel buckets a 0-100 score
func SentimentLabel(score float64) models.Sentiment {
	switch {
	case score > 55:
		return models.SentimentPositive
	case score < 45:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
