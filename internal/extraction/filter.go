package extraction

import (
	"strings"

	"github.com/brandlens/visibility-bot/internal/models"
)

// Filter keeps candidates with confidence >= minConfidence and non-empty
// extracted text, normalizing their type and sentiment.
func Filter(candidates []Candidate, minConfidence float64) []Candidate {
	var kept []Candidate
	for _, c := range candidates {
		c.ExtractedText = strings.TrimSpace(c.ExtractedText)
		if c.ExtractedText == "" || c.Confidence < minConfidence {
			continue
		}

		c.MentionType = strings.ToLower(strings.TrimSpace(c.MentionType))
		switch models.MentionType(c.MentionType) {
		case models.MentionDirect, models.MentionIndirect, models.MentionCompetitive:
		default:
			continue
		}

		c.Sentiment = strings.ToLower(strings.TrimSpace(c.Sentiment))
		switch models.Sentiment(c.Sentiment) {
		case models.SentimentPositive, models.SentimentNegative, models.SentimentNeutral:
		default:
			c.Sentiment = string(models.SentimentNeutral)
		}

		if c.Confidence > 1 {
			c.Confidence = 1
		}
		if models.MentionType(c.MentionType) != models.MentionCompetitive {
			c.CompetitorName = ""
		}
		c.CompetitorName = strings.TrimSpace(c.CompetitorName)

		kept = append(kept, c)
	}
	return kept
}

// Partition splits items into consecutive batches of at most size
func Partition[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	var batches [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// toMention maps an accepted candidate onto the result it came from
func toMention(c Candidate, row models.ScopedResult) models.Mention {
	return models.Mention{
		PromptID:       row.Result.PromptID,
		TopicID:        row.TopicID,
		PromptResultID: row.Result.ID,
		Provider:       row.Result.Provider,
		Type:           models.MentionType(c.MentionType),
		Position:       c.Position,
		Context:        c.Context,
		Sentiment:      models.Sentiment(c.Sentiment),
		Confidence:     c.Confidence,
		ExtractedText:  c.ExtractedText,
		CompetitorName: c.CompetitorName,
	}
}
