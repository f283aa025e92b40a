package models

import (
	"fmt"
	"time"
)

// PromptStatus is the lifecycle state of a tracked prompt
type PromptStatus string

const (
	PromptPending    PromptStatus = "pending"
	PromptProcessing PromptStatus = "processing"
	PromptCompleted  PromptStatus = "completed"
	PromptFailed     PromptStatus = "failed"
	PromptCancelled  PromptStatus = "cancelled"
)

// IsTerminal reports whether no further processing pass is expected
func (s PromptStatus) IsTerminal() bool {
	return s == PromptCompleted || s == PromptFailed || s == PromptCancelled
}

// Prompt is a tracked natural-language query bound to a topic
type Prompt struct {
	ID              string       `json:"id"`
	UserID          string       `json:"user_id"`
	TopicID         string       `json:"topic_id"`
	Content         string       `json:"content"`
	Region          string       `json:"region"`
	Status          PromptStatus `json:"status"`
	VisibilityScore *float64     `json:"visibility_score,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Topic is the brand under analysis
type Topic struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Logo        string    `json:"logo"`
	Description string    `json:"description"`
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// SearchResult is one ranked item returned by a provider
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// ProviderResponse is the normalized outcome of a single provider invocation.
// A non-empty Error marks a failed call; Response and Metadata are then empty.
type ProviderResponse struct {
	Provider string                 `json:"provider"`
	Response string                 `json:"response"`
	Results  []SearchResult         `json:"results,omitempty"`
	Metadata map[string]interface{} `json:"metadata"`
	Error    string                 `json:"error,omitempty"`
}

// Succeeded reports whether the provider returned a usable answer
func (r ProviderResponse) Succeeded() bool {
	return r.Error == ""
}

// ResultStatus is the status of a persisted provider result
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
)

// ProviderResult is the persisted outcome of one prompt against one provider
type ProviderResult struct {
	ID           string                 `json:"id"`
	PromptID     string                 `json:"prompt_id"`
	Provider     string                 `json:"provider"`
	Response     string                 `json:"response"`
	Results      []SearchResult         `json:"results"`
	Metadata     map[string]interface{} `json:"metadata"`
	Status       ResultStatus           `json:"status"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	CompletedAt  time.Time              `json:"completed_at"`
}

// HasBody reports whether the result carries anything an extractor can read
func (r ProviderResult) HasBody() bool {
	return r.Response != "" || len(r.Results) > 0
}

// ScopedResult is a completed provider result joined with its prompt and topic
type ScopedResult struct {
	Result        ProviderResult `json:"result"`
	PromptContent string         `json:"prompt_content"`
	TopicID       string         `json:"topic_id"`
	TopicName     string         `json:"topic_name"`
}

// MentionType classifies how the brand is referenced
type MentionType string

const (
	MentionDirect      MentionType = "direct"
	MentionIndirect    MentionType = "indirect"
	MentionCompetitive MentionType = "competitive"
)

// Sentiment of a mention
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Mention is a brand or competitor reference extracted from a provider result
type Mention struct {
	ID             string      `json:"id"`
	PromptID       string      `json:"prompt_id"`
	TopicID        string      `json:"topic_id"`
	PromptResultID string      `json:"prompt_result_id"`
	Provider       string      `json:"provider"`
	Type           MentionType `json:"mention_type"`
	Position       int         `json:"position"`
	Context        string      `json:"context"`
	Sentiment      Sentiment   `json:"sentiment"`
	Confidence     float64     `json:"confidence"`
	ExtractedText  string      `json:"extracted_text"`
	CompetitorName string      `json:"competitor_name,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Scope is the unit of one extraction run: all prompts of a user, optionally one topic
type Scope struct {
	UserID  string `json:"user_id"`
	TopicID string `json:"topic_id,omitempty"`
}

// Key identifies the scope for leasing
func (s Scope) Key() string {
	if s.TopicID == "" {
		return fmt.Sprintf("user:%s", s.UserID)
	}
	return fmt.Sprintf("user:%s/topic:%s", s.UserID, s.TopicID)
}

// ExtractionRunResult is returned to the extraction trigger
type ExtractionRunResult struct {
	Success       bool     `json:"success"`
	Processed     int      `json:"processed"`
	MentionsFound int      `json:"mentionsFound"`
	Errors        []string `json:"errors,omitempty"`
}

// CompetitorStat aggregates one competitor across results or mentions
type CompetitorStat struct {
	Name        string   `json:"name"`
	Domain      string   `json:"domain,omitempty"`
	Mentions    int      `json:"mentions"`
	Sentiment   float64  `json:"sentiment"`
	Providers   []string `json:"providers"`
	AvgPosition float64  `json:"avg_position"`
}

// CompetitiveReport summarizes brand share against competitors
type CompetitiveReport struct {
	Brand              string           `json:"brand"`
	OwnMentions        int              `json:"own_mentions"`
	CompetitorMentions int              `json:"competitor_mentions"`
	MarketShare        float64          `json:"market_share"`
	CompetitorGap      float64          `json:"competitor_gap"`
	Competitors        []CompetitorStat `json:"competitors"`
}

// Report represents a periodic visibility report for one topic
type Report struct {
	GeneratedAt       time.Time              `json:"generated_at"`
	Period            string                 `json:"period"` // "daily" or "weekly"
	TopicID           string                 `json:"topic_id"`
	TopicName         string                 `json:"topic_name"`
	AverageVisibility float64                `json:"average_visibility"`
	TotalMentions     int                    `json:"total_mentions"`
	Competitive       *CompetitiveReport     `json:"competitive"`
	Summary           map[string]interface{} `json:"summary"`
}

// Alert represents an urgent notification
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "critical", "urgent", "info"
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Scope     *Scope    `json:"scope,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
