package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/brandlens/visibility-bot/internal/models"
)

// PerplexityProvider queries the Perplexity chat completions API, which
// returns the web sources it used alongside the answer.
type PerplexityProvider struct {
	apiKey string
	model  string
	client *resty.Client
}

type perplexityRequest struct {
	Model    string              `json:"model"`
	Messages []perplexityMessage `json:"messages"`
}

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type perplexityResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      perplexityMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
	Citations     []string `json:"citations"`
	SearchResults []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Date    string `json:"date"`
		Snippet string `json:"snippet"`
	} `json:"search_results"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewPerplexityProvider creates a new Perplexity provider
func NewPerplexityProvider(apiKey, model, baseURL string) *PerplexityProvider {
	if baseURL == "" {
		baseURL = "https://api.perplexity.ai"
	}
	if model == "" {
		model = "sonar"
	}
	return &PerplexityProvider{
		apiKey: apiKey,
		model:  model,
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(2 * time.Minute),
	}
}

func (p *PerplexityProvider) GetName() string {
	return "perplexity"
}

func (p *PerplexityProvider) IsEnabled() bool {
	return p.apiKey != ""
}

func (p *PerplexityProvider) Invoke(ctx context.Context, req PromptRequest) models.ProviderResponse {
	return safeInvoke(ctx, p.GetName(), req, func(ctx context.Context) (*completion, error) {
		system, user := BuildMessages(req)

		resp, err := p.client.R().
			SetContext(ctx).
			SetAuthToken(p.apiKey).
			SetHeader("Content-Type", "application/json").
			SetBody(perplexityRequest{
				Model: p.model,
				Messages: []perplexityMessage{
					{Role: "system", Content: system},
					{Role: "user", Content: user},
				},
			}).
			Post("/chat/completions")
		if err != nil {
			return nil, fmt.Errorf("perplexity request failed: %w", err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("perplexity API returned status %d: %s", resp.StatusCode(), resp.String())
		}

		var out perplexityResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return nil, fmt.Errorf("failed to decode perplexity response: %w", err)
		}
		if len(out.Choices) == 0 {
			return nil, fmt.Errorf("perplexity returned no choices")
		}

		text := out.Choices[0].Message.Content
		return &completion{
			Text:    text,
			Model:   out.Model,
			Results: perplexityResults(out, text),
			Metadata: map[string]interface{}{
				"id":                out.ID,
				"finish_reason":     out.Choices[0].FinishReason,
				"citations":         out.Citations,
				"prompt_tokens":     out.Usage.PromptTokens,
				"completion_tokens": out.Usage.CompletionTokens,
			},
		}, nil
	})
}

// perplexityResults prefers items parsed from the answer, then the search
// results, then bare citations.
func perplexityResults(out perplexityResponse, text string) []models.SearchResult {
	if items := ParseResults(text); len(items) > 0 {
		return items
	}

	var items []models.SearchResult
	for _, sr := range out.SearchResults {
		items = append(items, models.SearchResult{Title: sr.Title, URL: sr.URL, Snippet: sr.Snippet})
	}
	if len(items) == 0 {
		for _, c := range out.Citations {
			items = append(items, models.SearchResult{Title: hostOf(c), URL: c})
		}
	}
	return normalize(items)
}
