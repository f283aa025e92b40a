package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandlens/visibility-bot/internal/config"
	"github.com/brandlens/visibility-bot/internal/models"
)

const rankedAnswer = `[
  {"title": "Notion", "url": "https://www.notion.so", "snippet": "All-in-one workspace"},
  {"title": "Acme Docs", "url": "https://acme.io/docs", "snippet": "Team wiki"}
]`

var testRequest = PromptRequest{
	PromptID:  "p-1",
	Content:   "Best team wiki tools?",
	Region:    "EU",
	TopicName: "Acme",
}

func TestOpenAIProvider_Invoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": rankedAnswer},
			}},
			"usage": map[string]interface{}{"prompt_tokens": 12, "completion_tokens": 34, "total_tokens": 46},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider("sk-test", "gpt-4o-mini", server.URL+"/")
	resp := p.Invoke(context.Background(), testRequest)

	require.True(t, resp.Succeeded(), resp.Error)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, rankedAnswer, resp.Response)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "Notion", resp.Results[0].Title)
	assert.Equal(t, "Acme", resp.Metadata["topic"])
	assert.Equal(t, "gpt-4o-mini", resp.Metadata["model"])
}

func TestOpenAIProvider_InvokeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("sk-bad", "gpt-4o-mini", server.URL+"/")
	resp := p.Invoke(context.Background(), testRequest)

	assert.False(t, resp.Succeeded())
	assert.Equal(t, "openai", resp.Provider)
	assert.Empty(t, resp.Response)
	assert.Empty(t, resp.Metadata)
	assert.NotNil(t, resp.Metadata)
}

func TestAnthropicProvider_Invoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		assert.Equal(t, "sk-ant", r.Header.Get("X-Api-Key"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-haiku-4-5-20251001",
			"content":     []map[string]interface{}{{"type": "text", "text": "1. **Acme** - https://acme.io great fit"}},
			"stop_reason": "end_turn",
			"usage":       map[string]interface{}{"input_tokens": 5, "output_tokens": 9},
		})
	}))
	defer server.Close()

	p := NewAnthropicProvider("sk-ant", "", server.URL+"/")
	resp := p.Invoke(context.Background(), testRequest)

	require.True(t, resp.Succeeded(), resp.Error)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, models.SearchResult{Title: "Acme", URL: "https://acme.io", Snippet: "great fit"}, resp.Results[0])
	assert.Equal(t, "end_turn", resp.Metadata["stop_reason"])
}

func TestAnthropicProvider_InvokeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad request"}}`))
	}))
	defer server.Close()

	p := NewAnthropicProvider("sk-ant", "", server.URL+"/")
	resp := p.Invoke(context.Background(), testRequest)

	assert.False(t, resp.Succeeded())
	assert.Equal(t, "anthropic", resp.Provider)
}

func TestPerplexityProvider_Invoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer pplx", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "px-1",
			"model": "sonar",
			"choices": [{"message": {"role": "assistant", "content": "Acme and Notion are popular choices."}, "finish_reason": "stop"}],
			"citations": ["https://acme.io", "https://notion.so"],
			"search_results": [
				{"title": "Acme wiki", "url": "https://acme.io", "snippet": "Docs for teams"},
				{"title": "Notion", "url": "https://notion.so"}
			]
		}`))
	}))
	defer server.Close()

	p := NewPerplexityProvider("pplx", "", server.URL)
	resp := p.Invoke(context.Background(), testRequest)

	require.True(t, resp.Succeeded(), resp.Error)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "Acme wiki", resp.Results[0].Title)
	assert.Equal(t, "https://notion.so", resp.Results[1].URL)
}

func TestPerplexityProvider_CitationsFallback(t *testing.T) {
	out := perplexityResponse{Citations: []string{"https://www.acme.io/pricing", "https://www.acme.io/pricing"}}
	items := perplexityResults(out, "plain answer")

	require.Len(t, items, 1)
	assert.Equal(t, "acme.io", items[0].Title)
}

func TestPerplexityProvider_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewPerplexityProvider("pplx", "", server.URL)
	resp := p.Invoke(context.Background(), testRequest)

	assert.False(t, resp.Succeeded())
	assert.Contains(t, resp.Error, "429")
}

func TestSafeInvoke(t *testing.T) {
	t.Run("Recovers panic", func(t *testing.T) {
		resp := safeInvoke(context.Background(), "flaky", testRequest, func(ctx context.Context) (*completion, error) {
			panic("nil map")
		})
		assert.False(t, resp.Succeeded())
		assert.Contains(t, resp.Error, "nil map")
		assert.Equal(t, "flaky", resp.Provider)
	})

	t.Run("Empty answer is a failure", func(t *testing.T) {
		resp := safeInvoke(context.Background(), "quiet", testRequest, func(ctx context.Context) (*completion, error) {
			return &completion{}, nil
		})
		assert.False(t, resp.Succeeded())
	})

	t.Run("Deadline is reported", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()
		resp := safeInvoke(ctx, "slow", testRequest, func(ctx context.Context) (*completion, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		assert.False(t, resp.Succeeded())
		assert.Contains(t, resp.Error, "deadline exceeded")
	})
}

func TestParseResults(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []models.SearchResult
	}{
		{
			name:     "JSON array",
			text:     `[{"title":"A","url":"https://a.com","snippet":"x"}]`,
			expected: []models.SearchResult{{Title: "A", URL: "https://a.com", Snippet: "x"}},
		},
		{
			name:     "Results object in code fence",
			text:     "Here you go:\n```json\n{\"results\":[{\"title\":\"B\",\"url\":\"https://b.com\"}]}\n```",
			expected: []models.SearchResult{{Title: "B", URL: "https://b.com"}},
		},
		{
			name: "Markdown list with links",
			text: "1. [Acme](https://acme.io) - simple docs\n2. **Notion**: https://notion.so all-in-one\n3. Plain line",
			expected: []models.SearchResult{
				{Title: "Acme", URL: "https://acme.io", Snippet: "simple docs"},
				{Title: "Notion", URL: "https://notion.so", Snippet: "all-in-one"},
			},
		},
		{
			name:     "Duplicate URLs collapse",
			text:     "- https://acme.io\n- see https://acme.io",
			expected: []models.SearchResult{{Title: "acme.io", URL: "https://acme.io"}},
		},
		{
			name:     "Free text only",
			text:     "I would recommend trying a few wiki tools.",
			expected: nil,
		},
		{
			name:     "Empty",
			text:     "   ",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseResults(tt.text))
		})
	}
}

func TestBuildMessages(t *testing.T) {
	system, user := BuildMessages(testRequest)
	assert.Contains(t, system, "JSON array")
	assert.Contains(t, user, "Best team wiki tools?")
	assert.Contains(t, user, "region: EU")

	_, user = BuildMessages(PromptRequest{Content: "  q  "})
	assert.Equal(t, "q", user)
}

func TestNewFromConfig(t *testing.T) {
	cfg := &config.Config{
		OpenAIAPIKey:     "sk",
		GeminiAPIKey:     "g",
		PerplexityAPIKey: "p",
		EnabledProviders: []string{"openai", "perplexity"},
	}

	var names []string
	for _, p := range NewFromConfig(cfg) {
		names = append(names, p.GetName())
	}
	assert.Equal(t, []string{"openai", "perplexity"}, names)
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme CRM", "Acme CRM"},
		{"<b>Acme</b> CRM for <em>small</em> teams", "Acme CRM for small teams"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"AT&T business", "AT&T business"},
		{"<script>x()</script>Visible", "Visible"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, plainText(tt.in), tt.in)
	}

	items := ParseResults(`[{"title":"<b>Acme</b>","url":"https://acme.com","snippet":"Plans &amp; pricing"}]`)
	require.Len(t, items, 1)
	assert.Equal(t, "Acme", items[0].Title)
	assert.Equal(t, "Plans & pricing", items[0].Snippet)
}
