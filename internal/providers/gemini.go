package providers

import (
	"context"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"

	"github.com/brandlens/visibility-bot/internal/models"
)

// GeminiProvider queries Google Gemini. The client is created lazily on first
// use; a failed creation is retried on the next call.
type GeminiProvider struct {
	apiKey string
	model  string

	mu     sync.Mutex
	client *genai.Client
	dial   func(ctx context.Context) (*genai.Client, error)

	generate func(ctx context.Context, system, user string) (*genai.GenerateContentResponse, error)
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	p := &GeminiProvider{apiKey: apiKey, model: model}
	p.dial = func(ctx context.Context) (*genai.Client, error) {
		return genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	}
	p.generate = p.generateContent
	return p
}

func (p *GeminiProvider) GetName() string {
	return "gemini"
}

func (p *GeminiProvider) IsEnabled() bool {
	return p.apiKey != ""
}

func (p *GeminiProvider) Invoke(ctx context.Context, req PromptRequest) models.ProviderResponse {
	return safeInvoke(ctx, p.GetName(), req, func(ctx context.Context) (*completion, error) {
		system, user := BuildMessages(req)
		resp, err := p.generate(ctx, system, user)
		if err != nil {
			return nil, err
		}

		c := &completion{
			Text:     geminiText(resp),
			Model:    p.model,
			Metadata: map[string]interface{}{},
		}
		if resp.UsageMetadata != nil {
			c.Metadata["prompt_tokens"] = resp.UsageMetadata.PromptTokenCount
			c.Metadata["completion_tokens"] = resp.UsageMetadata.CandidatesTokenCount
		}
		if len(resp.Candidates) > 0 {
			c.Metadata["finish_reason"] = resp.Candidates[0].FinishReason.String()
		}
		return c, nil
	})
}

func (p *GeminiProvider) generateContent(ctx context.Context, system, user string) (*genai.GenerateContentResponse, error) {
	client, err := p.getClient()
	if err != nil {
		return nil, err
	}

	m := client.GenerativeModel(p.model)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(system)},
	}

	resp, err := m.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return nil, eris.Wrap(err, "gemini: generate content")
	}
	return resp, nil
}

// Close releases the underlying client
func (p *GeminiProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

func (p *GeminiProvider) getClient() (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}

	// The client outlives any single request context.
	client, err := p.dial(context.Background())
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}
	p.client = client
	return client, nil
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
