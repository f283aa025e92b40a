package providers

import (
	"context"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rotisserie/eris"

	"github.com/brandlens/visibility-bot/internal/models"
)

// OpenAIProvider queries OpenAI chat completions
type OpenAIProvider struct {
	apiKey string
	model  string
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider. baseURL may be empty.
func NewOpenAIProvider(apiKey, model, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(2 * time.Minute),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}

	return &OpenAIProvider{
		apiKey: apiKey,
		model:  model,
		client: openai.NewClient(opts...),
	}
}

func (p *OpenAIProvider) GetName() string {
	return "openai"
}

func (p *OpenAIProvider) IsEnabled() bool {
	return p.apiKey != ""
}

func (p *OpenAIProvider) Invoke(ctx context.Context, req PromptRequest) models.ProviderResponse {
	return safeInvoke(ctx, p.GetName(), req, func(ctx context.Context) (*completion, error) {
		system, user := BuildMessages(req)

		resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(p.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(user),
			},
			Temperature: openai.Float(0.2),
		})
		if err != nil {
			return nil, eris.Wrap(err, "openai: chat completion")
		}
		if len(resp.Choices) == 0 {
			return nil, eris.New("openai: no choices returned")
		}

		return &completion{
			Text:  resp.Choices[0].Message.Content,
			Model: resp.Model,
			Metadata: map[string]interface{}{
				"id":                resp.ID,
				"finish_reason":     resp.Choices[0].FinishReason,
				"prompt_tokens":     resp.Usage.PromptTokens,
				"completion_tokens": resp.Usage.CompletionTokens,
			},
		}, nil
	})
}
