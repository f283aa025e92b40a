package providers

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/brandlens/visibility-bot/internal/models"
)

const anthropicMaxTokens = 2048

// AnthropicProvider queries the Anthropic messages API
type AnthropicProvider struct {
	apiKey string
	model  string
	client sdk.Client
}

// NewAnthropicProvider creates a new Anthropic provider. baseURL may be empty.
func NewAnthropicProvider(apiKey, model, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "claude-haiku-4-5-20251001"
	}

	return &AnthropicProvider{
		apiKey: apiKey,
		model:  model,
		client: sdk.NewClient(opts...),
	}
}

func (p *AnthropicProvider) GetName() string {
	return "anthropic"
}

func (p *AnthropicProvider) IsEnabled() bool {
	return p.apiKey != ""
}

func (p *AnthropicProvider) Invoke(ctx context.Context, req PromptRequest) models.ProviderResponse {
	return safeInvoke(ctx, p.GetName(), req, func(ctx context.Context) (*completion, error) {
		system, user := BuildMessages(req)

		msg, err := p.client.Messages.New(ctx, sdk.MessageNewParams{
			Model:     sdk.Model(p.model),
			MaxTokens: anthropicMaxTokens,
			System:    []sdk.TextBlockParam{{Text: system}},
			Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(user))},
		})
		if err != nil {
			return nil, eris.Wrap(err, "anthropic: create message")
		}

		var text strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}

		return &completion{
			Text:  text.String(),
			Model: string(msg.Model),
			Metadata: map[string]interface{}{
				"id":            msg.ID,
				"stop_reason":   string(msg.StopReason),
				"input_tokens":  msg.Usage.InputTokens,
				"output_tokens": msg.Usage.OutputTokens,
			},
		}, nil
	})
}
