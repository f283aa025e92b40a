package providers

import (
	"context"

	"github.com/brandlens/visibility-bot/internal/models"
)

// PromptRequest is the input shared by every provider
type PromptRequest struct {
	PromptID  string
	Content   string
	Region    string
	TopicName string
}

// Provider is a uniform adapter over one generative backend. Invoke never
// panics and never returns an error: failures come back as a response with
// Error set.
type Provider interface {
	GetName() string
	IsEnabled() bool
	Invoke(ctx context.Context, req PromptRequest) models.ProviderResponse
}
