package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/brandlens/visibility-bot/internal/models"
)

const revalidateSecretHeader = "X-Revalidate-Secret"

// WebhookInvalidator posts the changed scope to a dashboard revalidation hook
type WebhookInvalidator struct {
	url    string
	secret string
	client *resty.Client
}

var _ Invalidator = (*WebhookInvalidator)(nil)

type invalidateRequest struct {
	UserID  string   `json:"userId"`
	TopicID string   `json:"topicId,omitempty"`
	Tags    []string `json:"tags"`
}

// NewWebhookInvalidator creates an invalidator for url
func NewWebhookInvalidator(url, secret string) *WebhookInvalidator {
	return &WebhookInvalidator{
		url:    url,
		secret: secret,
		client: resty.New().SetTimeout(10 * time.Second),
	}
}

func (w *WebhookInvalidator) Invalidate(ctx context.Context, scope models.Scope) error {
	body := invalidateRequest{
		UserID:  scope.UserID,
		TopicID: scope.TopicID,
		Tags:    []string{"mentions:" + scope.Key(), "visibility:" + scope.Key()},
	}

	req := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if w.secret != "" {
		req.SetHeader(revalidateSecretHeader, w.secret)
	}

	resp, err := req.Post(w.url)
	if err != nil {
		return fmt.Errorf("failed to call revalidation hook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("revalidation hook returned status %d: %s", resp.StatusCode(), resp.String())
	}

	logrus.WithField("scope", scope.Key()).Debug("Invalidated dashboard cache")
	return nil
}

// NoopInvalidator is used when no revalidation hook is configured
type NoopInvalidator struct{}

func (NoopInvalidator) Invalidate(context.Context, models.Scope) error { return nil }

// NewInvalidator returns a webhook invalidator when url is set
func NewInvalidator(url, secret string) Invalidator {
	if url == "" {
		return NoopInvalidator{}
	}
	return NewWebhookInvalidator(url, secret)
}
