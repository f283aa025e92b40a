package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brandlens/visibility-bot/internal/models"
	"github.com/sirupsen/logrus"
)

var errEmptyResponse = errors.New("provider returned an empty response")

// completion is what an adapter extracts from its backend before normalization
type completion struct {
	Text     string
	Model    string
	Results  []models.SearchResult
	Metadata map[string]interface{}
}

// safeInvoke runs one backend call and folds every failure mode, panics
// included, into a failed ProviderResponse.
func safeInvoke(ctx context.Context, provider string, req PromptRequest, call func(ctx context.Context) (*completion, error)) (resp models.ProviderResponse) {
	start := time.Now()
	log := logrus.WithFields(logrus.Fields{"provider": provider, "prompt_id": req.PromptID})

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Provider panicked: %v", r)
			resp = Failed(provider, fmt.Errorf("provider panic: %v", r))
		}
	}()

	c, err := call(ctx)
	if err == nil && (c == nil || (c.Text == "" && len(c.Results) == 0)) {
		err = errEmptyResponse
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		log.Warnf("Provider call failed after %v: %v", time.Since(start), err)
		return Failed(provider, err)
	}

	results := c.Results
	if len(results) == 0 {
		results = ParseResults(c.Text)
	}

	metadata := c.Metadata
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	metadata["duration_ms"] = time.Since(start).Milliseconds()
	metadata["result_count"] = len(results)
	if c.Model != "" {
		metadata["model"] = c.Model
	}
	if req.TopicName != "" {
		metadata["topic"] = req.TopicName
	}

	log.Debugf("Provider returned %d results in %v", len(results), time.Since(start))

	return models.ProviderResponse{
		Provider: provider,
		Response: c.Text,
		Results:  results,
		Metadata: metadata,
	}
}

// Failed builds the failure shape of a provider response
func Failed(provider string, err error) models.ProviderResponse {
	return models.ProviderResponse{
		Provider: provider,
		Response: "",
		Metadata: map[string]interface{}{},
		Error:    err.Error(),
	}
}
